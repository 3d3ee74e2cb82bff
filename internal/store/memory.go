package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"bus-backend/internal/models"
)

// MemoryStore хранилище в памяти процесса. Все значения наружу
// отдаются копиями, поэтому вызывающий код не может изменить состояние
// в обход методов.
type MemoryStore struct {
	mu        sync.RWMutex
	rides     map[uint]*models.Ride
	buses     map[uint]*models.Bus
	junctions map[uint]*models.TrafficJunction
	readings  []models.JunctionReading
	chat      []models.TrafficChatMessage
	nextID    uint
	now       func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rides:     make(map[uint]*models.Ride),
		buses:     make(map[uint]*models.Bus),
		junctions: make(map[uint]*models.TrafficJunction),
		now:       time.Now,
	}
}

func (s *MemoryStore) id() uint {
	s.nextID++
	return s.nextID
}

// ---------- рейсы ----------

func (s *MemoryStore) GetRide(ctx context.Context, id uint) (*models.Ride, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ride, ok := s.rides[id]
	if !ok {
		return nil, ErrNotFound
	}
	return ride.Clone(), nil
}

func (s *MemoryStore) ListRides(ctx context.Context, f RideFilter) ([]models.Ride, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rides := make([]models.Ride, 0, len(s.rides))
	for _, r := range s.rides {
		if f.ActiveOnly && !r.Active {
			continue
		}
		if f.Kind != "" && r.Kind != f.Kind {
			continue
		}
		if f.Origin != "" && r.Origin != f.Origin {
			continue
		}
		if f.Destination != "" && r.Destination != f.Destination {
			continue
		}
		rides = append(rides, *r.Clone())
	}
	sort.Slice(rides, func(i, j int) bool { return rides[i].ID < rides[j].ID })
	return rides, nil
}

func (s *MemoryStore) CreateRide(ctx context.Context, ride *models.Ride) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var bus *models.Bus
	if ride.BusID != nil {
		var ok bool
		bus, ok = s.buses[*ride.BusID]
		if !ok {
			return ErrNotFound
		}
		if bus.ActiveRideID != nil {
			return ErrBusAssigned
		}
	}

	now := s.now()
	ride.ID = s.id()
	if ride.SeatMapVersion == 0 {
		ride.SeatMapVersion = 1
	}
	ride.CreatedAt = now
	ride.UpdatedAt = now
	s.rides[ride.ID] = ride.Clone()

	if bus != nil {
		rideID := ride.ID
		bus.ActiveRideID = &rideID
		bus.UpdatedAt = now
	}
	return nil
}

// casRide выполняет изменение рейса, только если версия карты мест совпала
func (s *MemoryStore) casRide(rideID uint, version int, mutate func(r *models.Ride) error) (*models.Ride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ride, ok := s.rides[rideID]
	if !ok {
		return nil, ErrNotFound
	}
	if ride.SeatMapVersion != version {
		return nil, ErrVersionConflict
	}

	next := ride.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}
	next.SeatMapVersion = version + 1
	next.UpdatedAt = s.now()
	s.rides[rideID] = next
	return next.Clone(), nil
}

func (s *MemoryStore) AppendSeat(ctx context.Context, rideID uint, version int, seat models.SeatAssignment, passenger models.Passenger) (*models.Ride, error) {
	return s.casRide(rideID, version, func(r *models.Ride) error {
		for _, a := range r.SeatAssignments {
			if a.SeatNumber == seat.SeatNumber || a.UserID == seat.UserID {
				return ErrDuplicate
			}
		}
		seat.ID = s.id()
		seat.RideID = rideID
		passenger.ID = s.id()
		passenger.RideID = rideID
		r.SeatAssignments = append(r.SeatAssignments, seat)
		r.Passengers = append(r.Passengers, passenger)
		return nil
	})
}

func (s *MemoryStore) AppendPassenger(ctx context.Context, rideID uint, version int, passenger models.Passenger) (*models.Ride, error) {
	return s.casRide(rideID, version, func(r *models.Ride) error {
		passenger.ID = s.id()
		passenger.RideID = rideID
		r.Passengers = append(r.Passengers, passenger)
		return nil
	})
}

func (s *MemoryStore) MarkPassengerPaid(ctx context.Context, rideID uint, version int, index int) (*models.Ride, error) {
	return s.casRide(rideID, version, func(r *models.Ride) error {
		if index < 0 || index >= len(r.Passengers) {
			return ErrNotFound
		}
		r.Passengers[index].Paid = true
		return nil
	})
}

func (s *MemoryStore) SetCapacityCounter(ctx context.Context, rideID uint, value int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ride, ok := s.rides[rideID]
	if !ok {
		return ErrNotFound
	}
	ride.CapacityCounter = value
	ride.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) SetBusLocation(ctx context.Context, rideID uint, pos VehiclePosition, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ride, ok := s.rides[rideID]
	if !ok {
		return ErrNotFound
	}
	lat, lng, ts := pos.Lat, pos.Lng, at
	ride.BusLocation = models.BusLocation{Lat: &lat, Lng: &lng, UpdatedAt: &ts}
	if pos.ETAMinutes != nil {
		eta := *pos.ETAMinutes
		ride.ETAMinutes = &eta
	}
	ride.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) EndRide(ctx context.Context, rideID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ride, ok := s.rides[rideID]
	if !ok {
		return ErrNotFound
	}
	ride.Active = false
	ride.UpdatedAt = s.now()
	if ride.BusID != nil {
		if bus, ok := s.buses[*ride.BusID]; ok && bus.ActiveRideID != nil && *bus.ActiveRideID == rideID {
			bus.ActiveRideID = nil
		}
	}
	return nil
}

// ---------- автобусы ----------

func (s *MemoryStore) GetBus(ctx context.Context, id uint) (*models.Bus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bus, ok := s.buses[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *bus
	return &cp, nil
}

func (s *MemoryStore) CreateBus(ctx context.Context, bus *models.Bus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, b := range s.buses {
		if b.Number == bus.Number {
			return ErrDuplicate
		}
	}
	now := s.now()
	bus.ID = s.id()
	bus.CreatedAt = now
	bus.UpdatedAt = now
	cp := *bus
	s.buses[bus.ID] = &cp
	return nil
}

func (s *MemoryStore) ListBuses(ctx context.Context, f BusFilter) ([]models.Bus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	buses := make([]models.Bus, 0, len(s.buses))
	for _, b := range s.buses {
		if f.AvailableOnly && b.ActiveRideID != nil {
			continue
		}
		if f.Kind != "" && b.Kind != f.Kind {
			continue
		}
		buses = append(buses, *b)
	}
	sort.Slice(buses, func(i, j int) bool { return buses[i].ID < buses[j].ID })
	return buses, nil
}

// AdoptBusQR записывает код, только если у автобуса его ещё нет.
// Возвращает код, который оказался эталонным.
func (s *MemoryStore) AdoptBusQR(ctx context.Context, busID uint, code string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bus, ok := s.buses[busID]
	if !ok {
		return "", ErrNotFound
	}
	if bus.QRValue == "" {
		bus.QRValue = code
		bus.UpdatedAt = s.now()
	}
	return bus.QRValue, nil
}

// ---------- перекрёстки ----------

func (s *MemoryStore) ListJunctions(ctx context.Context, activeOnly bool) ([]models.TrafficJunction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]models.TrafficJunction, 0, len(s.junctions))
	for _, j := range s.junctions {
		if activeOnly && !j.Active {
			continue
		}
		list = append(list, *j)
	}
	sort.Slice(list, func(i, k int) bool { return list[i].ID < list[k].ID })
	return list, nil
}

func (s *MemoryStore) GetJunction(ctx context.Context, junctionID string) (*models.TrafficJunction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, j := range s.junctions {
		if j.JunctionID == junctionID {
			cp := *j
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) CreateJunction(ctx context.Context, j *models.TrafficJunction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.junctions {
		if existing.JunctionID == j.JunctionID {
			return ErrDuplicate
		}
	}
	j.ID = s.id()
	j.CreatedAt = s.now()
	cp := *j
	s.junctions[j.ID] = &cp
	return nil
}

func (s *MemoryStore) UpdateJunction(ctx context.Context, j *models.TrafficJunction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.junctions[j.ID]; !ok {
		return ErrNotFound
	}
	cp := *j
	s.junctions[j.ID] = &cp
	return nil
}

func (s *MemoryStore) GetJunctionByID(ctx context.Context, id uint) (*models.TrafficJunction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.junctions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (s *MemoryStore) DeleteJunction(ctx context.Context, id uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.junctions[id]; !ok {
		return ErrNotFound
	}
	delete(s.junctions, id)
	return nil
}

// ---------- замеры ----------

func (s *MemoryStore) AppendReading(ctx context.Context, r *models.JunctionReading) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r.ID = s.id()
	s.readings = append(s.readings, *r)
	return nil
}

// RecentReadings последние limit замеров в хронологическом порядке
func (s *MemoryStore) RecentReadings(ctx context.Context, junctionID string, limit int) ([]models.JunctionReading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var list []models.JunctionReading
	for _, r := range s.readings {
		if r.JunctionID == junctionID {
			list = append(list, r)
		}
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].Timestamp.Before(list[j].Timestamp) })
	if len(list) > limit {
		list = list[len(list)-limit:]
	}
	return list, nil
}

// LatestReadings последний замер по каждому перекрёстку
func (s *MemoryStore) LatestReadings(ctx context.Context) ([]models.JunctionReading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	latest := make(map[string]models.JunctionReading)
	for _, r := range s.readings {
		if cur, ok := latest[r.JunctionID]; !ok || !r.Timestamp.Before(cur.Timestamp) {
			latest[r.JunctionID] = r
		}
	}
	list := make([]models.JunctionReading, 0, len(latest))
	for _, r := range latest {
		list = append(list, r)
	}
	sort.Slice(list, func(i, j int) bool { return strings.Compare(list[i].JunctionID, list[j].JunctionID) < 0 })
	return list, nil
}

// ---------- чат ----------

func (s *MemoryStore) AppendChat(ctx context.Context, m *models.TrafficChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m.ID = s.id()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
	}
	s.chat = append(s.chat, *m)
	return nil
}

func (s *MemoryStore) ListChat(ctx context.Context, junctionID string, limit int) ([]models.TrafficChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var list []models.TrafficChatMessage
	for _, m := range s.chat {
		if junctionID != "" && (m.JunctionID == nil || *m.JunctionID != junctionID) {
			continue
		}
		list = append(list, m)
	}
	if len(list) > limit {
		list = list[len(list)-limit:]
	}
	return list, nil
}
