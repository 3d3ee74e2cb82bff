package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bus-backend/internal/models"

	"gorm.io/gorm"
)

// GormStore хранилище поверх PostgreSQL
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Migrate создаёт и обновляет таблицы
func (s *GormStore) Migrate() error {
	return s.db.AutoMigrate(
		&models.Bus{},
		&models.Ride{},
		&models.SeatAssignment{},
		&models.Passenger{},
		&models.TrafficJunction{},
		&models.JunctionReading{},
		&models.TrafficChatMessage{},
	)
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrDuplicate
	}
	return err
}

// ---------- рейсы ----------

func (s *GormStore) GetRide(ctx context.Context, id uint) (*models.Ride, error) {
	var ride models.Ride
	err := s.db.WithContext(ctx).
		Preload("SeatAssignments", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		Preload("Passengers", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		First(&ride, id).Error
	if err != nil {
		return nil, translate(err)
	}
	return &ride, nil
}

func (s *GormStore) ListRides(ctx context.Context, f RideFilter) ([]models.Ride, error) {
	query := s.db.WithContext(ctx).Model(&models.Ride{})
	if f.ActiveOnly {
		query = query.Where("active = ?", true)
	}
	if f.Kind != "" {
		query = query.Where("kind = ?", f.Kind)
	}
	if f.Origin != "" {
		query = query.Where("origin = ?", f.Origin)
	}
	if f.Destination != "" {
		query = query.Where("destination = ?", f.Destination)
	}

	var rides []models.Ride
	if err := query.Order("id").Find(&rides).Error; err != nil {
		return nil, err
	}
	return rides, nil
}

func (s *GormStore) CreateRide(ctx context.Context, ride *models.Ride) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(ride).Error; err != nil {
			return translate(err)
		}
		if ride.BusID == nil {
			return nil
		}

		// Автобус может вести только один активный рейс
		res := tx.Model(&models.Bus{}).
			Where("id = ? AND active_ride_id IS NULL", *ride.BusID).
			Updates(map[string]interface{}{
				"active_ride_id": ride.ID,
				"updated_at":     time.Now(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrBusAssigned
		}
		return nil
	})
}

// bumpVersion увеличивает seat_map_version, только если он не изменился с момента чтения
func bumpVersion(tx *gorm.DB, rideID uint, version int) error {
	res := tx.Model(&models.Ride{}).
		Where("id = ? AND seat_map_version = ?", rideID, version).
		Updates(map[string]interface{}{
			"seat_map_version": gorm.Expr("seat_map_version + 1"),
			"updated_at":       time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrVersionConflict
	}
	return nil
}

func (s *GormStore) AppendSeat(ctx context.Context, rideID uint, version int, seat models.SeatAssignment, passenger models.Passenger) (*models.Ride, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := bumpVersion(tx, rideID, version); err != nil {
			return err
		}
		seat.RideID = rideID
		if err := tx.Create(&seat).Error; err != nil {
			return translate(err)
		}
		passenger.RideID = rideID
		if err := tx.Create(&passenger).Error; err != nil {
			return translate(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetRide(ctx, rideID)
}

func (s *GormStore) AppendPassenger(ctx context.Context, rideID uint, version int, passenger models.Passenger) (*models.Ride, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := bumpVersion(tx, rideID, version); err != nil {
			return err
		}
		passenger.RideID = rideID
		return translate(tx.Create(&passenger).Error)
	})
	if err != nil {
		return nil, err
	}
	return s.GetRide(ctx, rideID)
}

func (s *GormStore) MarkPassengerPaid(ctx context.Context, rideID uint, version int, index int) (*models.Ride, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var passengers []models.Passenger
		if err := tx.Where("ride_id = ?", rideID).Order("id").Find(&passengers).Error; err != nil {
			return err
		}
		if index < 0 || index >= len(passengers) {
			return ErrNotFound
		}
		if err := bumpVersion(tx, rideID, version); err != nil {
			return err
		}
		return tx.Model(&models.Passenger{}).
			Where("id = ?", passengers[index].ID).
			Update("paid", true).Error
	})
	if err != nil {
		return nil, err
	}
	return s.GetRide(ctx, rideID)
}

func (s *GormStore) SetCapacityCounter(ctx context.Context, rideID uint, value int) error {
	res := s.db.WithContext(ctx).Model(&models.Ride{}).
		Where("id = ?", rideID).
		Updates(map[string]interface{}{
			"capacity_counter": value,
			"updated_at":       time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) SetBusLocation(ctx context.Context, rideID uint, pos VehiclePosition, at time.Time) error {
	updates := map[string]interface{}{
		"bus_lat":        pos.Lat,
		"bus_lng":        pos.Lng,
		"bus_updated_at": at,
		"updated_at":     time.Now(),
	}
	if pos.ETAMinutes != nil {
		updates["eta_minutes"] = *pos.ETAMinutes
	}
	res := s.db.WithContext(ctx).Model(&models.Ride{}).Where("id = ?", rideID).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) EndRide(ctx context.Context, rideID uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Ride{}).Where("id = ?", rideID).
			Updates(map[string]interface{}{"active": false, "updated_at": time.Now()})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Model(&models.Bus{}).
			Where("active_ride_id = ?", rideID).
			Update("active_ride_id", nil).Error
	})
}

// ---------- автобусы ----------

func (s *GormStore) GetBus(ctx context.Context, id uint) (*models.Bus, error) {
	var bus models.Bus
	if err := s.db.WithContext(ctx).First(&bus, id).Error; err != nil {
		return nil, translate(err)
	}
	return &bus, nil
}

func (s *GormStore) CreateBus(ctx context.Context, bus *models.Bus) error {
	return translate(s.db.WithContext(ctx).Create(bus).Error)
}

func (s *GormStore) ListBuses(ctx context.Context, f BusFilter) ([]models.Bus, error) {
	query := s.db.WithContext(ctx).Model(&models.Bus{})
	if f.AvailableOnly {
		query = query.Where("active_ride_id IS NULL")
	}
	if f.Kind != "" {
		query = query.Where("kind = ?", f.Kind)
	}
	var buses []models.Bus
	if err := query.Order("id").Find(&buses).Error; err != nil {
		return nil, err
	}
	return buses, nil
}

func (s *GormStore) AdoptBusQR(ctx context.Context, busID uint, code string) (string, error) {
	db := s.db.WithContext(ctx)
	if err := db.Model(&models.Bus{}).
		Where("id = ? AND (qr_value IS NULL OR qr_value = '')", busID).
		Updates(map[string]interface{}{"qr_value": code, "updated_at": time.Now()}).Error; err != nil {
		return "", fmt.Errorf("adopt qr for bus %d: %w", busID, err)
	}

	var bus models.Bus
	if err := db.Select("id", "qr_value").First(&bus, busID).Error; err != nil {
		return "", translate(err)
	}
	return bus.QRValue, nil
}

// ---------- перекрёстки ----------

func (s *GormStore) ListJunctions(ctx context.Context, activeOnly bool) ([]models.TrafficJunction, error) {
	query := s.db.WithContext(ctx).Model(&models.TrafficJunction{})
	if activeOnly {
		query = query.Where("active = ?", true)
	}
	var list []models.TrafficJunction
	if err := query.Order("id").Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

func (s *GormStore) GetJunction(ctx context.Context, junctionID string) (*models.TrafficJunction, error) {
	var j models.TrafficJunction
	if err := s.db.WithContext(ctx).Where("junction_id = ?", junctionID).First(&j).Error; err != nil {
		return nil, translate(err)
	}
	return &j, nil
}

func (s *GormStore) GetJunctionByID(ctx context.Context, id uint) (*models.TrafficJunction, error) {
	var j models.TrafficJunction
	if err := s.db.WithContext(ctx).First(&j, id).Error; err != nil {
		return nil, translate(err)
	}
	return &j, nil
}

func (s *GormStore) CreateJunction(ctx context.Context, j *models.TrafficJunction) error {
	return translate(s.db.WithContext(ctx).Create(j).Error)
}

func (s *GormStore) UpdateJunction(ctx context.Context, j *models.TrafficJunction) error {
	return translate(s.db.WithContext(ctx).Save(j).Error)
}

func (s *GormStore) DeleteJunction(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Delete(&models.TrafficJunction{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ---------- замеры ----------

func (s *GormStore) AppendReading(ctx context.Context, r *models.JunctionReading) error {
	return s.db.WithContext(ctx).Create(r).Error
}

func (s *GormStore) RecentReadings(ctx context.Context, junctionID string, limit int) ([]models.JunctionReading, error) {
	var list []models.JunctionReading
	if err := s.db.WithContext(ctx).
		Where("junction_id = ?", junctionID).
		Order("timestamp DESC").
		Limit(limit).
		Find(&list).Error; err != nil {
		return nil, err
	}
	// В ответе нужен хронологический порядок
	for i, j := 0, len(list)-1; i < j; i, j = i+1, j-1 {
		list[i], list[j] = list[j], list[i]
	}
	return list, nil
}

func (s *GormStore) LatestReadings(ctx context.Context) ([]models.JunctionReading, error) {
	var list []models.JunctionReading
	err := s.db.WithContext(ctx).
		Raw(`SELECT DISTINCT ON (junction_id) * FROM junction_readings ORDER BY junction_id, timestamp DESC`).
		Scan(&list).Error
	if err != nil {
		return nil, err
	}
	return list, nil
}

// ---------- чат ----------

func (s *GormStore) AppendChat(ctx context.Context, m *models.TrafficChatMessage) error {
	return s.db.WithContext(ctx).Create(m).Error
}

func (s *GormStore) ListChat(ctx context.Context, junctionID string, limit int) ([]models.TrafficChatMessage, error) {
	query := s.db.WithContext(ctx).Model(&models.TrafficChatMessage{})
	if junctionID != "" {
		query = query.Where("junction_id = ?", junctionID)
	}
	var list []models.TrafficChatMessage
	if err := query.Order("created_at DESC").Limit(limit).Find(&list).Error; err != nil {
		return nil, err
	}
	for i, j := 0, len(list)-1; i < j; i, j = i+1, j-1 {
		list[i], list[j] = list[j], list[i]
	}
	return list, nil
}
