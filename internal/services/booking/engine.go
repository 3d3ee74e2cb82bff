// Package booking бронирование мест и операции кондуктора над рейсом.
// Все изменения состава рейса выполняются под блокировкой этого рейса.
package booking

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"bus-backend/internal/apperr"
	"bus-backend/internal/models"
	"bus-backend/internal/services/geo"
	"bus-backend/internal/store"
	"bus-backend/internal/utils"
)

// Сколько раз повторяем запись при конфликте версии карты мест
const maxWriteAttempts = 3

type RideRepository interface {
	GetRide(ctx context.Context, id uint) (*models.Ride, error)
	GetBus(ctx context.Context, id uint) (*models.Bus, error)
	CreateRide(ctx context.Context, ride *models.Ride) error
	AppendSeat(ctx context.Context, rideID uint, version int, seat models.SeatAssignment, passenger models.Passenger) (*models.Ride, error)
	AppendPassenger(ctx context.Context, rideID uint, version int, passenger models.Passenger) (*models.Ride, error)
	MarkPassengerPaid(ctx context.Context, rideID uint, version int, index int) (*models.Ride, error)
	SetCapacityCounter(ctx context.Context, rideID uint, value int) error
	SetBusLocation(ctx context.Context, rideID uint, pos store.VehiclePosition, at time.Time) error
	EndRide(ctx context.Context, rideID uint) error
}

// CredentialRedeemer проверяет подтверждение QR-кода
type CredentialRedeemer interface {
	Redeem(ctx context.Context, token string, rideID, userID uint) (*models.VerificationCredential, error)
}

// Notifier рассылает изменения рейса подписчикам
type Notifier interface {
	PublishRideUpdate(rideID uint, payload interface{})
	PublishCounter(rideID uint, count int)
	UpdateVehicle(rideID uint, lat, lng float64, etaMinutes *int)
	ClearRide(rideID uint)
}

// Actor пользователь, от имени которого выполняется операция
type Actor struct {
	UserID uint
	Name   string
	Role   string
}

func (a Actor) IsAdmin() bool {
	return a.Role == utils.RoleAdmin
}

// RideUpdate содержимое сообщения RIDE_UPDATE
type RideUpdate struct {
	RideID          uint                    `json:"rideId"`
	SeatAssignments []models.SeatAssignment `json:"seatAssignments,omitempty"`
	Passengers      []models.Passenger      `json:"passengers,omitempty"`
	SeatMapVersion  int                     `json:"seatMapVersion"`
	Active          bool                    `json:"active"`
}

type BookRequest struct {
	RideID      uint
	UserID      uint
	DisplayName string
	SeatNumber  string
	Credential  string
	Method      models.PaymentMethod
}

type PassengerInput struct {
	Name   string
	UserID *uint
	Method models.PaymentMethod
	Paid   bool
}

type Engine struct {
	repo   RideRepository
	creds  CredentialRedeemer
	notify Notifier
	locks  sync.Map // rideID -> *sync.Mutex
	now    func() time.Time
}

func NewEngine(repo RideRepository, creds CredentialRedeemer, notify Notifier) *Engine {
	return &Engine{repo: repo, creds: creds, notify: notify, now: time.Now}
}

func (e *Engine) lock(rideID uint) func() {
	v, _ := e.locks.LoadOrStore(rideID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (e *Engine) loadRide(ctx context.Context, rideID uint) (*models.Ride, error) {
	ride, err := e.repo.GetRide(ctx, rideID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.ErrRideNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка получения поездки %d: %w", rideID, err)
	}
	return ride, nil
}

// mutate выполняет чтение-проверку-запись под блокировкой рейса.
// Конфликт версии или уникального индекса означает, что рейс изменили
// в обход движка; в этом случае проверки повторяются на свежих данных.
func (e *Engine) mutate(ctx context.Context, rideID uint, fn func(ride *models.Ride) (*models.Ride, error)) (*models.Ride, error) {
	unlock := e.lock(rideID)
	forget := false
	defer func() {
		unlock()
		// Завершённый или несуществующий рейс больше не меняется, мьютекс не нужен
		if forget {
			e.locks.Delete(rideID)
		}
	}()

	for attempt := 1; ; attempt++ {
		ride, err := e.loadRide(ctx, rideID)
		if err != nil {
			forget = errors.Is(err, apperr.ErrRideNotFound)
			return nil, err
		}
		updated, err := fn(ride)
		if updated != nil {
			forget = !updated.Active
		} else {
			forget = !ride.Active
		}
		if errors.Is(err, store.ErrVersionConflict) || errors.Is(err, store.ErrDuplicate) {
			if attempt < maxWriteAttempts {
				log.Printf("Конфликт записи рейса %d, попытка %d: %v", rideID, attempt, err)
				continue
			}
			return nil, fmt.Errorf("рейс %d изменяется параллельно: %w", rideID, err)
		}
		return updated, err
	}
}

func authorize(actor Actor, ride *models.Ride) error {
	if actor.IsAdmin() || ride.IsConductor(actor.UserID) {
		return nil
	}
	return apperr.ErrForbidden
}

func parseMethod(raw models.PaymentMethod, def models.PaymentMethod) (models.PaymentMethod, error) {
	switch m := models.PaymentMethod(strings.ToLower(strings.TrimSpace(string(raw)))); m {
	case "":
		return def, nil
	case models.PaymentOnline, models.PaymentCash:
		return m, nil
	default:
		return "", apperr.ErrInvalidPayload.WithMessage("Неизвестный способ оплаты")
	}
}

func (e *Engine) rideUpdate(ride *models.Ride) RideUpdate {
	return RideUpdate{
		RideID:          ride.ID,
		SeatAssignments: ride.SeatAssignments,
		Passengers:      ride.Passengers,
		SeatMapVersion:  ride.SeatMapVersion,
		Active:          ride.Active,
	}
}

// Book бронирует место. Из нескольких одновременных запросов на одно
// место успешен ровно один, остальные получают SEAT_ALREADY_TAKEN.
func (e *Engine) Book(ctx context.Context, req BookRequest) (*models.SeatAssignment, error) {
	method, err := parseMethod(req.Method, models.PaymentOnline)
	if err != nil {
		return nil, err
	}
	seatNumber := strings.ToUpper(strings.TrimSpace(req.SeatNumber))

	var booked models.SeatAssignment
	updated, err := e.mutate(ctx, req.RideID, func(ride *models.Ride) (*models.Ride, error) {
		if ride.Kind != models.RideKindInter || !ride.Active {
			return nil, apperr.ErrBookingNotAvailable
		}
		if _, err := e.creds.Redeem(ctx, req.Credential, ride.ID, req.UserID); err != nil {
			return nil, err
		}
		if !inLayout(ride.SeatsTotal, seatNumber) {
			return nil, apperr.ErrInvalidSeatNumber
		}
		for _, a := range ride.SeatAssignments {
			if a.SeatNumber == seatNumber {
				return nil, apperr.ErrSeatAlreadyTaken
			}
		}
		for _, a := range ride.SeatAssignments {
			if a.UserID == req.UserID {
				return nil, apperr.ErrAlreadyBooked
			}
		}

		now := e.now()
		userID := req.UserID
		booked = models.SeatAssignment{
			SeatNumber:    seatNumber,
			UserID:        req.UserID,
			DisplayName:   req.DisplayName,
			PaymentMethod: method,
			Paid:          method == models.PaymentOnline,
			BookedAt:      now,
		}
		passenger := models.Passenger{
			UserID:        &userID,
			Name:          req.DisplayName,
			PaymentMethod: method,
			Paid:          booked.Paid,
			SeatNumber:    seatNumber,
			AddedAt:       now,
		}
		return e.repo.AppendSeat(ctx, ride.ID, ride.SeatMapVersion, booked, passenger)
	})
	if err != nil {
		return nil, err
	}

	for _, a := range updated.SeatAssignments {
		if a.SeatNumber == seatNumber {
			booked = a
			break
		}
	}
	e.notify.PublishRideUpdate(updated.ID, e.rideUpdate(updated))
	log.Printf("Рейс %d: пользователь %d забронировал место %s (%s)", updated.ID, req.UserID, seatNumber, method)
	return &booked, nil
}

// SeatMap схема мест рейса с занятыми местами
func (e *Engine) SeatMap(ctx context.Context, rideID uint) (*SeatMap, error) {
	ride, err := e.loadRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	m := BuildSeatMap(ride.SeatsTotal, ride.SeatAssignments)
	return &m, nil
}

// CreateRide создаёт рейс и закрепляет за ним свободный автобус
func (e *Engine) CreateRide(ctx context.Context, actor Actor, in models.RideCreate) (*models.Ride, error) {
	bus, err := e.repo.GetBus(ctx, in.BusID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.ErrNotFound.WithMessage("Автобус не найден")
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка получения автобуса: %w", err)
	}
	if expected := models.KindFor(in.Kind); bus.Kind != "" && bus.Kind != expected {
		return nil, apperr.ErrInvalidPayload.WithMessage("Тип автобуса не подходит, ожидается " + string(expected))
	}

	busID := bus.ID
	ride := &models.Ride{
		Kind:              in.Kind,
		Origin:            in.Origin,
		Destination:       in.Destination,
		ConductorID:       actor.UserID,
		ConductorName:     actor.Name,
		BusID:             &busID,
		BusNumber:         bus.Number,
		SeatsTotal:        bus.SeatCapacity,
		SeatMapVersion:    1,
		Active:            true,
		OriginCoords:      in.OriginCoords,
		DestinationCoords: in.DestinationCoords,
	}
	err = e.repo.CreateRide(ctx, ride)
	if errors.Is(err, store.ErrBusAssigned) {
		return nil, apperr.ErrInvalidPayload.WithMessage("Автобус уже назначен на другой рейс")
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка создания рейса: %w", err)
	}
	log.Printf("Кондуктор %d создал рейс %d (%s → %s) на автобусе %s", actor.UserID, ride.ID, ride.Origin, ride.Destination, bus.Number)
	return ride, nil
}

// AddPassenger ручное добавление пассажира кондуктором
func (e *Engine) AddPassenger(ctx context.Context, actor Actor, rideID uint, in PassengerInput) (*models.Ride, error) {
	method, err := parseMethod(in.Method, models.PaymentCash)
	if err != nil {
		return nil, err
	}

	updated, err := e.mutate(ctx, rideID, func(ride *models.Ride) (*models.Ride, error) {
		if err := authorize(actor, ride); err != nil {
			return nil, err
		}
		p := models.Passenger{
			UserID:        in.UserID,
			Name:          strings.TrimSpace(in.Name),
			PaymentMethod: method,
			Paid:          in.Paid,
			AddedAt:       e.now(),
		}
		return e.repo.AppendPassenger(ctx, ride.ID, ride.SeatMapVersion, p)
	})
	if err != nil {
		return nil, err
	}
	e.notify.PublishRideUpdate(updated.ID, e.rideUpdate(updated))
	return updated, nil
}

func (e *Engine) MarkPassengerPaid(ctx context.Context, actor Actor, rideID uint, index int) (*models.Ride, error) {
	updated, err := e.mutate(ctx, rideID, func(ride *models.Ride) (*models.Ride, error) {
		if err := authorize(actor, ride); err != nil {
			return nil, err
		}
		if index < 0 || index >= len(ride.Passengers) {
			return nil, apperr.ErrNotFound.WithMessage("Пассажир не найден")
		}
		return e.repo.MarkPassengerPaid(ctx, ride.ID, ride.SeatMapVersion, index)
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.ErrNotFound.WithMessage("Пассажир не найден")
	}
	if err != nil {
		return nil, err
	}
	e.notify.PublishRideUpdate(updated.ID, e.rideUpdate(updated))
	return updated, nil
}

// SetCapacityCounter кондуктор выставляет абсолютное значение счётчика
func (e *Engine) SetCapacityCounter(ctx context.Context, actor Actor, rideID uint, value int) (*models.Ride, error) {
	return e.setCounter(ctx, rideID, value, &actor)
}

// PushCounter значение счётчика от IoT-устройства
func (e *Engine) PushCounter(ctx context.Context, rideID uint, value int) (*models.Ride, error) {
	return e.setCounter(ctx, rideID, value, nil)
}

func (e *Engine) setCounter(ctx context.Context, rideID uint, value int, actor *Actor) (*models.Ride, error) {
	if value < 0 {
		return nil, apperr.ErrInvalidPayload.WithMessage("Значение счётчика не может быть отрицательным")
	}
	updated, err := e.mutate(ctx, rideID, func(ride *models.Ride) (*models.Ride, error) {
		if actor != nil {
			if err := authorize(*actor, ride); err != nil {
				return nil, err
			}
		}
		if err := e.repo.SetCapacityCounter(ctx, ride.ID, value); err != nil {
			return nil, fmt.Errorf("ошибка обновления счётчика: %w", err)
		}
		ride.CapacityCounter = value
		return ride, nil
	})
	if err != nil {
		return nil, err
	}
	e.notify.PublishCounter(updated.ID, value)
	return updated, nil
}

// UpdateVehiclePosition сохраняет позицию автобуса и рассылает её пассажирам.
// Если ETA не передан, а у рейса есть координаты назначения, он оценивается.
func (e *Engine) UpdateVehiclePosition(ctx context.Context, actor Actor, rideID uint, lat, lng float64, etaMinutes *int) (*models.Ride, error) {
	if err := geo.Validate(lat, lng); err != nil {
		return nil, apperr.ErrInvalidPayload.Wrap(err)
	}
	if etaMinutes != nil && *etaMinutes < 0 {
		return nil, apperr.ErrInvalidPayload.WithMessage("ETA не может быть отрицательным")
	}

	updated, err := e.mutate(ctx, rideID, func(ride *models.Ride) (*models.Ride, error) {
		if err := authorize(actor, ride); err != nil {
			return nil, err
		}
		eta := etaMinutes
		if eta == nil {
			if dst := ride.DestinationCoords; dst.Lat != nil && dst.Lng != nil {
				v := geo.EstimateETAMinutes(geo.Point{Lat: lat, Lng: lng}, geo.Point{Lat: *dst.Lat, Lng: *dst.Lng})
				eta = &v
			}
		}

		at := e.now()
		pos := store.VehiclePosition{Lat: lat, Lng: lng, ETAMinutes: eta}
		if err := e.repo.SetBusLocation(ctx, ride.ID, pos, at); err != nil {
			return nil, fmt.Errorf("ошибка сохранения позиции автобуса: %w", err)
		}
		ride.BusLocation = models.BusLocation{Lat: &lat, Lng: &lng, UpdatedAt: &at}
		if eta != nil {
			ride.ETAMinutes = eta
		}
		return ride, nil
	})
	if err != nil {
		return nil, err
	}
	e.notify.UpdateVehicle(updated.ID, lat, lng, updated.ETAMinutes)
	return updated, nil
}

// EndRide завершает рейс, освобождает автобус и закрывает комнату рейса
func (e *Engine) EndRide(ctx context.Context, actor Actor, rideID uint) (*models.Ride, error) {
	updated, err := e.mutate(ctx, rideID, func(ride *models.Ride) (*models.Ride, error) {
		if err := authorize(actor, ride); err != nil {
			return nil, err
		}
		if err := e.repo.EndRide(ctx, ride.ID); err != nil {
			return nil, fmt.Errorf("ошибка завершения рейса: %w", err)
		}
		ride.Active = false
		return ride, nil
	})
	if err != nil {
		return nil, err
	}
	e.notify.PublishRideUpdate(updated.ID, e.rideUpdate(updated))
	e.notify.ClearRide(updated.ID)
	log.Printf("Рейс %d завершён", updated.ID)
	return updated, nil
}
