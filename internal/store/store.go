// Package store хранилище рейсов, автобусов и дорожных замеров.
// GormStore работает с PostgreSQL, MemoryStore используется в тестах и
// для локального запуска без базы (STORE_DRIVER=memory).
package store

import (
	"context"
	"errors"
	"time"

	"bus-backend/internal/models"
)

var (
	ErrNotFound        = errors.New("store: record not found")
	ErrVersionConflict = errors.New("store: seat map version conflict")
	ErrDuplicate       = errors.New("store: duplicate key")
	ErrBusAssigned     = errors.New("store: bus already assigned to a ride")
)

// RideFilter параметры поиска рейсов
type RideFilter struct {
	Kind        models.RideKind
	Origin      string
	Destination string
	ActiveOnly  bool
}

// BusFilter параметры поиска автобусов
type BusFilter struct {
	AvailableOnly bool
	Kind          models.BusKind
}

// VehiclePosition позиция автобуса для сохранения в рейсе
type VehiclePosition struct {
	Lat        float64
	Lng        float64
	ETAMinutes *int
}

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

// ClampLimit приводит лимит выборки истории к допустимому диапазону
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		return MaxHistoryLimit
	}
	return limit
}

// Store полный набор операций хранилища
type Store interface {
	GetRide(ctx context.Context, id uint) (*models.Ride, error)
	ListRides(ctx context.Context, f RideFilter) ([]models.Ride, error)
	CreateRide(ctx context.Context, ride *models.Ride) error
	AppendSeat(ctx context.Context, rideID uint, version int, seat models.SeatAssignment, passenger models.Passenger) (*models.Ride, error)
	AppendPassenger(ctx context.Context, rideID uint, version int, passenger models.Passenger) (*models.Ride, error)
	MarkPassengerPaid(ctx context.Context, rideID uint, version int, index int) (*models.Ride, error)
	SetCapacityCounter(ctx context.Context, rideID uint, value int) error
	SetBusLocation(ctx context.Context, rideID uint, pos VehiclePosition, at time.Time) error
	EndRide(ctx context.Context, rideID uint) error

	GetBus(ctx context.Context, id uint) (*models.Bus, error)
	CreateBus(ctx context.Context, bus *models.Bus) error
	ListBuses(ctx context.Context, f BusFilter) ([]models.Bus, error)
	AdoptBusQR(ctx context.Context, busID uint, code string) (string, error)

	ListJunctions(ctx context.Context, activeOnly bool) ([]models.TrafficJunction, error)
	GetJunction(ctx context.Context, junctionID string) (*models.TrafficJunction, error)
	GetJunctionByID(ctx context.Context, id uint) (*models.TrafficJunction, error)
	CreateJunction(ctx context.Context, j *models.TrafficJunction) error
	UpdateJunction(ctx context.Context, j *models.TrafficJunction) error
	DeleteJunction(ctx context.Context, id uint) error

	AppendReading(ctx context.Context, r *models.JunctionReading) error
	RecentReadings(ctx context.Context, junctionID string, limit int) ([]models.JunctionReading, error)
	LatestReadings(ctx context.Context) ([]models.JunctionReading, error)

	AppendChat(ctx context.Context, m *models.TrafficChatMessage) error
	ListChat(ctx context.Context, junctionID string, limit int) ([]models.TrafficChatMessage, error)
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*GormStore)(nil)
)
