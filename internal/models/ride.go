package models

import (
	"time"
)

type RideKind string

const (
	RideKindIntra RideKind = "intra" // Городской маршрут, только счётчик пассажиров
	RideKindInter RideKind = "inter" // Междугородний рейс с выбором места
)

type PaymentMethod string

const (
	PaymentOnline PaymentMethod = "online"
	PaymentCash   PaymentMethod = "cash"
)

// Coordinates точка на карте
type Coordinates struct {
	Lat *float64 `json:"lat,omitempty"`
	Lng *float64 `json:"lng,omitempty"`
}

// BusLocation последняя позиция автобуса, присланная кондуктором
type BusLocation struct {
	Lat       *float64   `json:"lat,omitempty"`
	Lng       *float64   `json:"lng,omitempty"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

// Ride один рейс автобуса
type Ride struct {
	ID                uint             `json:"id" gorm:"primaryKey"`
	Kind              RideKind         `json:"type" gorm:"type:varchar(10);not null"`
	Origin            string           `json:"origin" gorm:"not null"`
	Destination       string           `json:"destination" gorm:"not null"`
	ConductorID       uint             `json:"conductorId" gorm:"not null;index"`
	ConductorName     string           `json:"conductorName" gorm:"default:''"`
	BusID             *uint            `json:"busId,omitempty" gorm:"index"`
	BusNumber         string           `json:"busNumber,omitempty" gorm:"default:''"`
	SeatsTotal        int              `json:"seatsTotal" gorm:"not null;default:0"`
	SeatMapVersion    int              `json:"seatMapVersion" gorm:"not null;default:1"`
	Active            bool             `json:"active" gorm:"not null;default:true;index"`
	OriginCoords      Coordinates      `json:"originCoords" gorm:"embedded;embeddedPrefix:origin_"`
	DestinationCoords Coordinates      `json:"destinationCoords" gorm:"embedded;embeddedPrefix:destination_"`
	CapacityCounter   int              `json:"capacityCounter" gorm:"not null;default:0"`
	BusLocation       BusLocation      `json:"busLocation" gorm:"embedded;embeddedPrefix:bus_"`
	ETAMinutes        *int             `json:"etaMinutes,omitempty"`
	SeatAssignments   []SeatAssignment `json:"seatAssignments" gorm:"foreignKey:RideID;constraint:OnDelete:CASCADE"`
	Passengers        []Passenger      `json:"passengers" gorm:"foreignKey:RideID;constraint:OnDelete:CASCADE"`
	CreatedAt         time.Time        `json:"createdAt"`
	UpdatedAt         time.Time        `json:"updatedAt"`
}

// SeatAssignment купленное место. Уникальность места и пассажира
// в рамках рейса дублируется индексами в БД.
type SeatAssignment struct {
	ID            uint          `json:"-" gorm:"primaryKey"`
	RideID        uint          `json:"rideId" gorm:"not null;uniqueIndex:idx_seat_ride_seat;uniqueIndex:idx_seat_ride_user"`
	SeatNumber    string        `json:"seatNumber" gorm:"type:varchar(8);not null;uniqueIndex:idx_seat_ride_seat"`
	UserID        uint          `json:"userId" gorm:"not null;uniqueIndex:idx_seat_ride_user"`
	DisplayName   string        `json:"name" gorm:"default:''"`
	PaymentMethod PaymentMethod `json:"method" gorm:"type:varchar(10);default:'online'"`
	Paid          bool          `json:"paid" gorm:"default:false"`
	BookedAt      time.Time     `json:"bookedAt"`
}

// Passenger запись для старых счётчиков и ручного добавления кондуктором
type Passenger struct {
	ID            uint          `json:"-" gorm:"primaryKey"`
	RideID        uint          `json:"rideId" gorm:"not null;index"`
	UserID        *uint         `json:"userId,omitempty"`
	Name          string        `json:"name" gorm:"default:''"`
	PaymentMethod PaymentMethod `json:"method" gorm:"type:varchar(10);default:'cash'"`
	Paid          bool          `json:"paid" gorm:"default:false"`
	SeatNumber    string        `json:"seatNumber,omitempty" gorm:"type:varchar(8);default:''"`
	AddedAt       time.Time     `json:"addedAt"`
}

func (Passenger) TableName() string {
	return "ride_passengers"
}

// RideCreate данные для создания рейса кондуктором
type RideCreate struct {
	Kind              RideKind    `json:"type" binding:"required,oneof=intra inter"`
	Origin            string      `json:"origin" binding:"required"`
	Destination       string      `json:"destination" binding:"required"`
	BusID             uint        `json:"busId" binding:"required"`
	OriginCoords      Coordinates `json:"originCoords"`
	DestinationCoords Coordinates `json:"destinationCoords"`
}

// Clone возвращает копию рейса, не разделяющую срезы с оригиналом
func (r *Ride) Clone() *Ride {
	cp := *r
	cp.SeatAssignments = append([]SeatAssignment(nil), r.SeatAssignments...)
	cp.Passengers = append([]Passenger(nil), r.Passengers...)
	return &cp
}

// IsConductor проверяет, что пользователь ведёт этот рейс
func (r *Ride) IsConductor(userID uint) bool {
	return r.ConductorID == userID
}
