package models

import (
	"time"
)

type BusKind string

const (
	BusKindIntraCity BusKind = "Intra-City"
	BusKindInterCity BusKind = "Inter-City"
)

// Bus физический автобус и его эталонный QR-код
type Bus struct {
	ID           uint      `json:"id" gorm:"primaryKey"`
	Number       string    `json:"number" gorm:"type:varchar(32);uniqueIndex;not null"`
	Name         string    `json:"name" gorm:"default:''"`
	SeatCapacity int       `json:"seats" gorm:"not null"`
	Kind         BusKind   `json:"type" gorm:"type:varchar(20);default:''"`
	RouteName    string    `json:"routeName" gorm:"default:''"`
	ActiveRideID *uint     `json:"activeRideId,omitempty"`
	QRValue      string    `json:"-" gorm:"column:qr_value;default:''"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// BusCreate данные для регистрации автобуса администратором
type BusCreate struct {
	Number       string  `json:"number" binding:"required"`
	Name         string  `json:"name"`
	SeatCapacity int     `json:"seats" binding:"required,min=1"`
	Kind         BusKind `json:"type" binding:"omitempty,oneof=Intra-City Inter-City"`
	RouteName    string  `json:"routeName"`
}

// KindFor возвращает тип автобуса, который подходит для рейса
func KindFor(kind RideKind) BusKind {
	if kind == RideKindIntra {
		return BusKindIntraCity
	}
	return BusKindInterCity
}
