package models

import (
	"time"
)

type TrafficLevel string

const (
	LevelSmooth   TrafficLevel = "Smooth"
	LevelModerate TrafficLevel = "Moderate"
	LevelHeavy    TrafficLevel = "Heavy"
)

// GeoPoint координаты перекрёстка
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// TrafficJunction перекрёсток со счётчиком въезда/выезда
type TrafficJunction struct {
	ID         uint      `json:"id" gorm:"primaryKey"`
	JunctionID string    `json:"signalId" gorm:"column:junction_id;type:varchar(64);uniqueIndex;not null"`
	Name       string    `json:"name" gorm:"not null"`
	Location   GeoPoint  `json:"location" gorm:"embedded;embeddedPrefix:location_"`
	Active     bool      `json:"active" gorm:"not null;default:true"`
	CreatedAt  time.Time `json:"createdAt"`
}

// JunctionReading один замер загруженности. Записи только добавляются.
type JunctionReading struct {
	ID         uint         `json:"-" gorm:"primaryKey"`
	JunctionID string       `json:"signalId" gorm:"column:junction_id;type:varchar(64);not null;index:idx_reading_junction_ts,priority:1"`
	Name       string       `json:"name"`
	Location   GeoPoint     `json:"location" gorm:"embedded;embeddedPrefix:location_"`
	EntryCount int          `json:"entryCount"`
	ExitCount  int          `json:"exitCount"`
	Density    int          `json:"density"`
	Level      TrafficLevel `json:"level" gorm:"type:varchar(10)"`
	Timestamp  time.Time    `json:"timestamp" gorm:"index:idx_reading_junction_ts,priority:2,sort:desc"`
}

// TrafficChatMessage сообщение в чате о дорожной обстановке
type TrafficChatMessage struct {
	ID         uint      `json:"id" gorm:"primaryKey"`
	JunctionID *string   `json:"signalId" gorm:"column:junction_id;type:varchar(64);index"`
	UserID     uint      `json:"userId"`
	UserName   string    `json:"userName"`
	Text       string    `json:"text" gorm:"not null"`
	CreatedAt  time.Time `json:"createdAt" gorm:"index"`
}

func (TrafficChatMessage) TableName() string {
	return "traffic_chat_messages"
}
