package geo

import (
	"fmt"
	"math"
	"time"
)

const (
	earthRadiusMeters = 6371000.0
	// Средняя скорость автобуса для грубой оценки времени прибытия
	averageSpeedKmh = 40.0
)

type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// CoordinateError ошибка валидации координаты
type CoordinateError struct {
	Field   string
	Value   float64
	Message string
}

func (e *CoordinateError) Error() string {
	return fmt.Sprintf("%s: %s (значение: %.6f)", e.Field, e.Message, e.Value)
}

func validate(v, limit float64, field string) error {
	if math.IsNaN(v) {
		return &CoordinateError{Field: field, Value: v, Message: "NaN недопустим"}
	}
	if math.IsInf(v, 0) {
		return &CoordinateError{Field: field, Value: v, Message: "бесконечность недопустима"}
	}
	if v < -limit || v > limit {
		return &CoordinateError{Field: field, Value: v, Message: fmt.Sprintf("должно быть между %.0f и %.0f", -limit, limit)}
	}
	return nil
}

// Validate проверяет, что точка является корректной парой широта/долгота
func Validate(lat, lng float64) error {
	if err := validate(lat, 90, "lat"); err != nil {
		return err
	}
	return validate(lng, 180, "lng")
}

// DistanceMeters расстояние между точками по формуле гаверсинуса
func DistanceMeters(from, to Point) float64 {
	φ1 := from.Lat * math.Pi / 180
	φ2 := to.Lat * math.Pi / 180
	dφ := (to.Lat - from.Lat) * math.Pi / 180
	dλ := (to.Lng - from.Lng) * math.Pi / 180

	a := math.Sin(dφ/2)*math.Sin(dφ/2) +
		math.Cos(φ1)*math.Cos(φ2)*math.Sin(dλ/2)*math.Sin(dλ/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusMeters * c
}

// TravelTime время в пути при средней скорости автобуса
func TravelTime(from, to Point) time.Duration {
	metersPerSecond := averageSpeedKmh * 1000 / 3600
	return time.Duration(DistanceMeters(from, to)/metersPerSecond) * time.Second
}

// EstimateETAMinutes оценка прибытия в минутах, округлённая вверх
func EstimateETAMinutes(from, to Point) int {
	return int(math.Ceil(TravelTime(from, to).Minutes()))
}
