package handlers

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"bus-backend/internal/apperr"
	"bus-backend/internal/models"
	"bus-backend/internal/services/qrgate"
	"bus-backend/internal/store"

	"github.com/gin-gonic/gin"
)

// busView автобус вместе с эталонным QR-кодом, виден только администратору
type busView struct {
	models.Bus
	QRValue string `json:"qrValue"`
}

// Регистрация автобуса. Эталонный QR-код генерируется сразу.
func AdminCreateBus(s store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in models.BusCreate
		if err := c.ShouldBindJSON(&in); err != nil {
			badRequest(c, "Обязательны поля number и seats")
			return
		}
		number := strings.TrimSpace(in.Number)
		if number == "" || strings.Contains(number, ":") {
			badRequest(c, "Неверный номер автобуса")
			return
		}

		bus := &models.Bus{
			Number:       number,
			Name:         in.Name,
			SeatCapacity: in.SeatCapacity,
			Kind:         in.Kind,
			RouteName:    in.RouteName,
			QRValue:      qrgate.NewCanonicalCode(number),
		}
		err := s.CreateBus(c.Request.Context(), bus)
		if errors.Is(err, store.ErrDuplicate) {
			respondError(c, apperr.ErrInvalidPayload.WithMessage("Автобус с таким номером уже существует"))
			return
		}
		if err != nil {
			respondError(c, err)
			return
		}
		log.Printf("Зарегистрирован автобус %s (%d мест)", bus.Number, bus.SeatCapacity)
		c.JSON(http.StatusCreated, gin.H{"bus": busView{Bus: *bus, QRValue: bus.QRValue}})
	}
}

func AdminListBuses(s store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		buses, err := s.ListBuses(c.Request.Context(), store.BusFilter{})
		if err != nil {
			respondError(c, err)
			return
		}
		views := make([]busView, 0, len(buses))
		for _, b := range buses {
			views = append(views, busView{Bus: b, QRValue: b.QRValue})
		}
		c.JSON(http.StatusOK, gin.H{"buses": views})
	}
}
