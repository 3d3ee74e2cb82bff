package handlers

import (
	"net/http"
	"strconv"

	"bus-backend/internal/models"
	"bus-backend/internal/services/booking"
	"bus-backend/internal/store"

	"github.com/gin-gonic/gin"
)

// Создание рейса кондуктором
func ConductorCreateRide(engine *booking.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in models.RideCreate
		if err := c.ShouldBindJSON(&in); err != nil {
			badRequest(c, "Обязательны поля type, origin, destination, busId")
			return
		}
		ride, err := engine.CreateRide(c.Request.Context(), actorFrom(c), in)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"ride": ride})
	}
}

type passengerRequest struct {
	Name   string               `json:"name"`
	UserID *uint                `json:"userId"`
	Method models.PaymentMethod `json:"method"`
	Paid   bool                 `json:"paid"`
}

func ConductorAddPassenger(engine *booking.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := uintParam(c, "id")
		if !ok {
			return
		}
		var req passengerRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "Неверные данные пассажира")
			return
		}
		ride, err := engine.AddPassenger(c.Request.Context(), actorFrom(c), id, booking.PassengerInput{
			Name:   req.Name,
			UserID: req.UserID,
			Method: req.Method,
			Paid:   req.Paid,
		})
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"ride": ride})
	}
}

func ConductorMarkPaid(engine *booking.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := uintParam(c, "id")
		if !ok {
			return
		}
		index, err := strconv.Atoi(c.Param("index"))
		if err != nil {
			badRequest(c, "Неверный индекс пассажира")
			return
		}
		ride, err := engine.MarkPassengerPaid(c.Request.Context(), actorFrom(c), id, index)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"ride": ride})
	}
}

type locationRequest struct {
	Lat        *float64 `json:"lat"`
	Lng        *float64 `json:"lng"`
	ETAMinutes *int     `json:"etaMinutes"`
}

// Позиция автобуса от кондуктора
func ConductorUpdateLocation(engine *booking.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := uintParam(c, "id")
		if !ok {
			return
		}
		var req locationRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.Lat == nil || req.Lng == nil {
			badRequest(c, "Требуются lat и lng")
			return
		}
		ride, err := engine.UpdateVehiclePosition(c.Request.Context(), actorFrom(c), id, *req.Lat, *req.Lng, req.ETAMinutes)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true, "busLocation": ride.BusLocation, "etaMinutes": ride.ETAMinutes})
	}
}

type counterRequest struct {
	Value *int `json:"value"`
}

func ConductorSetCounter(engine *booking.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := uintParam(c, "id")
		if !ok {
			return
		}
		var req counterRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.Value == nil {
			badRequest(c, "Требуется числовое value")
			return
		}
		ride, err := engine.SetCapacityCounter(c.Request.Context(), actorFrom(c), id, *req.Value)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"ride": ride})
	}
}

func ConductorEndRide(engine *booking.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := uintParam(c, "id")
		if !ok {
			return
		}
		ride, err := engine.EndRide(c.Request.Context(), actorFrom(c), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"ride": ride})
	}
}

// Свободные автобусы, rideType=intra|inter сужает выборку
func ConductorAvailableBuses(s store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		filter := store.BusFilter{AvailableOnly: true}
		switch rt := models.RideKind(c.Query("rideType")); rt {
		case models.RideKindIntra, models.RideKindInter:
			filter.Kind = models.KindFor(rt)
		case "":
		default:
			badRequest(c, "rideType должен быть intra или inter")
			return
		}
		buses, err := s.ListBuses(c.Request.Context(), filter)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"buses": buses})
	}
}
