package handlers

import (
	"errors"
	"net/http"

	"bus-backend/internal/apperr"
	"bus-backend/internal/middleware"
	"bus-backend/internal/models"
	"bus-backend/internal/services/booking"
	"bus-backend/internal/services/qrgate"
	"bus-backend/internal/store"
	"bus-backend/internal/websocket"

	"github.com/gin-gonic/gin"
)

// UserNotifier личные сообщения пользователю по WebSocket
type UserNotifier interface {
	SendToUser(userID uint, msgType string, payload interface{})
}

// Получение списка рейсов
func RideList(s store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		filter := store.RideFilter{
			Kind:        models.RideKind(c.Query("type")),
			Origin:      c.Query("origin"),
			Destination: c.Query("destination"),
			ActiveOnly:  c.DefaultQuery("active", "true") != "false",
		}
		if filter.Kind != "" && filter.Kind != models.RideKindIntra && filter.Kind != models.RideKindInter {
			badRequest(c, "Неизвестный тип рейса")
			return
		}

		rides, err := s.ListRides(c.Request.Context(), filter)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"rides": rides})
	}
}

func RideGet(s store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := uintParam(c, "id")
		if !ok {
			return
		}
		ride, err := s.GetRide(c.Request.Context(), id)
		if errors.Is(err, store.ErrNotFound) {
			respondError(c, apperr.ErrRideNotFound)
			return
		}
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"ride": ride})
	}
}

// Схема мест рейса
func RideSeats(engine *booking.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := uintParam(c, "id")
		if !ok {
			return
		}
		seats, err := engine.SeatMap(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"rideId": id, "layout": seats.Rows, "seats": seats.Flat, "taken": seats.Taken})
	}
}

type verifyQRRequest struct {
	QRCode string `json:"qrCode" binding:"required"`
}

// Проверка QR-кода автобуса перед бронированием
func RideVerifyQR(gate *qrgate.Gate) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := uintParam(c, "id")
		if !ok {
			return
		}
		var req verifyQRRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "Требуется qrCode")
			return
		}

		actor := actorFrom(c)
		v, err := gate.RequestVerification(c.Request.Context(), id, actor.UserID, req.QRCode)
		if err != nil {
			middleware.TrackQRVerification("", string(apperr.CodeOf(err)))
			respondError(c, err)
			return
		}
		middleware.TrackQRVerification(v.Rule, "ok")
		c.JSON(http.StatusOK, gin.H{
			"verificationToken": v.Credential.ID,
			"expiresAt":         v.Credential.ExpiresAt,
			"rideId":            v.Credential.RideID,
		})
	}
}

type bookRequest struct {
	SeatNumber        string               `json:"seatNumber" binding:"required"`
	VerificationToken string               `json:"verificationToken"`
	Method            models.PaymentMethod `json:"method"`
}

// Бронирование места. Успешная бронь дублируется пользователю
// сообщением BOOKING_CONFIRMED.
func RideBook(engine *booking.Engine, notify UserNotifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := uintParam(c, "id")
		if !ok {
			return
		}
		var req bookRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "Требуется seatNumber")
			return
		}

		actor := actorFrom(c)
		seat, err := engine.Book(c.Request.Context(), booking.BookRequest{
			RideID:      id,
			UserID:      actor.UserID,
			DisplayName: actor.Name,
			SeatNumber:  req.SeatNumber,
			Credential:  req.VerificationToken,
			Method:      req.Method,
		})
		if err != nil {
			middleware.TrackBooking(string(apperr.CodeOf(err)))
			respondError(c, err)
			return
		}
		middleware.TrackBooking("ok")

		notify.SendToUser(actor.UserID, websocket.BookingConfirmedType, seat)
		c.JSON(http.StatusOK, gin.H{"seat": seat})
	}
}
