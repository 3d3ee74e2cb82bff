package handlers

import (
	"encoding/json"
	"log"
	"math"
	"net/http"
	"time"

	"bus-backend/internal/services/booking"
	"bus-backend/internal/services/traffic"

	"github.com/gin-gonic/gin"
)

// iotUpdate показания счётчика пассажиров рейса либо счётчика перекрёстка
type iotUpdate struct {
	RideID     *uint      `json:"rideId"`
	Count      *float64   `json:"count"`
	JunctionID string     `json:"junctionId"`
	EntryCount *float64   `json:"entryCount"`
	ExitCount  *float64   `json:"exitCount"`
	Timestamp  *time.Time `json:"timestamp"`
}

// Предел показаний счётчика, одинаковый на 32- и 64-битных платформах
const maxCounterValue = math.MaxInt32

// wholeNumber принимает только целые значения в пределах ±maxCounterValue
func wholeNumber(v *float64) (int, bool) {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) || *v != math.Trunc(*v) {
		return 0, false
	}
	if math.Abs(*v) > maxCounterValue {
		return 0, false
	}
	return int(*v), true
}

// Приём данных от IoT-счётчиков
func IoTUpdate(rides *booking.Engine, junctions *traffic.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req iotUpdate
		if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
			log.Printf("Некорректные данные IoT от %s: %v", c.ClientIP(), err)
			badRequest(c, "Неверные данные")
			return
		}

		if req.JunctionID != "" {
			entry, okEntry := wholeNumber(req.EntryCount)
			exit, okExit := wholeNumber(req.ExitCount)
			if !okEntry || !okExit {
				log.Printf("Некорректные данные IoT перекрёстка %s от %s", req.JunctionID, c.ClientIP())
				badRequest(c, "entryCount и exitCount должны быть целыми числами")
				return
			}
			var ts time.Time
			if req.Timestamp != nil {
				ts = *req.Timestamp
			}
			reading, err := junctions.Ingest(c.Request.Context(), req.JunctionID, entry, exit, ts)
			if err != nil {
				respondError(c, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"ok": true, "reading": reading})
			return
		}

		count, ok := wholeNumber(req.Count)
		if req.RideID == nil || *req.RideID == 0 || !ok {
			log.Printf("Некорректные данные IoT рейса от %s", c.ClientIP())
			badRequest(c, "Требуются rideId и числовой count")
			return
		}
		if _, err := rides.PushCounter(c.Request.Context(), *req.RideID, count); err != nil {
			respondError(c, err)
			return
		}
		log.Printf("IoT: рейс %d, счётчик %d", *req.RideID, count)
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}
