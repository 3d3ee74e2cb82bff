package handlers

import (
	"net/http"

	"bus-backend/internal/services/traffic"

	"github.com/gin-gonic/gin"
)

// Последний замер по каждому перекрёстку
func TrafficLatest(engine *traffic.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		signals, err := engine.Latest(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"signals": signals})
	}
}

func TrafficHistory(engine *traffic.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		history, err := engine.History(c.Request.Context(), c.Param("junctionId"), queryLimit(c))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"history": history})
	}
}

// Прогноз по перекрёстку. Если замеров меньше двух, forecast равен null.
func TrafficForecast(engine *traffic.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		forecast, err := engine.Forecast(c.Request.Context(), c.Param("junctionId"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"forecast": forecast})
	}
}

func TrafficRisks(engine *traffic.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		report, err := engine.Risks(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, report)
	}
}

func TrafficSimulate(engine *traffic.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		readings, err := engine.Simulate(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"inserted": len(readings), "signals": readings})
	}
}

// ---------- перекрёстки ----------

type junctionRequest struct {
	SignalID string   `json:"signalId"`
	Name     string   `json:"name"`
	Lat      *float64 `json:"lat"`
	Lng      *float64 `json:"lng"`
	Active   *bool    `json:"active"`
}

func JunctionList(engine *traffic.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		junctions, err := engine.ListJunctions(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"junctions": junctions})
	}
}

func JunctionCreate(engine *traffic.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req junctionRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.Lat == nil || req.Lng == nil {
			badRequest(c, "Обязательны поля signalId, name, lat, lng")
			return
		}
		j, err := engine.CreateJunction(c.Request.Context(), traffic.JunctionInput{
			JunctionID: req.SignalID,
			Name:       req.Name,
			Lat:        *req.Lat,
			Lng:        *req.Lng,
		})
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"junction": j})
	}
}

func JunctionUpdate(engine *traffic.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := uintParam(c, "id")
		if !ok {
			return
		}
		var req junctionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "Неверные данные перекрёстка")
			return
		}
		patch := traffic.JunctionPatch{Lat: req.Lat, Lng: req.Lng, Active: req.Active}
		if req.Name != "" {
			patch.Name = &req.Name
		}
		j, err := engine.UpdateJunction(c.Request.Context(), id, patch)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"junction": j})
	}
}

func JunctionDelete(engine *traffic.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := uintParam(c, "id")
		if !ok {
			return
		}
		if err := engine.DeleteJunction(c.Request.Context(), id); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

// ---------- чат ----------

func TrafficChatList(engine *traffic.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		messages, err := engine.ListChat(c.Request.Context(), c.Query("signalId"), queryLimit(c))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"messages": messages})
	}
}

type chatRequest struct {
	SignalID string `json:"signalId"`
	Text     string `json:"text"`
}

func TrafficChatPost(engine *traffic.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req chatRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "Неверное сообщение")
			return
		}
		actor := actorFrom(c)
		msg, err := engine.PostChat(c.Request.Context(), actor.UserID, actor.Name, req.SignalID, req.Text)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"message": msg})
	}
}
