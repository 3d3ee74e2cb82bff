package handlers

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"bus-backend/internal/apperr"
	"bus-backend/internal/middleware"
	"bus-backend/internal/services/booking"

	"github.com/gin-gonic/gin"
)

// respondError отвечает {"error","code"}. Непредвиденные ошибки
// логируются полностью, клиент получает общее сообщение.
func respondError(c *gin.Context, err error) {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		c.JSON(apperr.HTTPStatus(err), gin.H{"error": appErr.Message, "code": appErr.Code})
		return
	}
	log.Printf("Ошибка обработки %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Внутренняя ошибка сервера", "code": apperr.CodeInternal})
}

func badRequest(c *gin.Context, msg string) {
	respondError(c, apperr.ErrInvalidPayload.WithMessage(msg))
}

// uintParam разбирает числовой параметр пути
func uintParam(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		badRequest(c, "Неверный параметр "+name)
		return 0, false
	}
	return uint(id), true
}

// actorFrom пользователь запроса, выставленный JWTAuth
func actorFrom(c *gin.Context) booking.Actor {
	var userID uint
	if v, ok := c.Get(middleware.ContextUserID); ok {
		userID, _ = v.(uint)
	}
	return booking.Actor{
		UserID: userID,
		Name:   c.GetString(middleware.ContextUserName),
		Role:   c.GetString(middleware.ContextRole),
	}
}

func queryLimit(c *gin.Context) int {
	limit, _ := strconv.Atoi(c.Query("limit"))
	return limit
}
