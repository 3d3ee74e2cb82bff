package middleware

import (
	"log"
	"net/http"
	"strings"

	"bus-backend/internal/apperr"
	"bus-backend/internal/utils"

	"github.com/gin-gonic/gin"
)

// Ключи контекста gin, которые выставляет JWTAuth
const (
	ContextUserID   = "user_id"
	ContextRole     = "role"
	ContextUserName = "user_name"
)

func JWTAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Отсутствует токен авторизации", "code": "UNAUTHORIZED"})
			c.Abort()
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Неверный формат токена", "code": "UNAUTHORIZED"})
			c.Abort()
			return
		}

		claims, err := utils.ValidateToken(parts[1])
		if err != nil {
			log.Printf("Недействительный токен с %s: %v", c.ClientIP(), err)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Недействительный токен", "code": "UNAUTHORIZED"})
			c.Abort()
			return
		}

		// Админский токен может не иметь user_id
		if claims.UserID == 0 && claims.Role != utils.RoleAdmin {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Недействительный ID пользователя", "code": "UNAUTHORIZED"})
			c.Abort()
			return
		}

		role := claims.Role
		if role == "" {
			role = utils.RoleUser
		}
		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextRole, role)
		c.Set(ContextUserName, claims.Name)
		c.Next()
	}
}

// RequireRole пропускает только перечисленные роли. Админ проходит всегда.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := c.GetString(ContextRole)
		if role == utils.RoleAdmin {
			c.Next()
			return
		}
		for _, r := range roles {
			if r == role {
				c.Next()
				return
			}
		}
		c.JSON(http.StatusForbidden, gin.H{"error": "Недостаточно прав", "code": apperr.CodeForbidden})
		c.Abort()
	}
}
