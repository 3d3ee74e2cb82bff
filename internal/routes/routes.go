package routes

import (
	"bus-backend/internal/handlers"
	"bus-backend/internal/middleware"
	"bus-backend/internal/services/booking"
	"bus-backend/internal/services/qrgate"
	"bus-backend/internal/services/traffic"
	"bus-backend/internal/store"
	"bus-backend/internal/utils"

	"github.com/gin-gonic/gin"
)

// Services зависимости обработчиков API
type Services struct {
	Store    store.Store
	Bookings *booking.Engine
	Gate     *qrgate.Gate
	Traffic  *traffic.Engine
	Notifier handlers.UserNotifier
}

func SetupRoutes(api *gin.RouterGroup, s Services) {
	// Публичные маршруты
	api.GET("/rides", handlers.RideList(s.Store))
	api.GET("/rides/:id", handlers.RideGet(s.Store))
	api.GET("/rides/:id/seats", handlers.RideSeats(s.Bookings))

	api.GET("/traffic", handlers.TrafficLatest(s.Traffic))
	api.GET("/traffic/risks", handlers.TrafficRisks(s.Traffic))
	api.GET("/traffic/:junctionId/history", handlers.TrafficHistory(s.Traffic))
	api.GET("/traffic/:junctionId/forecast", handlers.TrafficForecast(s.Traffic))

	// Данные от IoT-счётчиков
	api.POST("/iot/update", handlers.IoTUpdate(s.Bookings, s.Traffic))

	// Защищенные маршруты (требуют аутентификации)
	protected := api.Group("")
	protected.Use(middleware.JWTAuth())
	{
		protected.POST("/rides/:id/verify-qr", handlers.RideVerifyQR(s.Gate))
		protected.POST("/rides/:id/book", handlers.RideBook(s.Bookings, s.Notifier))

		protected.GET("/traffic/chat", handlers.TrafficChatList(s.Traffic))
		protected.POST("/traffic/chat", handlers.TrafficChatPost(s.Traffic))
	}

	conductor := protected.Group("/conductor")
	conductor.Use(middleware.RequireRole(utils.RoleConductor))
	{
		conductor.POST("/rides", handlers.ConductorCreateRide(s.Bookings))
		conductor.POST("/rides/:id/passengers", handlers.ConductorAddPassenger(s.Bookings))
		conductor.PATCH("/rides/:id/passengers/:index/pay", handlers.ConductorMarkPaid(s.Bookings))
		conductor.PATCH("/rides/:id/location", handlers.ConductorUpdateLocation(s.Bookings))
		conductor.PATCH("/rides/:id/counter", handlers.ConductorSetCounter(s.Bookings))
		conductor.PATCH("/rides/:id/end", handlers.ConductorEndRide(s.Bookings))
		conductor.GET("/buses/available", handlers.ConductorAvailableBuses(s.Store))
	}

	admin := protected.Group("")
	admin.Use(middleware.RequireRole(utils.RoleAdmin))
	{
		admin.POST("/admin/buses", handlers.AdminCreateBus(s.Store))
		admin.GET("/admin/buses", handlers.AdminListBuses(s.Store))

		admin.POST("/traffic/simulate", handlers.TrafficSimulate(s.Traffic))
		admin.GET("/traffic/junctions", handlers.JunctionList(s.Traffic))
		admin.POST("/traffic/junctions", handlers.JunctionCreate(s.Traffic))
		admin.PATCH("/traffic/junctions/:id", handlers.JunctionUpdate(s.Traffic))
		admin.DELETE("/traffic/junctions/:id", handlers.JunctionDelete(s.Traffic))
	}
}
