package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bus-backend/internal/config"
	"bus-backend/internal/db"
	"bus-backend/internal/middleware"
	"bus-backend/internal/routes"
	"bus-backend/internal/services/booking"
	"bus-backend/internal/services/qrgate"
	"bus-backend/internal/services/traffic"
	"bus-backend/internal/store"
	"bus-backend/internal/utils"
	"bus-backend/internal/websocket"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// openStore выбирает хранилище по STORE_DRIVER
func openStore(cfg config.Config) store.Store {
	if cfg.StoreDriver == "memory" {
		log.Println("Используется хранилище в памяти, данные не сохраняются между запусками")
		return store.NewMemoryStore()
	}

	gdb, err := db.ConnectWithRetry(cfg.DB, 5, 5*time.Second)
	if err != nil {
		log.Fatal("Ошибка подключения к базе данных:", err)
	}
	s := store.NewGormStore(gdb)
	if err := s.Migrate(); err != nil {
		log.Fatal("Ошибка миграции базы данных:", err)
	}
	return s
}

func main() {
	cfg := config.Load()

	if cfg.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	if cfg.JWTSecret == "" {
		log.Println("Предупреждение: JWT_SECRET не задан")
	}
	utils.SetSecret(cfg.JWTSecret)

	st := openStore(cfg)

	// Подтверждения QR-кода храним в Redis, без него в памяти процесса
	var creds qrgate.CredentialStore
	redisClient, err := db.NewRedisClient(cfg.Redis)
	if err != nil {
		log.Println("Предупреждение: Redis недоступен, подтверждения хранятся в памяти:", err)
		creds = qrgate.NewMemoryCredentialStore()
	} else {
		log.Println("Успешное подключение к Redis")
		defer redisClient.Close()
		creds = qrgate.NewRedisCredentialStore(redisClient)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	hub := websocket.NewHub()
	go hub.Run(ctx)

	gate := qrgate.NewGate(st, creds)
	bookings := booking.NewEngine(st, gate, hub)
	trafficEngine := traffic.NewEngine(st, hub)

	if cfg.TrafficSimInterval > 0 {
		log.Printf("Симуляция трафика включена, интервал %s", cfg.TrafficSimInterval)
		go trafficEngine.RunSimulator(ctx, cfg.TrafficSimInterval)
	}

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(middleware.PrometheusMiddleware())
	r.SetTrustedProxies([]string{"127.0.0.1"})

	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	api := r.Group("/api")
	routes.SetupRoutes(api, routes.Services{
		Store:    st,
		Bookings: bookings,
		Gate:     gate,
		Traffic:  trafficEngine,
		Notifier: hub,
	})

	// WebSocket вне группы /api, токен необязателен
	r.GET("/ws", websocket.Handler(hub))

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Printf("Сервер запущен на порту %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Ошибка запуска сервера: %s", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Получен сигнал завершения, закрываем соединения...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Ошибка при graceful shutdown: %s", err)
	}
	stop()

	log.Println("Сервер корректно завершил работу")
}
