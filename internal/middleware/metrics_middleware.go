package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal - общее количество запросов
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Общее количество HTTP запросов",
		},
		[]string{"method", "endpoint", "status"},
	)

	// RequestDuration - длительность запросов
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Длительность HTTP запросов в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// RequestsInFlight - количество запросов в обработке
	RequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Текущее количество запросов в обработке",
		},
	)

	// BookingsTotal - попытки бронирования по результату
	BookingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seat_bookings_total",
			Help: "Попытки бронирования мест по коду результата",
		},
		[]string{"result"},
	)

	// QRVerificationsTotal - проверки QR-кода автобуса
	QRVerificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qr_verifications_total",
			Help: "Проверки QR-кода по сработавшему правилу и результату",
		},
		[]string{"rule", "result"},
	)

	// TrafficReadingsTotal - принятые замеры загруженности
	TrafficReadingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "traffic_readings_total",
			Help: "Принятые замеры загруженности перекрёстков по уровню",
		},
		[]string{"level"},
	)

	HubRooms = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ws_hub_rooms",
			Help: "Количество активных комнат рейсов в WebSocket хабе",
		},
	)

	HubSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ws_hub_subscribers",
			Help: "Количество подключённых WebSocket клиентов",
		},
	)
)

// PrometheusMiddleware собирает метрики для HTTP запросов
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		RequestsInFlight.Inc()
		defer RequestsInFlight.Dec()

		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()

		status := strconv.Itoa(c.Writer.Status())
		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unknown"
		}

		RequestsTotal.WithLabelValues(c.Request.Method, endpoint, status).Inc()
		RequestDuration.WithLabelValues(c.Request.Method, endpoint).Observe(duration)
	}
}

// TrackBooking отмечает попытку бронирования, result - "ok" или код ошибки
func TrackBooking(result string) {
	BookingsTotal.WithLabelValues(result).Inc()
}

func TrackQRVerification(rule, result string) {
	if rule == "" {
		rule = "none"
	}
	QRVerificationsTotal.WithLabelValues(rule, result).Inc()
}

func TrackTrafficReading(level string) {
	TrafficReadingsTotal.WithLabelValues(level).Inc()
}
