// Package traffic замеры загруженности перекрёстков, классификация и прогноз.
package traffic

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"sync"
	"time"

	"bus-backend/internal/apperr"
	"bus-backend/internal/middleware"
	"bus-backend/internal/models"
	"bus-backend/internal/services/geo"
	"bus-backend/internal/store"
)

// Сколько последних замеров берётся для прогноза и сглаживания
const forecastWindow = 10

type Store interface {
	ListJunctions(ctx context.Context, activeOnly bool) ([]models.TrafficJunction, error)
	GetJunction(ctx context.Context, junctionID string) (*models.TrafficJunction, error)
	GetJunctionByID(ctx context.Context, id uint) (*models.TrafficJunction, error)
	CreateJunction(ctx context.Context, j *models.TrafficJunction) error
	UpdateJunction(ctx context.Context, j *models.TrafficJunction) error
	DeleteJunction(ctx context.Context, id uint) error
	AppendReading(ctx context.Context, r *models.JunctionReading) error
	RecentReadings(ctx context.Context, junctionID string, limit int) ([]models.JunctionReading, error)
	LatestReadings(ctx context.Context) ([]models.JunctionReading, error)
	AppendChat(ctx context.Context, m *models.TrafficChatMessage) error
	ListChat(ctx context.Context, junctionID string, limit int) ([]models.TrafficChatMessage, error)
}

// Broadcaster рассылает замеры и сообщения чата всем подключённым клиентам
type Broadcaster interface {
	BroadcastTraffic(readings []models.JunctionReading)
	BroadcastChat(msg models.TrafficChatMessage)
}

// Перекрёстки, которые создаются при первой симуляции на пустой базе
var defaultJunctions = []models.TrafficJunction{
	{JunctionID: "s1", Name: "Sector 62 Junction", Location: models.GeoPoint{Lat: 28.6203, Lng: 77.3811}, Active: true},
	{JunctionID: "s2", Name: "Central Mall Circle", Location: models.GeoPoint{Lat: 28.6215, Lng: 77.385}, Active: true},
	{JunctionID: "s3", Name: "Tech Park Gate", Location: models.GeoPoint{Lat: 28.6189, Lng: 77.379}, Active: true},
}

type Engine struct {
	store     Store
	broadcast Broadcaster
	now       func() time.Time

	randMu sync.Mutex
	rand   *rand.Rand
}

func NewEngine(s Store, b Broadcaster) *Engine {
	return &Engine{
		store:     s,
		broadcast: b,
		now:       time.Now,
		rand:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (e *Engine) reading(j models.TrafficJunction, entry, exit int, ts time.Time) models.JunctionReading {
	density := entry - exit
	return models.JunctionReading{
		JunctionID: j.JunctionID,
		Name:       j.Name,
		Location:   j.Location,
		EntryCount: entry,
		ExitCount:  exit,
		Density:    density,
		Level:      Classify(float64(density)),
		Timestamp:  ts,
	}
}

// Ingest сохраняет замер от счётчика перекрёстка
func (e *Engine) Ingest(ctx context.Context, junctionID string, entry, exit int, ts time.Time) (*models.JunctionReading, error) {
	j, err := e.store.GetJunction(ctx, strings.TrimSpace(junctionID))
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.ErrInvalidPayload.WithMessage("Неизвестный перекрёсток")
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка получения перекрёстка: %w", err)
	}
	if ts.IsZero() {
		ts = e.now()
	}

	r := e.reading(*j, entry, exit, ts)
	if err := e.store.AppendReading(ctx, &r); err != nil {
		return nil, fmt.Errorf("ошибка сохранения замера: %w", err)
	}
	middleware.TrackTrafficReading(string(r.Level))
	e.broadcast.BroadcastTraffic([]models.JunctionReading{r})
	return &r, nil
}

// Latest последний замер по каждому перекрёстку
func (e *Engine) Latest(ctx context.Context) ([]models.JunctionReading, error) {
	return e.store.LatestReadings(ctx)
}

// History замеры перекрёстка в хронологическом порядке
func (e *Engine) History(ctx context.Context, junctionID string, limit int) ([]models.JunctionReading, error) {
	return e.store.RecentReadings(ctx, junctionID, store.ClampLimit(limit))
}

// Forecast прогноз для перекрёстка; nil без ошибки, если данных мало
func (e *Engine) Forecast(ctx context.Context, junctionID string) (*Forecast, error) {
	history, err := e.store.RecentReadings(ctx, junctionID, forecastWindow)
	if err != nil {
		return nil, err
	}
	f, ok := ComputeForecast(history)
	if !ok {
		return nil, nil
	}
	return f, nil
}

// Risks прогнозы по активным перекрёсткам, разделённые на рост и спад
func (e *Engine) Risks(ctx context.Context) (*RiskReport, error) {
	junctions, err := e.store.ListJunctions(ctx, true)
	if err != nil {
		return nil, err
	}

	forecasts := make([]Forecast, 0, len(junctions))
	for _, j := range junctions {
		f, err := e.Forecast(ctx, j.JunctionID)
		if err != nil {
			return nil, err
		}
		if f != nil {
			forecasts = append(forecasts, *f)
		}
	}
	report := buildRiskReport(forecasts)
	return &report, nil
}

func (e *Engine) randomCounts() (int, int) {
	e.randMu.Lock()
	defer e.randMu.Unlock()
	return 50 + e.rand.Intn(100), 40 + e.rand.Intn(90)
}

// Simulate генерирует по одному случайному замеру для каждого активного перекрёстка
func (e *Engine) Simulate(ctx context.Context) ([]models.JunctionReading, error) {
	junctions, err := e.store.ListJunctions(ctx, true)
	if err != nil {
		return nil, err
	}
	if len(junctions) == 0 {
		junctions, err = e.seedDefaults(ctx)
		if err != nil {
			return nil, err
		}
	}

	now := e.now()
	created := make([]models.JunctionReading, 0, len(junctions))
	for _, j := range junctions {
		entry, exit := e.randomCounts()
		r := e.reading(j, entry, exit, now)
		if err := e.store.AppendReading(ctx, &r); err != nil {
			return nil, fmt.Errorf("ошибка сохранения замера: %w", err)
		}
		middleware.TrackTrafficReading(string(r.Level))
		created = append(created, r)
	}
	if len(created) > 0 {
		e.broadcast.BroadcastTraffic(created)
	}
	return created, nil
}

// seedDefaults создаёт стандартные перекрёстки, только если их нет совсем
func (e *Engine) seedDefaults(ctx context.Context) ([]models.TrafficJunction, error) {
	all, err := e.store.ListJunctions(ctx, false)
	if err != nil {
		return nil, err
	}
	if len(all) > 0 {
		return nil, nil
	}

	seeded := make([]models.TrafficJunction, 0, len(defaultJunctions))
	for _, d := range defaultJunctions {
		j := d
		if err := e.store.CreateJunction(ctx, &j); err != nil && !errors.Is(err, store.ErrDuplicate) {
			return nil, fmt.Errorf("ошибка создания перекрёстка %s: %w", j.JunctionID, err)
		}
		seeded = append(seeded, j)
	}
	log.Printf("Созданы стандартные перекрёстки: %d", len(seeded))
	return seeded, nil
}

// RunSimulator запускает симуляцию по таймеру до отмены контекста
func (e *Engine) RunSimulator(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("Симулятор трафика запущен, интервал %v", interval)
	for {
		select {
		case <-ctx.Done():
			log.Println("Симулятор трафика остановлен")
			return
		case <-ticker.C:
			if _, err := e.Simulate(ctx); err != nil {
				log.Printf("Ошибка симуляции трафика: %v", err)
			}
		}
	}
}

// ---------- перекрёстки ----------

type JunctionInput struct {
	JunctionID string
	Name       string
	Lat        float64
	Lng        float64
}

type JunctionPatch struct {
	Name   *string
	Lat    *float64
	Lng    *float64
	Active *bool
}

func (e *Engine) ListJunctions(ctx context.Context) ([]models.TrafficJunction, error) {
	return e.store.ListJunctions(ctx, false)
}

func (e *Engine) CreateJunction(ctx context.Context, in JunctionInput) (*models.TrafficJunction, error) {
	id, name := strings.TrimSpace(in.JunctionID), strings.TrimSpace(in.Name)
	if id == "" || name == "" {
		return nil, apperr.ErrInvalidPayload.WithMessage("signalId и name обязательны")
	}
	if err := geo.Validate(in.Lat, in.Lng); err != nil {
		return nil, apperr.ErrInvalidPayload.Wrap(err)
	}

	j := &models.TrafficJunction{JunctionID: id, Name: name, Location: models.GeoPoint{Lat: in.Lat, Lng: in.Lng}, Active: true}
	err := e.store.CreateJunction(ctx, j)
	if errors.Is(err, store.ErrDuplicate) {
		return nil, apperr.ErrInvalidPayload.WithMessage("Перекрёсток с таким signalId уже существует")
	}
	if err != nil {
		return nil, err
	}
	return j, nil
}

func (e *Engine) UpdateJunction(ctx context.Context, id uint, p JunctionPatch) (*models.TrafficJunction, error) {
	j, err := e.store.GetJunctionByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.ErrNotFound.WithMessage("Перекрёсток не найден")
	}
	if err != nil {
		return nil, err
	}

	if p.Name != nil && strings.TrimSpace(*p.Name) != "" {
		j.Name = strings.TrimSpace(*p.Name)
	}
	if p.Lat != nil && p.Lng != nil {
		if err := geo.Validate(*p.Lat, *p.Lng); err != nil {
			return nil, apperr.ErrInvalidPayload.Wrap(err)
		}
		j.Location = models.GeoPoint{Lat: *p.Lat, Lng: *p.Lng}
	}
	if p.Active != nil {
		j.Active = *p.Active
	}
	if err := e.store.UpdateJunction(ctx, j); err != nil {
		return nil, err
	}
	return j, nil
}

func (e *Engine) DeleteJunction(ctx context.Context, id uint) error {
	err := e.store.DeleteJunction(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return apperr.ErrNotFound.WithMessage("Перекрёсток не найден")
	}
	return err
}

// ---------- чат ----------

func (e *Engine) PostChat(ctx context.Context, userID uint, userName string, junctionID, text string) (*models.TrafficChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, apperr.ErrInvalidPayload.WithMessage("Текст сообщения обязателен")
	}

	msg := &models.TrafficChatMessage{UserID: userID, UserName: userName, Text: text, CreatedAt: e.now()}
	if id := strings.TrimSpace(junctionID); id != "" {
		msg.JunctionID = &id
	}
	if err := e.store.AppendChat(ctx, msg); err != nil {
		return nil, fmt.Errorf("ошибка сохранения сообщения: %w", err)
	}
	e.broadcast.BroadcastChat(*msg)
	return msg, nil
}

// ListChat сообщения в хронологическом порядке; пустой junctionID означает все
func (e *Engine) ListChat(ctx context.Context, junctionID string, limit int) ([]models.TrafficChatMessage, error) {
	return e.store.ListChat(ctx, strings.TrimSpace(junctionID), store.ClampLimit(limit))
}
