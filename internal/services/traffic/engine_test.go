package traffic

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"bus-backend/internal/apperr"
	"bus-backend/internal/models"
	"bus-backend/internal/store"
)

type fakeBroadcaster struct {
	mu       sync.Mutex
	batches  [][]models.JunctionReading
	messages []models.TrafficChatMessage
}

func (f *fakeBroadcaster) BroadcastTraffic(r []models.JunctionReading) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, r)
}

func (f *fakeBroadcaster) BroadcastChat(m models.TrafficChatMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, m)
}

func newTestEngine(t *testing.T) (*Engine, *store.MemoryStore, *fakeBroadcaster) {
	t.Helper()
	s := store.NewMemoryStore()
	b := &fakeBroadcaster{}
	return NewEngine(s, b), s, b
}

func TestSimulateSeedsDefaults(t *testing.T) {
	e, s, b := newTestEngine(t)
	ctx := context.Background()

	created, err := e.Simulate(ctx)
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if len(created) != 3 {
		t.Fatalf("expected three readings, got %d", len(created))
	}
	for _, r := range created {
		if r.EntryCount < 50 || r.EntryCount >= 150 || r.ExitCount < 40 || r.ExitCount >= 130 {
			t.Errorf("counts out of range: %+v", r)
		}
		if r.Density != r.EntryCount-r.ExitCount || r.Level != Classify(float64(r.Density)) {
			t.Errorf("inconsistent reading %+v", r)
		}
	}

	junctions, _ := s.ListJunctions(ctx, false)
	if len(junctions) != 3 || junctions[0].JunctionID != "s1" {
		t.Fatalf("unexpected seeded junctions %+v", junctions)
	}
	if len(b.batches) != 1 || len(b.batches[0]) != 3 {
		t.Errorf("expected one broadcast batch of three readings")
	}

	// Повторная симуляция не создаёт перекрёстки заново
	if _, err := e.Simulate(ctx); err != nil {
		t.Fatalf("simulate: %v", err)
	}
	junctions, _ = s.ListJunctions(ctx, false)
	if len(junctions) != 3 {
		t.Errorf("defaults must be seeded once, got %d junctions", len(junctions))
	}
	latest, _ := e.Latest(ctx)
	if len(latest) != 3 {
		t.Errorf("expected latest reading per junction, got %d", len(latest))
	}
}

func TestIngestAndForecast(t *testing.T) {
	e, _, b := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.CreateJunction(ctx, JunctionInput{JunctionID: "j1", Name: "Абая/Сейфуллина", Lat: 43.24, Lng: 76.93}); err != nil {
		t.Fatalf("create junction: %v", err)
	}
	if _, err := e.Ingest(ctx, "missing", 1, 1, time.Time{}); !errors.Is(err, apperr.ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload for unknown junction, got %v", err)
	}

	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	r, err := e.Ingest(ctx, "j1", 60, 20, base)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if r.Density != 40 || r.Level != models.LevelModerate {
		t.Errorf("unexpected reading %+v", r)
	}

	f, err := e.Forecast(ctx, "j1")
	if err != nil || f != nil {
		t.Fatalf("single reading must give no forecast, got %+v %v", f, err)
	}

	if _, err := e.Ingest(ctx, "j1", 70, 20, base.Add(time.Minute)); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	f, err = e.Forecast(ctx, "j1")
	if err != nil || f == nil {
		t.Fatalf("expected forecast, got %v", err)
	}
	if f.PredictedDensity != 55 || f.Trend != 10 {
		t.Errorf("unexpected forecast %+v", f)
	}
	if len(b.batches) != 2 {
		t.Errorf("every ingested reading must be broadcast")
	}

	// Отрицательная плотность допустима
	r, err = e.Ingest(ctx, "j1", 5, 30, base.Add(2*time.Minute))
	if err != nil || r.Density != -25 || r.Level != models.LevelSmooth {
		t.Fatalf("unexpected negative reading %+v %v", r, err)
	}

	history, _ := e.History(ctx, "j1", 0)
	if len(history) != 3 || history[0].Density != 40 {
		t.Errorf("history must be chronological: %+v", history)
	}
}

func TestRisks(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	for _, id := range []string{"up", "down", "flat"} {
		if _, err := e.CreateJunction(ctx, JunctionInput{JunctionID: id, Name: id, Lat: 1, Lng: 1}); err != nil {
			t.Fatalf("create junction: %v", err)
		}
	}
	series := map[string][2]int{"up": {30, 45}, "down": {60, 40}, "flat": {10, 10}}
	for id, pair := range series {
		for i, d := range pair {
			if _, err := e.Ingest(ctx, id, d, 0, base.Add(time.Duration(i)*time.Minute)); err != nil {
				t.Fatalf("ingest: %v", err)
			}
		}
	}

	report, err := e.Risks(ctx)
	if err != nil {
		t.Fatalf("risks: %v", err)
	}
	// up: 45 -> 52.5 Heavy; down: 40 -> 30 остаётся Moderate
	if len(report.Escalations) != 1 || report.Escalations[0].JunctionID != "up" {
		t.Errorf("unexpected escalations %+v", report.Escalations)
	}
	if len(report.Cooldowns) != 0 {
		t.Errorf("unexpected cooldowns %+v", report.Cooldowns)
	}
}

func TestJunctionCRUD(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	j, err := e.CreateJunction(ctx, JunctionInput{JunctionID: "k1", Name: "Кольцо", Lat: 10, Lng: 20})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := e.CreateJunction(ctx, JunctionInput{JunctionID: "k1", Name: "Дубль", Lat: 10, Lng: 20}); !errors.Is(err, apperr.ErrInvalidPayload) {
		t.Errorf("expected duplicate to be rejected, got %v", err)
	}
	if _, err := e.CreateJunction(ctx, JunctionInput{JunctionID: "k2", Name: "Плохой", Lat: 100, Lng: 20}); !errors.Is(err, apperr.ErrInvalidPayload) {
		t.Errorf("expected invalid coordinates to be rejected, got %v", err)
	}

	inactive := false
	name := "Новое кольцо"
	updated, err := e.UpdateJunction(ctx, j.ID, JunctionPatch{Name: &name, Active: &inactive})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Name != name || updated.Active {
		t.Errorf("unexpected junction %+v", updated)
	}

	// Неактивный перекрёсток не попадает в симуляцию, стандартные не создаются
	created, err := e.Simulate(ctx)
	if err != nil || len(created) != 0 {
		t.Errorf("expected empty simulation, got %d readings, err %v", len(created), err)
	}

	if err := e.DeleteJunction(ctx, j.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := e.DeleteJunction(ctx, j.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := e.UpdateJunction(ctx, j.ID, JunctionPatch{}); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestChat(t *testing.T) {
	e, _, b := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.PostChat(ctx, 1, "Алия", "", "   "); !errors.Is(err, apperr.ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload for empty text, got %v", err)
	}
	if _, err := e.PostChat(ctx, 1, "Алия", "s1", "Пробка у ТЦ"); err != nil {
		t.Fatalf("post: %v", err)
	}
	if _, err := e.PostChat(ctx, 2, "Марат", "", "Всё свободно"); err != nil {
		t.Fatalf("post: %v", err)
	}

	all, _ := e.ListChat(ctx, "", 0)
	if len(all) != 2 {
		t.Errorf("expected two messages, got %d", len(all))
	}
	scoped, _ := e.ListChat(ctx, "s1", 10)
	if len(scoped) != 1 || scoped[0].UserName != "Алия" {
		t.Errorf("unexpected junction chat %+v", scoped)
	}
	if len(b.messages) != 2 {
		t.Errorf("every message must be broadcast")
	}
}

func TestRunSimulatorStopsOnCancel(t *testing.T) {
	e, _, b := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		e.RunSimulator(ctx, 10*time.Millisecond)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for {
		b.mu.Lock()
		n := len(b.batches)
		b.mu.Unlock()
		if n > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("simulator never produced a batch")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("simulator did not stop after cancel")
	}
}
