package config

import (
	"testing"
	"time"
)

func TestFromEnvDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "STORE_DRIVER", "DB_MAX_OPEN_CONNS", "TRAFFIC_SIM_INTERVAL_MS", "CORS_ORIGINS", "REDIS_HOST", "REDIS_PORT"} {
		t.Setenv(key, "")
	}

	cfg := FromEnv()
	if cfg.Port != "8080" {
		t.Errorf("expected default port 8080, got %q", cfg.Port)
	}
	if cfg.StoreDriver != "postgres" {
		t.Errorf("expected postgres driver, got %q", cfg.StoreDriver)
	}
	if cfg.DB.MaxOpenConns != 100 {
		t.Errorf("expected 100 open conns, got %d", cfg.DB.MaxOpenConns)
	}
	if cfg.TrafficSimInterval != 0 {
		t.Errorf("simulator must be disabled by default, got %v", cfg.TrafficSimInterval)
	}
	if len(cfg.CORSOrigins) != 1 || cfg.CORSOrigins[0] != "*" {
		t.Errorf("unexpected CORS origins %v", cfg.CORSOrigins)
	}
	if cfg.Redis.Addr() != "localhost:6379" {
		t.Errorf("unexpected redis addr %q", cfg.Redis.Addr())
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "Memory")
	t.Setenv("TRAFFIC_SIM_INTERVAL_MS", "1500")
	t.Setenv("DB_MAX_IDLE_CONNS", "abc")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example ,")

	cfg := FromEnv()
	if cfg.StoreDriver != "memory" {
		t.Errorf("driver must be lowercased, got %q", cfg.StoreDriver)
	}
	if cfg.TrafficSimInterval != 1500*time.Millisecond {
		t.Errorf("unexpected interval %v", cfg.TrafficSimInterval)
	}
	if cfg.DB.MaxIdleConns != 25 {
		t.Errorf("invalid number must fall back to default, got %d", cfg.DB.MaxIdleConns)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://b.example" {
		t.Errorf("unexpected CORS origins %v", cfg.CORSOrigins)
	}
}
