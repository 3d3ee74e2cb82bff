// Package config читает настройки сервиса из окружения (и .env файла).
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port    string
	GinMode string

	// memory или postgres
	StoreDriver string

	DB    DBConfig
	Redis RedisConfig

	JWTSecret   string
	CORSOrigins []string

	// 0 отключает фоновый симулятор трафика
	TrafficSimInterval time.Duration
}

type DBConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	Name            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DSN строка подключения для gorm.io/driver/postgres
func (c DBConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.Host, c.Port, c.User, c.Password, c.Name)
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
}

func (c RedisConfig) Addr() string {
	return c.Host + ":" + c.Port
}

// Load подгружает .env (если есть) и собирает конфигурацию
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Файл .env не найден, используем переменные окружения")
	}
	return FromEnv()
}

// FromEnv собирает конфигурацию только из переменных окружения
func FromEnv() Config {
	cfg := Config{
		Port:        getEnv("PORT", "8080"),
		GinMode:     os.Getenv("GIN_MODE"),
		StoreDriver: strings.ToLower(getEnv("STORE_DRIVER", "postgres")),
		DB: DBConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnv("DB_PORT", "5432"),
			User:            getEnv("DB_USER", "postgres"),
			Password:        os.Getenv("DB_PASSWORD"),
			Name:            getEnv("DB_NAME", "bus"),
			MaxOpenConns:    getInt("DB_MAX_OPEN_CONNS", 100),
			MaxIdleConns:    getInt("DB_MAX_IDLE_CONNS", 25),
			ConnMaxLifetime: time.Duration(getInt("DB_CONN_MAX_LIFETIME_MINUTES", 60)) * time.Minute,
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
		},
		JWTSecret:          os.Getenv("JWT_SECRET"),
		CORSOrigins:        splitList(getEnv("CORS_ORIGINS", "*")),
		TrafficSimInterval: time.Duration(getInt("TRAFFIC_SIM_INTERVAL_MS", 0)) * time.Millisecond,
	}
	return cfg
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// getInt возвращает значение по умолчанию для пустых, нечисловых
// и отрицательных значений
func getInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val < 0 {
		log.Printf("Некорректное значение %s=%q, используем %d", key, raw, def)
		return def
	}
	return val
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
