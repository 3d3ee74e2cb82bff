package qrgate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"bus-backend/internal/models"

	"github.com/go-redis/redis/v8"
	"github.com/patrickmn/go-cache"
)

// ErrCredentialNotFound подтверждение не найдено (истекло и вытеснено или не выдавалось)
var ErrCredentialNotFound = errors.New("qrgate: credential not found")

// CredentialStore короткоживущее хранилище подтверждений
type CredentialStore interface {
	Save(ctx context.Context, c models.VerificationCredential, ttl time.Duration) error
	Load(ctx context.Context, id string) (*models.VerificationCredential, error)
}

const redisKeyPrefix = "qrcred:"

// RedisCredentialStore хранит подтверждения в Redis с TTL
type RedisCredentialStore struct {
	client *redis.Client
}

func NewRedisCredentialStore(client *redis.Client) *RedisCredentialStore {
	return &RedisCredentialStore{client: client}
}

func (s *RedisCredentialStore) Save(ctx context.Context, c models.VerificationCredential, ttl time.Duration) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("ошибка сериализации подтверждения: %w", err)
	}
	if err := s.client.Set(ctx, redisKeyPrefix+c.ID, data, ttl).Err(); err != nil {
		return fmt.Errorf("ошибка сохранения подтверждения в Redis: %w", err)
	}
	return nil
}

func (s *RedisCredentialStore) Load(ctx context.Context, id string) (*models.VerificationCredential, error) {
	data, err := s.client.Get(ctx, redisKeyPrefix+id).Bytes()
	if err == redis.Nil {
		return nil, ErrCredentialNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения подтверждения из Redis: %w", err)
	}

	var c models.VerificationCredential
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("ошибка десериализации подтверждения: %w", err)
	}
	return &c, nil
}

// MemoryCredentialStore хранит подтверждения в памяти процесса.
// Используется, когда Redis недоступен.
type MemoryCredentialStore struct {
	cache *cache.Cache
}

func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{cache: cache.New(CredentialTTL+credentialGrace, time.Minute)}
}

func (s *MemoryCredentialStore) Save(ctx context.Context, c models.VerificationCredential, ttl time.Duration) error {
	s.cache.Set(c.ID, c, ttl)
	return nil
}

func (s *MemoryCredentialStore) Load(ctx context.Context, id string) (*models.VerificationCredential, error) {
	v, ok := s.cache.Get(id)
	if !ok {
		return nil, ErrCredentialNotFound
	}
	c := v.(models.VerificationCredential)
	return &c, nil
}
