package qrgate

import (
	"context"
	"errors"
	"testing"
	"time"

	"bus-backend/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func newRedisStore(t *testing.T) (*RedisCredentialStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisCredentialStore(client), mr
}

func TestRedisCredentialStore(t *testing.T) {
	s, mr := newRedisStore(t)
	ctx := context.Background()
	issued := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	c := models.VerificationCredential{
		ID:            "a1b2",
		SubjectUserID: 7,
		RideID:        3,
		Kind:          models.CredentialKindQR,
		IssuedAt:      issued,
		ExpiresAt:     issued.Add(CredentialTTL),
	}
	ttl := CredentialTTL + credentialGrace

	if err := s.Save(ctx, c, ttl); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !mr.Exists("qrcred:a1b2") {
		t.Fatal("ключ qrcred:a1b2 не записан")
	}
	if mr.Exists("a1b2") {
		t.Error("подтверждение записано без префикса")
	}
	if got := mr.TTL("qrcred:a1b2"); got != ttl {
		t.Errorf("TTL = %v, want %v", got, ttl)
	}

	got, err := s.Load(ctx, "a1b2")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.SubjectUserID != 7 || got.RideID != 3 || got.Kind != models.CredentialKindQR {
		t.Errorf("Load = %+v", got)
	}
	if !got.IssuedAt.Equal(c.IssuedAt) || !got.ExpiresAt.Equal(c.ExpiresAt) {
		t.Errorf("время подтверждения искажено: %v / %v", got.IssuedAt, got.ExpiresAt)
	}

	if _, err := s.Load(ctx, "missing"); !errors.Is(err, ErrCredentialNotFound) {
		t.Errorf("Load(missing) = %v, want ErrCredentialNotFound", err)
	}

	mr.FastForward(ttl + time.Second)
	if _, err := s.Load(ctx, "a1b2"); !errors.Is(err, ErrCredentialNotFound) {
		t.Errorf("Load после TTL = %v, want ErrCredentialNotFound", err)
	}
}

func TestRedisCredentialStoreCorrupt(t *testing.T) {
	s, mr := newRedisStore(t)
	if err := mr.Set("qrcred:bad", "{not json"); err != nil {
		t.Fatal(err)
	}
	_, err := s.Load(context.Background(), "bad")
	if err == nil || errors.Is(err, ErrCredentialNotFound) {
		t.Errorf("Load(bad) = %v, want decode error", err)
	}
}

func TestRedisCredentialStoreUnavailable(t *testing.T) {
	s, mr := newRedisStore(t)
	mr.Close()
	_, err := s.Load(context.Background(), "a1b2")
	if err == nil || errors.Is(err, ErrCredentialNotFound) {
		t.Errorf("Load без Redis = %v, want connection error", err)
	}
}
