// Package qrgate проверяет отсканированный QR-код автобуса и выдаёт
// короткоживущее подтверждение, по которому пассажир может забронировать место.
package qrgate

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"bus-backend/internal/apperr"
	"bus-backend/internal/models"
	"bus-backend/internal/store"

	"github.com/google/uuid"
)

const (
	// CredentialTTL срок действия подтверждения
	CredentialTTL = 5 * time.Minute
	// Запись живёт в хранилище чуть дольше срока действия, чтобы
	// запоздавший запрос получил TOKEN_EXPIRED, а не ошибку области
	credentialGrace = time.Minute
)

// RideReader доступ к рейсам и автобусам, нужный шлюзу
type RideReader interface {
	GetRide(ctx context.Context, id uint) (*models.Ride, error)
	GetBus(ctx context.Context, id uint) (*models.Bus, error)
	AdoptBusQR(ctx context.Context, busID uint, code string) (string, error)
}

type Gate struct {
	rides RideReader
	creds CredentialStore
	now   func() time.Time
}

func NewGate(rides RideReader, creds CredentialStore) *Gate {
	return &Gate{rides: rides, creds: creds, now: time.Now}
}

// Verification результат успешной проверки кода
type Verification struct {
	Credential models.VerificationCredential
	Rule       string
}

// RequestVerification сверяет код с эталонным кодом автобуса рейса и
// выдаёт подтверждение для пары (рейс, пользователь)
func (g *Gate) RequestVerification(ctx context.Context, rideID, userID uint, scannedCode string) (*Verification, error) {
	ride, err := g.rides.GetRide(ctx, rideID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.ErrRideNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка получения поездки: %w", err)
	}
	if ride.Kind != models.RideKindInter || !ride.Active || ride.BusID == nil {
		return nil, apperr.ErrRideNotEligible
	}

	bus, err := g.rides.GetBus(ctx, *ride.BusID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.ErrRideNotEligible
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка получения автобуса: %w", err)
	}

	scanned := strings.TrimSpace(scannedCode)
	rule, err := g.matchBus(ctx, bus, scanned)
	if err != nil {
		return nil, err
	}

	now := g.now()
	cred := models.VerificationCredential{
		ID:            uuid.NewString(),
		SubjectUserID: userID,
		RideID:        ride.ID,
		Kind:          models.CredentialKindQR,
		IssuedAt:      now,
		ExpiresAt:     now.Add(CredentialTTL),
	}
	if err := g.creds.Save(ctx, cred, CredentialTTL+credentialGrace); err != nil {
		return nil, err
	}

	return &Verification{Credential: cred, Rule: rule}, nil
}

func (g *Gate) matchBus(ctx context.Context, bus *models.Bus, scanned string) (string, error) {
	if rule, ok := matchCanonical(bus.QRValue, scanned); ok {
		return rule, nil
	}
	if bus.QRValue != "" || !adoptable(bus.Number, scanned) {
		return "", apperr.ErrInvalidQR
	}

	// Кода ещё нет: принимаем скан как эталонный. Если параллельный запрос
	// успел записать другой код, сверяемся уже с ним.
	stored, err := g.rides.AdoptBusQR(ctx, bus.ID, scanned)
	if err != nil {
		return "", fmt.Errorf("ошибка сохранения QR-кода автобуса: %w", err)
	}
	if stored == scanned {
		log.Printf("Автобус %s: принят QR-код %s", bus.Number, scanned)
		return "adopted", nil
	}
	if rule, ok := matchCanonical(stored, scanned); ok {
		return rule, nil
	}
	return "", apperr.ErrInvalidQR
}

// Redeem проверяет подтверждение перед бронированием.
// Подтверждение не одноразовое: повторная проверка до истечения срока успешна.
func (g *Gate) Redeem(ctx context.Context, token string, rideID, userID uint) (*models.VerificationCredential, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, apperr.ErrInvalidCredentialScope.WithMessage("Отсутствует подтверждение QR-кода")
	}

	cred, err := g.creds.Load(ctx, token)
	if errors.Is(err, ErrCredentialNotFound) {
		return nil, apperr.ErrTokenExpired
	}
	if err != nil {
		return nil, err
	}

	if err := ValidateCredential(cred, rideID, userID, g.now()); err != nil {
		return nil, err
	}
	return cred, nil
}

// ValidateCredential проверяет срок действия и область подтверждения
func ValidateCredential(c *models.VerificationCredential, rideID, userID uint, now time.Time) error {
	if c == nil {
		return apperr.ErrInvalidCredentialScope
	}
	if !now.Before(c.ExpiresAt) {
		return apperr.ErrTokenExpired
	}
	if c.Kind != models.CredentialKindQR || c.RideID != rideID || c.SubjectUserID != userID {
		return apperr.ErrInvalidCredentialScope
	}
	return nil
}

// NewCanonicalCode генерирует эталонный код для нового автобуса
func NewCanonicalCode(busNumber string) string {
	u := uuid.New()
	return expectedPrefix(busNumber) + ":" + strings.ToUpper(hex.EncodeToString(u[:4]))
}
