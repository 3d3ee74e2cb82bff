package models

import (
	"time"
)

type CredentialKind string

const CredentialKindQR CredentialKind = "qr"

// VerificationCredential подтверждение, что пассажир отсканировал QR-код
// автобуса конкретного рейса. Живёт только в кэше.
type VerificationCredential struct {
	ID            string         `json:"id"`
	SubjectUserID uint           `json:"subjectUserId"`
	RideID        uint           `json:"rideId"`
	Kind          CredentialKind `json:"kind"`
	IssuedAt      time.Time      `json:"issuedAt"`
	ExpiresAt     time.Time      `json:"expiresAt"`
}
