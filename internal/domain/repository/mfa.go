package repository

import (
	"context"
	"time"
)

// ChallengePurpose es el flow al que pertenece un challenge MFA.
type ChallengePurpose string

const (
	PurposeLogin         ChallengePurpose = "login"
	PurposePasswordReset ChallengePurpose = "password_reset"
)

// Valid reporta si el purpose pertenece al conjunto cerrado.
func (p ChallengePurpose) Valid() bool {
	switch p {
	case PurposeLogin, PurposePasswordReset:
		return true
	}
	return false
}

// MFAChallenge representa un intento OTP en vuelo o ya resuelto.
// token_hash y code_hash se guardan hasheados, nunca en claro.
type MFAChallenge struct {
	ID          string
	AccountID   string
	AccountType AccountType
	Purpose     ChallengePurpose

	TokenHash   string
	CodeHash    string
	ContextHash *string

	// Claims copiados al emitir y re-chequeados en verify/consume.
	// Defensa contra confusión de tokens entre subsistemas.
	Issuer       string
	Audience     string
	TokenType    string
	TokenContext string

	AttemptCount  int
	MaxAttempts   int
	CooldownUntil *time.Time

	VerifiedAt *time.Time
	ConsumedAt *time.Time

	// Solo auditoría
	IPAddress *string
	UserAgent *string

	CreatedAt time.Time
	ExpiresAt time.Time
}

// CreateChallengeInput contiene los datos para emitir un challenge nuevo.
type CreateChallengeInput struct {
	AccountID   string
	AccountType AccountType
	Purpose     ChallengePurpose
	TokenHash   string
	CodeHash    string
	ContextHash *string

	Issuer       string
	Audience     string
	TokenType    string
	TokenContext string

	MaxAttempts int
	IPAddress   string
	UserAgent   string
	ExpiresAt   time.Time
}

// MFARepository define operaciones sobre challenges OTP.
type MFARepository interface {
	// CreateChallenge inserta un challenge nuevo y, en la misma transacción,
	// marca como consumido cualquier challenge abierto para la misma clave
	// (cuenta, purpose, context). Garantiza a lo sumo uno activo.
	CreateChallenge(ctx context.Context, in CreateChallengeInput) (*MFAChallenge, error)

	// GetOpenByTokenHash obtiene el challenge NO consumido con ese hash de token.
	// Retorna (nil, nil) si no existe.
	GetOpenByTokenHash(ctx context.Context, tokenHash string) (*MFAChallenge, error)

	// RecordFailedAttempt incrementa attempt_count en una sola sentencia y,
	// si con este fallo se alcanza max_attempts, fija cooldown_until.
	// Retorna el contador ya incrementado.
	RecordFailedAttempt(ctx context.Context, id string, cooldownUntil time.Time) (int, error)

	// MarkVerified fija verified_at una única vez.
	// Retorna false si ya estaba verificado o consumido.
	MarkVerified(ctx context.Context, id string, at time.Time) (bool, error)

	// MarkConsumed fija consumed_at una única vez, solo si verified_at ya está.
	MarkConsumed(ctx context.Context, id string, at time.Time) (bool, error)

	// ConsumeWithBackupCode marca en una sola transacción el backup code como
	// usado y el challenge como verificado+consumido (el backup code es prueba
	// completa, no hay paso intermedio). Retorna false si el code ya no estaba
	// activo o el challenge ya estaba resuelto.
	ConsumeWithBackupCode(ctx context.Context, challengeID, accountID, codeHash string, at time.Time) (bool, error)

	// DeleteResolved elimina challenges consumidos o expirados con más
	// antigüedad que retention. Retorna cuántos borró.
	DeleteResolved(ctx context.Context, retention time.Duration) (int, error)
}
