package repository

import (
	"context"
	"time"
)

// BackupCode es un credential de recuperación de un solo uso.
// Activo ⟺ used_at IS NULL AND invalidated_at IS NULL.
type BackupCode struct {
	ID            string
	AccountID     string
	AccountType   AccountType
	CodeHash      string
	CreatedAt     time.Time
	UsedAt        *time.Time
	InvalidatedAt *time.Time
}

// RecoveryState vive junto a la cuenta y solo lo muta un administrador.
type RecoveryState struct {
	AccountID            string
	RegenerationRequired bool
	Epoch                int
	LastResetAt          *time.Time
}

// BackupCodeStatus es el agregado de solo lectura para la UI.
type BackupCodeStatus struct {
	ActiveCodes     int
	LastGeneratedAt *time.Time
}

// BackupCodeRepository define operaciones sobre recovery codes y su estado.
type BackupCodeRepository interface {
	// Status retorna cuántos codes activos hay y cuándo se generó el último.
	Status(ctx context.Context, accountID string) (*BackupCodeStatus, error)

	// ActiveCodes retorna los codes activos (para comparar hashes en verify).
	ActiveCodes(ctx context.Context, accountID string) ([]BackupCode, error)

	// Replace inserta los hashes nuevos. Si la cuenta tiene codes activos y
	// rotate es false, retorna ErrConflict sin tocar nada. Si rotate es true,
	// invalida todos los activos e inserta en la misma transacción; además
	// limpia el flag regeneration_required del recovery state.
	Replace(ctx context.Context, accountID string, accountType AccountType, hashes []string, rotate bool) error

	// Use marca un code como usado (UPDATE ... WHERE used_at IS NULL AND
	// invalidated_at IS NULL). Retorna true si existía y fue marcado.
	Use(ctx context.Context, accountID, codeHash string, at time.Time) (bool, error)

	// GetRecoveryState retorna el estado de recuperación de la cuenta.
	// Si la cuenta no tiene fila, retorna el estado cero (sin flag).
	GetRecoveryState(ctx context.Context, accountID string) (*RecoveryState, error)

	// RequireRegeneration fija el flag, incrementa el epoch y registra el
	// timestamp del reset. Disparado solo por un administrador.
	RequireRegeneration(ctx context.Context, accountID string, at time.Time) (*RecoveryState, error)
}
