package repository

import (
	"context"
	"time"
)

// AccountType es el conjunto cerrado de roles de cuenta que pueden tener sesión.
type AccountType string

const (
	AccountAdmin    AccountType = "admin"
	AccountProvider AccountType = "provider"
	AccountStaff    AccountType = "staff"
	AccountPatient  AccountType = "patient"
)

// Valid reporta si el tipo de cuenta pertenece al conjunto cerrado.
func (t AccountType) Valid() bool {
	switch t {
	case AccountAdmin, AccountProvider, AccountStaff, AccountPatient:
		return true
	}
	return false
}

// Session representa una sesión de usuario persistida.
// Solo se guarda el hash del token, nunca el token en claro.
type Session struct {
	ID             string
	AccountID      string
	AccountType    AccountType
	TokenHash      string
	OrganizationID *string

	// Campos denormalizados capturados al crear la sesión
	Username  string
	FirstName string
	LastName  string

	// Metadata de cliente (solo auditoría)
	IPAddress *string
	UserAgent *string

	// Rotación: hash del token anterior y hasta cuándo se tolera.
	// Solo poblados durante la ventana de gracia.
	PrevTokenHash       *string
	PrevTokenGraceUntil *time.Time

	CreatedAt time.Time
	ExpiresAt time.Time
}

// CreateSessionInput contiene los datos para crear una nueva sesión.
type CreateSessionInput struct {
	AccountID      string
	AccountType    AccountType
	TokenHash      string
	OrganizationID *string
	Username       string
	FirstName      string
	LastName       string
	IPAddress      string
	UserAgent      string
	ExpiresAt      time.Time

	// MaxPerAccount es el tope de sesiones vivas por cuenta.
	// Create elimina las más viejas antes de insertar (evict + insert atómico).
	MaxPerAccount int
}

// SessionRepository define operaciones para gestionar sesiones de usuario.
type SessionRepository interface {
	// Create crea una sesión nueva. Si la cuenta ya tiene MaxPerAccount o más
	// sesiones vivas, elimina las más antiguas (por created_at) dentro de la
	// misma transacción antes de insertar.
	Create(ctx context.Context, in CreateSessionInput) (*Session, error)

	// GetByTokenHash obtiene la sesión cuyo token actual tiene ese hash.
	// Retorna (nil, nil) si no existe.
	GetByTokenHash(ctx context.Context, tokenHash string) (*Session, error)

	// GetByPrevTokenHash obtiene la sesión cuyo token ANTERIOR tiene ese hash
	// y cuya ventana de gracia sigue abierta (NOW() del servidor).
	// Retorna (nil, nil) si no existe o la gracia ya venció.
	GetByPrevTokenHash(ctx context.Context, tokenHash string) (*Session, error)

	// Rotate reemplaza el hash del token en una sola sentencia:
	// guarda el hash viejo como prev_token_hash con su deadline de gracia y
	// extiende expires_at. Retorna false si afectó cero filas (carrera perdida
	// contra otra rotación concurrente).
	Rotate(ctx context.Context, oldHash, newHash string, graceUntil, expiresAt time.Time) (bool, error)

	// Delete elimina por hash de token actual. No-op si ya no existe.
	Delete(ctx context.Context, tokenHash string) error

	// DeleteByID elimina por id de fila (revocación dura por edad absoluta).
	DeleteByID(ctx context.Context, id string) error

	// DeleteAllByAccount elimina todas las sesiones de una cuenta
	// (logout global, cambio de password). Retorna cuántas borró.
	DeleteAllByAccount(ctx context.Context, accountID string) (int, error)

	// ListByAccount retorna las sesiones vivas de una cuenta, más nueva primero.
	ListByAccount(ctx context.Context, accountID string) ([]Session, error)

	// DeleteExpired elimina sesiones pasadas de expires_at o del techo de edad
	// absoluta. Retorna cuántas borró.
	DeleteExpired(ctx context.Context, absoluteMaxAge time.Duration) (int, error)
}
