// Package rate implementa limitadores fixed-window compartidos por los
// flows de login, verificación OTP y reset.
package rate

import (
	"context"
	"time"
)

type Result struct {
	Allowed     bool
	Remaining   int64
	RetryAfter  time.Duration
	CurrentHits int64
}

// Limiter es el contrato común a todos los backends.
// Los callers de flows de login deben tratar un error como deny (fail closed).
type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)

	// Clear descarta el bucket para que un usuario legítimo pueda reintentar
	// de inmediato tras un login exitoso.
	Clear(ctx context.Context, key string) error
}
