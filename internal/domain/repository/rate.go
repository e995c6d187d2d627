package repository

import (
	"context"
	"time"
)

// RateConsumeResult es el resultado de consumir un intento del bucket.
type RateConsumeResult struct {
	Allowed    bool
	Count      int64
	RetryAfter time.Duration
}

// RateLimitRepository define el contador fixed-window persistido.
type RateLimitRepository interface {
	// Consume incrementa el contador del bucket en un solo upsert atómico,
	// reseteándolo si la ventana guardada ya venció. Nunca read-then-write:
	// bajo concurrencia eso permitiría saltarse el límite.
	Consume(ctx context.Context, bucketKey string, max int64, window time.Duration) (*RateConsumeResult, error)

	// Clear elimina el bucket (ej: tras un login exitoso).
	Clear(ctx context.Context, bucketKey string) error

	// DeleteExpired elimina buckets con ventana ya vencida.
	DeleteExpired(ctx context.Context) (int, error)
}
