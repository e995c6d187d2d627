package rate

import (
	"context"
	"time"

	"github.com/dropDatabas3/authcore/internal/domain/repository"
)

// StoreLimiter: fixed window sobre el store relacional (upsert atómico).
// Es el backend por defecto: el bucket sobrevive reinicios del proceso.
type StoreLimiter struct {
	Repo   repository.RateLimitRepository
	Max    int64
	Window time.Duration
}

func NewStoreLimiter(repo repository.RateLimitRepository, max int, window time.Duration) *StoreLimiter {
	return &StoreLimiter{Repo: repo, Max: int64(max), Window: window}
}

func (l *StoreLimiter) Allow(ctx context.Context, key string) (Result, error) {
	r, err := l.Repo.Consume(ctx, key, l.Max, l.Window)
	if err != nil {
		return Result{}, err
	}
	remaining := l.Max - r.Count
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:     r.Allowed,
		Remaining:   remaining,
		RetryAfter:  r.RetryAfter,
		CurrentHits: r.Count,
	}, nil
}

func (l *StoreLimiter) Clear(ctx context.Context, key string) error {
	return l.Repo.Clear(ctx, key)
}
