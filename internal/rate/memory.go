package rate

import (
	"context"
	"fmt"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryLimiter: fixed window en memoria del proceso (solo dev/tests).
// No sirve con más de una réplica; el contador no se comparte.
type MemoryLimiter struct {
	c      *gocache.Cache
	Max    int64
	Window time.Duration
}

func NewMemoryLimiter(max int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		c:      gocache.New(window, time.Minute),
		Max:    int64(max),
		Window: window,
	}
}

func (l *MemoryLimiter) key(key string, winStart time.Time) string {
	return fmt.Sprintf("%s:%d", strings.ReplaceAll(key, " ", "_"), winStart.Unix())
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (Result, error) {
	now := time.Now().UTC()
	winStart := now.Truncate(l.Window)
	k := l.key(key, winStart)

	var hits int64 = 1
	if err := l.c.Add(k, int64(1), l.Window); err != nil {
		n, err := l.c.IncrementInt64(k, 1)
		if err != nil {
			// La entrada expiró entre Add e Increment; arrancar ventana nueva.
			l.c.Set(k, int64(1), l.Window)
			n = 1
		}
		hits = n
	}

	allowed := hits <= l.Max
	remaining := l.Max - hits
	if remaining < 0 {
		remaining = 0
	}
	res := Result{Allowed: allowed, Remaining: remaining, CurrentHits: hits}
	if !allowed {
		res.RetryAfter = winStart.Add(l.Window).Sub(now)
	}
	return res, nil
}

func (l *MemoryLimiter) Clear(_ context.Context, key string) error {
	winStart := time.Now().UTC().Truncate(l.Window)
	l.c.Delete(l.key(key, winStart))
	return nil
}
