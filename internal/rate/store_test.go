package rate

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dropDatabas3/authcore/internal/domain/repository"
)

// fakeRateRepo reproduce en memoria la semántica del upsert atómico.
type fakeRateRepo struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	count     int64
	expiresAt time.Time
}

func newFakeRateRepo() *fakeRateRepo {
	return &fakeRateRepo{buckets: map[string]*bucket{}}
}

func (f *fakeRateRepo) Consume(_ context.Context, key string, max int64, window time.Duration) (*repository.RateConsumeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := time.Now()
	b, ok := f.buckets[key]
	if !ok || !now.Before(b.expiresAt) {
		b = &bucket{count: 0, expiresAt: now.Add(window)}
		f.buckets[key] = b
	}
	b.count++

	res := &repository.RateConsumeResult{Allowed: b.count <= max, Count: b.count}
	if !res.Allowed {
		res.RetryAfter = b.expiresAt.Sub(now)
	}
	return res, nil
}

func (f *fakeRateRepo) Clear(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.buckets, key)
	return nil
}

func (f *fakeRateRepo) DeleteExpired(_ context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	n := 0
	for k, b := range f.buckets {
		if !now.Before(b.expiresAt) {
			delete(f.buckets, k)
			n++
		}
	}
	return n, nil
}

func TestStoreLimiter_MapsRepoResult(t *testing.T) {
	t.Parallel()
	l := NewStoreLimiter(newFakeRateRepo(), 2, time.Hour)
	ctx := context.Background()

	res, err := l.Allow(ctx, "login:u1")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Allowed || res.CurrentHits != 1 || res.Remaining != 1 {
		t.Fatalf("unexpected first hit: %+v", res)
	}

	if res, _ = l.Allow(ctx, "login:u1"); !res.Allowed || res.Remaining != 0 {
		t.Fatalf("unexpected second hit: %+v", res)
	}

	res, err = l.Allow(ctx, "login:u1")
	if err != nil {
		t.Fatal(err)
	}
	if res.Allowed {
		t.Fatal("third hit should be denied")
	}
	if res.RetryAfter <= 0 {
		t.Fatalf("denied hit must carry retry-after, got %v", res.RetryAfter)
	}
}

func TestStoreLimiter_Clear(t *testing.T) {
	t.Parallel()
	l := NewStoreLimiter(newFakeRateRepo(), 1, time.Hour)
	ctx := context.Background()

	if res, _ := l.Allow(ctx, "otp:u2"); !res.Allowed {
		t.Fatal("first hit should pass")
	}
	if res, _ := l.Allow(ctx, "otp:u2"); res.Allowed {
		t.Fatal("second hit should be denied")
	}
	if err := l.Clear(ctx, "otp:u2"); err != nil {
		t.Fatal(err)
	}
	if res, _ := l.Allow(ctx, "otp:u2"); !res.Allowed {
		t.Fatal("cleared bucket should allow again")
	}
}
