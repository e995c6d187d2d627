package rate

import (
	"context"
	"testing"
	"time"
)

func TestMemoryLimiter_AllowsUpToMax(t *testing.T) {
	t.Parallel()
	l := NewMemoryLimiter(3, time.Hour)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		res, err := l.Allow(ctx, "login:1.2.3.4")
		if err != nil {
			t.Fatal(err)
		}
		if !res.Allowed {
			t.Fatalf("hit %d should be allowed", i)
		}
		if res.CurrentHits != int64(i) {
			t.Fatalf("want %d hits, got %d", i, res.CurrentHits)
		}
		if res.Remaining != int64(3-i) {
			t.Fatalf("want %d remaining, got %d", 3-i, res.Remaining)
		}
	}

	res, err := l.Allow(ctx, "login:1.2.3.4")
	if err != nil {
		t.Fatal(err)
	}
	if res.Allowed {
		t.Fatal("hit over the max should be denied")
	}
	if res.Remaining != 0 {
		t.Fatalf("denied hit should report 0 remaining, got %d", res.Remaining)
	}
	if res.RetryAfter <= 0 || res.RetryAfter > time.Hour {
		t.Fatalf("retry-after out of window: %v", res.RetryAfter)
	}
}

func TestMemoryLimiter_KeysAreIsolated(t *testing.T) {
	t.Parallel()
	l := NewMemoryLimiter(1, time.Hour)
	ctx := context.Background()

	if res, _ := l.Allow(ctx, "otp:a"); !res.Allowed {
		t.Fatal("first hit on key a should pass")
	}
	if res, _ := l.Allow(ctx, "otp:a"); res.Allowed {
		t.Fatal("second hit on key a should be denied")
	}
	if res, _ := l.Allow(ctx, "otp:b"); !res.Allowed {
		t.Fatal("key b must have its own bucket")
	}
}

func TestMemoryLimiter_WindowResets(t *testing.T) {
	t.Parallel()
	const win = 50 * time.Millisecond
	l := NewMemoryLimiter(1, win)
	ctx := context.Background()

	// Arrancar justo después de un borde de ventana para que los dos hits
	// caigan en la misma.
	now := time.Now().UTC()
	time.Sleep(now.Truncate(win).Add(win).Sub(now) + 5*time.Millisecond)

	if res, _ := l.Allow(ctx, "reset:x"); !res.Allowed {
		t.Fatal("first hit should pass")
	}
	if res, _ := l.Allow(ctx, "reset:x"); res.Allowed {
		t.Fatal("second hit in window should be denied")
	}

	time.Sleep(60 * time.Millisecond)

	if res, _ := l.Allow(ctx, "reset:x"); !res.Allowed {
		t.Fatal("new window should start fresh")
	}
}

func TestMemoryLimiter_ClearResetsBucket(t *testing.T) {
	t.Parallel()
	l := NewMemoryLimiter(1, time.Hour)
	ctx := context.Background()

	if res, _ := l.Allow(ctx, "login:u1"); !res.Allowed {
		t.Fatal("first hit should pass")
	}
	if res, _ := l.Allow(ctx, "login:u1"); res.Allowed {
		t.Fatal("second hit should be denied")
	}

	// Tras un login exitoso el caller limpia el bucket.
	if err := l.Clear(ctx, "login:u1"); err != nil {
		t.Fatal(err)
	}
	if res, _ := l.Allow(ctx, "login:u1"); !res.Allowed {
		t.Fatal("cleared bucket should allow again")
	}
}
