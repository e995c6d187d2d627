package pg

import (
	"context"
	"time"

	"github.com/dropDatabas3/authcore/internal/domain/repository"
)

// RateStore es la vista del Store para los buckets de rate limit.
type RateStore struct{ s *Store }

// Rate retorna el repositorio de rate limiting sobre el mismo pool.
func (s *Store) Rate() *RateStore { return &RateStore{s: s} }

func (r *RateStore) Consume(ctx context.Context, bucketKey string, max int64, window time.Duration) (*repository.RateConsumeResult, error) {
	// Un solo upsert: incrementar, o resetear a 1 si la ventana guardada venció.
	var count int64
	var expiresAt time.Time
	err := r.s.pool.QueryRow(ctx, `
		INSERT INTO rate_limit_bucket (bucket_key, attempt_count, window_start, window_expires_at)
		VALUES ($1, 1, NOW(), NOW() + make_interval(secs => $2))
		ON CONFLICT (bucket_key) DO UPDATE SET
			attempt_count = CASE
				WHEN rate_limit_bucket.window_expires_at <= NOW() THEN 1
				ELSE rate_limit_bucket.attempt_count + 1
			END,
			window_start = CASE
				WHEN rate_limit_bucket.window_expires_at <= NOW() THEN NOW()
				ELSE rate_limit_bucket.window_start
			END,
			window_expires_at = CASE
				WHEN rate_limit_bucket.window_expires_at <= NOW() THEN NOW() + make_interval(secs => $2)
				ELSE rate_limit_bucket.window_expires_at
			END
		RETURNING attempt_count, window_expires_at
	`, bucketKey, window.Seconds()).Scan(&count, &expiresAt)
	if err != nil {
		return nil, err
	}

	res := &repository.RateConsumeResult{
		Allowed: count <= max,
		Count:   count,
	}
	if !res.Allowed {
		res.RetryAfter = time.Until(expiresAt)
		if res.RetryAfter < 0 {
			res.RetryAfter = 0
		}
	}
	return res, nil
}

func (r *RateStore) Clear(ctx context.Context, bucketKey string) error {
	_, err := r.s.pool.Exec(ctx, `DELETE FROM rate_limit_bucket WHERE bucket_key = $1`, bucketKey)
	return err
}

func (r *RateStore) DeleteExpired(ctx context.Context) (int, error) {
	tag, err := r.s.pool.Exec(ctx, `DELETE FROM rate_limit_bucket WHERE window_expires_at <= NOW()`)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
