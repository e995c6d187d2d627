package pg

import (
	"context"
	"errors"
	"time"

	"github.com/dropDatabas3/authcore/internal/domain/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const challengeCols = `id, account_id, account_type, purpose, token_hash, code_hash, context_hash,
	issuer, audience, token_type, token_context,
	attempt_count, max_attempts, cooldown_until, verified_at, consumed_at,
	ip_address, user_agent, created_at, expires_at`

func scanChallenge(row pgx.Row) (*repository.MFAChallenge, error) {
	var c repository.MFAChallenge
	var acctType, purpose string
	err := row.Scan(&c.ID, &c.AccountID, &acctType, &purpose, &c.TokenHash, &c.CodeHash, &c.ContextHash,
		&c.Issuer, &c.Audience, &c.TokenType, &c.TokenContext,
		&c.AttemptCount, &c.MaxAttempts, &c.CooldownUntil, &c.VerifiedAt, &c.ConsumedAt,
		&c.IPAddress, &c.UserAgent, &c.CreatedAt, &c.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	c.AccountType = repository.AccountType(acctType)
	c.Purpose = repository.ChallengePurpose(purpose)
	return &c, nil
}

func (s *Store) CreateChallenge(ctx context.Context, in repository.CreateChallengeInput) (*repository.MFAChallenge, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	// Supersede: cualquier challenge abierto para la misma clave
	// (cuenta, purpose, context) queda consumido. A lo sumo uno activo.
	_, err = tx.Exec(ctx, `
		UPDATE mfa_challenge
		SET consumed_at = NOW()
		WHERE account_id = $1 AND purpose = $2
		  AND context_hash IS NOT DISTINCT FROM $3
		  AND consumed_at IS NULL
	`, in.AccountID, string(in.Purpose), in.ContextHash)
	if err != nil {
		return nil, err
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO mfa_challenge
			(id, account_id, account_type, purpose, token_hash, code_hash, context_hash,
			 issuer, audience, token_type, token_context,
			 max_attempts, ip_address, user_agent, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		RETURNING `+challengeCols+`
	`, uuid.NewString(), in.AccountID, string(in.AccountType), string(in.Purpose), in.TokenHash, in.CodeHash, in.ContextHash,
		in.Issuer, in.Audience, in.TokenType, in.TokenContext,
		in.MaxAttempts, nullable(in.IPAddress), nullable(in.UserAgent), in.ExpiresAt)

	created, err := scanChallenge(row)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return created, nil
}

func (s *Store) GetOpenByTokenHash(ctx context.Context, tokenHash string) (*repository.MFAChallenge, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+challengeCols+` FROM mfa_challenge
		WHERE token_hash = $1 AND consumed_at IS NULL
	`, tokenHash)
	return scanChallenge(row)
}

func (s *Store) RecordFailedAttempt(ctx context.Context, id string, cooldownUntil time.Time) (int, error) {
	// Una sola sentencia: bajo concurrencia un read-then-write permitiría
	// saltarse el límite de intentos.
	var count int
	err := s.pool.QueryRow(ctx, `
		UPDATE mfa_challenge
		SET attempt_count = attempt_count + 1,
			cooldown_until = CASE
				WHEN attempt_count + 1 >= max_attempts THEN $2
				ELSE cooldown_until
			END
		WHERE id = $1
		RETURNING attempt_count
	`, id, cooldownUntil).Scan(&count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, repository.ErrNotFound
		}
		return 0, err
	}
	return count, nil
}

func (s *Store) MarkVerified(ctx context.Context, id string, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE mfa_challenge
		SET verified_at = $2
		WHERE id = $1 AND verified_at IS NULL AND consumed_at IS NULL
	`, id, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) MarkConsumed(ctx context.Context, id string, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE mfa_challenge
		SET consumed_at = $2
		WHERE id = $1 AND verified_at IS NOT NULL AND consumed_at IS NULL
	`, id, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) ConsumeWithBackupCode(ctx context.Context, challengeID, accountID, codeHash string, at time.Time) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE mfa_backup_code
		SET used_at = $3
		WHERE account_id = $1 AND code_hash = $2
		  AND used_at IS NULL AND invalidated_at IS NULL
	`, accountID, codeHash, at)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() != 1 {
		return false, nil
	}

	// El backup code es prueba completa: verified y consumed en un paso.
	tag, err = tx.Exec(ctx, `
		UPDATE mfa_challenge
		SET verified_at = COALESCE(verified_at, $2), consumed_at = $2
		WHERE id = $1 AND consumed_at IS NULL
	`, challengeID, at)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() != 1 {
		return false, nil
	}

	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) DeleteResolved(ctx context.Context, retention time.Duration) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM mfa_challenge
		WHERE (consumed_at IS NOT NULL AND consumed_at <= NOW() - make_interval(secs => $1))
		   OR expires_at <= NOW() - make_interval(secs => $1)
	`, retention.Seconds())
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
