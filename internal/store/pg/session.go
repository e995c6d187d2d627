package pg

import (
	"context"
	"errors"
	"time"

	"github.com/dropDatabas3/authcore/internal/domain/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const sessionCols = `id, account_id, account_type, token_hash, organization_id,
	username, first_name, last_name, ip_address, user_agent,
	prev_token_hash, prev_token_grace_until, created_at, expires_at`

func scanSession(row pgx.Row) (*repository.Session, error) {
	var s repository.Session
	var acctType string
	err := row.Scan(&s.ID, &s.AccountID, &acctType, &s.TokenHash, &s.OrganizationID,
		&s.Username, &s.FirstName, &s.LastName, &s.IPAddress, &s.UserAgent,
		&s.PrevTokenHash, &s.PrevTokenGraceUntil, &s.CreatedAt, &s.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	s.AccountType = repository.AccountType(acctType)
	return &s, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (s *Store) Create(ctx context.Context, in repository.CreateSessionInput) (*repository.Session, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	// Evict: conservar las (cap-1) más nuevas antes de insertar.
	// Las excedentes se BORRAN (revocación inmediata, no solo exclusión).
	if in.MaxPerAccount > 0 {
		_, err = tx.Exec(ctx, `
			DELETE FROM account_session
			WHERE id IN (
				SELECT id FROM account_session
				WHERE account_id = $1
				ORDER BY created_at DESC
				OFFSET $2
			)
		`, in.AccountID, in.MaxPerAccount-1)
		if err != nil {
			return nil, err
		}
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO account_session
			(id, account_id, account_type, token_hash, organization_id,
			 username, first_name, last_name, ip_address, user_agent, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING `+sessionCols+`
	`, uuid.NewString(), in.AccountID, string(in.AccountType), in.TokenHash, in.OrganizationID,
		in.Username, in.FirstName, in.LastName, nullable(in.IPAddress), nullable(in.UserAgent), in.ExpiresAt)

	created, err := scanSession(row)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return created, nil
}

func (s *Store) GetByTokenHash(ctx context.Context, tokenHash string) (*repository.Session, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+sessionCols+` FROM account_session WHERE token_hash = $1
	`, tokenHash)
	return scanSession(row)
}

func (s *Store) GetByPrevTokenHash(ctx context.Context, tokenHash string) (*repository.Session, error) {
	// La gracia se compara contra NOW() del servidor, nunca reloj del cliente.
	row := s.pool.QueryRow(ctx, `
		SELECT `+sessionCols+` FROM account_session
		WHERE prev_token_hash = $1 AND prev_token_grace_until > NOW()
	`, tokenHash)
	return scanSession(row)
}

func (s *Store) Rotate(ctx context.Context, oldHash, newHash string, graceUntil, expiresAt time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE account_session
		SET prev_token_hash = token_hash,
			prev_token_grace_until = $2,
			token_hash = $3,
			expires_at = $4
		WHERE token_hash = $1
	`, oldHash, graceUntil, newHash, expiresAt)
	if err != nil {
		return false, err
	}
	// Cero filas = carrera perdida contra otra rotación; el caller se queda
	// con la sesión anterior todavía válida.
	return tag.RowsAffected() == 1, nil
}

func (s *Store) Delete(ctx context.Context, tokenHash string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM account_session WHERE token_hash = $1`, tokenHash)
	return err
}

func (s *Store) DeleteByID(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM account_session WHERE id = $1`, id)
	return err
}

func (s *Store) DeleteAllByAccount(ctx context.Context, accountID string) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM account_session WHERE account_id = $1`, accountID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) ListByAccount(ctx context.Context, accountID string) ([]repository.Session, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+sessionCols+` FROM account_session
		WHERE account_id = $1 AND expires_at > NOW()
		ORDER BY created_at DESC
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []repository.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sess)
	}
	return out, rows.Err()
}

func (s *Store) DeleteExpired(ctx context.Context, absoluteMaxAge time.Duration) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM account_session
		WHERE expires_at <= NOW()
		   OR created_at <= NOW() - make_interval(secs => $1)
	`, absoluteMaxAge.Seconds())
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
