package pg

import (
	"context"
	"errors"
	"time"

	"github.com/dropDatabas3/authcore/internal/domain/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ====================== Backup codes ======================

func (s *Store) Status(ctx context.Context, accountID string) (*repository.BackupCodeStatus, error) {
	var st repository.BackupCodeStatus
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FILTER (WHERE used_at IS NULL AND invalidated_at IS NULL),
			   MAX(created_at)
		FROM mfa_backup_code
		WHERE account_id = $1
	`, accountID).Scan(&st.ActiveCodes, &st.LastGeneratedAt)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *Store) ActiveCodes(ctx context.Context, accountID string) ([]repository.BackupCode, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, account_id, account_type, code_hash, created_at, used_at, invalidated_at
		FROM mfa_backup_code
		WHERE account_id = $1 AND used_at IS NULL AND invalidated_at IS NULL
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []repository.BackupCode
	for rows.Next() {
		var c repository.BackupCode
		var acctType string
		if err := rows.Scan(&c.ID, &c.AccountID, &acctType, &c.CodeHash, &c.CreatedAt, &c.UsedAt, &c.InvalidatedAt); err != nil {
			return nil, err
		}
		c.AccountType = repository.AccountType(acctType)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) Replace(ctx context.Context, accountID string, accountType repository.AccountType, hashes []string, rotate bool) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var active int
	err = tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM mfa_backup_code
		WHERE account_id = $1 AND used_at IS NULL AND invalidated_at IS NULL
	`, accountID).Scan(&active)
	if err != nil {
		return err
	}
	if active > 0 {
		if !rotate {
			// Decisión explícita y auditable antes de pisar codes vigentes.
			return repository.ErrConflict
		}
		_, err = tx.Exec(ctx, `
			UPDATE mfa_backup_code
			SET invalidated_at = NOW()
			WHERE account_id = $1 AND used_at IS NULL AND invalidated_at IS NULL
		`, accountID)
		if err != nil {
			return err
		}
	}

	var b pgx.Batch
	for _, h := range hashes {
		b.Queue(`INSERT INTO mfa_backup_code (id, account_id, account_type, code_hash) VALUES ($1,$2,$3,$4)`,
			uuid.NewString(), accountID, string(accountType), h)
	}
	br := tx.SendBatch(ctx, &b)
	for range hashes {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return err
		}
	}
	if err := br.Close(); err != nil {
		return err
	}

	// Con codes nuevos el flag de regeneración queda saldado.
	_, err = tx.Exec(ctx, `
		UPDATE account_recovery_state
		SET regeneration_required = FALSE
		WHERE account_id = $1
	`, accountID)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (s *Store) Use(ctx context.Context, accountID, codeHash string, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE mfa_backup_code
		SET used_at = $3
		WHERE account_id = $1 AND code_hash = $2
		  AND used_at IS NULL AND invalidated_at IS NULL
	`, accountID, codeHash, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ====================== Recovery state ======================

func (s *Store) GetRecoveryState(ctx context.Context, accountID string) (*repository.RecoveryState, error) {
	var st repository.RecoveryState
	err := s.pool.QueryRow(ctx, `
		SELECT account_id, regeneration_required, epoch, last_reset_at
		FROM account_recovery_state
		WHERE account_id = $1
	`, accountID).Scan(&st.AccountID, &st.RegenerationRequired, &st.Epoch, &st.LastResetAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Sin fila = estado cero: nada pendiente.
			return &repository.RecoveryState{AccountID: accountID}, nil
		}
		return nil, err
	}
	return &st, nil
}

func (s *Store) RequireRegeneration(ctx context.Context, accountID string, at time.Time) (*repository.RecoveryState, error) {
	var st repository.RecoveryState
	err := s.pool.QueryRow(ctx, `
		INSERT INTO account_recovery_state (account_id, regeneration_required, epoch, last_reset_at)
		VALUES ($1, TRUE, 1, $2)
		ON CONFLICT (account_id) DO UPDATE SET
			regeneration_required = TRUE,
			epoch = account_recovery_state.epoch + 1,
			last_reset_at = EXCLUDED.last_reset_at
		RETURNING account_id, regeneration_required, epoch, last_reset_at
	`, accountID, at).Scan(&st.AccountID, &st.RegenerationRequired, &st.Epoch, &st.LastResetAt)
	if err != nil {
		return nil, err
	}
	return &st, nil
}
