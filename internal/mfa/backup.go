package mfa

import (
	"context"
	"fmt"
	"time"

	"github.com/dropDatabas3/authcore/internal/domain/repository"
	"github.com/dropDatabas3/authcore/internal/metrics"
	"github.com/dropDatabas3/authcore/internal/observability/logger"
	tokens "github.com/dropDatabas3/authcore/internal/security/token"
	"go.uber.org/zap"
)

// ErrActiveCodesExist se retorna cuando se piden codes nuevos sin rotación
// explícita y todavía hay codes vigentes. Obliga una decisión auditable.
var ErrActiveCodesExist = fmt.Errorf("%w: active backup codes exist", repository.ErrConflict)

// BackupConfig son los tunables del manager de recovery codes.
type BackupConfig struct {
	Count  int // codes por generación, default 10
	Length int // caracteres por code, default 8
}

func (c BackupConfig) withDefaults() BackupConfig {
	if c.Count <= 0 {
		c.Count = 10
	}
	if c.Length <= 0 {
		c.Length = 8
	}
	return c
}

// BackupManager genera, rota y consulta recovery codes de un solo uso.
type BackupManager struct {
	repo  repository.BackupCodeRepository
	codec *tokens.Codec
	cfg   BackupConfig
	log   *zap.Logger
}

func NewBackupManager(repo repository.BackupCodeRepository, codec *tokens.Codec, cfg BackupConfig) *BackupManager {
	return &BackupManager{
		repo:  repo,
		codec: codec,
		cfg:   cfg.withDefaults(),
		log:   logger.Named("mfa.backup"),
	}
}

// Status retorna el agregado de solo lectura para la UI.
func (m *BackupManager) Status(ctx context.Context, accountID string) (*repository.BackupCodeStatus, error) {
	return m.repo.Status(ctx, accountID)
}

// GenerateResult incluye los codes en claro: es la ÚNICA vez que existen
// fuera de la base; después solo queda el hash.
type GenerateResult struct {
	Codes           []string
	ActiveCodes     int
	LastGeneratedAt *time.Time
}

// Generate crea count codes nuevos (0 = default de config). Si la cuenta
// tiene codes activos y rotateExisting es false, falla con
// ErrActiveCodesExist; con true los invalida todos atómicamente primero.
func (m *BackupManager) Generate(ctx context.Context, accountID string, accountType repository.AccountType, rotateExisting bool, count int) (*GenerateResult, error) {
	if accountID == "" || !accountType.Valid() {
		return nil, repository.ErrInvalidInput
	}
	if count <= 0 {
		count = m.cfg.Count
	}

	codes := make([]string, 0, count)
	hashes := make([]string, 0, count)
	for i := 0; i < count; i++ {
		code, err := tokens.GenerateBackupCode(m.cfg.Length)
		if err != nil {
			return nil, fmt.Errorf("mfa: generate backup code: %w", err)
		}
		codes = append(codes, code)
		hashes = append(hashes, m.codec.HashBackupCode(code))
	}

	if err := m.repo.Replace(ctx, accountID, accountType, hashes, rotateExisting); err != nil {
		if repository.IsConflict(err) {
			return nil, ErrActiveCodesExist
		}
		return nil, err
	}

	if rotateExisting {
		metrics.BackupEvent("rotated")
	}
	metrics.BackupEvent("generated")
	m.log.Info("backup codes generated",
		logger.AccountID(accountID),
		logger.Int("count", count),
		zap.Bool("rotated", rotateExisting))

	st, err := m.repo.Status(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return &GenerateResult{
		Codes:           codes,
		ActiveCodes:     st.ActiveCodes,
		LastGeneratedAt: st.LastGeneratedAt,
	}, nil
}

// AdminReset fija el flag de regeneración, sube el epoch y registra el
// timestamp. NO deshabilita MFA: el próximo redeem por backup code queda
// bloqueado hasta generar codes nuevos, el login por OTP sigue andando.
func (m *BackupManager) AdminReset(ctx context.Context, accountID string) (*repository.RecoveryState, error) {
	if accountID == "" {
		return nil, repository.ErrInvalidInput
	}
	st, err := m.repo.RequireRegeneration(ctx, accountID, time.Now())
	if err != nil {
		return nil, err
	}
	m.log.Info("mfa recovery reset by admin",
		logger.AccountID(accountID),
		logger.Int("epoch", st.Epoch))
	return st, nil
}
