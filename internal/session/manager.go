// Package session gestiona el ciclo de vida de sesiones: emisión, rotación
// silenciosa con ventana de gracia, tope por cuenta y techo de edad absoluta.
package session

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

const tokenBytes = 32

// Config son los tunables del manager. Los ceros toman defaults.
type Config struct {
	// TTL es la expiración nominal; la rotación la extiende.
	TTL time.Duration

	// AbsoluteMaxAge es el techo duro desde created_at. La rotación NUNCA
	// lo corre: pasada esa edad la sesión muere aunque expires_at diga otra cosa.
	AbsoluteMaxAge time.Duration

	// RotationGrace es cuánto tiempo se tolera el token inmediatamente
	// anterior después de rotar (requests en vuelo).
	RotationGrace time.Duration

	// MaxPerAccount es el tope de sesiones vivas por cuenta; crear la N+1
	// desaloja la más vieja.
	MaxPerAccount int
}

func (c Config) withDefaults() Config {
	if c.TTL <= 0 {
		c.TTL = 24 * time.Hour
	}
	if c.AbsoluteMaxAge <= 0 {
		c.AbsoluteMaxAge = 7 * 24 * time.Hour
	}
	if c.RotationGrace <= 0 {
		c.RotationGrace = 30 * time.Second
	}
	if c.MaxPerAccount <= 0 {
		c.MaxPerAccount = 2
	}
	return c
}

// Manager crea, verifica, rota y revoca sesiones.
type Manager struct {
	repo  repository.SessionRepository
	codec *tokens.Codec
	cfg   Config
	log   *zap.Logger
}

func NewManager(repo repository.SessionRepository, codec *tokens.Codec, cfg Config) *Manager {
	return &Manager{
		repo:  repo,
		codec: codec,
		cfg:   cfg.withDefaults(),
		log:   logger.Named("session"),
	}
}

// CreateInput contiene la identidad verificada que va a quedar en la sesión.
type CreateInput struct {
	AccountID      string
	AccountType    repository.AccountType
	OrganizationID *string
	Username       string
	FirstName      string
	LastName       string
	IPAddress      string
	UserAgent      string
}

// Create emite una sesión nueva y retorna el token en claro UNA sola vez;
// el caller lo transporta (cookie HTTP-only) y acá solo queda el hash.
func (m *Manager) Create(ctx context.Context, in CreateInput) (string, *repository.Session, error) {
	if in.AccountID == "" || !in.AccountType.Valid() {
		return "", nil, repository.ErrInvalidInput
	}

	raw, err := tokens.GenerateOpaqueToken(tokenBytes)
	if err != nil {
		return "", nil, fmt.Errorf("session: generate token: %w", err)
	}

	sess, err := m.repo.Create(ctx, repository.CreateSessionInput{
		AccountID:      in.AccountID,
		AccountType:    in.AccountType,
		TokenHash:      m.codec.HashSessionToken(raw),
		OrganizationID: in.OrganizationID,
		Username:       in.Username,
		FirstName:      in.FirstName,
		LastName:       in.LastName,
		IPAddress:      in.IPAddress,
		UserAgent:      in.UserAgent,
		ExpiresAt:      time.Now().Add(m.cfg.TTL),
		MaxPerAccount:  m.cfg.MaxPerAccount,
	})
	if err != nil {
		return "", nil, err
	}

	metrics.SessionEvent("created")
	m.log.Info("session created",
		logger.SessionID(sess.ID),
		logger.AccountID(sess.AccountID),
		logger.AccountType(string(sess.AccountType)))
	return raw, sess, nil
}

// Verify resuelve un token a su sesión. Retorna (nil, nil) para cualquier
// token desconocido, vacío o vencido: un solo resultado observable, sin
// distinguir por qué falló.
func (m *Manager) Verify(ctx context.Context, rawToken string) (*repository.Session, error) {
	if rawToken == "" {
		return nil, nil
	}
	hash := m.codec.HashSessionToken(rawToken)

	sess, err := m.repo.GetByTokenHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		// Tolerar exactamente la carrera de rotación: el cliente mandó el
		// token un instante antes/después de que otro request rotara.
		sess, err = m.repo.GetByPrevTokenHash(ctx, hash)
		if err != nil || sess == nil {
			return nil, err
		}
	}

	now := time.Now()

	// Techo absoluto: pasada la edad máxima la sesión se BORRA, no solo se
	// niega. Sin resurrección aunque expires_at haya sido extendido rotando.
	if now.After(sess.CreatedAt.Add(m.cfg.AbsoluteMaxAge)) {
		if err := m.repo.DeleteByID(ctx, sess.ID); err != nil {
			return nil, err
		}
		metrics.SessionEvent("expired")
		return nil, nil
	}

	if now.After(sess.ExpiresAt) {
		if err := m.repo.DeleteByID(ctx, sess.ID); err != nil {
			return nil, err
		}
		metrics.SessionEvent("expired")
		return nil, nil
	}

	return sess, nil
}

// Current es el resultado de resolver la sesión actual. NewToken viene vacío
// salvo que haya habido rotación; en ese caso el caller debe reemplazar la
// credencial del cliente.
type Current struct {
	Session  *repository.Session
	NewToken string
}

// CurrentOptions controla el comportamiento de GetCurrent.
type CurrentOptions struct {
	// Refresh pide rotación silenciosa del token si la sesión lo permite.
	Refresh bool
}

// GetCurrent envuelve Verify y, con Refresh, rota el token. Si la rotación
// pierde la carrera contra otra rotación concurrente (cero filas afectadas),
// el caller sigue con la sesión anterior todavía válida y NO pisa la
// credencial: así nunca divergen dos cadenas de tokens.
func (m *Manager) GetCurrent(ctx context.Context, rawToken string, opts CurrentOptions) (*Current, error) {
	sess, err := m.Verify(ctx, rawToken)
	if err != nil || sess == nil {
		return nil, err
	}
	if !opts.Refresh {
		return &Current{Session: sess}, nil
	}

	// Si el token presentado es el anterior (match por gracia), ya existe un
	// token más nuevo: no rotar de nuevo.
	if m.codec.HashSessionToken(rawToken) != sess.TokenHash {
		return &Current{Session: sess}, nil
	}

	now := time.Now()
	ceiling := sess.CreatedAt.Add(m.cfg.AbsoluteMaxAge)

	// Tramo final de vida: no vale la pena rotar si la gracia del token viejo
	// pisaría el techo absoluto.
	if ceiling.Sub(now) <= m.cfg.RotationGrace {
		return &Current{Session: sess}, nil
	}

	newRaw, err := tokens.GenerateOpaqueToken(tokenBytes)
	if err != nil {
		return nil, fmt.Errorf("session: generate token: %w", err)
	}
	newHash := m.codec.HashSessionToken(newRaw)

	expiresAt := now.Add(m.cfg.TTL)
	if expiresAt.After(ceiling) {
		expiresAt = ceiling
	}
	graceUntil := now.Add(m.cfg.RotationGrace)
	if graceUntil.After(ceiling) {
		graceUntil = ceiling
	}

	ok, err := m.repo.Rotate(ctx, sess.TokenHash, newHash, graceUntil, expiresAt)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Carrera perdida: otro request ya rotó. Seguir con lo que tenemos.
		return &Current{Session: sess}, nil
	}

	prev := sess.TokenHash
	sess.PrevTokenHash = &prev
	sess.PrevTokenGraceUntil = &graceUntil
	sess.TokenHash = newHash
	sess.ExpiresAt = expiresAt

	metrics.SessionEvent("rotated")
	m.log.Debug("session rotated", logger.SessionID(sess.ID))
	return &Current{Session: sess, NewToken: newRaw}, nil
}

// Delete revoca por token. No-op si ya no existe.
func (m *Manager) Delete(ctx context.Context, rawToken string) error {
	if rawToken == "" {
		return nil
	}
	if err := m.repo.Delete(ctx, m.codec.HashSessionToken(rawToken)); err != nil {
		return err
	}
	metrics.SessionEvent("revoked")
	return nil
}

// RevokeAll elimina todas las sesiones de la cuenta (cambio de password,
// acción de admin). Retorna cuántas borró.
func (m *Manager) RevokeAll(ctx context.Context, accountID string) (int, error) {
	n, err := m.repo.DeleteAllByAccount(ctx, accountID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.SessionEvent("revoked")
		m.log.Info("sessions revoked", logger.AccountID(accountID), logger.Int("count", n))
	}
	return n, nil
}

// List retorna las sesiones vivas de la cuenta, más nueva primero.
func (m *Manager) List(ctx context.Context, accountID string) ([]repository.Session, error) {
	return m.repo.ListByAccount(ctx, accountID)
}
