// Package mfa implementa el motor de challenges OTP y los backup codes:
// emisión con supersede, verificación con límite de intentos y cooldown,
// consumo de un solo uso y el camino alternativo por recovery code.
package mfa

import (
	"context"
	"fmt"
	"time"

	"github.com/dropDatabas3/authcore/internal/domain/repository"
	"github.com/dropDatabas3/authcore/internal/email"
	"github.com/dropDatabas3/authcore/internal/metrics"
	"github.com/dropDatabas3/authcore/internal/observability/logger"
	tokens "github.com/dropDatabas3/authcore/internal/security/token"
	"go.uber.org/zap"
)

const challengeTokenBytes = 32

// Reason clasifica por qué falló un verify/consume. Son resultados esperados
// y accionables por el usuario, no errores: van en el valor de retorno.
type Reason string

const (
	ReasonNone          Reason = ""
	ReasonMissing       Reason = "missing"
	ReasonExpired       Reason = "expired"
	ReasonCooldown      Reason = "cooldown"
	ReasonMaxAttempts   Reason = "max_attempts"
	ReasonBadCode       Reason = "bad_code"
	ReasonCodesRequired Reason = "codes_required"
)

// Claims son las cuatro constantes de binding copiadas al emitir y
// re-chequeadas al verificar/consumir. Un mismatch se reporta afuera igual
// que un challenge inexistente para no filtrar cuál chequeo falló.
type Claims struct {
	Issuer       string
	Audience     string
	TokenType    string
	TokenContext string
}

// Config son los tunables del engine. Los ceros toman defaults.
type Config struct {
	OTPDigits    int           // default 6
	ChallengeTTL time.Duration // default 10m
	MaxAttempts  int           // default 5
	Cooldown     time.Duration // default 15m

	// Issuer y Audience son constantes del deployment.
	Issuer   string
	Audience string

	// DeliveryEnabled apaga el email a nivel deployment (modo restringido).
	DeliveryEnabled bool
}

func (c Config) withDefaults() Config {
	if c.OTPDigits <= 0 {
		c.OTPDigits = 6
	}
	if c.ChallengeTTL <= 0 {
		c.ChallengeTTL = 10 * time.Minute
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 15 * time.Minute
	}
	if c.Issuer == "" {
		c.Issuer = "authcore"
	}
	if c.Audience == "" {
		c.Audience = "authcore"
	}
	return c
}

const claimTokenType = "mfa_challenge"

// claimsFor arma los claims esperados para un purpose dado.
func (c Config) claimsFor(p repository.ChallengePurpose) Claims {
	return Claims{
		Issuer:       c.Issuer,
		Audience:     c.Audience,
		TokenType:    claimTokenType,
		TokenContext: "flow:" + string(p),
	}
}

// Account es la identidad (ya resuelta por el caller) dueña del challenge.
type Account struct {
	ID        string
	Type      repository.AccountType
	Email     string
	FirstName string
}

// Engine emite, verifica y consume challenges MFA.
type Engine struct {
	repo    repository.MFARepository
	backups repository.BackupCodeRepository
	codec   *tokens.Codec
	sender  email.Sender
	cfg     Config
	log     *zap.Logger
}

func NewEngine(repo repository.MFARepository, backups repository.BackupCodeRepository, codec *tokens.Codec, sender email.Sender, cfg Config) *Engine {
	if sender == nil {
		sender = email.Nop{}
	}
	return &Engine{
		repo:    repo,
		backups: backups,
		codec:   codec,
		sender:  sender,
		cfg:     cfg.withDefaults(),
		log:     logger.Named("mfa"),
	}
}

// ─── Issue ───

type IssueInput struct {
	Account   Account
	Purpose   repository.ChallengePurpose
	IPAddress string
	UserAgent string

	// ContextToken liga el challenge a un token externo (ej: el token del
	// flow de password reset) para que no se pueda replicar contra otro flow.
	ContextToken string
}

type IssueResult struct {
	ChallengeToken string
	ExpiresIn      time.Duration
	EmailDelivery  bool
}

// Issue emite un challenge nuevo, superseding cualquier challenge abierto
// para la misma clave (cuenta, purpose, context). El envío del código por
// email es best-effort: el challenge ya es durable cuando se dispara y un
// fallo de entrega no revierte nada.
func (e *Engine) Issue(ctx context.Context, in IssueInput) (*IssueResult, error) {
	if in.Account.ID == "" || !in.Account.Type.Valid() || !in.Purpose.Valid() {
		return nil, repository.ErrInvalidInput
	}

	rawToken, err := tokens.GenerateOpaqueToken(challengeTokenBytes)
	if err != nil {
		return nil, fmt.Errorf("mfa: generate challenge token: %w", err)
	}
	code, err := tokens.GenerateOTP(e.cfg.OTPDigits)
	if err != nil {
		return nil, fmt.Errorf("mfa: generate otp: %w", err)
	}

	var ctxHash *string
	if in.ContextToken != "" {
		h := e.codec.HashContext(in.ContextToken)
		ctxHash = &h
	}

	claims := e.cfg.claimsFor(in.Purpose)
	ch, err := e.repo.CreateChallenge(ctx, repository.CreateChallengeInput{
		AccountID:    in.Account.ID,
		AccountType:  in.Account.Type,
		Purpose:      in.Purpose,
		TokenHash:    e.codec.HashChallengeToken(rawToken),
		CodeHash:     e.codec.HashOTP(code),
		ContextHash:  ctxHash,
		Issuer:       claims.Issuer,
		Audience:     claims.Audience,
		TokenType:    claims.TokenType,
		TokenContext: claims.TokenContext,
		MaxAttempts:  e.cfg.MaxAttempts,
		IPAddress:    in.IPAddress,
		UserAgent:    in.UserAgent,
		ExpiresAt:    time.Now().Add(e.cfg.ChallengeTTL),
	})
	if err != nil {
		return nil, err
	}

	metrics.ChallengeEvent(string(in.Purpose), "issued")
	e.log.Info("mfa challenge issued",
		logger.ChallengeID(ch.ID),
		logger.AccountID(in.Account.ID),
		logger.Purpose(string(in.Purpose)))

	delivery := e.cfg.DeliveryEnabled && in.Account.Email != ""
	if delivery {
		// Persist first, notificar después; sin esperar el resultado.
		go e.sendCode(in.Account, code)
	}

	return &IssueResult{
		ChallengeToken: rawToken,
		ExpiresIn:      e.cfg.ChallengeTTL,
		EmailDelivery:  delivery,
	}, nil
}

func (e *Engine) sendCode(acct Account, code string) {
	subject, html, text, err := email.RenderOTP(acct.FirstName, code, e.cfg.ChallengeTTL)
	if err != nil {
		e.log.Error("otp template render failed", logger.Err(err))
		return
	}
	if err := e.sender.Send(acct.Email, subject, html, text); err != nil {
		e.log.Warn("otp delivery failed", logger.AccountID(acct.ID), logger.Err(err))
	}
}

// ─── Verify ───

type VerifyInput struct {
	ChallengeToken string
	Code           string
	Purpose        repository.ChallengePurpose
	ContextToken   string
}

type VerifyResult struct {
	OK         bool
	Reason     Reason
	RetryAfter time.Duration
}

// Verify chequea el código enviado contra el challenge abierto.
// Orden de prioridad: missing, expired, cooldown, claims, código.
// Un match fija verified_at pero NO consume: el redeem es un paso aparte.
func (e *Engine) Verify(ctx context.Context, in VerifyInput) (*VerifyResult, error) {
	ch, err := e.lookupOpen(ctx, in.ChallengeToken, in.Purpose, in.ContextToken, "verify")
	if err != nil {
		return nil, err
	}
	if ch == nil {
		return &VerifyResult{Reason: ReasonMissing}, nil
	}

	now := time.Now()
	if now.After(ch.ExpiresAt) {
		metrics.ChallengeEvent(string(ch.Purpose), "failed")
		return &VerifyResult{Reason: ReasonExpired}, nil
	}
	if ch.CooldownUntil != nil && now.Before(*ch.CooldownUntil) {
		return &VerifyResult{Reason: ReasonCooldown, RetryAfter: ch.CooldownUntil.Sub(now)}, nil
	}
	if ch.AttemptCount >= ch.MaxAttempts && ch.CooldownUntil == nil {
		return &VerifyResult{Reason: ReasonMaxAttempts}, nil
	}

	// Comparación en tiempo constante: nada de atajos por longitud.
	if !tokens.Equal(e.codec.HashOTP(in.Code), ch.CodeHash) {
		count, err := e.repo.RecordFailedAttempt(ctx, ch.ID, now.Add(e.cfg.Cooldown))
		if err != nil {
			return nil, err
		}
		metrics.ChallengeEvent(string(ch.Purpose), "failed")
		if count >= ch.MaxAttempts {
			return &VerifyResult{Reason: ReasonMaxAttempts, RetryAfter: e.cfg.Cooldown}, nil
		}
		return &VerifyResult{Reason: ReasonBadCode}, nil
	}

	ok, err := e.repo.MarkVerified(ctx, ch.ID, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Ya estaba verificado o consumido: mismo resultado que inexistente.
		return &VerifyResult{Reason: ReasonMissing}, nil
	}

	metrics.ChallengeEvent(string(ch.Purpose), "verified")
	e.log.Info("mfa challenge verified", logger.ChallengeID(ch.ID), logger.Purpose(string(ch.Purpose)))
	return &VerifyResult{OK: true}, nil
}

// ─── Consume ───

type ConsumeInput struct {
	ChallengeToken string
	Purpose        repository.ChallengePurpose
	ContextToken   string
}

type ConsumeResult struct {
	OK          bool
	Reason      Reason
	AccountID   string
	AccountType repository.AccountType
}

// Consume redime un challenge ya verificado, exactamente una vez, y retorna
// la identidad dueña para que el caller emita sesión o complete la acción
// sensible. El split verify/consume existe para que una UI de dos pasos no
// pueda redimir la misma prueba dos veces.
func (e *Engine) Consume(ctx context.Context, in ConsumeInput) (*ConsumeResult, error) {
	ch, err := e.lookupOpen(ctx, in.ChallengeToken, in.Purpose, in.ContextToken, "consume")
	if err != nil {
		return nil, err
	}
	if ch == nil {
		return &ConsumeResult{Reason: ReasonMissing}, nil
	}

	now := time.Now()
	if now.After(ch.ExpiresAt) {
		return &ConsumeResult{Reason: ReasonExpired}, nil
	}
	if ch.VerifiedAt == nil {
		// Nunca se saltea VERIFIED antes de CONSUMED.
		return &ConsumeResult{Reason: ReasonMissing}, nil
	}

	ok, err := e.repo.MarkConsumed(ctx, ch.ID, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &ConsumeResult{Reason: ReasonMissing}, nil
	}

	metrics.ChallengeEvent(string(ch.Purpose), "consumed")
	e.log.Info("mfa challenge consumed", logger.ChallengeID(ch.ID), logger.AccountID(ch.AccountID))
	return &ConsumeResult{OK: true, AccountID: ch.AccountID, AccountType: ch.AccountType}, nil
}

// ─── Backup code path ───

type BackupConsumeInput struct {
	ChallengeToken string
	BackupCode     string
	Purpose        repository.ChallengePurpose
}

// ConsumeBackupCode autoriza el challenge con un recovery code en lugar del
// OTP. El code es prueba completa: verified y consumed quedan fijados en la
// misma transacción junto con el marcado del code como usado.
func (e *Engine) ConsumeBackupCode(ctx context.Context, in BackupConsumeInput) (*ConsumeResult, error) {
	ch, err := e.lookupOpen(ctx, in.ChallengeToken, in.Purpose, "", "backup")
	if err != nil {
		return nil, err
	}
	if ch == nil {
		return &ConsumeResult{Reason: ReasonMissing}, nil
	}

	now := time.Now()
	if now.After(ch.ExpiresAt) {
		return &ConsumeResult{Reason: ReasonExpired}, nil
	}
	if ch.CooldownUntil != nil && now.Before(*ch.CooldownUntil) {
		return &ConsumeResult{Reason: ReasonCooldown}, nil
	}

	state, err := e.backups.GetRecoveryState(ctx, ch.AccountID)
	if err != nil {
		return nil, err
	}
	if state.RegenerationRequired {
		// Un admin reseteó la recuperación: sin codes nuevos no hay redeem.
		// El login por OTP sigue disponible.
		metrics.BackupEvent("rejected")
		return &ConsumeResult{Reason: ReasonCodesRequired}, nil
	}

	codeHash := e.codec.HashBackupCode(in.BackupCode)
	active, err := e.backups.ActiveCodes(ctx, ch.AccountID)
	if err != nil {
		return nil, err
	}
	var matched bool
	for _, c := range active {
		if tokens.Equal(codeHash, c.CodeHash) {
			matched = true
		}
	}
	if !matched {
		if _, err := e.repo.RecordFailedAttempt(ctx, ch.ID, now.Add(e.cfg.Cooldown)); err != nil {
			return nil, err
		}
		metrics.BackupEvent("rejected")
		return &ConsumeResult{Reason: ReasonBadCode}, nil
	}

	ok, err := e.repo.ConsumeWithBackupCode(ctx, ch.ID, ch.AccountID, codeHash, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		// El code o el challenge perdieron la carrera contra otro redeem.
		return &ConsumeResult{Reason: ReasonMissing}, nil
	}

	metrics.BackupEvent("consumed")
	metrics.ChallengeEvent(string(ch.Purpose), "consumed")
	e.log.Info("backup code consumed", logger.ChallengeID(ch.ID), logger.AccountID(ch.AccountID))
	return &ConsumeResult{OK: true, AccountID: ch.AccountID, AccountType: ch.AccountType}, nil
}

// lookupOpen resuelve el challenge abierto y aplica el binding de claims y
// de context. Cualquier mismatch degrada a "no existe": afuera no se
// distingue cuál chequeo falló.
func (e *Engine) lookupOpen(ctx context.Context, rawToken string, purpose repository.ChallengePurpose, contextToken, op string) (*repository.MFAChallenge, error) {
	if rawToken == "" || !purpose.Valid() {
		return nil, nil
	}
	ch, err := e.repo.GetOpenByTokenHash(ctx, e.codec.HashChallengeToken(rawToken))
	if err != nil || ch == nil {
		return nil, err
	}

	want := e.cfg.claimsFor(purpose)
	got := Claims{Issuer: ch.Issuer, Audience: ch.Audience, TokenType: ch.TokenType, TokenContext: ch.TokenContext}
	if got != want || ch.Purpose != purpose {
		metrics.ChallengeEvent(string(ch.Purpose), "claim_mismatch")
		e.log.Warn("mfa claim mismatch",
			logger.ChallengeID(ch.ID),
			logger.Op(op),
			logger.String("want_ctx", want.TokenContext),
			logger.String("got_ctx", got.TokenContext))
		return nil, nil
	}

	// Context binding: nil contra nil está bien; todo lo demás debe matchear.
	var wantCtx *string
	if contextToken != "" {
		h := e.codec.HashContext(contextToken)
		wantCtx = &h
	}
	switch {
	case ch.ContextHash == nil && wantCtx == nil:
	case ch.ContextHash != nil && wantCtx != nil && tokens.Equal(*ch.ContextHash, *wantCtx):
	default:
		metrics.ChallengeEvent(string(ch.Purpose), "claim_mismatch")
		e.log.Warn("mfa context binding mismatch", logger.ChallengeID(ch.ID), logger.Op(op))
		return nil, nil
	}

	return ch, nil
}
