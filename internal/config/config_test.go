package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// clearEnv pisa con vacío todas las variables que Load honra, para que el
// entorno del runner no contamine los tests. t.Setenv las restaura al salir.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"APP_ENV", "LOG_LEVEL", "STORAGE_DSN", "SIGNING_SECRET",
		"SESSION_TTL", "SESSION_ABSOLUTE_MAX_AGE", "SESSION_ROTATION_GRACE", "SESSION_MAX_PER_ACCOUNT",
		"RATE_BACKEND", "RATE_REDIS_ADDR",
		"EMAIL_ENABLED", "SMTP_HOST", "SMTP_PORT", "SMTP_FROM", "SMTP_USER", "SMTP_PASS",
		"OPS_ADDR",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad_FailsClosedWithoutSecret(t *testing.T) {
	clearEnv(t)

	_, err := Load("")
	if err == nil {
		t.Fatal("missing signing secret must abort startup")
	}
	if !strings.Contains(err.Error(), "signing_secret") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("SIGNING_SECRET", "s3cret")

	c, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if c.App.Env != "dev" || c.Log.Level != "info" {
		t.Fatalf("app defaults wrong: %+v", c.App)
	}
	if c.Session.TTL.Std() != 24*time.Hour || c.Session.AbsoluteMaxAge.Std() != 7*24*time.Hour {
		t.Fatalf("session defaults wrong: %+v", c.Session)
	}
	if c.Session.RotationGrace.Std() != 30*time.Second || c.Session.MaxPerAccount != 2 {
		t.Fatalf("session defaults wrong: %+v", c.Session)
	}
	if c.MFA.OTPDigits != 6 || c.MFA.MaxAttempts != 5 || c.MFA.Cooldown.Std() != 15*time.Minute {
		t.Fatalf("mfa defaults wrong: %+v", c.MFA)
	}
	if c.MFA.Backup.Count != 10 || c.MFA.Backup.Length != 8 {
		t.Fatalf("backup defaults wrong: %+v", c.MFA.Backup)
	}
	if c.Rate.Backend != "pg" || c.Rate.Reset.Limit != 5 {
		t.Fatalf("rate defaults wrong: %+v", c.Rate)
	}
	if c.Ops.SweepInterval.Std() != 5*time.Minute {
		t.Fatalf("ops defaults wrong: %+v", c.Ops)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("SIGNING_SECRET", "s3cret")
	t.Setenv("APP_ENV", "PROD")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("SESSION_TTL", "1h")
	t.Setenv("SESSION_MAX_PER_ACCOUNT", "5")
	t.Setenv("RATE_BACKEND", "memory")
	t.Setenv("EMAIL_ENABLED", "true")
	t.Setenv("SMTP_HOST", "mail.example.com")

	c, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if c.App.Env != "prod" {
		t.Fatalf("APP_ENV should lowercase, got %q", c.App.Env)
	}
	if c.Log.Level != "debug" || c.Session.TTL.Std() != time.Hour || c.Session.MaxPerAccount != 5 {
		t.Fatalf("overrides not applied: %+v", c)
	}
	if c.Rate.Backend != "memory" || !c.Email.Enabled || c.Email.Host != "mail.example.com" {
		t.Fatalf("overrides not applied: %+v", c)
	}
}

func TestLoad_YAMLAndEnvPrecedence(t *testing.T) {
	clearEnv(t)
	t.Setenv("LOG_LEVEL", "warn")

	path := filepath.Join(t.TempDir(), "config.yaml")
	yml := `
app:
  env: staging
log:
  level: debug
security:
  signing_secret: from-yaml
rate:
  backend: memory
session:
  ttl: 2h
mfa:
  otp_digits: 8
  cooldown: 30m
`
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatal(err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.App.Env != "staging" || c.Security.SigningSecret != "from-yaml" {
		t.Fatalf("yaml not applied: %+v", c)
	}
	if c.Rate.Backend != "memory" || c.MFA.OTPDigits != 8 {
		t.Fatalf("yaml not applied: %+v", c)
	}
	if c.Session.TTL.Std() != 2*time.Hour || c.MFA.Cooldown.Std() != 30*time.Minute {
		t.Fatalf("yaml durations not parsed: %+v", c.Session)
	}
	// El env le gana al YAML.
	if c.Log.Level != "warn" {
		t.Fatalf("env should win over yaml, got %q", c.Log.Level)
	}
}

func TestLoad_MissingFileUsesEnvOnly(t *testing.T) {
	clearEnv(t)
	t.Setenv("SIGNING_SECRET", "s3cret")

	c, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if c.Security.SigningSecret != "s3cret" {
		t.Fatalf("unexpected config: %+v", c.Security)
	}
}

func TestValidate_Rules(t *testing.T) {
	clearEnv(t)
	t.Setenv("SIGNING_SECRET", "s3cret")

	t.Setenv("RATE_BACKEND", "carrier-pigeon")
	if _, err := Load(""); err == nil {
		t.Fatal("unknown rate backend must fail")
	}

	t.Setenv("RATE_BACKEND", "redis")
	if _, err := Load(""); err == nil {
		t.Fatal("redis backend without addr must fail")
	}
	t.Setenv("RATE_REDIS_ADDR", "localhost:6379")
	if _, err := Load(""); err != nil {
		t.Fatal(err)
	}

	t.Setenv("RATE_BACKEND", "pg")
	t.Setenv("SESSION_ROTATION_GRACE", "25h")
	if _, err := Load(""); err == nil {
		t.Fatal("rotation grace >= ttl must fail")
	}
}
