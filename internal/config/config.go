// Package config carga la configuración desde YAML con overrides por env.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Duration acepta valores estilo "24h" / "15m" en YAML.
type Duration time.Duration

// Std retorna el time.Duration subyacente.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: duración %q inválida: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

type Config struct {
	App struct {
		// dev | staging | prod
		Env string `yaml:"env"`
	} `yaml:"app"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	Storage struct {
		DSN      string `yaml:"dsn"`
		Postgres struct {
			MaxOpenConns    int    `yaml:"max_open_conns"`
			MinConns        int    `yaml:"min_conns"`
			ConnMaxLifetime string `yaml:"conn_max_lifetime"`
		} `yaml:"postgres"`
	} `yaml:"storage"`

	Security struct {
		// SigningSecret firma todos los hashes de tokens/códigos.
		// Sin secret el proceso NO arranca (fail closed).
		SigningSecret string `yaml:"signing_secret"`
	} `yaml:"security"`

	Session struct {
		TTL            Duration `yaml:"ttl"`
		AbsoluteMaxAge Duration `yaml:"absolute_max_age"`
		RotationGrace  Duration `yaml:"rotation_grace"`
		MaxPerAccount  int      `yaml:"max_per_account"`
	} `yaml:"session"`

	MFA struct {
		OTPDigits    int      `yaml:"otp_digits"`
		ChallengeTTL Duration `yaml:"challenge_ttl"`
		MaxAttempts  int      `yaml:"max_attempts"`
		Cooldown     Duration `yaml:"cooldown"`
		Issuer       string   `yaml:"issuer"`
		Audience     string   `yaml:"audience"`
		Backup       struct {
			Count  int `yaml:"count"`
			Length int `yaml:"length"`
		} `yaml:"backup"`
	} `yaml:"mfa"`

	Rate struct {
		// Backend: "pg" | "redis" | "memory"
		Backend string `yaml:"backend"`
		Redis   struct {
			Addr   string `yaml:"addr"`
			DB     int    `yaml:"db"`
			Prefix string `yaml:"prefix"`
		} `yaml:"redis"`

		Login struct {
			Limit  int      `yaml:"limit"`
			Window Duration `yaml:"window"`
		} `yaml:"login"`
		OTP struct {
			Limit  int      `yaml:"limit"`
			Window Duration `yaml:"window"`
		} `yaml:"otp"`
		Reset struct {
			Limit  int      `yaml:"limit"`
			Window Duration `yaml:"window"`
		} `yaml:"reset"`
	} `yaml:"rate"`

	Email struct {
		// Enabled en false = modo "sin entrega externa" (compliance).
		Enabled bool   `yaml:"enabled"`
		Host    string `yaml:"host"`
		Port    int    `yaml:"port"`
		From    string `yaml:"from"`
		User    string `yaml:"user"`
		Pass    string `yaml:"pass"`
		TLSMode string `yaml:"tls_mode"`
	} `yaml:"email"`

	Ops struct {
		// Addr del listener de /healthz y /metrics del daemon de sweep.
		Addr          string   `yaml:"addr"`
		SweepInterval Duration `yaml:"sweep_interval"`
		Retention     Duration `yaml:"retention"`
	} `yaml:"ops"`
}

// Load lee el YAML (si existe), aplica overrides por env y valida.
// Un .env al lado del binario se carga primero (solo dev).
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, err
			}
		} else if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	c.applyDefaults()
	c.applyEnvOverrides()

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Session.TTL <= 0 {
		c.Session.TTL = Duration(24 * time.Hour)
	}
	if c.Session.AbsoluteMaxAge <= 0 {
		c.Session.AbsoluteMaxAge = Duration(7 * 24 * time.Hour)
	}
	if c.Session.RotationGrace <= 0 {
		c.Session.RotationGrace = Duration(30 * time.Second)
	}
	if c.Session.MaxPerAccount <= 0 {
		c.Session.MaxPerAccount = 2
	}
	if c.MFA.OTPDigits <= 0 {
		c.MFA.OTPDigits = 6
	}
	if c.MFA.ChallengeTTL <= 0 {
		c.MFA.ChallengeTTL = Duration(10 * time.Minute)
	}
	if c.MFA.MaxAttempts <= 0 {
		c.MFA.MaxAttempts = 5
	}
	if c.MFA.Cooldown <= 0 {
		c.MFA.Cooldown = Duration(15 * time.Minute)
	}
	if c.MFA.Backup.Count <= 0 {
		c.MFA.Backup.Count = 10
	}
	if c.MFA.Backup.Length <= 0 {
		c.MFA.Backup.Length = 8
	}
	if c.Rate.Backend == "" {
		c.Rate.Backend = "pg"
	}
	if c.Rate.Login.Limit <= 0 {
		c.Rate.Login.Limit = 10
	}
	if c.Rate.Login.Window <= 0 {
		c.Rate.Login.Window = Duration(15 * time.Minute)
	}
	if c.Rate.OTP.Limit <= 0 {
		c.Rate.OTP.Limit = 10
	}
	if c.Rate.OTP.Window <= 0 {
		c.Rate.OTP.Window = Duration(15 * time.Minute)
	}
	if c.Rate.Reset.Limit <= 0 {
		c.Rate.Reset.Limit = 5
	}
	if c.Rate.Reset.Window <= 0 {
		c.Rate.Reset.Window = Duration(time.Hour)
	}
	if c.Email.TLSMode == "" {
		c.Email.TLSMode = "auto"
	}
	if c.Ops.Addr == "" {
		c.Ops.Addr = ":9465"
	}
	if c.Ops.SweepInterval <= 0 {
		c.Ops.SweepInterval = Duration(5 * time.Minute)
	}
	if c.Ops.Retention <= 0 {
		c.Ops.Retention = Duration(24 * time.Hour)
	}
}

// applyEnvOverrides: pisa el YAML con variables de entorno.
func (c *Config) applyEnvOverrides() {
	if v, ok := getEnvStr("APP_ENV"); ok {
		c.App.Env = strings.ToLower(v)
	}
	if v, ok := getEnvStr("LOG_LEVEL"); ok {
		c.Log.Level = v
	}
	if v, ok := getEnvStr("STORAGE_DSN"); ok {
		c.Storage.DSN = v
	}
	if v, ok := getEnvStr("SIGNING_SECRET"); ok {
		c.Security.SigningSecret = v
	}
	if v, ok := getEnvDur("SESSION_TTL"); ok {
		c.Session.TTL = Duration(v)
	}
	if v, ok := getEnvDur("SESSION_ABSOLUTE_MAX_AGE"); ok {
		c.Session.AbsoluteMaxAge = Duration(v)
	}
	if v, ok := getEnvDur("SESSION_ROTATION_GRACE"); ok {
		c.Session.RotationGrace = Duration(v)
	}
	if v, ok := getEnvInt("SESSION_MAX_PER_ACCOUNT"); ok {
		c.Session.MaxPerAccount = v
	}
	if v, ok := getEnvStr("RATE_BACKEND"); ok {
		c.Rate.Backend = v
	}
	if v, ok := getEnvStr("RATE_REDIS_ADDR"); ok {
		c.Rate.Redis.Addr = v
	}
	if v, ok := getEnvBool("EMAIL_ENABLED"); ok {
		c.Email.Enabled = v
	}
	if v, ok := getEnvStr("SMTP_HOST"); ok {
		c.Email.Host = v
	}
	if v, ok := getEnvInt("SMTP_PORT"); ok {
		c.Email.Port = v
	}
	if v, ok := getEnvStr("SMTP_FROM"); ok {
		c.Email.From = v
	}
	if v, ok := getEnvStr("SMTP_USER"); ok {
		c.Email.User = v
	}
	if v, ok := getEnvStr("SMTP_PASS"); ok {
		c.Email.Pass = v
	}
	if v, ok := getEnvStr("OPS_ADDR"); ok {
		c.Ops.Addr = v
	}
}

// Validate aplica las reglas duras de arranque.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Security.SigningSecret) == "" {
		return fmt.Errorf("config: security.signing_secret is required (env SIGNING_SECRET)")
	}
	switch c.Rate.Backend {
	case "pg", "redis", "memory":
	default:
		return fmt.Errorf("config: rate.backend %q inválido (pg|redis|memory)", c.Rate.Backend)
	}
	if c.Rate.Backend == "redis" && c.Rate.Redis.Addr == "" {
		return fmt.Errorf("config: rate.redis.addr is required with backend redis")
	}
	if c.Session.RotationGrace >= c.Session.TTL {
		return fmt.Errorf("config: session.rotation_grace must be shorter than session.ttl")
	}
	return nil
}

// ---- Helpers env ----

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}

func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}

func getEnvBool(key string) (bool, bool) {
	if s, ok := getEnvStr(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return b, true
		}
	}
	return false, false
}

func getEnvDur(key string) (time.Duration, bool) {
	if s, ok := getEnvStr(key); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(s)); err == nil {
			return d, true
		}
	}
	return 0, false
}
