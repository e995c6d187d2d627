// Package tokens genera tokens opacos y hashea credenciales con clave.
// Solo los hashes tocan la base de datos; el valor en claro viaja una vez.
package tokens

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// ErrMissingSecret indica que no hay signing secret configurado.
// Sin secret el core no emite ni verifica nada (fail closed).
var ErrMissingSecret = errors.New("tokens: signing secret is required")

// Dominios de derivación: cada clase de credencial hashea bajo su propia
// subclave, así un hash de session token jamás colisiona con uno de OTP.
const (
	domainSession   = "authcore/session-token/v1"
	domainChallenge = "authcore/challenge-token/v1"
	domainOTP       = "authcore/otp-code/v1"
	domainBackup    = "authcore/backup-code/v1"
	domainContext   = "authcore/context-binding/v1"
)

// Codec hashea tokens y códigos bajo subclaves derivadas del signing secret.
// Se construye una vez en el arranque y se inyecta a los managers.
type Codec struct {
	sessionKey   []byte
	challengeKey []byte
	otpKey       []byte
	backupKey    []byte
	contextKey   []byte
}

// NewCodec deriva las subclaves vía HKDF-SHA256 a partir del secret.
func NewCodec(secret string) (*Codec, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrMissingSecret
	}
	c := &Codec{}
	for _, d := range []struct {
		info string
		dst  *[]byte
	}{
		{domainSession, &c.sessionKey},
		{domainChallenge, &c.challengeKey},
		{domainOTP, &c.otpKey},
		{domainBackup, &c.backupKey},
		{domainContext, &c.contextKey},
	} {
		key := make([]byte, 32)
		r := hkdf.New(sha256.New, []byte(secret), nil, []byte(d.info))
		if _, err := io.ReadFull(r, key); err != nil {
			return nil, fmt.Errorf("tokens: hkdf derive %s: %w", d.info, err)
		}
		*d.dst = key
	}
	return c, nil
}

func hmacB64(key []byte, s string) string {
	m := hmac.New(sha256.New, key)
	m.Write([]byte(s))
	return base64.RawURLEncoding.EncodeToString(m.Sum(nil))
}

// HashSessionToken retorna el hash (base64url sin padding) de un session token.
func (c *Codec) HashSessionToken(tok string) string { return hmacB64(c.sessionKey, tok) }

// HashChallengeToken retorna el hash de un challenge token.
func (c *Codec) HashChallengeToken(tok string) string { return hmacB64(c.challengeKey, tok) }

// HashOTP retorna el hash de un código OTP.
func (c *Codec) HashOTP(code string) string { return hmacB64(c.otpKey, code) }

// HashBackupCode retorna el hash de un backup code.
// Los codes se normalizan (mayúsculas, sin guiones) antes de hashear.
func (c *Codec) HashBackupCode(code string) string {
	norm := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(code), "-", ""))
	return hmacB64(c.backupKey, norm)
}

// HashContext retorna el hash que liga un challenge a un token externo
// (ej: el token del flow de password reset).
func (c *Codec) HashContext(tok string) string { return hmacB64(c.contextKey, tok) }

// Equal compara dos hashes en tiempo constante.
func Equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// GenerateOpaqueToken genera un token opaco aleatorio (base64url sin padding).
func GenerateOpaqueToken(nBytes int) (string, error) {
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// GenerateOTP genera un código numérico de digits dígitos con crypto/rand.
func GenerateOTP(digits int) (string, error) {
	if digits <= 0 {
		return "", fmt.Errorf("tokens: otp digits must be positive")
	}
	max := big.NewInt(1)
	for i := 0; i < digits; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", digits, n), nil
}

// Alfabeto sin caracteres ambiguos (0/O, 1/I/L).
const backupAlphabet = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

// GenerateBackupCode genera un recovery code legible, agrupado de a 4
// (ej: "7KQ2-MW4H") cuando length lo permite.
func GenerateBackupCode(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("tokens: backup code length must be positive")
	}
	raw := make([]byte, length)
	for i := range raw {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(backupAlphabet))))
		if err != nil {
			return "", err
		}
		raw[i] = backupAlphabet[n.Int64()]
	}
	if length%4 != 0 {
		return string(raw), nil
	}
	var b strings.Builder
	for i := 0; i < length; i += 4 {
		if i > 0 {
			b.WriteByte('-')
		}
		b.Write(raw[i : i+4])
	}
	return b.String(), nil
}
