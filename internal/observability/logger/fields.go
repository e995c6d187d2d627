package logger

import (
	"time"

	"go.uber.org/zap"
)

// =================================================================================
// CAMPOS ESTÁNDAR - NEGOCIO
// =================================================================================

// AccountID crea un campo para el id de cuenta.
func AccountID(v string) zap.Field {
	return zap.String("account_id", v)
}

// AccountType crea un campo para el rol de la cuenta.
func AccountType(v string) zap.Field {
	return zap.String("account_type", v)
}

// SessionID crea un campo para el id de sesión (fila, no token).
func SessionID(v string) zap.Field {
	return zap.String("session_id", v)
}

// ChallengeID crea un campo para el id de challenge MFA.
func ChallengeID(v string) zap.Field {
	return zap.String("challenge_id", v)
}

// Purpose crea un campo para el purpose del challenge.
func Purpose(v string) zap.Field {
	return zap.String("purpose", v)
}

// Bucket crea un campo para la clave de rate limit.
func Bucket(v string) zap.Field {
	return zap.String("bucket", v)
}

// Op crea un campo para la operación en curso.
func Op(v string) zap.Field {
	return zap.String("op", v)
}

// ClientIP crea un campo para la IP del cliente.
func ClientIP(v string) zap.Field {
	return zap.String("client_ip", v)
}

// =================================================================================
// CAMPOS GENÉRICOS
// =================================================================================

// Err crea un campo de error.
func Err(err error) zap.Field {
	return zap.Error(err)
}

// String crea un campo string genérico.
func String(k, v string) zap.Field {
	return zap.String(k, v)
}

// Int crea un campo int genérico.
func Int(k string, v int) zap.Field {
	return zap.Int(k, v)
}

// Duration crea un campo de duración.
func Duration(k string, v time.Duration) zap.Field {
	return zap.Duration(k, v)
}

// Time crea un campo de timestamp.
func Time(k string, v time.Time) zap.Field {
	return zap.Time(k, v)
}
