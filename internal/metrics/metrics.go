// Package metrics expone contadores Prometheus del core de sesiones y MFA.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	sessionsTotal   *prometheus.CounterVec
	challengesTotal *prometheus.CounterVec
	backupTotal     *prometheus.CounterVec
	rateDenied      *prometheus.CounterVec
	sweepDeleted    *prometheus.CounterVec
)

// Register inicializa las métricas en el registry dado (o el default) y
// devuelve el handler para /metrics.
func Register(registry prometheus.Registerer) http.Handler {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	once.Do(func() {
		sessionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authcore_sessions_total",
			Help: "Eventos de ciclo de vida de sesión por resultado",
		}, []string{"event"}) // event: created|rotated|evicted|expired|revoked

		challengesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authcore_mfa_challenges_total",
			Help: "Eventos de challenges MFA por purpose y resultado",
		}, []string{"purpose", "event"}) // event: issued|verified|failed|consumed|superseded|claim_mismatch

		backupTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authcore_backup_codes_total",
			Help: "Eventos de backup codes por resultado",
		}, []string{"event"}) // event: generated|rotated|consumed|rejected

		rateDenied = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authcore_rate_denied_total",
			Help: "Intentos denegados por rate limit, por familia de bucket",
		}, []string{"bucket"})

		sweepDeleted = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authcore_sweep_deleted_total",
			Help: "Filas eliminadas por el sweep de expiración",
		}, []string{"kind"}) // kind: sessions|challenges|buckets

		registry.MustRegister(sessionsTotal, challengesTotal, backupTotal, rateDenied, sweepDeleted)
	})

	return promhttp.Handler()
}

// SessionEvent incrementa el contador de eventos de sesión.
func SessionEvent(event string) {
	if sessionsTotal != nil {
		sessionsTotal.WithLabelValues(event).Inc()
	}
}

// ChallengeEvent incrementa el contador de eventos de challenge.
func ChallengeEvent(purpose, event string) {
	if challengesTotal != nil {
		challengesTotal.WithLabelValues(purpose, event).Inc()
	}
}

// BackupEvent incrementa el contador de eventos de backup codes.
func BackupEvent(event string) {
	if backupTotal != nil {
		backupTotal.WithLabelValues(event).Inc()
	}
}

// RateDenied incrementa el contador de denegaciones del limiter.
func RateDenied(bucket string) {
	if rateDenied != nil {
		rateDenied.WithLabelValues(bucket).Inc()
	}
}

// SweepDeleted suma filas borradas por el sweep.
func SweepDeleted(kind string, n int) {
	if sweepDeleted != nil && n > 0 {
		sweepDeleted.WithLabelValues(kind).Add(float64(n))
	}
}
