package identity

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Counters the package maintains. Hosts opt in by calling RegisterCollectors
// with their registry; unregistered counters still count, they just never get
// scraped.
var (
	LoginAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "identity", Name: "login_attempts_total", Help: "Login attempts by result."},
		[]string{"result"},
	)
	AccountLockouts = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "identity", Name: "account_lockouts_total", Help: "Accounts locked after reaching the failed-login threshold."},
	)
	Registrations = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "identity", Name: "registrations_total", Help: "Registration attempts by result."},
		[]string{"result"},
	)
	CredentialsIssued = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "identity", Name: "credentials_issued_total", Help: "Credentials issued by kind."},
		[]string{"kind"},
	)
	CredentialValidations = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "identity", Name: "credential_validations_total", Help: "Credential validations by kind and result."},
		[]string{"kind", "result"},
	)
	PolicyDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "identity", Name: "policy_decisions_total", Help: "Policy evaluations by policy and outcome."},
		[]string{"policy", "outcome"},
	)
)

// RegisterCollectors registers the package counters with reg.
func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(
		LoginAttempts,
		AccountLockouts,
		Registrations,
		CredentialsIssued,
		CredentialValidations,
		PolicyDecisions,
	)
}

// Result labels used by the login and validation counters.
const (
	metricResultOK                 = "ok"
	metricResultInvalidCredentials = "invalid_credentials"
	metricResultLockedOut          = "locked_out"
	metricResultStatusRejected     = "status_rejected"
	metricResultExpired            = "expired"
	metricResultRevoked            = "revoked"
	metricResultMalformed          = "malformed"
	metricResultError              = "error"
)

// validationResultLabel folds a validation error into a bounded label set so
// the counter's cardinality stays fixed.
func validationResultLabel(err error) string {
	switch {
	case err == nil:
		return metricResultOK
	case errors.Is(err, ErrTokenExpired):
		return metricResultExpired
	case errors.Is(err, ErrTokenRevoked):
		return metricResultRevoked
	case errors.Is(err, ErrTokenMalformed), errors.Is(err, ErrUnableToDecodeClaims):
		return metricResultMalformed
	default:
		return metricResultError
	}
}

func countValidation(kind CredentialKind, err error) {
	CredentialValidations.WithLabelValues(string(kind), validationResultLabel(err)).Inc()
}
