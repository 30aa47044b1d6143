package identity

import (
	"context"
	"time"

	"github.com/goliatone/go-print"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventUserRegistered      ActivityEventType = "identity.user.registered"
	ActivityEventUserStatusChanged   ActivityEventType = "identity.user.status.changed"
	ActivityEventLoginSuccess        ActivityEventType = "identity.login.success"
	ActivityEventLoginFailure        ActivityEventType = "identity.login.failure"
	ActivityEventAccountLocked       ActivityEventType = "identity.account.locked"
	ActivityEventLogout              ActivityEventType = "identity.logout"
	ActivityEventPasswordChanged     ActivityEventType = "identity.password.changed"
	ActivityEventPasswordResetIssued ActivityEventType = "identity.password.reset.issued"
	ActivityEventPasswordReset       ActivityEventType = "identity.password.reset"
	ActivityEventRoleGranted         ActivityEventType = "identity.role.granted"
	ActivityEventRoleRevoked         ActivityEventType = "identity.role.revoked"
	ActivityEventClaimGranted        ActivityEventType = "identity.claim.granted"
	ActivityEventClaimRevoked        ActivityEventType = "identity.claim.revoked"
)

// ActivityEvent captures audit-friendly information about an action.
type ActivityEvent struct {
	EventType  ActivityEventType
	Actor      ActorRef
	UserID     string
	FromStatus AccountStatus
	ToStatus   AccountStatus
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}

// LoggingActivitySink writes every event to a structured logger, metadata
// pretty-printed when it helps. It never fails, so it works as a default
// audit trail until a real pipeline is wired in.
type LoggingActivitySink struct {
	logger Logger
}

// NewLoggingActivitySink builds a sink over the given logger. A nil logger
// resolves to the package default.
func NewLoggingActivitySink(logger Logger) *LoggingActivitySink {
	if logger == nil {
		logger = defaultLogger()
	}
	return &LoggingActivitySink{logger: logger}
}

// Record implements ActivitySink.
func (s *LoggingActivitySink) Record(_ context.Context, event ActivityEvent) error {
	fields := []any{
		"event", string(event.EventType),
		"actor_id", event.Actor.ID,
		"actor_type", event.Actor.Type,
		"user_id", event.UserID,
	}
	if event.FromStatus != "" || event.ToStatus != "" {
		fields = append(fields,
			"from_status", string(event.FromStatus),
			"to_status", string(event.ToStatus),
		)
	}
	if len(event.Metadata) > 0 {
		fields = append(fields, "metadata", print.MaybePrettyJSON(event.Metadata))
	}

	s.logger.Info("activity recorded", fields...)
	return nil
}
