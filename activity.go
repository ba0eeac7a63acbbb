package accounts

import (
	"context"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventRegistrationSubmitted ActivityEventType = "account.registration.submitted"
	ActivityEventRegistrationApproved  ActivityEventType = "account.registration.approved"
	ActivityEventRegistrationRejected  ActivityEventType = "account.registration.rejected"
	ActivityEventAccountProvisioned    ActivityEventType = "account.provisioned"
	ActivityEventAccountActivated      ActivityEventType = "account.activated"
	ActivityEventActivationResent      ActivityEventType = "account.activation.resent"
	ActivityEventLoginSuccess          ActivityEventType = "auth.login.success"
	ActivityEventLoginFailure          ActivityEventType = "auth.login.failure"
	ActivityEventLogout                ActivityEventType = "auth.logout"
	ActivityEventAccountLocked         ActivityEventType = "account.locked"
	ActivityEventAccountUnlocked       ActivityEventType = "account.unlocked"
	ActivityEventAccountDisabled       ActivityEventType = "account.disabled"
	ActivityEventAccountEnabled        ActivityEventType = "account.enabled"
	ActivityEventPasswordReset         ActivityEventType = "account.password.reset"
	ActivityEventPasswordChanged       ActivityEventType = "account.password.changed"
)

// ActorRef identifies who performed an action: an administrator, the account
// holder, or the system itself.
type ActorRef struct {
	ID    string
	Email string
	Kind  string
}

// SystemActor is used for actions not attributable to a person, like
// automatic lockouts.
var SystemActor = ActorRef{ID: "system", Kind: "system"}

// ActivityEvent captures audit-friendly information about an action.
type ActivityEvent struct {
	EventType  ActivityEventType
	Actor      ActorRef
	AccountID  string
	FromState  AccountState
	ToState    AccountState
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
