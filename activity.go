package walletauth

import (
	"context"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventNonceIssued       ActivityEventType = "wallet.nonce.issued"
	ActivityEventVerifySuccess     ActivityEventType = "wallet.verify.success"
	ActivityEventVerifyFailure     ActivityEventType = "wallet.verify.failure"
	ActivityEventSessionCreated    ActivityEventType = "session.created"
	ActivityEventSessionTransition ActivityEventType = "session.status.changed"
	ActivityEventWebhookIngested   ActivityEventType = "webhook.ingested"
	ActivityEventRateLimited       ActivityEventType = "auth.rate.limited"
)

// ActivityEvent captures audit-friendly information about an action. It
// carries identifiers only; secret material never goes through a sink.
type ActivityEvent struct {
	EventType  ActivityEventType
	SessionID  string
	UserID     string
	Identifier string
	FromStatus SessionStatus
	ToStatus   SessionStatus
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
