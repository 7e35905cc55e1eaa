package walletauth

import (
	"context"
)

// Webhook event names emitted by the identity store.
const (
	WebhookEventUserCreate = "users.create"
	WebhookEventUserUpdate = "users.update"
)

const webhookUserCollection = "users"

// WebhookEvent is the payload delivered to the identity-events endpoint.
// Delivery is at-least-once with no ordering guarantee, so handling must
// stay idempotent.
type WebhookEvent struct {
	Event      string         `json:"event"`
	Collection string         `json:"collection"`
	Payload    map[string]any `json:"payload"`
}

// WebhookIngress routes identity store notifications to the creation cache
// and the session manager. Events outside the users collection, unknown
// event names and malformed payloads are logged and dropped; Ingest never
// returns an error for them.
type WebhookIngress struct {
	cache    *CreationCache
	sessions *SessionManager
	logger   Logger
	sink     ActivitySink
}

// WebhookOption customizes ingress construction.
type WebhookOption func(*WebhookIngress)

// WithWebhookLogger overrides the ingress logger.
func WithWebhookLogger(logger Logger) WebhookOption {
	return func(w *WebhookIngress) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithWebhookActivitySink sets the audit sink.
func WithWebhookActivitySink(sink ActivitySink) WebhookOption {
	return func(w *WebhookIngress) {
		w.sink = normalizeActivitySink(sink)
	}
}

// NewWebhookIngress wires the cache and session manager into an ingress.
func NewWebhookIngress(cache *CreationCache, sessions *SessionManager, opts ...WebhookOption) *WebhookIngress {
	w := &WebhookIngress{
		cache:    cache,
		sessions: sessions,
		logger:   defLogger{},
		sink:     noopActivitySink{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w
}

// Ingest processes one webhook delivery. Creation events populate the cache
// and wake any session waiting on the email; update events only refresh an
// existing cache entry.
func (w *WebhookIngress) Ingest(ctx context.Context, event WebhookEvent) {
	if event.Collection != webhookUserCollection {
		w.logger.Debug("ignoring webhook for collection %q", event.Collection)
		return
	}

	switch event.Event {
	case WebhookEventUserCreate:
		w.handleCreate(ctx, event)
	case WebhookEventUserUpdate:
		w.handleUpdate(event)
	default:
		w.logger.Debug("ignoring webhook event %q", event.Event)
	}
}

func (w *WebhookIngress) handleCreate(ctx context.Context, event WebhookEvent) {
	email, userID, ok := w.extractUser(event)
	if !ok {
		return
	}

	if w.cache != nil {
		w.cache.Put(userID, email)
	}

	forwarded := false
	if w.sessions != nil {
		forwarded = w.sessions.NotifyUserCreated(ctx, email, userID)
	}

	w.recordActivity(ctx, ActivityEvent{
		EventType:  ActivityEventWebhookIngested,
		UserID:     userID,
		Identifier: cacheKey(email),
		Metadata: map[string]any{
			"event":     event.Event,
			"forwarded": forwarded,
		},
	})
}

// handleUpdate refreshes an existing cache entry. Updates never create
// entries: an update for a user nobody is waiting on carries no signal.
func (w *WebhookIngress) handleUpdate(event WebhookEvent) {
	email, _, ok := w.extractUser(event)
	if !ok {
		return
	}

	if w.cache != nil {
		w.cache.Touch(email)
	}
}

// extractUser pulls the email and user id out of the payload. Both must be
// non-empty strings; anything else counts as malformed.
func (w *WebhookIngress) extractUser(event WebhookEvent) (email, userID string, ok bool) {
	if event.Payload == nil {
		w.logger.Warn("dropping webhook %q with empty payload", event.Event)
		return "", "", false
	}

	email, _ = event.Payload["email"].(string)
	userID, _ = event.Payload["id"].(string)

	if email == "" || userID == "" {
		w.logger.Warn("dropping webhook %q with malformed payload", event.Event)
		return "", "", false
	}

	return email, userID, true
}

func (w *WebhookIngress) recordActivity(ctx context.Context, event ActivityEvent) {
	sink := normalizeActivitySink(w.sink)
	if err := sink.Record(ctx, event); err != nil {
		w.logger.Warn("webhook activity sink error: %v", err)
	}
}
