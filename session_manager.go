package walletauth

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the lifecycle state of a signup session.
type SessionStatus string

const (
	SessionPendingCreation     SessionStatus = "pending-creation"
	SessionPendingVerification SessionStatus = "pending-verification"
	SessionReadyForLogin       SessionStatus = "ready-for-login"
	SessionAuthenticated       SessionStatus = "authenticated"
	SessionFailed              SessionStatus = "failed"
	SessionExpired             SessionStatus = "expired"
)

// sessionStatusRank orders the forward path. Transitions may only move to
// an equal or higher rank; failed and expired are reachable from any
// non-terminal state.
var sessionStatusRank = map[SessionStatus]int{
	SessionPendingCreation:     0,
	SessionPendingVerification: 1,
	SessionReadyForLogin:       2,
	SessionAuthenticated:       3,
}

// IsTerminal reports whether no further transitions are possible.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionFailed || s == SessionExpired
}

// Session event types accepted by RecordEvent.
const (
	SessionEventCreated            = "session.created"
	SessionEventCreationAccepted   = "creation.accepted"
	SessionEventUserCreated        = "user.created"
	SessionEventLoginCompleted     = "login.completed"
	SessionEventProvisioningFailed = "provisioning.failed"
	SessionEventAttemptFailed      = "attempt.failed"
	SessionEventExpired            = "session.expired"
)

// SessionEvent is one entry in a session's event history.
type SessionEvent struct {
	Type      string         `json:"type"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Session is the server-tracked record of an in-progress signup flow. It is
// independent of the wallet challenge flow.
type Session struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	UserID       string         `json:"user_id,omitempty"`
	Token        string         `json:"token,omitempty"`
	Status       SessionStatus  `json:"status"`
	CreatedAt    time.Time      `json:"created_at"`
	ExpiresAt    time.Time      `json:"expires_at"`
	Attempts     int            `json:"attempts"`
	LastEvent    string         `json:"last_event,omitempty"`
	EventHistory []SessionEvent `json:"event_history,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

func (s *Session) clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	cp.EventHistory = append([]SessionEvent(nil), s.EventHistory...)
	if s.Metadata != nil {
		cp.Metadata = make(map[string]any, len(s.Metadata))
		for k, v := range s.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

type sessionEntry struct {
	mu sync.Mutex
	s  *Session
}

// SessionManager owns the lifecycle of signup sessions. RecordEvent is the
// only state mutator; it holds a per-session lock so the webhook path and
// timer-driven expiry can never interleave transitions for the same id.
type SessionManager struct {
	mu          sync.RWMutex
	sessions    map[string]*sessionEntry
	byEmail     map[string]string
	cache       *CreationCache
	broadcaster *Broadcaster
	tokens      TokenService
	ttl         time.Duration
	maxAttempts int
	transitions map[SessionStatus]map[SessionStatus]struct{}
	now         func() time.Time
	logger      Logger
	sink        ActivitySink
}

// SessionManagerOption customizes manager construction.
type SessionManagerOption func(*SessionManager)

// WithSessionClock injects a custom clock (useful for tests).
func WithSessionClock(clock func() time.Time) SessionManagerOption {
	return func(m *SessionManager) {
		if clock != nil {
			m.now = clock
		}
	}
}

// WithSessionLogger overrides the manager logger.
func WithSessionLogger(logger Logger) SessionManagerOption {
	return func(m *SessionManager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithSessionActivitySink sets the ActivitySink used to publish transitions.
func WithSessionActivitySink(sink ActivitySink) SessionManagerOption {
	return func(m *SessionManager) {
		m.sink = normalizeActivitySink(sink)
	}
}

// WithSessionBroadcaster connects the push layer. Transitions are published
// as they commit.
func WithSessionBroadcaster(b *Broadcaster) SessionManagerOption {
	return func(m *SessionManager) {
		m.broadcaster = b
	}
}

// WithSessionCreationCache connects the user-creation cache consulted at
// session-creation time.
func WithSessionCreationCache(c *CreationCache) SessionManagerOption {
	return func(m *SessionManager) {
		m.cache = c
	}
}

// WithSessionTokenService sets the service that mints the auto-login token
// surfaced when a session becomes ready-for-login.
func WithSessionTokenService(ts TokenService) SessionManagerOption {
	return func(m *SessionManager) {
		m.tokens = ts
	}
}

// NewSessionManager creates a manager with the given session TTL and
// attempt ceiling.
func NewSessionManager(ttl time.Duration, maxAttempts int, opts ...SessionManagerOption) *SessionManager {
	m := &SessionManager{
		sessions:    make(map[string]*sessionEntry),
		byEmail:     make(map[string]string),
		ttl:         ttl,
		maxAttempts: maxAttempts,
		transitions: map[SessionStatus]map[SessionStatus]struct{}{
			SessionPendingCreation: {
				SessionPendingVerification: {},
				// The creation webhook may have landed before this session
				// existed; the cache check fast-forwards past verification.
				SessionReadyForLogin: {},
			},
			SessionPendingVerification: {
				SessionReadyForLogin: {},
			},
			SessionReadyForLogin: {
				SessionAuthenticated: {},
			},
		},
		now:    time.Now,
		logger: defLogger{},
		sink:   noopActivitySink{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// CreateSession starts tracking a signup for email. The session is accepted
// locally right away (pending-verification); if the identity store already
// confirmed the creation through a webhook that beat us here, the session
// reads as ready-for-login immediately.
func (m *SessionManager) CreateSession(ctx context.Context, email string) (*Session, error) {
	key := cacheKey(email)
	if key == "" {
		return nil, withMetadata(ErrInvalidInput, map[string]any{
			"field": "email",
		})
	}

	now := m.now()
	session := &Session{
		ID:        uuid.New().String(),
		Email:     key,
		Status:    SessionPendingCreation,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
		LastEvent: SessionEventCreated,
		EventHistory: []SessionEvent{
			{Type: SessionEventCreated, Timestamp: now},
		},
	}

	m.mu.Lock()
	m.sessions[session.ID] = &sessionEntry{s: session}
	m.byEmail[key] = session.ID
	m.mu.Unlock()

	m.recordActivity(ctx, ActivityEvent{
		EventType:  ActivityEventSessionCreated,
		SessionID:  session.ID,
		Identifier: key,
		ToStatus:   SessionPendingCreation,
	})

	if _, err := m.RecordEvent(ctx, session.ID, SessionEventCreationAccepted, nil); err != nil {
		return nil, err
	}

	if m.cache != nil {
		if entry, ok := m.cache.Get(key); ok {
			result, err := m.RecordEvent(ctx, session.ID, SessionEventUserCreated, map[string]any{
				"userId": entry.UserID,
			})
			if err != nil {
				return nil, err
			}
			return result, nil
		}
	}

	return m.GetSession(session.ID)
}

// GetSession returns a copy of the current record, performing the lazy
// expiry check. Unknown and expired sessions both report not found.
func (m *SessionManager) GetSession(id string) (*Session, error) {
	entry := m.entry(id)
	if entry == nil {
		return nil, ErrSessionNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if m.expireLocked(entry) || entry.s.Status == SessionExpired {
		return nil, ErrSessionNotFound
	}

	return entry.s.clone(), nil
}

// RecordEvent appends event to the session history and advances the state
// machine. It is the only mutator of session state. Repeating an event the
// session already absorbed is a no-op; moving backwards is an error.
func (m *SessionManager) RecordEvent(ctx context.Context, id, event string, data map[string]any) (*Session, error) {
	entry := m.entry(id)
	if entry == nil {
		return nil, ErrSessionNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if m.expireLocked(entry) || entry.s.Status == SessionExpired {
		return nil, ErrSessionNotFound
	}

	session := entry.s
	from := session.Status

	if from.IsTerminal() {
		return nil, withMetadata(ErrInvalidTransition, map[string]any{
			"from":  from,
			"event": event,
		})
	}

	target := from
	switch event {
	case SessionEventCreationAccepted:
		target = SessionPendingVerification
	case SessionEventUserCreated:
		target = SessionReadyForLogin
	case SessionEventLoginCompleted:
		target = SessionAuthenticated
	case SessionEventProvisioningFailed:
		target = SessionFailed
	case SessionEventExpired:
		target = SessionExpired
	case SessionEventAttemptFailed:
		session.Attempts++
		if session.Attempts >= m.maxAttempts {
			target = SessionFailed
		}
	default:
		return nil, withMetadata(ErrInvalidInput, map[string]any{
			"field": "event",
			"event": event,
		})
	}

	if target != from && !target.IsTerminal() {
		if sessionStatusRank[target] <= sessionStatusRank[from] {
			// Duplicate delivery of an already-absorbed transition.
			return session.clone(), nil
		}
		if !m.canTransition(from, target) {
			return nil, withMetadata(ErrInvalidTransition, map[string]any{
				"from": from,
				"to":   target,
			})
		}
	}

	m.applyLocked(ctx, session, event, data, from, target)

	return session.clone(), nil
}

// NotifyUserCreated forwards an identity-store creation to the pending
// session for email, if one exists. It reports whether a session consumed
// the event.
func (m *SessionManager) NotifyUserCreated(ctx context.Context, email, userID string) bool {
	key := cacheKey(email)

	m.mu.RLock()
	id, ok := m.byEmail[key]
	m.mu.RUnlock()
	if !ok {
		return false
	}

	session, err := m.GetSession(id)
	if err != nil || sessionStatusRank[session.Status] >= sessionStatusRank[SessionReadyForLogin] {
		return false
	}

	if _, err := m.RecordEvent(ctx, id, SessionEventUserCreated, map[string]any{
		"userId": userID,
	}); err != nil {
		m.logger.Warn("failed to forward creation webhook to session", "session", id, "error", err)
		return false
	}

	return true
}

// Authenticate completes the automatic login for a ready session. The
// supplied token must match the one surfaced on the record.
func (m *SessionManager) Authenticate(ctx context.Context, id, token string) (*Session, error) {
	session, err := m.GetSession(id)
	if err != nil {
		return nil, err
	}

	if session.Status != SessionReadyForLogin || token == "" || token != session.Token {
		if _, recErr := m.RecordEvent(ctx, id, SessionEventAttemptFailed, nil); recErr != nil {
			m.logger.Warn("failed to record login attempt", "session", id, "error", recErr)
		}
		return nil, withMetadata(ErrInvalidSignature, map[string]any{
			"session": id,
		})
	}

	return m.RecordEvent(ctx, id, SessionEventLoginCompleted, nil)
}

// Fail moves the session to failed with a reason (provisioning errors).
func (m *SessionManager) Fail(ctx context.Context, id, reason string) (*Session, error) {
	return m.RecordEvent(ctx, id, SessionEventProvisioningFailed, map[string]any{
		"reason": reason,
	})
}

// Sweep expires overdue sessions and drops records past their expiry,
// returning the number of sessions removed. Safe to run concurrently with
// request traffic.
func (m *SessionManager) Sweep(now time.Time) int {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	removed := 0
	for _, id := range ids {
		entry := m.entry(id)
		if entry == nil {
			continue
		}

		entry.mu.Lock()
		m.expireLocked(entry)
		drop := now.After(entry.s.ExpiresAt) && entry.s.Status.IsTerminal()
		email := entry.s.Email
		entry.mu.Unlock()

		if drop {
			m.mu.Lock()
			delete(m.sessions, id)
			if m.byEmail[email] == id {
				delete(m.byEmail, email)
			}
			m.mu.Unlock()
			removed++
		}
	}

	return removed
}

// Len returns the number of tracked sessions.
func (m *SessionManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *SessionManager) entry(id string) *sessionEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[id]
}

func (m *SessionManager) canTransition(from, to SessionStatus) bool {
	if allowed, ok := m.transitions[from]; ok {
		_, exists := allowed[to]
		return exists
	}
	return false
}

// expireLocked applies the lazy expiry check. Caller holds the entry lock.
func (m *SessionManager) expireLocked(entry *sessionEntry) bool {
	session := entry.s
	if session.Status.IsTerminal() || !m.now().After(session.ExpiresAt) {
		return false
	}
	m.applyLocked(context.Background(), session, SessionEventExpired, nil, session.Status, SessionExpired)
	return true
}

// applyLocked commits a transition. Caller holds the entry lock.
func (m *SessionManager) applyLocked(ctx context.Context, session *Session, event string, data map[string]any, from, target SessionStatus) {
	now := m.now()

	if target == SessionReadyForLogin && from != SessionReadyForLogin {
		if userID, ok := data["userId"].(string); ok {
			session.UserID = userID
		}
		m.mintLoginToken(session)
	}

	session.Status = target
	session.LastEvent = event
	session.EventHistory = append(session.EventHistory, SessionEvent{
		Type:      event,
		Data:      data,
		Timestamp: now,
	})

	if m.broadcaster != nil {
		m.broadcaster.Publish(PushEvent{
			Type:      event,
			SessionID: session.ID,
			Data: map[string]any{
				"status": string(target),
			},
			Timestamp: now,
		})
	}

	if from != target {
		m.recordActivity(ctx, ActivityEvent{
			EventType:  ActivityEventSessionTransition,
			SessionID:  session.ID,
			UserID:     session.UserID,
			Identifier: session.Email,
			FromStatus: from,
			ToStatus:   target,
		})
	}
}

func (m *SessionManager) mintLoginToken(session *Session) {
	if m.tokens == nil || session.Token != "" {
		return
	}

	token, err := m.tokens.Generate(session.UserID, session.Email, session.ID)
	if err != nil {
		// Not fatal: the client can still complete login through the
		// regular credential path.
		m.logger.Error("failed to mint login token", "session", session.ID, "error", err)
		return
	}
	session.Token = token
}

func (m *SessionManager) recordActivity(ctx context.Context, event ActivityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = m.now()
	}

	sink := normalizeActivitySink(m.sink)
	if err := sink.Record(ctx, event); err != nil {
		m.logger.Warn("session activity sink error: %v", err)
	}
}
