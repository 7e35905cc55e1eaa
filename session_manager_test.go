package walletauth_test

import (
	"context"
	"testing"
	"time"

	"github.com/goliatone/go-wallet-auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateSessionStartsPendingVerification(t *testing.T) {
	manager := walletauth.NewSessionManager(15*time.Minute, 3)

	session, err := manager.CreateSession(context.Background(), "Alice@Example.com")
	require.NoError(t, err)

	assert.NotEmpty(t, session.ID)
	assert.Equal(t, "alice@example.com", session.Email)
	assert.Equal(t, walletauth.SessionPendingVerification, session.Status)
	assert.Empty(t, session.UserID)
}

func TestCreateSessionRejectsEmptyEmail(t *testing.T) {
	manager := walletauth.NewSessionManager(15*time.Minute, 3)

	_, err := manager.CreateSession(context.Background(), "   ")
	assertTextCode(t, err, walletauth.TextCodeInvalidInput)
}

func TestCreateSessionFastForwardsFromCreationCache(t *testing.T) {
	cache := walletauth.NewCreationCache(10 * time.Minute)
	manager := walletauth.NewSessionManager(15*time.Minute, 3,
		walletauth.WithSessionCreationCache(cache))

	// The creation webhook landed before anyone asked for a session.
	cache.Put("user-9", "alice@example.com")

	session, err := manager.CreateSession(context.Background(), "alice@example.com")
	require.NoError(t, err)

	assert.Equal(t, walletauth.SessionReadyForLogin, session.Status)
	assert.Equal(t, "user-9", session.UserID)
}

func TestRecordEventWalksForwardPath(t *testing.T) {
	manager := walletauth.NewSessionManager(15*time.Minute, 3)
	ctx := context.Background()

	session, err := manager.CreateSession(ctx, "alice@example.com")
	require.NoError(t, err)

	session, err = manager.RecordEvent(ctx, session.ID, walletauth.SessionEventUserCreated, map[string]any{
		"userId": "user-1",
	})
	require.NoError(t, err)
	assert.Equal(t, walletauth.SessionReadyForLogin, session.Status)
	assert.Equal(t, "user-1", session.UserID)

	session, err = manager.RecordEvent(ctx, session.ID, walletauth.SessionEventLoginCompleted, nil)
	require.NoError(t, err)
	assert.Equal(t, walletauth.SessionAuthenticated, session.Status)
}

func TestRecordEventDuplicateDeliveryIsNoOp(t *testing.T) {
	manager := walletauth.NewSessionManager(15*time.Minute, 3)
	ctx := context.Background()

	session, err := manager.CreateSession(ctx, "alice@example.com")
	require.NoError(t, err)

	_, err = manager.RecordEvent(ctx, session.ID, walletauth.SessionEventUserCreated, map[string]any{
		"userId": "user-1",
	})
	require.NoError(t, err)

	// Webhooks deliver at least once; the repeat must not error or move
	// the session backwards.
	repeat, err := manager.RecordEvent(ctx, session.ID, walletauth.SessionEventUserCreated, map[string]any{
		"userId": "user-1",
	})
	require.NoError(t, err)
	assert.Equal(t, walletauth.SessionReadyForLogin, repeat.Status)
}

func TestRecordEventRejectsBackwardTransition(t *testing.T) {
	manager := walletauth.NewSessionManager(15*time.Minute, 3)
	ctx := context.Background()

	session, err := manager.CreateSession(ctx, "alice@example.com")
	require.NoError(t, err)

	_, err = manager.RecordEvent(ctx, session.ID, walletauth.SessionEventUserCreated, map[string]any{"userId": "user-1"})
	require.NoError(t, err)
	_, err = manager.RecordEvent(ctx, session.ID, walletauth.SessionEventLoginCompleted, nil)
	require.NoError(t, err)

	// creation.accepted targets a lower rank; already absorbed, no error.
	repeat, err := manager.RecordEvent(ctx, session.ID, walletauth.SessionEventCreationAccepted, nil)
	require.NoError(t, err)
	assert.Equal(t, walletauth.SessionAuthenticated, repeat.Status)
}

func TestRecordEventOnTerminalSessionFails(t *testing.T) {
	manager := walletauth.NewSessionManager(15*time.Minute, 3)
	ctx := context.Background()

	session, err := manager.CreateSession(ctx, "alice@example.com")
	require.NoError(t, err)

	_, err = manager.Fail(ctx, session.ID, "directory down")
	require.NoError(t, err)

	_, err = manager.RecordEvent(ctx, session.ID, walletauth.SessionEventUserCreated, map[string]any{"userId": "user-1"})
	assertTextCode(t, err, walletauth.TextCodeInvalidTransition)
}

func TestRecordEventRejectsUnknownEvent(t *testing.T) {
	manager := walletauth.NewSessionManager(15*time.Minute, 3)
	ctx := context.Background()

	session, err := manager.CreateSession(ctx, "alice@example.com")
	require.NoError(t, err)

	_, err = manager.RecordEvent(ctx, session.ID, "users.haircut", nil)
	assertTextCode(t, err, walletauth.TextCodeInvalidInput)
}

func TestAttemptCeilingFailsSession(t *testing.T) {
	manager := walletauth.NewSessionManager(15*time.Minute, 3)
	ctx := context.Background()

	session, err := manager.CreateSession(ctx, "alice@example.com")
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		updated, err := manager.RecordEvent(ctx, session.ID, walletauth.SessionEventAttemptFailed, nil)
		require.NoError(t, err)
		assert.Equal(t, walletauth.SessionPendingVerification, updated.Status)
	}

	updated, err := manager.RecordEvent(ctx, session.ID, walletauth.SessionEventAttemptFailed, nil)
	require.NoError(t, err)
	assert.Equal(t, walletauth.SessionFailed, updated.Status)
	assert.Equal(t, 3, updated.Attempts)
}

func TestGetSessionLazyExpiry(t *testing.T) {
	now := time.Now()
	manager := walletauth.NewSessionManager(15*time.Minute, 3,
		walletauth.WithSessionClock(func() time.Time { return now }))

	session, err := manager.CreateSession(context.Background(), "alice@example.com")
	require.NoError(t, err)

	now = now.Add(16 * time.Minute)

	_, err = manager.GetSession(session.ID)
	assertTextCode(t, err, walletauth.TextCodeSessionNotFound)
}

func TestGetSessionUnknownID(t *testing.T) {
	manager := walletauth.NewSessionManager(15*time.Minute, 3)

	_, err := manager.GetSession("nope")
	assertTextCode(t, err, walletauth.TextCodeSessionNotFound)
}

func TestNotifyUserCreatedWakesPendingSession(t *testing.T) {
	manager := walletauth.NewSessionManager(15*time.Minute, 3)
	ctx := context.Background()

	session, err := manager.CreateSession(ctx, "alice@example.com")
	require.NoError(t, err)

	assert.True(t, manager.NotifyUserCreated(ctx, "Alice@Example.COM", "user-7"))

	updated, err := manager.GetSession(session.ID)
	require.NoError(t, err)
	assert.Equal(t, walletauth.SessionReadyForLogin, updated.Status)
	assert.Equal(t, "user-7", updated.UserID)
}

func TestNotifyUserCreatedWithoutSession(t *testing.T) {
	manager := walletauth.NewSessionManager(15*time.Minute, 3)

	assert.False(t, manager.NotifyUserCreated(context.Background(), "nobody@example.com", "user-1"))
}

func TestAuthenticateRequiresMatchingToken(t *testing.T) {
	tokens := walletauth.NewTokenService([]byte("test-signing-key"), 10*time.Minute, "test", nil, nil)
	manager := walletauth.NewSessionManager(15*time.Minute, 3,
		walletauth.WithSessionTokenService(tokens))
	ctx := context.Background()

	session, err := manager.CreateSession(ctx, "alice@example.com")
	require.NoError(t, err)

	_, err = manager.RecordEvent(ctx, session.ID, walletauth.SessionEventUserCreated, map[string]any{"userId": "user-1"})
	require.NoError(t, err)

	ready, err := manager.GetSession(session.ID)
	require.NoError(t, err)
	require.NotEmpty(t, ready.Token)

	_, err = manager.Authenticate(ctx, session.ID, "wrong-token")
	require.Error(t, err)

	done, err := manager.Authenticate(ctx, session.ID, ready.Token)
	require.NoError(t, err)
	assert.Equal(t, walletauth.SessionAuthenticated, done.Status)
}

func TestLoginTokenIsMintedOnReady(t *testing.T) {
	tokens := walletauth.NewTokenService([]byte("test-signing-key"), 10*time.Minute, "test", nil, nil)
	manager := walletauth.NewSessionManager(15*time.Minute, 3,
		walletauth.WithSessionTokenService(tokens))
	ctx := context.Background()

	session, err := manager.CreateSession(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Empty(t, session.Token)

	ready, err := manager.RecordEvent(ctx, session.ID, walletauth.SessionEventUserCreated, map[string]any{"userId": "user-1"})
	require.NoError(t, err)
	require.NotEmpty(t, ready.Token)

	claims, err := tokens.Validate(ready.Token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "alice@example.com", claims.Email)
	assert.Equal(t, session.ID, claims.SessionID)
}

func TestSessionTransitionsAreBroadcast(t *testing.T) {
	push := walletauth.NewBroadcaster()
	manager := walletauth.NewSessionManager(15*time.Minute, 3,
		walletauth.WithSessionBroadcaster(push))
	ctx := context.Background()

	session, err := manager.CreateSession(ctx, "alice@example.com")
	require.NoError(t, err)

	events, cancel := push.Subscribe(session.ID)
	defer cancel()

	_, err = manager.RecordEvent(ctx, session.ID, walletauth.SessionEventUserCreated, map[string]any{"userId": "user-1"})
	require.NoError(t, err)

	select {
	case event := <-events:
		assert.Equal(t, walletauth.SessionEventUserCreated, event.Type)
		assert.Equal(t, session.ID, event.SessionID)
		assert.Equal(t, string(walletauth.SessionReadyForLogin), event.Data["status"])
	case <-time.After(time.Second):
		t.Fatal("expected a push event")
	}
}

func TestSweepDropsExpiredSessions(t *testing.T) {
	now := time.Now()
	manager := walletauth.NewSessionManager(15*time.Minute, 3,
		walletauth.WithSessionClock(func() time.Time { return now }))

	_, err := manager.CreateSession(context.Background(), "alice@example.com")
	require.NoError(t, err)
	require.Equal(t, 1, manager.Len())

	now = now.Add(16 * time.Minute)

	removed := manager.Sweep(now)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 0, manager.Len())
}

func TestSessionSnapshotsAreCopies(t *testing.T) {
	manager := walletauth.NewSessionManager(15*time.Minute, 3)
	ctx := context.Background()

	session, err := manager.CreateSession(ctx, "alice@example.com")
	require.NoError(t, err)

	session.Status = walletauth.SessionAuthenticated

	fresh, err := manager.GetSession(session.ID)
	require.NoError(t, err)
	assert.Equal(t, walletauth.SessionPendingVerification, fresh.Status)
}
