package walletauth_test

import (
	"testing"
	"time"

	"github.com/goliatone/go-wallet-auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcasterDeliversToSessionSubscribers(t *testing.T) {
	push := walletauth.NewBroadcaster()

	ch, cancel := push.Subscribe("session-1")
	defer cancel()

	push.Publish(walletauth.PushEvent{
		Type:      "session.status",
		SessionID: "session-1",
		Timestamp: time.Now(),
	})

	select {
	case event := <-ch:
		assert.Equal(t, "session-1", event.SessionID)
	case <-time.After(time.Second):
		t.Fatal("expected event")
	}
}

func TestBroadcasterScopesBySession(t *testing.T) {
	push := walletauth.NewBroadcaster()

	otherCh, cancel := push.Subscribe("session-2")
	defer cancel()

	push.Publish(walletauth.PushEvent{Type: "x", SessionID: "session-1"})

	select {
	case <-otherCh:
		t.Fatal("event leaked across sessions")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroadcasterSupportsMultipleSubscribers(t *testing.T) {
	push := walletauth.NewBroadcaster()

	a, cancelA := push.Subscribe("session-1")
	defer cancelA()
	b, cancelB := push.Subscribe("session-1")
	defer cancelB()

	require.Equal(t, 2, push.SubscriberCount("session-1"))

	push.Publish(walletauth.PushEvent{Type: "x", SessionID: "session-1"})

	assert.Equal(t, "x", (<-a).Type)
	assert.Equal(t, "x", (<-b).Type)
}

func TestBroadcasterCancelClosesChannel(t *testing.T) {
	push := walletauth.NewBroadcaster()

	ch, cancel := push.Subscribe("session-1")
	cancel()

	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, push.SubscriberCount("session-1"))

	// A second cancel is a no-op.
	cancel()
}

func TestBroadcasterDropsWhenSubscriberIsFull(t *testing.T) {
	push := walletauth.NewBroadcaster(walletauth.WithBroadcasterBuffer(1))

	ch, cancel := push.Subscribe("session-1")
	defer cancel()

	push.Publish(walletauth.PushEvent{Type: "first", SessionID: "session-1"})
	push.Publish(walletauth.PushEvent{Type: "second", SessionID: "session-1"})

	assert.Equal(t, "first", (<-ch).Type)

	select {
	case <-ch:
		t.Fatal("second event should have been dropped")
	case <-time.After(50 * time.Millisecond):
	}
}
