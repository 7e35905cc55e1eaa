package walletauth_test

import (
	"testing"
	"time"

	"github.com/goliatone/go-wallet-auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAddress = "0x8ba1f109551bD432803012645Ac136ddd64DBA72"

func TestNonceStoreIssueIsIdempotentWithinTTL(t *testing.T) {
	store := walletauth.NewNonceStore(5 * time.Minute)

	first, err := store.Issue(testAddress)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	second, err := store.Issue(testAddress)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestNonceStoreIssueNormalizesCase(t *testing.T) {
	store := walletauth.NewNonceStore(5 * time.Minute)

	lower, err := store.Issue("0x8ba1f109551bd432803012645ac136ddd64dba72")
	require.NoError(t, err)

	mixed, err := store.Issue(testAddress)
	require.NoError(t, err)

	assert.Equal(t, lower, mixed)
	assert.Equal(t, 1, store.Len())
}

func TestNonceStoreIssueRejectsInvalidAddress(t *testing.T) {
	store := walletauth.NewNonceStore(5 * time.Minute)

	for _, address := range []string{"", "not-an-address", "0x1234"} {
		_, err := store.Issue(address)
		assert.Error(t, err, "address %q", address)
	}
}

func TestNonceStoreIssueRotatesAfterExpiry(t *testing.T) {
	now := time.Now()
	store := walletauth.NewNonceStore(5*time.Minute, walletauth.WithNonceClock(func() time.Time {
		return now
	}))

	first, err := store.Issue(testAddress)
	require.NoError(t, err)

	now = now.Add(6 * time.Minute)

	second, err := store.Issue(testAddress)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestNonceStoreConsumeIsOneShot(t *testing.T) {
	store := walletauth.NewNonceStore(5 * time.Minute)

	nonce, err := store.Issue(testAddress)
	require.NoError(t, err)

	assert.True(t, store.Consume(testAddress, nonce))
	assert.False(t, store.Consume(testAddress, nonce))
}

func TestNonceStoreConsumeRequiresExactMatch(t *testing.T) {
	store := walletauth.NewNonceStore(5 * time.Minute)

	nonce, err := store.Issue(testAddress)
	require.NoError(t, err)

	assert.False(t, store.Consume(testAddress, "deadbeef"))

	// The mismatch must not burn the stored nonce.
	assert.True(t, store.Consume(testAddress, nonce))
}

func TestNonceStoreSweepRemovesExpired(t *testing.T) {
	now := time.Now()
	store := walletauth.NewNonceStore(5*time.Minute, walletauth.WithNonceClock(func() time.Time {
		return now
	}))

	_, err := store.Issue(testAddress)
	require.NoError(t, err)
	_, err = store.Issue("0x71C7656EC7ab88b098defB751B7401B5f6d8976F")
	require.NoError(t, err)

	removed := store.Sweep(now.Add(10 * time.Minute))
	assert.Equal(t, 2, removed)
	assert.Equal(t, 0, store.Len())
}
