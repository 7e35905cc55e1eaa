package walletauth_test

import (
	"context"
	"testing"

	"github.com/goliatone/go-wallet-auth"
	"github.com/stretchr/testify/assert"
)

func TestWalletIdentifier(t *testing.T) {
	assert.Equal(t,
		"0x8ba1f109551bd432803012645ac136ddd64dba72@wallet.local",
		walletauth.WalletIdentifier(testAddress))

	// Same wallet, any casing, one identity.
	assert.Equal(t,
		walletauth.WalletIdentifier(testAddress),
		walletauth.WalletIdentifier("  0X8BA1F109551BD432803012645AC136DDD64DBA72 "))
}

func TestUserIsWalletUser(t *testing.T) {
	assert.True(t, (&walletauth.User{WalletAddress: "0xabc"}).IsWalletUser())
	assert.False(t, (&walletauth.User{}).IsWalletUser())

	var nilUser *walletauth.User
	assert.False(t, nilUser.IsWalletUser())
}

func TestUserAddMetadata(t *testing.T) {
	user := &walletauth.User{}
	user.AddMetadata("source", "wallet").AddMetadata("chain", "mainnet")

	assert.Equal(t, "wallet", user.Metadata["source"])
	assert.Equal(t, "mainnet", user.Metadata["chain"])
}

func TestUserContextRoundTrip(t *testing.T) {
	user := &walletauth.User{Email: "alice@example.com"}

	ctx := walletauth.WithContext(context.Background(), user)
	got, ok := walletauth.FromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, user, got)

	_, ok = walletauth.FromContext(context.Background())
	assert.False(t, ok)
}

func TestSessionContextRoundTrip(t *testing.T) {
	session := &walletauth.Session{ID: "session-1"}

	ctx := walletauth.WithSessionContext(context.Background(), session)
	got, ok := walletauth.SessionFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, "session-1", got.ID)
}
