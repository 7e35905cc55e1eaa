package walletauth_test

import (
	"context"
	"sync"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-wallet-auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Errors returned to callers carry per-request metadata; the package
// sentinels they derive from must stay untouched so one request's
// context can never surface in another request's error.
func TestRequestMetadataStaysOffSentinels(t *testing.T) {
	service, _, _ := newChallengeFixture(staticVerifier(true))
	ctx := context.Background()

	_, err := service.Verify(ctx, testAddress, "", "", "")
	require.Error(t, err)
	assertTextCode(t, err, walletauth.TextCodeInvalidInput)

	var first *goerrors.Error
	require.True(t, goerrors.As(err, &first))
	assert.Contains(t, first.Metadata, "fields")

	store := walletauth.NewNonceStore(5 * time.Minute)
	_, err = store.Issue("not-an-address")
	require.Error(t, err)

	var second *goerrors.Error
	require.True(t, goerrors.As(err, &second))
	assert.Equal(t, "address", second.Metadata["field"])
	assert.NotContains(t, second.Metadata, "fields",
		"metadata from an unrelated request leaked through the sentinel")

	assert.Empty(t, walletauth.ErrInvalidInput.Metadata)
}

func TestConcurrentInvalidInputErrors(t *testing.T) {
	store := walletauth.NewNonceStore(5 * time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_, err := store.Issue("bogus")
				assert.Error(t, err)
			}
		}()
	}
	wg.Wait()

	assert.Empty(t, walletauth.ErrInvalidInput.Metadata)
}
