package walletauth_test

import (
	"testing"

	"github.com/goliatone/go-wallet-auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashPassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantErr  bool
	}{
		{
			name:     "Valid password",
			password: "securePassword123!",
			wantErr:  false,
		},
		{
			name:     "Empty password",
			password: "",
			wantErr:  true, // bcrypt can hash empty strings!
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, err := walletauth.HashPassword(tt.password)

			if tt.wantErr {
				assert.Error(t, err)
				return
			}

			assert.NoError(t, err)
			assert.NotEmpty(t, hash)

			err = walletauth.ComparePasswordAndHash(tt.password, hash)
			assert.NoError(t, err)
		})
	}
}

func TestComparePasswordAndHash(t *testing.T) {
	password := "testPassword123!"
	hash, err := walletauth.HashPassword(password)
	require.NoError(t, err)

	assert.NoError(t, walletauth.ComparePasswordAndHash(password, hash))
	assert.Error(t, walletauth.ComparePasswordAndHash("wrongPassword", hash))
	assert.Error(t, walletauth.ComparePasswordAndHash(password, "not-a-hash"))
}

func TestRandomPasswordHash(t *testing.T) {
	hash := walletauth.RandomPasswordHash()
	assert.NotEmpty(t, hash)
	assert.NotEqual(t, hash, walletauth.RandomPasswordHash())
}
