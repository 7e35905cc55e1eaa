package walletauth

import (
	"crypto/rand"
	"encoding/hex"

	goerrors "github.com/goliatone/go-errors"
)

const bearerTokenByteLength = 32

// MintBearerToken mints an opaque bearer handle for a verified wallet
// login. No claims are encoded in it; the caller exchanges it for identity
// server-side. It is intentionally not a JWT.
func MintBearerToken() (string, error) {
	buf := make([]byte, bearerTokenByteLength)
	if _, err := rand.Read(buf); err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to mint bearer token")
	}
	return hex.EncodeToString(buf), nil
}
