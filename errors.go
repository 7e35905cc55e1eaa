package walletauth

import (
	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeInvalidInput        = "INVALID_INPUT"
	TextCodeNonceNotFound       = "NONCE_NOT_FOUND"
	TextCodeNonceExpired        = "NONCE_EXPIRED"
	TextCodeInvalidSignature    = "INVALID_SIGNATURE"
	TextCodeProvisioningFailed  = "PROVISIONING_FAILED"
	TextCodeRateLimited         = "RATE_LIMITED"
	TextCodeConnectionExhausted = "CONNECTION_EXHAUSTED"
	TextCodeSessionNotFound     = "SESSION_NOT_FOUND"
	TextCodeInvalidTransition   = "INVALID_SESSION_TRANSITION"
	TextCodeUserNotFound        = "USER_NOT_FOUND"
)

// ErrInvalidInput is returned for malformed or missing request fields.
// Always a client error; no retry implied.
var ErrInvalidInput = goerrors.New("invalid input", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidInput).
	WithCode(goerrors.CodeBadRequest)

// ErrNonceNotFound is returned when no live nonce exists for the address or
// the supplied nonce does not match the stored value. The client must
// restart the challenge flow.
var ErrNonceNotFound = goerrors.New("nonce not found", goerrors.CategoryAuth).
	WithTextCode(TextCodeNonceNotFound).
	WithCode(goerrors.CodeUnauthorized)

// ErrNonceExpired is returned when the stored nonce has outlived its TTL.
// The expired record is deleted as a side effect of the failed check.
var ErrNonceExpired = goerrors.New("nonce expired", goerrors.CategoryAuth).
	WithTextCode(TextCodeNonceExpired).
	WithCode(goerrors.CodeUnauthorized)

// ErrInvalidSignature is returned when signature recovery does not resolve
// to the claimed address. Responses built from it stay generic so callers
// cannot tell which check failed.
var ErrInvalidSignature = goerrors.New("verification failed", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidSignature).
	WithCode(goerrors.CodeUnauthorized)

// ErrProvisioningFailed wraps identity store failures during user
// resolution or creation. Surfaced as a server error, never retried here.
var ErrProvisioningFailed = goerrors.New("user provisioning failed", goerrors.CategoryInternal).
	WithTextCode(TextCodeProvisioningFailed)

// ErrRateLimited is returned when a fixed-window attempt counter is full.
var ErrRateLimited = goerrors.New("too many attempts", goerrors.CategoryRateLimit).
	WithTextCode(TextCodeRateLimited)

// ErrConnectionExhausted is the terminal push-channel error once the
// reconnect budget is spent. The caller falls back to polling.
var ErrConnectionExhausted = goerrors.New("push channel reconnect attempts exhausted", goerrors.CategoryOperation).
	WithTextCode(TextCodeConnectionExhausted)

// ErrSessionNotFound is returned for unknown or expired sessions.
var ErrSessionNotFound = goerrors.New("session not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeSessionNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrInvalidTransition is returned when a session event would move the
// status backwards or out of a terminal state.
var ErrInvalidTransition = goerrors.New("invalid session state transition", goerrors.CategoryConflict).
	WithTextCode(TextCodeInvalidTransition).
	WithCode(goerrors.CodeConflict)

// ErrUserNotFound is the sentinel identity store implementations return
// when no record matches an identifier.
var ErrUserNotFound = goerrors.New("user not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeUserNotFound).
	WithCode(goerrors.CodeNotFound)

// withMetadata derives a fresh error carrying the sentinel's message,
// category and codes. The sentinels above are shared package values;
// goerrors With* chaining mutates its receiver, so per-request metadata
// must never be attached to them directly.
func withMetadata(sentinel *goerrors.Error, metadata map[string]any) *goerrors.Error {
	derived := goerrors.New(sentinel.Message, sentinel.Category).
		WithTextCode(sentinel.TextCode).
		WithMetadata(metadata)
	if sentinel.Code != 0 {
		derived = derived.WithCode(sentinel.Code)
	}
	return derived
}
