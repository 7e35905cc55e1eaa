package walletauth

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// IdentityStore is the contract with the external user directory. All three
// operations are idempotent from the orchestrator's point of view; we never
// assume atomicity across two calls.
type IdentityStore interface {
	FindUserByIdentifier(ctx context.Context, identifier string) (*User, error)
	CreateUser(ctx context.Context, user *User) (*User, error)
	PatchUser(ctx context.Context, id uuid.UUID, patch UserPatch) (*User, error)
}

// UserPatch carries the mutable fields PatchUser may update. Nil fields are
// left untouched.
type UserPatch struct {
	LastSeenAt     *time.Time
	EmailValidated *bool
	Role           *UserRole
}

// SignatureVerifier checks that signature recovers to address for the exact
// message bytes. Implementations must treat internal verification errors as
// a failed verification, never as a fatal condition.
type SignatureVerifier interface {
	Verify(address, message, signature string) bool
}

// Config holds orchestrator options
type Config interface {
	GetSigningKey() string
	GetIssuer() string
	GetAudience() []string
	GetNonceTTL() time.Duration
	GetSessionTTL() time.Duration
	GetLoginTokenTTL() time.Duration
	GetCreationCacheTTL() time.Duration
	GetSweepInterval() time.Duration
	GetMaxSignupAttempts() int
	GetLoginRateLimit() (maxAttempts int, window time.Duration)
	GetSignupRateLimit() (maxAttempts int, window time.Duration)
}

// SimpleConfig is a plain struct Config implementation.
type SimpleConfig struct {
	SigningKey        string
	Issuer            string
	Audience          []string
	NonceTTL          time.Duration
	SessionTTL        time.Duration
	LoginTokenTTL     time.Duration
	CreationCacheTTL  time.Duration
	SweepInterval     time.Duration
	MaxSignupAttempts int
	LoginMaxAttempts  int
	LoginWindow       time.Duration
	SignupMaxAttempts int
	SignupWindow      time.Duration
}

var _ Config = (*SimpleConfig)(nil)

// DefaultConfig returns the canonical configuration. Session TTL and signup
// attempt limits were not uniform across the legacy call sites; these values
// are the single source of truth now.
func DefaultConfig() *SimpleConfig {
	return &SimpleConfig{
		Issuer:            "go-wallet-auth",
		NonceTTL:          5 * time.Minute,
		SessionTTL:        15 * time.Minute,
		LoginTokenTTL:     10 * time.Minute,
		CreationCacheTTL:  10 * time.Minute,
		SweepInterval:     5 * time.Minute,
		MaxSignupAttempts: 3,
		LoginMaxAttempts:  5,
		LoginWindow:       time.Minute,
		SignupMaxAttempts: 5,
		SignupWindow:      time.Hour,
	}
}

func (c *SimpleConfig) GetSigningKey() string              { return c.SigningKey }
func (c *SimpleConfig) GetIssuer() string                  { return c.Issuer }
func (c *SimpleConfig) GetAudience() []string              { return c.Audience }
func (c *SimpleConfig) GetNonceTTL() time.Duration         { return c.NonceTTL }
func (c *SimpleConfig) GetSessionTTL() time.Duration       { return c.SessionTTL }
func (c *SimpleConfig) GetLoginTokenTTL() time.Duration    { return c.LoginTokenTTL }
func (c *SimpleConfig) GetCreationCacheTTL() time.Duration { return c.CreationCacheTTL }
func (c *SimpleConfig) GetSweepInterval() time.Duration    { return c.SweepInterval }
func (c *SimpleConfig) GetMaxSignupAttempts() int          { return c.MaxSignupAttempts }

func (c *SimpleConfig) GetLoginRateLimit() (int, time.Duration) {
	return c.LoginMaxAttempts, c.LoginWindow
}

func (c *SimpleConfig) GetSignupRateLimit() (int, time.Duration) {
	return c.SignupMaxAttempts, c.SignupWindow
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] WALLETAUTH "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] WALLETAUTH "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] WALLETAUTH "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] WALLETAUTH "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
