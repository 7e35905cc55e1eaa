package walletauth

import (
	"context"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// VerifyResult is the successful outcome of a challenge verification.
type VerifyResult struct {
	Token string `json:"token"`
	User  *User  `json:"user"`
}

// WalletChallengeService runs the nonce-based wallet authentication flow:
// issue a challenge, verify the signed response, provision the user on
// first contact, and mint an opaque bearer token. No lock is held across
// signature verification or identity store calls; the nonce is consumed in
// a single atomic step once every check has passed.
type WalletChallengeService struct {
	nonces   *NonceStore
	verifier SignatureVerifier
	users    IdentityStore
	limiter  *RateLimiter
	limitMax int
	limitWin time.Duration
	logger   Logger
	sink     ActivitySink
	now      func() time.Time
}

// ChallengeOption customizes service construction.
type ChallengeOption func(*WalletChallengeService)

// WithChallengeLogger overrides the service logger.
func WithChallengeLogger(logger Logger) ChallengeOption {
	return func(s *WalletChallengeService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithChallengeActivitySink sets the audit sink.
func WithChallengeActivitySink(sink ActivitySink) ChallengeOption {
	return func(s *WalletChallengeService) {
		s.sink = normalizeActivitySink(sink)
	}
}

// WithChallengeClock injects a custom clock (useful for tests).
func WithChallengeClock(clock func() time.Time) ChallengeOption {
	return func(s *WalletChallengeService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithChallengeRateLimiter enables per-address attempt limiting on Verify.
func WithChallengeRateLimiter(limiter *RateLimiter, maxAttempts int, window time.Duration) ChallengeOption {
	return func(s *WalletChallengeService) {
		s.limiter = limiter
		s.limitMax = maxAttempts
		s.limitWin = window
	}
}

// NewWalletChallengeService wires the nonce store, verifier and identity
// store into a challenge flow.
func NewWalletChallengeService(nonces *NonceStore, verifier SignatureVerifier, users IdentityStore, opts ...ChallengeOption) *WalletChallengeService {
	s := &WalletChallengeService{
		nonces:   nonces,
		verifier: verifier,
		users:    users,
		logger:   defLogger{},
		sink:     noopActivitySink{},
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// IssueNonce returns the challenge nonce for address. Repeated calls inside
// the TTL window return the same nonce.
func (s *WalletChallengeService) IssueNonce(ctx context.Context, address string) (string, error) {
	nonce, err := s.nonces.Issue(address)
	if err != nil {
		return "", err
	}

	s.recordActivity(ctx, ActivityEvent{
		EventType:  ActivityEventNonceIssued,
		Identifier: strings.ToLower(strings.TrimSpace(address)),
	})

	return nonce, nil
}

// Verify checks the signed challenge and resolves the wallet to a user,
// creating one on first contact. The nonce is deleted the moment all
// validations pass; a provisioning failure after that point still costs the
// caller their nonce, so a retry restarts the whole challenge.
func (s *WalletChallengeService) Verify(ctx context.Context, address, signature, message, nonce string) (*VerifyResult, error) {
	addr, err := normalizeAddress(address)
	if err != nil {
		return nil, err
	}
	if signature == "" || message == "" || nonce == "" {
		return nil, withMetadata(ErrInvalidInput, map[string]any{
			"fields": "signature, message, nonce",
		})
	}

	if s.limiter != nil && s.limitMax > 0 {
		result := s.limiter.CheckLimit("wallet:"+addr, s.limitMax, s.limitWin)
		if !result.Allowed {
			s.recordActivity(ctx, ActivityEvent{
				EventType:  ActivityEventRateLimited,
				Identifier: addr,
			})
			return nil, withMetadata(ErrRateLimited, map[string]any{
				"retry_after": result.RetryAfter.Seconds(),
			})
		}
	}

	rec, ok := s.nonces.Get(addr)
	if !ok || rec.Nonce != nonce {
		return nil, s.failVerify(ctx, addr, ErrNonceNotFound)
	}

	if s.nonces.Expired(rec, s.now()) {
		s.nonces.Delete(addr)
		return nil, s.failVerify(ctx, addr, ErrNonceExpired)
	}

	// Cryptographic check runs outside any store lock.
	if !s.verifier.Verify(addr, message, signature) {
		return nil, s.failVerify(ctx, addr, ErrInvalidSignature)
	}

	// The consume is the single atomic match-and-delete; if a concurrent
	// verification got here first the nonce is gone and this request loses.
	if !s.nonces.Consume(addr, nonce) {
		return nil, s.failVerify(ctx, addr, ErrNonceNotFound)
	}

	user, err := s.resolveUser(ctx, addr)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "user provisioning failed").
			WithTextCode(TextCodeProvisioningFailed).
			WithMetadata(map[string]any{
				"address": addr,
			})
	}

	token, err := MintBearerToken()
	if err != nil {
		return nil, err
	}

	if s.limiter != nil {
		s.limiter.Reset("wallet:" + addr)
	}

	s.touchLastSeen(ctx, user)

	s.recordActivity(ctx, ActivityEvent{
		EventType:  ActivityEventVerifySuccess,
		UserID:     user.ID.String(),
		Identifier: addr,
	})

	return &VerifyResult{Token: token, User: user}, nil
}

// resolveUser finds the user for the wallet identifier, creating it when no
// record exists yet.
func (s *WalletChallengeService) resolveUser(ctx context.Context, addr string) (*User, error) {
	identifier := WalletIdentifier(addr)

	user, err := s.users.FindUserByIdentifier(ctx, identifier)
	if err == nil {
		return user, nil
	}
	if !goerrors.IsNotFound(err) {
		return nil, err
	}

	created, err := s.users.CreateUser(ctx, &User{
		Username:      identifier,
		Email:         identifier,
		WalletAddress: addr,
		Role:          RoleMember,
	})
	if err != nil {
		return nil, err
	}

	return created, nil
}

// touchLastSeen records login time on the user record. Failures are logged
// and swallowed; the login already succeeded.
func (s *WalletChallengeService) touchLastSeen(ctx context.Context, user *User) {
	now := s.now()
	if _, err := s.users.PatchUser(ctx, user.ID, UserPatch{LastSeenAt: &now}); err != nil {
		s.logger.Warn("failed to update last seen for %s: %v", user.ID, err)
		return
	}
	user.LastSeenAt = &now
}

func (s *WalletChallengeService) failVerify(ctx context.Context, addr string, cause error) error {
	s.recordActivity(ctx, ActivityEvent{
		EventType:  ActivityEventVerifyFailure,
		Identifier: addr,
		Metadata: map[string]any{
			"reason": errorTextCode(cause),
		},
	})
	return cause
}

func (s *WalletChallengeService) recordActivity(ctx context.Context, event ActivityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.now()
	}

	sink := normalizeActivitySink(s.sink)
	if err := sink.Record(ctx, event); err != nil {
		s.logger.Warn("challenge activity sink error: %v", err)
	}
}

func errorTextCode(err error) string {
	var rich *goerrors.Error
	if goerrors.As(err, &rich) && rich.TextCode != "" {
		return rich.TextCode
	}
	return "UNKNOWN"
}
