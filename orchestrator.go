package walletauth

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Orchestrator owns the full authentication surface: the wallet challenge
// flow, signup session tracking, webhook ingestion and push delivery. It is
// the single construction point; the stores it creates share one config and
// one sweeper.
type Orchestrator struct {
	cfg      Config
	users    IdentityStore
	verifier SignatureVerifier
	logger   Logger
	sink     ActivitySink

	Nonces    *NonceStore
	Cache     *CreationCache
	Limiter   *RateLimiter
	Push      *Broadcaster
	Sessions  *SessionManager
	Challenge *WalletChallengeService
	Webhooks  *WebhookIngress
	Tokens    TokenService

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

// OrchestratorOption customizes orchestrator construction.
type OrchestratorOption func(*Orchestrator)

// WithLogger sets the logger shared by every component the orchestrator
// builds.
func WithLogger(logger Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithActivitySink sets the audit sink shared by every component.
func WithActivitySink(sink ActivitySink) OrchestratorOption {
	return func(o *Orchestrator) {
		o.sink = normalizeActivitySink(sink)
	}
}

// WithSignatureVerifier overrides the default EIP-191 verifier.
func WithSignatureVerifier(verifier SignatureVerifier) OrchestratorOption {
	return func(o *Orchestrator) {
		if verifier != nil {
			o.verifier = verifier
		}
	}
}

// WithTokenService overrides the token service used for session auto-login
// tokens.
func WithTokenService(ts TokenService) OrchestratorOption {
	return func(o *Orchestrator) {
		if ts != nil {
			o.Tokens = ts
		}
	}
}

// NewOrchestrator wires every component against the identity store and
// config. Pass nil cfg to use DefaultConfig.
func NewOrchestrator(users IdentityStore, cfg Config, opts ...OrchestratorOption) *Orchestrator {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	o := &Orchestrator{
		cfg:      cfg,
		users:    users,
		verifier: NewPersonalSignVerifier(),
		logger:   defLogger{},
		sink:     noopActivitySink{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}

	if o.Tokens == nil && cfg.GetSigningKey() != "" {
		o.Tokens = NewTokenService([]byte(cfg.GetSigningKey()), cfg.GetLoginTokenTTL(), cfg.GetIssuer(), cfg.GetAudience(), o.logger)
	}

	o.Nonces = NewNonceStore(cfg.GetNonceTTL(), WithNonceLogger(o.logger))
	o.Cache = NewCreationCache(cfg.GetCreationCacheTTL())
	o.Limiter = NewRateLimiter()
	o.Push = NewBroadcaster(WithBroadcasterLogger(o.logger))

	o.Sessions = NewSessionManager(cfg.GetSessionTTL(), cfg.GetMaxSignupAttempts(),
		WithSessionLogger(o.logger),
		WithSessionActivitySink(o.sink),
		WithSessionBroadcaster(o.Push),
		WithSessionCreationCache(o.Cache),
		WithSessionTokenService(o.Tokens),
	)

	loginMax, loginWindow := cfg.GetLoginRateLimit()
	o.Challenge = NewWalletChallengeService(o.Nonces, o.verifier, o.users,
		WithChallengeLogger(o.logger),
		WithChallengeActivitySink(o.sink),
		WithChallengeRateLimiter(o.Limiter, loginMax, loginWindow),
	)

	o.Webhooks = NewWebhookIngress(o.Cache, o.Sessions,
		WithWebhookLogger(o.logger),
		WithWebhookActivitySink(o.sink),
	)

	return o
}

// Controller builds the HTTP controller bound to this orchestrator.
func (o *Orchestrator) Controller() *WalletAuthController {
	return NewWalletAuthController(
		o.Challenge,
		o.Sessions,
		o.Webhooks,
		o.Push,
		o.users,
		o.Limiter,
		o.cfg,
		WithControllerLogger(o.logger),
	)
}

// RegisterRoutes mounts the HTTP surface on app.
func (o *Orchestrator) RegisterRoutes(app *fiber.App) {
	RegisterWalletAuthRoutes(app, o.Controller())
}

// Start launches the background sweeper. Calling Start on a running
// orchestrator is a no-op.
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.cancel != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.stopped = make(chan struct{})

	go o.sweep(runCtx, o.stopped)
}

// Stop halts the sweeper and waits for it to exit. Safe to call more than
// once.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	cancel := o.cancel
	stopped := o.stopped
	o.cancel = nil
	o.stopped = nil
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if stopped != nil {
		<-stopped
	}
}

// sweep periodically drops expired nonces, cache entries, sessions and
// idle rate-limit counters.
func (o *Orchestrator) sweep(ctx context.Context, done chan struct{}) {
	defer close(done)

	interval := o.cfg.GetSweepInterval()
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			nonces := o.Nonces.Sweep(now)
			cached := o.Cache.Sweep(now)
			sessions := o.Sessions.Sweep(now)
			o.Limiter.Sweep(now)

			if nonces+cached+sessions > 0 {
				o.logger.Debug("sweep removed %d nonces, %d cache entries, %d sessions", nonces, cached, sessions)
			}
		}
	}
}
