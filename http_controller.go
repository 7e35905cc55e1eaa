package walletauth

import (
	"bufio"
	"context"
	"encoding/json"
	"strconv"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
	"github.com/valyala/fasthttp"
)

const sseKeepAliveInterval = 15 * time.Second

// WalletAuthController exposes the challenge, session and webhook flows
// over HTTP.
type WalletAuthController struct {
	Logger    Logger
	Challenge *WalletChallengeService
	Sessions  *SessionManager
	Webhooks  *WebhookIngress
	Push      *Broadcaster
	Users     IdentityStore
	Limiter   *RateLimiter
	Config    Config
}

// WalletAuthControllerOption customizes controller construction.
type WalletAuthControllerOption func(*WalletAuthController) *WalletAuthController

// WithControllerLogger overrides the controller logger.
func WithControllerLogger(logger Logger) WalletAuthControllerOption {
	return func(c *WalletAuthController) *WalletAuthController {
		if logger != nil {
			c.Logger = logger
		}
		return c
	}
}

// NewWalletAuthController builds the HTTP controller. The challenge
// service, session manager and webhook ingress are required.
func NewWalletAuthController(challenge *WalletChallengeService, sessions *SessionManager, webhooks *WebhookIngress, push *Broadcaster, users IdentityStore, limiter *RateLimiter, cfg Config, opts ...WalletAuthControllerOption) *WalletAuthController {
	c := &WalletAuthController{
		Logger:    defLogger{},
		Challenge: challenge,
		Sessions:  sessions,
		Webhooks:  webhooks,
		Push:      push,
		Users:     users,
		Limiter:   limiter,
		Config:    cfg,
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Challenge == nil {
		panic("Missing WalletChallengeService in wallet auth controller...")
	}

	if c.Sessions == nil {
		panic("Missing SessionManager in wallet auth controller...")
	}

	if c.Webhooks == nil {
		panic("Missing WebhookIngress in wallet auth controller...")
	}

	return c
}

// RegisterWalletAuthRoutes mounts the controller's routes on app.
func RegisterWalletAuthRoutes(app *fiber.App, controller *WalletAuthController) {
	app.Post("/wallet/nonce", controller.NoncePost).Name("wallet-nonce.post")
	app.Post("/wallet/verify", controller.VerifyPost).Name("wallet-verify.post")
	app.Post("/signup", controller.SignupPost).Name("signup.post")
	app.Get("/session/:id", controller.SessionGet).Name("session.get")
	app.Post("/session/:id/login", controller.SessionLoginPost).Name("session-login.post")
	app.Post("/webhook/identity-events", controller.WebhookPost).Name("webhook-identity.post")
	app.Get("/events", controller.EventsGet).Name("events.get")
}

// NonceRequest payload
type NonceRequest struct {
	Address string `form:"address" json:"address"`
}

// Validate request
func (r NonceRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Address, validation.Required, validation.Length(42, 42)),
	)
}

// NoncePost issues (or re-issues) the challenge nonce for an address.
func (a *WalletAuthController) NoncePost(ctx *fiber.Ctx) error {
	payload := NonceRequest{}
	if err := ctx.BodyParser(&payload); err != nil {
		return a.renderError(ctx, ErrInvalidInput)
	}

	if err := payload.Validate(); err != nil {
		return a.renderValidation(ctx, err)
	}

	nonce, err := a.Challenge.IssueNonce(ctx.Context(), payload.Address)
	if err != nil {
		return a.renderError(ctx, err)
	}

	return ctx.JSON(fiber.Map{
		"nonce": nonce,
	})
}

// VerifyRequest payload
type VerifyRequest struct {
	Address   string `form:"address" json:"address"`
	Signature string `form:"signature" json:"signature"`
	Message   string `form:"message" json:"message"`
	Nonce     string `form:"nonce" json:"nonce"`
}

// Validate request
func (r VerifyRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Address, validation.Required, validation.Length(42, 42)),
		validation.Field(&r.Signature, validation.Required),
		validation.Field(&r.Message, validation.Required),
		validation.Field(&r.Nonce, validation.Required),
	)
}

// VerifyPost checks a signed challenge and returns the bearer token plus
// the resolved user.
func (a *WalletAuthController) VerifyPost(ctx *fiber.Ctx) error {
	payload := VerifyRequest{}
	if err := ctx.BodyParser(&payload); err != nil {
		return a.renderError(ctx, ErrInvalidInput)
	}

	if err := payload.Validate(); err != nil {
		return a.renderValidation(ctx, err)
	}

	result, err := a.Challenge.Verify(ctx.Context(), payload.Address, payload.Signature, payload.Message, payload.Nonce)
	if err != nil {
		return a.renderError(ctx, err)
	}

	return ctx.JSON(result)
}

// SignupRequest payload
type SignupRequest struct {
	Email    string `form:"email" json:"email"`
	Password string `form:"password" json:"password"`
}

// Validate request
func (r SignupRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Password, validation.Required, validation.Length(8, 128)),
	)
}

// SignupPost accepts a signup, opens a tracking session and kicks off user
// provisioning in the background. The response is the session the client
// should watch for completion.
func (a *WalletAuthController) SignupPost(ctx *fiber.Ctx) error {
	payload := SignupRequest{}
	if err := ctx.BodyParser(&payload); err != nil {
		return a.renderError(ctx, ErrInvalidInput)
	}

	if err := payload.Validate(); err != nil {
		return a.renderValidation(ctx, err)
	}

	if a.Limiter != nil && a.Config != nil {
		max, window := a.Config.GetSignupRateLimit()
		if max > 0 {
			result := a.Limiter.CheckLimit("signup:"+cacheKey(payload.Email), max, window)
			if !result.Allowed {
				ctx.Set(fiber.HeaderRetryAfter, formatRetryAfter(result.RetryAfter))
				return a.renderError(ctx, ErrRateLimited)
			}
		}
	}

	hash, err := HashPassword(payload.Password)
	if err != nil {
		return a.renderError(ctx, err)
	}

	session, err := a.Sessions.CreateSession(ctx.Context(), payload.Email)
	if err != nil {
		return a.renderError(ctx, err)
	}

	if a.Users != nil && session.Status == SessionPendingVerification {
		go a.provisionSignup(session.ID, session.Email, hash)
	}

	return ctx.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"sessionId": session.ID,
		"status":    session.Status,
	})
}

// provisionSignup creates the directory record for a signup session. The
// request that spawned it is long gone, so it runs on a background context
// and reports through the session.
func (a *WalletAuthController) provisionSignup(sessionID, email, passwordHash string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	user, err := a.Users.CreateUser(ctx, &User{
		Username:     email,
		Email:        email,
		PasswordHash: passwordHash,
		Role:         RoleMember,
	})
	if err != nil {
		a.Logger.Error("signup provisioning failed for session %s: %v", sessionID, err)
		if _, failErr := a.Sessions.Fail(ctx, sessionID, TextCodeProvisioningFailed); failErr != nil {
			a.Logger.Warn("failed to mark session %s failed: %v", sessionID, failErr)
		}
		return
	}

	// The identity store webhook normally drives this transition; calling
	// it directly keeps single-binary deployments working without one.
	a.Sessions.NotifyUserCreated(ctx, email, user.ID.String())
}

// SessionGet returns the current session snapshot. Expired and unknown
// sessions are indistinguishable.
func (a *WalletAuthController) SessionGet(ctx *fiber.Ctx) error {
	session, err := a.Sessions.GetSession(ctx.Params("id"))
	if err != nil {
		return a.renderError(ctx, err)
	}

	return ctx.JSON(fiber.Map{
		"id":      session.ID,
		"status":  session.Status,
		"email":   session.Email,
		"userId":  session.UserID,
		"token":   session.Token,
		"expires": session.ExpiresAt,
	})
}

// SessionLoginRequest payload
type SessionLoginRequest struct {
	Token string `form:"token" json:"token"`
}

// Validate request
func (r SessionLoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Token, validation.Required),
	)
}

// SessionLoginPost completes the automatic login for a ready session.
func (a *WalletAuthController) SessionLoginPost(ctx *fiber.Ctx) error {
	payload := SessionLoginRequest{}
	if err := ctx.BodyParser(&payload); err != nil {
		return a.renderError(ctx, ErrInvalidInput)
	}

	if err := payload.Validate(); err != nil {
		return a.renderValidation(ctx, err)
	}

	session, err := a.Sessions.Authenticate(ctx.Context(), ctx.Params("id"), payload.Token)
	if err != nil {
		return a.renderError(ctx, err)
	}

	return ctx.JSON(fiber.Map{
		"id":     session.ID,
		"status": session.Status,
	})
}

// WebhookPost ingests identity store notifications. Unknown collections,
// unknown events and malformed payloads all produce a 200; the sender must
// never be driven into a retry loop by content we chose to ignore. Only a
// body that cannot be parsed at all is answered with a 500 so the sender
// redelivers it.
func (a *WalletAuthController) WebhookPost(ctx *fiber.Ctx) error {
	event := WebhookEvent{}
	if err := ctx.BodyParser(&event); err != nil {
		a.Logger.Warn("webhook body unparseable: %v", err)
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"received": false,
		})
	}

	a.Webhooks.Ingest(ctx.Context(), event)

	return ctx.JSON(fiber.Map{
		"received": true,
	})
}

// EventsGet streams session transitions as server-sent events. The client
// receives a snapshot of the current status on connect, then live events
// until it disconnects.
func (a *WalletAuthController) EventsGet(ctx *fiber.Ctx) error {
	sessionID := ctx.Query("session")
	if sessionID == "" {
		return a.renderError(ctx, withMetadata(ErrInvalidInput, map[string]any{
			"field": "session",
		}))
	}

	session, err := a.Sessions.GetSession(sessionID)
	if err != nil {
		return a.renderError(ctx, err)
	}

	if a.Push == nil {
		return a.renderError(ctx, ErrConnectionExhausted)
	}

	events, cancel := a.Push.Subscribe(sessionID)

	ctx.Set(fiber.HeaderContentType, "text/event-stream")
	ctx.Set(fiber.HeaderCacheControl, "no-cache")
	ctx.Set(fiber.HeaderConnection, "keep-alive")

	snapshot := PushEvent{
		Type:      "session.snapshot",
		SessionID: session.ID,
		Data: map[string]any{
			"status": string(session.Status),
		},
		Timestamp: time.Now(),
	}

	logger := a.Logger
	ctx.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer cancel()

		if err := writeSSE(w, snapshot); err != nil {
			return
		}

		keepAlive := time.NewTicker(sseKeepAliveInterval)
		defer keepAlive.Stop()

		for {
			select {
			case event, ok := <-events:
				if !ok {
					return
				}
				if err := writeSSE(w, event); err != nil {
					logger.Debug("push subscriber for session %s went away: %v", sessionID, err)
					return
				}
			case <-keepAlive.C:
				// Comment frames double as disconnect detection: the flush
				// fails once the peer is gone.
				if _, err := w.WriteString(": keep-alive\n\n"); err != nil {
					return
				}
				if err := w.Flush(); err != nil {
					return
				}
			}
		}
	}))

	return nil
}

func writeSSE(w *bufio.Writer, event PushEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	if _, err := w.WriteString("data: " + string(payload) + "\n\n"); err != nil {
		return err
	}

	return w.Flush()
}

func (a *WalletAuthController) renderValidation(ctx *fiber.Ctx, err error) error {
	return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": fiber.Map{
			"message":   "invalid input",
			"text_code": TextCodeInvalidInput,
			"fields":    err.Error(),
		},
	})
}

// renderError maps a package error to its HTTP response. Metadata stays
// server-side; the body carries only the message and text code.
func (a *WalletAuthController) renderError(ctx *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	message := "internal error"
	textCode := ""

	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		message = rich.Message
		textCode = rich.TextCode

		switch rich.Category {
		case goerrors.CategoryValidation, goerrors.CategoryBadInput:
			status = fiber.StatusBadRequest
		case goerrors.CategoryAuth:
			status = fiber.StatusUnauthorized
		case goerrors.CategoryAuthz:
			status = fiber.StatusForbidden
		case goerrors.CategoryNotFound:
			status = fiber.StatusNotFound
		case goerrors.CategoryConflict:
			status = fiber.StatusConflict
		case goerrors.CategoryRateLimit:
			status = fiber.StatusTooManyRequests
		default:
			status = fiber.StatusInternalServerError
		}
	}

	if status >= fiber.StatusInternalServerError {
		a.Logger.Error("request failed: %v", err)
		// Internal detail never reaches the response body.
		message = "internal error"
	}

	body := fiber.Map{
		"message": message,
	}
	if textCode != "" {
		body["text_code"] = textCode
	}

	return ctx.Status(status).JSON(fiber.Map{
		"error": body,
	})
}

func formatRetryAfter(d time.Duration) string {
	secs := int(d.Seconds())
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
