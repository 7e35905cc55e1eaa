package walletauth

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const (
	defaultReconnectBase   = time.Second
	defaultReconnectCap    = 30 * time.Second
	defaultReconnectJitter = time.Second
	defaultMaxReconnects   = 5
)

// ReconnectDelay computes the backoff before reconnect attempt n (1-based):
// base doubled per prior attempt plus up to jitter of random noise, capped.
func ReconnectDelay(attempt int, base, capDelay, jitter time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := base << (attempt - 1)
	if delay > capDelay || delay <= 0 {
		delay = capDelay
	}
	if jitter > 0 {
		delay += time.Duration(rand.Int63n(int64(jitter)))
	}
	if delay > capDelay {
		delay = capDelay
	}
	return delay
}

// PushHandler consumes events delivered to a ReconnectingClient.
type PushHandler func(event PushEvent)

// ReconnectingClient consumes the push stream for one session and
// transparently re-establishes dropped connections with exponential
// backoff. After the attempt ceiling it stops and reports a terminal
// error through the handler passed to OnError.
type ReconnectingClient struct {
	baseURL   string
	sessionID string
	client    *http.Client
	handler   PushHandler
	onError   func(error)
	logger    Logger

	base          time.Duration
	capDelay      time.Duration
	jitter        time.Duration
	maxReconnects int

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
	done    chan struct{}
}

// PushClientOption customizes client construction.
type PushClientOption func(*ReconnectingClient)

// WithPushHTTPClient overrides the underlying HTTP client.
func WithPushHTTPClient(client *http.Client) PushClientOption {
	return func(c *ReconnectingClient) {
		if client != nil {
			c.client = client
		}
	}
}

// WithPushLogger overrides the client logger.
func WithPushLogger(logger Logger) PushClientOption {
	return func(c *ReconnectingClient) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithPushBackoff tunes the reconnect schedule.
func WithPushBackoff(base, capDelay, jitter time.Duration, maxReconnects int) PushClientOption {
	return func(c *ReconnectingClient) {
		if base > 0 {
			c.base = base
		}
		if capDelay > 0 {
			c.capDelay = capDelay
		}
		if jitter >= 0 {
			c.jitter = jitter
		}
		if maxReconnects > 0 {
			c.maxReconnects = maxReconnects
		}
	}
}

// OnError registers a callback invoked with the terminal error when the
// client gives up reconnecting.
func OnError(fn func(error)) PushClientOption {
	return func(c *ReconnectingClient) {
		c.onError = fn
	}
}

// NewReconnectingClient creates a push consumer for sessionID against
// baseURL. Events are delivered to handler in connection order.
func NewReconnectingClient(baseURL, sessionID string, handler PushHandler, opts ...PushClientOption) *ReconnectingClient {
	c := &ReconnectingClient{
		baseURL:       strings.TrimRight(baseURL, "/"),
		sessionID:     sessionID,
		client:        &http.Client{},
		handler:       handler,
		logger:        defLogger{},
		base:          defaultReconnectBase,
		capDelay:      defaultReconnectCap,
		jitter:        defaultReconnectJitter,
		maxReconnects: defaultMaxReconnects,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Connect starts consuming the stream in a background goroutine. Calling
// Connect on a running client is a no-op.
func (c *ReconnectingClient) Connect(ctx context.Context) error {
	if c.sessionID == "" {
		return withMetadata(ErrInvalidInput, map[string]any{
			"field": "session",
		})
	}

	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.running = true
	c.done = make(chan struct{})
	c.mu.Unlock()

	go c.run(runCtx)
	return nil
}

// Disconnect stops the stream and any pending reconnect timer. It is safe
// to call more than once.
func (c *ReconnectingClient) Disconnect() {
	c.mu.Lock()
	cancel := c.cancel
	done := c.done
	c.cancel = nil
	c.running = false
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (c *ReconnectingClient) run(ctx context.Context) {
	defer func() {
		c.mu.Lock()
		c.running = false
		done := c.done
		c.done = nil
		c.mu.Unlock()
		if done != nil {
			close(done)
		}
	}()

	attempts := 0
	for {
		delivered, err := c.consume(ctx)
		if ctx.Err() != nil {
			return
		}

		// A stream that delivered events resets the backoff schedule.
		if delivered {
			attempts = 0
		}
		attempts++
		if attempts > c.maxReconnects {
			terminal := goerrors.Wrap(err, goerrors.CategoryOperation, "push stream reconnect attempts exhausted").
				WithTextCode(TextCodeConnectionExhausted).
				WithMetadata(map[string]any{
					"session":  c.sessionID,
					"attempts": attempts - 1,
				})
			c.logger.Error("push stream terminally disconnected", "session", c.sessionID, "error", terminal)
			if c.onError != nil {
				c.onError(terminal)
			}
			return
		}

		delay := ReconnectDelay(attempts, c.base, c.capDelay, c.jitter)
		c.logger.Warn("push stream dropped, reconnecting", "session", c.sessionID, "attempt", attempts, "delay", delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// consume opens one stream and pumps events until it closes. The bool
// reports whether at least one event came through.
func (c *ReconnectingClient) consume(ctx context.Context) (bool, error) {
	url := fmt.Sprintf("%s/events?session=%s", c.baseURL, c.sessionID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, goerrors.Wrap(err, goerrors.CategoryOperation, "failed to build push stream request")
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.client.Do(req)
	if err != nil {
		return false, goerrors.Wrap(err, goerrors.CategoryOperation, "push stream connection failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, goerrors.New("unexpected push stream status", goerrors.CategoryOperation).
			WithMetadata(map[string]any{
				"status": resp.StatusCode,
			})
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)

	delivered := false
	for scanner.Scan() {
		line := scanner.Text()
		payload, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}

		var event PushEvent
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			c.logger.Warn("ignoring malformed push payload", "session", c.sessionID, "error", err)
			continue
		}

		delivered = true
		if c.handler != nil {
			c.handler(event)
		}
	}

	if err := scanner.Err(); err != nil {
		return delivered, goerrors.Wrap(err, goerrors.CategoryOperation, "push stream read failed")
	}
	return delivered, goerrors.New("push stream closed by server", goerrors.CategoryOperation)
}
