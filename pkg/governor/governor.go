// Package governor orchestrates logical JSON-RPC calls against a pool
// of interchangeable endpoints on an unreliable public network. It
// paces requests, retries with exponential backoff and jitter, rotates
// endpoints on rate limits and transport failures, and consults a
// global circuit breaker before every attempt. Callers see either a
// result or a definitive failure; everything in between is recovered
// locally.
package governor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Default configuration values.
const (
	// DefaultRequestTimeout is the default timeout for RPC requests.
	DefaultRequestTimeout = 30 * time.Second

	// DefaultRequestDelay is the baseline spacing between requests.
	DefaultRequestDelay = 1 * time.Second

	// DefaultMaxRequestDelay caps adaptive spacing growth.
	DefaultMaxRequestDelay = 30 * time.Second

	// DefaultRequestDelayGrowth is the spacing growth factor per failure.
	DefaultRequestDelayGrowth = 1.5

	// DefaultMaxRetries is the retry cap per logical call.
	DefaultMaxRetries = 3

	// DefaultBackoffBase is the base of the per-attempt wait.
	DefaultBackoffBase = 2 * time.Second

	// DefaultBackoffGrowth is the per-attempt wait growth factor.
	DefaultBackoffGrowth = 3.0

	// DefaultJitterRange bounds the random jitter added to each wait.
	DefaultJitterRange = 500 * time.Millisecond

	// DefaultEndpointCooldown is how long an endpoint rests after an error.
	DefaultEndpointCooldown = 60 * time.Second

	// DefaultBreakerThreshold is the windowed failure count that opens
	// the circuit.
	DefaultBreakerThreshold = 5

	// DefaultBreakerWindow is the rolling window for breaker failures.
	DefaultBreakerWindow = 60 * time.Second

	// DefaultBreakerCooldown is how long the circuit stays open.
	DefaultBreakerCooldown = 2 * time.Minute
)

// Config holds configuration for the Governor.
type Config struct {
	// RequestTimeout is the timeout for individual RPC requests.
	RequestTimeout time.Duration

	// RequestDelay is the baseline minimum spacing between requests.
	// It grows by RequestDelayGrowth on each failure up to
	// MaxRequestDelay and resets to the baseline on success.
	RequestDelay time.Duration

	// MaxRequestDelay is the hard ceiling for adaptive spacing.
	MaxRequestDelay time.Duration

	// RequestDelayGrowth is the spacing multiplier applied per failure.
	RequestDelayGrowth float64

	// MaxRetries bounds the retry counter per logical call. Endpoint
	// rotation does not consume retry budget.
	MaxRetries int

	// BackoffBase is the base per-attempt wait, slept before every
	// attempt including the first.
	BackoffBase time.Duration

	// BackoffGrowth is the per-attempt wait multiplier per retry.
	BackoffGrowth float64

	// JitterRange bounds the uniform random jitter added per attempt.
	JitterRange time.Duration

	// EndpointCooldown is how long an endpoint is skipped after an error.
	EndpointCooldown time.Duration

	// BreakerThreshold is the in-window failure count that opens the
	// circuit.
	BreakerThreshold int

	// BreakerWindow is the rolling failure window.
	BreakerWindow time.Duration

	// BreakerCooldown is how long requests are held once the circuit
	// opens.
	BreakerCooldown time.Duration
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		RequestTimeout:     DefaultRequestTimeout,
		RequestDelay:       DefaultRequestDelay,
		MaxRequestDelay:    DefaultMaxRequestDelay,
		RequestDelayGrowth: DefaultRequestDelayGrowth,
		MaxRetries:         DefaultMaxRetries,
		BackoffBase:        DefaultBackoffBase,
		BackoffGrowth:      DefaultBackoffGrowth,
		JitterRange:        DefaultJitterRange,
		EndpointCooldown:   DefaultEndpointCooldown,
		BreakerThreshold:   DefaultBreakerThreshold,
		BreakerWindow:      DefaultBreakerWindow,
		BreakerCooldown:    DefaultBreakerCooldown,
	}
}

// WithDefaults applies default values for any unset fields.
func (c Config) WithDefaults() Config {
	defaults := DefaultConfig()

	if c.RequestTimeout == 0 {
		c.RequestTimeout = defaults.RequestTimeout
	}
	if c.RequestDelay == 0 {
		c.RequestDelay = defaults.RequestDelay
	}
	if c.MaxRequestDelay == 0 {
		c.MaxRequestDelay = defaults.MaxRequestDelay
	}
	if c.RequestDelayGrowth == 0 {
		c.RequestDelayGrowth = defaults.RequestDelayGrowth
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = defaults.MaxRetries
	}
	if c.BackoffBase == 0 {
		c.BackoffBase = defaults.BackoffBase
	}
	if c.BackoffGrowth == 0 {
		c.BackoffGrowth = defaults.BackoffGrowth
	}
	if c.EndpointCooldown == 0 {
		c.EndpointCooldown = defaults.EndpointCooldown
	}
	if c.BreakerThreshold == 0 {
		c.BreakerThreshold = defaults.BreakerThreshold
	}
	if c.BreakerWindow == 0 {
		c.BreakerWindow = defaults.BreakerWindow
	}
	if c.BreakerCooldown == 0 {
		c.BreakerCooldown = defaults.BreakerCooldown
	}
	return c
}

// Governor executes one logical call at a time against the endpoint
// pool. Each monitored mint must get its own Governor instance; state
// is never shared across instances.
type Governor struct {
	cfg        Config
	pool       *Pool
	breaker    *Breaker
	httpClient *http.Client
	logger     *zap.Logger

	// callMu serializes logical calls, held across internal waits.
	callMu sync.Mutex

	// mu guards the adaptive pacing state below so status readers do
	// not block behind an in-flight call.
	mu           sync.Mutex
	requestDelay time.Duration
	lastDone     time.Time
	failStreak   int

	rng *rand.Rand

	// Overridable for tests.
	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// Stats is a copy of the governor's state for status reporting.
type Stats struct {
	Endpoints    []EndpointInfo `json:"endpoints"`
	Breaker      BreakerStats   `json:"breaker"`
	RequestDelay time.Duration  `json:"requestDelay"`
	FailStreak   int            `json:"failStreak"`
	LastRequest  time.Time      `json:"lastRequest,omitempty"`
}

// New creates a Governor over the given endpoint URLs.
func New(urls []string, cfg Config, logger *zap.Logger) (*Governor, error) {
	cfg = cfg.WithDefaults()

	pool, err := NewPool(urls, cfg.EndpointCooldown)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Governor{
		cfg:     cfg,
		pool:    pool,
		breaker: NewBreaker(cfg.BreakerThreshold, cfg.BreakerWindow, cfg.BreakerCooldown),
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		logger:       logger,
		requestDelay: cfg.RequestDelay,
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
		now:          time.Now,
		sleep:        sleepCtx,
	}, nil
}

// Execute performs one logical JSON-RPC call and returns the raw
// result, retrying and rotating endpoints as needed. It returns
// ErrExhausted (wrapped) once the retry cap is hit with no rotation
// available.
func (g *Governor) Execute(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	var result json.RawMessage
	err := g.run(ctx, method, func(ctx context.Context, url string) error {
		raw, err := g.post(ctx, url, method, params)
		if err != nil {
			return err
		}
		result = raw
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Do runs an arbitrary operation under the governor's pacing, breaker,
// retry, and rotation rules. The operation's errors are classified the
// same way as RPC errors; wrap with Permanent to bypass retries.
func (g *Governor) Do(ctx context.Context, op string, fn func(context.Context) error) error {
	return g.run(ctx, op, func(ctx context.Context, _ string) error {
		return fn(ctx)
	})
}

// run is the single retry loop behind Execute and Do. Retries are an
// explicit bounded loop; the counter is visible and never recursive.
func (g *Governor) run(ctx context.Context, op string, attempt func(ctx context.Context, url string) error) error {
	g.callMu.Lock()
	defer g.callMu.Unlock()

	var lastErr error
	retries := 0

	for {
		// Hold while the circuit is open, then start on a fresh
		// endpoint: rotation after cooldown favors a statistically
		// healthier backend.
		if blocked, wait := g.breaker.ShouldBlock(g.now()); blocked {
			g.logger.Warn("circuit open, holding requests",
				zap.String("op", op),
				zap.Duration("wait", wait))
			if err := g.sleep(ctx, wait); err != nil {
				return err
			}
			g.pool.Rotate(g.now())
		}

		if wait := g.spacing(); wait > 0 {
			if err := g.sleep(ctx, wait); err != nil {
				return err
			}
		}

		// Paced before every attempt, including the first.
		if err := g.sleep(ctx, g.attemptWait(retries)); err != nil {
			return err
		}

		ep := g.pool.Current()
		err := attempt(ctx, ep.URL)
		g.markDone()

		if err == nil {
			g.markSuccess()
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if isPermanent(err) {
			return err
		}

		lastErr = err
		g.markFailure(ep, err, op, retries)

		if IsRateLimit(err) || isTransport(err) {
			if g.pool.Rotate(g.now()) {
				// Fresh endpoint: retry at the same counter. Rotation
				// never consumes retry budget.
				g.logger.Debug("rotated endpoint",
					zap.String("op", op),
					zap.String("endpoint", g.pool.Current().URL))
				continue
			}
		}

		if retries >= g.cfg.MaxRetries {
			return fmt.Errorf("%s: %w after %d attempts: %w", op, ErrExhausted, retries+1, lastErr)
		}
		retries++
	}
}

// spacing returns how long to wait to honor the adaptive minimum
// inter-request delay.
func (g *Governor) spacing() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.lastDone.IsZero() {
		return 0
	}
	elapsed := g.now().Sub(g.lastDone)
	if elapsed >= g.requestDelay {
		return 0
	}
	return g.requestDelay - elapsed
}

// attemptWait computes the per-attempt wait: exponential in the retry
// count plus uniform random jitter.
func (g *Governor) attemptWait(retries int) time.Duration {
	wait := time.Duration(float64(g.cfg.BackoffBase) * math.Pow(g.cfg.BackoffGrowth, float64(retries)))
	if g.cfg.JitterRange > 0 {
		wait += time.Duration(g.rng.Int63n(int64(g.cfg.JitterRange)))
	}
	return wait
}

// markDone stamps the completion of a request, success or failure.
func (g *Governor) markDone() {
	g.mu.Lock()
	g.lastDone = g.now()
	g.mu.Unlock()
}

// markSuccess resets the adaptive delay and failure streak. Breaker
// events are untouched; those decay only by time.
func (g *Governor) markSuccess() {
	g.mu.Lock()
	g.requestDelay = g.cfg.RequestDelay
	g.failStreak = 0
	g.mu.Unlock()
}

// markFailure records the failure with the breaker and the endpoint,
// and grows the adaptive inter-request delay toward its ceiling.
func (g *Governor) markFailure(ep *Endpoint, err error, op string, retries int) {
	now := g.now()
	g.breaker.RecordFailure(now)
	g.pool.RecordError(ep, now)

	g.mu.Lock()
	g.failStreak++
	grown := time.Duration(float64(g.requestDelay) * g.cfg.RequestDelayGrowth)
	if grown > g.cfg.MaxRequestDelay {
		grown = g.cfg.MaxRequestDelay
	}
	g.requestDelay = grown
	delay := g.requestDelay
	g.mu.Unlock()

	g.logger.Warn("request failed",
		zap.String("op", op),
		zap.String("endpoint", ep.URL),
		zap.Int("retries", retries),
		zap.Duration("request_delay", delay),
		zap.Error(err))
}

// Stats returns a copy of the governor state for status reporting.
func (g *Governor) Stats() Stats {
	now := g.now()
	g.mu.Lock()
	stats := Stats{
		RequestDelay: g.requestDelay,
		FailStreak:   g.failStreak,
		LastRequest:  g.lastDone,
	}
	g.mu.Unlock()
	stats.Endpoints = g.pool.Snapshot(now)
	stats.Breaker = g.breaker.Stats()
	return stats
}

// rpcRequest represents a JSON-RPC 2.0 request.
type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

// rpcResponse represents a JSON-RPC 2.0 response.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcErrorBody   `json:"error,omitempty"`
}

// rpcErrorBody represents a JSON-RPC error object.
type rpcErrorBody struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// post issues a single JSON-RPC request against one endpoint.
func (g *Governor) post(ctx context.Context, url, method string, params []interface{}) (json.RawMessage, error) {
	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  method,
		Params:  params,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &RPCError{Code: codeTooManyRequests, Message: "too many requests"}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http status %d: %s", resp.StatusCode, string(respBody))
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	if rpcResp.Error != nil {
		return nil, &RPCError{
			Code:    rpcResp.Error.Code,
			Message: rpcResp.Error.Message,
		}
	}

	return rpcResp.Result, nil
}

// sleepCtx blocks for d or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
