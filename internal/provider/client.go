// Package provider implements the session-based client for the external
// market-data API. Queries run with a hard per-call timeout and bounded
// retries; exhausting retries degrades to an empty result rather than an
// error, because one instrument's data gap must never abort a whole scan.
package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantlab/platformscan/internal/domain"
)

// Distinguished provider errors.
var (
	// ErrLoginFailed indicates the provider rejected the session login.
	ErrLoginFailed = errors.New("provider login failed")
	// ErrQueryFailed indicates the provider returned an error code for a query.
	ErrQueryFailed = errors.New("provider query failed")
)

// Transport is the raw wire protocol to the provider. Implementations carry
// the session state; Login is idempotent per session.
type Transport interface {
	Login(ctx context.Context) error
	Logout(ctx context.Context) error
	QueryBars(ctx context.Context, code string, start, end time.Time) ([]domain.Bar, error)
}

// Client wraps a Transport with session management, per-call timeouts and
// retry with growing backoff. Each retry is preceded by a forced re-login,
// since most transient provider failures invalidate the session.
//
// Safe for concurrent use: the scan workers all share one client, so the
// session state is guarded by a mutex and login handshakes are serialized.
// Queries themselves run concurrently.
type Client struct {
	transport     Transport
	queryTimeout  time.Duration
	retryAttempts int
	retryDelay    time.Duration
	log           zerolog.Logger

	mu       sync.Mutex
	loggedIn bool
}

// Options configures a Client.
type Options struct {
	QueryTimeout  time.Duration // Hard ceiling per provider call
	RetryAttempts int           // Retries after the first failed attempt
	RetryDelay    time.Duration // Base backoff delay
}

// NewClient creates a provider client over the given transport.
func NewClient(transport Transport, opts Options, log zerolog.Logger) *Client {
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = 30 * time.Second
	}
	if opts.RetryAttempts < 0 {
		opts.RetryAttempts = 0
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 2 * time.Second
	}
	return &Client{
		transport:     transport,
		queryTimeout:  opts.QueryTimeout,
		retryAttempts: opts.RetryAttempts,
		retryDelay:    opts.RetryDelay,
		log:           log.With().Str("client", "provider").Logger(),
	}
}

// Login establishes the provider session. Safe to call repeatedly and from
// concurrent workers; the lock is held across the handshake so only one
// login is ever in flight.
func (c *Client) Login(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loggedIn {
		return nil
	}
	if err := c.transport.Login(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrLoginFailed, err)
	}
	c.loggedIn = true
	return nil
}

// Logout tears down the provider session.
func (c *Client) Logout(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.loggedIn {
		return nil
	}
	c.loggedIn = false
	if err := c.transport.Logout(ctx); err != nil {
		return fmt.Errorf("provider logout failed: %w", err)
	}
	return nil
}

// invalidate drops the session so the next Login performs a fresh handshake.
func (c *Client) invalidate() {
	c.mu.Lock()
	c.loggedIn = false
	c.mu.Unlock()
}

// QueryBars fetches bars for code over [start, end]. Zero rows is a
// legitimate result (delisted, illiquid or non-trading ranges). On repeated
// failure the error is returned; the fetch layer decides whether to degrade.
//
// Retry policy: attempt 0 runs immediately; each retry n waits
// delay × (1 + n×0.5) and forces a fresh login first.
func (c *Client) QueryBars(ctx context.Context, code string, start, end time.Time) ([]domain.Bar, error) {
	var lastErr error

	for attempt := 0; attempt <= c.retryAttempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(float64(c.retryDelay) * (1 + float64(attempt)*0.5))
			c.log.Warn().
				Str("code", code).
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Err(lastErr).
				Msg("Retrying provider query")

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}

			// Transient provider failures usually invalidate the session.
			c.invalidate()
		}

		if err := c.Login(ctx); err != nil {
			lastErr = err
			continue
		}

		callCtx, cancel := context.WithTimeout(ctx, c.queryTimeout)
		rows, err := c.transport.QueryBars(callCtx, code, start, end)
		cancel()
		if err != nil {
			lastErr = fmt.Errorf("%w: %v", ErrQueryFailed, err)
			continue
		}

		return rows, nil
	}

	return nil, lastErr
}
