// Package access validates capability tokens and enforces per-token
// rolling-window rate limits on every inbound call.
package access

import (
	"errors"
	"fmt"
	"sync"
	"time"

	constants "hwpulse/config"
	"hwpulse/internal/telemetry"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrRateLimited  = errors.New("rate limited")
)

// Scope names one capability a token may carry.
type Scope string

const (
	ScopeReadMetrics Scope = "read_metrics"
	ScopeReadEvents  Scope = "read_events"
	ScopeStream      Scope = "stream"
	ScopeAdmin       Scope = "admin" // implies every other scope
)

// Token is a provisioned capability. Tokens are created by an external
// provisioning step and only read here. A zero Expiry never expires; a
// zero RateLimit takes the default.
type Token struct {
	KeyID     string  `json:"key_id" mapstructure:"key_id"`
	Scopes    []Scope `json:"scopes" mapstructure:"scopes"`
	RateLimit int     `json:"rate_limit" mapstructure:"rate_limit"`
	Expiry    int64   `json:"expiry" mapstructure:"expiry"` // unix milli
}

// ReadOnlyToken builds a token that may query metrics and events but
// not stream or administer.
func ReadOnlyToken(keyID string) Token {
	return Token{KeyID: keyID, Scopes: []Scope{ScopeReadMetrics, ScopeReadEvents}}
}

// AdminToken builds a token carrying every scope.
func AdminToken(keyID string) Token {
	return Token{KeyID: keyID, Scopes: []Scope{ScopeAdmin}}
}

func (t Token) hasScope(s Scope) bool {
	for _, have := range t.Scopes {
		if have == s || have == ScopeAdmin {
			return true
		}
	}
	return false
}

// Controller holds the provisioned token table and in-memory rate
// counters. Counters reset on a rolling window and do not survive a
// restart.
type Controller struct {
	window time.Duration

	mu      sync.Mutex
	tokens  map[string]Token
	windows map[string]*rateWindow
	now     func() time.Time
}

type rateWindow struct {
	hits []time.Time
}

// NewController builds a controller over a token table.
func NewController(tokens []Token, window time.Duration) *Controller {
	if window <= 0 {
		window = constants.DEFAULT_RATE_LIMIT_WINDOW
	}
	c := &Controller{
		window:  window,
		tokens:  make(map[string]Token, len(tokens)),
		windows: make(map[string]*rateWindow),
		now:     time.Now,
	}
	for _, t := range tokens {
		c.tokens[t.KeyID] = t
	}
	return c
}

// Authorize admits or rejects one call. Order matters: an unknown,
// expired, or under-scoped token is Unauthorized before any rate
// accounting happens, so denied calls never consume quota.
func (c *Controller) Authorize(keyID string, required Scope) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.tokens[keyID]
	if !ok {
		telemetry.AccessDenied.WithLabelValues("unknown_token").Inc()
		return fmt.Errorf("%w: unknown token", ErrUnauthorized)
	}
	now := c.now()
	if t.Expiry != 0 && now.UnixMilli() >= t.Expiry {
		telemetry.AccessDenied.WithLabelValues("expired").Inc()
		return fmt.Errorf("%w: token expired", ErrUnauthorized)
	}
	if !t.hasScope(required) {
		telemetry.AccessDenied.WithLabelValues("missing_scope").Inc()
		return fmt.Errorf("%w: scope %s required", ErrUnauthorized, required)
	}

	limit := t.RateLimit
	if limit <= 0 {
		limit = constants.DEFAULT_RATE_LIMIT_REQUESTS
	}
	w, ok := c.windows[keyID]
	if !ok {
		w = &rateWindow{}
		c.windows[keyID] = w
	}
	w.prune(now.Add(-c.window))
	if len(w.hits) >= limit {
		telemetry.AccessDenied.WithLabelValues("rate_limited").Inc()
		return fmt.Errorf("%w: %d requests in %s", ErrRateLimited, len(w.hits), c.window)
	}
	w.hits = append(w.hits, now)
	return nil
}

func (w *rateWindow) prune(cutoff time.Time) {
	i := 0
	for i < len(w.hits) && !w.hits[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.hits = append(w.hits[:0], w.hits[i:]...)
	}
}

// Remaining reports how much quota a token has left in the current
// window. Unknown tokens report zero.
func (c *Controller) Remaining(keyID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tokens[keyID]
	if !ok {
		return 0
	}
	limit := t.RateLimit
	if limit <= 0 {
		limit = constants.DEFAULT_RATE_LIMIT_REQUESTS
	}
	w, ok := c.windows[keyID]
	if !ok {
		return limit
	}
	w.prune(c.now().Add(-c.window))
	if left := limit - len(w.hits); left > 0 {
		return left
	}
	return 0
}

// RetryAfter reports how long a rate-limited token must wait before its
// oldest hit leaves the window. Zero when the token still has quota.
func (c *Controller) RetryAfter(keyID string) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tokens[keyID]
	if !ok {
		return 0
	}
	limit := t.RateLimit
	if limit <= 0 {
		limit = constants.DEFAULT_RATE_LIMIT_REQUESTS
	}
	w, ok := c.windows[keyID]
	if !ok {
		return 0
	}
	now := c.now()
	w.prune(now.Add(-c.window))
	if len(w.hits) < limit {
		return 0
	}
	return w.hits[0].Add(c.window).Sub(now)
}
