// Package claimscache keeps a stale-while-revalidate view of the current
// principal's claims and deduplicates concurrent provider fetches.
package claimscache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/and161185/practigate/internal/claims"
	"github.com/and161185/practigate/internal/identity"
	"github.com/and161185/practigate/internal/obs"
)

// Purpose selects how old cached claims may be for a given caller.
type Purpose int

const (
	PurposeDisplay Purpose = iota
	PurposeAuthorization
	PurposeStepUp
)

func (p Purpose) String() string {
	switch p {
	case PurposeDisplay:
		return "display"
	case PurposeAuthorization:
		return "authorization"
	case PurposeStepUp:
		return "step_up"
	default:
		return "unknown"
	}
}

// Default TTL profiles.
const (
	DisplayTTL       = 3 * time.Minute
	AuthorizationTTL = 30 * time.Second
	StepUpTTL        = 5 * time.Minute
)

const (
	flightKey           = "claims"
	defaultRetryBase    = 200 * time.Millisecond
	defaultMaxRetries   = 2
	defaultFetchTimeout = 15 * time.Second
)

// Options tunes the cache. Zero values select the defaults.
type Options struct {
	TTLs         map[Purpose]time.Duration
	RetryBase    time.Duration
	MaxRetries   int
	FetchTimeout time.Duration
	Now          func() time.Time
	Metrics      *obs.Metrics
}

// Entry is the single live cache record. A nil Claims never gets stored:
// "no principal" clears the entry instead.
type Entry struct {
	Claims    *claims.Claims
	FetchedAt time.Time
}

// StaleAt is the start of the revalidation window for ttl.
func (e Entry) StaleAt(ttl time.Duration) time.Time { return e.FetchedAt.Add(ttl * 4 / 5) }

// ExpiresAt is the end of the entry's life for ttl.
func (e Entry) ExpiresAt(ttl time.Duration) time.Time { return e.FetchedAt.Add(ttl) }

// Cache is safe for concurrent use.
type Cache struct {
	provider identity.Provider
	log      *zap.Logger
	metrics  *obs.Metrics

	ttls         map[Purpose]time.Duration
	retryBase    time.Duration
	maxRetries   int
	fetchTimeout time.Duration
	now          func() time.Time

	group singleflight.Group

	mu         sync.Mutex
	entry      *Entry
	gen        uint64
	refreshing bool
}

// New creates a cache over provider.
func New(provider identity.Provider, logger *zap.Logger, opts Options) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Cache{
		provider:     provider,
		log:          logger.Named("claimscache"),
		metrics:      opts.Metrics,
		ttls:         map[Purpose]time.Duration{PurposeDisplay: DisplayTTL, PurposeAuthorization: AuthorizationTTL, PurposeStepUp: StepUpTTL},
		retryBase:    opts.RetryBase,
		maxRetries:   opts.MaxRetries,
		fetchTimeout: opts.FetchTimeout,
		now:          opts.Now,
	}
	for p, ttl := range opts.TTLs {
		if ttl > 0 {
			c.ttls[p] = ttl
		}
	}
	if c.metrics == nil {
		c.metrics = obs.NewMetrics(nil)
	}
	if c.retryBase <= 0 {
		c.retryBase = defaultRetryBase
	}
	if c.maxRetries <= 0 {
		c.maxRetries = defaultMaxRetries
	}
	if c.fetchTimeout <= 0 {
		c.fetchTimeout = defaultFetchTimeout
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// TTL reports the configured lifetime for purpose.
func (c *Cache) TTL(p Purpose) time.Duration {
	if ttl, ok := c.ttls[p]; ok {
		return ttl
	}
	return c.ttls[PurposeAuthorization]
}

// Get returns the principal's claims, or nil when there is no valid principal.
// Fresh entries are served without a provider call; stale entries are served
// immediately while one background refresh runs; misses wait on a shared fetch.
func (c *Cache) Get(ctx context.Context, p Purpose) *claims.Claims {
	ttl := c.TTL(p)

	c.mu.Lock()
	now := c.now()
	if e := c.entry; e != nil && now.Before(e.ExpiresAt(ttl)) {
		out := e.Claims.Clone()
		if now.Before(e.StaleAt(ttl)) {
			c.mu.Unlock()
			c.metrics.CacheRequests.WithLabelValues("hit").Inc()
			c.log.Debug("claims cache hit", zap.Stringer("purpose", p))
			return out
		}
		startRefresh := !c.refreshing
		c.refreshing = true
		c.mu.Unlock()

		c.metrics.CacheRequests.WithLabelValues("stale").Inc()
		if startRefresh {
			go c.refresh()
		}
		return out
	}
	c.mu.Unlock()

	c.metrics.CacheRequests.WithLabelValues("miss").Inc()
	ch := c.group.DoChan(flightKey, c.load)
	select {
	case <-ctx.Done():
		return nil
	case res := <-ch:
		if res.Err != nil {
			return nil
		}
		cl, _ := res.Val.(*claims.Claims)
		return cl.Clone()
	}
}

// Invalidate drops the cached entry and orphans any fetch in flight: its
// result is discarded and later callers start a new fetch. Sessions call it
// on every change before announcing the change to subscribers.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.entry = nil
	c.gen++
	c.refreshing = false
	c.mu.Unlock()
	c.group.Forget(flightKey)
	c.log.Debug("claims cache invalidated")
}

// Snapshot returns a copy of the live entry, if any.
func (c *Cache) Snapshot() (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entry == nil {
		return Entry{}, false
	}
	return Entry{Claims: c.entry.Claims.Clone(), FetchedAt: c.entry.FetchedAt}, true
}

func (c *Cache) refresh() {
	defer func() {
		c.mu.Lock()
		c.refreshing = false
		c.mu.Unlock()
	}()
	if _, err, _ := c.group.Do(flightKey, c.load); err != nil {
		c.log.Warn("background claims refresh failed, keeping stale entry", zap.Error(err))
	}
}

// load runs inside the single flight. Callers get the same pointer; Get clones it.
func (c *Cache) load() (any, error) {
	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.fetchTimeout)
	defer cancel()

	cl, err := c.fetchWithRetry(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		c.metrics.CacheFetches.WithLabelValues("discarded").Inc()
		return (*claims.Claims)(nil), nil
	}
	if err != nil {
		c.metrics.CacheFetches.WithLabelValues("error").Inc()
		c.log.Error("claims fetch failed", zap.Error(err))
		return nil, err
	}
	if cl == nil {
		c.metrics.CacheFetches.WithLabelValues("none").Inc()
		c.entry = nil
		return (*claims.Claims)(nil), nil
	}
	cl = cl.Clone()
	cl.Normalize()
	if verr := cl.Validate(); verr != nil {
		c.metrics.CacheFetches.WithLabelValues("invalid").Inc()
		c.log.Warn("rejecting claims", zap.Error(verr))
		c.entry = nil
		return (*claims.Claims)(nil), nil
	}
	c.metrics.CacheFetches.WithLabelValues("ok").Inc()
	c.entry = &Entry{Claims: cl, FetchedAt: c.now()}
	return cl, nil
}

func (c *Cache) fetchWithRetry(ctx context.Context) (*claims.Claims, error) {
	delay := c.retryBase
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			t := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil, ctx.Err()
			case <-t.C:
			}
			delay *= 2
		}
		cl, err := c.provider.CurrentClaims(ctx)
		if err == nil {
			return cl, nil
		}
		lastErr = err
		c.log.Debug("claims fetch attempt failed", zap.Int("attempt", attempt+1), zap.Error(err))
	}
	return nil, lastErr
}
