// Package coordinator serialises clearance acquisitions onto browser sessions
// and caches the last successful result.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cfclear/api/schemas"
	"github.com/xkilldash9x/cfclear/internal/challenge"
	"github.com/xkilldash9x/cfclear/internal/clearance"
	"github.com/xkilldash9x/cfclear/internal/clock"
	"github.com/xkilldash9x/cfclear/internal/observability"
	"github.com/xkilldash9x/cfclear/internal/solver"
)

// ErrChallengeUnresolved is the error text of a negative result when the
// clearance cookie never appeared.
var ErrChallengeUnresolved = errors.New("failed to obtain clearance cookie")

const (
	// DefaultCacheTTL is how long a successful result is served from cache.
	DefaultCacheTTL = 30 * time.Minute
	// DefaultTimeout is the solve budget when a request does not set one.
	DefaultTimeout = 30 * time.Second

	closeTimeout = 15 * time.Second
)

// Options configures a Coordinator.
type Options struct {
	Launcher schemas.Launcher
	Identity schemas.IdentityProvider
	Clock    clock.Clock
	Logger   *zap.Logger

	CacheEnabled bool
	CacheTTL     time.Duration
	// SingleFlight serialises every acquisition and freezes the first
	// attempt's session configuration for the life of the Coordinator.
	SingleFlight bool

	Protocols      schemas.ProtocolFlags
	VirtualDisplay bool
	DefaultTimeout time.Duration
	// DefaultProxy applies to requests that do not name a proxy.
	DefaultProxy string
}

// Request is one acquisition.
type Request struct {
	URL      string
	Timeout  time.Duration
	Proxy    string
	Headless bool
}

type cacheEntry struct {
	result     schemas.ClearanceResult
	obtainedAt time.Time
}

// Coordinator owns the result cache and, in single-flight mode, the retained
// session configuration. mu guards the cache. In single-flight mode a caller
// holds the one-slot flight channel for its whole attempt, and retained is
// only touched by that holder.
type Coordinator struct {
	opts   Options
	logger *zap.Logger
	clock  clock.Clock

	flight   chan struct{}
	retained *schemas.SessionConfig

	mu    sync.Mutex
	cache *cacheEntry
}

// New creates a Coordinator. Launcher and Identity are required.
func New(opts Options) (*Coordinator, error) {
	if opts.Launcher == nil {
		return nil, errors.New("coordinator: launcher is required")
	}
	if opts.Identity == nil {
		return nil, errors.New("coordinator: identity provider is required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultCacheTTL
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = DefaultTimeout
	}
	return &Coordinator{
		opts:   opts,
		logger: opts.Logger.Named("coordinator"),
		clock:  opts.Clock,
		flight: make(chan struct{}, 1),
	}, nil
}

// Invalidate drops the cached result. It does not wait for a running attempt.
func (c *Coordinator) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = nil
}

// cached returns the cached result if it is younger than the TTL.
func (c *Coordinator) cached() (schemas.ClearanceResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.opts.CacheEnabled || c.cache == nil {
		return schemas.ClearanceResult{}, false
	}
	if c.clock.Now().Sub(c.cache.obtainedAt) >= c.opts.CacheTTL {
		return schemas.ClearanceResult{}, false
	}
	return c.cache.result, true
}

func (c *Coordinator) store(result schemas.ClearanceResult) {
	if !c.opts.CacheEnabled {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = &cacheEntry{result: result, obtainedAt: c.clock.Now()}
}

// enterFlight takes the single-flight slot, waiting while another attempt
// holds it. Callers whose context ends while waiting leave the queue.
func (c *Coordinator) enterFlight(ctx context.Context) error {
	select {
	case c.flight <- struct{}{}:
		return nil
	default:
	}
	select {
	case c.flight <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) leaveFlight() {
	<-c.flight
}

// Acquire obtains a clearance for req.URL. It never returns an error or
// panics: every failure becomes a result with Success=false.
func (c *Coordinator) Acquire(ctx context.Context, req Request) (result schemas.ClearanceResult) {
	log := observability.ForAttempt(c.logger, uuid.NewString(), req.URL)

	defer func() {
		if r := recover(); r != nil {
			log.Error("Acquisition panicked.", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			result = schemas.Failure(fmt.Sprintf("unexpected error: %v", r), nil)
		}
	}()

	if c.opts.SingleFlight {
		if err := c.enterFlight(ctx); err != nil {
			log.Info("Stopped waiting for the running acquisition.", zap.Error(err))
			return schemas.Failure(err.Error(), nil)
		}
		defer c.leaveFlight()
	}

	if cached, ok := c.cached(); ok {
		log.Info("Using cached cookie")
		return cached
	}

	result, err := c.attempt(ctx, log, req)
	if err != nil {
		log.Error("Acquisition failed.", zap.Error(err))
		return schemas.Failure(err.Error(), nil)
	}
	if result.Success {
		c.store(result)
	}
	return result
}

// sessionConfig builds the launch configuration, or returns the retained one
// in single-flight mode. In single-flight mode the caller holds the flight slot.
func (c *Coordinator) sessionConfig(ctx context.Context, log *zap.Logger, req Request) (schemas.SessionConfig, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.opts.DefaultTimeout
	}
	proxy := req.Proxy
	if proxy == "" {
		proxy = c.opts.DefaultProxy
	}

	if c.opts.SingleFlight && c.retained != nil {
		sc := *c.retained
		requested := schemas.SessionConfig{
			UserAgent:      sc.UserAgent,
			Timeout:        timeout,
			Protocols:      c.opts.Protocols,
			Headless:       req.Headless,
			Proxy:          proxy,
			VirtualDisplay: c.opts.VirtualDisplay,
		}
		if !reflect.DeepEqual(requested, sc) {
			log.Debug("Ignoring per-request session settings; single-flight keeps the first configuration.",
				zap.String("retained_mode", sc.Mode()),
				zap.Duration("retained_timeout", sc.Timeout),
				zap.String("requested_mode", requested.Mode()),
				zap.Duration("requested_timeout", requested.Timeout),
			)
		}
		return sc, nil
	}

	userAgent, err := c.opts.Identity.Choose(ctx)
	if err != nil {
		return schemas.SessionConfig{}, fmt.Errorf("failed to choose browser identity: %w", err)
	}

	sc := schemas.SessionConfig{
		UserAgent:      userAgent,
		Timeout:        timeout,
		Protocols:      c.opts.Protocols,
		Headless:       req.Headless,
		Proxy:          proxy,
		VirtualDisplay: c.opts.VirtualDisplay,
	}
	if c.opts.SingleFlight {
		retained := sc
		c.retained = &retained
	}
	return sc, nil
}

// attempt runs one acquisition against a fresh browser session. A nil error
// with Success=false is the normal negative outcome.
func (c *Coordinator) attempt(ctx context.Context, log *zap.Logger, req Request) (schemas.ClearanceResult, error) {
	sc, err := c.sessionConfig(ctx, log, req)
	if err != nil {
		return schemas.ClearanceResult{}, err
	}
	log.Info("Starting browser", zap.String("user_agent", sc.UserAgent))
	log.Info("Mode", zap.String("mode", sc.Mode()))

	session, err := c.opts.Launcher.Launch(ctx, sc)
	if err != nil {
		return schemas.ClearanceResult{}, err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
		defer cancel()
		if err := session.Close(closeCtx); err != nil {
			log.Warn("Browser session did not close cleanly.", zap.Error(err))
		}
	}()

	log.Info("Navigating", zap.String("target", req.URL))
	if err := session.Navigate(ctx, req.URL); err != nil {
		return schemas.ClearanceResult{}, err
	}

	cookies, err := session.Cookies(ctx)
	if err != nil {
		return schemas.ClearanceResult{}, err
	}
	_, found := clearance.Extract(cookies)

	var (
		platform challenge.Platform
		outcome  *solver.Outcome
	)
	if !found {
		content, err := session.Content(ctx)
		if err != nil {
			return schemas.ClearanceResult{}, err
		}
		if p, ok := challenge.Detect(content); ok {
			platform = p
			log.Info("Detected Cloudflare challenge", zap.Stringer("platform", p))
			log.Info("Attempting to solve challenge...")

			out, err := solver.New(log, c.clock, sc.Timeout).Run(ctx, session)
			if err != nil {
				return schemas.ClearanceResult{}, err
			}
			outcome = &out
			log.Info("Challenge solving complete", zap.Stringer("exit", out.Exit))

			if cookies, err = session.Cookies(ctx); err != nil {
				return schemas.ClearanceResult{}, err
			}
			_, found = clearance.Extract(cookies)
		}
	}

	if !found {
		log.Error("Failed to obtain clearance cookie")
		return schemas.Failure(ErrChallengeUnresolved.Error(), c.diagnostics(ctx, session, platform, outcome)), nil
	}

	userAgent, err := session.UserAgent(ctx)
	if err != nil {
		return schemas.ClearanceResult{}, err
	}

	log.Info("Successfully obtained clearance cookie")
	return schemas.ClearanceResult{
		Success:   true,
		Cookie:    clearance.Render(cookies),
		UserAgent: userAgent,
	}, nil
}

// diagnostics collects what the page looked like when the attempt gave up.
// Read failures leave the corresponding key out.
func (c *Coordinator) diagnostics(ctx context.Context, session schemas.BrowserSession, platform challenge.Platform, outcome *solver.Outcome) map[string]any {
	diag := map[string]any{}
	if content, err := session.Content(ctx); err == nil {
		diag["page_length"] = len(content)
		if title := challenge.Title(content); title != "" {
			diag["page_title"] = title
		}
	}
	if current, err := session.CurrentURL(ctx); err == nil {
		diag["current_url"] = current
	}
	if platform != "" {
		diag["platform"] = platform.String()
	}
	if outcome != nil {
		diag["solver_exit"] = outcome.Exit.String()
		diag["clicks"] = outcome.Clicks
	}
	return diag
}
