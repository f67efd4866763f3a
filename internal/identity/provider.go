// internal/identity/provider.go
package identity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strings"
	"sync"
	"time"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/cfclear/api/schemas"
	"github.com/xkilldash9x/cfclear/internal/clock"
	"github.com/xkilldash9x/cfclear/internal/config"
)

// ErrNoIdentityAvailable is returned when the source yields no usable
// user-agent and no fallback is configured.
var ErrNoIdentityAvailable = errors.New("no browser identity available")

// errFetchThrottled is returned when the source failed recently and no list is cached.
var errFetchThrottled = errors.New("identity source fetch throttled")

// minRefetchInterval bounds how often the source is hit, failures included.
const minRefetchInterval = 30 * time.Second

// maxListBytes caps the size of the source response.
const maxListBytes = 4 << 20

// Provider picks a random user-agent of the configured browser family from a
// remote list. The list is fetched at most once per refresh interval.
type Provider struct {
	cfg     config.IdentityConfig
	client  *http.Client
	logger  *zap.Logger
	clock   clock.Clock
	intn    func(n int) int
	group   singleflight.Group
	limiter *rate.Limiter

	mu         sync.RWMutex
	candidates []string
	fetchedAt  time.Time
}

var _ schemas.IdentityProvider = (*Provider)(nil)

// Option is a function that configures a Provider.
type Option func(*Provider)

// WithHTTPClient replaces the client used to reach the identity source.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.client = c
	}
}

// WithClock injects the clock used for list freshness.
func WithClock(c clock.Clock) Option {
	return func(p *Provider) {
		p.clock = c
	}
}

// WithIntn replaces the random index source. Used by tests for determinism.
func WithIntn(f func(n int) int) Option {
	return func(p *Provider) {
		p.intn = f
	}
}

// NewProvider creates a Provider for the given identity configuration.
func NewProvider(cfg config.IdentityConfig, logger *zap.Logger, opts ...Option) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Provider{
		cfg:     cfg,
		client:  &http.Client{},
		logger:  logger.Named("identity"),
		clock:   clock.Real{},
		intn:    rand.IntN,
		limiter: rate.NewLimiter(rate.Every(minRefetchInterval), 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Choose returns a user-agent. A pinned user-agent wins outright. Otherwise a
// candidate is drawn uniformly from the filtered list, falling back to the
// configured default when the list is unavailable or empty.
func (p *Provider) Choose(ctx context.Context) (string, error) {
	if p.cfg.UserAgent != "" {
		return p.cfg.UserAgent, nil
	}

	candidates, err := p.list(ctx)
	if err == nil && len(candidates) > 0 {
		return candidates[p.intn(len(candidates))], nil
	}

	if p.cfg.Fallback != "" {
		p.logger.Warn("Identity source unusable, using fallback user agent.",
			zap.Error(err),
			zap.Int("candidates", len(candidates)),
			zap.String("family", p.cfg.Family),
		)
		return p.cfg.Fallback, nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoIdentityAvailable, err)
	}
	return "", fmt.Errorf("%w: no %q user agents in source list", ErrNoIdentityAvailable, p.cfg.Family)
}

// list returns the memoised candidate list, refreshing it when stale.
// Concurrent refreshes collapse into one request.
func (p *Provider) list(ctx context.Context) ([]string, error) {
	if cached, fresh := p.cached(); fresh {
		return cached, nil
	}

	v, err, _ := p.group.Do("list", func() (interface{}, error) {
		// A refresh may have landed between the check above and this call.
		cached, fresh := p.cached()
		if fresh {
			return cached, nil
		}
		if !p.limiter.Allow() {
			if cached != nil {
				return cached, nil
			}
			return nil, errFetchThrottled
		}

		candidates, err := p.fetch(ctx)
		if err != nil {
			if cached != nil {
				p.logger.Warn("Failed to refresh identity list, keeping stale copy.", zap.Error(err))
				return cached, nil
			}
			return nil, err
		}

		p.mu.Lock()
		p.candidates = candidates
		p.fetchedAt = p.clock.Now()
		p.mu.Unlock()
		p.logger.Debug("Refreshed identity list.", zap.Int("candidates", len(candidates)))
		return candidates, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

func (p *Provider) cached() ([]string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.candidates == nil {
		return nil, false
	}
	return p.candidates, p.clock.Now().Sub(p.fetchedAt) < p.cfg.RefreshInterval
}

// fetch downloads the JSON array of user-agents and keeps those naming the family.
func (p *Provider) fetch(ctx context.Context) ([]string, error) {
	if p.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.RequestTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.SourceURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build identity source request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch identity source: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("identity source returned status %d", resp.StatusCode)
	}

	var all []string
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxListBytes)).Decode(&all); err != nil {
		return nil, fmt.Errorf("failed to decode identity source: %w", err)
	}

	return Filter(all, p.cfg.Family), nil
}

// Filter keeps the non-empty user-agents containing family. An empty family keeps all.
func Filter(all []string, family string) []string {
	out := make([]string, 0, len(all))
	for _, ua := range all {
		ua = strings.TrimSpace(ua)
		if ua == "" {
			continue
		}
		if family == "" || strings.Contains(ua, family) {
			out = append(out, ua)
		}
	}
	return out
}
