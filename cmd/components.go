package cmd

import (
	"go.uber.org/zap"

	"github.com/xkilldash9x/cfclear/api/schemas"
	"github.com/xkilldash9x/cfclear/internal/browser"
	"github.com/xkilldash9x/cfclear/internal/config"
	"github.com/xkilldash9x/cfclear/internal/coordinator"
	"github.com/xkilldash9x/cfclear/internal/identity"
	"github.com/xkilldash9x/cfclear/internal/server"
)

// newClearer wires the production components. Tests swap it for a fake.
var newClearer = buildCoordinator

// buildCoordinator handles dependency injection for one process.
func buildCoordinator(cfg *config.Config, logger *zap.Logger) (server.Clearer, error) {
	launcher := browser.NewLauncher(cfg.Browser, cfg.Display, logger)
	provider := identity.NewProvider(cfg.Identity, logger)

	c, err := coordinator.New(coordinator.Options{
		Launcher:       launcher,
		Identity:       provider,
		Logger:         logger,
		CacheEnabled:   cfg.Cache.Enabled,
		CacheTTL:       cfg.Cache.TTL,
		SingleFlight:   cfg.Coordinator.SingleFlight,
		Protocols:      schemas.ProtocolFlags{HTTP2: cfg.Browser.HTTP2, HTTP3: cfg.Browser.HTTP3},
		VirtualDisplay: cfg.Browser.VirtualDisplay,
		DefaultTimeout: cfg.Solver.Timeout,
		DefaultProxy:   cfg.Proxy.URL,
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}
