// internal/browser/launcher.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"runtime"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cfclear/api/schemas"
	"github.com/xkilldash9x/cfclear/internal/config"
	"github.com/xkilldash9x/cfclear/internal/display"
	"github.com/xkilldash9x/cfclear/internal/humanoid"
	"github.com/xkilldash9x/cfclear/internal/proxy"
)

// ErrLaunch wraps every failure to bring up a browser session.
var ErrLaunch = errors.New("browser launch failed")

// startupTimeout bounds the first CDP round trip after the process starts.
const startupTimeout = 45 * time.Second

type virtualDisplay interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Env() string
}

type forwarder interface {
	Start(ctx context.Context) error
	URL() string
	Close(ctx context.Context) error
}

// Launcher starts Chrome sessions configured for clearance acquisition.
type Launcher struct {
	cfg     config.BrowserConfig
	display config.DisplayConfig
	logger  *zap.Logger

	newDisplay   func(config.DisplayConfig, *zap.Logger) virtualDisplay
	newForwarder func(*url.URL, *zap.Logger) (forwarder, error)
}

var _ schemas.Launcher = (*Launcher)(nil)

// NewLauncher creates a Launcher from the browser and display configuration.
func NewLauncher(cfg config.BrowserConfig, displayCfg config.DisplayConfig, logger *zap.Logger) *Launcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Launcher{
		cfg:     cfg,
		display: displayCfg,
		logger:  logger.Named("browser"),
		newDisplay: func(c config.DisplayConfig, l *zap.Logger) virtualDisplay {
			return display.New(c, l)
		},
		newForwarder: func(u *url.URL, l *zap.Logger) (forwarder, error) {
			return proxy.NewForwarder(u, l)
		},
	}
}

// Launch starts the optional virtual display and proxy forwarder, then Chrome,
// and applies the stealth persona. Anything started is released again when a
// later step fails. Errors wrap ErrLaunch.
func (l *Launcher) Launch(ctx context.Context, sc schemas.SessionConfig) (schemas.BrowserSession, error) {
	s := &Session{
		logger:  l.logger,
		pointer: humanoid.New(humanoid.DefaultConfig(), pointerOrigin(l.cfg)),
	}
	fail := func(step string, err error) (schemas.BrowserSession, error) {
		if closeErr := s.Close(ctx); closeErr != nil {
			l.logger.Warn("Cleanup after failed launch reported errors.", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrLaunch, step, err)
	}

	var env []string
	if !sc.Headless && sc.VirtualDisplay {
		d := l.newDisplay(l.display, l.logger)
		if err := d.Start(ctx); err != nil {
			return fail("virtual display", err)
		}
		s.display = d
		env = append(env, d.Env())
	}

	var proxyServer string
	if sc.Proxy != "" {
		upstream, err := config.ParseProxyURL(sc.Proxy)
		if err != nil {
			return fail("proxy", err)
		}
		if proxy.NeedsForwarder(upstream) {
			f, err := l.newForwarder(upstream, l.logger)
			if err != nil {
				return fail("proxy forwarder", err)
			}
			if err := f.Start(ctx); err != nil {
				return fail("proxy forwarder", err)
			}
			s.forwarder = f
			proxyServer = f.URL()
		} else {
			proxyServer = proxy.ServerArg(upstream)
		}
	}

	opts := allocatorOptions(l.cfg, launchFlags(l.cfg, sc, proxyServer, runtime.GOOS), env)

	// The browser outlives individual calls; it is torn down by Close only.
	s.allocCtx, s.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	sugar := l.logger.Sugar()
	s.tabCtx, s.tabCancel = chromedp.NewContext(s.allocCtx,
		chromedp.WithLogf(sugar.Debugf),
		chromedp.WithErrorf(sugar.Debugf),
	)

	startCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()
	if err := s.start(startCtx, applyStealth(PersonaFor(sc.UserAgent), l.logger)); err != nil {
		return fail("chrome", err)
	}

	l.logger.Info("Browser session started.",
		zap.String("mode", sc.Mode()),
		zap.Bool("proxied", proxyServer != ""),
		zap.Bool("http2", sc.Protocols.HTTP2),
		zap.Bool("http3", sc.Protocols.HTTP3),
	)
	return s, nil
}

// pointerOrigin is where the simulated mouse rests before the first move:
// the upper third of the window, horizontally centred.
func pointerOrigin(cfg config.BrowserConfig) humanoid.Vector2D {
	w, h := cfg.WindowWidth, cfg.WindowHeight
	if w <= 0 || h <= 0 {
		w, h = 1920, 1080
	}
	return humanoid.Vector2D{X: float64(w) / 2, Y: float64(h) / 3}
}
