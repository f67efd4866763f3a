// internal/browser/session.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cfclear/api/schemas"
	"github.com/xkilldash9x/cfclear/internal/humanoid"
)

const cleanupTimeout = 10 * time.Second

// Session is one Chrome process with a single tab.
type Session struct {
	logger *zap.Logger

	allocCtx    context.Context
	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc

	display   virtualDisplay
	forwarder forwarder
	pointer   *humanoid.Humanoid

	closeOnce sync.Once
	closeErr  error
}

var _ schemas.BrowserSession = (*Session)(nil)

// CombineContext derives a context from parentCtx that is also cancelled when
// secondaryCtx is done. parentCtx carries the chromedp target.
func CombineContext(parentCtx, secondaryCtx context.Context) (context.Context, context.CancelFunc) {
	combinedCtx, cancel := context.WithCancel(parentCtx)
	go func() {
		select {
		case <-secondaryCtx.Done():
			cancel()
		case <-combinedCtx.Done():
		}
	}()
	return combinedCtx, cancel
}

// start performs the first Run on the tab. chromedp binds the Chrome process
// and the tab's event loop to the context of that first call, so it gets the
// session's own context; ctx only bounds how long the caller waits.
func (s *Session) start(ctx context.Context, actions ...chromedp.Action) error {
	if s.tabCtx == nil {
		return errors.New("browser session not started")
	}
	done := make(chan error, 1)
	go func() {
		done <- chromedp.Run(s.tabCtx, actions...)
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		s.tabCancel()
		<-done
		return ctx.Err()
	}
}

// run executes actions on the tab, bounded by the caller's context.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	if s.tabCtx == nil {
		return errors.New("browser session not started")
	}
	runCtx, cancel := CombineContext(s.tabCtx, ctx)
	defer cancel()
	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// Navigate loads url and waits for the load event.
func (s *Session) Navigate(ctx context.Context, url string) error {
	if err := s.run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

// Content returns the outer HTML of the document element.
func (s *Session) Content(ctx context.Context) (string, error) {
	var html string
	if err := s.run(ctx, chromedp.Evaluate(`document.documentElement ? document.documentElement.outerHTML : ""`, &html)); err != nil {
		return "", fmt.Errorf("failed to read page content: %w", err)
	}
	return html, nil
}

// Cookies returns the cookies visible to the current page, in browser order.
func (s *Session) Cookies(ctx context.Context) ([]schemas.Cookie, error) {
	var raw []*network.Cookie
	err := s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		raw, err = network.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}
	return convertCookies(raw), nil
}

func convertCookies(raw []*network.Cookie) []schemas.Cookie {
	cookies := make([]schemas.Cookie, 0, len(raw))
	for _, c := range raw {
		if c == nil {
			continue
		}
		cookies = append(cookies, schemas.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			Session:  c.Session,
			SameSite: schemas.CookieSameSite(c.SameSite.String()),
		})
	}
	return cookies
}

// UserAgent returns navigator.userAgent as the page sees it.
func (s *Session) UserAgent(ctx context.Context) (string, error) {
	var ua string
	if err := s.run(ctx, chromedp.Evaluate(`navigator.userAgent`, &ua)); err != nil {
		return "", fmt.Errorf("failed to read user agent: %w", err)
	}
	return ua, nil
}

// CurrentURL returns the URL of the main frame.
func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	var loc string
	if err := s.run(ctx, chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("failed to read location: %w", err)
	}
	return loc, nil
}

// LocateWidget fetches the full DOM, shadow roots included, and resolves the challenge widget.
func (s *Session) LocateWidget(ctx context.Context) (*schemas.Widget, error) {
	var root *cdp.Node
	err := s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		root, err = dom.GetDocument().WithDepth(-1).WithPierce(true).Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch document: %w", err)
	}
	return findWidget(root), nil
}

// moveTo glides the pointer to (x, y) along a planned path. Sessions built
// without a pointer model jump straight there.
func (s *Session) moveTo(ctx context.Context, x, y float64) error {
	if s.pointer == nil {
		return input.DispatchMouseEvent(input.MouseMoved, x, y).Do(ctx)
	}
	for _, step := range s.pointer.PlanMove(humanoid.Vector2D{X: x, Y: y}) {
		if err := sleep(ctx, step.Delay); err != nil {
			return err
		}
		if err := input.DispatchMouseEvent(input.MouseMoved, step.Point.X, step.Point.Y).Do(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) holdDuration() time.Duration {
	if s.pointer == nil {
		return 80 * time.Millisecond
	}
	return s.pointer.HoldDuration()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ClickWidget presses and releases the left button at the centre of the
// widget's content box. It returns false when the box cannot be resolved.
func (s *Session) ClickWidget(ctx context.Context, w *schemas.Widget) (bool, error) {
	if w == nil {
		return false, nil
	}
	id := cdp.BackendNodeID(w.BackendNodeID)

	var x, y float64
	resolved := false
	err := s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		// Best effort; the box model below decides whether the click happens.
		_ = dom.ScrollIntoViewIfNeeded().WithBackendNodeID(id).Do(ctx)

		box, err := dom.GetBoxModel().WithBackendNodeID(id).Do(ctx)
		if err != nil || box == nil {
			s.logger.Debug("Widget box model unavailable.", zap.Int64("backend_node_id", w.BackendNodeID), zap.Error(err))
			return nil
		}
		var ok bool
		if x, y, ok = quadCenter(box.Content); !ok {
			return nil
		}
		resolved = true

		if err := s.moveTo(ctx, x, y); err != nil {
			return err
		}
		if err := input.DispatchMouseEvent(input.MousePressed, x, y).
			WithButton(input.Left).WithClickCount(1).Do(ctx); err != nil {
			return err
		}
		if err := sleep(ctx, s.holdDuration()); err != nil {
			return err
		}
		return input.DispatchMouseEvent(input.MouseReleased, x, y).
			WithButton(input.Left).WithClickCount(1).Do(ctx)
	}))
	if err != nil {
		return false, fmt.Errorf("failed to click widget: %w", err)
	}
	if resolved {
		s.logger.Debug("Dispatched click.", zap.Float64("x", x), zap.Float64("y", y))
	}
	return resolved, nil
}

// Close shuts the tab and browser down, then the forwarder and display.
// Teardown runs even when ctx is already cancelled.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
		defer cancel()

		var errs []error
		if s.tabCtx != nil {
			// Cancel waits for the process to exit up to this deadline.
			closeCtx, stop := context.WithTimeout(s.tabCtx, cleanupTimeout)
			err := chromedp.Cancel(closeCtx)
			stop()
			if err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Debug("Graceful browser close failed.", zap.Error(err))
			}
			s.tabCancel()
		}
		if s.allocCancel != nil {
			s.allocCancel()
		}
		if s.forwarder != nil {
			if err := s.forwarder.Close(cleanupCtx); err != nil {
				errs = append(errs, fmt.Errorf("proxy forwarder: %w", err))
			}
		}
		if s.display != nil {
			if err := s.display.Stop(cleanupCtx); err != nil {
				errs = append(errs, fmt.Errorf("virtual display: %w", err))
			}
		}
		s.closeErr = errors.Join(errs...)
		s.logger.Debug("Browser session closed.")
	})
	return s.closeErr
}
