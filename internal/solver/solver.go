// Package solver drives a challenge page until the clearance cookie appears,
// the challenge goes away, or the time budget runs out.
package solver

import (
	"context"
	"fmt"
	"time"

	"github.com/xkilldash9x/cfclear/api/schemas"
	"github.com/xkilldash9x/cfclear/internal/challenge"
	"github.com/xkilldash9x/cfclear/internal/clearance"
	"github.com/xkilldash9x/cfclear/internal/clock"
	"go.uber.org/zap"
)

// Pacing between polls. These mimic human timing and are not configurable.
const (
	// WidgetBackoff is the wait after the widget host is not found.
	WidgetBackoff = 250 * time.Millisecond
	// ClickDelay is the wait between seeing a visible widget and clicking it.
	ClickDelay = time.Second
)

// Exit describes why the loop stopped.
type Exit int

const (
	// Solved means the clearance cookie is present.
	Solved Exit = iota
	// NoChallenge means no challenge marker remains on the page.
	NoChallenge
	// TimedOut means the budget elapsed with the challenge still up.
	TimedOut
)

func (e Exit) String() string {
	switch e {
	case Solved:
		return "solved"
	case NoChallenge:
		return "no_challenge"
	case TimedOut:
		return "timed_out"
	default:
		return fmt.Sprintf("exit(%d)", int(e))
	}
}

type state int

const (
	stateScanning state = iota
	stateWidgetWait
	stateVisible
	stateClicking
)

func (s state) String() string {
	switch s {
	case stateScanning:
		return "scanning"
	case stateWidgetWait:
		return "widget_wait"
	case stateVisible:
		return "visible"
	case stateClicking:
		return "clicking"
	default:
		return "unknown"
	}
}

// Outcome summarises one Run.
type Outcome struct {
	Exit Exit
	// Platform is the last challenge platform observed, empty if none was.
	Platform   challenge.Platform
	Clicks     int
	Iterations int
	Elapsed    time.Duration
}

// Solver runs the polling state machine against a browser session.
type Solver struct {
	logger  *zap.Logger
	clock   clock.Clock
	timeout time.Duration
}

// New creates a Solver. A nil clock uses the wall clock.
func New(logger *zap.Logger, clk clock.Clock, timeout time.Duration) *Solver {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Solver{
		logger:  logger.Named("solver"),
		clock:   clk,
		timeout: timeout,
	}
}

// Run polls the page while the clearance cookie is absent, a challenge marker
// is present and the timeout has not elapsed. The timeout is only checked at
// iteration boundaries, so an in-flight wait or click always completes.
// TimedOut is reported through the Outcome, not as an error. Errors are
// returned for context cancellation and for failures of the session itself.
func (s *Solver) Run(ctx context.Context, page schemas.BrowserSession) (Outcome, error) {
	start := s.clock.Now()
	var out Outcome
	var widget *schemas.Widget

	finish := func(exit Exit) (Outcome, error) {
		out.Exit = exit
		out.Elapsed = s.clock.Now().Sub(start)
		s.logger.Info("Challenge loop finished.",
			zap.Stringer("exit", exit),
			zap.Int("clicks", out.Clicks),
			zap.Int("iterations", out.Iterations),
			zap.Duration("elapsed", out.Elapsed),
		)
		return out, nil
	}
	fail := func(err error) (Outcome, error) {
		out.Elapsed = s.clock.Now().Sub(start)
		return out, err
	}

	current := stateScanning
	for {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}

		switch current {
		case stateScanning:
			cookies, err := page.Cookies(ctx)
			if err != nil {
				return fail(fmt.Errorf("failed to read cookies: %w", err))
			}
			if _, ok := clearance.Extract(cookies); ok {
				return finish(Solved)
			}

			content, err := page.Content(ctx)
			if err != nil {
				return fail(fmt.Errorf("failed to read page content: %w", err))
			}
			platform, ok := challenge.Detect(content)
			if !ok {
				return finish(NoChallenge)
			}
			out.Platform = platform

			if s.clock.Now().Sub(start) >= s.timeout {
				return finish(TimedOut)
			}
			out.Iterations++
			current = stateWidgetWait

		case stateWidgetWait:
			w, err := page.LocateWidget(ctx)
			if err != nil {
				return fail(fmt.Errorf("failed to locate challenge widget: %w", err))
			}
			switch {
			case w == nil:
				s.logger.Debug("Widget host not present yet.", zap.Stringer("state", current), zap.Int("iteration", out.Iterations))
				if err := s.clock.Sleep(ctx, WidgetBackoff); err != nil {
					return fail(err)
				}
				current = stateScanning
			case w.Hidden:
				current = stateScanning
			default:
				widget = w
				current = stateVisible
			}

		case stateVisible:
			if err := s.clock.Sleep(ctx, ClickDelay); err != nil {
				return fail(err)
			}
			current = stateClicking

		case stateClicking:
			clicked, err := page.ClickWidget(ctx, widget)
			if err != nil {
				return fail(fmt.Errorf("failed to click challenge widget: %w", err))
			}
			if clicked {
				out.Clicks++
				s.logger.Debug("Clicked challenge widget.", zap.Int("clicks", out.Clicks))
			} else {
				s.logger.Debug("Widget position unresolved, retrying.", zap.Stringer("state", current), zap.Int("iteration", out.Iterations))
			}
			widget = nil
			current = stateScanning
		}
	}
}
