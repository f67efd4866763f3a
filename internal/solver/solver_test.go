package solver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/cfclear/api/schemas"
	"github.com/xkilldash9x/cfclear/internal/challenge"
	"github.com/xkilldash9x/cfclear/internal/mocks"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var epoch = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func setup(t *testing.T, timeout time.Duration) (*Solver, *mocks.FakeClock) {
	t.Helper()
	clk := mocks.NewFakeClock(epoch)
	return New(zaptest.NewLogger(t), clk, timeout), clk
}

func clearanceCookie() schemas.Cookie {
	return schemas.Cookie{Name: "cf_clearance", Value: "abc", Domain: ".example.com", Path: "/"}
}

func TestRun_OneClickSolves(t *testing.T) {
	s, clk := setup(t, 30*time.Second)
	page := &mocks.ScriptedPage{
		HTML:   mocks.ChallengePage("interactive"),
		Widget: &schemas.Widget{BackendNodeID: 42, NodeName: "DIV"},
		OnClick: func(p *mocks.ScriptedPage, n int) {
			p.Jar = append(p.Jar, clearanceCookie())
			p.HTML = "<html><body>ok</body></html>"
			p.Widget = nil
		},
	}

	out, err := s.Run(context.Background(), page)
	require.NoError(t, err)

	assert.Equal(t, Solved, out.Exit)
	assert.Equal(t, 1, out.Clicks)
	assert.Equal(t, 1, out.Iterations)
	assert.Equal(t, challenge.Interactive, out.Platform)
	assert.Equal(t, 1, page.Clicks())
	assert.Equal(t, ClickDelay, out.Elapsed)
	assert.Equal(t, []time.Duration{ClickDelay}, clk.Sleeps())
}

func TestRun_ChallengeDisappearsWithoutInteraction(t *testing.T) {
	s, _ := setup(t, 30*time.Second)
	page := &mocks.ScriptedPage{
		HTML: mocks.ChallengePage("non-interactive"),
		OnLocate: func(p *mocks.ScriptedPage, n int) {
			if n == 3 {
				p.HTML = "<html><body>welcome</body></html>"
			}
		},
	}

	out, err := s.Run(context.Background(), page)
	require.NoError(t, err)
	assert.Equal(t, NoChallenge, out.Exit)
	assert.Equal(t, 3, out.Iterations)
	assert.Equal(t, 0, out.Clicks)
	assert.Equal(t, 3*WidgetBackoff, out.Elapsed)
}

func TestRun_ExitsImmediatelyWhenNothingToSolve(t *testing.T) {
	t.Run("clearance already present", func(t *testing.T) {
		s, _ := setup(t, 30*time.Second)
		page := &mocks.ScriptedPage{HTML: mocks.ChallengePage("interactive"), Jar: []schemas.Cookie{clearanceCookie()}}

		out, err := s.Run(context.Background(), page)
		require.NoError(t, err)
		assert.Equal(t, Solved, out.Exit)
		assert.Zero(t, out.Iterations)
		assert.Zero(t, page.Locates())
	})

	t.Run("no marker", func(t *testing.T) {
		s, _ := setup(t, 30*time.Second)
		page := &mocks.ScriptedPage{HTML: "<html></html>"}

		out, err := s.Run(context.Background(), page)
		require.NoError(t, err)
		assert.Equal(t, NoChallenge, out.Exit)
		assert.Empty(t, out.Platform)
		assert.Zero(t, page.Locates())
	})
}

func TestRun_TimeoutBound(t *testing.T) {
	const timeout = 30 * time.Second
	bound := timeout + WidgetBackoff + ClickDelay

	cases := []struct {
		name   string
		widget *schemas.Widget
		clicks []bool
	}{
		{"widget host never appears", nil, nil},
		{"visible widget never accepts the click", &schemas.Widget{BackendNodeID: 1}, nil},
		{"visible widget never resolves", &schemas.Widget{BackendNodeID: 1}, make([]bool, 1000)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, clk := setup(t, timeout)
			page := &mocks.ScriptedPage{
				HTML:         mocks.ChallengePage("interactive"),
				Widget:       tc.widget,
				ClickResults: tc.clicks,
			}

			out, err := s.Run(context.Background(), page)
			require.NoError(t, err)
			assert.Equal(t, TimedOut, out.Exit)
			assert.GreaterOrEqual(t, out.Elapsed, timeout)
			assert.LessOrEqual(t, out.Elapsed, bound)
			assert.Equal(t, out.Elapsed, clk.Now().Sub(epoch))
		})
	}

	t.Run("late start overruns by at most one click cycle", func(t *testing.T) {
		s, clk := setup(t, timeout)
		page := &mocks.ScriptedPage{
			HTML:   mocks.ChallengePage("managed"),
			Widget: &schemas.Widget{BackendNodeID: 1},
			OnLocate: func(p *mocks.ScriptedPage, n int) {
				if n == 1 {
					clk.Advance(timeout - time.Millisecond)
				}
			},
		}

		out, err := s.Run(context.Background(), page)
		require.NoError(t, err)
		assert.Equal(t, TimedOut, out.Exit)
		assert.Equal(t, 1, out.Iterations)
		assert.Equal(t, timeout-time.Millisecond+ClickDelay, out.Elapsed)
		assert.LessOrEqual(t, out.Elapsed, bound)
	})
}

func TestRun_HiddenWidgetIsNotClicked(t *testing.T) {
	s, _ := setup(t, 30*time.Second)
	page := &mocks.ScriptedPage{
		HTML:   mocks.ChallengePage("interactive"),
		Widget: &schemas.Widget{BackendNodeID: 9, Hidden: true},
		OnLocate: func(p *mocks.ScriptedPage, n int) {
			if n == 5 {
				p.Jar = []schemas.Cookie{clearanceCookie()}
			}
		},
	}

	out, err := s.Run(context.Background(), page)
	require.NoError(t, err)
	assert.Equal(t, Solved, out.Exit)
	assert.Equal(t, 5, out.Iterations)
	assert.Zero(t, page.ClickAttempts())
	assert.Zero(t, out.Elapsed, "hidden widgets are re-polled without waiting")
}

func TestRun_UnresolvedClickRetries(t *testing.T) {
	s, clk := setup(t, 30*time.Second)
	page := &mocks.ScriptedPage{
		HTML:         mocks.ChallengePage("interactive"),
		Widget:       &schemas.Widget{BackendNodeID: 3},
		ClickResults: []bool{false, false, true},
		OnClick: func(p *mocks.ScriptedPage, n int) {
			p.Jar = []schemas.Cookie{clearanceCookie()}
		},
	}

	out, err := s.Run(context.Background(), page)
	require.NoError(t, err)
	assert.Equal(t, Solved, out.Exit)
	assert.Equal(t, 1, out.Clicks)
	assert.Equal(t, 3, out.Iterations)
	assert.Equal(t, 3, page.ClickAttempts())
	assert.Equal(t, []time.Duration{ClickDelay, ClickDelay, ClickDelay}, clk.Sleeps())
}

func TestRun_ContextCancelled(t *testing.T) {
	s, _ := setup(t, 30*time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	page := &mocks.ScriptedPage{
		HTML: mocks.ChallengePage("interactive"),
		OnLocate: func(p *mocks.ScriptedPage, n int) {
			if n == 2 {
				cancel()
			}
		},
	}

	out, err := s.Run(ctx, page)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, out.Iterations)
}

func TestRun_SessionErrors(t *testing.T) {
	boom := errors.New("target closed")

	t.Run("cookies", func(t *testing.T) {
		s, _ := setup(t, time.Second)
		page := mocks.NewMockBrowserSession()
		page.On("Cookies", mock.Anything).Return(nil, boom)

		_, err := s.Run(context.Background(), page)
		assert.ErrorIs(t, err, boom)
		page.AssertExpectations(t)
	})

	t.Run("locate", func(t *testing.T) {
		s, _ := setup(t, time.Second)
		page := &mocks.ScriptedPage{HTML: mocks.ChallengePage("interactive"), LocateErr: boom}

		_, err := s.Run(context.Background(), page)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("click", func(t *testing.T) {
		s, _ := setup(t, time.Second)
		page := mocks.NewMockBrowserSession()
		w := &schemas.Widget{BackendNodeID: 5}
		page.On("Cookies", mock.Anything).Return([]schemas.Cookie{}, nil).Once()
		page.On("Content", mock.Anything).Return(mocks.ChallengePage("interactive"), nil).Once()
		page.On("LocateWidget", mock.Anything).Return(w, nil).Once()
		page.On("ClickWidget", mock.Anything, w).Return(false, boom).Once()

		_, err := s.Run(context.Background(), page)
		assert.ErrorIs(t, err, boom)
		page.AssertExpectations(t)
	})
}

func TestExitString(t *testing.T) {
	assert.Equal(t, "solved", Solved.String())
	assert.Equal(t, "no_challenge", NoChallenge.String())
	assert.Equal(t, "timed_out", TimedOut.String())
	assert.Equal(t, "exit(9)", Exit(9).String())
}
