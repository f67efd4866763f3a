// Package display runs an Xvfb virtual framebuffer so a headed browser can
// run on a machine without a physical display.
package display

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/cfclear/internal/config"
)

// Allows mocking process creation in tests.
var execCommand = exec.Command

const stopTimeout = 5 * time.Second

// Xvfb manages one Xvfb process.
type Xvfb struct {
	cfg    config.DisplayConfig
	logger *zap.Logger

	mu   sync.Mutex
	cmd  *exec.Cmd
	done chan error
}

// New creates an Xvfb for the given display configuration. Nothing runs until Start.
func New(cfg config.DisplayConfig, logger *zap.Logger) *Xvfb {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Xvfb{
		cfg:    cfg,
		logger: logger.Named("display"),
	}
}

// Display returns the X display name, e.g. ":99".
func (x *Xvfb) Display() string {
	return ":" + strconv.Itoa(x.cfg.DisplayNum)
}

// Env returns the environment entry pointing X clients at the display.
func (x *Xvfb) Env() string {
	return "DISPLAY=" + x.Display()
}

func (x *Xvfb) args() []string {
	return []string{
		x.Display(),
		"-screen", "0", fmt.Sprintf("%dx%dx%d", x.cfg.Width, x.cfg.Height, x.cfg.Depth),
		"-nolisten", "tcp",
		"-ac",
	}
}

// Start launches Xvfb and waits StartupWait for it to come up. The process is
// not bound to ctx; it lives until Stop.
func (x *Xvfb) Start(ctx context.Context) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.cmd != nil {
		return errors.New("virtual display already started")
	}

	cmd := execCommand(x.cfg.Binary, x.args()...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", x.cfg.Binary, err)
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
		close(done)
	}()

	timer := time.NewTimer(x.cfg.StartupWait)
	defer timer.Stop()
	select {
	case err := <-done:
		return fmt.Errorf("%s exited during startup: %v", x.cfg.Binary, err)
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-done
		return ctx.Err()
	case <-timer.C:
	}

	x.cmd = cmd
	x.done = done
	x.logger.Info("Virtual display started.",
		zap.String("display", x.Display()),
		zap.Int("pid", cmd.Process.Pid),
		zap.Int("width", x.cfg.Width),
		zap.Int("height", x.cfg.Height),
	)
	return nil
}

// Stop terminates Xvfb, escalating to SIGKILL when it does not exit in time.
// It is safe to call more than once.
func (x *Xvfb) Stop(ctx context.Context) error {
	x.mu.Lock()
	cmd, done := x.cmd, x.done
	x.cmd, x.done = nil, nil
	x.mu.Unlock()

	if cmd == nil {
		return nil
	}

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		x.logger.Warn("Failed to signal virtual display, killing.", zap.Error(err))
		_ = cmd.Process.Kill()
	}

	stopCtx, cancel := context.WithTimeout(ctx, stopTimeout)
	defer cancel()
	select {
	case <-done:
	case <-stopCtx.Done():
		_ = cmd.Process.Kill()
		<-done
	}
	x.logger.Debug("Virtual display stopped.", zap.String("display", x.Display()))
	return nil
}
