// Package platform starts child processes. All OS-specific launch behaviour
// lives here; the rest of the module only sees the Launcher interface.
package platform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chess10kp/whiskers/internal/apperrors"
)

const (
	// maxStderr caps how much child stderr is kept for error reports.
	maxStderr = 64 * 1024
	waitDelay = 2 * time.Second
)

// Launcher spawns extension entry points and the OS openers.
type Launcher interface {
	// SpawnForeground runs the entry point in cwd and blocks until it exits
	// or ctx is done. A non-nil error means the process never ran.
	SpawnForeground(ctx context.Context, cwd string, env []string) (ExitStatus, error)
	// SpawnBackground starts the entry point in cwd without waiting for it.
	SpawnBackground(cwd string, env []string) (*Handle, error)
	OpenURL(url string) (*Handle, error)
	OpenApp(execPath string) (*Handle, error)
}

// ExitStatus describes how a child process ended.
type ExitStatus struct {
	Code     int
	Stderr   string
	TimedOut bool
}

func (s ExitStatus) Success() bool {
	return s.Code == 0 && !s.TimedOut
}

// Handle tracks a process started without waiting. Wait may be called from
// any number of goroutines.
type Handle struct {
	pid    int
	done   chan struct{}
	status ExitStatus
	err    error
}

// Done is closed once the process has exited and been reaped.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

func (h *Handle) Pid() int {
	return h.pid
}

// Wait blocks until the process exits. The error is set only when waiting
// itself failed; a non-zero exit is reported through ExitStatus.
func (h *Handle) Wait() (ExitStatus, error) {
	<-h.done
	return h.status, h.err
}

// OSLauncher implements Launcher for the host operating system.
type OSLauncher struct {
	entryPoint string
	logger     *zap.Logger
}

func NewOSLauncher(entryPoint string, logger *zap.Logger) *OSLauncher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OSLauncher{entryPoint: entryPoint, logger: logger.Named("platform")}
}

func (l *OSLauncher) SpawnForeground(ctx context.Context, cwd string, env []string) (ExitStatus, error) {
	cmd := entryCommand(ctx, l.entryPoint)
	cmd.Dir = cwd
	cmd.Env = append(os.Environ(), env...)
	configureForeground(cmd)
	cmd.WaitDelay = waitDelay

	stderr := &limitedWriter{limit: maxStderr}
	cmd.Stderr = stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return ExitStatus{}, fmt.Errorf("%w: %s in %s: %v", apperrors.ErrProcessLaunch, l.entryPoint, cwd, err)
	}
	l.logger.Debug("foreground process started", zap.Int("pid", cmd.Process.Pid), zap.String("cwd", cwd))

	waitErr := cmd.Wait()
	status := ExitStatus{Code: exitCode(cmd, waitErr), Stderr: stderr.String()}

	if ctxErr := ctx.Err(); ctxErr != nil && waitErr != nil {
		status.TimedOut = errors.Is(ctxErr, context.DeadlineExceeded)
		l.logger.Warn("foreground process killed",
			zap.String("cwd", cwd),
			zap.Bool("timed_out", status.TimedOut),
			zap.Duration("elapsed", time.Since(start)))
		if !status.TimedOut {
			return status, ctxErr
		}
		return status, nil
	}

	l.logger.Debug("foreground process exited",
		zap.String("cwd", cwd),
		zap.Int("code", status.Code),
		zap.Duration("elapsed", time.Since(start)))
	return status, nil
}

func (l *OSLauncher) SpawnBackground(cwd string, env []string) (*Handle, error) {
	cmd := entryCommand(context.Background(), l.entryPoint)
	cmd.Dir = cwd
	cmd.Env = append(os.Environ(), env...)
	configureBackground(cmd)
	return l.start(cmd, "background process")
}

func (l *OSLauncher) OpenURL(url string) (*Handle, error) {
	cmd, err := openURLCommand(url)
	if err != nil {
		return nil, err
	}
	configureBackground(cmd)
	return l.start(cmd, "url opener")
}

func (l *OSLauncher) OpenApp(execPath string) (*Handle, error) {
	cmd, err := openAppCommand(execPath)
	if err != nil {
		return nil, err
	}
	configureBackground(cmd)
	return l.start(cmd, "app launcher")
}

// start launches cmd and reaps it on a separate goroutine. A grandchild
// that keeps stderr open delays reaping by at most waitDelay.
func (l *OSLauncher) start(cmd *exec.Cmd, what string) (*Handle, error) {
	stderr := &limitedWriter{limit: maxStderr}
	cmd.Stderr = stderr
	cmd.WaitDelay = waitDelay

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", apperrors.ErrProcessLaunch, what, cmd.Path, err)
	}

	h := &Handle{pid: cmd.Process.Pid, done: make(chan struct{})}
	l.logger.Debug(what+" started", zap.Int("pid", h.pid), zap.Strings("args", cmd.Args))

	go func() {
		defer close(h.done)
		waitErr := cmd.Wait()
		h.status = ExitStatus{Code: exitCode(cmd, waitErr), Stderr: stderr.String()}
		var exitErr *exec.ExitError
		if waitErr != nil && !errors.As(waitErr, &exitErr) && !errors.Is(waitErr, exec.ErrWaitDelay) {
			h.err = waitErr
		}
		if h.status.Code != 0 {
			l.logger.Warn(what+" exited with error",
				zap.Int("pid", h.pid),
				zap.Int("code", h.status.Code),
				zap.String("stderr", h.status.Stderr))
		}
	}()

	return h, nil
}

func exitCode(cmd *exec.Cmd, waitErr error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	if waitErr != nil {
		return -1
	}
	return 0
}

// limitedWriter keeps the first limit bytes written and drops the rest.
type limitedWriter struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (w *limitedWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if room := w.limit - w.buf.Len(); room > 0 {
		if len(p) > room {
			w.buf.Write(p[:room])
			w.truncated = true
		} else {
			w.buf.Write(p)
		}
	} else if len(p) > 0 {
		w.truncated = true
	}
	return len(p), nil
}

func (w *limitedWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.truncated {
		return w.buf.String() + "\n[stderr truncated]"
	}
	return w.buf.String()
}

// NewHandle returns a handle for a process tracked outside OSLauncher and
// the function that completes it. Launcher fakes use it in tests.
func NewHandle(pid int) (*Handle, func(ExitStatus, error)) {
	h := &Handle{pid: pid, done: make(chan struct{})}
	var once sync.Once
	return h, func(status ExitStatus, err error) {
		once.Do(func() {
			h.status, h.err = status, err
			close(h.done)
		})
	}
}
