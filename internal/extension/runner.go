// Package extension drives extension processes through the context channel.
package extension

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/chess10kp/whiskers/internal/apperrors"
	"github.com/chess10kp/whiskers/internal/channel"
	"github.com/chess10kp/whiskers/internal/platform"
	"github.com/chess10kp/whiskers/internal/protocol"
)

type Options struct {
	// Timeout bounds foreground runs. Zero means no deadline.
	Timeout time.Duration
	// MaxBackground caps concurrent background runs.
	MaxBackground int
}

// Runner launches extensions. Foreground runs return results; background
// runs return a handle and clean up after themselves.
type Runner struct {
	locator  *Locator
	channel  *channel.Channel
	launcher platform.Launcher
	timeout  time.Duration
	sem      *semaphore.Weighted
	logger   *zap.Logger

	maxBackground int
}

func NewRunner(locator *Locator, ch *channel.Channel, launcher platform.Launcher, opts Options, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxBackground <= 0 {
		opts.MaxBackground = 1
	}
	return &Runner{
		locator:  locator,
		channel:  ch,
		launcher: launcher,
		timeout:  opts.Timeout,
		sem:      semaphore.NewWeighted(int64(opts.MaxBackground)),
		logger:   logger.Named("extension"),

		maxBackground: opts.MaxBackground,
	}
}

// GetResults runs the extension in the foreground with a get_results
// context and returns the results it wrote. Any failure is an
// *apperrors.ExecutionError; the invocation directory is then left in place.
func (r *Runner) GetResults(ctx context.Context, id, searchText string) ([]protocol.ResultItem, error) {
	dir, err := r.locator.Dir(id)
	if err != nil {
		return nil, err
	}

	inv, err := r.channel.NewInvocation()
	if err != nil {
		return nil, &apperrors.ExecutionError{ExtensionID: id, Cause: err}
	}
	logger := r.logger.With(zap.String("extension_id", id), zap.String("invocation_id", inv.ID()))

	if err := inv.WriteContext(protocol.NewGetResultsContext(searchText)); err != nil {
		return nil, &apperrors.ExecutionError{ExtensionID: id, Cause: err}
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	status, err := r.launcher.SpawnForeground(ctx, dir, inv.Env())
	if err != nil {
		logger.Warn("extension did not run", zap.Error(err))
		return nil, &apperrors.ExecutionError{ExtensionID: id, ExitCode: status.Code, Cause: err}
	}
	if !status.Success() {
		logger.Warn("extension failed",
			zap.Int("code", status.Code),
			zap.Bool("timed_out", status.TimedOut),
			zap.String("stderr", status.Stderr),
			zap.String("invocation_dir", inv.Dir()))
		return nil, &apperrors.ExecutionError{
			ExtensionID: id,
			ExitCode:    status.Code,
			Stderr:      status.Stderr,
			TimedOut:    status.TimedOut,
		}
	}

	results, err := inv.ReadResults()
	if err != nil {
		logger.Warn("extension results unreadable", zap.Error(err), zap.String("invocation_dir", inv.Dir()))
		return nil, &apperrors.ExecutionError{ExtensionID: id, Stderr: status.Stderr, Cause: err}
	}

	logger.Debug("extension returned results",
		zap.Int("results", len(results)),
		zap.Duration("elapsed", time.Since(start)))
	if err := inv.Remove(); err != nil {
		logger.Warn("failed to remove invocation", zap.Error(err))
	}
	return results, nil
}

// RunAction starts the extension in the background with a run_action
// context. It never waits for a slot: when MaxBackground runs are already in
// flight it fails with apperrors.ErrBackgroundLimit.
func (r *Runner) RunAction(ctx context.Context, id, action string, args []string) (*platform.Handle, error) {
	return r.background(ctx, id, protocol.NewRunActionContext(action, args), nil)
}

// Resume starts the extension in the background after a dialog closes. The
// response, args included, is written into the same invocation as a
// run_action context that carries only the action name.
func (r *Runner) Resume(ctx context.Context, id, action string, response *protocol.DialogResponse) (*platform.Handle, error) {
	if response == nil {
		return nil, fmt.Errorf("%w: missing dialog response", apperrors.ErrInvalidRequest)
	}
	return r.background(ctx, id, protocol.NewRunActionContext(action, nil), response)
}

func (r *Runner) background(ctx context.Context, id string, invCtx *protocol.InvocationContext, response *protocol.DialogResponse) (*platform.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir, err := r.locator.Dir(id)
	if err != nil {
		return nil, err
	}

	if !r.sem.TryAcquire(1) {
		r.logger.Warn("background run rejected",
			zap.String("extension_id", id),
			zap.Int("max_background", r.maxBackground))
		return nil, fmt.Errorf("%w: %d extension(s) already running", apperrors.ErrBackgroundLimit, r.maxBackground)
	}
	started := false
	defer func() {
		if !started {
			r.sem.Release(1)
		}
	}()

	inv, err := r.channel.NewInvocation()
	if err != nil {
		return nil, err
	}
	logger := r.logger.With(
		zap.String("extension_id", id),
		zap.String("invocation_id", inv.ID()),
		zap.String("extension_action", invCtx.ExtensionAction))

	if response != nil {
		if err := inv.WriteDialogResponse(response); err != nil {
			_ = inv.Remove()
			return nil, err
		}
	}
	if err := inv.WriteContext(invCtx); err != nil {
		_ = inv.Remove()
		return nil, err
	}

	handle, err := r.launcher.SpawnBackground(dir, inv.Env())
	if err != nil {
		logger.Warn("background extension did not start", zap.Error(err))
		return nil, err
	}
	started = true
	logger.Debug("background extension started", zap.Int("pid", handle.Pid()))

	go func() {
		defer r.sem.Release(1)
		status, err := handle.Wait()
		if err != nil || !status.Success() {
			logger.Warn("background extension failed",
				zap.Int("code", status.Code),
				zap.String("stderr", status.Stderr),
				zap.String("invocation_dir", inv.Dir()),
				zap.Error(err))
			return
		}
		if err := inv.Remove(); err != nil {
			logger.Warn("failed to remove invocation", zap.Error(err))
		}
	}()

	return handle, nil
}
