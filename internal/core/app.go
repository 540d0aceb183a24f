// Package core wires the resolver, extension runner and dialog controller
// into the command surface a front-end talks to.
package core

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/chess10kp/whiskers/internal/apps"
	"github.com/chess10kp/whiskers/internal/channel"
	"github.com/chess10kp/whiskers/internal/config"
	"github.com/chess10kp/whiskers/internal/dialog"
	"github.com/chess10kp/whiskers/internal/extension"
	"github.com/chess10kp/whiskers/internal/platform"
	"github.com/chess10kp/whiskers/internal/protocol"
	"github.com/chess10kp/whiskers/internal/router"
)

const pruneInterval = time.Hour

// Surface is the front-end's interaction window.
type Surface interface {
	Hide() error
	Close() error
}

type noopSurface struct{}

func (noopSurface) Hide() error  { return nil }
func (noopSurface) Close() error { return nil }

type Option func(*App)

func WithSurface(s Surface) Option {
	return func(a *App) { a.surface = s }
}

// WithAppSource replaces the JSON index named in the config.
func WithAppSource(src apps.Source) Option {
	return func(a *App) { a.source = src }
}

func WithLauncher(l platform.Launcher) Option {
	return func(a *App) { a.launcher = l }
}

func WithLogger(l *zap.Logger) Option {
	return func(a *App) { a.logger = l }
}

// App implements the front-end command surface.
type App struct {
	store    *config.Store
	source   apps.Source
	launcher platform.Launcher
	surface  Surface
	logger   *zap.Logger

	channel *channel.Channel
	runner  *extension.Runner
	router  *router.Router
	dialogs *dialog.Controller
	cache   *apps.MatchCache
}

// NewApp builds every component from the store's current config. Failing
// to create the scratch directory is the only fatal setup error.
func NewApp(store *config.Store, opts ...Option) (*App, error) {
	a := &App{store: store, surface: noopSurface{}}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = zap.NewNop()
	}

	cfg := store.Config()
	if cfg == nil {
		return nil, fmt.Errorf("no configuration loaded")
	}

	ch, err := channel.New(cfg.ScratchDir, a.logger)
	if err != nil {
		return nil, err
	}
	a.channel = ch

	if a.launcher == nil {
		a.launcher = platform.NewOSLauncher(cfg.Extension.EntryPoint, a.logger)
	}
	if a.source == nil {
		a.source = apps.NewFileSource(cfg.AppsIndexFile, a.logger)
	}

	cache, err := apps.NewMatchCache(cfg.Search.CacheSize, a.logger)
	if err != nil {
		return nil, err
	}
	a.cache = cache

	a.runner = extension.NewRunner(extension.NewLocator(cfg.ExtensionsDir), ch, a.launcher, extension.Options{
		Timeout:       time.Duration(cfg.Extension.TimeoutMs) * time.Millisecond,
		MaxBackground: cfg.Extension.MaxBackground,
	}, a.logger)
	a.router = router.New(a.runner, apps.NewMatcher(cache, a.logger), cfg.IconsDir, a.logger)
	a.dialogs = dialog.NewController(ch, a.runner, a.logger)

	store.OnReload(func(*config.Config) {
		a.cache.Invalidate()
		a.logger.Debug("match cache invalidated after config reload")
	})

	return a, nil
}

func (a *App) Store() *config.Store        { return a.store }
func (a *App) Channel() *channel.Channel   { return a.channel }
func (a *App) Dialogs() *dialog.Controller { return a.dialogs }
func (a *App) MatchStats() apps.CacheStats { return a.cache.Stats() }

// GetSearchResults resolves typed against a fresh settings snapshot.
func (a *App) GetSearchResults(ctx context.Context, typed string) ([]protocol.ResultItem, error) {
	settings, err := a.store.Settings()
	if err != nil {
		return []protocol.ResultItem{}, err
	}
	return a.router.Resolve(ctx, typed, settings, a.source)
}

// RunExtensionAction starts the action in the background and closes the
// surface without waiting for the extension.
func (a *App) RunExtensionAction(ctx context.Context, extensionID, extensionAction string, args []string) (*platform.Handle, error) {
	handle, err := a.runner.RunAction(ctx, extensionID, extensionAction, args)
	if err != nil {
		return nil, err
	}
	a.closeSurface()
	return handle, nil
}

// OpenApp hides the surface, starts the app, then closes the surface.
func (a *App) OpenApp(execPath string) (*platform.Handle, error) {
	if err := a.surface.Hide(); err != nil {
		a.logger.Warn("failed to hide surface", zap.Error(err))
	}
	handle, err := a.launcher.OpenApp(execPath)
	if err != nil {
		return nil, err
	}
	a.closeSurface()
	return handle, nil
}

// OpenURL opens url with the default handler, then closes the surface.
func (a *App) OpenURL(url string) (*platform.Handle, error) {
	handle, err := a.launcher.OpenURL(url)
	if err != nil {
		return nil, err
	}
	a.closeSurface()
	return handle, nil
}

func (a *App) OpenExtensionDialog(extensionID, extensionAction, title, primaryButtonText string, fields []protocol.DialogField, args []string) error {
	return a.dialogs.OpenDialog(extensionID, extensionAction, title, primaryButtonText, fields, args)
}

func (a *App) GetExtensionDialogRequest() (*protocol.DialogRequest, error) {
	return a.dialogs.FetchDialogRequest()
}

func (a *App) CloseExtensionDialog(ctx context.Context, extensionID, extensionAction string, args []string, results []protocol.DialogResult) (*platform.Handle, error) {
	return a.dialogs.CloseDialog(ctx, extensionID, extensionAction, args, results)
}

// Prune removes failed invocations older than the configured horizon.
func (a *App) Prune() (int, error) {
	hours := a.store.Config().Extension.KeepFailedHours
	return a.channel.Prune(time.Duration(hours) * time.Hour)
}

func (a *App) closeSurface() {
	if err := a.surface.Close(); err != nil {
		a.logger.Warn("failed to close surface", zap.Error(err))
	}
}

// Serve runs the IPC server and the config watcher until SIGINT/SIGTERM or
// ctx is done.
func (a *App) Serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if removed, err := a.Prune(); err != nil {
		a.logger.Warn("startup prune failed", zap.Error(err))
	} else if removed > 0 {
		a.logger.Info("startup prune", zap.Int("removed", removed))
	}

	server := NewIPCServer(a, a.store.Config().SocketPath, a.logger)
	if err := server.Start(ctx); err != nil {
		return err
	}
	defer server.Stop()

	watchErr := make(chan error, 1)
	go func() { watchErr <- a.store.Watch(ctx) }()

	sched := NewScheduler(a.logger)
	if err := sched.Every("prune", pruneInterval, func(context.Context) error {
		removed, err := a.Prune()
		if removed > 0 {
			a.logger.Info("pruned invocations", zap.Int("removed", removed))
		}
		return err
	}); err != nil {
		return err
	}
	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		_ = sched.Run(ctx)
	}()
	defer func() { <-schedDone }()

	a.logger.Info("whiskers serving", zap.String("socket", server.SocketPath()))

	select {
	case <-ctx.Done():
	case err := <-watchErr:
		if err != nil {
			a.logger.Warn("config watcher stopped", zap.Error(err))
		}
		<-ctx.Done()
	}
	a.logger.Info("whiskers shutting down")
	return nil
}
