package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/chess10kp/whiskers/internal/apperrors"
)

const reloadDebounce = 250 * time.Millisecond

// Store owns the current configuration. Queries take a Settings snapshot
// from it, so a reload never changes the values a running query sees.
type Store struct {
	mu       sync.RWMutex
	path     string
	cfg      *Config
	logger   *zap.Logger
	onReload []func(*Config)
}

// NewStore loads and validates the file at path.
func NewStore(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg, err := LoadAndValidateConfig(path)
	if err != nil {
		return nil, err
	}
	s := &Store{path: filepath.Clean(expandPath(path)), cfg: cfg, logger: logger.Named("config")}
	s.warnDuplicates(cfg)
	return s, nil
}

// NewStaticStore wraps an in-memory config. Reload and Watch are no-ops.
func NewStaticStore(cfg *Config) *Store {
	return &Store{cfg: cfg, logger: zap.NewNop()}
}

func (s *Store) Config() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Settings returns a fresh snapshot of the current settings values.
func (s *Store) Settings() (*Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cfg == nil {
		return nil, apperrors.ErrSettingsUnavailable
	}
	return s.cfg.Snapshot(), nil
}

// OnReload registers fn to run after every successful reload.
func (s *Store) OnReload(fn func(*Config)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onReload = append(s.onReload, fn)
}

// Reload re-reads the file. On error the previous config stays active.
func (s *Store) Reload() error {
	if s.path == "" {
		return nil
	}
	cfg, err := LoadAndValidateConfig(s.path)
	if err != nil {
		s.logger.Warn("reload failed, keeping previous config", zap.String("path", s.path), zap.Error(err))
		return err
	}
	s.warnDuplicates(cfg)

	s.mu.Lock()
	s.cfg = cfg
	callbacks := append([]func(*Config){}, s.onReload...)
	s.mu.Unlock()

	s.logger.Info("config reloaded",
		zap.String("path", s.path),
		zap.Int("extensions", len(cfg.Extensions)),
		zap.Int("search_engines", len(cfg.SearchEngines)))
	for _, fn := range callbacks {
		fn(cfg)
	}
	return nil
}

// Watch reloads the config whenever its file changes, until ctx is done.
// The parent directory is watched so editors that replace the file by
// rename are picked up.
func (s *Store) Watch(ctx context.Context) error {
	if s.path == "" {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	s.logger.Debug("watching config", zap.String("path", s.path))

	var (
		timer   *time.Timer
		pending <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != s.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			pending = timer.C

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("config watcher error", zap.Error(err))

		case <-pending:
			pending = nil
			_ = s.Reload()
		}
	}
}

func (s *Store) warnDuplicates(cfg *Config) {
	for _, keyword := range cfg.DuplicateKeywords() {
		s.logger.Warn("keyword bound more than once, first binding wins", zap.String("keyword", keyword))
	}
}
