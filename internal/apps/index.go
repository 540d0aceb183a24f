// Package apps supplies the indexed application list and matches typed text
// against it.
package apps

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// IndexedApp is one launchable application. ExecPath is what OpenApp
// receives: a .desktop file on Linux, a bundle or shortcut elsewhere.
type IndexedApp struct {
	Name     string `json:"name"`
	ExecPath string `json:"exec_path"`
	IconPath string `json:"icon_path,omitempty"`
}

// Source yields the current app list. Implementations return a slice the
// caller may read but must not modify.
type Source interface {
	Apps() ([]IndexedApp, error)
}

// StaticSource serves a fixed list.
type StaticSource []IndexedApp

func (s StaticSource) Apps() ([]IndexedApp, error) {
	return s, nil
}

const indexVersion = "1.0"

type indexFile struct {
	Apps      []IndexedApp `json:"apps"`
	Timestamp string       `json:"timestamp"`
	Version   string       `json:"version"`
}

// FileSource reads the JSON index written by an indexer. The file is
// re-read only when its modification time changes.
type FileSource struct {
	path   string
	logger *zap.Logger

	mu      sync.Mutex
	apps    []IndexedApp
	modTime time.Time
	loaded  bool
}

func NewFileSource(path string, logger *zap.Logger) *FileSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileSource{path: path, logger: logger.Named("apps")}
}

// Apps returns the indexed apps. A missing index is an empty list, not an
// error, so a fresh install still gets search-engine fallback.
func (s *FileSource) Apps() ([]IndexedApp, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := os.Stat(s.path)
	if os.IsNotExist(err) {
		if !s.loaded {
			s.logger.Info("app index not found", zap.String("path", s.path))
		}
		s.apps, s.loaded, s.modTime = []IndexedApp{}, true, time.Time{}
		return s.apps, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat app index: %w", err)
	}
	if s.loaded && info.ModTime().Equal(s.modTime) {
		return s.apps, nil
	}

	start := time.Now()
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read app index: %w", err)
	}
	apps, err := ParseIndex(data)
	if err != nil {
		return nil, err
	}

	s.apps, s.modTime, s.loaded = apps, info.ModTime(), true
	s.logger.Debug("app index loaded",
		zap.Int("apps", len(apps)),
		zap.Duration("elapsed", time.Since(start)))
	return s.apps, nil
}

// ParseIndex accepts the index envelope or a bare array of apps.
func ParseIndex(data []byte) ([]IndexedApp, error) {
	trimmed := bytes.TrimSpace(data)
	var apps []IndexedApp
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &apps); err != nil {
			return nil, fmt.Errorf("failed to unmarshal app index: %w", err)
		}
	} else {
		var file indexFile
		if err := json.Unmarshal(trimmed, &file); err != nil {
			return nil, fmt.Errorf("failed to unmarshal app index: %w", err)
		}
		apps = file.Apps
	}
	if apps == nil {
		apps = []IndexedApp{}
	}
	return apps, nil
}

// WriteIndex saves apps to path atomically in the envelope format.
func WriteIndex(path string, apps []IndexedApp) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create index directory: %w", err)
	}
	if apps == nil {
		apps = []IndexedApp{}
	}

	data, err := json.MarshalIndent(indexFile{
		Apps:      apps,
		Timestamp: time.Now().Format(time.RFC3339),
		Version:   indexVersion,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal app index: %w", err)
	}

	tempFile := path + ".tmp"
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp index file: %w", err)
	}
	if err := os.Rename(tempFile, path); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to rename temp index file: %w", err)
	}
	return nil
}
