package apps

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const parseConcurrency = 10

// DesktopSource scans XDG application directories for .desktop entries.
type DesktopSource struct {
	dirs     []string
	iconDirs []string
	logger   *zap.Logger
}

// DefaultDesktopDirs lists the application directories in lookup order.
// Entries in earlier directories shadow same-named entries in later ones.
func DefaultDesktopDirs() []string {
	home, _ := os.UserHomeDir()
	dirs := []string{filepath.Join(home, ".local", "share", "applications")}
	dataDirs := os.Getenv("XDG_DATA_DIRS")
	if dataDirs == "" {
		dataDirs = "/usr/local/share:/usr/share"
	}
	for _, d := range filepath.SplitList(dataDirs) {
		dirs = append(dirs, filepath.Join(d, "applications"))
	}
	return dirs
}

func defaultIconDirs() []string {
	return []string{
		"/usr/share/pixmaps",
		"/usr/share/icons/hicolor/scalable/apps",
		"/usr/share/icons/hicolor/48x48/apps",
	}
}

func NewDesktopSource(dirs []string, logger *zap.Logger) *DesktopSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(dirs) == 0 {
		dirs = DefaultDesktopDirs()
	}
	return &DesktopSource{dirs: dirs, iconDirs: defaultIconDirs(), logger: logger.Named("apps")}
}

func (s *DesktopSource) Apps() ([]IndexedApp, error) {
	return s.Scan(context.Background())
}

// Scan parses every visible application entry, sorted by name.
func (s *DesktopSource) Scan(ctx context.Context) ([]IndexedApp, error) {
	start := time.Now()
	files := s.collect()

	var (
		mu   sync.Mutex
		apps = make([]IndexedApp, 0, len(files))
	)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(parseConcurrency)
	for _, path := range files {
		path := path
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			entry, err := parseDesktopFile(path)
			if err != nil {
				s.logger.Debug("skipping desktop entry", zap.String("path", path), zap.Error(err))
				return nil
			}
			if entry.noDisplay {
				return nil
			}
			app := IndexedApp{Name: entry.name, ExecPath: path, IconPath: s.resolveIcon(entry.icon)}
			mu.Lock()
			apps = append(apps, app)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(apps, func(i, j int) bool {
		return strings.ToLower(apps[i].Name) < strings.ToLower(apps[j].Name)
	})

	s.logger.Info("desktop entries scanned",
		zap.Int("files", len(files)),
		zap.Int("apps", len(apps)),
		zap.Duration("elapsed", time.Since(start)))
	return apps, nil
}

// collect returns .desktop files, keeping only the first file for each
// desktop id.
func (s *DesktopSource) collect() []string {
	seen := make(map[string]bool)
	var files []string
	for _, dir := range s.dirs {
		_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if d.IsDir() || !strings.HasSuffix(path, ".desktop") {
				return nil
			}
			rel, relErr := filepath.Rel(dir, path)
			if relErr != nil {
				rel = filepath.Base(path)
			}
			id := strings.ReplaceAll(rel, string(filepath.Separator), "-")
			if seen[id] {
				return nil
			}
			seen[id] = true
			files = append(files, path)
			return nil
		})
	}
	return files
}

func (s *DesktopSource) resolveIcon(icon string) string {
	if icon == "" {
		return ""
	}
	if filepath.IsAbs(icon) {
		if _, err := os.Stat(icon); err == nil {
			return icon
		}
		return ""
	}
	for _, dir := range s.iconDirs {
		for _, ext := range []string{".svg", ".png", ".xpm"} {
			candidate := filepath.Join(dir, icon+ext)
			if _, err := os.Stat(candidate); err == nil {
				return candidate
			}
		}
	}
	return ""
}

type desktopEntry struct {
	name      string
	exec      string
	icon      string
	noDisplay bool
}

// parseDesktopFile reads the [Desktop Entry] group of a .desktop file.
func parseDesktopFile(path string) (desktopEntry, error) {
	file, err := os.Open(path)
	if err != nil {
		return desktopEntry{}, err
	}
	defer file.Close()

	var entry desktopEntry
	inMain := false

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "[") {
			inMain = line == "[Desktop Entry]"
			continue
		}
		if !inMain {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), "\"")

		switch key {
		case "Name":
			entry.name = value
		case "Exec":
			entry.exec = value
		case "Icon":
			entry.icon = value
		case "Type":
			if value != "Application" {
				entry.noDisplay = true
			}
		case "NoDisplay", "Hidden":
			if strings.EqualFold(value, "true") {
				entry.noDisplay = true
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return desktopEntry{}, err
	}

	if entry.name == "" || entry.exec == "" {
		return desktopEntry{}, fmt.Errorf("invalid desktop file: missing Name or Exec")
	}
	return entry, nil
}
