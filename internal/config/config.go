package config

import (
	"bytes"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

type Config struct {
	ScratchDir    string          `toml:"scratch_dir" yaml:"scratch_dir"`
	ExtensionsDir string          `toml:"extensions_dir" yaml:"extensions_dir"`
	IconsDir      string          `toml:"icons_dir" yaml:"icons_dir"`
	AppsIndexFile string          `toml:"apps_index_file" yaml:"apps_index_file"`
	SocketPath    string          `toml:"socket_path" yaml:"socket_path"`
	LogFile       string          `toml:"log_file" yaml:"log_file"`
	LogLevel      string          `toml:"log_level" yaml:"log_level"`
	Extension     ExtensionConfig `toml:"extension" yaml:"extension"`
	Search        SearchConfig    `toml:"search" yaml:"search"`

	Extensions    []ExtensionEntry `toml:"extensions" yaml:"extensions"`
	SearchEngines []SearchEngine   `toml:"search_engines" yaml:"search_engines"`
	Blacklist     []string         `toml:"blacklist" yaml:"blacklist"`
}

type ExtensionConfig struct {
	TimeoutMs       int    `toml:"timeout_ms" yaml:"timeout_ms"` // 0 = no deadline
	EntryPoint      string `toml:"entry_point" yaml:"entry_point"`
	MaxBackground   int    `toml:"max_background" yaml:"max_background"`
	KeepFailedHours int    `toml:"keep_failed_hours" yaml:"keep_failed_hours"`
}

type SearchConfig struct {
	CacheSize int `toml:"cache_size" yaml:"cache_size"` // 0 disables the match cache
}

// ExtensionEntry binds a keyword to an installed extension.
type ExtensionEntry struct {
	ID      string `toml:"id" yaml:"id"`
	Keyword string `toml:"keyword" yaml:"keyword"`
}

// SearchEngine builds a URL by replacing every %s in Query with the search text.
type SearchEngine struct {
	Keyword  string `toml:"keyword" yaml:"keyword"`
	Query    string `toml:"query" yaml:"query"`
	IconPath string `toml:"icon_path,omitempty" yaml:"icon_path,omitempty"`
	TintIcon bool   `toml:"tint_icon" yaml:"tint_icon"`
	Default  bool   `toml:"default" yaml:"default"`
}

const (
	defaultTimeoutMs       = 10000
	defaultEntryPoint      = "extension"
	defaultMaxBackground   = 4
	defaultKeepFailedHours = 24
	defaultCacheSize       = 200
)

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	return &Config{
		ScratchDir:    "~/.cache/whiskers/channel",
		ExtensionsDir: "~/.local/share/whiskers/extensions",
		IconsDir:      "~/.local/share/whiskers/resources/icons",
		AppsIndexFile: "~/.cache/whiskers/apps.json",
		SocketPath:    "/tmp/whiskers_socket",
		LogFile:       "~/.cache/whiskers/whiskers.log",
		LogLevel:      "info",
		Extension: ExtensionConfig{
			TimeoutMs:       defaultTimeoutMs,
			EntryPoint:      defaultEntryPoint,
			MaxBackground:   defaultMaxBackground,
			KeepFailedHours: defaultKeepFailedHours,
		},
		Search: SearchConfig{
			CacheSize: defaultCacheSize,
		},
		Extensions: []ExtensionEntry{},
		SearchEngines: []SearchEngine{
			{Keyword: "gg", Query: "https://www.google.com/search?q=%s", TintIcon: true, Default: true},
			{Keyword: "dd", Query: "https://duckduckgo.com/?q=%s", TintIcon: true},
		},
		Blacklist: []string{},
	}
}

// applyDefaults restores required values a file explicitly blanked.
func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.ScratchDir == "" {
		c.ScratchDir = d.ScratchDir
	}
	if c.ExtensionsDir == "" {
		c.ExtensionsDir = d.ExtensionsDir
	}
	if c.IconsDir == "" {
		c.IconsDir = d.IconsDir
	}
	if c.AppsIndexFile == "" {
		c.AppsIndexFile = d.AppsIndexFile
	}
	if c.SocketPath == "" {
		c.SocketPath = d.SocketPath
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.Extension.EntryPoint == "" {
		c.Extension.EntryPoint = defaultEntryPoint
	}
	if c.Extension.MaxBackground == 0 {
		c.Extension.MaxBackground = defaultMaxBackground
	}
}

func (c *Config) expandPaths() {
	c.ScratchDir = expandPath(c.ScratchDir)
	c.ExtensionsDir = expandPath(c.ExtensionsDir)
	c.IconsDir = expandPath(c.IconsDir)
	c.AppsIndexFile = expandPath(c.AppsIndexFile)
	c.SocketPath = expandPath(c.SocketPath)
	c.LogFile = expandPath(c.LogFile)
}

// LoadConfig reads a TOML (default) or YAML (.yaml/.yml) file. A missing
// file yields DefaultConfig.
func LoadConfig(path string) (*Config, error) {
	expandedPath := expandPath(path)

	if _, err := os.Stat(expandedPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.expandPaths()
		return cfg, nil
	}

	data, err := os.ReadFile(expandedPath)
	if err != nil {
		return nil, err
	}

	cfg, err := decode(expandedPath, data)
	if err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	cfg.expandPaths()

	return cfg, nil
}

// decode unmarshals over the defaults so omitted scalars keep their default
// values. Settings lists come from the file only.
func decode(path string, data []byte) (*Config, error) {
	cfg := DefaultConfig()
	cfg.Extensions = nil
	cfg.SearchEngines = nil
	cfg.Blacklist = nil

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("failed to parse yaml config: %w", err)
		}
	default:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse toml config: %w", err)
		}
	}
	return cfg, nil
}

func LoadAndValidateConfig(path string) (*Config, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		usr, err := user.Current()
		if err == nil {
			return filepath.Join(usr.HomeDir, path[1:])
		}
	}
	return path
}

func SaveConfig(cfg *Config, path string) error {
	expandedPath := expandPath(path)

	dir := filepath.Dir(expandedPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(expandedPath)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	default:
		data, err = toml.Marshal(cfg)
	}
	if err != nil {
		return err
	}

	return os.WriteFile(expandedPath, data, 0644)
}

func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateExtension(); err != nil {
		return err
	}
	if err := c.validateSearch(); err != nil {
		return err
	}
	if err := c.validateExtensions(); err != nil {
		return err
	}
	if err := c.validateSearchEngines(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if c.ScratchDir == "" {
		return fmt.Errorf("scratch_dir is required")
	}
	if c.ExtensionsDir == "" {
		return fmt.Errorf("extensions_dir is required")
	}
	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level: %s (must be one of: debug, info, warn, error)", c.LogLevel)
	}
	return nil
}

func (c *Config) validateExtension() error {
	e := c.Extension
	if e.TimeoutMs < 0 || e.TimeoutMs > 600000 {
		return fmt.Errorf("invalid timeout_ms: %d (must be 0-600000, 0 disables)", e.TimeoutMs)
	}
	if e.MaxBackground < 1 || e.MaxBackground > 64 {
		return fmt.Errorf("invalid max_background: %d (must be 1-64)", e.MaxBackground)
	}
	if e.KeepFailedHours < 0 || e.KeepFailedHours > 720 {
		return fmt.Errorf("invalid keep_failed_hours: %d (must be 0-720)", e.KeepFailedHours)
	}
	if e.EntryPoint == "" || strings.ContainsAny(e.EntryPoint, `/\`) {
		return fmt.Errorf("invalid entry_point: %q (must be a bare file name)", e.EntryPoint)
	}
	return nil
}

func (c *Config) validateSearch() error {
	if c.Search.CacheSize < 0 || c.Search.CacheSize > 10000 {
		return fmt.Errorf("invalid cache_size: %d (must be 0-10000)", c.Search.CacheSize)
	}
	return nil
}

func (c *Config) validateExtensions() error {
	for i, ext := range c.Extensions {
		if ext.ID == "" {
			return fmt.Errorf("extension %d: id is required", i)
		}
		if strings.ContainsAny(ext.ID, `/\`) || ext.ID == "." || ext.ID == ".." {
			return fmt.Errorf("extension %d: invalid id %q", i, ext.ID)
		}
		if err := validateKeyword(ext.Keyword); err != nil {
			return fmt.Errorf("extension %s: %w", ext.ID, err)
		}
	}
	return nil
}

func (c *Config) validateSearchEngines() error {
	for i, engine := range c.SearchEngines {
		if err := validateKeyword(engine.Keyword); err != nil {
			return fmt.Errorf("search engine %d: %w", i, err)
		}
		if engine.Query == "" {
			return fmt.Errorf("search engine %s: query is required", engine.Keyword)
		}
	}
	return nil
}

func validateKeyword(keyword string) error {
	if keyword == "" {
		return fmt.Errorf("keyword is required")
	}
	if strings.ContainsAny(keyword, " \t") {
		return fmt.Errorf("keyword %q must not contain whitespace", keyword)
	}
	return nil
}

// DuplicateKeywords lists keywords claimed more than once across extensions
// and search engines. Only the first claimant is ever reachable.
func (c *Config) DuplicateKeywords() []string {
	seen := make(map[string]bool)
	var dups []string
	check := func(keyword string) {
		if seen[keyword] {
			dups = append(dups, keyword)
			return
		}
		seen[keyword] = true
	}
	for _, ext := range c.Extensions {
		check(ext.Keyword)
	}
	for _, engine := range c.SearchEngines {
		check(engine.Keyword)
	}
	return dups
}
