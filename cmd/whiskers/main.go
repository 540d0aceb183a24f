package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/chess10kp/whiskers/internal/config"
	"github.com/chess10kp/whiskers/internal/core"
)

const defaultConfigPath = "~/.config/whiskers/config.toml"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// cli holds state shared by every subcommand.
type cli struct {
	configPath string
	logLevel   string

	logger *zap.Logger
	store  *config.Store
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   "whiskers",
		Short: "Query routing and extension runtime for the whiskers launcher",
		Long: `whiskers resolves launcher input into results and runs extensions.

Input starting with a configured keyword goes to that extension or search
engine. Anything else is matched against the installed applications, with the
default search engine as a fallback.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.init()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if c.logger != nil {
				_ = c.logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", defaultConfigPath, "config file (TOML, or YAML by extension)")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "override log_level from the config")

	root.AddCommand(
		newSearchCmd(c),
		newRunCmd(c),
		newOpenAppCmd(c),
		newOpenURLCmd(c),
		newDialogCmd(c),
		newServeCmd(c),
		newPruneCmd(c),
		newIndexCmd(c),
	)
	return root
}

func (c *cli) init() error {
	cfg, err := config.LoadConfig(c.configPath)
	if err != nil {
		return err
	}

	level := cfg.LogLevel
	if c.logLevel != "" {
		level = c.logLevel
	}
	logger, err := buildLogger(level, cfg.LogFile)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	c.logger = logger

	c.store, err = config.NewStore(c.configPath, logger)
	return err
}

func buildLogger(level, logFile string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	if logFile != "" {
		if err := os.MkdirAll(filepath.Dir(logFile), 0755); err != nil {
			return nil, err
		}
		zc.OutputPaths = []string{logFile}
		zc.ErrorOutputPaths = []string{logFile, "stderr"}
	}
	return zc.Build()
}

func (c *cli) app(opts ...core.Option) (*core.App, error) {
	return core.NewApp(c.store, append([]core.Option{core.WithLogger(c.logger)}, opts...)...)
}
