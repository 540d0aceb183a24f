package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/chess10kp/whiskers/internal/config"
	"github.com/chess10kp/whiskers/internal/core"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		socketPath string
		params     string
		timeout    time.Duration
	)

	root := &cobra.Command{
		Use:   "whiskers-client <command>",
		Short: "Send one command to a running whiskers server",
		Long: `whiskers-client sends a single request to "whiskers serve" and prints the
response.

Examples:
  whiskers-client ping
  whiskers-client get_search_results --params '{"typed_text":"fire"}'
  whiskers-client get_extension_dialog_request`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if socketPath == "" {
				cfg, err := config.LoadConfig(configPath)
				if err != nil {
					return err
				}
				socketPath = cfg.SocketPath
			}

			req := core.Request{Command: args[0]}
			if params != "" {
				if !json.Valid([]byte(params)) {
					return fmt.Errorf("--params is not valid JSON")
				}
				req.Params = json.RawMessage(params)
			}

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			resp, err := core.Call(ctx, socketPath, req)
			if err != nil {
				return fmt.Errorf("%w (is whiskers serve running?)", err)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(resp); err != nil {
				return err
			}
			if !resp.OK {
				return fmt.Errorf("%s: %s", resp.Kind, resp.Error)
			}
			return nil
		},
	}
	root.Flags().StringVar(&configPath, "config", "~/.config/whiskers/config.toml", "config file used to find the socket")
	root.Flags().StringVar(&socketPath, "socket", "", "socket path (overrides the config)")
	root.Flags().StringVar(&params, "params", "", "JSON object passed as the command params")
	root.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "request timeout")
	return root
}
