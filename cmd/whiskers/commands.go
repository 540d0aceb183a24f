package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/chess10kp/whiskers/internal/apps"
	"github.com/chess10kp/whiskers/internal/platform"
	"github.com/chess10kp/whiskers/internal/protocol"
)

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printHandle(w io.Writer, h *platform.Handle) error {
	if h == nil {
		return nil
	}
	return printJSON(w, map[string]int{"pid": h.Pid()})
}

func newSearchCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "search <typed text>",
		Short: "Resolve typed text into launcher results",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.app()
			if err != nil {
				return err
			}
			results, err := app.GetSearchResults(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), results)
		},
	}
}

func newRunCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "run <extension-id> <action> [args...]",
		Short: "Run an extension action in the background",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.app()
			if err != nil {
				return err
			}
			h, err := app.RunExtensionAction(cmd.Context(), args[0], args[1], args[2:])
			if err != nil {
				return err
			}
			return printHandle(cmd.OutOrStdout(), h)
		},
	}
}

func newOpenAppCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "open-app <exec-path>",
		Short: "Launch an application through the platform opener",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.app()
			if err != nil {
				return err
			}
			h, err := app.OpenApp(args[0])
			if err != nil {
				return err
			}
			return printHandle(cmd.OutOrStdout(), h)
		},
	}
}

func newOpenURLCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "open-url <url>",
		Short: "Open a URL with the default handler",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.app()
			if err != nil {
				return err
			}
			h, err := app.OpenURL(args[0])
			if err != nil {
				return err
			}
			return printHandle(cmd.OutOrStdout(), h)
		},
	}
}

func newDialogCmd(c *cli) *cobra.Command {
	dialogCmd := &cobra.Command{Use: "dialog", Short: "Manage the pending extension dialog"}

	var title, button, fields string
	var args []string
	openCmd := &cobra.Command{
		Use:   "open <extension-id> <action>",
		Short: "Store a dialog request for the front-end",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, pos []string) error {
			var parsed []protocol.DialogField
			if err := json.Unmarshal([]byte(fields), &parsed); err != nil {
				return fmt.Errorf("invalid --fields: %w", err)
			}
			app, err := c.app()
			if err != nil {
				return err
			}
			return app.OpenExtensionDialog(pos[0], pos[1], title, button, parsed, args)
		},
	}
	openCmd.Flags().StringVar(&title, "title", "", "dialog title")
	openCmd.Flags().StringVar(&button, "button", "", "primary button text")
	openCmd.Flags().StringVar(&fields, "fields", "[]", "JSON array of field descriptors")
	openCmd.Flags().StringSliceVar(&args, "args", nil, "arguments handed back on close")

	getCmd := &cobra.Command{
		Use:   "get",
		Short: "Print the pending dialog request",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := c.app()
			if err != nil {
				return err
			}
			req, err := app.GetExtensionDialogRequest()
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), req)
		},
	}

	var results string
	var closeArgs []string
	closeCmd := &cobra.Command{
		Use:   "close <extension-id> <action>",
		Short: "Submit dialog results and resume the extension",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, pos []string) error {
			var parsed []protocol.DialogResult
			if err := json.Unmarshal([]byte(results), &parsed); err != nil {
				return fmt.Errorf("invalid --results: %w", err)
			}
			app, err := c.app()
			if err != nil {
				return err
			}
			h, err := app.CloseExtensionDialog(cmd.Context(), pos[0], pos[1], closeArgs, parsed)
			if err != nil {
				return err
			}
			return printHandle(cmd.OutOrStdout(), h)
		},
	}
	closeCmd.Flags().StringVar(&results, "results", "[]", "JSON array of field results")
	closeCmd.Flags().StringSliceVar(&closeArgs, "args", nil, "arguments from the dialog request")

	dialogCmd.AddCommand(openCmd, getCmd, closeCmd)
	return dialogCmd
}

func newServeCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the command surface over the IPC socket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := c.app()
			if err != nil {
				return err
			}
			return app.Serve(cmd.Context())
		},
	}
}

func newPruneCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Remove stale invocation directories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := c.app()
			if err != nil {
				return err
			}
			removed, err := app.Prune()
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "removed %d invocation(s)\n", removed)
			return nil
		},
	}
}

func newIndexCmd(c *cli) *cobra.Command {
	var dirs []string
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Scan desktop entries and rewrite the apps index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			found, err := apps.NewDesktopSource(dirs, c.logger).Scan(cmd.Context())
			if err != nil {
				return err
			}
			path := c.store.Config().AppsIndexFile
			if err := apps.WriteIndex(path, found); err != nil {
				return err
			}
			c.logger.Info("apps index written", zap.String("path", path), zap.Int("apps", len(found)))
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "indexed %d app(s) into %s\n", len(found), path)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&dirs, "dir", nil, "application directories to scan (default XDG data dirs)")
	return cmd
}
