package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/scriptr/pkg/client"
)

type apiFlags struct {
	url     string
	timeout time.Duration
}

func (f *apiFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.url, "api", client.DefaultConfig().BaseURL, "daemon base URL")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 10*time.Second, "request timeout")
}

func (f *apiFlags) client(ctx context.Context) (*client.Client, error) {
	c := client.New(client.Config{
		BaseURL: f.url,
		Timeout: f.timeout,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if !c.IsReachable(ctx) {
		return nil, fmt.Errorf("daemon not reachable at %s, start it with 'scriptr serve'", f.url)
	}
	return c, nil
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func newAddCmd() *cobra.Command {
	var f apiFlags
	var s client.Script
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a script in the catalog",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := f.client(cmd.Context())
			if err != nil {
				return err
			}
			def, err := c.Add(cmd.Context(), s)
			if err != nil {
				return err
			}
			printJSON(def)
			return nil
		},
	}
	f.register(cmd)
	cmd.Flags().StringVar(&s.ID, "id", "", "script id (generated when empty)")
	cmd.Flags().StringVar(&s.Name, "name", "", "script name")
	cmd.Flags().StringVar(&s.Path, "path", "", "absolute path to the executable")
	cmd.Flags().StringArrayVar(&s.Args, "arg", nil, "argument (repeatable)")
	cmd.Flags().StringVar(&s.Policy, "policy", "on-failure", "restart policy: on-failure, always, never")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("path")
	return cmd
}

func newRemoveCmd() *cobra.Command {
	var f apiFlags
	cmd := &cobra.Command{
		Use:   "remove <id>",
		Short: "Stop a script if live and delete it from the catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := f.client(cmd.Context())
			if err != nil {
				return err
			}
			return c.Remove(cmd.Context(), args[0])
		},
	}
	f.register(cmd)
	return cmd
}

func newStartCmd() *cobra.Command {
	var f apiFlags
	cmd := &cobra.Command{
		Use:   "start <id>",
		Short: "Start a registered script",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := f.client(cmd.Context())
			if err != nil {
				return err
			}
			if err := c.Start(cmd.Context(), args[0]); err != nil {
				return err
			}
			st, err := c.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printJSON(st)
			return nil
		},
	}
	f.register(cmd)
	return cmd
}

func newStopCmd() *cobra.Command {
	var f apiFlags
	cmd := &cobra.Command{
		Use:   "stop <id>",
		Short: "Stop a running script",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := f.client(cmd.Context())
			if err != nil {
				return err
			}
			if err := c.Stop(cmd.Context(), args[0]); err != nil {
				return err
			}
			st, err := c.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printJSON(st)
			return nil
		},
	}
	f.register(cmd)
	return cmd
}

func newStatusCmd() *cobra.Command {
	var f apiFlags
	cmd := &cobra.Command{
		Use:   "status [id]",
		Short: "Show status of one script or every script",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := f.client(cmd.Context())
			if err != nil {
				return err
			}
			if len(args) == 1 {
				st, err := c.Status(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				printJSON(st)
				return nil
			}
			sts, err := c.Statuses(cmd.Context())
			if err != nil {
				return err
			}
			printJSON(sts)
			return nil
		},
	}
	f.register(cmd)
	return cmd
}

func newListCmd() *cobra.Command {
	var f apiFlags
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered script definitions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := f.client(cmd.Context())
			if err != nil {
				return err
			}
			defs, err := c.List(cmd.Context())
			if err != nil {
				return err
			}
			printJSON(defs)
			return nil
		},
	}
	f.register(cmd)
	return cmd
}

func newLogsCmd() *cobra.Command {
	var f apiFlags
	var tail int
	var follow bool
	cmd := &cobra.Command{
		Use:   "logs <id>",
		Short: "Print buffered output lines of a script",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := f.client(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if follow {
				ch, err := c.StreamLogs(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				for ln := range ch {
					printLogLine(out, ln)
				}
				return nil
			}
			lines, err := c.Logs(cmd.Context(), args[0], tail)
			if err != nil {
				return err
			}
			for _, ln := range lines {
				printLogLine(out, ln)
			}
			return nil
		},
	}
	f.register(cmd)
	cmd.Flags().IntVar(&tail, "tail", 0, "only the last N lines (0 = all)")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "replay the buffer, then stream live output until interrupted")
	return cmd
}

func printLogLine(w io.Writer, ln client.LogLine) {
	fmt.Fprintf(w, "%s [%s] %s\n", ln.Time.Format(time.RFC3339), ln.Stream, ln.Text)
}
