// Command watchcored is a demonstration entry point for the
// watchcore engine: it resolves a root through rootcore.Registry and
// prints query responses to stdout. The JSON wire protocol and socket
// transport that would normally front this engine are out of scope;
// this command talks to the engine in-process instead.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/watchcore/watchcore/clock"
	"github.com/watchcore/watchcore/config"
	"github.com/watchcore/watchcore/internal/logging"
	"github.com/watchcore/watchcore/query"
	"github.com/watchcore/watchcore/rootcore"
	"github.com/watchcore/watchcore/trigger"
)

var (
	configPath string
	statePath  string
	sockPath   string
	logLevel   string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watchcored",
		Short: "watchcored watches a directory tree and reports changes since a clock",
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file (vimeo/dials-loaded)")
	cmd.PersistentFlags().StringVar(&statePath, "statefile", "", "bbolt trigger-state file (default: <root>/.watchcore-state)")
	cmd.PersistentFlags().StringVar(&sockPath, "sockname", "/tmp/watchcored.sock", "value reported to triggers as WATCHMAN_SOCK")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "debug, info, warn, or error")
	cmd.AddCommand(newWatchCmd(), newSinceCmd(), newTriggerCmd())
	return cmd
}

func setupLogging() {
	lvl, err := logrus.ParseLevel(logLevel)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logging.SetLevel(lvl)
}

// newRegistry builds a rootcore.Registry backed by the real
// filesystem and a bbolt-backed trigger.Store, loading config the same
// way config.Load documents (YAML file + env + flags stacked).
func newRegistry(ctx context.Context, root string) (*rootcore.Registry, error) {
	setupLogging()

	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(ctx, configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	sp := statePath
	if sp == "" {
		sp = filepath.Join(root, ".watchcore-state")
	}
	store, err := trigger.OpenStore(sp)
	if err != nil {
		return nil, err
	}

	return rootcore.NewRegistry(afero.NewOsFs(), cfg, store, sockPath, time.Now().Unix(), os.Getpid()), nil
}

func newWatchCmd() *cobra.Command {
	var since string
	c := &cobra.Command{
		Use:   "watch [path]",
		Short: "start (or attach to) a watch on path and print one query response",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			root, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			reg, err := newRegistry(ctx, root)
			if err != nil {
				return err
			}
			r, err := reg.Resolve(root)
			if err != nil {
				return err
			}

			q := &query.Query{SyncTimeout: 5 * time.Second}
			if since != "" {
				spec, err := clock.ParseSpec(since)
				if err != nil {
					return fmt.Errorf("parsing --since: %w", err)
				}
				q.Since = &spec
			}
			resp, err := r.Query(ctx, q)
			if err != nil {
				return err
			}
			printResponse(resp)
			return nil
		},
	}
	c.Flags().StringVar(&since, "since", "", "clockspec: unix timestamp, n:<cursor>, or c:<clock string>")
	return c
}

// newSinceCmd keeps watching root and re-runs the query every time
// the engine's clock advances, printing each non-empty response, a
// long-running tail built on queries instead of raw kernel events.
func newSinceCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "tail [path]",
		Short: "poll path and print a query response every time something changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			root, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			reg, err := newRegistry(ctx, root)
			if err != nil {
				return err
			}
			r, err := reg.Resolve(root)
			if err != nil {
				return err
			}
			defer reg.Cancel(root)

			var since *clock.Spec
			for {
				q := &query.Query{SyncTimeout: 2 * time.Second, Since: since}
				resp, err := r.Query(ctx, q)
				if err != nil {
					return err
				}
				if len(resp.Files) > 0 || resp.IsFreshInstance {
					printResponse(resp)
				}
				spec := clock.Spec{Kind: clock.KindClock, ClockVal: resp.Clock}
				since = &spec

				select {
				case <-ctx.Done():
					return nil
				case <-time.After(500 * time.Millisecond):
				}
			}
		},
	}
	return c
}

func newTriggerCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "trigger-list [path]",
		Short: "list triggers currently registered on path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			root, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			reg, err := newRegistry(ctx, root)
			if err != nil {
				return err
			}
			r, err := reg.Resolve(root)
			if err != nil {
				return err
			}
			for _, def := range r.Triggers() {
				fmt.Printf("%s: %v\n", def.Name, def.Command)
			}
			return nil
		},
	}
	return c
}

func printResponse(resp *query.Response) {
	fmt.Printf("clock=%s fresh_instance=%v\n", resp.Clock.String(), resp.IsFreshInstance)
	for _, f := range resp.Files {
		fmt.Printf("  %-40s exists=%-5v size=%d mtime=%s\n", f.Name, f.Exists, f.Size, f.Mtime.Format(time.RFC3339))
	}
}
