package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/punchamoorthee/payrecon/internal/app"
	"github.com/punchamoorthee/payrecon/internal/config"
	"github.com/punchamoorthee/payrecon/internal/logging"
	"github.com/punchamoorthee/payrecon/internal/scheduler"
	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "reconctl",
		Short:         "Operate the payment reconciliation engine",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(pollCmd())
	rootCmd.AddCommand(cleanupCmd())
	rootCmd.AddCommand(resolveCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(benchCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// withApp loads configuration, builds every component and runs fn.
func withApp(ctx context.Context, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func pollCmd() *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Verify due pending transactions against their gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if once {
					sum, err := a.Poller.Run(ctx)
					if err != nil {
						return err
					}
					return printJSON(sum)
				}
				scheduler.Every(ctx, a.Config.PollInterval, a.Logger, "poll", func(ctx context.Context) error {
					_, err := a.Poller.Run(ctx)
					return err
				})
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "Run a single batch and exit")
	return cmd
}

func cleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Remove exhausted and expired ledger entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				removed, err := a.Cleaner.Run(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("removed %d entries\n", len(removed))
				for _, ref := range removed {
					fmt.Println("  " + ref)
				}
				return nil
			})
		},
	}
}

func resolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve [reference]",
		Short: "Show how a reference resolves and the state of its record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				ref := args[0]
				res := a.Catalog.Resolve(ref)
				out := map[string]any{
					"reference":       ref,
					"prefixMatched":   res.Matched,
					"transactionType": res.Type.Key,
					"rawRef":          res.RawRef,
				}

				desc, rec, err := a.Engine.Locate(ctx, ref, nil)
				if err != nil {
					out["record"] = err.Error()
				} else {
					out["transactionType"] = desc.Key
					out["collection"] = desc.Collection
					out["record"] = rec
				}

				if entry, err := a.Store.GetEntry(ctx, ref); err == nil {
					out["ledger"] = entry
				}
				return printJSON(out)
			})
		},
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
