// Package main is the entry point for the slotwatch CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/syntrixbase/slotwatch/internal/config"
	"github.com/syntrixbase/slotwatch/internal/logging"
)

// Global flags.
var (
	configDir  string
	filterExpr string
	nameFlag   string
)

// cfg is loaded once the command line has been parsed.
var cfg *config.Config

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "slotwatch",
		Short: "Watch a remote resource and stream its updates as JSON lines",
		Long: `slotwatch subscribes to a resource (a Solana account or program's logs,
a NATS key-value entry, a MongoDB document) and writes every update to
stdout in slot order. When the subscription cannot be established or is
lost it falls back to polling.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.LoadConfig(configDir)
			if err != nil {
				return fmt.Errorf("configuration error: %w", err)
			}
			cfg = loaded
			return logging.Initialize(cfg.Logging)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return logging.Shutdown()
		},
	}

	root.PersistentFlags().StringVar(&configDir, "config", config.DefaultDir, "Directory holding config.yml and config.local.yml")
	root.PersistentFlags().StringVar(&filterExpr, "filter", "", "CEL expression over slot, value and absent selecting updates to print")
	root.PersistentFlags().StringVar(&nameFlag, "name", "", "Watcher name used in logs and metrics (defaults to the subcommand)")

	root.AddCommand(newAccountCmd())
	root.AddCommand(newProgramLogsCmd())
	root.AddCommand(newTxLogsCmd())
	root.AddCommand(newKVCmd())
	root.AddCommand(newDocCmd())

	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		_ = logging.Shutdown()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
