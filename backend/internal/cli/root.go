// Package cli is the contactctl operator command line. Commands run against
// the same stores the server uses, configured from the environment.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"contactgraph/backend/internal/app"
	"contactgraph/backend/pkg/config"
	"contactgraph/backend/pkg/logger"
)

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// NewRootCmd builds the full command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "contactctl",
		Short:        "Operate the contact relationship graph",
		Long:         "contactctl runs discovery, reviews queued relationships and inspects a user's contact graph.",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringP("user", "u", "", "user id the command acts for")

	root.AddCommand(versionCmd())
	root.AddCommand(discoverCmd())
	root.AddCommand(statsCmd())
	root.AddCommand(pendingCmd())
	root.AddCommand(approveCmd())
	root.AddCommand(rejectCmd())
	root.AddCommand(suggestCmd())
	root.AddCommand(purgeCmd())
	return root
}

// withApp loads configuration, builds the app and runs fn with it. SIGINT
// cancels ctx; components are closed when fn returns.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App, userID string) error) error {
	userID, _ := cmd.Flags().GetString("user")
	if userID == "" {
		return errors.New("--user is required")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Env); err != nil {
		return err
	}
	defer logger.Sync()
	log := logger.Get()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(context.WithoutCancel(ctx)); err != nil {
			log.Warn("Close failed", zap.Error(err))
		}
	}()
	return fn(ctx, a, userID)
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
