package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"contactgraph/backend/internal/app"
	"contactgraph/backend/internal/domain"
)

// Set via -ldflags at build time.
var (
	Version = "dev"
	Commit  = "unknown"
)

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "contactctl %s (commit: %s)\n", Version, Commit)
		},
	}
}

func discoverCmd() *cobra.Command {
	var (
		file     string
		semantic bool
		minTag   float64
		timeout  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Run discovery over a JSON file of contacts",
		RunE: func(cmd *cobra.Command, args []string) error {
			contacts, err := readContacts(cmd, file)
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app.App, userID string) error {
				opts := a.Defaults()
				opts.IncludeSemantic = semantic
				if cmd.Flags().Changed("min-tag-similarity") {
					opts.MinTagSimilarity = minTag
				}
				job, err := a.Tracker.Submit(ctx, userID, contacts, opts)
				if err != nil {
					return err
				}
				wctx, cancel := context.WithTimeout(ctx, timeout)
				defer cancel()
				job, err = a.Tracker.Wait(wctx, userID, job.ID)
				if err != nil {
					return err
				}
				return printJSON(cmd, domain.ResultOf(*job))
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "contacts JSON file (array of contacts), - for stdin")
	cmd.Flags().BoolVar(&semantic, "semantic", false, "include the embedding similarity pass")
	cmd.Flags().Float64Var(&minTag, "min-tag-similarity", 0.3, "lowest Jaccard score proposed as SHARES_TAGS")
	cmd.Flags().DurationVar(&timeout, "wait", 15*time.Minute, "how long to wait for the job")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func readContacts(cmd *cobra.Command, path string) ([]domain.Contact, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read contacts: %w", err)
	}
	var contacts []domain.Contact
	if err := json.Unmarshal(data, &contacts); err != nil {
		return nil, fmt.Errorf("parse contacts %s: %w", path, err)
	}
	return contacts, nil
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show graph and review queue counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App, userID string) error {
				stats, err := a.Tracker.Stats(ctx, userID)
				if err != nil {
					return err
				}
				return printJSON(cmd, stats)
			})
		},
	}
}

func pendingCmd() *cobra.Command {
	var tier string
	cmd := &cobra.Command{
		Use:   "pending <job-id>",
		Short: "List relationships of a job awaiting review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App, userID string) error {
				page, err := a.Reviews.GetPendingRelationships(ctx, userID, args[0], tier)
				if err != nil {
					return err
				}
				return printJSON(cmd, page)
			})
		},
	}
	cmd.Flags().StringVar(&tier, "tier", string(domain.TierMedium), "medium or low")
	return cmd
}

func approveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approve <relationship-id>",
		Short: "Approve a queued relationship and commit it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App, userID string) error {
				res, err := a.Reviews.Approve(ctx, userID, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, res)
			})
		},
	}
}

func rejectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reject <relationship-id>",
		Short: "Reject a queued relationship",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App, userID string) error {
				res, err := a.Reviews.Reject(ctx, userID, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, res)
			})
		},
	}
}

func suggestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "groups",
		Short: "Show suggested contact groups",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App, userID string) error {
				out, err := a.Groups.SuggestedGroups(ctx, userID)
				if err != nil {
					return err
				}
				return printJSON(cmd, out)
			})
		},
	}
}

func purgeCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete a user's graph, review queue and job history",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to purge without --yes")
			}
			return withApp(cmd, func(ctx context.Context, a *app.App, userID string) error {
				n, err := a.Tracker.Purge(ctx, userID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %d nodes for %s\n", n, userID)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion")
	return cmd
}
