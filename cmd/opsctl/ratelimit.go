package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"crm_backend/internal/plans"
	"crm_backend/internal/ratelimit"
	"crm_backend/internal/storage"
)

var (
	limitOrg    string
	limitUser   string
	limitBucket string
)

var ratelimitCmd = &cobra.Command{
	Use:   "ratelimit",
	Short: "Inspect or clear AI request quotas",
}

var ratelimitShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show bucket usage for a user in an organization",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withLimits(cmd.Context(), func(g *ratelimit.RedisGuard, buckets []ratelimit.Bucket) error {
			return showLimits(cmd.Context(), cmd.OutOrStdout(), g, limitUser, limitOrg, buckets)
		})
	},
}

var ratelimitResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear bucket counters for a user in an organization",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withLimits(cmd.Context(), func(g *ratelimit.RedisGuard, buckets []ratelimit.Bucket) error {
			n, err := resetLimits(cmd.Context(), g, limitUser, limitOrg, buckets, limitBucket)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reset=%d\n", n)
			return nil
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{ratelimitShowCmd, ratelimitResetCmd} {
		c.Flags().StringVar(&limitOrg, "org", "", "organization id")
		c.Flags().StringVar(&limitUser, "user", "", "user id")
		_ = c.MarkFlagRequired("org")
		_ = c.MarkFlagRequired("user")
	}
	ratelimitResetCmd.Flags().StringVar(&limitBucket, "bucket", "", "only reset this bucket")
	ratelimitCmd.AddCommand(ratelimitShowCmd, ratelimitResetCmd)
}

// withLimits resolves the organization's plan buckets and opens the limiter
// store.
func withLimits(ctx context.Context, fn func(g *ratelimit.RedisGuard, buckets []ratelimit.Bucket) error) error {
	db, err := storage.NewDB(storage.DBConfig{
		DSN:             cfg.Database.URL,
		MaxOpenConns:    2,
		MaxIdleConns:    1,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	plan, err := db.NewOrganizationRepository().PlanFor(ctx, limitOrg)
	if err != nil {
		return err
	}

	rc, err := redisClient(ctx)
	if err != nil {
		return err
	}
	defer rc.Close()

	return fn(ratelimit.NewRedisGuard(rc), plans.BucketsFor(plans.ParseTier(plan)))
}

type limitStore interface {
	Usage(ctx context.Context, userID, orgID string, b ratelimit.Bucket) (int64, error)
	Reset(ctx context.Context, userID, orgID string, b ratelimit.Bucket) error
}

func showLimits(ctx context.Context, out io.Writer, store limitStore, userID, orgID string, buckets []ratelimit.Bucket) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "BUCKET\tSCOPE\tUSED\tLIMIT\tWINDOW")
	for _, b := range buckets {
		if b.Limit <= 0 {
			fmt.Fprintf(tw, "%s\t%s\t-\tunlimited\t%s\n", b.Name, b.Scope, b.Window)
			continue
		}
		used, err := store.Usage(ctx, userID, orgID, b)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", b.Name, b.Scope, used, b.Limit, b.Window)
	}
	return tw.Flush()
}

// resetLimits clears every bucket, or only the one named, and reports how
// many were cleared.
func resetLimits(ctx context.Context, store limitStore, userID, orgID string, buckets []ratelimit.Bucket, only string) (int, error) {
	n := 0
	for _, b := range buckets {
		if only != "" && b.Name != only {
			continue
		}
		if err := store.Reset(ctx, userID, orgID, b); err != nil {
			return n, err
		}
		n++
	}
	if only != "" && n == 0 {
		return 0, eris.Errorf("unknown bucket %q", only)
	}
	return n, nil
}
