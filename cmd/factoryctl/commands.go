package main

import (
	"time"

	"github.com/spf13/cobra"
)

func buildBucketCmd() *cobra.Command {
	var (
		experimentID string
		userKey      string
		variants     []string
	)

	cmd := &cobra.Command{
		Use:   "bucket",
		Short: "Recompute a bucketing decision without touching storage",
		Long: `Print the seed, hash, ring position and chosen variant for one user.

Variants are given in declaration order as id:weight. Order matters: the same
weights in a different order map users to different variants.`,
		Example: `  factoryctl bucket --experiment checkout --user u-42 --variant A:50 --variant B:50`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBucket(cmd.OutOrStdout(), experimentID, userKey, variants)
		},
	}

	cmd.Flags().StringVarP(&experimentID, "experiment", "e", "", "Experiment id")
	cmd.Flags().StringVarP(&userKey, "user", "u", "", "User key (uid or anonymous key)")
	cmd.Flags().StringArrayVar(&variants, "variant", []string{"A:50", "B:50"}, "Variant as id:weight, repeatable")
	_ = cmd.MarkFlagRequired("experiment")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func buildVerifyCmd() *cobra.Command {
	var experimentID string

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Count stored assignments the current variants would place differently",
		Long: `Stream every stored assignment of an experiment and recompute it against the
experiment's current variants. Stored assignments are never modified; the count
shows how many users would land elsewhere if they were assigned today.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(cmd.Context(), cmd.OutOrStdout(), experimentID)
		},
	}

	cmd.Flags().StringVarP(&experimentID, "experiment", "e", "", "Experiment id")
	_ = cmd.MarkFlagRequired("experiment")

	return cmd
}

func buildReportCmd() *cobra.Command {
	var experimentID string

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print the metrics report of an experiment as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(cmd.Context(), cmd.OutOrStdout(), experimentID)
		},
	}

	cmd.Flags().StringVarP(&experimentID, "experiment", "e", "", "Experiment id")
	_ = cmd.MarkFlagRequired("experiment")

	return cmd
}

func buildTokenCmd() *cobra.Command {
	var (
		uid   string
		email string
		ttl   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign an identity token with the configured JWT secret",
		Long: `Sign an HS256 identity token for local testing of the control and data planes.
The secret, issuer and audience come from FACTORY_AUTH_JWT_*.`,
		Example: `  FACTORY_AUTH_JWT_SECRET=... factoryctl token --uid u-1 --email ops@example.com`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToken(cmd.OutOrStdout(), uid, email, ttl)
		},
	}

	cmd.Flags().StringVar(&uid, "uid", "", "Subject (user id)")
	cmd.Flags().StringVar(&email, "email", "", "Email claim")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	_ = cmd.MarkFlagRequired("uid")

	return cmd
}
