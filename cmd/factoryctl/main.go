// Package main provides factoryctl, the operator CLI for the experiment factory.
//
// # Basic Usage
//
// Recompute a bucketing decision offline:
//
//	factoryctl bucket --experiment checkout --user u-42 --variant A:50 --variant B:50
//
// Check stored assignments against the current variant layout:
//
//	factoryctl verify --experiment checkout
//
// Print the metrics report:
//
//	factoryctl report --experiment checkout
//
// Storage-backed commands read the same FACTORY_* environment as the services.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Populated by ldflags during build.
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := buildRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "factoryctl",
		Short:         "Operate the experiment factory",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(buildBucketCmd())
	root.AddCommand(buildVerifyCmd())
	root.AddCommand(buildReportCmd())
	root.AddCommand(buildTokenCmd())

	return root
}
