// Package main is the entry point for the approvals service. It wires all
// dependencies together and exposes them through the serve, migrate and mcp
// commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sahidur/ams-sub001/internal/config"
	"github.com/sahidur/ams-sub001/internal/observability"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	observability.Version = version
	observability.Commit = commit

	root := &cobra.Command{
		Use:          "approvals",
		Short:        "Template-driven multi-level approval service",
		SilenceUsage: true,
	}
	root.PersistentFlags().String("config", envOr("APPROVALS_CONFIG", "config.yaml"), "path to configuration file")

	root.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
		newMCPCmd(),
		newTemplatesCmd(),
		newVersionCmd(),
	)
	return root
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	return cfg, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "approvals %s (%s)\n", version, commit)
		},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
