package main

import (
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sahidur/ams-sub001/internal/approval"
	"github.com/sahidur/ams-sub001/internal/mcptools"
	"github.com/sahidur/ams-sub001/internal/observability"
	"github.com/sahidur/ams-sub001/internal/template"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Store.Driver != "postgres" {
				return fmt.Errorf("migrate requires store.driver postgres, got %q", cfg.Store.Driver)
			}

			pool, err := openPool(cmd.Context(), cfg.Store)
			if err != nil {
				return err
			}
			defer pool.Close()

			applied, err := approval.Migrate(cmd.Context(), pool)
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
			}
			for _, name := range applied {
				fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", name)
			}
			return nil
		},
	}
}

func newMCPCmd() *cobra.Command {
	var (
		subject string
		tenant  string
		roles   []string
	)
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve approval tools to an MCP client over stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			// stdout carries the protocol.
			logger, err := observability.NewLogger(cfg.Observability, "stderr")
			if err != nil {
				return fmt.Errorf("logger: %w", err)
			}
			defer func() { _ = logger.Sync() }()

			a, err := buildApp(cmd.Context(), cfg, logger, prometheus.NewRegistry())
			if err != nil {
				return err
			}
			defer a.Close()

			srv, err := mcptools.NewServer(cfg.MCP.ServerName, version, a.engine,
				mcptools.Identity(subject, tenant, roles), logger)
			if err != nil {
				return err
			}
			logger.Info("mcp server started", zap.String("subject_id", subject), zap.String("tenant_id", tenant))
			return srv.ServeStdio()
		},
	}
	cmd.Flags().StringVar(&subject, "subject", envOr("APPROVALS_MCP_SUBJECT", ""), "user ID the tools act as")
	cmd.Flags().StringVar(&tenant, "tenant", envOr("APPROVALS_MCP_TENANT", ""), "tenant ID the tools act in")
	cmd.Flags().StringSliceVar(&roles, "role", nil, "extra token roles for the caller (repeatable)")
	return cmd
}

func newTemplatesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "Work with approval template files",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "validate DIR...",
		Short: "Load and validate template directories without starting the service",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, dirs []string) error {
			templates, err := template.NewLoader().LoadAll(dirs)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			verrs := template.NewValidator().Validate(templates)
			for _, ve := range verrs {
				fmt.Fprintf(out, "error: %s\n", ve.Error())
			}
			if len(verrs) > 0 {
				return fmt.Errorf("%d template errors", len(verrs))
			}
			for _, t := range templates {
				levels := make([]string, 0, len(t.Levels))
				for _, l := range t.Levels {
					levels = append(levels, l.Name)
				}
				fmt.Fprintf(out, "ok: %s (%d fields; %s)\n", t.ID, len(t.Fields), strings.Join(levels, " -> "))
			}
			return nil
		},
	})
	return cmd
}
