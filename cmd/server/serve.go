package main

import (
	"context"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/vinodismyname/xlsxctx/internal/registry"
	"github.com/vinodismyname/xlsxctx/internal/runtime"
	"github.com/vinodismyname/xlsxctx/internal/telemetry"
	"github.com/vinodismyname/xlsxctx/pkg/version"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the workbook context tools over MCP stdio",
		Long: `Serve ingest_workbook, list_chunks, optimize_context, summarize_context,
token_report and session tools over the MCP stdio transport. The ask tool is
added when an OpenAI token is configured.

Workbook paths must fall inside allowed_dirs (XLSXCTX_ALLOWED_DIRS).`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger, err := newLogger(os.Stderr, logLevel)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		logger.Error().Err(err).Msg("config load failed")
		return err
	}

	a, err := newApp(cfg, logger, false)
	if err != nil {
		logger.Error().Err(err).Msg("bootstrap failed")
		return err
	}
	if err := a.security.ValidateConfig(); err != nil {
		logger.Error().Err(err).Msg("security: invalid allow-list configuration")
		return fmt.Errorf("no allowed directories configured; set XLSXCTX_ALLOWED_DIRS: %w", err)
	}
	logger.Info().Strs("allowed_dirs", a.security.AllowedDirectories()).Msg("security allow-list configured")

	a.start()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.close(ctx); err != nil {
			logger.Warn().Err(err).Msg("shutdown incomplete")
		}
	}()

	runtimeMW := runtime.NewMiddleware(a.ctrl)
	mutationFilter := registry.NewMutationToolFilter(cfg)
	toolRegistry := registry.New()

	srv := server.NewMCPServer(
		"xlsxctx",
		version.Version(),
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithHooks(telemetry.NewServerHooks(logger)),
		server.WithToolHandlerMiddleware(runtimeMW.ToolMiddleware),
		server.WithToolFilter(func(ctx context.Context, tools []mcp.Tool) []mcp.Tool {
			return mutationFilter.FilterTools(ctx, tools)
		}),
	)

	tools := registry.NewTools(registry.Deps{
		Sessions:       a.sessions,
		Ingester:       a.ingester,
		Optimizer:      a.optimizer,
		Assistant:      a.assistant,
		Limits:         a.limits,
		Logger:         logger.With().Str("component", "tools").Logger(),
		AllowMutations: cfg.EnableMutations,
	})
	registry.RegisterSessionTools(srv, toolRegistry, tools)
	registry.RegisterContextTools(srv, toolRegistry, tools)

	registered, _ := toolRegistry.Tools(cmd.Context())
	logger.Info().
		Str("version", version.Version()).
		Str("model", cfg.Model).
		Int("token_limit", a.optimizer.TokenLimit(cfg.Model)).
		Int("model_context_size", toolRegistry.ModelContextSize(cfg.Model)).
		Bool("completion_model", a.assistant.HasModel()).
		Int("tools", len(registered)).
		Int("max_concurrent_requests", a.limits.MaxConcurrentRequests).
		Int("max_open_workbooks", a.limits.MaxOpenWorkbooks).
		Msg("server bootstrap configured")

	if err := server.ServeStdio(srv); err != nil {
		logger.Error().Err(err).Msg("stdio transport failed")
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}
