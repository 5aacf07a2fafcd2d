package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/vinodismyname/xlsxctx/config"
	"github.com/vinodismyname/xlsxctx/internal/chat"
	"github.com/vinodismyname/xlsxctx/internal/ingest"
	"github.com/vinodismyname/xlsxctx/internal/optimizer"
	"github.com/vinodismyname/xlsxctx/internal/runtime"
	"github.com/vinodismyname/xlsxctx/internal/security"
	"github.com/vinodismyname/xlsxctx/internal/session"
	"github.com/vinodismyname/xlsxctx/internal/workbooks"
)

// app holds the long-lived collaborators shared by every command.
type app struct {
	cfg       config.Config
	logger    zerolog.Logger
	limits    runtime.Limits
	ctrl      *runtime.Controller
	security  *security.Manager
	workbooks *workbooks.Manager
	sessions  *session.Store
	ingester  *ingest.Ingester
	optimizer *optimizer.Optimizer
	assistant *chat.Assistant
}

// newApp wires the pipeline. Local commands pass unrestricted=true so any
// readable workbook may be opened when no allow-list is configured.
func newApp(cfg config.Config, logger zerolog.Logger, unrestricted bool) (*app, error) {
	sec, err := security.FromConfig(cfg, unrestricted)
	if err != nil {
		return nil, err
	}

	limits := runtime.LimitsFromConfig(cfg)
	ctrl := runtime.NewController(limits)
	mgr := workbooks.NewManager(config.DefaultWorkbookIdleTTL, config.DefaultWorkbookCleanupPeriod,
		workbooks.WithGate(ctrl),
		workbooks.WithPathValidator(sec),
	)

	opt := optimizer.New(optimizer.FromConfig(cfg), optimizer.WithLogger(logger.With().Str("component", "optimizer").Logger()))

	model, err := newModel(cfg)
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:       cfg,
		logger:    logger,
		limits:    limits,
		ctrl:      ctrl,
		security:  sec,
		workbooks: mgr,
		sessions: session.NewStore(cfg.SessionTTL, config.DefaultSessionCleanupPeriod,
			session.WithLogger(logger.With().Str("component", "sessions").Logger())),
		ingester: ingest.NewIngester(mgr,
			ingest.WithParallelSheets(limits.MaxParallelSheets),
			ingest.WithLogger(logger.With().Str("component", "ingest").Logger()),
		),
		optimizer: opt,
		assistant: chat.New(model, opt, chat.FromConfig(cfg), logger.With().Str("component", "chat").Logger()),
	}, nil
}

func (a *app) start() {
	a.workbooks.Start()
	a.sessions.Start()
}

func (a *app) close(ctx context.Context) error {
	return errors.Join(a.sessions.Close(ctx), a.workbooks.Close(ctx))
}

// newModel builds the completion client. Without a token no model is
// configured and only the context tools are available.
func newModel(cfg config.Config) (llms.Model, error) {
	if cfg.OpenAI.Token == "" {
		return nil, nil
	}
	opts := []openai.Option{
		openai.WithToken(cfg.OpenAI.Token),
		openai.WithModel(cfg.Model),
	}
	if cfg.OpenAI.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.OpenAI.BaseURL))
	}
	switch cfg.OpenAI.APIType {
	case "azure":
		opts = append(opts, openai.WithAPIType(openai.APITypeAzure))
	case "azure_ad":
		opts = append(opts, openai.WithAPIType(openai.APITypeAzureAD))
	}
	if cfg.OpenAI.APIVersion != "" {
		opts = append(opts, openai.WithAPIVersion(cfg.OpenAI.APIVersion))
	}
	model, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("openai client: %w", err)
	}
	return model, nil
}

// loadConfig reads the config file named by --config plus environment.
func loadConfig() (config.Config, error) {
	return config.Load(configPath)
}
