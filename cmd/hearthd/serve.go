package main

import (
	"context"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hearthd/hearth/internal/agenda"
	"github.com/hearthd/hearth/internal/agent"
	"github.com/hearthd/hearth/internal/channels/telegram"
	"github.com/hearthd/hearth/internal/config"
	"github.com/hearthd/hearth/internal/gateway"
	"github.com/hearthd/hearth/internal/jobs"
	"github.com/hearthd/hearth/internal/llm"
	"github.com/hearthd/hearth/internal/observability"
	"github.com/hearthd/hearth/internal/proactive"
	"github.com/hearthd/hearth/internal/server"
	"github.com/hearthd/hearth/internal/storage"
	"github.com/hearthd/hearth/internal/tasksession"
	"github.com/hearthd/hearth/internal/tools"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the hearthd daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

func serve() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	metrics := observability.NewMetrics()

	tracer, shutdownTracer, err := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "hearthd",
		ServiceVersion: version,
		Endpoint:       cfg.Tracing.Endpoint,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := storage.Open(cfg.Data.Dir)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	meta := storage.NewSQLiteMetadataStore(db)
	history := storage.NewSQLiteHistoryStore(db)
	jobStore := jobs.NewSQLiteStore(db)
	agendaStore := agenda.NewSQLiteStore(db)

	if err := jobs.Migrate(ctx, cfg.Data.Dir, jobStore, meta, logger); err != nil {
		return fmt.Errorf("migrate jobs: %w", err)
	}

	tasks, err := tasksession.NewStore(filepath.Join(cfg.Data.Dir, "task_sessions"), tasksession.Budgets{
		MaxTurns:        cfg.Agent.MaxTurns,
		MaxToolAttempts: cfg.Agent.MaxToolAttempts,
	})
	if err != nil {
		return fmt.Errorf("open task store: %w", err)
	}

	client, err := llm.New(cfg.LLM)
	if err != nil {
		return fmt.Errorf("init model client: %w", err)
	}

	dispatcher := tools.NewDispatcher(logger, metrics)
	engine := jobs.NewEngine(jobStore, meta, cfg.Scheduler, logger, jobs.WithMetrics(metrics))

	if err := tools.RegisterScheduleTools(dispatcher, engine); err != nil {
		return err
	}
	if err := tools.RegisterAgendaTools(dispatcher, agendaStore); err != nil {
		return err
	}
	if err := tools.RegisterWebTools(dispatcher, tools.WebConfig{SearchURL: cfg.Tools.Web.SearchURL}); err != nil {
		return err
	}
	if err := tools.RegisterCodebaseTools(dispatcher, tools.CodebaseConfig{Root: cfg.Tools.Codebase.Root}); err != nil {
		return err
	}
	if err := tools.RegisterRepoTools(dispatcher, tools.RepoConfig{Root: cfg.Tools.Repo.Root}); err != nil {
		return err
	}

	parser := agent.NewParser(cfg.Parser.IntentPhrases, logger)
	planner := agent.NewPlanner(client, parser, dispatcher, logger)
	validator := agent.NewValidator(cfg.Validator.CheckPII)
	registry := gateway.NewRegistry(logger, metrics)

	gw := gateway.New(client, dispatcher, parser, planner, validator, tasks, history,
		cfg.Agent, logger, metrics, gateway.WithTracer(tracer))

	householdID := cfg.Channels.Telegram.HouseholdID
	if householdID == "" {
		householdID = "home"
	}
	engine.SetRunner(gateway.NewJobRunner(gw, history, registry, householdID, logger))
	engine.Start(ctx)

	reminder := proactive.New(agendaStore, meta, registry, householdID, cfg.Proactive, logger, metrics)
	reminder.Start(ctx)

	if cfg.Channels.Telegram.Enabled {
		tg, err := telegram.New(cfg.Channels.Telegram, cfg.Agent, gw, history, logger)
		if err != nil {
			return err
		}
		go tg.Start(ctx)
	}

	if configPath != "" {
		if err := config.Watch(ctx, configPath, logger, func() {
			logger.Warn("configuration changed on disk; restart to apply")
		}); err != nil {
			logger.Warn("config watch unavailable", "error", err)
		}
	}

	logger.Info("hearthd started", "version", version, "data_dir", cfg.Data.Dir)
	srvErr := server.New(cfg.Server, cfg.Agent, gw, registry, history, householdID, logger).Start(ctx)

	reminder.Stop()
	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := engine.Stop(stopCtx); err != nil {
		logger.Warn("scheduler stop", "error", err)
	}
	if err := shutdownTracer(stopCtx); err != nil {
		logger.Warn("tracer shutdown", "error", err)
	}
	return srvErr
}
