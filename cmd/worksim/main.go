package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/antigravity-dev/worksim/internal/api"
	"github.com/antigravity-dev/worksim/internal/comms"
	"github.com/antigravity-dev/worksim/internal/config"
	"github.com/antigravity-dev/worksim/internal/engine"
	"github.com/antigravity-dev/worksim/internal/event"
	"github.com/antigravity-dev/worksim/internal/gateway"
	"github.com/antigravity-dev/worksim/internal/locale"
	"github.com/antigravity-dev/worksim/internal/planner"
	"github.com/antigravity-dev/worksim/internal/planning"
	"github.com/antigravity-dev/worksim/internal/project"
	"github.com/antigravity-dev/worksim/internal/runtime"
	"github.com/antigravity-dev/worksim/internal/store"
	"github.com/antigravity-dev/worksim/internal/tick"
)

func configureLogger(logLevel string, useDev bool) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(strings.TrimSpace(logLevel)) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if useDev {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func main() {
	configPath := flag.String("config", "worksim.toml", "path to config file")
	personasPath := flag.String("personas", "", "seed personas from a TOML file and exit")
	once := flag.Bool("once", false, "advance a single tick then exit")
	dev := flag.Bool("dev", false, "use text log format (default is JSON)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "config", *configPath, "error", err)
		os.Exit(1)
	}

	cfgs := config.NewManager(cfg)

	logger := configureLogger(cfg.General.LogLevel, *dev)
	slog.SetDefault(logger)
	logger.Info("worksim starting", "config", *configPath, "state_db", cfg.General.StateDB)

	st, err := store.Open(cfg.General.StateDB)
	if err != nil {
		logger.Error("failed to open state db", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	if *personasPath != "" {
		n, err := seedPersonas(st, *personasPath)
		if err != nil {
			logger.Error("persona seed failed", "path", *personasPath, "error", err)
			os.Exit(1)
		}
		logger.Info("personas seeded", "path", *personasPath, "count", n)
		return
	}

	ticks := tick.NewManager(cfg.General.HoursPerDay, cfg.General.TickIntervalSeconds, logger)

	gatewayHTTP := &http.Client{Timeout: cfg.Gateways.HTTPTimeout.Duration}
	email := gateway.NewEmailClient(gatewayHTTP, cfg.Gateways.EmailBaseURL, nil, logger)
	chat := gateway.NewChatClient(gatewayHTTP, cfg.Gateways.ChatBaseURL, nil, logger)

	var primary planner.Planner
	if cfg.Planner.BaseURL != "" {
		primary = planner.NewHTTPPlanner(&http.Client{Timeout: cfg.Planner.RequestTimeout.Duration}, cfg.Planner.BaseURL)
	}
	planners := planner.NewService(primary, cfg.Planner.Strict, logger)

	hub := comms.NewHub(st, ticks, email, chat, cfg.General.ContactCooldownTicks, cfg.General.ExternalStakeholders, logger)
	orch := planning.NewOrchestrator(st, planners, hub, ticks, cfg.Planner.Model,
		cfg.General.MaxPlanningWorkers, cfg.General.MaxHourlyPlansPerMinute,
		planning.Timeouts{
			Plan:    cfg.Planner.PlanTimeout.Duration,
			Summary: cfg.Planner.SummaryTimeout.Duration,
			Report:  cfg.Planner.ReportTimeout.Duration,
		}, logger)

	loc := locale.Table(cfg.General.Locale)
	rt := runtime.NewManager(st, logger)
	events := event.NewSystem(st, rt, cfg.General.HoursPerDay, loc, logger)
	events.SetProbabilities(cfg.Events.SickLeaveProbability, cfg.Events.FeatureRequestProbability)
	projects := project.NewManager(st, chat, logger)

	eng := engine.New(engine.Deps{
		Store:                 st,
		Ticks:                 ticks,
		Hub:                   hub,
		Orch:                  orch,
		Events:                events,
		Projects:              projects,
		Runtime:               rt,
		Email:                 email,
		Chat:                  chat,
		Locale:                loc,
		Logger:                logger,
		AutoPauseOnProjectEnd: cfg.General.AutoPauseOnProjectEnd,
	})

	if *once {
		if err := eng.Advance(1, "manual"); err != nil {
			logger.Error("advance failed", "error", err)
			os.Exit(1)
		}
		status, err := eng.CurrentStatus()
		if err == nil {
			logger.Info("tick complete", "tick", status.CurrentTick, "sim_time", status.SimTime)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Resume the scheduler if the last session left auto-tick on.
	if state, err := st.GetSimulationState(); err == nil && state.IsRunning && state.AutoTick {
		if err := eng.StartAutoTick(); err != nil {
			logger.Warn("auto-tick resume failed", "error", err)
		}
	}

	server := api.NewServer(cfgs, *configPath, st, eng, planners, logger)
	if err := server.Start(ctx); err != nil {
		logger.Error("api server failed", "error", err)
		os.Exit(1)
	}
	ticks.StopAutoTick()
	logger.Info("worksim stopped")
}
