// Package app wires the engine together: Postgres connection, the
// Continuation Store, the Sandboxed Runner, the Module Gateway, the
// Dispatcher pool, and the HTTP front-end — grounded on the teacher's
// internal/app.App/New/Start/Run/Close lifecycle.
package app

import (
	"context"
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"gorm.io/gorm"

	"github.com/yungbote/stackrun/internal/dispatcher"
	"github.com/yungbote/stackrun/internal/gateway"
	"github.com/yungbote/stackrun/internal/observability"
	"github.com/yungbote/stackrun/internal/platform/db"
	"github.com/yungbote/stackrun/internal/platform/logger"
	"github.com/yungbote/stackrun/internal/runner"
	"github.com/yungbote/stackrun/internal/store"
)

type App struct {
	Log    *logger.Logger
	DB     *gorm.DB
	Router *gin.Engine
	Cfg    Config

	Store   *store.Store
	Runner  *runner.Runner
	Gateway *gateway.Gateway
	Pool    *dispatcher.Pool

	otelShutdown func(context.Context) error
	cancel       context.CancelFunc
}

func New() (*App, error) {
	// Best-effort local .env loading, matching the pack's config.Load:
	// try a couple of conventional locations, ignore if none exist.
	for _, p := range []string{".env", ".env.local"} {
		if err := godotenv.Load(p); err == nil {
			break
		}
	}

	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("loading configuration")
	cfg := LoadConfig(log)

	pg, err := db.NewPostgresService(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	if err := pg.AutoMigrateAll(); err != nil {
		log.Sync()
		return nil, fmt.Errorf("postgres automigrate: %w", err)
	}
	theDB := pg.DB()

	st := store.New(theDB, log)

	run := runner.New(log, cfg.RunnerDeadline)

	gwCfg, err := gateway.ConfigFromEnv(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("gateway config: %w", err)
	}
	gw := gateway.New(log, gwCfg)

	registry, err := loadTaskCode(cfg.TaskCodeDir, log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("load task code: %w", err)
	}

	var trigger dispatcher.Trigger
	if cfg.RedisAddr != "" {
		trigger, err = dispatcher.NewRedisTrigger(log, cfg.RedisAddr, cfg.RedisTriggerChannel)
		if err != nil {
			log.Warn("redis self-trigger unavailable, falling back to poll-only", "error", err)
			trigger = dispatcher.NoopTrigger{}
		}
	} else {
		log.Info("REDIS_ADDR not set, running poll-only (no self-trigger fast path)")
		trigger = dispatcher.NoopTrigger{}
	}

	otelShutdown := observability.InitOTel(context.Background(), log, observability.OtelConfig{
		Enabled:     cfg.OtelExporterEnabled,
		ServiceName: cfg.OtelServiceName,
	})

	metrics := observability.NewMetrics("stackrun")

	disp := dispatcher.New(log, st, run, gw, registry, trigger,
		dispatcher.WithStaleProcessing(cfg.StaleProcessingAfter),
		dispatcher.WithDeadline(cfg.RunnerDeadline),
		dispatcher.WithPollInterval(cfg.DispatcherPollInterval),
		dispatcher.WithMetrics(metrics),
		dispatcher.WithTracer(observability.Tracer("stackrun/dispatcher")),
	)
	pool := dispatcher.NewPool(disp)

	router := wireRouter(log, st)

	return &App{
		Log:          log,
		DB:           theDB,
		Router:       router,
		Cfg:          cfg,
		Store:        st,
		Runner:       run,
		Gateway:      gw,
		Pool:         pool,
		otelShutdown: otelShutdown,
	}, nil
}

// Start launches the dispatcher worker pool in the background.
func (a *App) Start() {
	if a == nil || a.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.Pool.Start(ctx)
}

func (a *App) Run(addr string) error {
	if a == nil || a.Router == nil {
		return fmt.Errorf("app not initialized")
	}
	return a.Router.Run(addr)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.otelShutdown != nil {
		_ = a.otelShutdown(context.Background())
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
