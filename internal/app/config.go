package app

import (
	"time"

	"github.com/yungbote/stackrun/internal/platform/envutil"
	"github.com/yungbote/stackrun/internal/platform/logger"
)

// Config holds the engine's dispatcher, runner, task code, Redis and
// tracing knobs, loaded from the environment the way the teacher's
// app.LoadConfig does — no config file format, no flags library.
// Database, gateway, CORS and logging settings are read by their own
// packages.
type Config struct {
	HTTPAddr string

	DispatcherConcurrency int
	DispatcherPollInterval time.Duration
	StaleProcessingAfter   time.Duration
	RunnerDeadline         time.Duration

	TaskCodeDir string

	RedisAddr           string
	RedisTriggerChannel string

	OtelExporterEnabled bool
	OtelServiceName     string
}

func LoadConfig(log *logger.Logger) Config {
	return Config{
		HTTPAddr: envutil.GetEnv("HTTP_ADDR", ":8080", log),

		DispatcherConcurrency:  envutil.GetEnvAsInt("DISPATCHER_CONCURRENCY", 4, log),
		DispatcherPollInterval: envutil.GetEnvAsDuration("DISPATCHER_POLL_INTERVAL", time.Second, log),
		StaleProcessingAfter:   envutil.GetEnvAsDuration("STALE_PROCESSING_AFTER", 5*time.Minute, log),
		RunnerDeadline:         time.Duration(envutil.GetEnvAsInt("RUNNER_DEADLINE_SECONDS", 180, log)) * time.Second,

		TaskCodeDir: envutil.GetEnv("TASK_CODE_DIR", "./taskcode", log),

		RedisAddr:           envutil.GetEnv("REDIS_ADDR", "", log),
		RedisTriggerChannel: envutil.GetEnv("REDIS_TRIGGER_CHANNEL", "stackrun:triggers", log),

		OtelExporterEnabled: envutil.GetEnvAsBool("OTEL_EXPORTER_ENABLED", false, log),
		OtelServiceName:     envutil.GetEnv("OTEL_SERVICE_NAME", "stackrund", log),
	}
}
