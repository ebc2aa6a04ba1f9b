// Package envutil reads process environment variables with defaults,
// matching the teacher's app.LoadConfig idiom. An unset variable
// silently yields the default; an unparseable int, bool or duration is
// logged (when a logger is given) and replaced by the default.
package envutil

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/yungbote/stackrun/internal/platform/logger"
)

func GetEnv(key, def string, log *logger.Logger) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func GetEnvAsInt(key string, def int, log *logger.Logger) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		if log != nil {
			log.Warn("invalid int env var, using default", "key", key, "value", v, "default", def)
		}
		return def
	}
	return n
}

func GetEnvAsBool(key string, def bool, log *logger.Logger) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if v == "" {
		return def
	}
	switch v {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		if log != nil {
			log.Warn("invalid bool env var, using default", "key", key, "value", v, "default", def)
		}
		return def
	}
}

func GetEnvAsDuration(key string, def time.Duration, log *logger.Logger) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		if log != nil {
			log.Warn("invalid duration env var, using default", "key", key, "value", v, "default", def)
		}
		return def
	}
	return d
}
