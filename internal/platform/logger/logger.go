// Package logger wraps zap with the structured-field conventions used
// throughout the engine: callers always pass a *Logger explicitly
// (constructor injection, never a package-level singleton) and widen it
// with .With(...) at each component boundary.
package logger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
)

type Logger struct {
	SugaredLogger *zap.SugaredLogger
}

func New(mode string) (*Logger, error) {
	var cfg zap.Config
	switch strings.ToLower(mode) {
	case "prod", "production":
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	default:
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	zapLogger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{SugaredLogger: zapLogger.Sugar()}, nil
}

func (l *Logger) Sync() {
	if l == nil || l.SugaredLogger == nil {
		return
	}
	_ = l.SugaredLogger.Sync()
}

func (l *Logger) Debug(msg string, kv ...interface{}) { l.SugaredLogger.Debugw(msg, sanitizeKVs(kv)...) }
func (l *Logger) Info(msg string, kv ...interface{})  { l.SugaredLogger.Infow(msg, sanitizeKVs(kv)...) }
func (l *Logger) Warn(msg string, kv ...interface{})  { l.SugaredLogger.Warnw(msg, sanitizeKVs(kv)...) }
func (l *Logger) Error(msg string, kv ...interface{}) { l.SugaredLogger.Errorw(msg, sanitizeKVs(kv)...) }
func (l *Logger) Fatal(msg string, kv ...interface{}) { l.SugaredLogger.Fatalw(msg, sanitizeKVs(kv)...) }

func (l *Logger) With(kv ...interface{}) *Logger {
	return &Logger{SugaredLogger: l.SugaredLogger.With(sanitizeKVs(kv)...)}
}

var (
	redactOnce       sync.Once
	redactionEnabled bool
	hashSalt         string
)

// sanitizeKVs redacts values whose key looks sensitive, and any
// JWT-shaped string value, before they reach the sink. stack-run args/results routinely carry
// credential-store outputs, so this runs on every log call rather than
// only at the HTTP boundary.
func sanitizeKVs(kv []interface{}) []interface{} {
	if len(kv) == 0 || !redactionOn() {
		return kv
	}
	out := make([]interface{}, 0, len(kv))
	for i := 0; i < len(kv); i += 2 {
		if i == len(kv)-1 {
			out = append(out, kv[i])
			break
		}
		key := strings.TrimSpace(strings.ToLower(toString(kv[i])))
		out = append(out, toString(kv[i]), sanitizeValue(key, kv[i+1]))
	}
	return out
}

func sanitizeValue(key string, val interface{}) interface{} {
	if isRedactKey(key) {
		return "[REDACTED]"
	}
	if s, ok := val.(string); ok && looksLikeJWT(s) {
		return "[REDACTED]"
	}
	return val
}

func isRedactKey(key string) bool {
	switch {
	case strings.Contains(key, "token"),
		strings.Contains(key, "authorization"),
		strings.Contains(key, "password"),
		strings.Contains(key, "secret"),
		strings.Contains(key, "api_key"),
		strings.Contains(key, "apikey"):
		return true
	default:
		return false
	}
}

func looksLikeJWT(s string) bool {
	parts := strings.Split(s, ".")
	return len(parts) == 3 && len(parts[0]) > 10 && len(parts[1]) > 10
}

func toString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func redactionOn() bool {
	redactOnce.Do(func() {
		val := strings.TrimSpace(strings.ToLower(os.Getenv("LOG_REDACTION_ENABLED")))
		redactionEnabled = val != "0" && val != "false" && val != "no" && val != "off"
		hashSalt = strings.TrimSpace(os.Getenv("LOG_HASH_SALT"))
	})
	return redactionEnabled
}

// hashValue is kept for callers that want a stable, non-reversible
// correlation token (e.g. owner refs) instead of full redaction.
func hashValue(val string) string {
	h := sha256.New()
	if hashSalt != "" {
		_, _ = h.Write([]byte(hashSalt))
	}
	_, _ = h.Write([]byte(val))
	sum := hex.EncodeToString(h.Sum(nil))
	if len(sum) > 12 {
		sum = sum[:12]
	}
	return "hash:" + sum
}
