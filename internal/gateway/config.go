package gateway

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/yungbote/stackrun/internal/platform/envutil"
	"github.com/yungbote/stackrun/internal/platform/logger"
)

// ConfigFromEnv reads GATEWAY_MODULES, a JSON object mapping
// service_name -> {"base_url": "...", "headers": {...}}. Unlike the
// teacher's per-service clients, the set of modules a deployment talks
// to is open-ended, so a single JSON blob replaces a field-per-service
// env var scheme.
func ConfigFromEnv(log *logger.Logger) (Config, error) {
	raw := envutil.GetEnv("GATEWAY_MODULES", "", log)
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Config{}, nil
	}

	var parsed map[string]struct {
		BaseURL string            `json:"base_url"`
		Headers map[string]string `json:"headers"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("gateway: invalid GATEWAY_MODULES: %w", err)
	}

	cfg := make(Config, len(parsed))
	for service, ep := range parsed {
		base := strings.TrimSuffix(strings.TrimSpace(ep.BaseURL), "/")
		if base == "" {
			return nil, fmt.Errorf("gateway: module %q missing base_url", service)
		}
		cfg[service] = Endpoint{BaseURL: base, Headers: ep.Headers}
	}
	return cfg, nil
}
