// Package gateway is the Module Gateway of spec.md §4.4: a thin
// JSON-in/JSON-out shim that routes (service, method, args) to the
// out-of-core endpoint configured for that service. It never sees
// "tasks" — nested task invocation is handled entirely by the
// Dispatcher and Continuation Store.
package gateway

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"

	"github.com/yungbote/stackrun/internal/platform/logger"
)

// Endpoint describes where a named external module lives. Grounded on
// the teacher's per-client Config structs (e.g. clients/twilio.Config)
// but generalized to a single shape shared across every module, since
// the core treats every module identically: one JSON call in, one
// JSON result or error out.
type Endpoint struct {
	// BaseURL is the module's HTTP base; the method name is appended
	// as a path segment (BaseURL + "/" + method).
	BaseURL string
	Headers map[string]string
}

// Config maps service_name -> endpoint descriptor, per spec.md §6.
type Config map[string]Endpoint

// CallError wraps a module's HTTP failure with enough detail for
// DESIGN.md-grounded diagnostics without leaking response bodies into
// normal control flow — the core treats any non-2xx or transport
// failure as a dispatch failure, never as a value delivered to the
// handler (that only happens for module-level error payloads returned
// inside a 2xx body).
type CallError struct {
	Service    string
	Method     string
	StatusCode int
	Body       string
	Cause      error
}

func (e *CallError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("gateway: %s.%s: %v", e.Service, e.Method, e.Cause)
	}
	return fmt.Sprintf("gateway: %s.%s: http %d: %s", e.Service, e.Method, e.StatusCode, e.Body)
}

func (e *CallError) Unwrap() error { return e.Cause }

type Gateway struct {
	log    *logger.Logger
	client *resty.Client
	config Config
}

func New(log *logger.Logger, cfg Config) *Gateway {
	return &Gateway{
		log:    log.With("component", "Gateway"),
		client: resty.New(),
		config: cfg,
	}
}

// Call implements the Module Gateway's one operation: dispatch
// (service, method, args) to the configured endpoint and return its
// JSON result. There is no retry in the core — the first error wins,
// per spec.md §4.4.
func (g *Gateway) Call(ctx context.Context, service, method string, args []any) (any, error) {
	ep, ok := g.config[service]
	if !ok {
		return nil, &CallError{Service: service, Method: method, Cause: fmt.Errorf("no endpoint configured for service %q", service)}
	}

	url := ep.BaseURL + "/" + method
	var result any
	req := g.client.R().
		SetContext(ctx).
		SetBody(map[string]any{"args": args}).
		SetResult(&result)
	for k, v := range ep.Headers {
		req.SetHeader(k, v)
	}

	resp, err := req.Post(url)
	if err != nil {
		return nil, &CallError{Service: service, Method: method, Cause: err}
	}
	if resp.IsError() {
		return nil, &CallError{
			Service:    service,
			Method:     method,
			StatusCode: resp.StatusCode(),
			Body:       resp.String(),
		}
	}
	return result, nil
}
