package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/yungbote/stackrun/internal/platform/logger"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return log
}

func TestGateway_Call_Success(t *testing.T) {
	var gotPath string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("decode request body: %v", err)
		}
		if r.Header.Get("X-Api-Key") != "secret" {
			t.Fatalf("expected X-Api-Key header to be forwarded")
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"reply": "ok"})
	}))
	defer srv.Close()

	gw := New(newTestLogger(t), Config{
		"keystore": {BaseURL: srv.URL, Headers: map[string]string{"X-Api-Key": "secret"}},
	})

	result, err := gw.Call(context.Background(), "keystore", "get", []any{"X"})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if gotPath != "/get" {
		t.Fatalf("expected path /get, got %q", gotPath)
	}
	args, _ := gotBody["args"].([]any)
	if len(args) != 1 || args[0] != "X" {
		t.Fatalf("unexpected forwarded args: %+v", gotBody)
	}
	m, ok := result.(map[string]any)
	if !ok || m["reply"] != "ok" {
		t.Fatalf("unexpected result: %#v", result)
	}
}

func TestGateway_Call_UnknownService(t *testing.T) {
	gw := New(newTestLogger(t), Config{})
	_, err := gw.Call(context.Background(), "nope", "get", nil)
	if err == nil {
		t.Fatalf("expected error for unconfigured service")
	}
	var callErr *CallError
	if !asCallError(err, &callErr) {
		t.Fatalf("expected *CallError, got %T: %v", err, err)
	}
}

func TestGateway_Call_HTTPErrorSurfacedNoRetry(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"boom"}`))
	}))
	defer srv.Close()

	gw := New(newTestLogger(t), Config{"mail": {BaseURL: srv.URL}})

	_, err := gw.Call(context.Background(), "mail", "send", []any{"x"})
	if err == nil {
		t.Fatalf("expected error for 500 response")
	}
	if attempts != 1 {
		t.Fatalf("expected exactly one attempt (no core retry), got %d", attempts)
	}
}

func asCallError(err error, target **CallError) bool {
	ce, ok := err.(*CallError)
	if !ok {
		return false
	}
	*target = ce
	return true
}
