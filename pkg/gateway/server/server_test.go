package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/vango-go/vai-retell/pkg/core/generation"
	"github.com/vango-go/vai-retell/pkg/core/types"
	"github.com/vango-go/vai-retell/pkg/gateway/config"
	"github.com/vango-go/vai-retell/pkg/metadata"
)

type nopGenerator struct{}

func (nopGenerator) Generate(ctx context.Context, responseID int64, system string, messages []types.Message) <-chan generation.Result {
	out := make(chan generation.Result, 1)
	out <- generation.Result{Fragment: &types.Fragment{ResponseID: responseID, ContentComplete: true}}
	close(out)
	return out
}

func testConfig() config.Config {
	return config.Config{
		Provider:                      "anthropic",
		Model:                         "claude-haiku-4-5",
		ProviderKeys:                  map[string]string{"anthropic": "sk-ant-test"},
		AuthMode:                      config.AuthModeDisabled,
		AdminAPIKeys:                  map[string]struct{}{},
		MetadataTTL:                   time.Minute,
		MaxBodyBytes:                  1 << 20,
		UpstreamConnectTimeout:        time.Second,
		UpstreamResponseHeaderTimeout: time.Second,
	}
}

func newTestServer(t *testing.T, cfg config.Config) *Server {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	s, err := New(cfg, logger, WithGenerator(nopGenerator{}), WithMetadataStore(metadata.NewMemory()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestServer_UnknownRoute_ReturnsJSON404(t *testing.T) {
	s := newTestServer(t, testConfig())

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/does-not-exist", nil)
	s.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Fatalf("content-type=%q", ct)
	}
	if !strings.Contains(rr.Body.String(), `"type":"not_found_error"`) {
		t.Fatalf("unexpected body: %q", rr.Body.String())
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatal("missing X-Request-ID")
	}
}

func TestServer_ReadyzReportsMetadataBackend(t *testing.T) {
	s := newTestServer(t, testConfig())

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), `"metadata_backend":"memory"`) {
		t.Fatalf("unexpected body: %q", rr.Body.String())
	}

	s.SetDraining()
	rr = httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("draining status=%d", rr.Code)
	}
}

func TestServer_MetadataRoutes(t *testing.T) {
	s := newTestServer(t, testConfig())
	h := s.Handler()

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/metadata", strings.NewReader(`{"phone_number":"+15551234567","provider_name":"Acme Clinic"}`)))
	if rr.Code != http.StatusOK {
		t.Fatalf("POST status=%d body=%q", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metadata/+15551234567", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "Acme Clinic") {
		t.Fatalf("GET status=%d body=%q", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(`{"event":"call_ended","call":{"call_id":"c1","direction":"outbound","to_number":"+15551234567"}}`)))
	if rr.Code != http.StatusOK {
		t.Fatalf("webhook status=%d body=%q", rr.Code, rr.Body.String())
	}
	if _, ok := s.Metadata().Retrieve(context.Background(), "+15551234567"); ok {
		t.Fatal("call_ended webhook did not delete metadata")
	}
}

func TestServer_MetadataRequiresAdminKey(t *testing.T) {
	cfg := testConfig()
	cfg.AuthMode = config.AuthModeRequired
	cfg.AdminAPIKeys = map[string]struct{}{"admin_test": {}}
	s := newTestServer(t, cfg)
	h := s.Handler()

	body := `{"phone_number":"+15551234567","provider_name":"Acme Clinic"}`
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/metadata", strings.NewReader(body)))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status=%d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/metadata", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer admin_test")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("authenticated status=%d body=%q", rr.Code, rr.Body.String())
	}

	// Health and the call websocket stay reachable without a key.
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("healthz status=%d", rr.Code)
	}
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/llm-websocket/call_1", nil))
	if rr.Code == http.StatusUnauthorized || rr.Code == http.StatusNotFound {
		t.Fatalf("llm-websocket status=%d", rr.Code)
	}
}

func TestServer_WebhookSignatureEnforced(t *testing.T) {
	cfg := testConfig()
	cfg.RetellAPIKey = "key_test"
	cfg.VerifyWebhooks = true
	s := newTestServer(t, cfg)

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(`{"event":"call_started","call":{"call_id":"c1"}}`)))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
}

func TestServer_UnknownProviderFails(t *testing.T) {
	cfg := testConfig()
	cfg.Provider = "nope"
	if _, err := New(cfg, nil, WithMetadataStore(metadata.NewMemory())); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestServer_CallsDrainWhenIdle(t *testing.T) {
	s := newTestServer(t, testConfig())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if !s.WaitCalls(ctx) {
		t.Fatal("WaitCalls with no calls should return true")
	}
	if n := s.CancelCalls(); n != 0 {
		t.Fatalf("CancelCalls=%d", n)
	}
}
