package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/vango-go/vai-retell/pkg/core/generation"
	"github.com/vango-go/vai-retell/pkg/core/types"
	"github.com/vango-go/vai-retell/pkg/gateway/config"
	gatewayserver "github.com/vango-go/vai-retell/pkg/gateway/server"
	"github.com/vango-go/vai-retell/pkg/metadata"
)

type idleGenerator struct{}

func (idleGenerator) Generate(ctx context.Context, responseID int64, system string, messages []types.Message) <-chan generation.Result {
	out := make(chan generation.Result)
	close(out)
	return out
}

func testConfig() config.Config {
	return config.Config{
		Addr:                          "127.0.0.1:0",
		Provider:                      "anthropic",
		Model:                         "claude-haiku-4-5",
		ProviderKeys:                  map[string]string{"anthropic": "sk-ant-test"},
		AuthMode:                      config.AuthModeDisabled,
		AdminAPIKeys:                  map[string]struct{}{},
		MetadataTTL:                   time.Minute,
		ReadHeaderTimeout:             time.Second,
		ReadTimeout:                   time.Second,
		ShutdownGracePeriod:           time.Second,
		UpstreamConnectTimeout:        time.Second,
		UpstreamResponseHeaderTimeout: time.Second,
	}
}

func testGateway(cfg config.Config, logger *slog.Logger) (*gatewayserver.Server, error) {
	return gatewayserver.New(cfg, logger,
		gatewayserver.WithGenerator(idleGenerator{}),
		gatewayserver.WithMetadataStore(metadata.NewMemory()),
	)
}

func noSignals() serveDeps {
	return serveDeps{
		newGateway:   testGateway,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {},
		signalStop:   func(c chan<- os.Signal) {},
	}
}

func TestRunMain_ReturnsNonZeroWhenConfigLoadFails(t *testing.T) {
	t.Parallel()

	var stderr bytes.Buffer
	exitCode := runMain(context.Background(), []string{"serve"}, io.Discard, &stderr, cliDeps{
		loadConfig: func() (config.Config, error) {
			return config.Config{}, errors.New("boom")
		},
		serve: serveDeps{
			newGateway: func(cfg config.Config, logger *slog.Logger) (*gatewayserver.Server, error) {
				t.Fatalf("newGateway should not be called when config load fails")
				return nil, nil
			},
		},
	})

	if exitCode != 1 {
		t.Fatalf("exitCode=%d, want 1", exitCode)
	}
	if got := stderr.String(); !strings.Contains(got, "boom") {
		t.Fatalf("stderr=%q", got)
	}
}

func TestRunMain_ServeRequiresProviderKey(t *testing.T) {
	t.Parallel()

	var stderr bytes.Buffer
	exitCode := runMain(context.Background(), []string{"serve"}, io.Discard, &stderr, cliDeps{
		loadConfig: func() (config.Config, error) {
			cfg := testConfig()
			cfg.ProviderKeys = map[string]string{}
			return cfg, nil
		},
		serve: noSignals(),
	})
	if exitCode != 1 || !strings.Contains(stderr.String(), "ANTHROPIC_API_KEY") {
		t.Fatalf("exitCode=%d stderr=%q", exitCode, stderr.String())
	}
}

func TestBuildHTTPServer_UsesConfiguredAddress(t *testing.T) {
	t.Parallel()

	cfg := config.Config{
		Addr:              "127.0.0.1:9999",
		ReadHeaderTimeout: 2 * time.Second,
		ReadTimeout:       3 * time.Second,
	}

	srv := buildHTTPServer(cfg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	if srv.Addr != cfg.Addr {
		t.Fatalf("Addr=%q, want %q", srv.Addr, cfg.Addr)
	}
	if srv.ReadHeaderTimeout != cfg.ReadHeaderTimeout {
		t.Fatalf("ReadHeaderTimeout=%v, want %v", srv.ReadHeaderTimeout, cfg.ReadHeaderTimeout)
	}
	if srv.ReadTimeout != cfg.ReadTimeout {
		t.Fatalf("ReadTimeout=%v, want %v", srv.ReadTimeout, cfg.ReadTimeout)
	}
}

func requireTCPListen(t testing.TB) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("skipping test: TCP listen not permitted in this environment: %v", err)
	}
	ln.Close()
}

func TestGatewayHandlerStack_Smoke(t *testing.T) {
	requireTCPListen(t)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gw, err := testGateway(testConfig(), logger)
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}
	defer gw.Close()

	ts := httptest.NewServer(gw.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d, want %d", resp.StatusCode, http.StatusOK)
	}
}

func TestRunServe_StopsWhenContextEnds(t *testing.T) {
	requireTCPListen(t)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- runServe(ctx, testConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)), noSignals())
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("runServe: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("runServe did not return after cancel")
	}
}

func TestRunServe_MissingDependencies(t *testing.T) {
	if err := runServe(context.Background(), testConfig(), nil, serveDeps{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestRegisterAgentCmd(t *testing.T) {
	requireTCPListen(t)

	var gotPath, gotURL string
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotURL = body["llm_websocket_url"]
		_ = json.NewEncoder(w).Encode(map[string]string{"agent_id": "agent_42", "llm_websocket_url": gotURL})
	}))
	defer api.Close()

	deps := cliDeps{loadConfig: func() (config.Config, error) {
		cfg := testConfig()
		cfg.RetellAPIKey = "key_test"
		cfg.RetellBaseURL = api.URL
		cfg.DefaultAgentID = "agent_42"
		return cfg, nil
	}}

	var out bytes.Buffer
	code := runMain(context.Background(), []string{"register-agent", "--websocket-url", "wss://voice.example.com/llm-websocket/"}, &out, io.Discard, deps)
	if code != 0 {
		t.Fatalf("exit=%d", code)
	}
	if gotPath != "/v2/agents/agent_42" || gotURL != "wss://voice.example.com/llm-websocket" {
		t.Fatalf("path=%q url=%q", gotPath, gotURL)
	}
	if !strings.Contains(out.String(), "agent_42") {
		t.Fatalf("out=%q", out.String())
	}
}

func TestRegisterAgentCmd_RequiresAgent(t *testing.T) {
	deps := cliDeps{loadConfig: func() (config.Config, error) { return testConfig(), nil }}
	var stderr bytes.Buffer
	code := runMain(context.Background(), []string{"register-agent", "--websocket-url", "wss://x.example.com/llm-websocket"}, io.Discard, &stderr, deps)
	if code != 1 || !strings.Contains(stderr.String(), "RETELL_AGENT_ID") {
		t.Fatalf("exit=%d stderr=%q", code, stderr.String())
	}
}

func TestMetadataCmd_PutGetDelete(t *testing.T) {
	store := metadata.NewMemory()
	deps := cliDeps{loadConfig: func() (config.Config, error) { return testConfig(), nil }}

	run := func(args ...string) (string, error) {
		cmd := newMetadataCmdWithStore(deps, store)
		var out bytes.Buffer
		cmd.SetOut(&out)
		cmd.SetErr(io.Discard)
		cmd.SetArgs(args)
		err := cmd.ExecuteContext(context.Background())
		return out.String(), err
	}

	out, err := run("put", "+1 555 123 4567", "--provider-name", "Acme Clinic", "--scenario", "existing_state", "--tax-id", "12-3456789")
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if !strings.Contains(out, "Stored 3 fields") {
		t.Fatalf("put out=%q", out)
	}

	out, err = run("get", "+15551234567")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var fields types.CallFields
	if err := json.Unmarshal([]byte(out), &fields); err != nil {
		t.Fatalf("unmarshal %q: %v", out, err)
	}
	if fields.ProviderName != "Acme Clinic" || fields.TaxID != "12-3456789" {
		t.Fatalf("fields=%+v", fields)
	}

	if _, err := run("delete", "+15551234567"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := run("get", "+15551234567"); err == nil {
		t.Fatal("expected get after delete to fail")
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q)=%v, want %v", in, got, want)
		}
	}
}
