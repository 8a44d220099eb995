package handlers

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-retell/pkg/core/generation"
	"github.com/vango-go/vai-retell/pkg/core/types"
	"github.com/vango-go/vai-retell/pkg/gateway/config"
	"github.com/vango-go/vai-retell/pkg/gateway/lifecycle"
	"github.com/vango-go/vai-retell/pkg/gateway/ratelimit"
	"github.com/vango-go/vai-retell/pkg/gateway/retell/sessions"
	"github.com/vango-go/vai-retell/pkg/metadata"
)

func requireTCPListen(t testing.TB) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("skipping test: TCP listen not permitted in this environment: %v", err)
	}
	ln.Close()
}

type echoGenerator struct {
	mu      sync.Mutex
	systems []string
}

func (g *echoGenerator) Generate(ctx context.Context, responseID int64, system string, messages []types.Message) <-chan generation.Result {
	g.mu.Lock()
	g.systems = append(g.systems, system)
	g.mu.Unlock()

	out := make(chan generation.Result, 2)
	out <- generation.Result{Fragment: &types.Fragment{ResponseID: responseID, Content: "Sure, one moment."}}
	out <- generation.Result{Fragment: &types.Fragment{ResponseID: responseID, ContentComplete: true}}
	close(out)
	return out
}

func (g *echoGenerator) lastSystem() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.systems) == 0 {
		return ""
	}
	return g.systems[len(g.systems)-1]
}

type wsHarness struct {
	server    *httptest.Server
	handler   LLMWebsocketHandler
	generator *echoGenerator
	store     *metadata.Safe
	calls     *sessions.Tracker
}

func newWSHarness(t *testing.T) *wsHarness {
	t.Helper()
	requireTCPListen(t)

	gen := &echoGenerator{}
	store := metadata.NewSafe(metadata.NewMemory(), time.Minute, nil)
	calls := sessions.NewTracker()
	h := LLMWebsocketHandler{
		Config: config.Config{
			WSMaxMessageBytes: 64 * 1024,
			WSPingInterval:    time.Minute,
			WSWriteTimeout:    time.Second,
			FieldsSource:      "store_then_event",
			CancelSuperseded:  true,
		},
		Generator: gen,
		Metadata:  store,
		Lifecycle: &lifecycle.Lifecycle{},
		Calls:     calls,
	}

	mux := http.NewServeMux()
	mux.Handle("GET /llm-websocket/{call_id}", h)
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		calls.CancelAll()
		srv.Close()
	})
	return &wsHarness{server: srv, handler: h, generator: gen, store: store, calls: calls}
}

func (h *wsHarness) dial(t *testing.T, callID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/llm-websocket/" + callID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func mustReadJSON(t *testing.T, conn *websocket.Conn, timeout time.Duration) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal %q: %v", data, err)
	}
	return out
}

func mustWriteJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
}

func readOpening(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	cfg := mustReadJSON(t, conn, 2*time.Second)
	if cfg["response_type"] != "config" {
		t.Fatalf("first frame=%v", cfg)
	}
	greeting := mustReadJSON(t, conn, 2*time.Second)
	if greeting["response_type"] != "response" || greeting["response_id"] != float64(0) || greeting["content_complete"] != true {
		t.Fatalf("greeting=%v", greeting)
	}
}

func readUntilComplete(t *testing.T, conn *websocket.Conn, responseID int) string {
	t.Helper()
	var b strings.Builder
	for {
		msg := mustReadJSON(t, conn, 2*time.Second)
		if msg["response_type"] != "response" || msg["response_id"] != float64(responseID) {
			continue
		}
		content, _ := msg["content"].(string)
		b.WriteString(content)
		if msg["content_complete"] == true {
			return b.String()
		}
	}
}

func TestLLMWebsocket_ConfigThenGreetingThenResponse(t *testing.T) {
	h := newWSHarness(t)
	conn := h.dial(t, "call_1")
	readOpening(t, conn)

	mustWriteJSON(t, conn, map[string]any{
		"interaction_type": "response_required",
		"response_id":      1,
		"transcript": []map[string]string{
			{"role": "agent", "content": "Hi there"},
			{"role": "user", "content": "Hello, who is this?"},
		},
	})
	if got := readUntilComplete(t, conn, 1); got != "Sure, one moment." {
		t.Fatalf("content=%q", got)
	}
}

func TestLLMWebsocket_StoredFieldsReachPrompt(t *testing.T) {
	h := newWSHarness(t)
	if !h.store.Store(context.Background(), "+1 (555) 123-4567", types.CallFields{ProviderName: "Acme Clinic", ScenarioType: "new"}) {
		t.Fatal("store failed")
	}

	conn := h.dial(t, "call_2")
	readOpening(t, conn)

	mustWriteJSON(t, conn, map[string]any{
		"interaction_type": "call_details",
		"call": map[string]any{
			"call_id":     "call_2",
			"direction":   "outbound",
			"from_number": "+15550000000",
			"to_number":   "+15551234567",
		},
	})
	// Frames are handled concurrently, so a turn may race the lookup.
	deadline := time.Now().Add(2 * time.Second)
	for id := 1; ; id++ {
		mustWriteJSON(t, conn, map[string]any{
			"interaction_type": "response_required",
			"response_id":      id,
			"transcript":       []map[string]string{{"role": "user", "content": "Hello?"}},
		})
		readUntilComplete(t, conn, id)
		system := h.generator.lastSystem()
		if strings.Contains(system, "Provider or group name: Acme Clinic") {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("system prompt missing stored fields:\n%s", system)
		}
	}

	conn.Close()
	deadline = time.Now().Add(2 * time.Second)
	for {
		if _, ok := h.store.Retrieve(context.Background(), "+15551234567"); !ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("metadata not deleted after call closed")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestLLMWebsocket_PingPongEcho(t *testing.T) {
	h := newWSHarness(t)
	conn := h.dial(t, "call_3")
	readOpening(t, conn)

	mustWriteJSON(t, conn, map[string]any{"interaction_type": "ping_pong", "timestamp": 1700000000123})
	msg := mustReadJSON(t, conn, 2*time.Second)
	if msg["response_type"] != "ping_pong" || msg["timestamp"] != float64(1700000000123) {
		t.Fatalf("msg=%v", msg)
	}
}

func TestLLMWebsocket_TracksActiveCalls(t *testing.T) {
	h := newWSHarness(t)
	conn := h.dial(t, "call_4")
	readOpening(t, conn)

	if ids := h.calls.CallIDs(); len(ids) != 1 || ids[0] != "call_4" {
		t.Fatalf("call ids=%v", ids)
	}

	conn.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if !h.calls.Wait(ctx) {
		t.Fatalf("session still tracked: %v", h.calls.CallIDs())
	}
}

func TestLLMWebsocket_RejectsBeforeUpgrade(t *testing.T) {
	limiter := ratelimit.New(ratelimit.Config{MaxConcurrentCalls: 1})
	held := limiter.AcquireCall()
	if !held.Allowed {
		t.Fatal("expected first call slot")
	}
	defer held.Permit.Release()

	draining := &lifecycle.Lifecycle{}
	draining.SetDraining(true)

	tests := []struct {
		name    string
		handler LLMWebsocketHandler
		method  string
		path    string
		status  int
		code    string
	}{
		{"wrong method", LLMWebsocketHandler{}, http.MethodPost, "/llm-websocket/call_1", http.StatusMethodNotAllowed, "method_not_allowed"},
		{"missing call id", LLMWebsocketHandler{}, http.MethodGet, "/llm-websocket/", http.StatusBadRequest, ""},
		{"draining", LLMWebsocketHandler{Lifecycle: draining}, http.MethodGet, "/llm-websocket/call_1", http.StatusServiceUnavailable, "draining"},
		{"call limit", LLMWebsocketHandler{Limiter: limiter}, http.MethodGet, "/llm-websocket/call_1", http.StatusServiceUnavailable, "call_limit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			tt.handler.ServeHTTP(rr, httptest.NewRequest(tt.method, tt.path, nil))
			if rr.Code != tt.status {
				t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
			}
			if tt.code == "" {
				return
			}
			var env struct {
				Error struct {
					Code string `json:"code"`
				} `json:"error"`
			}
			if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if env.Error.Code != tt.code {
				t.Fatalf("code=%q, want %q", env.Error.Code, tt.code)
			}
		})
	}
}

func TestCallIDFromRequest(t *testing.T) {
	tests := map[string]string{
		"/llm-websocket/abc":       "abc",
		"/llm-websocket/":          "",
		"/llm-websocket/abc/extra": "",
		"/other/abc":               "",
	}
	for path, want := range tests {
		if got := callIDFromRequest(httptest.NewRequest(http.MethodGet, path, nil)); got != want {
			t.Errorf("callIDFromRequest(%q)=%q, want %q", path, got, want)
		}
	}
}
