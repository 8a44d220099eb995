package retellapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
)

func requireTCPListen(t testing.TB) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("skipping test: TCP listen not permitted in this environment: %v", err)
	}
	ln.Close()
}

func TestUpdateAgentLLMWebsocketURL(t *testing.T) {
	requireTCPListen(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch || r.URL.Path != "/v2/agents/agent_123" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer key_test" {
			t.Errorf("Authorization=%q", got)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Agent{AgentID: "agent_123", AgentName: "Credentialing", LLMWebsocketURL: body["llm_websocket_url"]})
	}))
	defer server.Close()

	c := &Client{BaseURL: server.URL, APIKey: "key_test"}
	agent, err := c.UpdateAgentLLMWebsocketURL(context.Background(), "agent_123", "wss://voice.example.com/llm-websocket")
	if err != nil {
		t.Fatalf("UpdateAgentLLMWebsocketURL: %v", err)
	}
	if agent.LLMWebsocketURL != "wss://voice.example.com/llm-websocket" || agent.AgentName != "Credentialing" {
		t.Fatalf("agent=%+v", agent)
	}
}

func TestUpdateAgentLLMWebsocketURL_APIError(t *testing.T) {
	requireTCPListen(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"agent not found"}`))
	}))
	defer server.Close()

	c := &Client{BaseURL: server.URL, APIKey: "key_test"}
	_, err := c.UpdateAgentLLMWebsocketURL(context.Background(), "missing", "wss://voice.example.com/llm-websocket")
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("err=%v, want *Error", err)
	}
	if apiErr.StatusCode != http.StatusNotFound || apiErr.Message != "agent not found" {
		t.Fatalf("apiErr=%+v", apiErr)
	}
}

func TestUpdateAgentLLMWebsocketURL_Validation(t *testing.T) {
	c := &Client{APIKey: "key_test"}
	tests := []struct {
		name, agentID, url string
	}{
		{"missing agent", "", "wss://x.example.com/llm-websocket"},
		{"http scheme", "agent_1", "https://x.example.com/llm-websocket"},
		{"relative", "agent_1", "/llm-websocket"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := c.UpdateAgentLLMWebsocketURL(context.Background(), tt.agentID, tt.url); err == nil {
				t.Fatal("expected error")
			}
		})
	}

	noKey := &Client{}
	if _, err := noKey.UpdateAgentLLMWebsocketURL(context.Background(), "agent_1", "wss://x.example.com/ws"); err == nil {
		t.Fatal("expected missing key error")
	}
}
