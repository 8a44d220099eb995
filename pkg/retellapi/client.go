// Package retellapi is a minimal client for the voice platform's REST API,
// covering what this server needs to point an agent at its websocket.
package retellapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const DefaultBaseURL = "https://api.retellai.com"

// Client talks to the agents API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// Agent is the subset of the agent resource this server reads.
type Agent struct {
	AgentID         string `json:"agent_id"`
	AgentName       string `json:"agent_name,omitempty"`
	LLMWebsocketURL string `json:"llm_websocket_url,omitempty"`
}

// Error is a non-2xx API response.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("retellapi: status %d: %s", e.StatusCode, e.Message)
}

// UpdateAgentLLMWebsocketURL points agentID at wsURL.
func (c *Client) UpdateAgentLLMWebsocketURL(ctx context.Context, agentID, wsURL string) (*Agent, error) {
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return nil, fmt.Errorf("retellapi: agent id is required")
	}
	u, err := url.Parse(strings.TrimSpace(wsURL))
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return nil, fmt.Errorf("retellapi: websocket url must be an absolute ws:// or wss:// url, got %q", wsURL)
	}
	if strings.TrimSpace(c.APIKey) == "" {
		return nil, fmt.Errorf("retellapi: api key is required")
	}

	body, err := json.Marshal(map[string]string{"llm_websocket_url": wsURL})
	if err != nil {
		return nil, err
	}
	endpoint := strings.TrimRight(c.baseURL(), "/") + "/v2/agents/" + url.PathEscape(agentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("retellapi: update agent: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("retellapi: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{StatusCode: resp.StatusCode, Message: errorMessage(data)}
	}

	var agent Agent
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &agent); err != nil {
			return nil, fmt.Errorf("retellapi: decode agent: %w", err)
		}
	}
	if agent.AgentID == "" {
		agent.AgentID = agentID
	}
	return &agent, nil
}

func (c *Client) baseURL() string {
	if strings.TrimSpace(c.BaseURL) == "" {
		return DefaultBaseURL
	}
	return c.BaseURL
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func errorMessage(data []byte) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	msg := strings.TrimSpace(string(data))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
