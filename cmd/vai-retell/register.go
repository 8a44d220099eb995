package main

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/vango-go/vai-retell/pkg/retellapi"
)

func newRegisterAgentCmd(deps cliDeps) *cobra.Command {
	var (
		agentID string
		wsURL   string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "register-agent",
		Short: "Point a voice agent at this server's websocket",
		Long:  "Update the agent's llm_websocket_url. The platform appends /{call_id}\nto this URL for every call, so pass the base path ending in /llm-websocket.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := deps.loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if agentID == "" {
				agentID = cfg.DefaultAgentID
			}
			if wsURL == "" {
				wsURL = cfg.PublicWebsocketURL
			}
			if agentID == "" {
				return errors.New("register-agent: --agent-id or RETELL_AGENT_ID is required")
			}
			if wsURL == "" {
				return errors.New("register-agent: --websocket-url or VAI_RETELL_PUBLIC_WS_URL is required")
			}
			wsURL = strings.TrimRight(wsURL, "/")

			client := &retellapi.Client{
				BaseURL:    cfg.RetellBaseURL,
				APIKey:     cfg.RetellAPIKey,
				HTTPClient: &http.Client{Timeout: timeout},
			}
			agent, err := client.UpdateAgentLLMWebsocketURL(cmd.Context(), agentID, wsURL)
			if err != nil {
				return fmt.Errorf("register-agent: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Agent %s now uses %s\n", agent.AgentID, agent.LLMWebsocketURL)
			return nil
		},
	}
	cmd.Flags().StringVar(&agentID, "agent-id", "", "agent to update (default $RETELL_AGENT_ID)")
	cmd.Flags().StringVar(&wsURL, "websocket-url", "", "public ws(s):// base URL (default $VAI_RETELL_PUBLIC_WS_URL)")
	cmd.Flags().DurationVar(&timeout, "timeout", 15*time.Second, "API request timeout")
	return cmd
}
