package anthropic

import (
	"strings"

	"github.com/vango-go/vai-retell/pkg/core/generation"
	"github.com/vango-go/vai-retell/pkg/core/types"
)

// anthropicRequest is the Anthropic API request format.
type anthropicRequest struct {
	Model     string        `json:"model"`
	Messages  []messageJSON `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
	System    string        `json:"system,omitempty"`
	Stream    bool          `json:"stream,omitempty"`
}

type messageJSON struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func buildRequest(req generation.Request) *anthropicRequest {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = generation.DefaultMaxTokens
	}
	return &anthropicRequest{
		Model:     stripProviderPrefix(req.Model),
		Messages:  convertMessages(req.Messages),
		MaxTokens: maxTokens,
		System:    req.System,
	}
}

// convertMessages merges consecutive same-role turns and drops empty ones;
// the Messages API requires alternating roles starting with user.
func convertMessages(msgs []types.Message) []messageJSON {
	out := make([]messageJSON, 0, len(msgs))
	for _, m := range msgs {
		content := strings.TrimSpace(m.Content)
		if content == "" {
			continue
		}
		role := types.RoleUser
		if m.Role == types.RoleAssistant {
			role = types.RoleAssistant
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content += "\n" + content
			continue
		}
		if len(out) == 0 && role == types.RoleAssistant {
			out = append(out, messageJSON{Role: types.RoleUser, Content: "(call connected)"})
		}
		out = append(out, messageJSON{Role: role, Content: content})
	}
	if len(out) == 0 {
		out = append(out, messageJSON{Role: types.RoleUser, Content: "(call connected)"})
	}
	return out
}

// stripProviderPrefix removes a "provider/" prefix from a model name.
func stripProviderPrefix(model string) string {
	if idx := strings.Index(model, "/"); idx >= 0 {
		return model[idx+1:]
	}
	return model
}
