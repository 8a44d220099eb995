package upstream

import (
	"context"
	"fmt"
	"net/http"

	"github.com/vango-go/vai-retell/pkg/core/generation"
	"github.com/vango-go/vai-retell/pkg/core/providers/anthropic"
	"github.com/vango-go/vai-retell/pkg/core/providers/gemini"
	"github.com/vango-go/vai-retell/pkg/core/providers/openai"
)

// OpenAI-compatible endpoints served through the openai provider.
var compatibleBaseURLs = map[string]string{
	"groq":       "https://api.groq.com/openai/v1/",
	"cerebras":   "https://api.cerebras.ai/v1/",
	"openrouter": "https://openrouter.ai/api/v1/",
}

// Providers lists every name New accepts.
func Providers() []string {
	return []string{"anthropic", "openai", "gemini", "groq", "cerebras", "openrouter"}
}

type Factory struct {
	HTTPClient *http.Client
}

func (f Factory) New(ctx context.Context, providerName, apiKey string) (generation.Provider, error) {
	client := f.HTTPClient
	if client == nil {
		client = &http.Client{}
	}

	switch providerName {
	case "anthropic":
		return anthropic.New(apiKey, anthropic.WithHTTPClient(client)), nil
	case "openai":
		return openai.New(apiKey, openai.WithHTTPClient(client)), nil
	case "gemini":
		return gemini.New(ctx, apiKey, gemini.WithHTTPClient(client))
	case "groq", "openrouter":
		return &named{
			name:     providerName,
			Provider: openai.New(apiKey, openai.WithHTTPClient(client), openai.WithBaseURL(compatibleBaseURLs[providerName])),
		}, nil
	case "cerebras":
		return &named{
			name: providerName,
			Provider: openai.New(apiKey,
				openai.WithHTTPClient(client),
				openai.WithBaseURL(compatibleBaseURLs[providerName]),
				openai.WithMaxTokensField(openai.MaxTokensFieldMaxTokens),
			),
		}, nil
	default:
		return nil, fmt.Errorf("unknown provider %q", providerName)
	}
}

// named reports an OpenAI-compatible provider under its own name.
type named struct {
	generation.Provider
	name string
}

func (n *named) Name() string { return n.name }
