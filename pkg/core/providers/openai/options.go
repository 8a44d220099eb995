package openai

import (
	"net/http"

	"github.com/openai/openai-go/option"
)

// Option configures the OpenAI provider.
type Option func(*Provider)

// WithBaseURL sets a custom base URL (for testing or proxying to a
// compatible server).
func WithBaseURL(url string) Option {
	return func(p *Provider) {
		if url != "" {
			p.reqOpts = append(p.reqOpts, option.WithBaseURL(url))
		}
	}
}

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Provider) {
		if client != nil {
			p.reqOpts = append(p.reqOpts, option.WithHTTPClient(client))
		}
	}
}

// WithMaxRetries sets how often the SDK retries retryable failures before
// the stream starts.
func WithMaxRetries(n int) Option {
	return func(p *Provider) {
		p.reqOpts = append(p.reqOpts, option.WithMaxRetries(n))
	}
}

// WithMaxTokensField chooses between "max_completion_tokens" (the default)
// and the legacy "max_tokens" field that some compatible servers require.
func WithMaxTokensField(field MaxTokensField) Option {
	return func(p *Provider) {
		if field != "" {
			p.maxTokensField = field
		}
	}
}

// MaxTokensField controls which max tokens field is sent for chat completions.
type MaxTokensField string

const (
	// MaxTokensFieldMaxTokens uses "max_tokens".
	MaxTokensFieldMaxTokens MaxTokensField = "max_tokens"
	// MaxTokensFieldMaxCompletionTokens uses "max_completion_tokens".
	MaxTokensFieldMaxCompletionTokens MaxTokensField = "max_completion_tokens"
)
