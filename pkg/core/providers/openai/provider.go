// Package openai implements text streaming over the OpenAI Chat Completions
// API using the official SDK.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/packages/ssestream"

	"github.com/vango-go/vai-retell/pkg/core/generation"
	"github.com/vango-go/vai-retell/pkg/core/types"
)

// Provider implements generation.Provider for OpenAI.
type Provider struct {
	client         openai.Client
	reqOpts        []option.RequestOption
	maxTokensField MaxTokensField
}

var _ generation.Provider = (*Provider)(nil)

// New creates a new OpenAI provider.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{maxTokensField: MaxTokensFieldMaxCompletionTokens}
	for _, opt := range opts {
		opt(p)
	}
	reqOpts := append([]option.RequestOption{option.WithAPIKey(apiKey)}, p.reqOpts...)
	p.client = openai.NewClient(reqOpts...)
	return p
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return "openai"
}

// StreamText starts a streaming chat completion.
func (p *Provider) StreamText(ctx context.Context, req generation.Request) (generation.TextStream, error) {
	stream := p.client.Chat.Completions.NewStreaming(ctx, p.buildParams(req))
	if err := stream.Err(); err != nil {
		_ = stream.Close()
		return nil, wrapError(err)
	}
	return &textStream{stream: stream}, nil
}

func (p *Provider) buildParams(req generation.Request) openai.ChatCompletionNewParams {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, openai.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		if m.Role == types.RoleAssistant {
			msgs = append(msgs, openai.AssistantMessage(m.Content))
			continue
		}
		msgs = append(msgs, openai.UserMessage(m.Content))
	}

	params := openai.ChatCompletionNewParams{
		Model:    stripProviderPrefix(req.Model),
		Messages: msgs,
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = generation.DefaultMaxTokens
	}
	if p.maxTokensField == MaxTokensFieldMaxTokens {
		params.MaxTokens = param.NewOpt(int64(maxTokens))
	} else {
		params.MaxCompletionTokens = param.NewOpt(int64(maxTokens))
	}
	return params
}

// textStream adapts an SDK chunk stream to generation.TextStream.
type textStream struct {
	stream *ssestream.Stream[openai.ChatCompletionChunk]
}

func (s *textStream) Next() (string, error) {
	for s.stream.Next() {
		chunk := s.stream.Current()
		for _, choice := range chunk.Choices {
			if choice.Index != 0 {
				continue
			}
			if text := choice.Delta.Content; text != "" {
				return text, nil
			}
		}
	}
	if err := s.stream.Err(); err != nil {
		return "", wrapError(err)
	}
	return "", io.EOF
}

func (s *textStream) Close() error {
	return s.stream.Close()
}

// Error is an upstream API failure.
type Error struct {
	StatusCode int
	Message    string
	cause      error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("openai: status %d: %s", e.StatusCode, e.Message)
	}
	return "openai: " + e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// IsRetryable returns true for rate limits and server-side failures.
func (e *Error) IsRetryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

func wrapError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if msg == "" {
			msg = apiErr.Error()
		}
		return &Error{StatusCode: apiErr.StatusCode, Message: msg, cause: err}
	}
	return err
}

// stripProviderPrefix removes a "provider/" prefix from a model name.
func stripProviderPrefix(model string) string {
	if idx := strings.Index(model, "/"); idx >= 0 {
		return model[idx+1:]
	}
	return model
}
