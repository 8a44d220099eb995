// Package gemini implements text streaming over the Gemini API using the
// Google Gen AI SDK.
package gemini

import (
	"context"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/vango-go/vai-retell/pkg/core/generation"
	"github.com/vango-go/vai-retell/pkg/core/types"
)

// Option configures a Provider.
type Option func(*genai.ClientConfig)

// WithBaseURL overrides the API endpoint.
func WithBaseURL(url string) Option {
	return func(cfg *genai.ClientConfig) {
		if url != "" {
			cfg.HTTPOptions.BaseURL = url
		}
	}
}

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(client *http.Client) Option {
	return func(cfg *genai.ClientConfig) {
		if client != nil {
			cfg.HTTPClient = client
		}
	}
}

// Provider implements generation.Provider for Gemini.
type Provider struct {
	client *genai.Client
}

var _ generation.Provider = (*Provider)(nil)

// New creates a Gemini provider backed by the Gemini Developer API.
func New(ctx context.Context, apiKey string, opts ...Option) (*Provider, error) {
	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("genai client: %w", err)
	}
	return &Provider{client: client}, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return "gemini"
}

// StreamText starts a streaming generation.
func (p *Provider) StreamText(ctx context.Context, req generation.Request) (generation.TextStream, error) {
	contents, cfg := buildRequest(req)
	seq := p.client.Models.GenerateContentStream(ctx, stripProviderPrefix(req.Model), contents, cfg)

	next, stop := iter.Pull2(seq)
	s := &textStream{next: next, stop: stop}

	// Surface request failures (auth, bad model) before the first delta.
	text, err := s.pull()
	if err != nil && err != io.EOF {
		stop()
		return nil, err
	}
	s.pending = text
	s.pendingErr = err
	return s, nil
}

func buildRequest(req generation.Request) ([]*genai.Content, *genai.GenerateContentConfig) {
	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		role := genai.Role(genai.RoleUser)
		if m.Role == types.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}
	if len(contents) == 0 {
		contents = append(contents, genai.NewContentFromText("(call connected)", genai.RoleUser))
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = generation.DefaultMaxTokens
	}
	cfg := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(maxTokens),
	}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	return contents, cfg
}

// textStream turns the SDK's push iterator into a pull-based TextStream.
type textStream struct {
	next func() (*genai.GenerateContentResponse, error, bool)
	stop func()

	pending    string
	pendingErr error
	primed     bool
}

func (s *textStream) Next() (string, error) {
	if !s.primed {
		s.primed = true
		if s.pending != "" || s.pendingErr != nil {
			return s.pending, s.pendingErr
		}
	}
	return s.pull()
}

func (s *textStream) pull() (string, error) {
	for {
		resp, err, ok := s.next()
		if !ok {
			return "", io.EOF
		}
		if err != nil {
			return "", fmt.Errorf("gemini: %w", err)
		}
		if text := responseText(resp); text != "" {
			return text, nil
		}
	}
}

func (s *textStream) Close() error {
	s.stop()
	return nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	c := resp.Candidates[0]
	if c == nil || c.Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range c.Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		b.WriteString(part.Text)
	}
	return b.String()
}

// stripProviderPrefix removes a "provider/" prefix from a model name.
func stripProviderPrefix(model string) string {
	if idx := strings.Index(model, "/"); idx >= 0 {
		return model[idx+1:]
	}
	return model
}
