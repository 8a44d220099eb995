package generation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/vango-go/vai-retell/pkg/core/types"
)

// Result is one item produced by Generate: either a fragment or a failure.
type Result struct {
	Fragment *types.Fragment
	Err      *Failure
}

// ClientConfig configures a Client.
type ClientConfig struct {
	Provider  Provider
	Model     string
	MaxTokens int

	// Timeout bounds a whole generation. Zero means no bound beyond ctx.
	Timeout time.Duration

	Logger *slog.Logger
}

// Client turns provider streams into response fragments.
type Client struct {
	provider  Provider
	model     string
	maxTokens int
	timeout   time.Duration
	logger    *slog.Logger
}

// NewClient validates cfg and returns a Client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Provider == nil {
		return nil, errors.New("generation: provider is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("generation: model is required")
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		provider:  cfg.Provider,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		timeout:   cfg.Timeout,
		logger:    cfg.Logger,
	}, nil
}

// ProviderName returns the name of the configured provider.
func (c *Client) ProviderName() string { return c.provider.Name() }

// Model returns the configured model identifier.
func (c *Client) Model() string { return c.model }

// Generate streams fragments for responseID. The channel yields one
// non-final fragment per non-empty text delta followed by exactly one
// terminal fragment, or a single failure in place of the terminal fragment.
// The channel is closed when generation ends; callers must drain it or cancel
// ctx.
func (c *Client) Generate(ctx context.Context, responseID int64, system string, messages []types.Message) <-chan Result {
	out := make(chan Result, 8)
	go func() {
		defer close(out)
		c.run(ctx, responseID, system, messages, out)
	}()
	return out
}

func (c *Client) run(ctx context.Context, responseID int64, system string, messages []types.Message, out chan<- Result) {
	// genCtx bounds the upstream call; results are delivered under ctx so a
	// timeout still reports its failure.
	genCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		genCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	name := c.provider.Name()
	logger := c.logger.With("provider", name, "model", c.model, "response_id", responseID)

	stream, err := c.provider.StreamText(genCtx, Request{
		Model:     c.model,
		System:    system,
		Messages:  messages,
		MaxTokens: c.maxTokens,
	})
	if err != nil {
		f := newFailure(ctx, FailureRequest, name, fmt.Errorf("start stream: %w", err))
		logger.Warn("generation request failed", "kind", f.Kind, "error", err)
		send(ctx, out, Result{Err: f})
		return
	}
	defer stream.Close()

	deltas := 0
	for {
		text, err := stream.Next()
		if text != "" {
			deltas++
			frag := &types.Fragment{ResponseID: responseID, Content: text}
			if !send(ctx, out, Result{Fragment: frag}) {
				logger.Debug("generation abandoned", "deltas", deltas)
				return
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			f := newFailure(ctx, FailureStream, name, err)
			logger.Warn("generation stream failed", "kind", f.Kind, "deltas", deltas, "error", err)
			send(ctx, out, Result{Err: f})
			return
		}
	}

	send(ctx, out, Result{Fragment: &types.Fragment{ResponseID: responseID, ContentComplete: true}})
	logger.Debug("generation complete", "deltas", deltas, "duration_ms", time.Since(start).Milliseconds())
}

func send(ctx context.Context, out chan<- Result, r Result) bool {
	select {
	case out <- r:
		return true
	case <-ctx.Done():
		return false
	}
}
