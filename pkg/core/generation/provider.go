// Package generation streams model output for one conversational trigger.
package generation

import (
	"context"
	"fmt"
	"strings"

	"github.com/vango-go/vai-retell/pkg/core/types"
)

// DefaultMaxTokens keeps spoken replies short.
const DefaultMaxTokens = 150

// Request is a single text generation request.
type Request struct {
	Model     string
	System    string
	Messages  []types.Message
	MaxTokens int
}

// Provider is the interface every model backend implements.
type Provider interface {
	// Name returns the provider identifier (e.g., "anthropic", "openai").
	Name() string

	// StreamText starts a streaming completion. Errors returned here mean the
	// request never started.
	StreamText(ctx context.Context, req Request) (TextStream, error)
}

// TextStream is an iterator over incremental text.
type TextStream interface {
	// Next returns the next text delta. Returns "", io.EOF when done.
	Next() (string, error)

	// Close releases resources.
	Close() error
}

// ParseModelString parses a model string in the format "provider/model-name".
func ParseModelString(model string) (provider string, modelName string, err error) {
	parts := strings.SplitN(strings.TrimSpace(model), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid model format: %q, expected 'provider/model-name'", model)
	}
	return parts[0], parts[1], nil
}
