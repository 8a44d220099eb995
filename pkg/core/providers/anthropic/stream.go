package anthropic

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// eventStream extracts text deltas from an Anthropic SSE response.
type eventStream struct {
	reader *bufio.Reader
	closer io.Closer
	done   bool
	err    error
}

// newEventStream creates a new event stream from an HTTP response body.
func newEventStream(body io.ReadCloser) *eventStream {
	return &eventStream{
		reader: bufio.NewReader(body),
		closer: body,
	}
}

type streamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Next returns the next text delta.
// Returns "", io.EOF when the stream is complete.
func (s *eventStream) Next() (string, error) {
	if s.err != nil {
		return "", s.err
	}
	if s.done {
		return "", io.EOF
	}

	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				// The body ended without message_stop.
				s.err = io.ErrUnexpectedEOF
				return "", s.err
			}
			s.err = err
			return "", err
		}

		line = strings.TrimSpace(line)

		// Event names are repeated in the data payload's "type" field.
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}

		var ev streamEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			continue // Skip unparseable events
		}

		switch ev.Type {
		case "content_block_delta":
			if ev.Delta.Type == "text_delta" && ev.Delta.Text != "" {
				return ev.Delta.Text, nil
			}
		case "message_stop":
			s.done = true
			return "", io.EOF
		case "error":
			e := &Error{Type: ErrProvider, Message: "stream error"}
			if ev.Error != nil {
				e.Type = mapErrorType(ev.Error.Type)
				e.Message = ev.Error.Message
			}
			s.err = fmt.Errorf("stream: %w", e)
			return "", s.err
		}
	}
}

// Close releases resources associated with the stream.
func (s *eventStream) Close() error {
	return s.closer.Close()
}
