package anthropic

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// ErrorType mirrors the "type" field of Anthropic error bodies.
type ErrorType string

const (
	ErrInvalidRequest ErrorType = "invalid_request_error"
	ErrAuthentication ErrorType = "authentication_error"
	ErrPermission     ErrorType = "permission_error"
	ErrNotFound       ErrorType = "not_found_error"
	ErrRateLimit      ErrorType = "rate_limit_error"
	ErrAPI            ErrorType = "api_error"
	ErrOverloaded     ErrorType = "overloaded_error"
	ErrProvider       ErrorType = "provider_error"
)

// maxErrorBody caps how much of an error response is read.
const maxErrorBody = 64 << 10

// Error is returned for failed requests and for error events mid-stream.
// StatusCode is zero for the latter.
type Error struct {
	Type       ErrorType
	Message    string
	StatusCode int
	// RetryAfter is the server's hint in seconds, zero when absent.
	RetryAfter int
}

func (e *Error) Error() string {
	return fmt.Sprintf("anthropic: %s: %s", e.Type, e.Message)
}

// IsRetryable reports whether the same request may succeed later.
func (e *Error) IsRetryable() bool {
	switch e.Type {
	case ErrRateLimit, ErrOverloaded, ErrAPI:
		return true
	}
	return false
}

type errorBody struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func errorFromResponse(resp *http.Response) *Error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	e := &Error{StatusCode: resp.StatusCode}
	if v, err := strconv.Atoi(strings.TrimSpace(resp.Header.Get("Retry-After"))); err == nil && v > 0 {
		e.RetryAfter = v
	}

	var body errorBody
	if json.Unmarshal(raw, &body) == nil && body.Error.Type != "" {
		e.Type = mapErrorType(body.Error.Type)
		e.Message = body.Error.Message
		return e
	}

	e.Type = typeFromStatus(resp.StatusCode)
	e.Message = strings.TrimSpace(string(raw))
	if e.Message == "" {
		e.Message = http.StatusText(resp.StatusCode)
	}
	return e
}

func typeFromStatus(code int) ErrorType {
	switch {
	case code == http.StatusBadRequest:
		return ErrInvalidRequest
	case code == http.StatusUnauthorized:
		return ErrAuthentication
	case code == http.StatusForbidden:
		return ErrPermission
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusTooManyRequests:
		return ErrRateLimit
	case code == 529:
		return ErrOverloaded
	case code >= http.StatusInternalServerError:
		return ErrAPI
	}
	return ErrProvider
}

func mapErrorType(t string) ErrorType {
	switch ErrorType(t) {
	case ErrInvalidRequest, ErrAuthentication, ErrPermission, ErrNotFound,
		ErrRateLimit, ErrAPI, ErrOverloaded:
		return ErrorType(t)
	}
	return ErrProvider
}
