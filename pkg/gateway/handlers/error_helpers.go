package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/vango-go/vai-retell/pkg/gateway/apierror"
	"github.com/vango-go/vai-retell/pkg/gateway/mw"
)

func writeAPIErrorJSON(w http.ResponseWriter, reqID string, apiErr *apierror.Error, status int) {
	if apiErr != nil && apiErr.RequestID == "" {
		apiErr.RequestID = reqID
	}
	writeJSON(w, status, apierror.Envelope{Error: apiErr})
}

func writeErrorFrom(w http.ResponseWriter, r *http.Request, err error) {
	apiErr, status := apierror.FromError(err, requestIDFromContext(r.Context()))
	writeJSON(w, status, apierror.Envelope{Error: apiErr})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed string) {
	w.Header().Set("Allow", allowed)
	writeAPIErrorJSON(w, requestIDFromContext(r.Context()), &apierror.Error{
		Type:    apierror.ErrInvalidRequest,
		Message: "method not allowed",
		Code:    "method_not_allowed",
	}, http.StatusMethodNotAllowed)
}

func requestIDFromContext(ctx context.Context) string {
	if id, ok := mw.RequestIDFrom(ctx); ok {
		return id
	}
	return ""
}
