package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/vango-go/vai-retell/pkg/core/types"
	"github.com/vango-go/vai-retell/pkg/gateway/apierror"
	"github.com/vango-go/vai-retell/pkg/metadata"
)

// MetadataStore is the subset of *metadata.Safe the ingestion API needs.
type MetadataStore interface {
	Store(ctx context.Context, phone string, fields types.CallFields) bool
	Retrieve(ctx context.Context, phone string) (types.CallFields, bool)
	Delete(ctx context.Context, phone string) bool
	Backend() string
}

// MetadataHandler lets the dialer stage provider fields ahead of a call.
//
//	POST   /metadata           store fields for phone_number
//	GET    /metadata/{phone}   read them back
//	DELETE /metadata/{phone}   forget them
type MetadataHandler struct {
	Store  MetadataStore
	Logger *slog.Logger
}

type metadataRequest struct {
	PhoneNumber string `json:"phone_number"`
	types.CallFields
}

type metadataStoredResponse struct {
	Status       string `json:"status"`
	PhoneNumber  string `json:"phone_number"`
	FieldsStored int    `json:"fields_stored"`
}

type metadataResponse struct {
	PhoneNumber string           `json:"phone_number"`
	Fields      types.CallFields `json:"fields"`
	Backend     string           `json:"backend"`
}

func (h MetadataHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	phone := strings.TrimSpace(r.PathValue("phone"))
	if phone == "" {
		if rest, ok := strings.CutPrefix(r.URL.Path, "/metadata/"); ok {
			phone = strings.TrimSpace(rest)
		}
	}

	switch {
	case phone == "" && r.Method == http.MethodPost:
		h.store(w, r)
	case phone == "":
		methodNotAllowed(w, r, http.MethodPost)
	case r.Method == http.MethodGet:
		h.get(w, r, phone)
	case r.Method == http.MethodDelete:
		h.delete(w, r, phone)
	default:
		methodNotAllowed(w, r, "GET, DELETE")
	}
}

func (h MetadataHandler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

func (h MetadataHandler) store(w http.ResponseWriter, r *http.Request) {
	reqID := requestIDFromContext(r.Context())

	var req metadataRequest
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeAPIErrorJSON(w, reqID, apierror.NewInvalidRequestError("request body too large", ""), http.StatusRequestEntityTooLarge)
			return
		}
		if errors.Is(err, io.EOF) {
			writeAPIErrorJSON(w, reqID, apierror.NewInvalidRequestError("request body is required", ""), http.StatusBadRequest)
			return
		}
		writeAPIErrorJSON(w, reqID, apierror.NewInvalidRequestError("invalid JSON body", ""), http.StatusBadRequest)
		return
	}

	phone := strings.TrimSpace(req.PhoneNumber)
	if phone == "" {
		writeAPIErrorJSON(w, reqID, apierror.NewInvalidRequestError("phone_number is required", "phone_number"), http.StatusBadRequest)
		return
	}
	if _, err := metadata.StorageKey(phone); err != nil {
		writeErrorFrom(w, r, err)
		return
	}

	if !h.Store.Store(r.Context(), phone, req.CallFields) {
		writeAPIErrorJSON(w, reqID, &apierror.Error{Type: apierror.ErrAPI, Message: "failed to store metadata"}, http.StatusInternalServerError)
		return
	}

	h.logger().Info("metadata stored",
		"request_id", reqID,
		"phone", metadata.NormalizeKey(phone),
		"fields", req.CallFields.Count(),
		"backend", h.Store.Backend(),
	)
	writeJSON(w, http.StatusOK, metadataStoredResponse{
		Status:       "stored",
		PhoneNumber:  phone,
		FieldsStored: req.CallFields.Count(),
	})
}

func (h MetadataHandler) get(w http.ResponseWriter, r *http.Request, phone string) {
	if _, err := metadata.StorageKey(phone); err != nil {
		writeErrorFrom(w, r, err)
		return
	}
	fields, ok := h.Store.Retrieve(r.Context(), phone)
	if !ok {
		writeAPIErrorJSON(w, requestIDFromContext(r.Context()), apierror.NewNotFoundError("no metadata for "+phone), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, metadataResponse{
		PhoneNumber: phone,
		Fields:      fields,
		Backend:     h.Store.Backend(),
	})
}

func (h MetadataHandler) delete(w http.ResponseWriter, r *http.Request, phone string) {
	if _, err := metadata.StorageKey(phone); err != nil {
		writeErrorFrom(w, r, err)
		return
	}
	if !h.Store.Delete(r.Context(), phone) {
		writeAPIErrorJSON(w, requestIDFromContext(r.Context()), &apierror.Error{Type: apierror.ErrAPI, Message: "failed to delete metadata"}, http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
