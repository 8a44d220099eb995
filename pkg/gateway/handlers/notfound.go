package handlers

import (
	"net/http"

	"github.com/vango-go/vai-retell/pkg/gateway/apierror"
)

type NotFoundHandler struct{}

func (h NotFoundHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeAPIErrorJSON(w, requestIDFromContext(r.Context()), apierror.NewNotFoundError("not found"), http.StatusNotFound)
}
