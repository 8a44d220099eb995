package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/vango-go/vai-retell/pkg/gateway/config"
	"github.com/vango-go/vai-retell/pkg/gateway/lifecycle"
	"github.com/vango-go/vai-retell/pkg/gateway/retell/sessions"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// ReadyHandler reports whether the process can take new calls.
type ReadyHandler struct {
	Config    config.Config
	Metadata  interface{ Backend() string }
	Lifecycle *lifecycle.Lifecycle
	Calls     *sessions.Tracker
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK              bool     `json:"ok"`
		Provider        string   `json:"provider"`
		Model           string   `json:"model"`
		MetadataBackend string   `json:"metadata_backend"`
		ActiveCalls     int      `json:"active_calls"`
		Draining        bool     `json:"draining"`
		DrainingSince   string   `json:"draining_since,omitempty"`
		Issues          []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 4)
	if strings.TrimSpace(h.Config.Provider) == "" || strings.TrimSpace(h.Config.Model) == "" {
		issues = append(issues, "generation provider not configured")
	} else if strings.TrimSpace(h.Config.APIKey()) == "" {
		issues = append(issues, "missing api key for provider "+h.Config.Provider)
	}
	backend := ""
	if h.Metadata != nil {
		backend = h.Metadata.Backend()
	}
	if backend == "" {
		issues = append(issues, "metadata store not configured")
	}
	since, draining := h.Lifecycle.DrainingSince()
	drainingSince := ""
	if draining {
		issues = append(issues, "draining")
		drainingSince = since.UTC().Format(time.RFC3339)
	}

	ok := len(issues) == 0
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, readyResp{
		OK:              ok,
		Provider:        h.Config.Provider,
		Model:           h.Config.Model,
		MetadataBackend: backend,
		ActiveCalls:     h.Calls.Count(),
		Draining:        draining,
		DrainingSince:   drainingSince,
		Issues:          issues,
	})
}
