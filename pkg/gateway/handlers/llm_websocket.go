package handlers

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-retell/pkg/core/prompt"
	"github.com/vango-go/vai-retell/pkg/gateway/apierror"
	"github.com/vango-go/vai-retell/pkg/gateway/config"
	"github.com/vango-go/vai-retell/pkg/gateway/lifecycle"
	"github.com/vango-go/vai-retell/pkg/gateway/principal"
	"github.com/vango-go/vai-retell/pkg/gateway/ratelimit"
	"github.com/vango-go/vai-retell/pkg/gateway/retell/session"
	"github.com/vango-go/vai-retell/pkg/gateway/retell/sessions"
)

const llmWebsocketPrefix = "/llm-websocket/"

// LLMWebsocketHandler serves /llm-websocket/{call_id}: one custom LLM
// session per call.
type LLMWebsocketHandler struct {
	Config    config.Config
	Generator session.Generator
	Prompt    *prompt.Template
	Metadata  session.MetadataStore
	Logger    *slog.Logger
	Limiter   *ratelimit.Limiter
	Lifecycle *lifecycle.Lifecycle
	Calls     *sessions.Tracker
}

func (h LLMWebsocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID := requestIDFromContext(r.Context())
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if h.Lifecycle.IsDraining() {
		writeAPIErrorJSON(w, reqID, &apierror.Error{Type: apierror.ErrOverloaded, Message: "server is draining", Code: "draining"}, http.StatusServiceUnavailable)
		return
	}

	callID := callIDFromRequest(r)
	if callID == "" {
		writeAPIErrorJSON(w, reqID, apierror.NewInvalidRequestError("call_id is required", "call_id"), http.StatusBadRequest)
		return
	}

	if h.Limiter != nil {
		dec := h.Limiter.AcquireCall()
		if !dec.Allowed {
			writeAPIErrorJSON(w, reqID, &apierror.Error{Type: apierror.ErrOverloaded, Message: "too many active calls", Code: "call_limit"}, http.StatusServiceUnavailable)
			return
		}
		defer dec.Permit.Release()
	}

	upgrader := websocket.Upgrader{
		// The voice platform connects server to server; there is no browser origin.
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("remote_ip", principal.ClientIP(r, h.Config.TrustProxyHeaders))
	tmpl := h.Prompt
	if tmpl == nil {
		tmpl = prompt.Default()
	}

	s, err := session.New(session.Dependencies{
		Conn:      conn,
		Logger:    logger,
		Generator: h.Generator,
		Prompt:    tmpl,
		Metadata:  h.Metadata,
		CallID:    callID,
		RequestID: reqID,
		Config: session.Config{
			MaxMessageBytes:   h.Config.WSMaxMessageBytes,
			PingInterval:      h.Config.WSPingInterval,
			WriteTimeout:      h.Config.WSWriteTimeout,
			ReadTimeout:       h.Config.WSReadTimeout,
			OutboundQueueSize: 128,
			FieldsSource:      session.FieldsSource(h.Config.FieldsSource),
			CancelSuperseded:  h.Config.CancelSuperseded,
		},
	})
	if err != nil {
		logger.Error("call session init failed", "call_id", callID, "request_id", reqID, "error", err)
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "session init failed"), time.Now().Add(2*time.Second))
		return
	}

	unregister := h.Calls.Register(callID, sessions.Handle{Cancel: s.Cancel})
	defer unregister()

	if err := s.Run(); err != nil {
		logger.Warn("call session ended with error", "call_id", callID, "request_id", reqID, "error", err)
	}
}

func callIDFromRequest(r *http.Request) string {
	if id := strings.TrimSpace(r.PathValue("call_id")); id != "" {
		return id
	}
	rest, ok := strings.CutPrefix(r.URL.Path, llmWebsocketPrefix)
	if !ok || strings.Contains(rest, "/") {
		return ""
	}
	return strings.TrimSpace(rest)
}
