package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vango-go/vai-retell/pkg/gateway/apierror"
	"github.com/vango-go/vai-retell/pkg/gateway/principal"
	"github.com/vango-go/vai-retell/pkg/gateway/retell/protocol"
)

const (
	SignatureHeader = "X-Retell-Signature"

	EventCallStarted  = "call_started"
	EventCallEnded    = "call_ended"
	EventCallAnalyzed = "call_analyzed"
)

// signatureTolerance bounds the age of a timestamped signature.
const signatureTolerance = 5 * time.Minute

var errBadSignature = errors.New("invalid webhook signature")

// MetadataDeleter removes a call's cached fields by phone number.
type MetadataDeleter interface {
	Delete(ctx context.Context, phone string) bool
}

// WebhookHandler receives call lifecycle notifications.
type WebhookHandler struct {
	Metadata          MetadataDeleter
	// Secret enables signature verification when non-empty.
	Secret            string
	TrustProxyHeaders bool
	Logger            *slog.Logger
	Now               func() time.Time
}

type webhookEvent struct {
	Event string        `json:"event"`
	Call  protocol.Call `json:"call"`
}

func (h WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID := requestIDFromContext(r.Context())
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeAPIErrorJSON(w, reqID, apierror.NewInvalidRequestError("failed to read body", ""), http.StatusBadRequest)
		return
	}

	if h.Secret != "" {
		if err := h.verify(body, r.Header.Get(SignatureHeader)); err != nil {
			logger.Warn("webhook rejected", "request_id", reqID, "error", err)
			writeAPIErrorJSON(w, reqID, &apierror.Error{Type: apierror.ErrAuthentication, Message: err.Error(), Param: SignatureHeader}, http.StatusUnauthorized)
			return
		}
	}

	var evt webhookEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		writeAPIErrorJSON(w, reqID, apierror.NewInvalidRequestError("invalid JSON body", ""), http.StatusBadRequest)
		return
	}

	log := logger.With("event", evt.Event, "call_id", evt.Call.CallID, "request_id", reqID, "remote_ip", principal.ClientIP(r, h.TrustProxyHeaders))
	switch evt.Event {
	case EventCallStarted:
		log.Info("call started", "direction", evt.Call.Direction)
	case EventCallEnded:
		phone := evt.Call.PhoneKey()
		if phone == "" || h.Metadata == nil {
			log.Info("call ended")
			break
		}
		if !h.Metadata.Delete(r.Context(), phone) {
			log.Error("call ended, metadata eviction failed")
			// A 5xx makes the platform redeliver the event.
			writeAPIErrorJSON(w, reqID, &apierror.Error{Type: apierror.ErrAPI, Message: "failed to evict call metadata"}, http.StatusInternalServerError)
			return
		}
		log.Info("call ended", "metadata_deleted", true)
	case EventCallAnalyzed:
		log.Info("call analyzed")
	default:
		log.Debug("ignoring webhook event")
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// verify accepts either a bare hex HMAC-SHA256 of the body, or the
// timestamped form "v=<unix_ms>,d=<hex HMAC-SHA256 of body+timestamp>".
func (h WebhookHandler) verify(body []byte, header string) error {
	header = strings.TrimSpace(header)
	if header == "" {
		return errBadSignature
	}

	if !strings.Contains(header, "d=") {
		return compareMAC(sign(h.Secret, body), header)
	}

	var ts, digest string
	for _, part := range strings.Split(header, ",") {
		k, v, _ := strings.Cut(strings.TrimSpace(part), "=")
		switch k {
		case "v":
			ts = v
		case "d":
			digest = v
		}
	}
	ms, err := strconv.ParseInt(ts, 10, 64)
	if err != nil || digest == "" {
		return errBadSignature
	}
	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	age := now().Sub(time.UnixMilli(ms))
	if age > signatureTolerance || age < -signatureTolerance {
		return errBadSignature
	}
	return compareMAC(sign(h.Secret, append(append([]byte{}, body...), ts...)), digest)
}

func sign(secret string, data []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}

func compareMAC(expected, got string) error {
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(got)))) {
		return errBadSignature
	}
	return nil
}
