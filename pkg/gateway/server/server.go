package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/vango-go/vai-retell/pkg/core/generation"
	"github.com/vango-go/vai-retell/pkg/core/prompt"
	"github.com/vango-go/vai-retell/pkg/gateway/config"
	"github.com/vango-go/vai-retell/pkg/gateway/handlers"
	"github.com/vango-go/vai-retell/pkg/gateway/lifecycle"
	"github.com/vango-go/vai-retell/pkg/gateway/mw"
	"github.com/vango-go/vai-retell/pkg/gateway/ratelimit"
	"github.com/vango-go/vai-retell/pkg/gateway/retell/session"
	"github.com/vango-go/vai-retell/pkg/gateway/retell/sessions"
	"github.com/vango-go/vai-retell/pkg/gateway/upstream"
	"github.com/vango-go/vai-retell/pkg/metadata"
)

// metadataOpenTimeout bounds the initial backend connection at startup.
const metadataOpenTimeout = 5 * time.Second

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	generator session.Generator
	prompt    *prompt.Template
	metadata  *metadata.Safe
	limiter   *ratelimit.Limiter
	lifecycle *lifecycle.Lifecycle
	calls     *sessions.Tracker
}

// Option overrides a dependency New would otherwise build from config.
type Option func(*Server)

// WithGenerator replaces the upstream-backed generation client.
func WithGenerator(g session.Generator) Option {
	return func(s *Server) { s.generator = g }
}

// WithMetadataStore replaces the configured metadata backend.
func WithMetadataStore(store metadata.Store) Option {
	return func(s *Server) { s.metadata = metadata.NewSafe(store, s.cfg.MetadataTTL, s.logger) }
}

func New(cfg config.Config, logger *slog.Logger, opts ...Option) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		mux:       http.NewServeMux(),
		lifecycle: &lifecycle.Lifecycle{},
		calls:     sessions.NewTracker(),
		limiter: ratelimit.New(ratelimit.Config{
			RPS:                   cfg.LimitRPS,
			Burst:                 cfg.LimitBurst,
			MaxConcurrentRequests: cfg.LimitMaxConcurrentRequests,
			MaxConcurrentCalls:    cfg.MaxConcurrentCalls,
		}),
	}
	for _, opt := range opts {
		opt(s)
	}

	tmpl := prompt.Default()
	if cfg.PromptFile != "" {
		loaded, err := prompt.Load(cfg.PromptFile)
		if err != nil {
			return nil, fmt.Errorf("load prompt: %w", err)
		}
		tmpl = loaded
	}
	s.prompt = tmpl

	if s.generator == nil {
		gen, err := s.newGenerator()
		if err != nil {
			return nil, err
		}
		s.generator = gen
	}

	if s.metadata == nil {
		ctx, cancel := context.WithTimeout(context.Background(), metadataOpenTimeout)
		store := metadata.Open(ctx, metadata.Config{
			RedisEnabled: cfg.RedisEnabled,
			RedisURL:     cfg.RedisURL,
			BadgerDir:    cfg.BadgerDir,
		}, logger)
		cancel()
		s.metadata = metadata.NewSafe(store, cfg.MetadataTTL, logger)
	}

	s.routes()
	return s, nil
}

func (s *Server) newGenerator() (*generation.Client, error) {
	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout: s.cfg.UpstreamConnectTimeout,
			}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			ResponseHeaderTimeout: s.cfg.UpstreamResponseHeaderTimeout,
		},
	}

	provider, err := upstream.Factory{HTTPClient: httpClient}.New(context.Background(), s.cfg.Provider, s.cfg.APIKey())
	if err != nil {
		return nil, fmt.Errorf("init provider: %w", err)
	}
	return generation.NewClient(generation.ClientConfig{
		Provider:  provider,
		Model:     s.cfg.Model,
		MaxTokens: s.cfg.MaxTokens,
		Timeout:   s.cfg.GenerationTimeout,
		Logger:    s.logger,
	})
}

func (s *Server) routes() {
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{
		Config:    s.cfg,
		Metadata:  s.metadata,
		Lifecycle: s.lifecycle,
		Calls:     s.calls,
	})

	s.mux.Handle("GET /llm-websocket/{call_id}", handlers.LLMWebsocketHandler{
		Config:    s.cfg,
		Generator: s.generator,
		Prompt:    s.prompt,
		Metadata:  s.metadata,
		Logger:    s.logger,
		Limiter:   s.limiter,
		Lifecycle: s.lifecycle,
		Calls:     s.calls,
	})

	webhookSecret := ""
	if s.cfg.VerifyWebhooks {
		webhookSecret = s.cfg.RetellAPIKey
	}
	s.mux.Handle("POST /webhook", mw.MaxBytes(s.cfg.MaxBodyBytes, handlers.WebhookHandler{
		Metadata:          s.metadata,
		Secret:            webhookSecret,
		TrustProxyHeaders: s.cfg.TrustProxyHeaders,
		Logger:            s.logger,
	}))

	meta := s.admin(handlers.MetadataHandler{Store: s.metadata, Logger: s.logger})
	s.mux.Handle("POST /metadata", meta)
	s.mux.Handle("GET /metadata/{phone}", meta)
	s.mux.Handle("DELETE /metadata/{phone}", meta)

	s.mux.Handle("/", handlers.NotFoundHandler{})
}

// admin wraps operator-facing endpoints with auth, throttling, and a body cap.
func (s *Server) admin(h http.Handler) http.Handler {
	h = mw.MaxBytes(s.cfg.MaxBodyBytes, h)
	h = mw.RateLimit(s.cfg, s.limiter, h)
	return mw.Auth(s.cfg, h)
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// SetDraining makes /readyz fail and refuses new call sessions.
func (s *Server) SetDraining() {
	s.lifecycle.SetDraining(true)
	if n := s.calls.Count(); n > 0 {
		s.logger.Info("draining with active calls", "active_calls", n)
	}
}

// WaitCalls blocks until every call session has ended or ctx is done.
func (s *Server) WaitCalls(ctx context.Context) bool {
	return s.calls.Wait(ctx)
}

// CancelCalls ends every live call session.
func (s *Server) CancelCalls() int {
	n := s.calls.CancelAll()
	if n > 0 {
		s.logger.Warn("canceled active calls", "count", n)
	}
	return n
}

// Metadata exposes the store for operator commands sharing this process.
func (s *Server) Metadata() *metadata.Safe {
	return s.metadata
}

func (s *Server) Close() error {
	return s.metadata.Close()
}
