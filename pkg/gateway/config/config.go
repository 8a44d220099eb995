package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/vango-go/vai-retell/pkg/core/generation"
)

type AuthMode string

const (
	AuthModeRequired AuthMode = "required"
	AuthModeDisabled AuthMode = "disabled"
)

// Default models per provider when VAI_RETELL_MODEL is unset.
var defaultModels = map[string]string{
	"anthropic":  "claude-haiku-4-5",
	"openai":     "gpt-4o-mini",
	"gemini":     "gemini-2.5-flash",
	"groq":       "llama-3.3-70b-versatile",
	"cerebras":   "llama-3.3-70b",
	"openrouter": "openai/gpt-4o-mini",
}

var providerKeyEnv = map[string]string{
	"anthropic":  "ANTHROPIC_API_KEY",
	"openai":     "OPENAI_API_KEY",
	"gemini":     "GEMINI_API_KEY",
	"groq":       "GROQ_API_KEY",
	"cerebras":   "CEREBRAS_API_KEY",
	"openrouter": "OPENROUTER_API_KEY",
}

type Config struct {
	Addr string

	// Generation.
	Provider          string
	Model             string
	MaxTokens         int
	ProviderKeys      map[string]string
	GenerationTimeout time.Duration
	CancelSuperseded  bool
	PromptFile        string
	FieldsSource      string

	// Retell platform credential. Signs lifecycle webhooks and authorizes
	// agent registration.
	RetellAPIKey       string
	RetellBaseURL      string
	VerifyWebhooks     bool
	PublicWebsocketURL string
	DefaultAgentID     string

	// Metadata store.
	RedisEnabled bool
	RedisURL     string
	BadgerDir    string
	MetadataTTL  time.Duration

	// Call websocket.
	WSMaxMessageBytes int64
	WSPingInterval    time.Duration
	WSWriteTimeout    time.Duration
	WSReadTimeout     time.Duration

	// MaxConcurrentCalls caps live call sessions; zero means unlimited.
	MaxConcurrentCalls int

	// Admin endpoints (/metadata).
	AuthMode                   AuthMode
	AdminAPIKeys               map[string]struct{}
	TrustProxyHeaders          bool
	LimitRPS                   float64
	LimitBurst                 int
	LimitMaxConcurrentRequests int
	MaxBodyBytes               int64

	ReadHeaderTimeout             time.Duration
	ReadTimeout                   time.Duration
	ShutdownGracePeriod           time.Duration
	UpstreamConnectTimeout        time.Duration
	UpstreamResponseHeaderTimeout time.Duration

	LogLevel  string
	LogFormat string
}

// APIKey returns the configured key for the active provider.
func (c Config) APIKey() string {
	return c.ProviderKeys[c.Provider]
}

func LoadFromEnv() (Config, error) {
	addr := envOr("VAI_RETELL_ADDR", "")
	if addr == "" {
		if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
			addr = ":" + port
		} else {
			addr = ":8080"
		}
	}

	cfg := Config{
		Addr:                          addr,
		Provider:                      strings.ToLower(envOr("VAI_RETELL_PROVIDER", "")),
		Model:                         envOr("VAI_RETELL_MODEL", ""),
		MaxTokens:                     envIntOr("VAI_RETELL_MAX_TOKENS", 150),
		ProviderKeys:                  make(map[string]string),
		GenerationTimeout:             envDurationOr("VAI_RETELL_GENERATION_TIMEOUT", 30*time.Second),
		CancelSuperseded:              envBoolOr("VAI_RETELL_CANCEL_SUPERSEDED", true),
		PromptFile:                    envOr("VAI_RETELL_PROMPT_FILE", ""),
		FieldsSource:                  envOr("VAI_RETELL_FIELDS_SOURCE", "store_then_event"),
		RetellAPIKey:                  envOr("RETELL_API_KEY", ""),
		RetellBaseURL:                 envOr("RETELL_BASE_URL", "https://api.retellai.com"),
		VerifyWebhooks:                envBoolOr("VAI_RETELL_VERIFY_WEBHOOKS", true),
		PublicWebsocketURL:            envOr("VAI_RETELL_PUBLIC_WS_URL", ""),
		DefaultAgentID:                envOr("RETELL_AGENT_ID", ""),
		RedisEnabled:                  envBoolOr("REDIS_ENABLED", false),
		RedisURL:                      envOr("REDIS_URL", ""),
		BadgerDir:                     envOr("VAI_RETELL_BADGER_DIR", ""),
		MetadataTTL:                   envDurationOr("VAI_RETELL_METADATA_TTL", time.Hour),
		WSMaxMessageBytes:             envInt64Or("VAI_RETELL_WS_MAX_MESSAGE_BYTES", 1<<20),
		WSPingInterval:                envDurationOr("VAI_RETELL_WS_PING_INTERVAL", 20*time.Second),
		WSWriteTimeout:                envDurationOr("VAI_RETELL_WS_WRITE_TIMEOUT", 5*time.Second),
		WSReadTimeout:                 envDurationOr("VAI_RETELL_WS_READ_TIMEOUT", 0),
		MaxConcurrentCalls:            envIntOr("VAI_RETELL_MAX_CONCURRENT_CALLS", 0),
		AuthMode:                      AuthMode(envOr("VAI_RETELL_ADMIN_AUTH_MODE", "")),
		AdminAPIKeys:                  make(map[string]struct{}),
		TrustProxyHeaders:             envBoolOr("VAI_RETELL_TRUST_PROXY_HEADERS", false),
		LimitRPS:                      envFloat64Or("VAI_RETELL_RATE_LIMIT_RPS", 20),
		LimitBurst:                    envIntOr("VAI_RETELL_RATE_LIMIT_BURST", 40),
		LimitMaxConcurrentRequests:    envIntOr("VAI_RETELL_MAX_CONCURRENT_REQUESTS", 16),
		MaxBodyBytes:                  envInt64Or("VAI_RETELL_MAX_BODY_BYTES", 1<<20),
		ReadHeaderTimeout:             envDurationOr("VAI_RETELL_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:                   envDurationOr("VAI_RETELL_READ_TIMEOUT", 30*time.Second),
		ShutdownGracePeriod:           envDurationOr("VAI_RETELL_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
		UpstreamConnectTimeout:        envDurationOr("VAI_RETELL_CONNECT_TIMEOUT", 5*time.Second),
		UpstreamResponseHeaderTimeout: envDurationOr("VAI_RETELL_RESPONSE_HEADER_TIMEOUT", 30*time.Second),
		LogLevel:                      strings.ToLower(envOr("LOG_LEVEL", "info")),
		LogFormat:                     strings.ToLower(envOr("LOG_FORMAT", "text")),
	}

	for provider, env := range providerKeyEnv {
		if key := envOr(env, ""); key != "" {
			cfg.ProviderKeys[provider] = key
		}
	}
	for _, key := range splitCSV(os.Getenv("VAI_RETELL_ADMIN_API_KEYS")) {
		cfg.AdminAPIKeys[key] = struct{}{}
	}
	if cfg.AuthMode == "" {
		cfg.AuthMode = AuthModeDisabled
		if len(cfg.AdminAPIKeys) > 0 {
			cfg.AuthMode = AuthModeRequired
		}
	}

	// Without an explicit provider, VAI_RETELL_MODEL may name one as
	// "provider/model". With one, the model is passed through untouched
	// (openrouter model ids contain a slash).
	if cfg.Provider == "" && strings.Contains(cfg.Model, "/") {
		provider, model, err := generation.ParseModelString(cfg.Model)
		if err != nil {
			return Config{}, fmt.Errorf("VAI_RETELL_MODEL: %w", err)
		}
		cfg.Provider, cfg.Model = strings.ToLower(provider), model
	}
	if cfg.Provider == "" {
		cfg.Provider = "anthropic"
	}
	if _, ok := providerKeyEnv[cfg.Provider]; !ok {
		return Config{}, fmt.Errorf("VAI_RETELL_PROVIDER must be one of anthropic|openai|gemini|groq|cerebras|openrouter")
	}
	if cfg.Model == "" {
		cfg.Model = defaultModels[cfg.Provider]
	}
	if cfg.MaxTokens <= 0 {
		return Config{}, fmt.Errorf("VAI_RETELL_MAX_TOKENS must be > 0")
	}
	if cfg.GenerationTimeout < 0 {
		return Config{}, fmt.Errorf("VAI_RETELL_GENERATION_TIMEOUT must be >= 0")
	}
	switch cfg.FieldsSource {
	case "store", "event", "store_then_event":
	default:
		return Config{}, fmt.Errorf("VAI_RETELL_FIELDS_SOURCE must be one of store|event|store_then_event")
	}
	switch cfg.AuthMode {
	case AuthModeRequired, AuthModeDisabled:
	default:
		return Config{}, fmt.Errorf("VAI_RETELL_ADMIN_AUTH_MODE must be one of required|disabled")
	}
	if cfg.AuthMode == AuthModeRequired && len(cfg.AdminAPIKeys) == 0 {
		return Config{}, fmt.Errorf("VAI_RETELL_ADMIN_API_KEYS must be set when VAI_RETELL_ADMIN_AUTH_MODE=required")
	}
	if cfg.MetadataTTL <= 0 {
		return Config{}, fmt.Errorf("VAI_RETELL_METADATA_TTL must be > 0")
	}
	if cfg.WSMaxMessageBytes <= 0 {
		return Config{}, fmt.Errorf("VAI_RETELL_WS_MAX_MESSAGE_BYTES must be > 0")
	}
	if cfg.WSPingInterval <= 0 {
		return Config{}, fmt.Errorf("VAI_RETELL_WS_PING_INTERVAL must be > 0")
	}
	if cfg.WSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("VAI_RETELL_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.WSReadTimeout < 0 {
		return Config{}, fmt.Errorf("VAI_RETELL_WS_READ_TIMEOUT must be >= 0")
	}
	if cfg.MaxConcurrentCalls < 0 {
		return Config{}, fmt.Errorf("VAI_RETELL_MAX_CONCURRENT_CALLS must be >= 0")
	}
	if cfg.MaxBodyBytes <= 0 {
		return Config{}, fmt.Errorf("VAI_RETELL_MAX_BODY_BYTES must be > 0")
	}
	if cfg.LimitRPS < 0 {
		return Config{}, fmt.Errorf("VAI_RETELL_RATE_LIMIT_RPS must be >= 0")
	}
	if cfg.LimitBurst < 0 {
		return Config{}, fmt.Errorf("VAI_RETELL_RATE_LIMIT_BURST must be >= 0")
	}
	if cfg.LimitMaxConcurrentRequests < 0 {
		return Config{}, fmt.Errorf("VAI_RETELL_MAX_CONCURRENT_REQUESTS must be >= 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("VAI_RETELL_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ReadTimeout <= 0 {
		return Config{}, fmt.Errorf("VAI_RETELL_READ_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("VAI_RETELL_SHUTDOWN_GRACE_PERIOD must be > 0")
	}
	if cfg.UpstreamConnectTimeout <= 0 {
		return Config{}, fmt.Errorf("VAI_RETELL_CONNECT_TIMEOUT must be > 0")
	}
	if cfg.UpstreamResponseHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("VAI_RETELL_RESPONSE_HEADER_TIMEOUT must be > 0")
	}
	if strings.TrimSpace(cfg.RetellBaseURL) == "" {
		return Config{}, fmt.Errorf("RETELL_BASE_URL must not be empty")
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return Config{}, fmt.Errorf("LOG_LEVEL must be one of debug|info|warn|error")
	}
	switch cfg.LogFormat {
	case "text", "json":
	default:
		return Config{}, fmt.Errorf("LOG_FORMAT must be one of text|json")
	}

	return cfg, nil
}

// ValidateForServe reports configuration the websocket server cannot run
// without. The CLI's metadata and registration commands do not need it.
func (c Config) ValidateForServe() error {
	if strings.TrimSpace(c.APIKey()) == "" {
		return fmt.Errorf("%s must be set when VAI_RETELL_PROVIDER=%s", providerKeyEnv[c.Provider], c.Provider)
	}
	return nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
