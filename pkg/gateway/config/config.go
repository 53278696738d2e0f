// Package config loads the gateway configuration from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// GreetingMode selects what the voice bridge does when a call connects.
type GreetingMode string

const (
	// GreetingProactive sends the configured greeting as response_id 0.
	GreetingProactive GreetingMode = "proactive"
	// GreetingWait stays silent until the platform asks for a response.
	GreetingWait GreetingMode = "wait"
)

const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGemini    = "gemini"
)

const DefaultGreeting = "Thanks for calling Freedom Boat Club of Northeast Florida! How can I help you today?"

type Config struct {
	// Addr wins over Port when both are set.
	Addr      string `env:"ADDR"`
	Port      string `env:"PORT" envDefault:"3000"`
	StaticDir string `env:"STATIC_DIR" envDefault:"public"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`

	// Upstream model.
	Provider         string `env:"LLM_PROVIDER" envDefault:"anthropic"`
	Model            string `env:"MODEL"`
	AnthropicAPIKey  string `env:"ANTHROPIC_API_KEY"`
	AnthropicBaseURL string `env:"ANTHROPIC_BASE_URL"`
	OpenAIAPIKey     string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL    string `env:"OPENAI_BASE_URL"`
	GeminiAPIKey     string `env:"GEMINI_API_KEY"`

	UpstreamConnectTimeout        time.Duration `env:"UPSTREAM_CONNECT_TIMEOUT" envDefault:"5s"`
	UpstreamResponseHeaderTimeout time.Duration `env:"UPSTREAM_RESPONSE_HEADER_TIMEOUT" envDefault:"30s"`

	// Prompt assembly.
	KnowledgeBaseFile  string `env:"KNOWLEDGE_BASE_FILE"`
	PromptProfilesFile string `env:"PROMPT_PROFILES_FILE"`
	VoiceMaxTokens     int    `env:"VOICE_MAX_TOKENS" envDefault:"300"`
	ChatMaxTokens      int    `env:"CHAT_MAX_TOKENS" envDefault:"1024"`

	// Voice bridge.
	TransferNumber          string        `env:"TRANSFER_NUMBER"`
	TransferPhrases         []string      `env:"VOICE_TRANSFER_PHRASES" envSeparator:","`
	EndCallPhrases          []string      `env:"VOICE_END_CALL_PHRASES" envSeparator:","`
	GreetingMode            GreetingMode  `env:"VOICE_GREETING_MODE" envDefault:"proactive"`
	Greeting                string        `env:"VOICE_GREETING"`
	Apology                 string        `env:"VOICE_APOLOGY"`
	SendConfigFrame         bool          `env:"VOICE_SEND_CONFIG" envDefault:"true"`
	AutoReconnect           bool          `env:"VOICE_AUTO_RECONNECT" envDefault:"true"`
	VoiceMaxConcurrentCalls int           `env:"VOICE_MAX_CONCURRENT_CALLS" envDefault:"100"`
	VoiceMaxPendingTurns    int           `env:"VOICE_MAX_PENDING_TURNS" envDefault:"4"`
	VoiceTurnTimeout        time.Duration `env:"VOICE_TURN_TIMEOUT" envDefault:"0s"`
	VoiceInboundFPS         float64       `env:"VOICE_INBOUND_FPS" envDefault:"20"`
	VoiceInboundBurst       int           `env:"VOICE_INBOUND_BURST" envDefault:"40"`
	VoiceMaxFrameBytes      int64         `env:"VOICE_MAX_FRAME_BYTES" envDefault:"1048576"`
	WSPingInterval          time.Duration `env:"VOICE_WS_PING_INTERVAL" envDefault:"20s"`
	WSWriteTimeout          time.Duration `env:"VOICE_WS_WRITE_TIMEOUT" envDefault:"5s"`
	WSReadTimeout           time.Duration `env:"VOICE_WS_READ_TIMEOUT" envDefault:"0s"`

	// Chat relay and admin surface.
	AllowedOrigins      []string      `env:"ALLOWED_ORIGINS" envSeparator:","`
	AdminPassword       string        `env:"ADMIN_PASSWORD"`
	TrustProxyHeaders   bool          `env:"TRUST_PROXY_HEADERS" envDefault:"false"`
	ChatRateLimit       int           `env:"CHAT_RATE_LIMIT" envDefault:"30"`
	ChatRateWindow      time.Duration `env:"CHAT_RATE_WINDOW" envDefault:"1m"`
	ChatMaxBodyBytes    int64         `env:"CHAT_MAX_BODY_BYTES" envDefault:"102400"`
	ChatMaxMessages     int           `env:"CHAT_MAX_MESSAGES" envDefault:"50"`
	ChatMaxMessageRunes int           `env:"CHAT_MAX_MESSAGE_RUNES" envDefault:"5000"`
	ConversationLogSize int           `env:"CONVERSATION_LOG_SIZE" envDefault:"1000"`

	// Operational defaults.
	ReadHeaderTimeout   time.Duration `env:"READ_HEADER_TIMEOUT" envDefault:"10s"`
	HandlerTimeout      time.Duration `env:"HANDLER_TIMEOUT" envDefault:"2m"`
	ShutdownGracePeriod time.Duration `env:"SHUTDOWN_GRACE_PERIOD" envDefault:"30s"`

	// Tracing. OTelExporter is "none" or "otlp".
	OTelExporter     string  `env:"OTEL_EXPORTER" envDefault:"none"`
	OTelEndpoint     string  `env:"OTEL_ENDPOINT"`
	OTelInsecure     bool    `env:"OTEL_INSECURE" envDefault:"false"`
	OTelSamplingRate float64 `env:"OTEL_SAMPLING_RATE" envDefault:"1"`
}

// LoadFromEnv parses the process environment and validates the result.
func LoadFromEnv() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.Provider = strings.ToLower(strings.TrimSpace(c.Provider))
	c.GreetingMode = GreetingMode(strings.ToLower(strings.TrimSpace(string(c.GreetingMode))))
	if strings.TrimSpace(c.Greeting) == "" {
		c.Greeting = DefaultGreeting
	}
	c.AllowedOrigins = trimAll(c.AllowedOrigins)
	c.TransferPhrases = trimAll(c.TransferPhrases)
	c.EndCallPhrases = trimAll(c.EndCallPhrases)
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch c.Provider {
	case ProviderAnthropic, ProviderOpenAI, ProviderGemini:
	default:
		return fmt.Errorf("LLM_PROVIDER must be one of anthropic|openai|gemini")
	}
	switch c.GreetingMode {
	case GreetingProactive, GreetingWait:
	default:
		return fmt.Errorf("VOICE_GREETING_MODE must be one of proactive|wait")
	}
	switch c.OTelExporter {
	case "none", "otlp":
	default:
		return fmt.Errorf("OTEL_EXPORTER must be one of none|otlp")
	}

	if strings.TrimSpace(c.Addr) == "" && strings.TrimSpace(c.Port) == "" {
		return fmt.Errorf("ADDR or PORT must be set")
	}
	if c.VoiceMaxTokens <= 0 {
		return fmt.Errorf("VOICE_MAX_TOKENS must be > 0")
	}
	if c.ChatMaxTokens <= 0 {
		return fmt.Errorf("CHAT_MAX_TOKENS must be > 0")
	}
	if c.VoiceMaxConcurrentCalls <= 0 {
		return fmt.Errorf("VOICE_MAX_CONCURRENT_CALLS must be > 0")
	}
	if c.VoiceMaxPendingTurns < 0 {
		return fmt.Errorf("VOICE_MAX_PENDING_TURNS must be >= 0")
	}
	if c.VoiceTurnTimeout < 0 {
		return fmt.Errorf("VOICE_TURN_TIMEOUT must be >= 0")
	}
	if c.VoiceInboundFPS < 0 {
		return fmt.Errorf("VOICE_INBOUND_FPS must be >= 0")
	}
	if c.VoiceInboundFPS > 0 && c.VoiceInboundBurst < 1 {
		return fmt.Errorf("VOICE_INBOUND_BURST must be >= 1 when VOICE_INBOUND_FPS is set")
	}
	if c.VoiceMaxFrameBytes <= 0 {
		return fmt.Errorf("VOICE_MAX_FRAME_BYTES must be > 0")
	}
	if c.WSPingInterval <= 0 {
		return fmt.Errorf("VOICE_WS_PING_INTERVAL must be > 0")
	}
	if c.WSWriteTimeout <= 0 {
		return fmt.Errorf("VOICE_WS_WRITE_TIMEOUT must be > 0")
	}
	if c.WSReadTimeout < 0 {
		return fmt.Errorf("VOICE_WS_READ_TIMEOUT must be >= 0")
	}
	if c.ChatRateLimit <= 0 {
		return fmt.Errorf("CHAT_RATE_LIMIT must be > 0")
	}
	if c.ChatRateWindow <= 0 {
		return fmt.Errorf("CHAT_RATE_WINDOW must be > 0")
	}
	if c.ChatMaxBodyBytes <= 0 {
		return fmt.Errorf("CHAT_MAX_BODY_BYTES must be > 0")
	}
	if c.ChatMaxMessages <= 0 {
		return fmt.Errorf("CHAT_MAX_MESSAGES must be > 0")
	}
	if c.ChatMaxMessageRunes <= 0 {
		return fmt.Errorf("CHAT_MAX_MESSAGE_RUNES must be > 0")
	}
	if c.ConversationLogSize <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_SIZE must be > 0")
	}
	if c.ReadHeaderTimeout <= 0 {
		return fmt.Errorf("READ_HEADER_TIMEOUT must be > 0")
	}
	if c.HandlerTimeout <= 0 {
		return fmt.Errorf("HANDLER_TIMEOUT must be > 0")
	}
	if c.ShutdownGracePeriod <= 0 {
		return fmt.Errorf("SHUTDOWN_GRACE_PERIOD must be > 0")
	}
	if c.UpstreamConnectTimeout <= 0 {
		return fmt.Errorf("UPSTREAM_CONNECT_TIMEOUT must be > 0")
	}
	if c.UpstreamResponseHeaderTimeout <= 0 {
		return fmt.Errorf("UPSTREAM_RESPONSE_HEADER_TIMEOUT must be > 0")
	}
	if c.OTelSamplingRate < 0 || c.OTelSamplingRate > 1 {
		return fmt.Errorf("OTEL_SAMPLING_RATE must be within [0,1]")
	}
	if c.OTelExporter == "otlp" && strings.TrimSpace(c.OTelEndpoint) == "" {
		return fmt.Errorf("OTEL_ENDPOINT must be set when OTEL_EXPORTER=otlp")
	}
	return nil
}

// ListenAddr returns the address the HTTP server binds.
func (c Config) ListenAddr() string {
	if addr := strings.TrimSpace(c.Addr); addr != "" {
		return addr
	}
	return ":" + strings.TrimSpace(c.Port)
}

// APIKey returns the credential for the selected provider. An empty key is
// not a startup error; the chat relay answers 500 and voice turns fail over
// to a human.
func (c Config) APIKey() string {
	switch c.Provider {
	case ProviderOpenAI:
		return c.OpenAIAPIKey
	case ProviderGemini:
		return c.GeminiAPIKey
	default:
		return c.AnthropicAPIKey
	}
}

// AdminEnabled reports whether the conversation endpoints are mounted.
func (c Config) AdminEnabled() bool {
	return strings.TrimSpace(c.AdminPassword) != ""
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
