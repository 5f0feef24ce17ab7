package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Provider names accepted by MODEL_PROVIDER, SPEECH_PROVIDER and IMAGE_PROVIDER.
const (
	ProviderGemini   = "gemini"
	ProviderOpenAI   = "openai"
	ProviderCartesia = "cartesia"
)

// Config holds all configuration for the voice tutor service
type Config struct {
	// Server configuration
	Port     string `envconfig:"PORT" default:"8080"`
	GRPCPort string `envconfig:"GRPC_PORT" default:"9090"` // grpc.health.v1 endpoint

	// Public base URL for this service (e.g. https://xxx.ngrok-free.dev).
	// Only used to log the session WebSocket endpoint.
	PublicURL string `envconfig:"PUBLIC_URL" default:""`

	// Provider selection
	ModelProvider  string `envconfig:"MODEL_PROVIDER" default:"gemini"`  // gemini, openai
	SpeechProvider string `envconfig:"SPEECH_PROVIDER" default:"gemini"` // gemini, cartesia, openai
	ImageProvider  string `envconfig:"IMAGE_PROVIDER" default:"gemini"`  // gemini, openai

	// Gemini API configuration
	GeminiAPIKey     string `envconfig:"GEMINI_API_KEY" default:""`
	GeminiBaseURL    string `envconfig:"GEMINI_BASE_URL" default:"https://generativelanguage.googleapis.com/v1beta"`
	GeminiChatModel  string `envconfig:"GEMINI_CHAT_MODEL" default:"gemini-2.5-flash"`
	GeminiTTSModel   string `envconfig:"GEMINI_TTS_MODEL" default:"gemini-2.5-flash-preview-tts"`
	GeminiVoice      string `envconfig:"GEMINI_VOICE" default:"Kore"`
	GeminiImageModel string `envconfig:"GEMINI_IMAGE_MODEL" default:"gemini-2.5-flash-image"`

	// OpenAI API configuration
	OpenAIAPIKey     string `envconfig:"OPENAI_API_KEY" default:""`
	OpenAIBaseURL    string `envconfig:"OPENAI_BASE_URL" default:""` // empty uses the SDK default
	OpenAIChatModel  string `envconfig:"OPENAI_CHAT_MODEL" default:"gpt-4o-mini"`
	OpenAITTSModel   string `envconfig:"OPENAI_TTS_MODEL" default:"tts-1"`
	OpenAIVoice      string `envconfig:"OPENAI_VOICE" default:"alloy"`
	OpenAIImageModel string `envconfig:"OPENAI_IMAGE_MODEL" default:"dall-e-3"`

	// Cartesia TTS API configuration
	CartesiaAPIKey  string `envconfig:"CARTESIA_API_KEY" default:""`
	CartesiaVoiceID string `envconfig:"CARTESIA_VOICE_ID" default:"sonic-english"`
	CartesiaModelID string `envconfig:"CARTESIA_MODEL_ID" default:"sonic"`

	// Deepgram STT configuration. Leaving the key empty disables speech input.
	DeepgramAPIKey   string `envconfig:"DEEPGRAM_API_KEY" default:""`
	DeepgramModel    string `envconfig:"DEEPGRAM_MODEL" default:"nova-2"`
	DeepgramLanguage string `envconfig:"DEEPGRAM_LANGUAGE" default:"en-US"`

	// Lesson configuration
	TutorName         string `envconfig:"TUTOR_NAME" default:"Layla"`
	TargetLanguage    string `envconfig:"TARGET_LANGUAGE" default:"Arabic"`
	LearnerLanguage   string `envconfig:"LEARNER_LANGUAGE" default:"English"`
	GreetingUtterance string `envconfig:"GREETING_UTTERANCE" default:"Hello"`

	// Per-call timeouts in seconds
	ModelTimeout  int `envconfig:"MODEL_TIMEOUT" default:"30"`
	SpeechTimeout int `envconfig:"SPEECH_TIMEOUT" default:"30"`
	ImageTimeout  int `envconfig:"IMAGE_TIMEOUT" default:"60"`

	// Audio processing configuration
	InputSampleRate       int     `envconfig:"INPUT_SAMPLE_RATE" default:"16000"`      // Microphone PCM16 sample rate
	AudioBufferSize       int     `envconfig:"AUDIO_BUFFER_SIZE" default:"32768"`      // Pre-connect ring buffer size in bytes
	VADEnergyThreshold    float64 `envconfig:"VAD_ENERGY_THRESHOLD" default:"500.0"`   // RMS energy threshold for VAD
	VADSilenceFrames      int     `envconfig:"VAD_SILENCE_FRAMES" default:"40"`        // Silent frames after speech that end an utterance
	RecognitionFinalizeMs int     `envconfig:"RECOGNITION_FINALIZE_MS" default:"1500"` // Wait for a final transcript after stop
	PlaybackAckGraceMs    int     `envconfig:"PLAYBACK_ACK_GRACE_MS" default:"2000"`   // Slack past clip duration before assuming playback ended

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`             // Maximum retry attempts
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"`        // Initial backoff in milliseconds
	ReconnectMaxAttempts       int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"5"`         // Maximum reconnection attempts
	ReconnectBackoff           int `envconfig:"RECONNECT_BACKOFF" default:"1000"`           // Reconnection backoff in milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
	OTelEndpoint   string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`    // OTLP/HTTP collector; empty disables tracing
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks provider names and that every selected provider has a key.
func (c *Config) Validate() error {
	c.ModelProvider = strings.ToLower(c.ModelProvider)
	c.SpeechProvider = strings.ToLower(c.SpeechProvider)
	c.ImageProvider = strings.ToLower(c.ImageProvider)

	switch c.ModelProvider {
	case ProviderGemini, ProviderOpenAI:
	default:
		return fmt.Errorf("unsupported MODEL_PROVIDER %q", c.ModelProvider)
	}
	switch c.SpeechProvider {
	case ProviderGemini, ProviderOpenAI, ProviderCartesia:
	default:
		return fmt.Errorf("unsupported SPEECH_PROVIDER %q", c.SpeechProvider)
	}
	switch c.ImageProvider {
	case ProviderGemini, ProviderOpenAI:
	default:
		return fmt.Errorf("unsupported IMAGE_PROVIDER %q", c.ImageProvider)
	}

	for _, p := range []string{c.ModelProvider, c.SpeechProvider, c.ImageProvider} {
		switch p {
		case ProviderGemini:
			if c.GeminiAPIKey == "" {
				return fmt.Errorf("GEMINI_API_KEY is required")
			}
		case ProviderOpenAI:
			if c.OpenAIAPIKey == "" {
				return fmt.Errorf("OPENAI_API_KEY is required")
			}
		case ProviderCartesia:
			if c.CartesiaAPIKey == "" {
				return fmt.Errorf("CARTESIA_API_KEY is required")
			}
		}
	}

	if strings.TrimSpace(c.GreetingUtterance) == "" {
		return fmt.Errorf("GREETING_UTTERANCE must not be empty")
	}
	if c.InputSampleRate <= 0 {
		return fmt.Errorf("INPUT_SAMPLE_RATE must be positive")
	}

	return nil
}

// SpeechInputEnabled reports whether a recognizer is configured.
func (c *Config) SpeechInputEnabled() bool {
	return c.DeepgramAPIKey != ""
}

func (c *Config) ModelTimeoutDuration() time.Duration {
	return time.Duration(c.ModelTimeout) * time.Second
}

func (c *Config) SpeechTimeoutDuration() time.Duration {
	return time.Duration(c.SpeechTimeout) * time.Second
}

func (c *Config) ImageTimeoutDuration() time.Duration {
	return time.Duration(c.ImageTimeout) * time.Second
}

// SharedClientTimeoutDuration bounds HTTP clients shared by the model, speech
// and image concerns. It is the longest of their per-call timeouts, so each
// call is still limited by its own context deadline.
func (c *Config) SharedClientTimeoutDuration() time.Duration {
	return max(c.ModelTimeoutDuration(), c.SpeechTimeoutDuration(), c.ImageTimeoutDuration())
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
