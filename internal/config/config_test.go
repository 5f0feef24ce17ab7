package config

import (
	"os"
	"testing"
	"time"
)

func setGeminiEnv(t *testing.T) {
	t.Helper()
	t.Setenv("GEMINI_API_KEY", "test-gemini-key")
	t.Setenv("MODEL_PROVIDER", "gemini")
	t.Setenv("SPEECH_PROVIDER", "gemini")
	t.Setenv("IMAGE_PROVIDER", "gemini")
}

func TestLoad(t *testing.T) {
	setGeminiEnv(t)
	t.Setenv("DEEPGRAM_API_KEY", "test-deepgram-key")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.GeminiAPIKey != "test-gemini-key" {
		t.Errorf("Expected GeminiAPIKey 'test-gemini-key', got '%s'", cfg.GeminiAPIKey)
	}

	if cfg.DeepgramAPIKey != "test-deepgram-key" {
		t.Errorf("Expected DeepgramAPIKey 'test-deepgram-key', got '%s'", cfg.DeepgramAPIKey)
	}

	if !cfg.SpeechInputEnabled() {
		t.Error("Expected speech input to be enabled when DEEPGRAM_API_KEY is set")
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("MODEL_PROVIDER", "gemini")

	_, err := Load()
	if err == nil {
		t.Error("Expected error when GEMINI_API_KEY is missing")
	}
}

func TestLoad_ProviderKeys(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr bool
	}{
		{
			name: "openai everywhere",
			env: map[string]string{
				"MODEL_PROVIDER": "openai", "SPEECH_PROVIDER": "openai", "IMAGE_PROVIDER": "openai",
				"OPENAI_API_KEY": "sk-test", "GEMINI_API_KEY": "",
			},
		},
		{
			name: "cartesia speech without key",
			env: map[string]string{
				"MODEL_PROVIDER": "gemini", "SPEECH_PROVIDER": "cartesia", "IMAGE_PROVIDER": "gemini",
				"GEMINI_API_KEY": "g", "CARTESIA_API_KEY": "",
			},
			wantErr: true,
		},
		{
			name: "mixed providers",
			env: map[string]string{
				"MODEL_PROVIDER": "OpenAI", "SPEECH_PROVIDER": "cartesia", "IMAGE_PROVIDER": "gemini",
				"OPENAI_API_KEY": "sk-test", "CARTESIA_API_KEY": "c", "GEMINI_API_KEY": "g",
			},
		},
		{
			name: "unknown model provider",
			env: map[string]string{
				"MODEL_PROVIDER": "llama", "GEMINI_API_KEY": "g",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadFromEnv()
			if (err != nil) != tt.wantErr {
				t.Errorf("LoadFromEnv() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	setGeminiEnv(t)
	t.Setenv("DEEPGRAM_API_KEY", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	// Check defaults
	if cfg.Port != "8080" {
		t.Errorf("Expected default Port '8080', got '%s'", cfg.Port)
	}

	if cfg.GRPCPort != "9090" {
		t.Errorf("Expected default GRPCPort '9090', got '%s'", cfg.GRPCPort)
	}

	if cfg.GeminiChatModel != "gemini-2.5-flash" {
		t.Errorf("Expected default GeminiChatModel 'gemini-2.5-flash', got '%s'", cfg.GeminiChatModel)
	}

	if cfg.GeminiVoice != "Kore" {
		t.Errorf("Expected default GeminiVoice 'Kore', got '%s'", cfg.GeminiVoice)
	}

	if cfg.DeepgramLanguage != "en-US" {
		t.Errorf("Expected default DeepgramLanguage 'en-US', got '%s'", cfg.DeepgramLanguage)
	}

	if cfg.TutorName != "Layla" || cfg.TargetLanguage != "Arabic" || cfg.LearnerLanguage != "English" {
		t.Errorf("Unexpected lesson defaults: %s/%s/%s", cfg.TutorName, cfg.TargetLanguage, cfg.LearnerLanguage)
	}

	if cfg.GreetingUtterance != "Hello" {
		t.Errorf("Expected default GreetingUtterance 'Hello', got '%s'", cfg.GreetingUtterance)
	}

	if cfg.InputSampleRate != 16000 {
		t.Errorf("Expected default InputSampleRate 16000, got %d", cfg.InputSampleRate)
	}

	if cfg.VADEnergyThreshold != 500.0 {
		t.Errorf("Expected default VADEnergyThreshold 500.0, got %f", cfg.VADEnergyThreshold)
	}

	if cfg.SpeechInputEnabled() {
		t.Error("Expected speech input disabled without DEEPGRAM_API_KEY")
	}

	if cfg.ModelTimeoutDuration().Seconds() != 30 {
		t.Errorf("Expected 30s model timeout, got %v", cfg.ModelTimeoutDuration())
	}
}

func TestGetEnv(t *testing.T) {
	os.Setenv("TEST_KEY", "test-value")
	defer os.Unsetenv("TEST_KEY")

	value := GetEnv("TEST_KEY", "default")
	if value != "test-value" {
		t.Errorf("Expected 'test-value', got '%s'", value)
	}

	value = GetEnv("NON_EXISTENT_KEY", "default")
	if value != "default" {
		t.Errorf("Expected 'default', got '%s'", value)
	}
}

func TestConfig_ResilienceDefaults(t *testing.T) {
	setGeminiEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.CircuitBreakerMaxFailures != 5 {
		t.Errorf("Expected default CircuitBreakerMaxFailures 5, got %d", cfg.CircuitBreakerMaxFailures)
	}

	if cfg.RetryMaxAttempts != 3 {
		t.Errorf("Expected default RetryMaxAttempts 3, got %d", cfg.RetryMaxAttempts)
	}

	if cfg.ReconnectBackoff != 1000 {
		t.Errorf("Expected default ReconnectBackoff 1000, got %d", cfg.ReconnectBackoff)
	}
}

func TestConfig_ObservabilityDefaults(t *testing.T) {
	setGeminiEnv(t)
	// Clear LOG_LEVEL to ensure we get the default
	os.Unsetenv("LOG_LEVEL")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.LogLevel != "info" {
		t.Errorf("Expected default LogLevel 'info', got '%s'", cfg.LogLevel)
	}

	if cfg.LogPretty {
		t.Error("Expected default LogPretty false, got true")
	}

	if !cfg.MetricsEnabled {
		t.Error("Expected default MetricsEnabled true, got false")
	}

	if cfg.OTelEndpoint != "" {
		t.Errorf("Expected tracing disabled by default, got endpoint '%s'", cfg.OTelEndpoint)
	}
}

func TestConfig_OTelEndpoint(t *testing.T) {
	setGeminiEnv(t)
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://collector:4318")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.OTelEndpoint != "http://collector:4318" {
		t.Errorf("Expected OTelEndpoint 'http://collector:4318', got '%s'", cfg.OTelEndpoint)
	}
}

func TestConfig_SharedClientTimeout(t *testing.T) {
	setGeminiEnv(t)
	t.Setenv("MODEL_TIMEOUT", "90")
	t.Setenv("SPEECH_TIMEOUT", "45")
	t.Setenv("IMAGE_TIMEOUT", "20")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if got := cfg.SharedClientTimeoutDuration(); got != 90*time.Second {
		t.Errorf("Expected shared client timeout 90s, got %v", got)
	}
	if got := cfg.ImageTimeoutDuration(); got != 20*time.Second {
		t.Errorf("Expected image timeout 20s, got %v", got)
	}
}
