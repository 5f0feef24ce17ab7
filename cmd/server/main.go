package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sashabaranov/go-openai"
	"google.golang.org/grpc"

	"github.com/lexiqai/voice-tutor/internal/config"
	"github.com/lexiqai/voice-tutor/internal/gemini"
	"github.com/lexiqai/voice-tutor/internal/imagegen"
	"github.com/lexiqai/voice-tutor/internal/lesson"
	"github.com/lexiqai/voice-tutor/internal/llm"
	"github.com/lexiqai/voice-tutor/internal/observability"
	"github.com/lexiqai/voice-tutor/internal/resilience"
	"github.com/lexiqai/voice-tutor/internal/session"
	"github.com/lexiqai/voice-tutor/internal/stt"
	"github.com/lexiqai/voice-tutor/internal/tts"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.WithContext(map[string]interface{}{
		"instance": config.GetEnv("HOSTNAME", "local"),
	})

	shutdownTracing, err := observability.InitTracing(context.Background(), cfg.OTelEndpoint)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize tracing")
	}

	logger.Info().
		Str("port", cfg.Port).
		Str("grpc_port", cfg.GRPCPort).
		Str("model_provider", cfg.ModelProvider).
		Str("speech_provider", cfg.SpeechProvider).
		Str("image_provider", cfg.ImageProvider).
		Bool("speech_input", cfg.SpeechInputEnabled()).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Bool("tracing_enabled", cfg.OTelEndpoint != "").
		Msg("Voice Tutor Service starting")

	modelBreaker := newBreaker(cfg, "model")
	speechBreaker := newBreaker(cfg, "tts")
	imageBreaker := newBreaker(cfg, "image")

	svc, err := buildServices(cfg, modelBreaker, speechBreaker, imageBreaker)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize providers")
	}

	checks := []observability.DependencyCheck{
		{Name: "model", Check: modelBreaker.Healthy},
		{Name: "tts", Check: speechBreaker.Healthy},
		{Name: "image", Check: imageBreaker.Healthy},
	}

	var recognizerBreaker *resilience.CircuitBreaker
	if cfg.SpeechInputEnabled() {
		recognizerBreaker = newBreaker(cfg, "stt")
		svc.Recognizer = stt.NewDeepgramEngine(cfg, recognizerBreaker, logger)
		checks = append(checks, observability.DependencyCheck{Name: "stt", Check: recognizerBreaker.Healthy})
	} else {
		logger.Warn().Msg("DEEPGRAM_API_KEY not set, sessions will be text-only")
	}

	sessions := session.NewManager(cfg, svc)

	// Create HTTP server
	mux := http.NewServeMux()
	mux.HandleFunc("/sessions/ws", sessions.Handler())
	mux.HandleFunc("/health", observability.HealthCheckHandler())
	mux.HandleFunc("/ready", observability.ReadinessHandler(checks...))

	// Metrics endpoint (Prometheus)
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// Create HTTP server with timeouts
	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	// Hijacked WebSocket connections are not tracked by Shutdown.
	server.RegisterOnShutdown(sessions.CloseAll)

	// gRPC health service
	healthCtx, stopHealth := context.WithCancel(context.Background())
	defer stopHealth()

	grpcHealth := observability.NewGRPCHealth(checks...)
	grpcServer := grpc.NewServer()
	grpcHealth.Register(grpcServer)
	go grpcHealth.Run(healthCtx, 15*time.Second)

	lis, err := net.Listen("tcp", fmt.Sprintf(":%s", cfg.GRPCPort))
	if err != nil {
		logger.Fatal().Err(err).Str("port", cfg.GRPCPort).Msg("Failed to listen for gRPC")
	}
	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error().Err(err).Msg("gRPC server stopped")
		}
	}()

	// Start server in a goroutine
	go func() {
		base := cfg.PublicURL
		if base == "" {
			base = fmt.Sprintf("http://localhost:%s", cfg.Port)
		}
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", wsURL(base)+"/sessions/ws").
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Int("sessions", sessions.Count()).Msg("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stopHealth()
	grpcHealth.Shutdown()
	grpcServer.GracefulStop()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	// Flush spans of the sessions closed above
	if err := shutdownTracing(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to flush traces")
	}

	logger.Info().Msg("Server exited gracefully")
}

func newBreaker(cfg *config.Config, name string) *resilience.CircuitBreaker {
	cb := resilience.NewCircuitBreaker(name, cfg.CircuitBreakerMaxFailures,
		time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second)
	cb.OnStateChange(func(service string, state resilience.CircuitState) {
		observability.UpdateCircuitBreakerState(service, int(state))
		logger := observability.GetLogger()
		logger.Warn().Str("service", service).Int("state", int(state)).Msg("Circuit breaker state changed")
	})
	return cb
}

// buildServices creates the provider clients selected by configuration.
// Gemini and OpenAI clients are shared between the concerns that use them.
func buildServices(cfg *config.Config, modelBreaker, speechBreaker, imageBreaker *resilience.CircuitBreaker) (*session.Services, error) {
	var (
		geminiClient *gemini.Client
		openaiClient *openai.Client
	)
	if cfg.GeminiAPIKey != "" {
		geminiClient = gemini.NewClient(cfg.GeminiAPIKey, cfg.GeminiBaseURL, cfg.SharedClientTimeoutDuration())
	}
	if cfg.OpenAIAPIKey != "" {
		ocfg := openai.DefaultConfig(cfg.OpenAIAPIKey)
		if cfg.OpenAIBaseURL != "" {
			ocfg.BaseURL = cfg.OpenAIBaseURL
		}
		ocfg.HTTPClient = observability.NewHTTPClient(cfg.SharedClientTimeoutDuration())
		openaiClient = openai.NewClientWithConfig(ocfg)
	}

	svc := &session.Services{
		Persona: lesson.Persona{
			TutorName:       cfg.TutorName,
			TargetLanguage:  cfg.TargetLanguage,
			LearnerLanguage: cfg.LearnerLanguage,
		},
		ModelBreaker:  modelBreaker,
		SpeechBreaker: speechBreaker,
		ImageBreaker:  imageBreaker,
		Retry: &resilience.RetryConfig{
			MaxAttempts:       cfg.RetryMaxAttempts,
			InitialBackoff:    time.Duration(cfg.RetryInitialBackoff) * time.Millisecond,
			MaxBackoff:        5 * time.Second,
			BackoffMultiplier: 2.0,
			Jitter:            true,
		},
	}

	switch cfg.ModelProvider {
	case config.ProviderGemini:
		svc.Model = llm.NewGeminiModel(geminiClient, cfg.GeminiChatModel)
	case config.ProviderOpenAI:
		svc.Model = llm.NewOpenAIModel(openaiClient, cfg.OpenAIChatModel)
	default:
		return nil, fmt.Errorf("unsupported model provider %q", cfg.ModelProvider)
	}

	switch cfg.SpeechProvider {
	case config.ProviderGemini:
		svc.Synthesizer = tts.NewGeminiSynthesizer(geminiClient, cfg.GeminiTTSModel, cfg.GeminiVoice)
	case config.ProviderOpenAI:
		svc.Synthesizer = tts.NewOpenAISynthesizer(openaiClient, cfg.OpenAITTSModel, cfg.OpenAIVoice)
	case config.ProviderCartesia:
		svc.Synthesizer = tts.NewCartesiaClient(cfg.CartesiaAPIKey, cfg.CartesiaVoiceID, cfg.CartesiaModelID, cfg.SpeechTimeoutDuration())
	default:
		return nil, fmt.Errorf("unsupported speech provider %q", cfg.SpeechProvider)
	}

	switch cfg.ImageProvider {
	case config.ProviderGemini:
		svc.Images = imagegen.NewGeminiGenerator(geminiClient, cfg.GeminiImageModel)
	case config.ProviderOpenAI:
		svc.Images = imagegen.NewOpenAIGenerator(openaiClient, cfg.OpenAIImageModel)
	default:
		return nil, fmt.Errorf("unsupported image provider %q", cfg.ImageProvider)
	}

	return svc, nil
}

func wsURL(base string) string {
	base = strings.TrimSuffix(base, "/")
	if rest, ok := strings.CutPrefix(base, "https://"); ok {
		return "wss://" + rest
	}
	if rest, ok := strings.CutPrefix(base, "http://"); ok {
		return "ws://" + rest
	}
	return base
}
