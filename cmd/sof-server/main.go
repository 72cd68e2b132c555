package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/portops/sof-server/internal/api"
	"github.com/portops/sof-server/internal/classifier"
	"github.com/portops/sof-server/internal/config"
	"github.com/portops/sof-server/internal/db"
	"github.com/portops/sof-server/internal/extract"
	"github.com/portops/sof-server/internal/llm"
	"github.com/portops/sof-server/internal/logging"
	"github.com/portops/sof-server/internal/metrics"
	"github.com/portops/sof-server/internal/scheduler"
	"github.com/portops/sof-server/internal/timeline"
	"github.com/portops/sof-server/internal/uploads"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		boot := zerolog.New(os.Stderr).With().Timestamp().Logger()
		boot.Fatal().Err(err).Msg("failed to load config")
	}

	log, err := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		boot := zerolog.New(os.Stderr).With().Timestamp().Logger()
		boot.Fatal().Err(err).Msg("failed to set up logging")
	}
	log.Info().Str("backend", cfg.AIBackend).Str("config_file", cfg.ConfigFile).Msg("starting sof-server")

	// Open database
	database, err := db.Open(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("failed to open database")
	}

	store, err := uploads.NewStore(cfg.UploadsPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open uploads directory")
	}

	vocab, err := classifier.LoadVocabulary(cfg.VocabularyFile)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load vocabulary")
	}

	gen, detector, err := newDetector(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create detector")
	}

	// Validate the AI backend at startup
	if gen != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := gen.HealthCheck(ctx); err != nil {
			log.Warn().Err(err).Str("backend", gen.Name()).
				Msg("AI backend health check failed; uploads will fail until it recovers")
		} else {
			log.Info().Str("backend", gen.Name()).Msg("AI backend connected")
		}
		cancel()
	}

	clock := clockwork.NewRealClock()
	builder := timeline.NewBuilder(
		classifier.NewClassifier(vocab),
		metrics.NewReporter(clock),
		log.With().Str("component", "timeline").Logger(),
	)

	// Create and start scheduler
	sched, err := scheduler.New(database, store, gen, scheduler.Config{
		Location: cfg.Location(),
		Clock:    clock,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create scheduler")
	}
	sched.Start()

	handlers := api.NewHandlers(api.Deps{
		Config:   cfg,
		DB:       database,
		Uploads:  store,
		Detector: detector,
		Builder:  builder,
		Health:   sched,
		Clock:    clock,
		Logger:   log,
	})

	// Start server
	addr := ":" + cfg.Port
	server := &http.Server{
		Addr:              addr,
		Handler:           api.NewRouter(handlers),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info().Str("addr", addr).Msg("listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	<-done
	log.Info().Msg("shutting down gracefully")

	// Extraction calls can take a while; give them time to finish
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}

	if err := sched.Stop(); err != nil {
		log.Error().Err(err).Msg("scheduler shutdown error")
	}

	if err := database.Close(); err != nil {
		log.Error().Err(err).Msg("database close error")
	}

	log.Info().Msg("shutdown complete")
}

// newDetector builds the configured detector. gen is nil for the pattern backend.
func newDetector(cfg *config.Config, log zerolog.Logger) (llm.Generator, extract.Detector, error) {
	var gen llm.Generator
	switch cfg.AIBackend {
	case config.BackendPattern:
		d, err := extract.NewPatternDetector()
		return nil, d, err
	case config.BackendGemini:
		c, err := llm.NewGeminiClient(context.Background(), cfg.GeminiAPIKey,
			cfg.GeminiModelText, cfg.GeminiModelPhoto, cfg.AIRequestsPerMinute)
		if err != nil {
			return nil, nil, err
		}
		gen = c
	case config.BackendOllama:
		c, err := llm.NewOllamaClient(cfg.OllamaURL, cfg.OllamaModel, cfg.AIRequestsPerMinute)
		if err != nil {
			return nil, nil, err
		}
		gen = c
	default:
		return nil, nil, errors.New("unknown AI backend " + cfg.AIBackend)
	}
	return gen, extract.NewAIDetector(gen, log.With().Str("component", "detector").Logger()), nil
}
