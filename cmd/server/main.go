// Code captcha server.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/ashureev/codecaptcha/internal/api"
	"github.com/ashureev/codecaptcha/internal/challenge"
	"github.com/ashureev/codecaptcha/internal/config"
	"github.com/ashureev/codecaptcha/internal/identity"
	"github.com/ashureev/codecaptcha/internal/keys"
	"github.com/ashureev/codecaptcha/internal/metrics"
	"github.com/ashureev/codecaptcha/internal/middleware"
	"github.com/ashureev/codecaptcha/internal/proof"
	"github.com/ashureev/codecaptcha/internal/questions"
	"github.com/ashureev/codecaptcha/internal/questions/defaults"
	"github.com/ashureev/codecaptcha/internal/retention"
	"github.com/ashureev/codecaptcha/internal/store"
	"github.com/ashureev/codecaptcha/web"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("Starting server", "port", cfg.Port, "single_use", cfg.SingleUse, "postgres", cfg.DatabaseURL != "")

	// Initialize dependencies.
	repo, err := store.Open(context.Background(), cfg.StoreDSN())
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	pair, created, err := keys.LoadOrGenerate(cfg.KeyPath, cfg.KeyAutogen)
	if err != nil {
		slog.Error("Failed to load signing keys", "error", err, "key_path", cfg.KeyPath)
		os.Exit(1)
	}
	slog.Info("Signing keys ready", "key_path", cfg.KeyPath, "generated", created)

	set, err := loadQuestionSet(cfg.QuestionSetPath)
	if err != nil {
		slog.Error("Failed to load question set", "error", err, "path", cfg.QuestionSetPath)
		os.Exit(1)
	}
	slog.Info("Question set loaded", "constructs", len(set.Construct), "bases", len(set.Base), "parts", len(set.Part))

	signer, err := proof.NewSigner(pair.Private, nil)
	if err != nil {
		slog.Error("Failed to initialize signer", "error", err)
		os.Exit(1)
	}

	// Initialize services.
	m := metrics.New()
	svc := challenge.NewService(repo, questions.NewGenerator(set, logger), signer, repo, challenge.Options{
		SingleUse:    cfg.SingleUse,
		ChallengeTTL: cfg.ChallengeTTL,
		TokenTTL:     cfg.TokenTTL,
	}, m, logger)

	// Initialize handlers.
	challengeHandler, err := api.NewChallengeHandler(svc, api.ChallengeConfig{
		PublicKey: pair.Public,
		Issuer:    cfg.Issuer,
		Leeway:    cfg.VerifyLeeway,
		Metrics:   m,
	})
	if err != nil {
		slog.Error("Failed to initialize challenge handler", "error", err)
		os.Exit(1)
	}
	healthHandler := api.NewHealthHandler(repo, 5*time.Second)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	r.Use(identity.Middleware)

	healthHandler.RegisterHealth(r)
	challengeHandler.RegisterRoutes(r)
	r.Handle("/metrics", m.Handler())

	// Embedded challenge widget.
	r.Handle(web.Prefix+"*", web.WidgetHandler())

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	retention.Start(ctx, retention.Config{
		Challenges: repo,
		Markers:    repo,
		Retention:  cfg.Retention,
		Interval:   cfg.SweepInterval,
		Metrics:    m,
	})

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}

func loadQuestionSet(path string) (*questions.Set, error) {
	if path == "" {
		return defaults.Set()
	}
	return questions.Load(path)
}
