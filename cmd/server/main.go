package main

import (
	"context"
	"crypto/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	chiadapter "github.com/awslabs/aws-lambda-go-api-proxy/chi"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/nimbleai/internal/api"
	"github.com/eldtechnologies/nimbleai/internal/api/middleware"
	"github.com/eldtechnologies/nimbleai/internal/auth"
	"github.com/eldtechnologies/nimbleai/internal/config"
	"github.com/eldtechnologies/nimbleai/internal/crypto"
	"github.com/eldtechnologies/nimbleai/internal/handlers"
	"github.com/eldtechnologies/nimbleai/internal/meta"
	"github.com/eldtechnologies/nimbleai/internal/store"
	"github.com/eldtechnologies/nimbleai/internal/wsrouter"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	ctx := context.Background()

	// Integration store: PostgreSQL when configured, SQLite otherwise
	var integrations store.IntegrationStore
	if cfg.DatabaseURL != "" {
		logger.Info().Msg("running database migrations...")
		if err := store.RunMigrations(cfg.DatabaseURL); err != nil {
			logger.Fatal().Err(err).Msg("migration failed")
		}
		logger.Info().Msg("migrations completed")

		pgStore, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connection failed")
		}
		integrations = pgStore
		logger.Info().Msg("connected to PostgreSQL")
	} else {
		sqliteStore, err := store.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			logger.Fatal().Err(err).Str("path", cfg.SQLitePath).Msg("sqlite open failed")
		}
		integrations = sqliteStore
		logger.Warn().Str("path", cfg.SQLitePath).Msg("DATABASE_URL not set, using SQLite")
	}
	defer integrations.Close()

	// Message store
	if cfg.RedisURL == "" {
		logger.Fatal().Msg("REDIS_URL is required for message storage")
	}
	redisStore, err := store.NewRedisStore(ctx, cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection failed")
	}
	defer redisStore.Close()
	logger.Info().Msg("connected to Redis")

	// Token sealing
	tokenKey := cfg.TokenKey
	if len(tokenKey) == 0 {
		tokenKey = make([]byte, 32)
		if _, err := rand.Read(tokenKey); err != nil {
			logger.Fatal().Err(err).Msg("failed to generate token key")
		}
		logger.Warn().Msg("TOKEN_ENCRYPTION_KEY not set, sealed tokens will not survive a restart")
	}
	sealer, err := crypto.NewSealer(tokenKey)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid TOKEN_ENCRYPTION_KEY")
	}

	if cfg.JWTSecret == config.DevelopmentJWTSecret {
		logger.Warn().Msg("JWT_SECRET not set, using development secret")
	}
	verifier := auth.NewVerifier(cfg.JWTSecret)

	deps := handlers.Deps{
		Integrations: integrations,
		Messages:     redisStore,
		Exchanger:    meta.NewClient(cfg.MetaGraphURL, cfg.MetaGraphVersion, cfg.MetaAppID, cfg.MetaAppSecret),
		Sealer:       sealer,
		RedirectURI:  cfg.MetaRedirectURI,
		Logger:       logger,
	}

	// Optional fan-out of stored messages to live sockets
	if cfg.FanOutEnabled() {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to load AWS config")
		}
		conns := store.NewDynamoStore(dynamodb.NewFromConfig(awsCfg), cfg.ConnectionsTable)
		pusher := wsrouter.NewGatewayPusher(awsCfg, cfg.WebSocketEndpoint)
		deps.Broadcaster = wsrouter.NewFanout(conns, pusher, logger)
		deps.Connections = conns
		logger.Info().
			Str("table", cfg.ConnectionsTable).
			Str("endpoint", cfg.WebSocketEndpoint).
			Msg("websocket fan-out enabled")
	}

	// Create router
	router := api.NewRouter(logger, api.Options{
		Handler:  handlers.NewHandler(deps),
		Verifier: verifier,
		Redis:    redisStore.Client(),
		RateLimit: middleware.RateLimiterConfig{
			Whitelist:        cfg.RateLimitWhitelist,
			AutoBlockEnabled: cfg.AutoBlockEnabled,
		},
		AllowedOrigins: cfg.AllowedOrigins,
	})

	// Behind API Gateway the Lambda runtime owns the process
	if os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != "" {
		logger.Info().Str("env", cfg.Env).Msg("starting NimbleAI backend in Lambda mode")
		lambda.Start(chiadapter.New(router).ProxyWithContext)
		return
	}

	// Create server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Msg("starting NimbleAI backend")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")

	// Graceful shutdown with 30 second timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("server stopped")
}
