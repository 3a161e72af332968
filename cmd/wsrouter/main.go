package main

import (
	"context"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/nimbleai/internal/auth"
	"github.com/eldtechnologies/nimbleai/internal/backend"
	"github.com/eldtechnologies/nimbleai/internal/config"
	"github.com/eldtechnologies/nimbleai/internal/store"
	"github.com/eldtechnologies/nimbleai/internal/wsrouter"
)

func main() {
	cfg := config.LoadRouter()

	var logger zerolog.Logger
	if cfg.Env == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Str("function", os.Getenv("AWS_LAMBDA_FUNCTION_NAME")).
			Logger()
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load AWS config")
	}

	if cfg.JWTSecret == config.DevelopmentJWTSecret {
		logger.Warn().Msg("JWT_SECRET not set, using development secret")
	}

	router := wsrouter.NewRouter(
		store.NewDynamoStore(dynamodb.NewFromConfig(awsCfg), cfg.ConnectionsTable),
		wsrouter.NewGatewayPusher(awsCfg, cfg.WebSocketEndpoint),
		backend.NewClient(cfg.BackendURL, cfg.BackendTimeout),
		auth.NewVerifier(cfg.JWTSecret),
		wsrouter.Options{
			ConnectionTTL: cfg.ConnectionTTL,
			FetchLimit:    cfg.FetchLimit,
		},
		logger,
	)

	logger.Info().
		Str("table", cfg.ConnectionsTable).
		Str("backend", cfg.BackendURL).
		Msg("starting websocket router")

	lambda.Start(router.Handle)
}
