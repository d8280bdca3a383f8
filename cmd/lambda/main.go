package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"drax-assistant/handler"
	"drax-assistant/internal/bootstrap"
	"drax-assistant/internal/config"
	"drax-assistant/internal/integrations/paramstore"
	"drax-assistant/internal/telemetry"
)

func main() {
	ctx := context.Background()
	logger := telemetry.NewJSONLogger(os.Stdout, os.Getenv("DRAX_DEBUG") != "")
	slog.SetDefault(logger)

	// ---- Configuration (read only here) ----
	cfg, err := config.LoadFile(envOr("DRAX_CONFIG", "configs/drax.toml"))
	if err != nil {
		fatal("failed to load config", err)
	}
	cfg.ParamPrefix = mustEnv("PARAM_PREFIX")
	cfg.Store.Kind = config.StoreDynamoDB
	cfg.Store.DynamoTable = mustEnv("SESSION_TABLE")
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		fatal("invalid environment", err)
	}
	// Audio never reaches the API; requests are text only.
	cfg.DisableSpeech()

	// ---- AWS SDK config ----
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		fatal("failed to load AWS config", err)
	}

	// ---- Clients ----
	params, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
	if err != nil {
		fatal("failed to create SSM client", err)
	}
	if err := cfg.Validate(); err != nil {
		fatal("invalid configuration", err)
	}

	// ---- Assistant ----
	app, err := bootstrap.Build(ctx, cfg, bootstrap.Deps{
		Logger:   logger,
		DynamoDB: awsdynamodb.NewFromConfig(awsCfg),
		// The chat key is read from Parameter Store on first use.
		Params: params,
	})
	if err != nil {
		fatal("failed to build assistant", err)
	}

	// ---- Handler ----
	h, err := handler.NewHandler(app.Coordinator, handler.WithLogger(logger))
	if err != nil {
		fatal("failed to create handler", err)
	}

	lambda.Start(h.Handle)
}

func fatal(msg string, err error) {
	slog.Error(msg, "err", err)
	os.Exit(1)
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
