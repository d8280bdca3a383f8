package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"drax-assistant/internal/bootstrap"
	"drax-assistant/internal/config"
	"drax-assistant/internal/console"
	"drax-assistant/internal/integrations/paramstore"
	"drax-assistant/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "drax:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "configs/drax.toml", "path to the TOML config file")
	sessionID := flag.String("session-id", "", "session to resume; prompts when empty")
	debug := flag.Bool("debug", false, "log at debug level")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		return err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return err
	}
	if *debug {
		cfg.Telemetry.Debug = true
	}

	var deps bootstrap.Deps
	if cfg.ParamPrefix != "" || cfg.Store.Kind == config.StoreDynamoDB {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return fmt.Errorf("load AWS config: %w", err)
		}
		if cfg.ParamPrefix != "" {
			params, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
			if err != nil {
				return err
			}
			if err := cfg.LoadSecrets(ctx, params); err != nil {
				return err
			}
			deps.Params = params
		}
		if cfg.Store.Kind == config.StoreDynamoDB {
			deps.DynamoDB = awsdynamodb.NewFromConfig(awsCfg)
		}
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration:\n%w", err)
	}

	logger, logCloser, err := telemetry.InitLogger(cfg.Telemetry.LogDir, cfg.Telemetry.Debug)
	if err != nil {
		return err
	}
	defer logCloser.Close()
	deps.Logger = logger

	deps.Telemetry = telemetry.Noop()
	if cfg.Telemetry.Enabled {
		tel, err := telemetry.InitTelemetry(ctx, cfg.Telemetry.LogDir, 30*time.Second)
		if err != nil {
			return err
		}
		deps.Telemetry = tel
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := deps.Telemetry.Shutdown(shutdownCtx); err != nil {
			logger.Error("telemetry shutdown failed", "err", err)
		}
	}()

	app, err := bootstrap.Build(ctx, cfg, deps)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Error("close failed", "err", err)
		}
	}()

	c, err := console.New(app.Coordinator,
		console.WithSpeech(app.Speech),
		console.WithLogger(logger),
		console.WithOutputDir(cfg.Speech.OutputDir),
		console.WithSessionID(*sessionID),
	)
	if err != nil {
		return err
	}

	err = c.Run(ctx, os.Stdin)
	if errors.Is(err, context.Canceled) {
		fmt.Println("\nGoodbye!")
		return nil
	}
	if err != nil {
		return err
	}
	logger.Debug("session ended", "session_id", c.SessionID())
	return nil
}
