package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"codechat/handler"
	"codechat/internal/app"
	"codechat/internal/config"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	cfg, err := config.LoadWithDefaults(map[string]string{
		"STORE_BACKEND": config.BackendDynamoDB,
	})
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	level, _ := cfg.Level()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// ---- Dependencies ----
	a, err := app.New(ctx, cfg, app.Options{Logger: logger})
	if err != nil {
		logger.Error("failed to build chat service", "err", err)
		os.Exit(1)
	}

	// ---- Handler ----
	adapter, err := handler.NewLambdaAdapter(a.Engine())
	if err != nil {
		logger.Error("failed to create lambda adapter", "err", err)
		os.Exit(1)
	}

	lambda.Start(adapter.Handle)
}
