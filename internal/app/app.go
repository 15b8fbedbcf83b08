// Package app assembles the chat service from configuration. It is shared
// by the HTTP server and the Lambda entry points.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"codechat/handler"
	"codechat/internal/config"
	"codechat/internal/integrations/openai"
	"codechat/internal/integrations/paramstore"
	"codechat/internal/integrations/tokenizer"
	"codechat/internal/metrics"
	"codechat/internal/repository"
	"codechat/internal/usecase"
)

const paramCacheTTL = 5 * time.Minute

type Options struct {
	Logger *slog.Logger

	// LoadAWSConfig defaults to the SDK's default credential chain.
	LoadAWSConfig func(ctx context.Context) (aws.Config, error)
}

// App holds the wired dependencies of one process.
type App struct {
	Service  *usecase.ChatService
	Handler  *handler.Handler
	Registry *prometheus.Registry

	closers []func()
}

func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config must not be nil")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	loadAWS := opts.LoadAWSConfig
	if loadAWS == nil {
		loadAWS = func(ctx context.Context) (aws.Config, error) {
			return awsconfig.LoadDefaultConfig(ctx)
		}
	}
	var (
		awsCfg    aws.Config
		awsLoaded bool
	)
	awsConfig := func() (aws.Config, error) {
		if awsLoaded {
			return awsCfg, nil
		}
		c, err := loadAWS(ctx)
		if err != nil {
			return aws.Config{}, fmt.Errorf("app: load aws config: %w", err)
		}
		awsCfg, awsLoaded = c, true
		return awsCfg, nil
	}

	a := &App{Registry: prometheus.NewRegistry()}
	a.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	store, err := a.newStore(ctx, cfg, awsConfig, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	keys, err := newKeySource(cfg, awsConfig)
	if err != nil {
		a.Close()
		return nil, err
	}
	llm, err := openai.NewClient(keys, openai.Config{
		Model:           cfg.OpenAIModel,
		Temperature:     cfg.OpenAITemperature,
		MaxOutputTokens: cfg.OpenAIMaxOutputTokens,
		RequestTimeout:  cfg.OpenAIRequestTimeout,
		IdleTimeout:     cfg.StreamIdleTimeout,
	}, openai.WithBaseURL(cfg.OpenAIBaseURL))
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Service, err = usecase.NewChatService(store, llm, usecase.Options{
		SystemPrompt:       cfg.SystemPrompt,
		MaxMessageLength:   cfg.MaxMessageLength,
		MaxHistoryMessages: cfg.MaxHistoryMessages,
		Tokens:             tokenizer.New(),
		Metrics:            metrics.New(a.Registry),
		Logger:             logger,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Handler, err = handler.NewHandler(a.Service, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	logger.Info("chat service ready", "backend", cfg.StoreBackend, "model", cfg.OpenAIModel)
	return a, nil
}

func (a *App) newStore(ctx context.Context, cfg *config.Config, awsConfig func() (aws.Config, error), logger *slog.Logger) (usecase.SessionStore, error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		if err := repository.RunMigrations(cfg.DatabaseURL, repository.MigrationsFS()); err != nil {
			return nil, fmt.Errorf("app: migrate: %w", err)
		}
		pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("app: connect postgres: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		return repository.NewPostgres(pool)
	case config.BackendDynamoDB:
		c, err := awsConfig()
		if err != nil {
			return nil, err
		}
		return repository.NewDynamoDB(awsdynamodb.NewFromConfig(c), cfg.StateTable)
	case config.BackendMemory:
		logger.Warn("using in-memory session store; history is lost on restart")
		return repository.NewMemory(), nil
	default:
		return nil, fmt.Errorf("app: unknown store backend %q", cfg.StoreBackend)
	}
}

func newKeySource(cfg *config.Config, awsConfig func() (aws.Config, error)) (openai.KeySource, error) {
	if cfg.OpenAIAPIKey != "" {
		return openai.StaticKey(cfg.OpenAIAPIKey), nil
	}
	c, err := awsConfig()
	if err != nil {
		return nil, err
	}
	params, err := paramstore.New(awsssm.NewFromConfig(c), paramstore.WithCacheTTL(paramCacheTTL))
	if err != nil {
		return nil, err
	}
	return openai.ParamStoreKey{Getter: params, Name: cfg.OpenAIAPIKeyParam}, nil
}

// Engine returns the HTTP routes plus /metrics.
func (a *App) Engine() *gin.Engine {
	engine := a.Handler.Engine()
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{})))
	return engine
}

// Close releases pooled connections.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
