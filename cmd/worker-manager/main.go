// cmd/worker-manager/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/Daily-Wins/dw-chromegpt/internal/assistant"
	"github.com/Daily-Wins/dw-chromegpt/internal/batch"
	"github.com/Daily-Wins/dw-chromegpt/internal/common/camunda"
	"github.com/Daily-Wins/dw-chromegpt/internal/common/config"
	"github.com/Daily-Wins/dw-chromegpt/internal/common/database"
	"github.com/Daily-Wins/dw-chromegpt/internal/common/logger"
	"github.com/Daily-Wins/dw-chromegpt/internal/common/observability"
	"github.com/Daily-Wins/dw-chromegpt/internal/credentials"
	"github.com/Daily-Wins/dw-chromegpt/internal/formfill"
	"github.com/Daily-Wins/dw-chromegpt/internal/progress"
	"github.com/Daily-Wins/dw-chromegpt/internal/resolver"
	v1 "github.com/Daily-Wins/dw-chromegpt/internal/transport/http/v1"

	fillform "github.com/Daily-Wins/dw-chromegpt/internal/workers/formfill/fill-form"
	resolveformfield "github.com/Daily-Wins/dw-chromegpt/internal/workers/formfill/resolve-form-field"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

// needsRedis reports whether any configured component reads or writes Redis.
func needsRedis(cfg *config.Config) bool {
	return cfg.Credentials.Provider == "redis" || cfg.Progress.RedisEnabled
}

type closer interface{ Close() }

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()

	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting form-fill service...",
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
		zap.String("envFile", config.EnvFile),
	)

	obs, err := observability.New(cfg.App.Name)
	if err != nil {
		zapLog.Fatal("observability init failed", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Init Redis with retry ---
	var redis *database.RedisClient
	if needsRedis(cfg) {
		err = retryWithBackoff(func() error {
			var err error
			redis, err = database.NewRedis(cfg.Redis)
			if err != nil {
				return err
			}
			return redis.Ping(ctx)
		}, 10, 2*time.Second, zapLog, "Redis connection")

		if err != nil {
			zapLog.Fatal("redis failed after retries", zap.Error(err))
		}
		zapLog.Info("Redis connected successfully")
	}

	// --- Credentials ---
	static := credentials.NewStatic(cfg.Assistant.APIKey, cfg.Assistant.AssistantID)
	var (
		provider credentials.Provider = static
		store    credentials.Store
	)
	if cfg.Credentials.Provider == "redis" {
		redisStore := credentials.NewRedisStore(redis, cfg.Credentials.RedisKey, static, config.GetDuration(cfg.Credentials.CacheTTL), log)
		provider, store = redisStore, redisStore
	}
	if creds, err := provider.Credentials(ctx); err != nil || creds.Validate() != nil {
		zapLog.Warn("assistant credentials are not configured; requests will fail until they are",
			zap.String("provider", cfg.Credentials.Provider))
	}

	// --- Progress sinks ---
	sinks := []progress.Reporter{progress.NewLogReporter(log)}
	if cfg.Progress.RedisEnabled {
		sinks = append(sinks, progress.NewRedisPublisher(redis, cfg.Progress.RedisChannel, log))
	}
	var hub *progress.Hub
	if cfg.Progress.WebSocket {
		hub = progress.NewHub(log)
		go hub.Run(ctx)
		sinks = append(sinks, hub)
	}

	// --- Pipeline ---
	res := resolver.New(resolver.Config{
		FieldMaxPolls: cfg.Assistant.FieldMaxPolls,
		FormMaxPolls:  cfg.Assistant.FormMaxPolls,
	}, log, obs)

	sessions := batch.AssistantSessions(assistant.Config{
		BaseURL:          cfg.Assistant.BaseURL,
		BetaHeader:       cfg.Assistant.BetaHeader,
		RequestTimeout:   config.GetDuration(cfg.Assistant.RequestTimeout),
		PollInterval:     config.GetDuration(cfg.Assistant.PollInterval),
		MaxResponseBytes: cfg.Assistant.MaxResponseBytes,
	}, log)

	orchestrator := batch.NewOrchestrator(batch.Config{
		Concurrency: cfg.Filling.Concurrency,
		GroupDelay:  config.GetDuration(cfg.Filling.BatchDelay),
		MaxFields:   cfg.Filling.MaxFields,
	}, res, provider, sessions, log,
		batch.WithProgress(progress.NewMulti(sinks...)),
		batch.WithObservability(obs),
	)

	svc := formfill.NewService(res, orchestrator, provider, sessions, log)

	// --- Camunda workers ---
	var (
		zeebe   *camunda.Client
		workers []closer
	)
	if cfg.Camunda.Enabled {
		err = retryWithBackoff(func() error {
			var err error
			zeebe, err = camunda.NewClientWithConfig(&camunda.ClientConfig{
				GatewayAddress:         cfg.Camunda.BrokerAddress,
				UsePlaintextConnection: true,
				RequestTimeout:         config.GetDuration(cfg.Camunda.RequestTimeout),
			})
			return err
		}, 10, 2*time.Second, zapLog, "Zeebe client initialization")

		if err != nil {
			zapLog.Fatal("zeebe client failed after retries", zap.Error(err))
		}
		zapLog.Info("Zeebe client connected successfully")

		resolveHandler, err := resolveformfield.NewHandler(resolveformfield.HandlerOptions{
			AppConfig: cfg,
			Camunda:   zeebe,
			Service:   svc,
			Logger:    log,
		})
		if err != nil {
			zapLog.Fatal("resolve-form-field handler", zap.Error(err))
		}
		if err := resolveHandler.Register(); err != nil {
			zapLog.Fatal("resolve-form-field registration", zap.Error(err))
		}
		workers = append(workers, resolveHandler)

		fillHandler, err := fillform.NewHandler(fillform.HandlerOptions{
			AppConfig: cfg,
			Camunda:   zeebe,
			Service:   svc,
			Logger:    log,
		})
		if err != nil {
			zapLog.Fatal("fill-form handler", zap.Error(err))
		}
		if err := fillHandler.Register(); err != nil {
			zapLog.Fatal("fill-form registration", zap.Error(err))
		}
		workers = append(workers, fillHandler)

		zapLog.Info("Camunda workers registered", zap.Int("count", len(workers)))
	}

	// --- HTTP server ---
	handlerOpts := []v1.Option{
		v1.WithCredentialSource(cfg.Credentials.Provider),
		v1.WithVersion(cfg.App.Version),
		v1.WithAllowedOrigins(cfg.Server.AllowedOrigins...),
		v1.WithAPIToken(cfg.Server.APIToken),
		v1.WithReadiness(func(ctx context.Context) error {
			if redis != nil {
				if err := redis.Ping(ctx); err != nil {
					return err
				}
			}
			if zeebe != nil {
				return zeebe.HealthCheck(ctx)
			}
			return nil
		}),
	}
	if hub != nil {
		handlerOpts = append(handlerOpts, v1.WithHub(hub))
	}
	if store != nil {
		handlerOpts = append(handlerOpts, v1.WithCredentialStore(store))
		if cfg.Server.APIToken == "" {
			zapLog.Warn("server.api_token is empty; credential updates over HTTP are disabled")
		}
	}
	handler := v1.NewHandler(svc, log, handlerOpts...)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	if cfg.Server.Enabled {
		handler.RegisterRoutes(e)
	} else {
		handler.RegisterHealthRoutes(e)
	}

	go func() {
		zapLog.Info("HTTP server listening",
			zap.String("address", cfg.Server.Address),
			zap.Bool("api", cfg.Server.Enabled),
		)
		if err := e.Start(cfg.Server.Address); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLog.Fatal("http server failed", zap.Error(err))
		}
	}()

	// --- Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	zapLog.Info("Shutting down...", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("http shutdown", zap.Error(err))
	}
	for _, w := range workers {
		w.Close()
	}
	if zeebe != nil {
		if err := zeebe.Close(); err != nil {
			zapLog.Error("zeebe close", zap.Error(err))
		}
	}
	cancel()
	if redis != nil {
		if err := redis.Close(); err != nil {
			zapLog.Error("redis close", zap.Error(err))
		}
	}
	if err := obs.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("observability shutdown", zap.Error(err))
	}

	zapLog.Info("Form-fill service stopped")
}
