package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/brightline-labs/voicecore/cmd/mainconfig"
	"github.com/brightline-labs/voicecore/internal/api/handlers"
	"github.com/brightline-labs/voicecore/internal/api/router"
	"github.com/brightline-labs/voicecore/internal/callstore"
	appconfig "github.com/brightline-labs/voicecore/internal/config"
	"github.com/brightline-labs/voicecore/internal/queue"
	"github.com/brightline-labs/voicecore/pkg/logging"
)

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting voicecore API server", "env", cfg.Env, "port", cfg.Port)

	ctx := context.Background()

	store, callEvents := buildDependencies(ctx, cfg, logger)

	callHandler := handlers.NewCallHandler(store, callEvents, logger)
	r := router.New(&router.Config{
		Logger:         logger,
		CallHandler:    callHandler,
		JWTSecret:      cfg.JWTSecret,
		MetricsHandler: promhttp.Handler(),
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

// buildDependencies wires the Call Store and call_events queue, falling
// back to an in-memory queue when UseMemoryQueue is set the way the
// teacher's USE_MEMORY_QUEUE flag does for local dev.
func buildDependencies(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (callstore.Store, queue.Queue) {
	if cfg.UseMemoryQueue {
		return nil, queue.NewMemoryQueue(128)
	}

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	dynamoClient := dynamodb.NewFromConfig(awsCfg)
	store := callstore.NewDynamoStore(dynamoClient, cfg.CallsTable, cfg.CallIDIndex, logger)

	sqsClient := sqs.NewFromConfig(awsCfg)
	callEvents := queue.NewSQSQueue(sqsClient, cfg.CallEventsQueueURL)

	return store, callEvents
}
