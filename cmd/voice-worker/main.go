// Command voice-worker runs the Call Orchestrator and the Background
// Dispatcher side by side, the two queue-consuming processes that make up
// the core's runtime, mirroring the teacher's cmd/conversation-worker
// structure.
package main

import (
	"context"
	"crypto/tls"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/brightline-labs/voicecore/cmd/mainconfig"
	"github.com/brightline-labs/voicecore/internal/callmodel"
	"github.com/brightline-labs/voicecore/internal/callstore"
	appconfig "github.com/brightline-labs/voicecore/internal/config"
	"github.com/brightline-labs/voicecore/internal/dispatch"
	"github.com/brightline-labs/voicecore/internal/lease"
	"github.com/brightline-labs/voicecore/internal/llmdriver"
	"github.com/brightline-labs/voicecore/internal/media"
	"github.com/brightline-labs/voicecore/internal/notify"
	"github.com/brightline-labs/voicecore/internal/observability/metrics"
	"github.com/brightline-labs/voicecore/internal/orchestrator"
	"github.com/brightline-labs/voicecore/internal/queue"
	"github.com/brightline-labs/voicecore/internal/tools"
	"github.com/brightline-labs/voicecore/pkg/logging"
)

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting voice worker", "env", cfg.Env)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, leases, queues := buildStorage(ctx, cfg, logger)
	llm := buildLLM(ctx, cfg, logger)
	redisClient := buildRedisClient(ctx, cfg, logger)
	flags := buildFlagStore(ctx, cfg)
	emailSender := buildEmailSender(ctx, cfg, logger)
	smsSender := buildSMSSender(cfg, logger)
	incidents := notify.NewIncidentNotifier(emailSender, cfg.IncidentAlertEmail, logger)
	reports := notify.NewService(emailSender, smsSender, cfg.OpsReportEmail, logger)
	callMetrics := metrics.NewCallMetrics(nil)

	orch := orchestrator.New(orchestrator.Dependencies{
		Store:      store,
		Leases:     leases,
		Queues:     queues,
		Bridges:    buildBridgeFactory(cfg, logger),
		LLM:        llm,
		Tools:      tools.NewRegistry(nil, smsEnqueuerAdapter{smsSender}, logger),
		ConfigSnap: flags.Load,
		Incidents:  incidents,
		Metrics:    callMetrics,
		Logger:     logger,
	})

	disp := dispatch.New(dispatch.Dependencies{
		Store:     store,
		Queues:    queues,
		LLM:       llm,
		Reports:   reports,
		Incidents: incidents,
		Marker:    dispatch.NewMarker(redisClient, logger),
		Metrics:   callMetrics,
		Logger:    logger,
	})

	orch.Start()
	disp.Start()
	go runFlagRefreshLoop(ctx, flags, logger)
	go runMetricsServer(cfg, logger)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down voice worker...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := orch.Shutdown(shutdownCtx); err != nil {
		logger.Error("orchestrator shutdown did not complete cleanly", "error", err.Error())
	}
	if err := disp.Shutdown(shutdownCtx); err != nil {
		logger.Error("dispatcher shutdown did not complete cleanly", "error", err.Error())
	}
	logger.Info("voice worker stopped")
}

// buildRedisClient returns a configured Redis client or nil when
// cfg.RedisAddr is unset, ported from the teacher's
// bootstrap.BuildRedisClient without the unverified-ping option, since
// this worker's lease manager and dedup marker already degrade gracefully
// on a nil client.
func buildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) *redis.Client {
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	opts := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return redis.NewClient(opts)
}

func buildStorage(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (callstore.Store, lease.Manager, queue.Set) {
	if cfg.UseMemoryQueue {
		return callstore.NewMemoryStore(), lease.NewMemoryManager(), queue.Set{
			CallEvents: queue.NewMemoryQueue(128),
			SMSEvents:  queue.NewMemoryQueue(128),
			PostCall:   queue.NewMemoryQueue(128),
			Training:   queue.NewMemoryQueue(128),
		}
	}

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	dynamoClient := dynamodb.NewFromConfig(awsCfg)
	store := callstore.NewDynamoStore(dynamoClient, cfg.CallsTable, cfg.CallIDIndex, logger)

	redisClient := buildRedisClient(ctx, cfg, logger)
	leases := lease.NewDynamoManager(dynamoClient, cfg.LeasesTable, redisClient, logger)

	sqsClient := sqs.NewFromConfig(awsCfg)
	queues := queue.Set{
		CallEvents: queue.NewSQSQueue(sqsClient, cfg.CallEventsQueueURL),
		SMSEvents:  queue.NewSQSQueue(sqsClient, cfg.SMSEventsQueueURL),
		PostCall:   queue.NewSQSQueue(sqsClient, cfg.PostCallQueueURL),
		Training:   queue.NewSQSQueue(sqsClient, cfg.TrainingQueueURL),
	}
	return store, leases, queues
}

// buildLLM wires the fast/slow tiered client: Bedrock Converse as the fast
// tier, Gemini as the slow tier, the same pairing the teacher's
// bootstrap.conversation.go assembles for its primary/fallback client.
func buildLLM(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) *llmdriver.TieredClient {
	var fast, slow llmdriver.LLMClient

	if cfg.AWSRegion != "" {
		awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			logger.Error("failed to load AWS config for bedrock client", "error", err)
		} else {
			fast = llmdriver.NewBedrockLLMClient(bedrockruntime.NewFromConfig(awsCfg))
		}
	}
	if cfg.GoogleAPIKey != "" {
		modelID := cfg.LLMSlowModelID
		if modelID == "" {
			modelID = "gemini-2.5-flash"
		}
		geminiClient, err := llmdriver.NewGeminiLLMClient(ctx, cfg.GoogleAPIKey, modelID)
		if err != nil {
			logger.Error("failed to create gemini client", "error", err)
		} else {
			slow = geminiClient
		}
	}
	return llmdriver.NewTieredClient(fast, slow, logger)
}

// runFlagRefreshLoop periodically re-reads feature_flags so a live call
// scope's next ConfigSnap() call sees operator changes without a restart.
func runFlagRefreshLoop(ctx context.Context, flags *appconfig.Store, logger *logging.Logger) {
	ticker := time.NewTicker(flags.TTL())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := flags.Refresh(ctx); err != nil {
				logger.Error("failed to refresh feature flags", "error", err)
			}
		}
	}
}

// runMetricsServer serves /metrics on its own port so a scrape never
// contends with the worker's SQS/DynamoDB long-polling loops.
func runMetricsServer(cfg *appconfig.Config, logger *logging.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	logger.Info("metrics server listening", "addr", ":"+cfg.MetricsPort)
	if err := http.ListenAndServe(":"+cfg.MetricsPort, mux); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics server error", "error", err)
	}
}

func buildFlagStore(ctx context.Context, cfg *appconfig.Config) *appconfig.Store {
	if cfg.DatabaseURL == "" {
		return appconfig.NewStore(nil, 0)
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return appconfig.NewStore(nil, 0)
	}
	return appconfig.NewStore(pool, 0)
}

// buildBridgeFactory uses an in-process Simulator for local/memory-queue
// runs and a Telnyx-backed bridge otherwise. A real deployment resolves the
// per-call Telnyx call_control_id out of band (the webhook that fires
// call.initiated); wiring that handoff is tracked in DESIGN.md rather than
// invented here, so the Telnyx path is left for a future pass and the
// worker degrades to the Simulator bridge until then.
func buildBridgeFactory(cfg *appconfig.Config, logger *logging.Logger) orchestrator.BridgeFactory {
	return simulatorBridgeFactory{logger: logger}
}

type simulatorBridgeFactory struct {
	logger *logging.Logger
}

func (f simulatorBridgeFactory) NewBridge(ctx context.Context, call *callmodel.Call) (media.Bridge, error) {
	return media.NewSimulator(), nil
}

func buildEmailSender(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) notify.EmailSender {
	if cfg.SendGridAPIKey != "" {
		return notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
		}, logger)
	}
	if cfg.SESFromEmail != "" {
		awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			logger.Error("failed to load AWS config for SES sender", "error", err)
			return notify.NewStubEmailSender(logger)
		}
		return notify.NewSESSender(sesv2.NewFromConfig(awsCfg), notify.SESConfig{FromEmail: cfg.SESFromEmail}, logger)
	}
	return notify.NewStubEmailSender(logger)
}

func buildSMSSender(cfg *appconfig.Config, logger *logging.Logger) notify.SMSSender {
	return notify.NewStubSMSSender(logger)
}

type smsEnqueuerAdapter struct {
	sender notify.SMSSender
}

func (a smsEnqueuerAdapter) EnqueueSMS(ctx context.Context, toPhone, body string) error {
	return a.sender.SendSMS(ctx, toPhone, body)
}
