package main

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"

	firebase "firebase.google.com/go/v4"

	"github.com/joho/godotenv"

	"github.com/tinywideclouds/go-push-relay/internal/api"
	"github.com/tinywideclouds/go-push-relay/internal/dispatch"
	"github.com/tinywideclouds/go-push-relay/internal/ingest"
	"github.com/tinywideclouds/go-push-relay/internal/pipeline"
	"github.com/tinywideclouds/go-push-relay/internal/platform/expo"
	"github.com/tinywideclouds/go-push-relay/internal/platform/fcm"
	"github.com/tinywideclouds/go-push-relay/internal/registry"
	"github.com/tinywideclouds/go-push-relay/internal/storage/cache"
	fsStore "github.com/tinywideclouds/go-push-relay/internal/storage/firestore"
	"github.com/tinywideclouds/go-push-relay/internal/storage/memory"
	"github.com/tinywideclouds/go-push-relay/pkg/push"

	"github.com/tinywideclouds/go-push-relay/pushrelay"
	"github.com/tinywideclouds/go-push-relay/pushrelay/config"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gopkg.in/yaml.v3"
)

//go:embed local.yaml
var configFile []byte

func main() {
	_ = godotenv.Load()

	var logLevel slog.Level
	switch os.Getenv("LOG_LEVEL") {
	case "debug", "DEBUG":
		logLevel = slog.LevelDebug
	case "info", "INFO":
		logLevel = slog.LevelInfo
	case "warn", "WARN":
		logLevel = slog.LevelWarn
	case "error", "ERROR":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})).With("service", "go-push-relay")
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Config Loading ---
	var yamlCfg config.YamlConfig
	if err := yaml.Unmarshal(configFile, &yamlCfg); err != nil {
		logger.Error("Failed to unmarshal embedded yaml config", "err", err)
		os.Exit(1)
	}
	baseCfg, _ := config.NewConfigFromYaml(&yamlCfg, logger)
	cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg, logger)
	if err != nil {
		logger.Error("Config failed", "err", err)
		os.Exit(1)
	}

	// --- Token Store (Decorated) ---
	var tokenStore push.TokenStore
	switch cfg.Store.Backend {
	case config.StoreMemory:
		tokenStore = memory.New()
		logger.Info("TokenStore initialized", "type", "memory")
	default:
		fsClient, err := firestore.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			logger.Error("Firestore client failed", "err", err)
			os.Exit(1)
		}
		defer fsClient.Close()
		tokenStore = fsStore.New(fsClient)
		logger.Info("TokenStore initialized", "type", "firestore")
	}

	if cfg.Redis.Enabled {
		logger.Info("Initializing Redis cache layer...", "addr", cfg.Redis.Addr)
		redisClient, err := cache.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Error("Failed to connect to Redis", "err", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		ttl := 24 * time.Hour
		if cfg.Redis.TTLHours > 0 {
			ttl = time.Duration(cfg.Redis.TTLHours) * time.Hour
		}
		tokenStore = cache.NewCachedTokenStore(tokenStore, redisClient, ttl)
		logger.Info("TokenStore upgraded", "type", "redis_cached_"+cfg.Store.Backend)
	}

	// --- Gateway ---
	var gateway push.Gateway
	switch cfg.Gateway.Kind {
	case config.GatewayFCM:
		fbApp, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID})
		if err != nil {
			logger.Error("Failed to initialize Firebase App", "err", err)
			os.Exit(1)
		}
		fcmMessaging, err := fbApp.Messaging(ctx)
		if err != nil {
			logger.Error("Failed to create FCM messaging client", "err", err)
			os.Exit(1)
		}
		gateway = fcm.NewGateway(fcmMessaging, logger)
		logger.Info("Gateway initialized", "kind", "fcm")
	default:
		gateway = expo.NewGateway(expo.Config{
			Endpoint:    cfg.Gateway.ExpoEndpoint,
			AccessToken: cfg.Gateway.ExpoAccessToken,
		}, logger)
		logger.Info("Gateway initialized", "kind", "expo")
	}

	// --- Core Wiring ---
	reg := registry.New(tokenStore, logger)
	dispatcher := dispatch.New(gateway, dispatch.Config{
		BatchSize:   cfg.Dispatch.BatchSize,
		Workers:     cfg.Dispatch.Workers,
		RatePerSec:  cfg.Dispatch.RatePerSec,
		Burst:       cfg.Dispatch.Burst,
		MaxRetries:  uint64(cfg.Dispatch.MaxRetries),
		BaseDelay:   time.Duration(cfg.Dispatch.BaseDelayMS) * time.Millisecond,
		MaxDelay:    time.Duration(cfg.Dispatch.MaxDelayMS) * time.Millisecond,
		CallTimeout: time.Duration(cfg.Dispatch.CallTimeoutMS) * time.Millisecond,
	}, logger)
	broadcaster := pipeline.NewBroadcaster(
		registry.NewSelector(reg),
		dispatcher,
		dispatch.NewReceiptProcessor(reg, logger),
		time.Duration(cfg.Dispatch.BroadcastTimeoutMS)*time.Millisecond,
		logger,
	)
	pushAPI := api.NewPushAPI(reg, broadcaster, registry.NewReporter(tokenStore), logger)

	// --- Optional Pub/Sub Intake ---
	var ingestor pushrelay.Ingestor
	if cfg.IngestEnabled() {
		psClient, err := pubsub.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			logger.Error("PubSub client failed", "err", err)
			os.Exit(1)
		}
		defer psClient.Close()

		subscriber, err := newIngestionSubscriber(ctx, cfg, psClient, logger)
		if err != nil {
			logger.Error("Ingestion setup failed", "err", err)
			os.Exit(1)
		}
		ingestor = ingest.NewSubscriber(subscriber, broadcaster, logger)
	}

	// --- Service ---
	service := pushrelay.New(cfg, pushAPI, ingestor, logger)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := service.Shutdown(shutdownCtx); err != nil {
			logger.Error("Shutdown failed", "err", err)
		}
	}()

	logger.Info("Starting service...")
	if err := service.Start(ctx); err != nil {
		logger.Error("Service shutdown with error", "err", err)
		os.Exit(1)
	}
}

// newIngestionSubscriber ensures the subscription exists (with its DLQ
// policy) and returns a receiver for it.
func newIngestionSubscriber(ctx context.Context, cfg *config.Config, psClient *pubsub.Client, logger *slog.Logger) (*pubsub.Subscriber, error) {
	sub := convertPubsub(cfg.ProjectID, cfg.SubscriptionID, "subscriptions")
	topicID := convertPubsub(cfg.ProjectID, cfg.TopicID, "topics")

	subConfig := &pubsubpb.Subscription{
		Name:                  sub,
		Topic:                 topicID,
		AckDeadlineSeconds:    10,
		EnableMessageOrdering: false,
	}
	if cfg.SubscriptionDLQTopicID != "" {
		subConfig.DeadLetterPolicy = &pubsubpb.DeadLetterPolicy{
			DeadLetterTopic:     convertPubsub(cfg.ProjectID, cfg.SubscriptionDLQTopicID, "topics"),
			MaxDeliveryAttempts: 5,
		}
	}

	logger.Debug("Ensuring subscription exists", "sub", subConfig.Name, "topic", subConfig.Topic)
	_, err := psClient.SubscriptionAdminClient.CreateSubscription(ctx, subConfig)
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			logger.Debug("Subscription already exists, skipping creation", "sub", subConfig.Name)
		} else {
			logger.Error("Failed to create subscription", "sub", subConfig.Name, "err", err)
			return nil, fmt.Errorf("could not create sub: %s", sub)
		}
	}

	return psClient.Subscriber(cfg.SubscriptionID), nil
}

type PS string

func convertPubsub(project, id string, ps PS) string {
	return fmt.Sprintf("projects/%s/%s/%s", project, ps, id)
}
