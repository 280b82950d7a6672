package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
)

const (
	StoreFirestore = "firestore"
	StoreMemory    = "memory"

	GatewayExpo = "expo"
	GatewayFCM  = "fcm"
)

type StoreConfig struct {
	Backend string
}

type GatewayConfig struct {
	Kind            string
	ExpoEndpoint    string
	ExpoAccessToken string
}

type DispatchConfig struct {
	BatchSize          int
	Workers            int
	RatePerSec         float64
	Burst              int
	MaxRetries         int
	BaseDelayMS        int
	MaxDelayMS         int
	CallTimeoutMS      int
	BroadcastTimeoutMS int
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	TTLHours int
}

// Config defines the *single*, authoritative configuration.
type Config struct {
	ProjectID              string
	ListenAddr             string
	TopicID                string
	SubscriptionID         string
	SubscriptionDLQTopicID string

	Store    StoreConfig
	Gateway  GatewayConfig
	Dispatch DispatchConfig
	Redis    RedisConfig
}

// IngestEnabled reports whether the Pub/Sub broadcast intake should run.
func (c *Config) IngestEnabled() bool {
	return c.SubscriptionID != ""
}

// UpdateConfigWithEnvOverrides applies environment variables and final validation.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	// 1. Apply Environment Overrides
	if val := os.Getenv("PROJECT_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "PROJECT_ID", "source", "env")
		cfg.ProjectID = val
	}
	if val := os.Getenv("PORT"); val != "" {
		logger.Debug("Overriding config value", "key", "PORT", "source", "env")
		cfg.ListenAddr = ":" + val
	}
	if val := os.Getenv("TOPIC_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "TOPIC_ID", "source", "env")
		cfg.TopicID = val
	}
	if val := os.Getenv("SUBSCRIPTION_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "SUBSCRIPTION_ID", "source", "env")
		cfg.SubscriptionID = val
	}
	if val := os.Getenv("SUBSCRIPTION_DLQ_TOPIC_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "SUBSCRIPTION_DLQ_TOPIC_ID", "source", "env")
		cfg.SubscriptionDLQTopicID = val
	}

	// Store / Gateway Overrides
	if val := os.Getenv("STORE_BACKEND"); val != "" {
		logger.Debug("Overriding config value", "key", "STORE_BACKEND", "source", "env")
		cfg.Store.Backend = val
	}
	if val := os.Getenv("GATEWAY_KIND"); val != "" {
		logger.Debug("Overriding config value", "key", "GATEWAY_KIND", "source", "env")
		cfg.Gateway.Kind = val
	}
	if val := os.Getenv("EXPO_ACCESS_TOKEN"); val != "" {
		logger.Debug("Overriding config value", "key", "EXPO_ACCESS_TOKEN", "source", "env")
		cfg.Gateway.ExpoAccessToken = val
	}

	// Dispatch Overrides
	if val := os.Getenv("DISPATCH_WORKERS"); val != "" {
		if workers, err := strconv.Atoi(val); err == nil && workers > 0 {
			logger.Debug("Overriding config value", "key", "DISPATCH_WORKERS", "source", "env")
			cfg.Dispatch.Workers = workers
		}
	}
	if val := os.Getenv("DISPATCH_RATE_PER_SEC"); val != "" {
		if rate, err := strconv.ParseFloat(val, 64); err == nil && rate > 0 {
			logger.Debug("Overriding config value", "key", "DISPATCH_RATE_PER_SEC", "source", "env")
			cfg.Dispatch.RatePerSec = rate
		}
	}

	// Redis Overrides
	if val := os.Getenv("REDIS_ADDR"); val != "" {
		cfg.Redis.Addr = val
		cfg.Redis.Enabled = true
	}
	if val := os.Getenv("REDIS_PASSWORD"); val != "" {
		cfg.Redis.Password = val
	}
	if val := os.Getenv("REDIS_DB"); val != "" {
		if db, err := strconv.Atoi(val); err == nil {
			cfg.Redis.DB = db
		}
	}
	if val := os.Getenv("REDIS_ENABLED"); val != "" {
		enabled, _ := strconv.ParseBool(val)
		cfg.Redis.Enabled = enabled
	}

	// 2. Final Validation
	switch cfg.Store.Backend {
	case "":
		cfg.Store.Backend = StoreFirestore
	case StoreFirestore, StoreMemory:
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}

	switch cfg.Gateway.Kind {
	case "":
		cfg.Gateway.Kind = GatewayExpo
	case GatewayExpo, GatewayFCM:
	default:
		return nil, fmt.Errorf("unknown gateway kind %q", cfg.Gateway.Kind)
	}

	needsProject := cfg.Store.Backend == StoreFirestore ||
		cfg.Gateway.Kind == GatewayFCM ||
		cfg.IngestEnabled()
	if needsProject && cfg.ProjectID == "" {
		return nil, fmt.Errorf("project_id is required (set via YAML or PROJECT_ID env var)")
	}
	if cfg.IngestEnabled() && cfg.TopicID == "" {
		return nil, fmt.Errorf("topic_id is required when subscription_id is set")
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}

	logger.Debug("Configuration finalized and validated successfully")
	return cfg, nil
}
