package config

import (
	"log/slog"
)

type YamlStoreConfig struct {
	// Backend selects the registration store: "firestore" or "memory".
	Backend string `yaml:"backend"`
}

type YamlGatewayConfig struct {
	// Kind selects the push gateway: "expo" or "fcm".
	Kind            string `yaml:"kind"`
	ExpoEndpoint    string `yaml:"expo_endpoint"`
	ExpoAccessToken string `yaml:"expo_access_token"`
}

type YamlDispatchConfig struct {
	BatchSize          int     `yaml:"batch_size"`
	Workers            int     `yaml:"workers"`
	RatePerSec         float64 `yaml:"rate_per_sec"`
	Burst              int     `yaml:"burst"`
	MaxRetries         int     `yaml:"max_retries"`
	BaseDelayMS        int     `yaml:"base_delay_ms"`
	MaxDelayMS         int     `yaml:"max_delay_ms"`
	CallTimeoutMS      int     `yaml:"call_timeout_ms"`
	BroadcastTimeoutMS int     `yaml:"broadcast_timeout_ms"`
}

type YamlRedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Enabled  bool   `yaml:"enabled"`
	TTLHours int    `yaml:"ttl_hours"`
}

// YamlConfig is the structure that mirrors the raw config.yaml file.
type YamlConfig struct {
	ProjectID              string             `yaml:"project_id"`
	ListenAddr             string             `yaml:"listen_addr"`
	TopicID                string             `yaml:"topic_id"`
	SubscriptionID         string             `yaml:"subscription_id"`
	SubscriptionDLQTopicID string             `yaml:"subscription_dlq_topic_id"`
	StoreConfig            YamlStoreConfig    `yaml:"store"`
	GatewayConfig          YamlGatewayConfig  `yaml:"gateway"`
	DispatchConfig         YamlDispatchConfig `yaml:"dispatch"`
	RedisConfig            YamlRedisConfig    `yaml:"redis"`
}

// NewConfigFromYaml converts the YamlConfig into a clean, base Config struct.
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")

	cfg := &Config{
		ProjectID:              baseCfg.ProjectID,
		ListenAddr:             baseCfg.ListenAddr,
		TopicID:                baseCfg.TopicID,
		SubscriptionID:         baseCfg.SubscriptionID,
		SubscriptionDLQTopicID: baseCfg.SubscriptionDLQTopicID,
		Store: StoreConfig{
			Backend: baseCfg.StoreConfig.Backend,
		},
		Gateway: GatewayConfig{
			Kind:            baseCfg.GatewayConfig.Kind,
			ExpoEndpoint:    baseCfg.GatewayConfig.ExpoEndpoint,
			ExpoAccessToken: baseCfg.GatewayConfig.ExpoAccessToken,
		},
		Dispatch: DispatchConfig{
			BatchSize:          baseCfg.DispatchConfig.BatchSize,
			Workers:            baseCfg.DispatchConfig.Workers,
			RatePerSec:         baseCfg.DispatchConfig.RatePerSec,
			Burst:              baseCfg.DispatchConfig.Burst,
			MaxRetries:         baseCfg.DispatchConfig.MaxRetries,
			BaseDelayMS:        baseCfg.DispatchConfig.BaseDelayMS,
			MaxDelayMS:         baseCfg.DispatchConfig.MaxDelayMS,
			CallTimeoutMS:      baseCfg.DispatchConfig.CallTimeoutMS,
			BroadcastTimeoutMS: baseCfg.DispatchConfig.BroadcastTimeoutMS,
		},
		Redis: RedisConfig{
			Addr:     baseCfg.RedisConfig.Addr,
			Password: baseCfg.RedisConfig.Password,
			DB:       baseCfg.RedisConfig.DB,
			Enabled:  baseCfg.RedisConfig.Enabled,
			TTLHours: baseCfg.RedisConfig.TTLHours,
		},
	}

	logger.Debug("YAML config mapping complete",
		"project_id", cfg.ProjectID,
		"listen_addr", cfg.ListenAddr,
		"subscription_id", cfg.SubscriptionID,
	)

	return cfg, nil
}
