package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type ServerConfig struct {
	Port    int `yaml:"port"`     // webhook + ops API
	OpsPort int `yaml:"ops_port"` // ops API + metrics listener
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type MpesaConfig struct {
	ConsumerKey    string `yaml:"consumer_key"`
	ConsumerSecret string `yaml:"consumer_secret"`
	ShortCode      string `yaml:"short_code"`
	Passkey        string `yaml:"passkey"`
	CallbackURL    string `yaml:"callback_url"`
	Sandbox        bool   `yaml:"sandbox"`
}

type StripeConfig struct {
	SecretKey     string `yaml:"secret_key"`
	WebhookSecret string `yaml:"webhook_secret"`
}

type GatewayConfig struct {
	Mpesa  MpesaConfig  `yaml:"mpesa"`
	Stripe StripeConfig `yaml:"stripe"`
}

// WebhookConfig holds the fixed processing knobs. These have no silent
// defaults: a config file that omits them fails validation.
type WebhookConfig struct {
	MaxRetries        int           `yaml:"max_retries"`        // 3
	RetryBackoffBase  time.Duration `yaml:"retry_backoff_base"` // 60s, doubling
	ProcessingTimeout time.Duration `yaml:"processing_timeout"` // 30s
	PaymentTimeout    time.Duration `yaml:"payment_timeout"`    // 300s
}

type SweepConfig struct {
	TimeoutInterval      time.Duration `yaml:"timeout_interval"`      // payment timeout sweep cadence
	SubscriptionInterval time.Duration `yaml:"subscription_interval"` // grace/expiry sweep cadence
}

type OpsConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

type Config struct {
	Log      LogConfig      `yaml:"log"`
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Webhook  WebhookConfig  `yaml:"webhook"`
	Sweep    SweepConfig    `yaml:"sweep"`
	Ops      OpsConfig      `yaml:"ops"`

	Runtime RuntimeConfig `yaml:"-"`
}

func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	// defaults for ambient settings only
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.OpsPort == 0 {
		cfg.Server.OpsPort = 9090
	}
	if cfg.Sweep.TimeoutInterval <= 0 {
		cfg.Sweep.TimeoutInterval = time.Minute
	}
	if cfg.Sweep.SubscriptionInterval <= 0 {
		cfg.Sweep.SubscriptionInterval = time.Minute
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.Runtime.Dev = dev
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return errors.New("database.url is required")
	}
	if c.Redis.URL == "" {
		return errors.New("redis.url is required")
	}
	// The webhook processing knobs are contractual; refuse to guess them.
	if c.Webhook.MaxRetries <= 0 {
		return errors.New("webhook.max_retries is required")
	}
	if c.Webhook.RetryBackoffBase <= 0 {
		return errors.New("webhook.retry_backoff_base is required")
	}
	if c.Webhook.ProcessingTimeout <= 0 {
		return errors.New("webhook.processing_timeout is required")
	}
	if c.Webhook.PaymentTimeout <= 0 {
		return errors.New("webhook.payment_timeout is required")
	}
	return nil
}
