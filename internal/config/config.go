package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/portfolio-metrics/internal/cost"
)

// Config holds the full application configuration.
type Config struct {
	Store        StoreConfig        `yaml:"store" mapstructure:"store"`
	Log          LogConfig          `yaml:"log" mapstructure:"log"`
	Server       ServerConfig       `yaml:"server" mapstructure:"server"`
	Ingest       IngestConfig       `yaml:"ingest" mapstructure:"ingest"`
	RevenueCat   RevenueCatConfig   `yaml:"revenuecat" mapstructure:"revenuecat"`
	AppStore     AppStoreConfig     `yaml:"appstore" mapstructure:"appstore"`
	Google       GoogleConfig       `yaml:"google" mapstructure:"google"`
	Anthropic    AnthropicConfig    `yaml:"anthropic" mapstructure:"anthropic"`
	OpenAI       OpenAIConfig       `yaml:"openai" mapstructure:"openai"`
	DigitalOcean DigitalOceanConfig `yaml:"digitalocean" mapstructure:"digitalocean"`
	SendGrid     SendGridConfig     `yaml:"sendgrid" mapstructure:"sendgrid"`
	Notify       NotifyConfig       `yaml:"notify" mapstructure:"notify"`
	Monitoring   MonitoringConfig   `yaml:"monitoring" mapstructure:"monitoring"`
	Pricing      PricingConfig      `yaml:"pricing" mapstructure:"pricing"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port         int      `yaml:"port" mapstructure:"port"`
	WebhookToken string   `yaml:"webhook_token" mapstructure:"webhook_token"`
	CORSOrigins  []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// IngestConfig configures the ingestion engine.
type IngestConfig struct {
	EntityDelayMs        int    `yaml:"entity_delay_ms" mapstructure:"entity_delay_ms"`
	MaxConcurrentSources int    `yaml:"max_concurrent_sources" mapstructure:"max_concurrent_sources"`
	RosterFile           string `yaml:"roster_file" mapstructure:"roster_file"`
	TopN                 int    `yaml:"top_n" mapstructure:"top_n"`
}

// RevenueCatConfig holds RevenueCat API settings.
type RevenueCatConfig struct {
	APIKey  string `yaml:"api_key" mapstructure:"api_key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// AppStoreConfig holds App Store Connect API settings.
type AppStoreConfig struct {
	IssuerID     string `yaml:"issuer_id" mapstructure:"issuer_id"`
	KeyID        string `yaml:"key_id" mapstructure:"key_id"`
	KeyPath      string `yaml:"key_path" mapstructure:"key_path"`
	VendorNumber string `yaml:"vendor_number" mapstructure:"vendor_number"`
	BaseURL      string `yaml:"base_url" mapstructure:"base_url"`
}

// GoogleConfig holds the service account used for Analytics and Search Console.
type GoogleConfig struct {
	CredentialsFile  string `yaml:"credentials_file" mapstructure:"credentials_file"`
	AnalyticsURL     string `yaml:"analytics_url" mapstructure:"analytics_url"`
	SearchConsoleURL string `yaml:"search_console_url" mapstructure:"search_console_url"`
}

// AnthropicConfig holds Anthropic Admin API settings.
type AnthropicConfig struct {
	AdminKey string `yaml:"admin_key" mapstructure:"admin_key"`
	BaseURL  string `yaml:"base_url" mapstructure:"base_url"`
}

// OpenAIConfig holds OpenAI Admin API settings.
type OpenAIConfig struct {
	AdminKey     string `yaml:"admin_key" mapstructure:"admin_key"`
	Organization string `yaml:"organization" mapstructure:"organization"`
	BaseURL      string `yaml:"base_url" mapstructure:"base_url"`
}

// DigitalOceanConfig holds DigitalOcean API settings.
type DigitalOceanConfig struct {
	Token   string `yaml:"token" mapstructure:"token"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// SendGridConfig holds SendGrid API settings.
type SendGridConfig struct {
	APIKey  string `yaml:"api_key" mapstructure:"api_key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// NotifyConfig configures outbound notifications.
type NotifyConfig struct {
	SlackWebhookURL string `yaml:"slack_webhook_url" mapstructure:"slack_webhook_url"`
	WebhookURL      string `yaml:"webhook_url" mapstructure:"webhook_url"`
	WebhookSecret   string `yaml:"webhook_secret" mapstructure:"webhook_secret"`
	TimeoutSecs     int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxAttempts     int    `yaml:"max_attempts" mapstructure:"max_attempts"`
}

// MonitoringConfig configures ingestion health checks.
type MonitoringConfig struct {
	Enabled           bool `yaml:"enabled" mapstructure:"enabled"`
	CheckIntervalMins int  `yaml:"check_interval_mins" mapstructure:"check_interval_mins"`
	StaleAfterHours   int  `yaml:"stale_after_hours" mapstructure:"stale_after_hours"`
}

// PricingConfig holds per-provider pricing rates.
type PricingConfig struct {
	Anthropic map[string]ModelPricing `yaml:"anthropic" mapstructure:"anthropic"`
}

// ModelPricing holds per-model token pricing (USD per million tokens).
type ModelPricing struct {
	Input         float64 `yaml:"input" mapstructure:"input"`
	Output        float64 `yaml:"output" mapstructure:"output"`
	BatchDiscount float64 `yaml:"batch_discount" mapstructure:"batch_discount"`
	CacheWriteMul float64 `yaml:"cache_write_mul" mapstructure:"cache_write_mul"`
	CacheReadMul  float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("PORTFOLIO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("ingest.entity_delay_ms", 500)
	v.SetDefault("ingest.max_concurrent_sources", 4)
	v.SetDefault("ingest.roster_file", "roster.yaml")
	v.SetDefault("ingest.top_n", 50)
	v.SetDefault("notify.timeout_secs", 10)
	v.SetDefault("notify.max_attempts", 3)
	v.SetDefault("monitoring.check_interval_mins", 60)
	v.SetDefault("monitoring.stale_after_hours", 36)

	// Env-only keys are invisible to Unmarshal unless bound.
	for _, key := range []string{
		"store.database_url", "server.webhook_token",
		"revenuecat.api_key", "appstore.issuer_id", "appstore.key_id", "appstore.key_path", "appstore.vendor_number",
		"google.credentials_file", "anthropic.admin_key", "openai.admin_key", "openai.organization",
		"digitalocean.token", "sendgrid.api_key", "notify.slack_webhook_url", "notify.webhook_url", "notify.webhook_secret",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, eris.Wrapf(err, "config: bind env %s", key)
		}
	}

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}

// CostRates returns the default token rates with any configured model
// rates layered on top.
func (c *Config) CostRates() cost.Rates {
	rates := cost.DefaultRates()
	for model, p := range c.Pricing.Anthropic {
		rates.Anthropic[model] = cost.ModelRate{
			Input:         p.Input,
			Output:        p.Output,
			BatchDiscount: p.BatchDiscount,
			CacheWriteMul: p.CacheWriteMul,
			CacheReadMul:  p.CacheReadMul,
		}
	}
	return rates
}
