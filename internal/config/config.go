package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Schema    SchemaConfig    `yaml:"schema" mapstructure:"schema"`
	Notion    NotionConfig    `yaml:"notion" mapstructure:"notion"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Crawl     CrawlConfig     `yaml:"crawl" mapstructure:"crawl"`
	Synthesis SynthesisConfig `yaml:"synthesis" mapstructure:"synthesis"`
	Workflow  WorkflowConfig  `yaml:"workflow" mapstructure:"workflow"`
	Webhook   WebhookConfig   `yaml:"webhook" mapstructure:"webhook"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// SchemaConfig selects where tenant field schemas come from.
type SchemaConfig struct {
	Source string `yaml:"source" mapstructure:"source"` // "file" or "notion"
	Path   string `yaml:"path" mapstructure:"path"`
}

// NotionConfig holds Notion API credentials and the schema database ID.
type NotionConfig struct {
	Token    string `yaml:"token" mapstructure:"token"`
	SchemaDB string `yaml:"schema_db" mapstructure:"schema_db"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int    `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// CrawlConfig configures the crawl step.
type CrawlConfig struct {
	MaxPages     int      `yaml:"max_pages" mapstructure:"max_pages"`
	MaxDepth     int      `yaml:"max_depth" mapstructure:"max_depth"`
	RequestsPer  int      `yaml:"requests_per_sec" mapstructure:"requests_per_sec"`
	ExcludePaths []string `yaml:"exclude_paths" mapstructure:"exclude_paths"`
}

// SynthesisConfig configures field extraction and merging.
type SynthesisConfig struct {
	Concurrency        int     `yaml:"concurrency" mapstructure:"concurrency"`
	DefaultThreshold   float64 `yaml:"default_threshold" mapstructure:"default_threshold"`
	CorroborationBoost float64 `yaml:"corroboration_boost" mapstructure:"corroboration_boost"`
	SourceHintBoost    float64 `yaml:"source_hint_boost" mapstructure:"source_hint_boost"`
}

// WorkflowConfig configures step retry behavior.
type WorkflowConfig struct {
	MaxAttempts     int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	BaseDelay       time.Duration `yaml:"base_delay" mapstructure:"base_delay"`
	MaxDelay        time.Duration `yaml:"max_delay" mapstructure:"max_delay"`
	StepTimeout     time.Duration `yaml:"step_timeout" mapstructure:"step_timeout"`
	ResumeOnStartup bool          `yaml:"resume_on_startup" mapstructure:"resume_on_startup"`
}

// WebhookConfig configures outbound event delivery.
type WebhookConfig struct {
	Endpoint string `yaml:"endpoint" mapstructure:"endpoint"`
	Secret   string `yaml:"secret" mapstructure:"secret"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("INTAKE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("schema.source", "file")
	v.SetDefault("schema.path", "schema.yaml")
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 2048)
	v.SetDefault("crawl.max_pages", 25)
	v.SetDefault("crawl.max_depth", 2)
	v.SetDefault("crawl.requests_per_sec", 2)
	// Substring matches, same semantics as crawler.Config.ExcludePath.
	v.SetDefault("crawl.exclude_paths", []string{"/blog/", "/news/", "/press/", "/careers/"})
	v.SetDefault("synthesis.concurrency", 4)
	v.SetDefault("synthesis.default_threshold", 0.7)
	v.SetDefault("synthesis.corroboration_boost", 0.1)
	v.SetDefault("synthesis.source_hint_boost", 0.15)
	v.SetDefault("workflow.max_attempts", 3)
	v.SetDefault("workflow.base_delay", "1s")
	v.SetDefault("workflow.max_delay", "30s")
	v.SetDefault("workflow.step_timeout", "2m")
	v.SetDefault("workflow.resume_on_startup", true)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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
