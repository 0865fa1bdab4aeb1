package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Sefaz     SefazConfig     `yaml:"sefaz" mapstructure:"sefaz"`
	Collector CollectorConfig `yaml:"collector" mapstructure:"collector"`
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

// SefazConfig holds Economiza Alagoas API settings.
type SefazConfig struct {
	BaseURL            string `yaml:"base_url" mapstructure:"base_url"`
	AppToken           string `yaml:"app_token" mapstructure:"app_token"`
	RecordsPerPage     int    `yaml:"records_per_page" mapstructure:"records_per_page"`
	PacingMs           int    `yaml:"pacing_ms" mapstructure:"pacing_ms"`
	RequestTimeoutSecs int    `yaml:"request_timeout_secs" mapstructure:"request_timeout_secs"`
	RetryMaxAttempts   int    `yaml:"retry_max_attempts" mapstructure:"retry_max_attempts"`
	RetryBaseMs        int    `yaml:"retry_base_ms" mapstructure:"retry_base_ms"`
}

// CollectorConfig configures the collection pipeline.
type CollectorConfig struct {
	LookbackDays       int `yaml:"lookback_days" mapstructure:"lookback_days"`
	ProductConcurrency int `yaml:"product_concurrency" mapstructure:"product_concurrency"`
	MarketTimeoutSecs  int `yaml:"market_timeout_secs" mapstructure:"market_timeout_secs"`
	// Worklist overrides the built-in product search terms when non-empty.
	Worklist []string `yaml:"worklist" mapstructure:"worklist"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
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
	v.SetEnvPrefix("COLETOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	// Empty-string defaults register the keys so AutomaticEnv binds them.
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("sefaz.base_url", "http://api.sefaz.al.gov.br/sfz-economiza-alagoas-api/api/public/produto/pesquisa")
	v.SetDefault("sefaz.app_token", "")
	v.SetDefault("sefaz.records_per_page", 50)
	v.SetDefault("sefaz.pacing_ms", 300)
	v.SetDefault("sefaz.request_timeout_secs", 45)
	v.SetDefault("sefaz.retry_max_attempts", 3)
	v.SetDefault("sefaz.retry_base_ms", 2000)
	v.SetDefault("collector.lookback_days", 3)
	v.SetDefault("collector.product_concurrency", 4)
	v.SetDefault("collector.market_timeout_secs", 1200)
	v.SetDefault("collector.worklist", []string{})
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
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
