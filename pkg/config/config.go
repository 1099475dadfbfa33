package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mongo   MongoConfig   `mapstructure:"mongo"`
	Guards  GuardsConfig  `mapstructure:"guards"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type MongoConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

type GuardsConfig struct {
	MaxFilterDepth     int             `mapstructure:"max_filter_depth"`
	MaxPipelineStages  int             `mapstructure:"max_pipeline_stages"`
	MaxExpensiveStages int             `mapstructure:"max_expensive_stages"`
	MaxBulkOperations  int             `mapstructure:"max_bulk_operations"`
	MaxParamDepth      int             `mapstructure:"max_param_depth"`
	MaxResultBytes     int             `mapstructure:"max_result_bytes"`
	RateLimit          RateLimitConfig `mapstructure:"rate_limit"`
	// AllowEmptyMultiFilter disables the empty-filter protection for
	// multi-document bulk writes.
	AllowEmptyMultiFilter bool `mapstructure:"allow_empty_multi_filter"`
}

type RateLimitConfig struct {
	MaxCalls      int           `mapstructure:"max_calls"`
	Window        time.Duration `mapstructure:"window"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

var globalConfig Config

func Load(configPath string) error {
	err := loadConfigFile(configPath, "config", &globalConfig)
	// Defaults apply regardless: a missing config file means running
	// entirely on them.
	setDefaultValues()
	if err != nil {
		return fmt.Errorf("could not load main config file: %v", err)
	}
	return nil
}

func loadConfigFile(configPath, fileName string, out interface{}) error {
	viper.SetConfigName(fileName)
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configPath)
	viper.AddConfigPath("./config")
	viper.AddConfigPath(".")

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			return fmt.Errorf("config file %s.yaml not found, using only environment variables", fileName)
		}
		return fmt.Errorf("error reading config file %s.yaml: %w", fileName, err)
	}

	if err := viper.Unmarshal(out); err != nil {
		return fmt.Errorf("failed to unmarshal %s config: %w", fileName, err)
	}

	return nil
}

func setDefaultValues() {
	globalConfig.Guards.ApplyDefaults()
	if globalConfig.Mongo.Database == "" {
		globalConfig.Mongo.Database = "scout"
	}
}

// ApplyDefaults fills in every zero-valued guard limit.
func (g *GuardsConfig) ApplyDefaults() {
	if g.MaxFilterDepth <= 0 {
		g.MaxFilterDepth = 10
	}
	if g.MaxPipelineStages <= 0 {
		g.MaxPipelineStages = 20
	}
	if g.MaxExpensiveStages <= 0 {
		g.MaxExpensiveStages = 3
	}
	if g.MaxBulkOperations <= 0 {
		g.MaxBulkOperations = 1000
	}
	if g.MaxParamDepth <= 0 {
		g.MaxParamDepth = 2
	}
	if g.MaxResultBytes <= 0 {
		g.MaxResultBytes = 1 << 20
	}
	if g.RateLimit.MaxCalls <= 0 {
		g.RateLimit.MaxCalls = 100
	}
	if g.RateLimit.Window <= 0 {
		g.RateLimit.Window = 60 * time.Second
	}
	if g.RateLimit.SweepInterval <= 0 {
		g.RateLimit.SweepInterval = 5 * time.Minute
	}
}

func GetConfig() *Config {
	return &globalConfig
}
