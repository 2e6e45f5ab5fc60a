package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type PostgresConfig struct {
	Host     string `mapstructure:"postgres_host"`
	Port     string `mapstructure:"postgres_port"`
	DB       string `mapstructure:"postgres_db"`
	Username string `mapstructure:"postgres_user"`
	Password string `mapstructure:"postgres_password"`
	SSLMode  string `mapstructure:"postgres_sslmode"`
	MaxConns int32  `mapstructure:"postgres_max_conns"`
	MinConns int32  `mapstructure:"postgres_min_conns"`
}

type StorageConfig struct {
	Driver        string `mapstructure:"storage_driver" validate:"oneof=postgres sqlite"`
	SQLitePath    string `mapstructure:"sqlite_path" validate:"required_if=Driver sqlite"`
	LocalDriver   string `mapstructure:"local_driver" validate:"oneof=redis file"`
	LocalFilePath string `mapstructure:"local_file_path"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"redis_addr"`
	Password string `mapstructure:"redis_password"`
	DB       int    `mapstructure:"redis_db" validate:"min=0,max=15"`
}

type Config struct {
	Postgres            PostgresConfig `mapstructure:",squash"`
	Storage             StorageConfig  `mapstructure:",squash"`
	Redis               RedisConfig    `mapstructure:",squash"`
	SyncChannel         string         `mapstructure:"sync_channel" validate:"oneof=redis local"`
	SyncStrategy        string         `mapstructure:"sync_strategy" validate:"oneof=server-wins client-wins manual"`
	ServerPort          string         `mapstructure:"server_port" validate:"required"`
	MetricsAddr         string         `mapstructure:"metrics_addr"`
	OTLPEndpoint        string         `mapstructure:"otlp_endpoint"`
	LogLevel            string         `mapstructure:"log_level"`
	GeneratorConfigFile string         `mapstructure:"generator_config_file"`
}

var defaults = map[string]any{
	"postgres_host":         "localhost",
	"postgres_port":         "5454",
	"postgres_db":           "loci_planner",
	"postgres_user":         "postgres",
	"postgres_password":     "",
	"postgres_sslmode":      "disable",
	"postgres_max_conns":    30,
	"postgres_min_conns":    5,
	"storage_driver":        "sqlite",
	"sqlite_path":           "planner.db",
	"local_driver":          "file",
	"local_file_path":       "planner-local.cache",
	"redis_addr":            "localhost:6379",
	"redis_password":        "",
	"redis_db":              0,
	"sync_channel":          "local",
	"sync_strategy":         "server-wins",
	"server_port":           "8091",
	"metrics_addr":          ":9091",
	"otlp_endpoint":         "",
	"log_level":             "info",
	"generator_config_file": "",
}

// Load reads the service configuration from the environment, optionally layered
// over a config file named by PLANNER_CONFIG.
func Load() (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	if path := v.GetString("planner_config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the loaded values and the driver specific requirements.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		validationErrs, ok := err.(validator.ValidationErrors)
		if !ok {
			return fmt.Errorf("validation error: %w", err)
		}
		messages := make([]string, 0, len(validationErrs))
		for _, e := range validationErrs {
			messages = append(messages, fmt.Sprintf("%s failed validation '%s' (got: %v)", e.Field(), e.Tag(), e.Value()))
		}
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(messages, "\n  - "))
	}

	if c.Storage.Driver == "postgres" && c.Postgres.Password == "" {
		return fmt.Errorf("POSTGRES_PASSWORD environment variable is required when STORAGE_DRIVER is postgres")
	}
	return nil
}

// UsesRedis reports whether any component needs a Redis client.
func (c *Config) UsesRedis() bool {
	return c.Storage.LocalDriver == "redis" || c.SyncChannel == "redis"
}
