// Package config loads service configuration from file and environment.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the full service configuration.
type Config struct {
	LogLevel string `mapstructure:"log_level"`

	Server struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"server"`

	Database struct {
		DSN             string        `mapstructure:"dsn"`
		MaxOpenConns    int           `mapstructure:"max_open_conns"`
		MaxIdleConns    int           `mapstructure:"max_idle_conns"`
		ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	} `mapstructure:"database"`

	Redis struct {
		Enabled bool   `mapstructure:"enabled"`
		Addr    string `mapstructure:"addr"`
	} `mapstructure:"redis"`

	Kafka struct {
		Enabled bool     `mapstructure:"enabled"`
		Brokers []string `mapstructure:"brokers"`
		Topic   string   `mapstructure:"topic"`
	} `mapstructure:"kafka"`

	Engine struct {
		QueueSize     int           `mapstructure:"queue_size"`
		SubmitTimeout time.Duration `mapstructure:"submit_timeout"`
	} `mapstructure:"engine"`

	Sweeper struct {
		Interval time.Duration `mapstructure:"interval"`
	} `mapstructure:"sweeper"`

	Settlement struct {
		FeeRate          float64       `mapstructure:"fee_rate"`
		InitialBackoff   time.Duration `mapstructure:"initial_backoff"`
		MaxBackoff       time.Duration `mapstructure:"max_backoff"`
		RecoveryInterval time.Duration `mapstructure:"recovery_interval"`
	} `mapstructure:"settlement"`
}

// LoadConfig reads configuration from the given path (or the default search
// paths when empty), with environment variables taking precedence under the
// GRIDMATCH_ prefix.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("log_level", "info")
	v.SetDefault("server.addr", ":8087")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.topic", "gridmatch.matches")
	v.SetDefault("engine.queue_size", 1024)
	v.SetDefault("engine.submit_timeout", 2*time.Second)
	v.SetDefault("sweeper.interval", time.Minute)
	v.SetDefault("settlement.fee_rate", 0.0)
	v.SetDefault("settlement.initial_backoff", 500*time.Millisecond)
	v.SetDefault("settlement.max_backoff", 30*time.Second)
	v.SetDefault("settlement.recovery_interval", time.Minute)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("gridmatch")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/gridmatch")
	}
	v.SetEnvPrefix("GRIDMATCH")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read configuration: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	return &cfg, nil
}
