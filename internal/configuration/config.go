package configuration

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig holds the two listener ports and the websocket route.
type ServerConfig struct {
	AppPort        int      `mapstructure:"app_port"`
	SocketPort     int      `mapstructure:"socket_port"`
	SocketRoute    string   `mapstructure:"socket_route"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// MongoConfig holds the chat store connection parameters.
type MongoConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

// RedisConfig holds the optional relay connection. An empty Addr disables
// the cross-instance relay entirely.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

// JWTConfig holds token verification parameters.
type JWTConfig struct {
	Secret string `mapstructure:"secret"`
}

// PresenceConfig tunes the staleness sweep.
type PresenceConfig struct {
	StaleAfter time.Duration `mapstructure:"stale_after"`
	SweepEvery time.Duration `mapstructure:"sweep_every"`
}

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Mongo    MongoConfig    `mapstructure:"mongo"`
	Redis    RedisConfig    `mapstructure:"redis"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Presence PresenceConfig `mapstructure:"presence"`
}

// LoadConfig reads a YAML config file, with ALUMNET_* environment variables
// overriding individual keys.
func LoadConfig(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("alumnet")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Server.AppPort == 0 {
		cfg.Server.AppPort = 8080
	}
	if cfg.Server.SocketPort == 0 {
		cfg.Server.SocketPort = 8081
	}
	if cfg.Server.SocketRoute == "" {
		cfg.Server.SocketRoute = "ws"
	}
	if cfg.Mongo.Database == "" {
		cfg.Mongo.Database = "alumnet"
	}
	if cfg.Presence.StaleAfter == 0 {
		cfg.Presence.StaleAfter = 5 * time.Minute
	}
	if cfg.Presence.SweepEvery == 0 {
		cfg.Presence.SweepEvery = time.Minute
	}

	return &cfg, nil
}
