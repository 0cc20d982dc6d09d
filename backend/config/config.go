package config

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	APIListenAddr  string        `mapstructure:"api_listen_addr"`
	WSListenAddr   string        `mapstructure:"ws_listen_addr"`
	LogLevel       string        `mapstructure:"log_level"`
	RoomIDLength   int           `mapstructure:"room_id_length"`
	JoinWindow     time.Duration `mapstructure:"join_window"`
	RateLimitPerIP float64       `mapstructure:"rate_limit_per_ip"`
}

// Load reads config/config.<env>.yaml selected by CONFIG_ENV, falling
// back to defaults for anything missing. A missing file is not an
// error: every key has a usable default.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)
	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("api_listen_addr", ":8080")
	v.SetDefault("ws_listen_addr", ":8888")
	v.SetDefault("log_level", "debug")
	v.SetDefault("room_id_length", 4)
	v.SetDefault("join_window", "60s")
	v.SetDefault("rate_limit_per_ip", 20)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("file", fileName).Msg("config file not found, using defaults")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
