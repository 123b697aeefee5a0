package config

import (
	"log"
	"time"

	"github.com/spf13/viper"
)

// Config holds the application configuration.
type Config struct {
	Addr           string        `mapstructure:"ADDR"`
	DatabaseURL    string        `mapstructure:"DATABASE_URL"`
	RedisAddr      string        `mapstructure:"REDIS_ADDR"`
	JWTSecret      string        `mapstructure:"JWT_SECRET"`
	CacheTTL       time.Duration `mapstructure:"CACHE_TTL"`
	HandlerTimeout time.Duration `mapstructure:"HANDLER_TIMEOUT"`
}

// Load reads configuration from a .env file and the environment.
// RedisAddr may be empty, in which case the read caches fall back to the
// in-process implementation.
func Load() (*Config, error) {
	viper.AddConfigPath(".")
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()

	viper.SetDefault("ADDR", ":8080")
	viper.SetDefault("CACHE_TTL", "10s")
	viper.SetDefault("HANDLER_TIMEOUT", "10s")

	if err := viper.ReadInConfig(); err != nil {
		log.Println("Warning: .env file not found, loading from environment variables")
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
