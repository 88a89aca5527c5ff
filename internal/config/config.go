/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the payments-service.
// These values are loaded from environment variables. Gateway credentials are
// not here: they live in the gateway_configs table so they can be rotated
// without a deploy.
type Config struct {
	ServerPort                   string `mapstructure:"SERVER_PORT"`
	DatabaseURL                  string `mapstructure:"DATABASE_URL"`
	RedisURL                     string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix         string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL                  string `mapstructure:"RABBITMQ_URL"`
	PaymentEventExchange         string `mapstructure:"PAYMENT_EVENT_EXCHANGE"`
	DarajaBaseURL                string `mapstructure:"DARAJA_BASE_URL"`
	CallbackBaseURL              string `mapstructure:"CALLBACK_BASE_URL"`
	CallbackSecret               string `mapstructure:"CALLBACK_SECRET"`
	VotePriceCents               int64  `mapstructure:"VOTE_PRICE_CENTS"`
	GatewayTimeoutSeconds        int    `mapstructure:"GATEWAY_TIMEOUT_SECONDS"`
	StatusPollRateLimitPerMinute int    `mapstructure:"STATUS_POLL_RATE_LIMIT_PER_MINUTE"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "fanlipa:rate_limit")
	viper.SetDefault("PAYMENT_EVENT_EXCHANGE", "fanlipa.events")
	viper.SetDefault("DARAJA_BASE_URL", "https://sandbox.safaricom.co.ke")
	viper.SetDefault("VOTE_PRICE_CENTS", 1000) // KSh 10 per vote
	viper.SetDefault("GATEWAY_TIMEOUT_SECONDS", 30)
	viper.SetDefault("STATUS_POLL_RATE_LIMIT_PER_MINUTE", 120)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("PAYMENT_EVENT_EXCHANGE")
	_ = viper.BindEnv("DARAJA_BASE_URL")
	_ = viper.BindEnv("CALLBACK_BASE_URL")
	_ = viper.BindEnv("CALLBACK_SECRET")
	_ = viper.BindEnv("VOTE_PRICE_CENTS")
	_ = viper.BindEnv("VOTE_PRICE")
	_ = viper.BindEnv("GATEWAY_TIMEOUT_SECONDS")
	_ = viper.BindEnv("STATUS_POLL_RATE_LIMIT_PER_MINUTE")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}

	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "fanlipa:rate_limit"
	}
	config.CallbackBaseURL = strings.TrimRight(strings.TrimSpace(config.CallbackBaseURL), "/")
	config.CallbackSecret = strings.TrimSpace(config.CallbackSecret)

	// Allow specifying the vote unit price in whole shillings via VOTE_PRICE.
	if viper.IsSet("VOTE_PRICE") {
		priceStr := strings.TrimSpace(viper.GetString("VOTE_PRICE"))
		if priceStr != "" {
			priceValue, parseErr := strconv.ParseFloat(priceStr, 64)
			if parseErr != nil {
				log.Printf("level=warn component=config msg=\"invalid VOTE_PRICE\" value=%q err=%v", priceStr, parseErr)
			} else {
				config.VotePriceCents = int64(math.Round(priceValue * 100))
			}
		}
	}

	if config.VotePriceCents <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive vote price configured; using default\" price_cents=%d", config.VotePriceCents)
		config.VotePriceCents = 1000
	}
	if config.GatewayTimeoutSeconds <= 0 {
		config.GatewayTimeoutSeconds = 30
	}
	if config.StatusPollRateLimitPerMinute <= 0 {
		config.StatusPollRateLimitPerMinute = 120
	}

	return
}
