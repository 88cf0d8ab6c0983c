package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port        string
	MetricsPort string

	NATSURL  string
	UseRedis bool
	Redis    RedisConfig

	Matching   MatchingConfig
	Settlement SettlementConfig
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type MatchingConfig struct {
	DefaultFeeRateBps int64
	SweepInterval     time.Duration
	BufferSize        int
}

type SettlementConfig struct {
	FeeRateBps    int64
	ExpiryHorizon time.Duration
	SweepInterval time.Duration
	PollInterval  time.Duration
}

func Load() *Config {
	useRedis, _ := strconv.ParseBool(getEnv("USE_REDIS", "false"))

	return &Config{
		Port:        getEnv("PORT", "8080"),
		MetricsPort: getEnv("METRICS_PORT", "9090"),
		NATSURL:     getEnv("NATS_URL", ""),
		UseRedis:    useRedis,
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       0,
		},
		Matching: MatchingConfig{
			DefaultFeeRateBps: getEnvInt64("MATCHING_FEE_RATE_BPS", 10),
			SweepInterval:     getEnvDuration("ORDER_SWEEP_INTERVAL", time.Minute),
			BufferSize:        int(getEnvInt64("CHANNEL_BUFFER_SIZE", 4096)),
		},
		Settlement: SettlementConfig{
			FeeRateBps:    getEnvInt64("SETTLEMENT_FEE_RATE_BPS", 10),
			ExpiryHorizon: getEnvDuration("SETTLEMENT_EXPIRY_HORIZON", 7*24*time.Hour),
			SweepInterval: getEnvDuration("SETTLEMENT_SWEEP_INTERVAL", time.Minute),
			PollInterval:  getEnvDuration("AUTOMATION_POLL_INTERVAL", time.Minute),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
