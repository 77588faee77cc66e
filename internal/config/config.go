package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Port                   string
	AllowedOrigin          string
	AppEnv                 string
	LogLevel               string
	DatabaseURL            string
	RedisAddr              string
	RedisPassword          string
	RedisDB                int
	StoreID                string
	AuthSecret             string
	AccessTokenTTLMinutes  int
	ManagerPIN             string
	AllowNegativeStock     bool
	StockCacheTTLSeconds   int
	ReorderCacheTTLSeconds int
	KafkaBrokers           []string
	KafkaInventoryTopic    string
	KafkaOrdersTopic       string
	KafkaGroupID           string
}

func Load() Config {
	tokenTTL := getEnvInt("ACCESS_TOKEN_TTL_MINUTES", 480)
	if tokenTTL < 1 {
		tokenTTL = 480
	}
	cacheTTL := getEnvInt("STOCK_CACHE_TTL_SECONDS", 30)
	if cacheTTL < 1 {
		cacheTTL = 30
	}

	cfg := Config{
		Port:                   getEnv("PORT", "8080"),
		AllowedOrigin:          getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		AppEnv:                 getEnv("APP_ENV", "production"),
		LogLevel:               getEnv("LOG_LEVEL", "info"),
		DatabaseURL:            os.Getenv("DATABASE_URL"),
		RedisAddr:              os.Getenv("REDIS_ADDR"),
		RedisPassword:          os.Getenv("REDIS_PASSWORD"),
		RedisDB:                getEnvInt("REDIS_DB", 0),
		StoreID:                getEnv("DEFAULT_STORE_ID", "main-store"),
		AuthSecret:             strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes:  tokenTTL,
		ManagerPIN:             strings.TrimSpace(os.Getenv("MANAGER_PIN")),
		AllowNegativeStock:     getEnvBool("ALLOW_NEGATIVE_STOCK", false),
		StockCacheTTLSeconds:   cacheTTL,
		ReorderCacheTTLSeconds: getEnvInt("REORDER_CACHE_TTL_SECONDS", 20),
		KafkaBrokers:           getEnvSlice("KAFKA_BROKERS", nil),
		KafkaInventoryTopic:    getEnv("KAFKA_INVENTORY_TOPIC", "inventory.events"),
		KafkaOrdersTopic:       getEnv("KAFKA_ORDERS_TOPIC", "orders.events"),
		KafkaGroupID:           getEnv("KAFKA_GROUP_ID", "stockline-inventory"),
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func getEnvInt(key string, fallback int) int {
	val, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return fallback
	}
	return val
}

func getEnvBool(key string, fallback bool) bool {
	val, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return fallback
	}
	return val
}

func getEnvSlice(key string, fallback []string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
