package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	TenantID              string
	TerminalDBPath        string
	DatabaseURL           string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	GatewayURL            string
	GatewayToken          string
	GatewayTimeoutSeconds int
	DefaultTaxRatePercent string
	SearchCacheTTLSeconds int
	AuthSecret            string
	AccessTokenTTLMinutes int
}

func Load() Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	searchTTL, err := strconv.Atoi(getEnv("SEARCH_CACHE_TTL_SECONDS", "30"))
	if err != nil || searchTTL < 1 {
		searchTTL = 30
	}
	gatewayTimeout, err := strconv.Atoi(getEnv("GATEWAY_TIMEOUT_SECONDS", "10"))
	if err != nil || gatewayTimeout < 1 {
		gatewayTimeout = 10
	}
	tokenTTL, err := strconv.Atoi(getEnv("ACCESS_TOKEN_TTL_MINUTES", "480"))
	if err != nil || tokenTTL < 1 {
		tokenTTL = 480
	}

	cfg := Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		TenantID:              getEnv("TENANT_ID", "tenant-demo"),
		TerminalDBPath:        os.Getenv("TERMINAL_DB"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               redisDB,
		GatewayURL:            strings.TrimRight(os.Getenv("GATEWAY_URL"), "/"),
		GatewayToken:          strings.TrimSpace(os.Getenv("GATEWAY_TOKEN")),
		GatewayTimeoutSeconds: gatewayTimeout,
		DefaultTaxRatePercent: getEnv("DEFAULT_TAX_RATE_PERCENT", "0"),
		SearchCacheTTLSeconds: searchTTL,
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: tokenTTL,
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}
