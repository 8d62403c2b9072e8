package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Draft store backends.
const (
	DraftStoreRedis  = "redis"
	DraftStoreMemory = "memory"
)

// Config holds application configuration
type Config struct {
	Port     string
	Env      string
	LogLevel string

	// Portal REST API (appointments and users)
	PortalAPIBaseURL string
	PortalAPITimeout time.Duration
	PatientJWTSecret string

	// Booking rules
	ClinicTimezone        string
	SuccessNoticeDuration time.Duration
	StrictClosingTime     bool

	// Page sessions
	SessionIdleTTL       time.Duration
	SessionSweepInterval time.Duration

	// Draft persistence
	DraftStore    string
	DraftTTL      time.Duration
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// HTTP
	CORSAllowedOrigins []string
	RateLimitRPS       float64
	RateLimitBurst     int
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		PortalAPIBaseURL: getEnv("PORTAL_API_BASE_URL", "http://localhost:5000/api"),
		PortalAPITimeout: getEnvAsDuration("PORTAL_API_TIMEOUT", 15*time.Second),
		PatientJWTSecret: getEnv("PATIENT_JWT_SECRET", ""),

		ClinicTimezone:        getEnv("CLINIC_TIMEZONE", "America/New_York"),
		SuccessNoticeDuration: getEnvAsDuration("SUCCESS_NOTICE_DURATION", 3*time.Second),
		StrictClosingTime:     getEnvAsBool("STRICT_CLOSING_TIME", false),

		SessionIdleTTL:       getEnvAsDuration("SESSION_IDLE_TTL", 30*time.Minute),
		SessionSweepInterval: getEnvAsDuration("SESSION_SWEEP_INTERVAL", time.Minute),

		DraftStore:    strings.ToLower(getEnv("DRAFT_STORE", DraftStoreMemory)),
		DraftTTL:      getEnvAsDuration("DRAFT_TTL", 24*time.Hour),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		CORSAllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "")),
		RateLimitRPS:       getEnvAsFloat("RATE_LIMIT_RPS", 5),
		RateLimitBurst:     getEnvAsInt("RATE_LIMIT_BURST", 20),
	}
}

// ClinicLocation resolves ClinicTimezone, falling back to UTC when unknown.
func (c *Config) ClinicLocation() *time.Location {
	if loc, err := time.LoadLocation(strings.TrimSpace(c.ClinicTimezone)); err == nil {
		return loc
	}
	return time.UTC
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
