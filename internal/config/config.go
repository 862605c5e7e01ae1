// Package config loads the gateway's runtime configuration from the
// environment, following the getEnv/getEnvInt pattern of the process's
// main entrypoint: a default always exists, environment variables only
// ever override it.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds every tunable named in the external interfaces contract.
type Config struct {
	Environment string

	Host string
	Port string

	SSLCertFile string
	SSLKeyFile  string

	UpstreamAPIURL string
	UpstreamAPIKey string

	JWTSecret    string
	JWTExpiresIn time.Duration

	CORSOrigins []string
	AdminKey    string

	RateLimitWindow      time.Duration
	RateLimitMaxRequests int

	WSPingInterval    time.Duration
	WSPingTimeout     time.Duration
	HandshakeDeadline time.Duration

	MaxConnections         int
	MaxConnectionsPerUser  int
	MaxChannelSubscribers  int

	AllowQueryCredential bool

	LongPollEnabled bool
	LongPollWait    time.Duration

	ThrottleWindow      time.Duration
	ThrottleMaxAttempts int
	ThrottleCooldown    time.Duration

	MaxQueuePerSocket int
	MaxQueueBytes     int

	ShutdownGrace time.Duration

	WarnConnections        int
	CriticalConnections    int
	WarnResponseTimeMs     float64
	CriticalResponseTimeMs float64
	WarnErrorRate          float64
	CriticalErrorRate      float64
	WarnMemory             float64
	CriticalMemory         float64

	RedisEnabled  bool
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	NATSURL      string
	NATSUser     string
	NATSPassword string

	CredentialCacheTTL time.Duration

	ConnManagerSweepSchedule   string
	ConnManagerSweepStaleAfter time.Duration
	HealthEvalSchedule         string

	LogLevel  string
	LogPretty bool
}

// Load builds a Config from the process environment.
func Load() *Config {
	return &Config{
		Environment: getEnv("ENVIRONMENT", "production"),

		Host: getEnv("HOST", "0.0.0.0"),
		Port: getEnv("PORT", "8080"),

		SSLCertFile: getEnv("SSL_CERT_FILE", ""),
		SSLKeyFile:  getEnv("SSL_KEY_FILE", ""),

		UpstreamAPIURL: getEnv("UPSTREAM_API_URL", ""),
		UpstreamAPIKey: getEnv("UPSTREAM_API_KEY", ""),

		JWTSecret:    getEnv("JWT_SECRET", ""),
		JWTExpiresIn: getEnvDuration("JWT_EXPIRES_IN", 24*time.Hour),

		CORSOrigins: splitCSV(getEnv("CORS_ORIGIN", "*")),
		AdminKey:    getEnv("ADMIN_KEY", ""),

		RateLimitWindow:      getEnvDurationMs("RATE_LIMIT_WINDOW_MS", 60*time.Second),
		RateLimitMaxRequests: getEnvInt("RATE_LIMIT_MAX_REQUESTS", 100),

		WSPingInterval:    getEnvDurationSec("WS_PING_INTERVAL", 15*time.Second),
		WSPingTimeout:     getEnvDurationSec("WS_PING_TIMEOUT", 30*time.Second),
		HandshakeDeadline: getEnvDurationSec("HANDSHAKE_DEADLINE", 5*time.Second),

		MaxConnections:        getEnvInt("MAX_CONNECTIONS", 10000),
		MaxConnectionsPerUser: getEnvInt("MAX_CONNECTIONS_PER_USER", 1),
		MaxChannelSubscribers: getEnvInt("MAX_CHANNEL_SUBSCRIBERS", 10000),

		AllowQueryCredential: getEnvBool("ALLOW_QUERY_CREDENTIAL", false),

		LongPollEnabled: getEnvBool("LONGPOLL_ENABLED", true),
		LongPollWait:    getEnvDurationSec("LONGPOLL_WAIT_SECONDS", 25*time.Second),

		ThrottleWindow:      getEnvDurationSec("THROTTLE_WINDOW_SECONDS", 2*time.Second),
		ThrottleMaxAttempts: getEnvInt("THROTTLE_MAX_ATTEMPTS", 3),
		ThrottleCooldown:    getEnvDurationSec("THROTTLE_COOLDOWN_SECONDS", 30*time.Second),

		MaxQueuePerSocket: getEnvInt("MAX_QUEUE_PER_SOCKET", 1000),
		MaxQueueBytes:     getEnvInt("MAX_QUEUE_BYTES", 2*1024*1024),

		ShutdownGrace: getEnvDurationSec("SHUTDOWN_GRACE_SECONDS", 10*time.Second),

		WarnConnections:        getEnvInt("WARN_CONNECTIONS", 1000),
		CriticalConnections:    getEnvInt("CRITICAL_CONNECTIONS", 5000),
		WarnResponseTimeMs:     getEnvFloat("WARN_RESPONSE_TIME_MS", 500),
		CriticalResponseTimeMs: getEnvFloat("CRITICAL_RESPONSE_TIME_MS", 1000),
		WarnErrorRate:          getEnvFloat("WARN_ERROR_RATE", 0.05),
		CriticalErrorRate:      getEnvFloat("CRITICAL_ERROR_RATE", 0.10),
		WarnMemory:             getEnvFloat("WARN_MEMORY", 0.80),
		CriticalMemory:         getEnvFloat("CRITICAL_MEMORY", 0.90),

		RedisEnabled:  getEnvBool("REDIS_ENABLED", false),
		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		NATSURL:      getEnv("NATS_URL", ""),
		NATSUser:     getEnv("NATS_USER", ""),
		NATSPassword: getEnv("NATS_PASSWORD", ""),

		CredentialCacheTTL: getEnvDurationSec("CREDENTIAL_CACHE_TTL_SECONDS", 30*time.Second),

		ConnManagerSweepSchedule:   getEnv("CONNMGR_SWEEP_SCHEDULE", "@every 5m"),
		ConnManagerSweepStaleAfter: getEnvDurationSec("CONNMGR_SWEEP_STALE_AFTER_SECONDS", 600*time.Second),
		HealthEvalSchedule:         getEnv("HEALTH_EVAL_SCHEDULE", "@every 30s"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogPretty: getEnvBool("LOG_PRETTY", false),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvDurationMs(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if ms, err := strconv.Atoi(value); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultValue
}

func getEnvDurationSec(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if s, err := strconv.Atoi(value); err == nil {
			return time.Duration(s) * time.Second
		}
	}
	return defaultValue
}

func splitCSV(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(v); i++ {
		if i == len(v) || v[i] == ',' {
			if i > start {
				out = append(out, v[start:i])
			}
			start = i + 1
		}
	}
	return out
}
