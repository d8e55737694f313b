package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr string
	LogLevel string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// If true:
	// - /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	// Security policy:
	// If true, CARTA_TOKEN_HMAC_KEY MUST be set (>= 32 bytes) and refresh-secret hashing must be HMAC-based.
	RequireTokenHMAC bool

	// MetricsEnabled exposes Prometheus metrics on /metrics.
	MetricsEnabled bool
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr: EnvString("CARTA_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel: EnvString("CARTA_LOG_LEVEL", "info"),

		ReadHeaderTimeout: EnvDuration("CARTA_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("CARTA_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("CARTA_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("CARTA_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("CARTA_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("CARTA_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("CARTA_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("CARTA_DB_MIN_CONNS", 0),

		ReadinessRequireDB: EnvBool("CARTA_READINESS_REQUIRE_DB", false),

		RequireTokenHMAC: EnvBool("CARTA_REQUIRE_TOKEN_HMAC", false),

		MetricsEnabled: EnvBool("CARTA_METRICS_ENABLED", true),
	}
}
