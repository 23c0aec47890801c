package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string // "json" (default) or "pretty"

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

	// AuthKeys holds the COURIER_AUTH_KEYS spec ("identity:digest;...").
	// Empty enables the insecure dev gate.
	AuthKeys string

	MediaDir     string
	MediaBaseURL string

	FanoutQueue int

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("COURIER_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("COURIER_LOG_LEVEL", "info"),
		LogFormat: EnvString("COURIER_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("COURIER_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("COURIER_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("COURIER_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("COURIER_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("COURIER_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("COURIER_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("COURIER_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("COURIER_DB_MIN_CONNS", 0),

		ReadinessRequireDB: EnvBool("COURIER_READINESS_REQUIRE_DB", false),

		AuthKeys: EnvString("COURIER_AUTH_KEYS", ""),

		MediaDir:     EnvString("COURIER_MEDIA_DIR", "uploads"),
		MediaBaseURL: EnvString("COURIER_MEDIA_BASE_URL", "/uploads"),

		FanoutQueue: EnvInt("COURIER_FANOUT_QUEUE", 1024),

		CORSAllowedOrigins:   EnvCSV("COURIER_CORS_ALLOWED_ORIGINS", ""),
		CORSAllowCredentials: EnvBool("COURIER_CORS_ALLOW_CREDENTIALS", true),
		CORSMaxAgeSeconds:    EnvInt("COURIER_CORS_MAX_AGE_SECONDS", 600),
	}
}
