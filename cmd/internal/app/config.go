package app

import (
	"time"

	"arcfeed/cmd/internal/envconf"
	"arcfeed/cmd/internal/realtime"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	// Store selection: DatabaseURL wins, then SQLitePath, else in-memory.
	DatabaseURL   string
	DBMaxConns    int32
	DBMinConns    int32
	DBSchema      string
	DBAutoMigrate bool
	SQLitePath    string

	// If true:
	// - /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	// If true, ARC_TOKEN_HMAC_KEY MUST be set (>= 32 bytes) and bearer tokens
	// are only held as HMAC digests.
	RequireTokenHMAC bool

	// Rooms seeds the directory ("ref=id" or "ref=id:u1|u2").
	Rooms []string
	// Tokens lists bearer tokens ("token=user_id[:Display Name]").
	Tokens []string

	MediaMaxBytes int64

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	WS realtime.GatewayConfig
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  envconf.String("ARC_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  envconf.String("ARC_LOG_LEVEL", "info"),
		LogFormat: envconf.String("ARC_LOG_FORMAT", "json"),

		ReadHeaderTimeout: envconf.Duration("ARC_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       envconf.Duration("ARC_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      envconf.Duration("ARC_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       envconf.Duration("ARC_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: envconf.Int("ARC_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL:   envconf.String("ARC_DATABASE_URL", ""),
		DBMaxConns:    envconf.Int32("ARC_DB_MAX_CONNS", 10),
		DBMinConns:    envconf.Int32("ARC_DB_MIN_CONNS", 0),
		DBSchema:      envconf.String("ARC_DB_SCHEMA", realtime.DefaultSchema),
		DBAutoMigrate: envconf.Bool("ARC_DB_AUTO_MIGRATE", false),
		SQLitePath:    envconf.String("ARC_SQLITE_PATH", ""),

		ReadinessRequireDB: envconf.Bool("ARC_READINESS_REQUIRE_DB", false),

		RequireTokenHMAC: envconf.Bool("ARC_REQUIRE_TOKEN_HMAC", false),

		Rooms:  envconf.List("ARC_ROOMS"),
		Tokens: envconf.List("ARC_TOKENS"),

		MediaMaxBytes: envconf.Int64("ARC_MEDIA_MAX_BYTES", 8<<20),

		CORSAllowedOrigins:   envconf.List("ARC_CORS_ALLOWED_ORIGINS"),
		CORSAllowCredentials: envconf.Bool("ARC_CORS_ALLOW_CREDENTIALS", false),
		CORSMaxAgeSeconds:    envconf.Int("ARC_CORS_MAX_AGE_SECONDS", 600),

		WS: realtime.GatewayConfigFromEnv(),
	}
}
