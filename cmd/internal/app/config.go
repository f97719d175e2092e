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
	DBSchema    string
	DBMaxConns  int32
	DBMinConns  int32

	// Empty disables Redis-backed presence; an in-memory tracker is used.
	RedisURL string

	// If true:
	// - /readyz returns 503 unless the DB is configured and reachable.
	ReadinessRequireDB bool

	// Static tokens for dev and test deployments, each entry is
	// "token:userID" or "token:userID:deviceID".
	DevTokens []string

	// Conversation memberships for DB-less dev runs, each entry is
	// "conversationID:userID:userID:...". Ignored when a database is configured.
	DevMembers []string
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr: EnvString("RELAY_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel: EnvString("RELAY_LOG_LEVEL", "info"),

		ReadHeaderTimeout: EnvDuration("RELAY_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("RELAY_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("RELAY_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("RELAY_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("RELAY_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("RELAY_DATABASE_URL", ""),
		DBSchema:    EnvString("RELAY_DB_SCHEMA", ""),
		DBMaxConns:  EnvInt32("RELAY_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("RELAY_DB_MIN_CONNS", 0),

		RedisURL: EnvString("RELAY_REDIS_URL", ""),

		ReadinessRequireDB: EnvBool("RELAY_READINESS_REQUIRE_DB", false),

		DevTokens:  EnvCSV("RELAY_DEV_TOKENS", ""),
		DevMembers: EnvCSV("RELAY_DEV_MEMBERS", ""),
	}
}
