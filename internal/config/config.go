package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewReconciliationConfigHolder),
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Redis RedisConfig

	Ledger         LedgerConfig
	Reconciliation ReconciliationRunConfig

	// AdminAPIKeys is a ';' separated list of role=argon2id-hash pairs.
	AdminAPIKeys string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}

// LedgerConfig selects and configures the processor adapter.
type LedgerConfig struct {
	Provider    string
	BaseURL     string
	APIKey      string
	PageSize    int
	HTTPTimeout time.Duration
}

type ReconciliationRunConfig struct {
	Timeout          time.Duration
	MaxWindow        time.Duration
	ScheduleEnabled  bool
	ScheduleInterval time.Duration
	ScheduleWindow   time.Duration
	LockTTL          time.Duration
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:      getenv("APP_SERVICE", "reconciler"),
		AppVersion:   getenv("APP_VERSION", "0.1.0"),
		Environment:  getenv("ENVIRONMENT", "development"),
		HTTPAddr:     getenv("HTTP_ADDR", ":8080"),
		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            strings.ToLower(getenv("DATABASE_TYPE", "postgres")),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "postgres"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),

		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getenvInt("REDIS_DB", 0),
		},

		Ledger: LedgerConfig{
			Provider:    strings.ToLower(strings.TrimSpace(getenv("LEDGER_PROVIDER", "stripe"))),
			BaseURL:     strings.TrimSpace(getenv("LEDGER_API_BASE_URL", "")),
			APIKey:      strings.TrimSpace(getenv("LEDGER_API_KEY", "")),
			PageSize:    getenvInt("LEDGER_PAGE_SIZE", 100),
			HTTPTimeout: getenvDuration("LEDGER_HTTP_TIMEOUT", 30*time.Second),
		},

		Reconciliation: ReconciliationRunConfig{
			Timeout:          getenvDuration("RECONCILIATION_TIMEOUT", 2*time.Minute),
			MaxWindow:        getenvDuration("RECONCILIATION_MAX_WINDOW", 31*24*time.Hour),
			ScheduleEnabled:  getenvBool("RECONCILIATION_SCHEDULE_ENABLED", false),
			ScheduleInterval: getenvDuration("RECONCILIATION_SCHEDULE_INTERVAL", 24*time.Hour),
			ScheduleWindow:   getenvDuration("RECONCILIATION_SCHEDULE_WINDOW", 24*time.Hour),
			LockTTL:          getenvDuration("RECONCILIATION_LOCK_TTL", 10*time.Minute),
		},

		AdminAPIKeys: strings.TrimSpace(getenv("ADMIN_API_KEYS", "")),
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %d", key, value, def)
		return def
	}
	return parsed
}

// getenvDuration accepts Go durations ("90s", "24h") or plain seconds.
func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	if parsed, err := time.ParseDuration(value); err == nil && parsed > 0 {
		return parsed
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	log.Printf("[config] invalid %s=%q, using %s", key, value, def)
	return def
}
