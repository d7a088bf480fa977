// config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"rewards-ledger/logger"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	App        *AppConfig
	DB         *DBConfig
	Ledger     *LedgerConfig
	Redis      *RedisConfig
	R2         *R2Config
	Identity   *IdentityConfig
	Settlement *SettlementConfig
	RateLimit  *RateLimitConfig
}

type AppConfig struct {
	Name           string
	Env            string
	Port           string
	ServiceToken   string
	AllowedOrigins []string
}

type DBConfig struct {
	DSN             string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	TxRetries       int
	TxBackoff       time.Duration
}

// LedgerConfig carries the money rules. Amounts are whole currency units.
type LedgerConfig struct {
	MinDeposit         int64
	MinWithdrawal      int64
	MinResidualBalance int64
	DailyTaskCap       int
	CommissionRate     decimal.Decimal
	Currency           string
	Location           *time.Location
	MerchantCode       string
	DepositTTL         time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	CacheTTL time.Duration
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	AccessKeySecret string
	Bucket          string
	ReportPrefix    string
}

type IdentityConfig struct {
	AuthServiceURL string
	AuthToken      string
	SyncServiceURL string
	SyncInterval   time.Duration
}

type SettlementConfig struct {
	FeedURL      string
	PollInterval time.Duration
}

type RateLimitConfig struct {
	PerSecond float64
	Burst     int
}

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Warn("No .env file found, reading environment variables directly")
	}

	ledger, err := LoadLedgerConfig()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		App:        LoadAppConfig(),
		DB:         LoadDBConfig(),
		Ledger:     ledger,
		Redis:      LoadRedisConfig(),
		R2:         LoadR2Config(),
		Identity:   LoadIdentityConfig(),
		Settlement: LoadSettlementConfig(),
		RateLimit:  LoadRateLimitConfig(),
	}
	if cfg.DB.DSN == "" {
		return nil, fmt.Errorf("config: DATABASE_URL environment variable not set")
	}
	if cfg.App.ServiceToken == "" {
		return nil, fmt.Errorf("config: SERVICE_TOKEN environment variable not set")
	}
	return cfg, nil
}

func LoadAppConfig() *AppConfig {
	return &AppConfig{
		Name:           getEnv("APP_NAME", "rewards-ledger"),
		Env:            getEnv("APP_ENV", "development"),
		Port:           getEnv("APP_PORT", "5200"),
		ServiceToken:   getEnv("SERVICE_TOKEN", ""),
		AllowedOrigins: getEnvAsList("ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
	}
}

func LoadDBConfig() *DBConfig {
	return &DBConfig{
		DSN:             getEnv("DATABASE_URL", ""),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 10),
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 50),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", time.Hour),
		TxRetries:       getEnvAsInt("DB_TX_RETRIES", 5),
		TxBackoff:       getEnvAsDuration("DB_TX_BACKOFF", 20*time.Millisecond),
	}
}

func LoadLedgerConfig() (*LedgerConfig, error) {
	rate, err := decimal.NewFromString(getEnv("COMMISSION_RATE", "0.20"))
	if err != nil {
		return nil, fmt.Errorf("config: invalid COMMISSION_RATE: %w", err)
	}
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("config: COMMISSION_RATE must be between 0 and 1, got %s", rate)
	}

	tz := getEnv("LEDGER_TIMEZONE", "Africa/Kigali")
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("config: invalid LEDGER_TIMEZONE %q: %w", tz, err)
	}

	return &LedgerConfig{
		MinDeposit:         getEnvAsInt64("MIN_DEPOSIT", 2000),
		MinWithdrawal:      getEnvAsInt64("MIN_WITHDRAWAL", 10000),
		MinResidualBalance: getEnvAsInt64("MIN_RESIDUAL_BALANCE", 3000),
		DailyTaskCap:       getEnvAsInt("DAILY_TASK_CAP", 20),
		CommissionRate:     rate,
		Currency:           getEnv("CURRENCY", "RWF"),
		Location:           loc,
		MerchantCode:       getEnv("MERCHANT_CODE", ""),
		DepositTTL:         getEnvAsDuration("DEPOSIT_TTL", 24*time.Hour),
	}, nil
}

func LoadRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:     getEnv("REDIS_ADDR", ""),
		Password: getEnv("REDIS_PASSWORD", ""),
		DB:       getEnvAsInt("REDIS_DB", 0),
		CacheTTL: getEnvAsDuration("ANALYTICS_CACHE_TTL", 30*time.Second),
	}
}

func LoadR2Config() *R2Config {
	return &R2Config{
		AccountID:       getEnv("CLOUDFLARE_ACCOUNT_ID", ""),
		AccessKeyID:     getEnv("R2_ACCESS_KEY_ID", ""),
		AccessKeySecret: getEnv("R2_ACCESS_KEY_SECRET", ""),
		Bucket:          getEnv("R2_BUCKET_NAME", ""),
		ReportPrefix:    getEnv("R2_REPORT_PREFIX", "reports/ledger"),
	}
}

func LoadIdentityConfig() *IdentityConfig {
	return &IdentityConfig{
		AuthServiceURL: getEnv("AUTH_SERVICE_URL", ""),
		AuthToken:      getEnv("AUTH_SERVICE_TOKEN", ""),
		SyncServiceURL: getEnv("SYNC_SERVICE_URL", ""),
		SyncInterval:   getEnvAsDuration("MEMBER_SYNC_INTERVAL", time.Minute),
	}
}

func LoadSettlementConfig() *SettlementConfig {
	return &SettlementConfig{
		FeedURL:      getEnv("SETTLEMENT_FEED_URL", ""),
		PollInterval: getEnvAsDuration("SETTLEMENT_POLL_INTERVAL", 15*time.Second),
	}
}

func LoadRateLimitConfig() *RateLimitConfig {
	rps, err := strconv.ParseFloat(getEnv("RATE_LIMIT_RPS", "5"), 64)
	if err != nil || rps <= 0 {
		rps = 5
	}
	return &RateLimitConfig{
		PerSecond: rps,
		Burst:     getEnvAsInt("RATE_LIMIT_BURST", 10),
	}
}

//============================================================

// getEnv returns the value of the environment variable or a default value if not set
func getEnv(key, defaultVal string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return defaultVal
}

// getEnvAsInt returns the value of the environment variable as an integer or a default value if not set
func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(val)); err == nil {
			return d
		}
	}
	return defaultVal
}

func getEnvAsList(key string, defaultVal []string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultVal
	}
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
