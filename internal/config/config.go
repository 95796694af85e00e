package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                   string
	AllowedOrigin          string
	DatabaseURL            string
	MigrateOnStart         bool
	RedisAddr              string
	RedisPassword          string
	RedisDB                int
	WeekCacheTTLSeconds    int
	FinalizeLockTTLSeconds int
	AuthSecret             string
	AccessTokenTTLMinutes  int
	LogLevel               string
	LogFormat              string
	CarryForwardPolicy     string
	CurrencySymbol         string
	PrintSpoolDir          string
}

// Load reads the environment, after merging a .env file from the working
// directory when one exists. Variables already set win over the file.
func Load() Config {
	_ = godotenv.Load()

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))

	return Config{
		Port:                   getEnv("PORT", "8080"),
		AllowedOrigin:          getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:            os.Getenv("DATABASE_URL"),
		MigrateOnStart:         getBool("MIGRATE_ON_START", true),
		RedisAddr:              os.Getenv("REDIS_ADDR"),
		RedisPassword:          os.Getenv("REDIS_PASSWORD"),
		RedisDB:                redisDB,
		WeekCacheTTLSeconds:    getPositiveInt("WEEK_CACHE_TTL_SECONDS", 300),
		FinalizeLockTTLSeconds: getPositiveInt("FINALIZE_LOCK_TTL_SECONDS", 30),
		AuthSecret:             strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes:  getPositiveInt("ACCESS_TOKEN_TTL_MINUTES", 480),
		LogLevel:               getEnv("LOG_LEVEL", "info"),
		LogFormat:              getEnv("LOG_FORMAT", "json"),
		CarryForwardPolicy:     getEnv("CARRY_FORWARD_POLICY", "require_opening_after_gap"),
		CurrencySymbol:         getEnv("CURRENCY_SYMBOL", "$"),
		PrintSpoolDir:          strings.TrimSpace(os.Getenv("PRINT_SPOOL_DIR")),
	}
}

// Validate rejects settings the server must not start with.
func (c Config) Validate() error {
	var errs []error
	if len(c.AuthSecret) < 32 {
		errs = append(errs, errors.New("AUTH_SECRET must be set and at least 32 characters"))
	}
	if _, err := strconv.Atoi(c.Port); err != nil {
		errs = append(errs, fmt.Errorf("PORT %q is not a number", c.Port))
	}
	return errors.Join(errs...)
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) WeekCacheTTL() time.Duration {
	return time.Duration(c.WeekCacheTTLSeconds) * time.Second
}

func (c Config) FinalizeLockTTL() time.Duration {
	return time.Duration(c.FinalizeLockTTLSeconds) * time.Second
}

func (c Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLMinutes) * time.Minute
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func getPositiveInt(key string, fallback int) int {
	n, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil || n < 1 {
		return fallback
	}
	return n
}

func getBool(key string, fallback bool) bool {
	b, err := strconv.ParseBool(getEnv(key, strconv.FormatBool(fallback)))
	if err != nil {
		return fallback
	}
	return b
}
