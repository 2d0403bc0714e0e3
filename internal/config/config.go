// Package config provides runtime configuration values for the ledger processes.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"inventory-ledger/internal/core"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

// Store backends selectable with LEDGER_STORE.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config holds every knob read from the environment.
type Config struct {
	DatabaseURL     string
	Store           string
	HTTPAddr        string
	AllowedOrigins  string
	JWTSecret       string
	DefaultOrgID    string
	LockTimeout     time.Duration
	ShutdownTimeout time.Duration
	LogLevel        string
	LogFormat       string

	AllowOversell        bool
	DedupeReferences     bool
	AdjustBelowCommitted string
	VerifyIntegrity      bool

	OpenAIKey   string
	OpenAIModel string
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func atoienv(key string, def int) int {
	v := getenv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func boolenv(key string, def bool) bool {
	v := getenv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func durenvms(key string, defMs int) time.Duration {
	return time.Duration(atoienv(key, defMs)) * time.Millisecond
}

func durenvs(key string, defSec int) time.Duration {
	return time.Duration(atoienv(key, defSec)) * time.Second
}

// Load reads .env if present, then the environment, applying defaults.
func Load() Config {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv is Load without the .env file.
func FromEnv() Config {
	return Config{
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		Store:           strings.ToLower(getenv("LEDGER_STORE", StorePostgres)),
		HTTPAddr:        getenv("HTTP_ADDR", ":8080"),
		AllowedOrigins:  os.Getenv("ALLOWED_ORIGINS"),
		JWTSecret:       os.Getenv("JWT_SECRET"),
		DefaultOrgID:    os.Getenv("DEFAULT_ORG_ID"),
		LockTimeout:     durenvms("LOCK_TIMEOUT_MS", 2000),
		ShutdownTimeout: durenvs("SHUTDOWN_TIMEOUT", 15),
		LogLevel:        strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogFormat:       strings.ToLower(getenv("LOG_FORMAT", "json")),

		AllowOversell:        boolenv("ALLOW_OVERSELL", false),
		DedupeReferences:     boolenv("DEDUPE_REFERENCES", false),
		AdjustBelowCommitted: strings.ToLower(getenv("ADJUST_BELOW_COMMITTED", string(core.BelowCommittedReject))),
		VerifyIntegrity:      boolenv("VERIFY_INTEGRITY", true),

		OpenAIKey:   os.Getenv("OPENAI_API_KEY"),
		OpenAIModel: getenv("OPENAI_MODEL", "gpt-4o"),
	}
}

// Validate rejects enum values and combinations the processes cannot run with.
func (c Config) Validate() error {
	switch c.Store {
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when LEDGER_STORE=%s", StorePostgres)
		}
	case StoreMemory:
	default:
		return fmt.Errorf("LEDGER_STORE must be %s or %s, got %q", StorePostgres, StoreMemory, c.Store)
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.LogFormat)
	}
	if c.DefaultOrgID != "" {
		if _, err := uuid.Parse(c.DefaultOrgID); err != nil {
			return fmt.Errorf("DEFAULT_ORG_ID is not a UUID: %w", err)
		}
	}
	if c.LockTimeout <= 0 {
		return fmt.Errorf("LOCK_TIMEOUT_MS must be positive")
	}
	return c.Policy().Validate()
}

// Policy maps the stock-operation switches onto core.Policy.
func (c Config) Policy() core.Policy {
	return core.Policy{
		AllowOversell:        c.AllowOversell,
		DedupeReferences:     c.DedupeReferences,
		AdjustBelowCommitted: core.BelowCommittedPolicy(c.AdjustBelowCommitted),
		VerifyIntegrity:      c.VerifyIntegrity,
	}
}
