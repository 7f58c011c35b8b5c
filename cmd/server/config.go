package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/warp/leave-ledger/leave"
)

const (
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreMemory   = "memory"

	AuthJWT    = "jwt"
	AuthHeader = "header"
)

// Config is the server configuration. Every flag defaults to its
// environment variable, so flags win over the environment.
type Config struct {
	Port         int
	Store        string
	SQLitePath   string
	DatabaseURL  string
	AuthMode     string
	JWTSecret    string
	KafkaBrokers []string
	KafkaTopic   string
	WriteRetries int
	CORSOrigins  []string
	Demo         bool
}

// loadDotEnv reads .env into the process environment when present.
// Variables already set are not overridden.
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

func loadConfig(args []string, getenv func(string) string, output io.Writer) (Config, error) {
	env := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}
	envInt := func(key string, def int) (int, error) {
		v := env(key, "")
		if v == "" {
			return def, nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("%s must be an integer: %w", key, err)
		}
		return n, nil
	}

	port, err := envInt("PORT", 8080)
	if err != nil {
		return Config{}, err
	}
	retries, err := envInt("WRITE_RETRIES", leave.DefaultWriteAttempts)
	if err != nil {
		return Config{}, err
	}

	var (
		cfg     Config
		brokers string
		origins string
	)
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.IntVar(&cfg.Port, "port", port, "HTTP server port (PORT)")
	fs.StringVar(&cfg.Store, "store", env("STORE", StoreSQLite), "Ledger store: sqlite, postgres or memory (STORE)")
	fs.StringVar(&cfg.SQLitePath, "db", env("SQLITE_PATH", "leave.db"), "SQLite database path, \":memory:\" for in-memory (SQLITE_PATH)")
	fs.StringVar(&cfg.DatabaseURL, "database-url", env("DATABASE_URL", ""), "PostgreSQL connection URL (DATABASE_URL)")
	fs.StringVar(&cfg.AuthMode, "auth", env("AUTH_MODE", AuthJWT), "Authentication: jwt or header (AUTH_MODE)")
	fs.StringVar(&cfg.JWTSecret, "jwt-secret", env("JWT_SECRET", ""), "HS256 secret for bearer tokens (JWT_SECRET)")
	fs.StringVar(&brokers, "kafka-brokers", env("KAFKA_BROKERS", ""), "Comma-separated Kafka brokers; empty disables events (KAFKA_BROKERS)")
	fs.StringVar(&cfg.KafkaTopic, "kafka-topic", env("KAFKA_TOPIC", leave.DefaultTopic), "Kafka topic for ledger events (KAFKA_TOPIC)")
	fs.IntVar(&cfg.WriteRetries, "write-retries", retries, "Attempts per batch on concurrent modification (WRITE_RETRIES)")
	fs.BoolVar(&cfg.Demo, "demo", env("DEMO_USERS", "") == "true", "Seed demo users on startup (DEMO_USERS)")
	fs.StringVar(&origins, "cors-origins", env("CORS_ORIGINS", ""), "Comma-separated allowed CORS origins (CORS_ORIGINS)")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg.KafkaBrokers = splitList(brokers)
	cfg.CORSOrigins = splitList(origins)
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch c.Store {
	case StoreSQLite, StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres store")
		}
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}

	switch c.AuthMode {
	case AuthHeader:
	case AuthJWT:
		if c.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET is required for jwt auth")
		}
	default:
		return fmt.Errorf("unknown auth mode %q", c.AuthMode)
	}

	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.WriteRetries < 1 {
		return fmt.Errorf("write retries must be at least 1")
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
