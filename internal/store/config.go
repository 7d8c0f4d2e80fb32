package store

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds connection parameters for the control-plane database — the
// single process-wide pool every job acquires a client from at pipeline
// start (§5). Grounded on the teacher's database.Config
// (pkg/database/config.go).
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	Schema   string

	MaxConns int32
}

// LoadConfigFromEnv reads CONTROL_DB_* environment variables, following the
// teacher's getEnv-with-default idiom (cmd/tarsy/main.go).
func LoadConfigFromEnv() (Config, error) {
	cfg := Config{
		Host:     getEnv("CONTROL_DB_HOST", "localhost"),
		Port:     getEnvInt("CONTROL_DB_PORT", 5432),
		User:     getEnv("CONTROL_DB_USER", "postgres"),
		Password: os.Getenv("CONTROL_DB_PASSWORD"),
		Database: getEnv("CONTROL_DB_NAME", "turbobackend"),
		SSLMode:  getEnv("CONTROL_DB_SSLMODE", "disable"),
		Schema:   getEnv("CONTROL_DB_SCHEMA", "public"),
		MaxConns: int32(getEnvInt("CONTROL_DB_MAX_CONNS", 20)),
	}
	if cfg.Host == "" {
		return Config{}, fmt.Errorf("CONTROL_DB_HOST is required")
	}
	return cfg, nil
}

// DSN builds a libpq-style connection string for pgx.
func (c Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// ClusterConfig holds the relational database cluster's administrative
// credentials, used only by the schema provisioner (§4.5) to create a
// fresh per-project database. Distinct from Config, which is the worker's
// own control-plane connection.
type ClusterConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	SSLMode  string
}

// LoadClusterConfigFromEnv reads DB_CLUSTER_HOST/PORT/USER/PASSWORD (§6).
func LoadClusterConfigFromEnv() (ClusterConfig, error) {
	cfg := ClusterConfig{
		Host:     os.Getenv("DB_CLUSTER_HOST"),
		Port:     getEnvInt("DB_CLUSTER_PORT", 5432),
		User:     os.Getenv("DB_CLUSTER_USER"),
		Password: os.Getenv("DB_CLUSTER_PASSWORD"),
		SSLMode:  getEnv("DB_CLUSTER_SSLMODE", "disable"),
	}
	if cfg.Host == "" || cfg.User == "" {
		return ClusterConfig{}, fmt.Errorf("DB_CLUSTER_HOST and DB_CLUSTER_USER are required")
	}
	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
