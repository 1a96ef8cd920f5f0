// Package config handles the loading and parsing of application
// configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// BackupConfig holds the remote-mirror connection settings consumed by the
// Replication Engine. Env vars fall back through BACKUP_DB_* -> MYSQL_* ->
// DB_* in that order.
type BackupConfig struct {
	Host                 string
	Port                 string
	User                 string
	Password             string
	Name                 string
	Timeout              time.Duration
	PollSeconds          int
	HealthcheckSeconds   int
	HealthcheckVerbose   bool
}

// DSN builds a go-sql-driver/mysql data source name from the config.
func (b BackupConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true&timeout=%s",
		b.User, b.Password, b.Host, b.Port, b.Name, b.Timeout)
}

// WebConfig holds the web worker's HTTP server settings.
type WebConfig struct {
	Host         string
	Port         string
	IndexFile    string
	StaticMounts string // "/url=dir;/url=dir"
}

// Addr returns the host:port the web server should bind to.
func (w WebConfig) Addr() string {
	return fmt.Sprintf("%s:%s", w.Host, w.Port)
}

// ParsedMounts splits StaticMounts into a url -> directory map.
func (w WebConfig) ParsedMounts() map[string]string {
	mounts := map[string]string{}
	for _, part := range strings.Split(w.StaticMounts, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		mounts[kv[0]] = kv[1]
	}
	return mounts
}

// WSocketConfig holds the LAN WebSocket broadcast hub's bind settings.
type WSocketConfig struct {
	Host string
	Port string
}

// Addr returns the host:port the hub should bind to.
func (w WSocketConfig) Addr() string {
	return fmt.Sprintf("%s:%s", w.Host, w.Port)
}

// AppConfig holds all configuration settings for the PowerBot process,
// shared across the supervisor and every worker kind.
type AppConfig struct {
	DataRoot       string // root directory for all persisted state
	DBPath         string // path to the local embedded SQLite file
	MigrationsPath string // path to the SQLite migrations directory

	Backup  BackupConfig
	Web     WebConfig
	WSocket WSocketConfig

	LogLevel        string
	ShutdownTimeout time.Duration
}

// Load reads environment variables and populates the AppConfig struct,
// applying the documented defaults for non-critical values.
func Load() (*AppConfig, error) {
	dataRoot := getEnv("POWERBOT_DATA_ROOT", ".")

	cfg := &AppConfig{
		DataRoot:       dataRoot,
		DBPath:         getEnv("POWERBOT_DB_PATH", dataRoot+"/powerbot.db"),
		MigrationsPath: getEnv("POWERBOT_MIGRATIONS_PATH", "migrations/sqlite"),

		Backup: BackupConfig{
			Host:               firstNonEmpty(getEnv("BACKUP_DB_HOST", ""), getEnv("MYSQL_HOST", ""), getEnv("DB_HOST", "127.0.0.1")),
			Port:               firstNonEmpty(getEnv("BACKUP_DB_PORT", ""), getEnv("MYSQL_PORT", ""), getEnv("DB_PORT", "3306")),
			User:               firstNonEmpty(getEnv("BACKUP_DB_USER", ""), getEnv("MYSQL_USER", ""), getEnv("DB_USER", "")),
			Password:           firstNonEmpty(getEnv("BACKUP_DB_PASSWORD", ""), getEnv("MYSQL_PASSWORD", ""), getEnv("DB_PASSWORD", "")),
			Name:               firstNonEmpty(getEnv("BACKUP_DB_NAME", ""), getEnv("MYSQL_NAME", ""), getEnv("DB_NAME", "powerbot")),
			Timeout:            getEnvAsDuration(firstNonEmptyKey("BACKUP_DB_TIMEOUT", "MYSQL_TIMEOUT", "DB_TIMEOUT"), 10*time.Second),
			PollSeconds:        getEnvAsInt("BACKUP_POLL_SECONDS", 300),
			HealthcheckSeconds: getEnvAsInt("BACKUP_HEALTHCHECK_SECONDS", 60),
			HealthcheckVerbose: getEnvAsBool("BACKUP_HEALTHCHECK_VERBOSE", false),
		},

		Web: WebConfig{
			Host:         getEnv("WEB_HOST", "0.0.0.0"),
			Port:         getEnv("WEB_PORT", "8090"),
			IndexFile:    getEnv("WEB_INDEX_FILE", "index.html"),
			StaticMounts: getEnv("WEB_STATIC_MOUNTS", ""),
		},

		WSocket: WSocketConfig{
			Host: getEnv("WSOCKET_HOST", "0.0.0.0"),
			Port: getEnv("WSOCKET_PORT", "8091"),
		},

		LogLevel:        getEnv("POWERBOT_LOG_LEVEL", "info"),
		ShutdownTimeout: getEnvAsDuration("POWERBOT_SHUTDOWN_TIMEOUT", 10*time.Second),
	}

	return cfg, nil
}

// firstNonEmptyKey returns whichever of the given env var names is set
// first, or the first name if none are set (so the caller's default still
// applies through getEnvAsDuration).
func firstNonEmptyKey(keys ...string) string {
	for _, k := range keys {
		if _, ok := os.LookupEnv(k); ok {
			return k
		}
	}
	return keys[0]
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// --- Helper Functions for robust environment variable loading ---

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an integer environment variable or returns a default value.
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves a boolean environment variable or returns a default value.
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsDuration retrieves a time.Duration environment variable or returns a default value.
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	return defaultValue
}
