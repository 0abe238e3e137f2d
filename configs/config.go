// Package config loads service configuration from the environment. Every
// variable carries a CLEARCI_ prefix except HUDSON_CLEARCASE_VERBOSE, whose
// name is part of the cleartool launcher contract.
package config

import (
	"os"
	"strconv"
	"strings"
)

type Config struct {
	// Storage
	DBDriver   string // postgres or sqlite
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	SQLitePath string

	// Queue
	RedisHost string
	RedisPort string

	// Coordination
	EtcdEndpoints     []string
	SchedulerInterval string
	LeaderElectionTTL int

	// API
	APIPort   string
	JWTSecret string

	// Executor
	Workspace      string
	CleartoolPath  string
	Concurrency    int
	DefaultTimeout string

	// Console log archive
	LogStoreDriver string // s3 or local
	S3Bucket       string
	S3Region       string
	S3Endpoint     string // non-empty for MinIO and other S3 compatibles
	LocalLogDir    string

	// Observability
	LogLevel        string
	LogEncoding     string
	TracingEndpoint string
}

func LoadConfig() *Config {
	return &Config{
		DBDriver:   getEnv("CLEARCI_DB_DRIVER", "postgres"),
		DBHost:     getEnv("CLEARCI_DB_HOST", "localhost"),
		DBPort:     getEnv("CLEARCI_DB_PORT", "5432"),
		DBUser:     getEnv("CLEARCI_DB_USER", "clearci"),
		DBPassword: getEnv("CLEARCI_DB_PASSWORD", "password"),
		DBName:     getEnv("CLEARCI_DB_NAME", "clearci"),
		SQLitePath: getEnv("CLEARCI_SQLITE_PATH", "clearci.db"),

		RedisHost: getEnv("CLEARCI_REDIS_HOST", "localhost"),
		RedisPort: getEnv("CLEARCI_REDIS_PORT", "6379"),

		EtcdEndpoints:     splitList(getEnv("CLEARCI_ETCD_ENDPOINTS", "localhost:2379")),
		SchedulerInterval: getEnv("CLEARCI_SCHEDULER_INTERVAL", "10s"),
		LeaderElectionTTL: getEnvAsInt("CLEARCI_LEADER_ELECTION_TTL", 15),

		APIPort:   getEnv("CLEARCI_API_PORT", "8080"),
		JWTSecret: getEnv("CLEARCI_JWT_SECRET", ""),

		Workspace:      getEnv("CLEARCI_WORKSPACE", "/var/lib/clearci/workspace"),
		CleartoolPath:  getEnv("CLEARCI_CLEARTOOL_PATH", "cleartool"),
		Concurrency:    getEnvAsInt("CLEARCI_CONCURRENCY", 0), // 0 means one per CPU
		DefaultTimeout: getEnv("CLEARCI_DEFAULT_TIMEOUT", "5m"),

		LogStoreDriver: getEnv("CLEARCI_LOG_STORE", "local"),
		S3Bucket:       getEnv("CLEARCI_S3_BUCKET", "clearci-logs"),
		S3Region:       getEnv("CLEARCI_S3_REGION", "us-east-1"),
		S3Endpoint:     getEnv("CLEARCI_S3_ENDPOINT", ""),
		LocalLogDir:    getEnv("CLEARCI_LOG_DIR", "/var/lib/clearci/logs"),

		LogLevel:        getEnv("CLEARCI_LOG_LEVEL", "info"),
		LogEncoding:     getEnv("CLEARCI_LOG_ENCODING", "json"),
		TracingEndpoint: getEnv("CLEARCI_OTLP_ENDPOINT", ""),
	}
}

// DSN assembles the postgres connection string.
func (c *Config) DSN() string {
	return "host=" + c.DBHost +
		" port=" + c.DBPort +
		" user=" + c.DBUser +
		" password=" + c.DBPassword +
		" dbname=" + c.DBName +
		" sslmode=disable"
}

// RedisAddr returns host:port for the queue.
func (c *Config) RedisAddr() string {
	return c.RedisHost + ":" + c.RedisPort
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
