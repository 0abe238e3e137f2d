package config

import (
	"testing"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig()

	if cfg.DBDriver != "postgres" {
		t.Errorf("expected default driver postgres, got %q", cfg.DBDriver)
	}
	if cfg.CleartoolPath != "cleartool" {
		t.Errorf("expected default cleartool path, got %q", cfg.CleartoolPath)
	}
	if cfg.RedisAddr() != "localhost:6379" {
		t.Errorf("unexpected redis addr %q", cfg.RedisAddr())
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("CLEARCI_DB_DRIVER", "sqlite")
	t.Setenv("CLEARCI_SQLITE_PATH", "/tmp/ci.db")
	t.Setenv("CLEARCI_ETCD_ENDPOINTS", "etcd-1:2379, etcd-2:2379,")

	cfg := LoadConfig()

	if cfg.DBDriver != "sqlite" {
		t.Errorf("expected sqlite, got %q", cfg.DBDriver)
	}
	if cfg.SQLitePath != "/tmp/ci.db" {
		t.Errorf("unexpected sqlite path %q", cfg.SQLitePath)
	}
	if len(cfg.EtcdEndpoints) != 2 || cfg.EtcdEndpoints[1] != "etcd-2:2379" {
		t.Errorf("unexpected etcd endpoints %v", cfg.EtcdEndpoints)
	}
}

func TestDSN(t *testing.T) {
	cfg := &Config{
		DBHost: "db", DBPort: "5433", DBUser: "ci", DBPassword: "secret", DBName: "builds",
	}
	want := "host=db port=5433 user=ci password=secret dbname=builds sslmode=disable"
	if got := cfg.DSN(); got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}
}
