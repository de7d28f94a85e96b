package dbconfig

import "testing"

func TestNewConfigFromEnv(t *testing.T) {
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_PORT", "5433")
	t.Setenv("DB_USER", "app")
	t.Setenv("DB_PASSWORD", "p@ss")
	t.Setenv("DB_NAME", "auction")
	t.Setenv("DB_SSLMODE", "require")

	cfg, err := NewConfigFromEnv()
	if err != nil {
		t.Fatalf("NewConfigFromEnv() error = %v", err)
	}
	want := "postgres://app:p%40ss@db:5433/auction?sslmode=require"
	if got := cfg.DSN(); got != want {
		t.Fatalf("DSN() = %q, want %q", got, want)
	}
}

func TestNewConfigFromEnvRejectsBadPort(t *testing.T) {
	t.Setenv("DB_PORT", "not-a-port")
	if _, err := NewConfigFromEnv(); err == nil {
		t.Fatal("NewConfigFromEnv() accepted a non-numeric port")
	}
}
