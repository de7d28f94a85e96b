package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestLoadConfig(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr bool
	}{
		{"defaults with token", map[string]string{"ADMIN_TOKEN": "x"}, false},
		{"missing token", map[string]string{}, true},
		{"memory ledger", map[string]string{"ADMIN_TOKEN": "x", "LEDGER_STORE": "memory"}, false},
		{"unknown ledger", map[string]string{"ADMIN_TOKEN": "x", "LEDGER_STORE": "sqlite"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("ADMIN_TOKEN", "")
			t.Setenv("LEDGER_STORE", "")
			os.Unsetenv("LEDGER_STORE")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			cfg, err := loadConfig()
			if (err != nil) != tt.wantErr {
				t.Fatalf("loadConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && cfg.Port != "8080" {
				t.Errorf("Port = %q, want default 8080", cfg.Port)
			}
		})
	}
}

func TestLoadConfigOrigins(t *testing.T) {
	t.Setenv("ADMIN_TOKEN", "x")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example,https://b.example")
	cfg, err := loadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "https://b.example" {
		t.Fatalf("origins = %v", cfg.CORSAllowedOrigins)
	}
}

func writePolicy(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadPolicy(t *testing.T) {
	def, err := loadPolicy("")
	if err != nil {
		t.Fatalf("loadPolicy(\"\") error = %v", err)
	}
	if !def.Auction.BidIncrement.Equal(decimal.NewFromInt(100000)) {
		t.Fatalf("default increment = %s", def.Auction.BidIncrement)
	}

	path := writePolicy(t, `
auction:
  bid_increment: "50000"
  sell_countdown: 3s
presence:
  grace_period: 45s
`)
	got, err := loadPolicy(path)
	if err != nil {
		t.Fatalf("loadPolicy() error = %v", err)
	}
	if !got.Auction.BidIncrement.Equal(decimal.NewFromInt(50000)) {
		t.Errorf("increment = %s, want 50000", got.Auction.BidIncrement)
	}
	if got.Auction.SellCountdown != 3*time.Second {
		t.Errorf("countdown = %s, want 3s", got.Auction.SellCountdown)
	}
	if !got.Auction.FallbackFloor.Equal(def.Auction.FallbackFloor) {
		t.Errorf("unset floor = %s, want default %s", got.Auction.FallbackFloor, def.Auction.FallbackFloor)
	}
	if got.Presence.GracePeriod != 45*time.Second || got.Presence.HeartbeatTimeout != def.Presence.HeartbeatTimeout {
		t.Errorf("presence = %+v", got.Presence)
	}
}

func TestLoadPolicyRejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"negative increment", "auction:\n  bid_increment: \"-1\"\n"},
		{"zero sweep", "presence:\n  sweep_interval: 0s\n"},
		{"not yaml", "auction: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := loadPolicy(writePolicy(t, tt.body)); err == nil {
				t.Fatal("loadPolicy() accepted an invalid file")
			}
		})
	}
	if _, err := loadPolicy(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("loadPolicy() accepted a missing file")
	}
}
