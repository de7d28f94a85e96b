package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/mcdev12/landauction/go/internal/auction"
	"github.com/mcdev12/landauction/go/internal/dbconfig"
	"github.com/mcdev12/landauction/go/internal/presence"
)

const (
	ledgerPostgres = "postgres"
	ledgerMemory   = "memory"
)

// Config is the process configuration read from the environment.
type Config struct {
	Port               string   `env:"PORT" envDefault:"8080"`
	AdminToken         string   `env:"ADMIN_TOKEN"`
	LedgerStore        string   `env:"LEDGER_STORE" envDefault:"postgres"`
	PolicyFile         string   `env:"AUCTION_POLICY_FILE"`
	NATSURL            string   `env:"NATS_URL"`
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`
	LogLevel           string   `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat          string   `env:"LOG_FORMAT" envDefault:"console"`
	// SeedMemory fills an in-memory ledger with the default teams and plots.
	SeedMemory bool `env:"SEED_MEMORY" envDefault:"true"`

	DB dbconfig.Config
}

// PolicyFile is the optional YAML file tuning the auction and presence rules.
// Money values are quoted strings so they keep their exact decimal value.
type PolicyFile struct {
	Auction  auction.Policy  `yaml:"auction"`
	Presence presence.Config `yaml:"presence"`
}

func loadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	switch cfg.LedgerStore {
	case ledgerPostgres, ledgerMemory:
	default:
		return Config{}, fmt.Errorf("LEDGER_STORE must be %q or %q, got %q", ledgerPostgres, ledgerMemory, cfg.LedgerStore)
	}
	if cfg.AdminToken == "" {
		return Config{}, errors.New("ADMIN_TOKEN environment variable is required")
	}
	return cfg, nil
}

// loadPolicy returns the defaults overlaid with path, if set.
func loadPolicy(path string) (PolicyFile, error) {
	out := PolicyFile{
		Auction:  auction.DefaultPolicy(),
		Presence: presence.DefaultConfig(),
	}
	if path == "" {
		return out, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return PolicyFile{}, fmt.Errorf("failed to read policy file: %w", err)
	}
	if err := yaml.Unmarshal(data, &out); err != nil {
		return PolicyFile{}, fmt.Errorf("failed to parse policy file: %w", err)
	}
	if err := out.Auction.Validate(); err != nil {
		return PolicyFile{}, fmt.Errorf("invalid auction policy: %w", err)
	}
	if out.Presence.HeartbeatTimeout <= 0 || out.Presence.GracePeriod <= 0 || out.Presence.SweepInterval <= 0 {
		return PolicyFile{}, errors.New("presence timings must be positive")
	}
	return out, nil
}
