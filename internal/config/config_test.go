package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultsValidateInServeMode(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "serve" // serve mode needs no signing key

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() on defaults = %v, want nil", err)
	}
}

func TestValidateRequiresAuthorityKeyForGatewayModes(t *testing.T) {
	for _, mode := range []string{"arbiter", "full"} {
		t.Run(mode, func(t *testing.T) {
			cfg := Defaults()
			cfg.Mode = mode

			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), "private_key or encrypted_key_path") {
				t.Fatalf("Validate() = %v, want missing authority key error", err)
			}

			cfg.Authority.PrivateKey = "0xabc123"
			if err := cfg.Validate(); err != nil {
				t.Fatalf("Validate() with key = %v, want nil", err)
			}
		})
	}
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "daemon"
	cfg.LogLevel = "verbose"
	cfg.Authority.ChainID = 0
	cfg.Arbitration.EvidencePeriod = duration{0}
	cfg.Arbitration.Treasury = "not-an-address"
	cfg.Decision.UnitPenalty = "12.5"
	cfg.Server.Port = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() = nil, want error")
	}
	for _, want := range []string{
		`unknown mode "daemon"`,
		`unknown log_level "verbose"`,
		"chain_id must be positive",
		"evidence_period must be positive",
		`treasury "not-an-address"`,
		`unit_penalty "12.5"`,
		"server: port must be 1-65535",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("Validate() error missing %q:\n%v", want, err)
		}
	}
}

func TestValidatePostgresPoolBounds(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "serve"
	cfg.Postgres.PoolMinConns = 20
	cfg.Postgres.PoolMaxConns = 10

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "pool_min_conns must not exceed pool_max_conns") {
		t.Fatalf("Validate() = %v, want pool bounds error", err)
	}

	// Disabling postgres skips its checks entirely.
	cfg.Postgres.Enabled = false
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() with postgres disabled = %v, want nil", err)
	}
}

func TestValidateDSNSkipsDiscreteFields(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "serve"
	cfg.Postgres.DSN = "postgres://user:pw@db:5432/arbiterd"
	cfg.Postgres.Host = ""
	cfg.Postgres.Port = 0
	cfg.Postgres.Database = ""

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() with dsn set = %v, want nil", err)
	}
}

func TestUnitPenaltyAmount(t *testing.T) {
	tests := []struct {
		raw  string
		want int64
	}{
		{"", 0},
		{"   ", 0},
		{"0", 0},
		{"250", 250},
		{"garbage", 0},
	}
	for _, tt := range tests {
		d := DecisionConfig{UnitPenalty: tt.raw}
		if got := d.UnitPenaltyAmount(); got.Int64() != tt.want {
			t.Fatalf("UnitPenaltyAmount(%q) = %s, want %d", tt.raw, got, tt.want)
		}
	}
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
mode = "serve"
log_level = "debug"

[arbitration]
evidence_period = "72h"

[postgres]
enabled = false

[redis]
enabled = false
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Mode != "serve" || cfg.LogLevel != "debug" {
		t.Fatalf("Load() mode=%q log_level=%q, want serve/debug", cfg.Mode, cfg.LogLevel)
	}
	if cfg.Arbitration.EvidenceWindow() != 72*time.Hour {
		t.Fatalf("EvidenceWindow() = %v, want 72h", cfg.Arbitration.EvidenceWindow())
	}
	// Untouched sections keep their defaults.
	if cfg.Arbitration.AppealWindow() != 48*time.Hour {
		t.Fatalf("AppealWindow() = %v, want default 48h", cfg.Arbitration.AppealWindow())
	}
	if cfg.Postgres.Enabled || cfg.Redis.Enabled {
		t.Fatal("postgres/redis should be disabled by the file")
	}
	if cfg.Server.Port != 8000 {
		t.Fatalf("Server.Port = %d, want default 8000", cfg.Server.Port)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ARBITERD_MODE", "arbiter")
	t.Setenv("ARBITERD_AUTHORITY_CHAIN_ID", "1")
	t.Setenv("ARBITERD_ARBITRATION_EVIDENCE_PERIOD", "96h")
	t.Setenv("ARBITERD_POSTGRES_ENABLED", "false")
	t.Setenv("ARBITERD_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	if cfg.Mode != "arbiter" {
		t.Fatalf("Mode = %q, want arbiter", cfg.Mode)
	}
	if cfg.Authority.ChainID != 1 {
		t.Fatalf("ChainID = %d, want 1", cfg.Authority.ChainID)
	}
	if cfg.Arbitration.EvidenceWindow() != 96*time.Hour {
		t.Fatalf("EvidenceWindow() = %v, want 96h", cfg.Arbitration.EvidenceWindow())
	}
	if cfg.Postgres.Enabled {
		t.Fatal("Postgres.Enabled = true, want env override to false")
	}
	want := []string{"https://a.example", "https://b.example"}
	if len(cfg.Server.CORSOrigins) != 2 ||
		cfg.Server.CORSOrigins[0] != want[0] || cfg.Server.CORSOrigins[1] != want[1] {
		t.Fatalf("CORSOrigins = %v, want %v", cfg.Server.CORSOrigins, want)
	}
}
