// Package config defines the top-level configuration for the arbitration
// service and provides validation helpers.
package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by ARBITERD_* environment variables.
type Config struct {
	Authority   AuthorityConfig   `toml:"authority"`
	Arbitration ArbitrationConfig `toml:"arbitration"`
	Decision    DecisionConfig    `toml:"decision"`
	Postgres    PostgresConfig    `toml:"postgres"`
	Redis       RedisConfig       `toml:"redis"`
	S3          S3Config          `toml:"s3"`
	OpenAI      OpenAIConfig      `toml:"openai"`
	Server      ServerConfig      `toml:"server"`
	Notify      NotifyConfig      `toml:"notify"`
	Mode        string            `toml:"mode"`
	LogLevel    string            `toml:"log_level"`
}

// AuthorityConfig holds the arbitration authority's signing credentials.
type AuthorityConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
	ChainID          int    `toml:"chain_id"`
}

// ArbitrationConfig holds the state machine's time windows and settlement
// parameters.
type ArbitrationConfig struct {
	EvidencePeriod duration `toml:"evidence_period"`
	AppealPeriod   duration `toml:"appeal_period"`
	// Treasury receives withheld penalty amounts.
	Treasury string `toml:"treasury"`
	// Escrow is the account settlement transfers draw from in simulation
	// mode.
	Escrow string `toml:"escrow"`
}

// EvidenceWindow returns the configured evidence period as a time.Duration.
func (a ArbitrationConfig) EvidenceWindow() time.Duration { return a.EvidencePeriod.Duration }

// AppealWindow returns the configured appeal period as a time.Duration.
func (a ArbitrationConfig) AppealWindow() time.Duration { return a.AppealPeriod.Duration }

// TreasuryAddress parses the treasury address.
func (a ArbitrationConfig) TreasuryAddress() common.Address {
	return common.HexToAddress(a.Treasury)
}

// EscrowAddress parses the escrow address.
func (a ArbitrationConfig) EscrowAddress() common.Address {
	return common.HexToAddress(a.Escrow)
}

// DecisionConfig holds the decision engine's tunables.
type DecisionConfig struct {
	// UnitPenalty is the fixed per-violation penalty, in base token units
	// as a decimal string.
	UnitPenalty  string   `toml:"unit_penalty"`
	ScoreTimeout duration `toml:"score_timeout"`
}

// UnitPenaltyAmount parses the per-violation penalty. Returns zero for an
// empty or malformed value; Validate reports malformed values.
func (d DecisionConfig) UnitPenaltyAmount() *big.Int {
	if strings.TrimSpace(d.UnitPenalty) == "" {
		return new(big.Int)
	}
	n, ok := new(big.Int).SetString(d.UnitPenalty, 10)
	if !ok {
		return new(big.Int)
	}
	return n
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the evidence
// archive.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// OpenAIConfig holds credentials for the sentiment/summarization service.
type OpenAIConfig struct {
	APIKey string `toml:"api_key"`
	Model  string `toml:"model"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "120h", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "120h" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Authority: AuthorityConfig{
			ChainID: 137,
		},
		Arbitration: ArbitrationConfig{
			EvidencePeriod: duration{5 * 24 * time.Hour},
			AppealPeriod:   duration{2 * 24 * time.Hour},
		},
		Decision: DecisionConfig{
			UnitPenalty:  "0",
			ScoreTimeout: duration{10 * time.Second},
		},
		Postgres: PostgresConfig{
			Enabled:       true,
			Host:          "localhost",
			Port:          5432,
			Database:      "arbiterd",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    true,
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "arbiterd-evidence",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		OpenAI: OpenAIConfig{
			Model: "gpt-4o-mini",
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Notify: NotifyConfig{
			Events: []string{"dispute_filed", "dispute_appealed", "dispute_executed", "error"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
//
//	serve   - HTTP API only; decisions are submitted externally
//	arbiter - gateway worker only; consumes evidence-completion events
//	full    - API plus gateway worker
var validModes = map[string]bool{
	"serve":   true,
	"arbiter": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, arbiter, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Authority — the gateway modes need a signing key.
	needsAuthority := c.Mode == "arbiter" || c.Mode == "full"
	if needsAuthority {
		if c.Authority.PrivateKey == "" && c.Authority.EncryptedKeyPath == "" {
			errs = append(errs, "authority: either private_key or encrypted_key_path must be set for mode "+c.Mode)
		}
		if c.Authority.EncryptedKeyPath != "" && c.Authority.KeyPassword == "" {
			errs = append(errs, "authority: key_password is required when encrypted_key_path is set")
		}
	}
	if c.Authority.ChainID <= 0 {
		errs = append(errs, "authority: chain_id must be positive")
	}

	// Arbitration windows.
	if c.Arbitration.EvidencePeriod.Duration <= 0 {
		errs = append(errs, "arbitration: evidence_period must be positive")
	}
	if c.Arbitration.AppealPeriod.Duration <= 0 {
		errs = append(errs, "arbitration: appeal_period must be positive")
	}
	if c.Arbitration.Treasury != "" && !common.IsHexAddress(c.Arbitration.Treasury) {
		errs = append(errs, fmt.Sprintf("arbitration: treasury %q is not a valid address", c.Arbitration.Treasury))
	}
	if c.Arbitration.Escrow != "" && !common.IsHexAddress(c.Arbitration.Escrow) {
		errs = append(errs, fmt.Sprintf("arbitration: escrow %q is not a valid address", c.Arbitration.Escrow))
	}

	// Decision.
	if strings.TrimSpace(c.Decision.UnitPenalty) != "" {
		if _, ok := new(big.Int).SetString(c.Decision.UnitPenalty, 10); !ok {
			errs = append(errs, fmt.Sprintf("decision: unit_penalty %q is not a valid integer", c.Decision.UnitPenalty))
		}
	}
	if c.Decision.ScoreTimeout.Duration <= 0 {
		errs = append(errs, "decision: score_timeout must be positive")
	}

	// Postgres.
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis.
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3.
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	// Server.
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
