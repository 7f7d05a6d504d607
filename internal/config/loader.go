package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies ARBITERD_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known ARBITERD_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// Authority
	setStr(&cfg.Authority.PrivateKey, "ARBITERD_AUTHORITY_PRIVATE_KEY")
	setStr(&cfg.Authority.EncryptedKeyPath, "ARBITERD_AUTHORITY_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Authority.KeyPassword, "ARBITERD_AUTHORITY_KEY_PASSWORD")
	setInt(&cfg.Authority.ChainID, "ARBITERD_AUTHORITY_CHAIN_ID")

	// Arbitration
	setDuration(&cfg.Arbitration.EvidencePeriod, "ARBITERD_ARBITRATION_EVIDENCE_PERIOD")
	setDuration(&cfg.Arbitration.AppealPeriod, "ARBITERD_ARBITRATION_APPEAL_PERIOD")
	setStr(&cfg.Arbitration.Treasury, "ARBITERD_ARBITRATION_TREASURY")
	setStr(&cfg.Arbitration.Escrow, "ARBITERD_ARBITRATION_ESCROW")

	// Decision
	setStr(&cfg.Decision.UnitPenalty, "ARBITERD_DECISION_UNIT_PENALTY")
	setDuration(&cfg.Decision.ScoreTimeout, "ARBITERD_DECISION_SCORE_TIMEOUT")

	// Postgres
	setBool(&cfg.Postgres.Enabled, "ARBITERD_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "ARBITERD_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "ARBITERD_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "ARBITERD_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "ARBITERD_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "ARBITERD_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "ARBITERD_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "ARBITERD_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "ARBITERD_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "ARBITERD_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "ARBITERD_POSTGRES_RUN_MIGRATIONS")

	// Redis
	setBool(&cfg.Redis.Enabled, "ARBITERD_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "ARBITERD_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ARBITERD_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ARBITERD_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ARBITERD_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "ARBITERD_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "ARBITERD_REDIS_TLS_ENABLED")

	// S3
	setBool(&cfg.S3.Enabled, "ARBITERD_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "ARBITERD_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ARBITERD_S3_REGION")
	setStr(&cfg.S3.Bucket, "ARBITERD_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "ARBITERD_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ARBITERD_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "ARBITERD_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "ARBITERD_S3_FORCE_PATH_STYLE")

	// OpenAI
	setStr(&cfg.OpenAI.APIKey, "ARBITERD_OPENAI_API_KEY")
	setStr(&cfg.OpenAI.Model, "ARBITERD_OPENAI_MODEL")

	// Server
	setBool(&cfg.Server.Enabled, "ARBITERD_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "ARBITERD_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "ARBITERD_SERVER_CORS_ORIGINS")

	// Notify
	setStr(&cfg.Notify.TelegramToken, "ARBITERD_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "ARBITERD_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "ARBITERD_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "ARBITERD_NOTIFY_EVENTS")

	// Top-level
	setStr(&cfg.Mode, "ARBITERD_MODE")
	setStr(&cfg.LogLevel, "ARBITERD_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
