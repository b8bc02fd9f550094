package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// HTTPConfig controls the HTTP listener.
type HTTPConfig struct {
	Addr string
}

// DatabaseConfig selects the gorm driver and connection string.
type DatabaseConfig struct {
	Driver string
	DSN    string
}

// RateLimitConfig controls the per-org mutation rate limit.
type RateLimitConfig struct {
	Limit  int
	Window time.Duration
}

// VaultConfig configures optional server-side sealing of certificate
// material. When SealIdentity is empty the vault only accepts blobs the
// caller has already encrypted.
type VaultConfig struct {
	SealIdentity string
}

// AdminConfig gates the provisioning endpoints. PasswordHash holds an
// argon2id encoded hash; provisioning is disabled when it is empty.
type AdminConfig struct {
	PasswordHash string
}

// TransmitConfig controls the regulator transmission worker.
type TransmitConfig struct {
	Enabled      bool
	BatchSize    int
	PollInterval time.Duration
}

type Config struct {
	Environment string
	HTTP        HTTPConfig
	Database    DatabaseConfig
	RateLimit   RateLimitConfig
	Vault       VaultConfig
	Admin       AdminConfig
	Transmit    TransmitConfig
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// Load reads configuration from the environment. A local .env file is
// honored when present.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Environment: envString("FISCALIA_ENV", "development"),
		HTTP: HTTPConfig{
			Addr: envString("FISCALIA_HTTP_ADDR", ":8080"),
		},
		Database: DatabaseConfig{
			Driver: envString("FISCALIA_DB_DRIVER", "postgres"),
			DSN:    envString("FISCALIA_DB_DSN", ""),
		},
		RateLimit: RateLimitConfig{
			Limit:  envInt("FISCALIA_RATE_LIMIT", 60),
			Window: envDuration("FISCALIA_RATE_WINDOW", time.Minute),
		},
		Vault: VaultConfig{
			SealIdentity: envString("FISCALIA_VAULT_SEAL_IDENTITY", ""),
		},
		Admin: AdminConfig{
			PasswordHash: envString("FISCALIA_ADMIN_PASSWORD_HASH", ""),
		},
		Transmit: TransmitConfig{
			Enabled:      envBool("FISCALIA_TRANSMIT_ENABLED", false),
			BatchSize:    envInt("FISCALIA_TRANSMIT_BATCH_SIZE", 50),
			PollInterval: envDuration("FISCALIA_TRANSMIT_POLL_INTERVAL", 5*time.Second),
		},
	}
	return cfg, nil
}

func envString(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
