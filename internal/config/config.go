package config

import (
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
)

// supported journal storage drivers
const (
	StorageMemory    = "memory"
	StorageSQLite    = "sqlite"
	StorageTarantool = "tarantool"
	StoragePostgres  = "postgres"
)

// Config contains app config
type Config struct {
	MattermostConfig
	TarantoolConfig
	StorageConfig
	LedgerConfig
	LogConfig
}

// MattermostConfig contains Mattermost config
type MattermostConfig struct {
	MattermostBotHTTPAddr string
	MattermostBotHTTPPort string
	MattermostBotURL      string
	MattermostToken       string
}

// TarantoolConfig contains Tarantool config
type TarantoolConfig struct {
	TarantoolAddr string
	TarantoolUser string
	TarantoolPass string
}

// StorageConfig selects where the ledger journal lives
type StorageConfig struct {
	StorageDriver string
	SQLitePath    string
	PostgresDSN   string
}

// LedgerConfig contains ledger ownership and notification settings
type LedgerConfig struct {
	OwnerID         string
	NotifyChannelID string
}

// LogConfig contains logging settings
type LogConfig struct {
	LogLevel string
	LogFile  string
}

// NewConfig creates a new config
func NewConfig() *Config {
	err := godotenv.Load()
	if err != nil && !os.IsNotExist(err) {
		log.Println("Error loading .env file:", err)
	}

	return &Config{
		MattermostConfig: MattermostConfig{
			MattermostBotHTTPAddr: getEnv("MATTERMOST_BOT_HTTP_ADDR", "http://localhost:8080"),
			MattermostBotHTTPPort: getEnv("MATTERMOST_BOT_HTTP_PORT", ":8080"),
			MattermostBotURL:      getEnv("MATTERMOST_URL", "http://localhost:8065"),
			MattermostToken:       getEnv("MATTERMOST_TOKEN", ""),
		},
		TarantoolConfig: TarantoolConfig{
			TarantoolAddr: getEnv("TARANTOOL_ADDR", "localhost:3301"),
			TarantoolUser: getEnv("TARANTOOL_USER", "storage"),
			TarantoolPass: getEnv("TARANTOOL_PASS", "password"),
		},
		StorageConfig: StorageConfig{
			StorageDriver: getEnv("STORAGE_DRIVER", StorageMemory),
			SQLitePath:    getEnv("SQLITE_PATH", "ledger.db"),
			PostgresDSN:   getEnv("POSTGRES_DSN", ""),
		},
		LedgerConfig: LedgerConfig{
			OwnerID:         getEnv("LEDGER_OWNER_ID", ""),
			NotifyChannelID: getEnv("NOTIFY_CHANNEL_ID", ""),
		},
		LogConfig: LogConfig{
			LogLevel: getEnv("LOG_LEVEL", "info"),
			LogFile:  getEnv("LOG_FILE", ""),
		},
	}
}

// Validate checks settings that have no usable default
func (c *Config) Validate() error {
	if c.OwnerID == "" {
		return errors.New("LEDGER_OWNER_ID is required")
	}

	switch c.StorageDriver {
	case StorageMemory, StorageTarantool:
	case StorageSQLite:
		if c.SQLitePath == "" {
			return errors.New("SQLITE_PATH is required for sqlite storage")
		}
	case StoragePostgres:
		if c.PostgresDSN == "" {
			return errors.New("POSTGRES_DSN is required for postgres storage")
		}
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", c.StorageDriver)
	}

	return nil
}

// MattermostEnabled reports whether a bot token is configured
func (c *Config) MattermostEnabled() bool {
	return c.MattermostToken != ""
}

// getEnv is a helper function for receiving env variables with default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}
