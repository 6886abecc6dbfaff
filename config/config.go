package config

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"satsledger/database"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Database configuration
	DatabaseURL  string `env:"DATABASE_URL"`
	DatabaseName string `env:"DATABASE_NAME"`

	// Authorization: actor IDs allowed to take moderation decisions
	AdminUserIDs []string `env:"ADMIN_USER_IDS" envSeparator:","`

	// NATS configuration
	NATSEnabled bool   `env:"NATS_ENABLED" envDefault:"false"`
	NATSServers string `env:"NATS_SERVERS" envDefault:"nats://nats:4222"` // comma-separated

	// Discord moderation feed
	DiscordToken        string `env:"DISCORD_TOKEN"`
	ModerationChannelID string `env:"MODERATION_CHANNEL_ID"`

	// OpenTelemetry configuration
	OTelEnabled              bool   `env:"OTEL_ENABLED" envDefault:"false"`
	OTelServiceName          string `env:"OTEL_SERVICE_NAME" envDefault:"satsledger"`
	OTelExporterType         string `env:"OTEL_EXPORTER_TYPE" envDefault:"console"` // console, otlp, none
	OTelOTLPEndpoint         string `env:"OTEL_OTLP_ENDPOINT" envDefault:"otel-collector:4317"`
	OTelExportIntervalMillis int    `env:"OTEL_EXPORT_INTERVAL_MS" envDefault:"15000"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Environment
	Environment string `env:"ENVIRONMENT" envDefault:"development"` // "development", "production" or "test"
}

var (
	instance *Config
	once     sync.Once
	mu       sync.Mutex // Protects instance for test setup
)

// Get returns the global configuration instance
func Get() *Config {
	mu.Lock()
	defer mu.Unlock()

	// If instance is already set (e.g., by tests), return it
	if instance != nil {
		return instance
	}

	once.Do(func() {
		var err error
		instance, err = Load()
		if err != nil {
			if os.Getenv("GO_TEST") == "1" || os.Getenv("ENVIRONMENT") == "test" {
				instance = NewTestConfig()
			} else {
				panic(fmt.Sprintf("failed to load config: %v", err))
			}
		}
	})
	return instance
}

// GetDatabaseURL constructs the full database URL by combining base URL and database name
func (c *Config) GetDatabaseURL() string {
	return database.ConstructDatabaseURL(c.DatabaseURL, c.DatabaseName)
}

// DiscordNotificationsEnabled reports whether moderation decisions should be posted to Discord
func (c *Config) DiscordNotificationsEnabled() bool {
	return c.DiscordToken != "" && c.ModerationChannelID != ""
}

// Load reads an optional .env file and then the process environment
func Load() (*Config, error) {
	// A missing .env file is normal outside local development
	_ = godotenv.Load()

	config := &Config{}
	if err := env.Parse(config); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	config.AdminUserIDs = normalizeIDs(config.AdminUserIDs)

	if config.Environment != "test" {
		if config.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required")
		}
		if config.DatabaseName != "" && strings.TrimSpace(config.DatabaseName) == "" {
			return nil, fmt.Errorf("DATABASE_NAME cannot be empty when provided")
		}
		if config.DiscordToken != "" && config.ModerationChannelID == "" {
			return nil, fmt.Errorf("MODERATION_CHANNEL_ID is required when DISCORD_TOKEN is set")
		}
	}

	return config, nil
}

func normalizeIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id != "" {
			out = append(out, id)
		}
	}
	return out
}

// Test helpers - only use in tests

// SetTestConfig overrides the global config instance for testing
func SetTestConfig(testConfig *Config) {
	mu.Lock()
	defer mu.Unlock()
	instance = testConfig
}

// ResetConfig resets the global config instance and sync.Once for testing
func ResetConfig() {
	mu.Lock()
	defer mu.Unlock()
	instance = nil
	once = sync.Once{}
}

// NewTestConfig creates a minimal config suitable for unit tests
func NewTestConfig() *Config {
	return &Config{
		Environment:      "test",
		AdminUserIDs:     []string{"admin-1", "admin-2"},
		LogLevel:         "debug",
		OTelServiceName:  "satsledger-test",
		OTelExporterType: "none",
	}
}
