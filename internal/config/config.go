package config

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"
)

// Config holds the application configuration
type Config struct {
	ServerPort     int    `envconfig:"SERVER_PORT" default:"8080"`
	JWTSecret      string `envconfig:"JWT_SECRET" required:"true"`
	LocationKey    string `envconfig:"LOCATION_KEY" required:"true"` // 32 bytes, hex encoded
	StorageDriver  string `envconfig:"STORAGE_DRIVER" default:"postgres"`
	DatabaseURL    string `envconfig:"DATABASE_URL"`
	MigrationsPath string `envconfig:"MIGRATIONS_PATH" default:"./migrations/001_init.sql"`

	FirebaseCredentialsFile string        `envconfig:"FIREBASE_CREDENTIALS_FILE"`
	FirebaseProjectID       string        `envconfig:"FIREBASE_PROJECT_ID"`
	PushClickAction         string        `envconfig:"PUSH_CLICK_ACTION" default:"FLUTTER_NOTIFICATION_CLICK"`
	PushWorkers             int           `envconfig:"PUSH_WORKERS" default:"16"`
	PushTimeout             time.Duration `envconfig:"PUSH_TIMEOUT" default:"5s"`

	NearbyRadiusKm     float64  `envconfig:"NEARBY_RADIUS_KM" default:"5"`
	MinPasswordEntropy float64  `envconfig:"MIN_PASSWORD_ENTROPY" default:"0"` // 0 disables the check
	AllowedOrigins     []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`
	LogDevelopment     bool     `envconfig:"LOG_DEVELOPMENT" default:"false"`
}

// Load reads the configuration from environment variables
func Load(cfg *Config) error {
	if err := envconfig.Process("", cfg); err != nil {
		return err
	}
	return cfg.Validate()
}

// Validate checks the rules envconfig tags cannot express
func (c *Config) Validate() error {
	switch c.StorageDriver {
	case StorageDriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for storage driver %q", c.StorageDriver)
		}
	case StorageDriverMemory:
	default:
		return fmt.Errorf("unknown storage driver %q", c.StorageDriver)
	}

	if _, err := c.LocationKeyBytes(); err != nil {
		return err
	}

	if c.PushWorkers < 1 {
		return fmt.Errorf("PUSH_WORKERS must be positive, got %d", c.PushWorkers)
	}
	if c.PushTimeout <= 0 {
		return fmt.Errorf("PUSH_TIMEOUT must be positive, got %s", c.PushTimeout)
	}
	if c.NearbyRadiusKm <= 0 {
		return fmt.Errorf("NEARBY_RADIUS_KM must be positive, got %v", c.NearbyRadiusKm)
	}
	if c.MinPasswordEntropy < 0 {
		return fmt.Errorf("MIN_PASSWORD_ENTROPY must not be negative, got %v", c.MinPasswordEntropy)
	}
	return nil
}

// LocationKeyBytes decodes LOCATION_KEY into the 256-bit cipher key
func (c *Config) LocationKeyBytes() ([]byte, error) {
	key, err := hex.DecodeString(c.LocationKey)
	if err != nil {
		return nil, fmt.Errorf("LOCATION_KEY must be hex encoded: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("LOCATION_KEY must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

// PushEnabled reports whether Firebase credentials were provided
func (c *Config) PushEnabled() bool {
	return c.FirebaseCredentialsFile != ""
}
