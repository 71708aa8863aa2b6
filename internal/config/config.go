// Package config provides configuration loading and management for the VAM service.
// It handles environment variable parsing and provides default values for all settings.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// init loads environment variables from .env files during package initialization.
// In development, it loads .env and .env.local files if they exist.
// In production, it relies solely on system environment variables.
// The loading order ensures that system environment variables take precedence over .env files.
func init() {
	// godotenv.Load() does not override already-set environment variables,
	// preserving OS env > .env precedence

	// Load .env file if it exists (for shared development config)
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to load .env file: %v\n", err)
		}
	}

	// Load .env.local if it exists (for local overrides, gitignored)
	if _, err := os.Stat(".env.local"); err == nil {
		if err := godotenv.Load(".env.local"); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to load .env.local file: %v\n", err)
		}
	}
}

// Config captures environment-driven settings for the VAM service.
// It contains all configuration parameters needed to run the catalog.
type Config struct {
	Env         string // Deployment environment (dev, staging, prod)
	Port        string // HTTP server port
	DatabaseDSN string // Database connection string (PostgreSQL); empty selects the in-memory store
	NATSURL     string // NATS server URL; empty disables event publishing
	S3Endpoint  string // S3-compatible storage endpoint
	S3Region    string // S3 region
	S3Bucket    string // S3 bucket holding video assets
	S3AccessKey string // S3 access key
	S3SecretKey string // S3 secret key

	// Download link policy
	PresignTTL time.Duration // Lifetime of presigned download URLs
}

// Default configuration values used when environment variables are not set
const (
	defaultPort       = "8080"      // Default HTTP server port
	defaultS3Region   = "us-east-1" // Default S3 region
	defaultEnv        = "dev"       // Default environment
	defaultPresignTTL = 15 * time.Minute
)

// Load reads environment variables and produces a Config suitable for wiring
// the service. All parameters are optional: with nothing set the service runs
// on the in-memory store with event publishing and presigned downloads off.
func Load() (Config, error) {
	cfg := Config{}

	if env, exists := os.LookupEnv("VAM_ENV"); exists {
		cfg.Env = env
	} else {
		cfg.Env = defaultEnv
	}

	if port, exists := os.LookupEnv("VAM_PORT"); exists {
		cfg.Port = port
	} else {
		cfg.Port = defaultPort
	}

	if dsn, exists := os.LookupEnv("VAM_DB_DSN"); exists {
		cfg.DatabaseDSN = dsn
	}

	if natsURL, exists := os.LookupEnv("VAM_NATS_URL"); exists {
		cfg.NATSURL = natsURL
	}

	if s3Endpoint, exists := os.LookupEnv("VAM_S3_ENDPOINT"); exists {
		cfg.S3Endpoint = s3Endpoint
	}

	if s3Region, exists := os.LookupEnv("VAM_S3_REGION"); exists {
		cfg.S3Region = s3Region
	} else {
		cfg.S3Region = defaultS3Region
	}

	if s3Bucket, exists := os.LookupEnv("VAM_S3_BUCKET"); exists {
		cfg.S3Bucket = s3Bucket
	}

	if s3AccessKey, exists := os.LookupEnv("VAM_S3_ACCESS_KEY"); exists {
		cfg.S3AccessKey = s3AccessKey
	}

	if s3SecretKey, exists := os.LookupEnv("VAM_S3_SECRET_KEY"); exists {
		cfg.S3SecretKey = s3SecretKey
	}

	// Handle presign TTL (seconds)
	if ttl, exists := os.LookupEnv("VAM_PRESIGN_TTL_SECONDS"); exists {
		seconds, err := strconv.ParseInt(ttl, 10, 64)
		if err != nil || seconds <= 0 {
			return cfg, fmt.Errorf("VAM_PRESIGN_TTL_SECONDS must be a positive integer, got %q", ttl)
		}
		cfg.PresignTTL = time.Duration(seconds) * time.Second
	} else {
		cfg.PresignTTL = defaultPresignTTL
	}

	return cfg, nil
}
