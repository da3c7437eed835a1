package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/mitchellh/go-homedir"
)

// Backend names accepted by CLOUDSYNC_BACKEND.
const (
	BackendFolder = "folder"
	BackendHTTP   = "http"
	BackendS3     = "s3"
	BackendGCS    = "gcs"
)

// Config holds all environment-based configuration for cloudsync.
type Config struct {
	// Backend selects the remote storage implementation.
	Backend string `env:"CLOUDSYNC_BACKEND" envDefault:"folder"`

	// LocalDir is the directory of files kept in sync.
	LocalDir string `env:"CLOUDSYNC_LOCAL_DIR"`

	// StatePath is the bbolt database. Defaults to ~/.cloudsync/state.db.
	StatePath string `env:"CLOUDSYNC_STATE_PATH"`

	// Patterns are doublestar globs selecting the files to sync.
	Patterns []string `env:"CLOUDSYNC_PATTERNS" envSeparator:"," envDefault:"*"`

	Concurrency      int `env:"CLOUDSYNC_CONCURRENCY" envDefault:"8"`
	MaxUploadRetries int `env:"CLOUDSYNC_MAX_UPLOAD_RETRIES" envDefault:"0"`

	// Folder backend.
	FolderRoot string `env:"CLOUDSYNC_FOLDER_ROOT"`

	// HTTP backend.
	HTTPBaseURL    string `env:"CLOUDSYNC_HTTP_BASE_URL"`
	HTTPContentURL string `env:"CLOUDSYNC_HTTP_CONTENT_URL"`
	HTTPToken      string `env:"CLOUDSYNC_HTTP_TOKEN"`

	// S3 backend. Empty keys use the default AWS credential chain.
	S3Bucket    string `env:"CLOUDSYNC_S3_BUCKET"`
	S3Prefix    string `env:"CLOUDSYNC_S3_PREFIX"`
	S3Region    string `env:"CLOUDSYNC_S3_REGION"`
	S3Endpoint  string `env:"CLOUDSYNC_S3_ENDPOINT"`
	S3AccessKey string `env:"CLOUDSYNC_S3_ACCESS_KEY"`
	S3SecretKey string `env:"CLOUDSYNC_S3_SECRET_KEY"`
	S3Versioned bool   `env:"CLOUDSYNC_S3_VERSIONED" envDefault:"false"`

	// GCS backend. An empty credentials file uses application default
	// credentials.
	GCSBucket          string `env:"CLOUDSYNC_GCS_BUCKET"`
	GCSPrefix          string `env:"CLOUDSYNC_GCS_PREFIX"`
	GCSCredentialsFile string `env:"CLOUDSYNC_GCS_CREDENTIALS_FILE"`
	GCSEndpoint        string `env:"CLOUDSYNC_GCS_ENDPOINT"`

	// Environment controls log format
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. It may hold provider tokens and keys.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.Backend = strings.ToLower(strings.TrimSpace(cfg.Backend))

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	if err := cfg.resolvePaths(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.LocalDir == "" {
		return fmt.Errorf("CLOUDSYNC_LOCAL_DIR is required")
	}

	if c.Concurrency < 1 {
		return fmt.Errorf("CLOUDSYNC_CONCURRENCY must be at least 1, got %d", c.Concurrency)
	}

	if c.MaxUploadRetries < 0 {
		return fmt.Errorf("CLOUDSYNC_MAX_UPLOAD_RETRIES must not be negative, got %d", c.MaxUploadRetries)
	}

	switch c.Backend {
	case BackendFolder:
		if c.FolderRoot == "" {
			return fmt.Errorf("CLOUDSYNC_FOLDER_ROOT is required for the folder backend")
		}
	case BackendHTTP:
		if c.HTTPToken == "" {
			return fmt.Errorf("CLOUDSYNC_HTTP_TOKEN is required for the http backend")
		}
	case BackendS3:
		if c.S3Bucket == "" {
			return fmt.Errorf("CLOUDSYNC_S3_BUCKET is required for the s3 backend")
		}

		if (c.S3AccessKey == "") != (c.S3SecretKey == "") {
			return fmt.Errorf("CLOUDSYNC_S3_ACCESS_KEY and CLOUDSYNC_S3_SECRET_KEY must be set together")
		}
	case BackendGCS:
		if c.GCSBucket == "" {
			return fmt.Errorf("CLOUDSYNC_GCS_BUCKET is required for the gcs backend")
		}
	default:
		return fmt.Errorf("unknown CLOUDSYNC_BACKEND %q (want folder, http, s3 or gcs)", c.Backend)
	}

	return nil
}

// resolvePaths expands ~ and makes filesystem paths absolute. The local
// store compares paths against its directory, which only works with
// absolute paths.
func (c *Config) resolvePaths() error {
	for _, p := range []*string{&c.LocalDir, &c.StatePath, &c.FolderRoot, &c.GCSCredentialsFile} {
		if *p == "" {
			continue
		}

		abs, err := absPath(*p)
		if err != nil {
			return err
		}

		*p = abs
	}

	return nil
}

func absPath(p string) (string, error) {
	expanded, err := homedir.Expand(p)
	if err != nil {
		return "", fmt.Errorf("expanding %s: %w", p, err)
	}

	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("resolving %s to absolute path: %w", p, err)
	}

	return abs, nil
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
