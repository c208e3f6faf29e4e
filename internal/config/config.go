package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/alexjbarnes/sheet-tree/internal/state"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
)

// Config holds all environment-based configuration for sheet-tree.
type Config struct {
	// Environment controls log format.
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"SHEETTREE_LOG_LEVEL" envDefault:"info"`

	// Directory holding the workbook: one <name>.csv per sheet plus the
	// .workbook.yaml manifest.
	WorkbookDir string `env:"SHEETTREE_WORKBOOK_DIR"`

	// DocumentID scopes stored settings. Defaults to the base name of
	// the workbook directory.
	DocumentID string `env:"SHEETTREE_DOCUMENT_ID"`

	// StatePath is the bbolt database. Defaults to ~/.sheet-tree/state.db.
	StatePath string `env:"SHEETTREE_STATE_PATH"`

	SaveDebounce     time.Duration `env:"SHEETTREE_SAVE_DEBOUNCE" envDefault:"200ms"`
	StorageWarnBytes int           `env:"SHEETTREE_STORAGE_WARN_BYTES" envDefault:"1900000"`
	SettingsKey      string        `env:"SHEETTREE_SETTINGS_KEY" envDefault:"treeStructure"`

	// Watch turns on filesystem notifications for the workbook directory.
	// Without it the tree only follows external changes on refresh.
	Watch bool `env:"SHEETTREE_WATCH" envDefault:"true"`

	// HTTP surface: MCP, the tree view websocket and health checks.
	EnableHTTP bool   `env:"SHEETTREE_ENABLE_HTTP" envDefault:"true"`
	ListenAddr string `env:"SHEETTREE_LISTEN_ADDR" envDefault:":8091"`
	APIKeys    string `env:"SHEETTREE_API_KEYS"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing credentials to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
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

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	absDir, err := filepath.Abs(cfg.WorkbookDir)
	if err != nil {
		return nil, fmt.Errorf("resolving workbook dir to absolute path: %w", err)
	}

	cfg.WorkbookDir = absDir

	if cfg.DocumentID == "" {
		cfg.DocumentID = filepath.Base(absDir)
	}

	if cfg.StatePath == "" {
		path, err := state.DefaultPath()
		if err != nil {
			return nil, err
		}

		cfg.StatePath = path
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.WorkbookDir == "" {
		return fmt.Errorf("SHEETTREE_WORKBOOK_DIR is required")
	}

	if c.SaveDebounce < 0 {
		return fmt.Errorf("SHEETTREE_SAVE_DEBOUNCE must not be negative")
	}

	if c.StorageWarnBytes <= 0 {
		return fmt.Errorf("SHEETTREE_STORAGE_WARN_BYTES must be positive")
	}

	if strings.TrimSpace(c.SettingsKey) == "" {
		return fmt.Errorf("SHEETTREE_SETTINGS_KEY must not be empty")
	}

	return nil
}

// ValidateHTTP checks the settings needed to serve HTTP. Commands that
// never listen skip it.
func (c *Config) ValidateHTTP() error {
	if !c.EnableHTTP {
		return nil
	}

	if c.ListenAddr == "" {
		return fmt.Errorf("SHEETTREE_LISTEN_ADDR is required when HTTP is enabled")
	}

	if c.APIKeys == "" {
		return fmt.Errorf("SHEETTREE_API_KEYS is required when HTTP is enabled")
	}

	_, err := c.ParseAPIKeys()

	return err
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// APIKeyEntry holds a user and the bcrypt hash of their API key, parsed
// from SHEETTREE_API_KEYS.
type APIKeyEntry struct {
	UserID string
	Hash   string
}

// ParseAPIKeys parses the SHEETTREE_API_KEYS string.
// Format: "user1:$2a$10$...,user2:$2a$10$..."
// Entries split on the first colon; bcrypt hashes contain none.
func (c *Config) ParseAPIKeys() ([]APIKeyEntry, error) {
	if c.APIKeys == "" {
		return nil, nil
	}

	seenUsers := make(map[string]struct{})

	var entries []APIKeyEntry

	for _, pair := range strings.Split(c.APIKeys, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}

		userID, hash, ok := strings.Cut(pair, ":")
		if !ok {
			return nil, fmt.Errorf("invalid API key entry (missing ':')")
		}

		if userID == "" || hash == "" {
			return nil, fmt.Errorf("empty user or hash in entry %d", len(entries)+1)
		}

		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			return nil, fmt.Errorf("API key hash in entry %d is not a bcrypt hash: %w", len(entries)+1, err)
		}

		if _, dup := seenUsers[userID]; dup {
			return nil, fmt.Errorf("duplicate user_id %q in SHEETTREE_API_KEYS", userID)
		}

		seenUsers[userID] = struct{}{}
		entries = append(entries, APIKeyEntry{UserID: userID, Hash: hash})
	}

	return entries, nil
}
