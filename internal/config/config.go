package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config holds the tracker settings read from config.toml.
type Config struct {
	Endpoint     string
	ProjectToken string
	CustomerID   string
	Proxy        string
	Timeout      time.Duration
	ChunkSize    int
	IdentityPath string
}

const (
	defaultConfigPath   = "~/.config/infinario/config.toml"
	defaultIdentityPath = "~/.local/share/infinario/identity.toml"
	defaultEndpoint     = "http://api.infinario.com/bulk"
	defaultTimeout      = 30 * time.Second
	defaultChunkSize    = 1024
)

// ErrMissingToken is returned by Validate when no project token is set.
var ErrMissingToken = errors.New("project token is required")

// DefaultPath returns the default config file path.
func DefaultPath() string {
	return defaultConfigPath
}

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		Endpoint:     defaultEndpoint,
		Timeout:      defaultTimeout,
		ChunkSize:    defaultChunkSize,
		IdentityPath: mustExpand(defaultIdentityPath),
	}
}

// Load locates and parses the config, falling back to defaults when missing.
func Load(path string) (Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return Config{}, err
	}

	cfg := Default()

	file, err := os.Open(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	bytes, err := io.ReadAll(file)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var raw struct {
		Endpoint     string `toml:"endpoint"`
		ProjectToken string `toml:"project_token"`
		CustomerID   string `toml:"customer_id"`
		Proxy        string `toml:"proxy"`
		Timeout      string `toml:"timeout"`
		ChunkSize    int    `toml:"chunk_size"`
		IdentityPath string `toml:"identity_path"`
	}
	if err := toml.Unmarshal(bytes, &raw); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	if v := strings.TrimSpace(raw.Endpoint); v != "" {
		cfg.Endpoint = v
	}
	cfg.ProjectToken = strings.TrimSpace(raw.ProjectToken)
	cfg.CustomerID = strings.TrimSpace(raw.CustomerID)
	cfg.Proxy = strings.TrimSpace(raw.Proxy)

	if v := strings.TrimSpace(raw.Timeout); v != "" {
		timeout, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse config: timeout: %w", err)
		}
		if timeout <= 0 {
			return Config{}, fmt.Errorf("parse config: timeout must be positive, got %s", v)
		}
		cfg.Timeout = timeout
	}

	switch {
	case raw.ChunkSize < 0:
		return Config{}, fmt.Errorf("parse config: chunk_size must not be negative, got %d", raw.ChunkSize)
	case raw.ChunkSize > 0:
		cfg.ChunkSize = raw.ChunkSize
	}

	if v := strings.TrimSpace(raw.IdentityPath); v != "" {
		cfg.IdentityPath = mustExpand(v)
	}

	return cfg, nil
}

// Validate reports settings that make tracking impossible.
func (c Config) Validate() error {
	if strings.TrimSpace(c.ProjectToken) == "" {
		return ErrMissingToken
	}
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	return nil
}

func resolvePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return expandPath(defaultConfigPath)
	}
	return expandPath(path)
}

func mustExpand(path string) string {
	expanded, err := expandPath(path)
	if err != nil {
		return path
	}
	return expanded
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("path is empty")
	}
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}
