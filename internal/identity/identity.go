// Package identity persists the anonymous cookie and the confirmed customer
// id between CLI runs. The file lives at ~/.local/share/infinario/identity.toml
// unless configured otherwise.
package identity

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

const defaultPath = "~/.local/share/infinario/identity.toml"

// Identity is the stored customer identity.
type Identity struct {
	Cookie     string    `toml:"cookie"`
	CustomerID string    `toml:"customer_id,omitempty"`
	UpdatedAt  time.Time `toml:"updated_at,omitempty"`
}

// Registered reports whether a confirmed customer id is stored.
func (i Identity) Registered() bool {
	return strings.TrimSpace(i.CustomerID) != ""
}

// DefaultPath returns the default identity file path.
func DefaultPath() string {
	return defaultPath
}

// Load reads the identity at path. A missing, unreadable or corrupt file
// yields an empty Identity so a fresh cookie can be derived.
func Load(path string) (Identity, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return Identity{}, err
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return Identity{}, nil
	}

	var id Identity
	if err := toml.Unmarshal(data, &id); err != nil {
		return Identity{}, nil
	}
	id.Cookie = strings.TrimSpace(id.Cookie)
	id.CustomerID = strings.TrimSpace(id.CustomerID)
	return id, nil
}

// Save writes id to path, creating parent directories. The file is replaced
// atomically.
func Save(path string, id Identity) error {
	resolved, err := resolvePath(path)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}
	if strings.TrimSpace(id.Cookie) == "" {
		return errors.New("save identity: cookie is empty")
	}

	dir := filepath.Dir(resolved)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create identity dir: %w", err)
	}

	if id.UpdatedAt.IsZero() {
		id.UpdatedAt = time.Now().UTC()
	}
	data, err := toml.Marshal(id)
	if err != nil {
		return fmt.Errorf("marshal identity: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".identity-*.toml")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write identity: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close identity: %w", err)
	}
	if err := os.Rename(tmpName, resolved); err != nil {
		return fmt.Errorf("replace identity: %w", err)
	}
	return nil
}

func resolvePath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		trimmed = defaultPath
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
