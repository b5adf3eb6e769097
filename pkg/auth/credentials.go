package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"time"

	"tiktokads/pkg/storage"
)

// DefaultProfile names the token used when no profile is given
const DefaultProfile = "default"

// Token is an ad library access token stored under a profile name
type Token struct {
	Profile      string    `json:"profile"`
	AccessToken  string    `json:"access_token"`
	LastModified time.Time `json:"last_modified"`
}

// TokenStore is the interface for storing and retrieving access tokens
type TokenStore interface {
	// Name identifies the backend in messages
	Name() string

	// Store saves the token under its profile
	Store(token *Token) error

	// Retrieve gets the token of a profile
	Retrieve(profile string) (*Token, error)

	// List returns every stored token
	List() ([]*Token, error)

	// Delete removes the token of a profile
	Delete(profile string) error
}

// Manager looks tokens up across several stores in priority order
type Manager struct {
	stores []TokenStore
}

// NewManager creates a manager over the system keychain (when available),
// an encrypted file in the config directory and the environment
func NewManager() (*Manager, error) {
	var stores []TokenStore

	if keyringStore, err := NewKeyringStore(); err == nil {
		stores = append(stores, keyringStore)
	}

	configDir, err := ConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}
	encryptedStore, err := NewEncryptedFileStore(filepath.Join(configDir, "tokens.enc"), "")
	if err != nil {
		return nil, fmt.Errorf("failed to create encrypted store: %w", err)
	}
	stores = append(stores, encryptedStore)

	stores = append(stores, NewEnvironmentStore())

	return &Manager{stores: stores}, nil
}

// NewManagerWithStores creates a manager over the given stores
func NewManagerWithStores(stores ...TokenStore) *Manager {
	return &Manager{stores: stores}
}

// Store saves the token in the first store that accepts it and returns that
// store's name
func (m *Manager) Store(token *Token) (string, error) {
	if token == nil || strings.TrimSpace(token.AccessToken) == "" {
		return "", ErrInvalidToken
	}
	if token.Profile == "" {
		token.Profile = DefaultProfile
	}
	token.AccessToken = strings.TrimSpace(token.AccessToken)
	token.LastModified = time.Now()

	var lastErr error
	for _, store := range m.stores {
		err := store.Store(token)
		if err == nil {
			return store.Name(), nil
		}
		lastErr = err
	}
	if lastErr != nil {
		return "", fmt.Errorf("failed to store token: %w", lastErr)
	}
	return "", ErrStoreUnavailable
}

// Retrieve returns the token of profile from the first store that has it
func (m *Manager) Retrieve(profile string) (*Token, error) {
	if profile == "" {
		profile = DefaultProfile
	}
	for _, store := range m.stores {
		if token, err := store.Retrieve(profile); err == nil && token != nil {
			return token, nil
		}
	}
	return nil, fmt.Errorf("%w for profile %s", ErrTokenNotFound, profile)
}

// List returns tokens from every store, keeping the most recent per profile
func (m *Manager) List() ([]*Token, error) {
	byProfile := make(map[string]*Token)
	for _, store := range m.stores {
		tokens, err := store.List()
		if err != nil {
			continue
		}
		for _, token := range tokens {
			if existing, ok := byProfile[token.Profile]; !ok || token.LastModified.After(existing.LastModified) {
				byProfile[token.Profile] = token
			}
		}
	}

	result := make([]*Token, 0, len(byProfile))
	for _, token := range byProfile {
		result = append(result, token)
	}
	slices.SortFunc(result, func(a, b *Token) int {
		return strings.Compare(a.Profile, b.Profile)
	})
	return result, nil
}

// Delete removes the token of profile from every store
func (m *Manager) Delete(profile string) error {
	if profile == "" {
		profile = DefaultProfile
	}

	var deleted bool
	var lastErr error
	for _, store := range m.stores {
		err := store.Delete(profile)
		switch {
		case err == nil:
			deleted = true
		case errors.Is(err, ErrTokenNotFound), errors.Is(err, ErrStoreUnavailable):
		default:
			lastErr = err
		}
	}

	if !deleted && lastErr != nil {
		return fmt.Errorf("failed to delete token: %w", lastErr)
	}
	if !deleted {
		return fmt.Errorf("%w for profile %s", ErrTokenNotFound, profile)
	}
	return nil
}

// ConfigDir returns the per-user configuration directory, creating it
func ConfigDir() (string, error) {
	var configDir string

	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		configDir = filepath.Join(home, "Library", "Application Support", storage.AppName)
	case "windows":
		configDir = filepath.Join(os.Getenv("APPDATA"), storage.AppName)
	default:
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			configDir = filepath.Join(xdgConfig, storage.AppName)
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			configDir = filepath.Join(home, ".config", storage.AppName)
		}
	}

	if err := os.MkdirAll(configDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	return configDir, nil
}

// MaskToken masks all but the first 4 and last 4 characters of a token
func MaskToken(s string) string {
	if len(s) <= 8 {
		return "********"
	}
	return s[:4] + "..." + s[len(s)-4:]
}

// Errors
var (
	ErrTokenNotFound    = errors.New("access token not found")
	ErrInvalidToken     = errors.New("invalid access token")
	ErrStoreUnavailable = errors.New("token store unavailable")
)
