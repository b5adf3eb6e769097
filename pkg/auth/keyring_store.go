package auth

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"

	"tiktokads/pkg/storage"
)

const keyringPrefix = "token_"

// profilesKey holds the list of profiles, since keychains cannot be
// enumerated portably
const profilesKey = "profiles"

// KeyringStore keeps tokens in the system keychain
type KeyringStore struct {
	service string
}

// NewKeyringStore returns a keychain store if the keychain is usable
func NewKeyringStore() (*KeyringStore, error) {
	const testKey = "test_availability"
	if err := keyring.Set(storage.AppName, testKey, "test"); err != nil {
		return nil, fmt.Errorf("keyring not available: %w", err)
	}
	_ = keyring.Delete(storage.AppName, testKey)

	return &KeyringStore{service: storage.AppName}, nil
}

func (k *KeyringStore) Name() string { return "keyring" }

// Store saves the token in the keychain. Only the secret is kept there;
// the modification time is not tracked.
func (k *KeyringStore) Store(token *Token) error {
	if token == nil || token.Profile == "" {
		return ErrInvalidToken
	}
	if err := keyring.Set(k.service, keyringPrefix+token.Profile, token.AccessToken); err != nil {
		return fmt.Errorf("failed to store in keyring: %w", err)
	}
	return k.updateProfiles(token.Profile, true)
}

// Retrieve gets a token from the keychain
func (k *KeyringStore) Retrieve(profile string) (*Token, error) {
	if profile == "" {
		return nil, ErrInvalidToken
	}
	secret, err := keyring.Get(k.service, keyringPrefix+profile)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to retrieve from keyring: %w", err)
	}
	return &Token{Profile: profile, AccessToken: secret}, nil
}

// List returns the tokens of every profile stored through this store
func (k *KeyringStore) List() ([]*Token, error) {
	var tokens []*Token
	for _, profile := range k.profiles() {
		if token, err := k.Retrieve(profile); err == nil {
			tokens = append(tokens, token)
		}
	}
	return tokens, nil
}

// Delete removes a token from the keychain
func (k *KeyringStore) Delete(profile string) error {
	if profile == "" {
		return ErrInvalidToken
	}
	if err := keyring.Delete(k.service, keyringPrefix+profile); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return ErrTokenNotFound
		}
		return fmt.Errorf("failed to delete from keyring: %w", err)
	}
	return k.updateProfiles(profile, false)
}

func (k *KeyringStore) profiles() []string {
	raw, err := keyring.Get(k.service, profilesKey)
	if err != nil {
		return nil
	}
	var profiles []string
	if err := json.Unmarshal([]byte(raw), &profiles); err != nil {
		return nil
	}
	return profiles
}

func (k *KeyringStore) updateProfiles(profile string, add bool) error {
	var out []string
	for _, p := range k.profiles() {
		if p != profile {
			out = append(out, p)
		}
	}
	if add {
		out = append(out, profile)
	}
	data, err := json.Marshal(out)
	if err != nil {
		return err
	}
	if err := keyring.Set(k.service, profilesKey, string(data)); err != nil {
		return fmt.Errorf("failed to update keyring profiles: %w", err)
	}
	return nil
}
