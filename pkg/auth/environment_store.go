package auth

import (
	"os"
)

// AccessTokenEnv is read by the environment store
const AccessTokenEnv = "TTADS_ACCESS_TOKEN"

// EnvironmentStore serves the token from TTADS_ACCESS_TOKEN for every
// profile. It is read-only.
type EnvironmentStore struct{}

// NewEnvironmentStore creates a new environment-based token store
func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{}
}

func (e *EnvironmentStore) Name() string { return "environment" }

// Store is not supported for environment variables
func (e *EnvironmentStore) Store(token *Token) error {
	return ErrStoreUnavailable
}

// Retrieve returns the environment token under the requested profile
func (e *EnvironmentStore) Retrieve(profile string) (*Token, error) {
	secret := os.Getenv(AccessTokenEnv)
	if secret == "" {
		return nil, ErrTokenNotFound
	}
	if profile == "" {
		profile = DefaultProfile
	}
	return &Token{Profile: profile, AccessToken: secret}, nil
}

// List returns the environment token, if set, as the default profile
func (e *EnvironmentStore) List() ([]*Token, error) {
	token, err := e.Retrieve(DefaultProfile)
	if err != nil {
		return nil, nil
	}
	return []*Token{token}, nil
}

// Delete is not supported for environment variables
func (e *EnvironmentStore) Delete(profile string) error {
	return ErrStoreUnavailable
}
