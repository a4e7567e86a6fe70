// Package secrets resolves opaque shared-secret references for buyers.
//
// Buyers never store shared secrets directly; they store a reference that
// this package resolves at authentication time. Two providers exist:
//
//   - env: the reference names an environment variable
//   - static: the reference keys a map loaded from configuration
//     (tests and development only)
package secrets

import (
	"errors"
	"fmt"
	"os"

	"github.com/sirosfoundation/go-punchout/internal/config"
)

// ErrSecretNotFound indicates the reference resolves to nothing.
var ErrSecretNotFound = errors.New("secret not found")

// Store resolves shared-secret references
type Store interface {
	// Get returns the secret value for an opaque reference
	Get(ref string) (string, error)
}

// NewStore builds a Store for the configured mode
func NewStore(cfg *config.SecretsConfig) (Store, error) {
	switch cfg.Mode {
	case "env":
		return &envStore{}, nil
	case "static":
		return &staticStore{values: cfg.Static}, nil
	default:
		return nil, fmt.Errorf("unknown secrets mode %q", cfg.Mode)
	}
}

type envStore struct{}

func (s *envStore) Get(ref string) (string, error) {
	value, ok := os.LookupEnv(ref)
	if !ok || value == "" {
		return "", ErrSecretNotFound
	}
	return value, nil
}

type staticStore struct {
	values map[string]string
}

func (s *staticStore) Get(ref string) (string, error) {
	value, ok := s.values[ref]
	if !ok {
		return "", ErrSecretNotFound
	}
	return value, nil
}

// Static builds an in-memory store from a map. Intended for tests.
func Static(values map[string]string) Store {
	return &staticStore{values: values}
}
