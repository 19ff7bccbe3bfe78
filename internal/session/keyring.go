package session

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

const (
	keyringService = "edulab"
	keyringUser    = "session"
)

// KeyringStore keeps the Session in the operating system keyring.
type KeyringStore struct {
	Service string
	User    string
}

// NewKeyringStore returns a KeyringStore using the edulab service entry.
func NewKeyringStore() *KeyringStore {
	return &KeyringStore{Service: keyringService, User: keyringUser}
}

// Load implements Store.
func (k *KeyringStore) Load() (*Session, error) {
	secret, err := keyring.Get(k.Service, k.User)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read keyring: %w", err)
	}
	return decode([]byte(secret))
}

// Save implements Store.
func (k *KeyringStore) Save(s *Session) error {
	data, err := encode(s)
	if err != nil {
		return err
	}
	if err := keyring.Set(k.Service, k.User, string(data)); err != nil {
		return fmt.Errorf("failed to write keyring: %w", err)
	}
	return nil
}

// Clear implements Store. Clearing an empty keyring entry is not an error.
func (k *KeyringStore) Clear() error {
	err := keyring.Delete(k.Service, k.User)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to delete keyring entry: %w", err)
	}
	return nil
}
