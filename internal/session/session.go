// Package session persists the signed-in user's Session and the client
// preferences between CLI invocations.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/oauth2"
)

// appDir is the directory name used under the user cache and config dirs.
const appDir = "edulab"

// Session is the signed-in user and the credentials issued for them.
type Session struct {
	Email        string    `json:"email"`
	DisplayName  string    `json:"displayName,omitempty"`
	AvatarURL    string    `json:"avatarUrl,omitempty"`
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
	IssuedAt     time.Time `json:"issuedAt"`
}

// Token returns the session credentials as an oauth2 token.
func (s *Session) Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  s.AccessToken,
		TokenType:    "Bearer",
		RefreshToken: s.RefreshToken,
		Expiry:       s.Expiry,
	}
}

// Store persists at most one Session.
type Store interface {
	// Load returns the stored Session, or nil and no error when there is none.
	Load() (*Session, error)
	Save(s *Session) error
	Clear() error
}

func encode(s *Session) ([]byte, error) {
	if s == nil {
		return nil, errors.New("session is nil")
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session: %w", err)
	}
	return data, nil
}

func decode(data []byte) (*Session, error) {
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	if s.Email == "" || s.AccessToken == "" {
		return nil, errors.New("stored session is incomplete")
	}
	return &s, nil
}

// DefaultCacheDir returns <user cache dir>/edulab.
func DefaultCacheDir() (string, error) {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate user cache directory: %w", err)
	}
	return filepath.Join(dir, appDir), nil
}

// DefaultConfigDir returns <user config dir>/edulab.
func DefaultConfigDir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate user config directory: %w", err)
	}
	return filepath.Join(dir, appDir), nil
}

// Store kinds accepted by NewStore.
const (
	StoreKeyring = "keyring"
	StoreFile    = "file"
	StoreMemory  = "memory"
)

// NewStore returns the Store for kind. An empty kind selects the keyring.
func NewStore(kind string) (Store, error) {
	switch kind {
	case "", StoreKeyring:
		return NewKeyringStore(), nil
	case StoreFile:
		return NewFileStore()
	case StoreMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown session store %q (want keyring, file or memory)", kind)
	}
}
