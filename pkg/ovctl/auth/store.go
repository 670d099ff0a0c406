// Package auth stores the reviewer bearer token for ovctl, preferring the OS
// keychain and falling back to a mode-0600 file when no keychain is available.
package auth

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/zalando/go-keyring"
)

const (
	keyringService = "ovctl"
	keyringUser    = "bearer-token"
)

// StorageKeychain and StorageFile select the token storage backend.
const (
	StorageKeychain = "keychain"
	StorageFile     = "file"
)

// StoredToken is the file-backend payload.
type StoredToken struct {
	Token    string    `json:"token"`
	SavedAt  time.Time `json:"saved_at"`
	Server   string    `json:"server,omitempty"`
	Username string    `json:"username,omitempty"`
}

// ErrNotFound is returned when no token has been stored.
var ErrNotFound = errors.New("no stored token")

// Store persists and retrieves the bearer token.
type Store struct {
	backend  string
	filePath string
}

// NewStore builds a store for the given backend ("keychain", "file" or empty
// for keychain-with-file-fallback).
func NewStore(backend string) *Store {
	return &Store{
		backend:  backend,
		filePath: defaultTokenPath(),
	}
}

func defaultTokenPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "ovctl", "token.json")
}

// Save stores the token.
func (s *Store) Save(token, server string) error {
	if token == "" {
		return errors.New("token must not be empty")
	}
	if s.backend != StorageFile {
		if err := keyring.Set(keyringService, keyringUser, token); err == nil {
			return nil
		} else if s.backend == StorageKeychain {
			return errors.Wrap(err, "saving token to keychain")
		}
		// keychain unavailable, fall through to file
	}
	return s.saveFile(token, server)
}

func (s *Store) saveFile(token, server string) error {
	if err := os.MkdirAll(filepath.Dir(s.filePath), 0o700); err != nil {
		return errors.Wrap(err, "creating token dir")
	}
	content, err := json.MarshalIndent(StoredToken{
		Token:   token,
		SavedAt: time.Now(),
		Server:  server,
	}, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshaling token")
	}
	return os.WriteFile(s.filePath, content, 0o600)
}

// Load retrieves the stored token, or ErrNotFound.
func (s *Store) Load() (string, error) {
	if s.backend != StorageFile {
		if token, err := keyring.Get(keyringService, keyringUser); err == nil && token != "" {
			return token, nil
		} else if s.backend == StorageKeychain {
			if errors.Is(err, keyring.ErrNotFound) {
				return "", ErrNotFound
			}
			return "", errors.Wrap(err, "loading token from keychain")
		}
	}
	return s.loadFile()
}

func (s *Store) loadFile() (string, error) {
	content, err := os.ReadFile(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		return "", errors.Wrap(err, "reading token file")
	}
	var stored StoredToken
	if err := json.Unmarshal(content, &stored); err != nil {
		return "", errors.Wrap(err, "parsing token file")
	}
	if stored.Token == "" {
		return "", ErrNotFound
	}
	return stored.Token, nil
}

// Clear removes the stored token from both backends. Missing entries are not
// an error.
func (s *Store) Clear() error {
	if err := keyring.Delete(keyringService, keyringUser); err != nil &&
		!errors.Is(err, keyring.ErrNotFound) && s.backend == StorageKeychain {
		return errors.Wrap(err, "removing token from keychain")
	}
	if err := os.Remove(s.filePath); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "removing token file")
	}
	return nil
}
