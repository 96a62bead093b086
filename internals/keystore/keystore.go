// Package keystore owns the single shared secret clients authenticate with.
package keystore

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"relay/helpers"
	"relay/internals/models"
	"strings"
)

const keyBytes = 32

type Store struct {
	path string
}

func New(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Path() string {
	return s.path
}

// EnsureKey makes sure a key exists on disk and returns it. An existing key is
// never overwritten.
func (s *Store) EnsureKey() (string, bool, error) {
	if helpers.CheckFileExists(s.path) {
		key, err := s.CurrentKey()
		if err != nil {
			return "", false, fmt.Errorf("read key %s: %w", s.path, err)
		}
		return key, false, nil
	}

	key, err := Generate()
	if err != nil {
		return "", false, fmt.Errorf("generate key: %w", err)
	}
	if err := helpers.WriteFileAtomic(s.path, []byte(key), 0o600); err != nil {
		return "", false, fmt.Errorf("write key %s: %w", s.path, err)
	}
	return key, true, nil
}

// CurrentKey reads the persisted key. Surrounding whitespace is ignored so a
// hand-edited key file with a trailing newline still works.
func (s *Store) CurrentKey() (string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrKeyUnavailable, err)
	}
	key := strings.TrimSpace(string(data))
	if key == "" {
		return "", fmt.Errorf("%w: %s is empty", models.ErrKeyUnavailable, s.path)
	}
	return key, nil
}

// Generate returns 256 bits of randomness, hex encoded.
func Generate() (string, error) {
	buf := make([]byte, keyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
