// Package auth protects the HTTP surface with API keys. Only bcrypt
// hashes of the keys are configured; a key that verifies once is cached
// by its SHA-256 digest so later requests skip the bcrypt cost.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

const (
	// APIKeyPrefix marks sheet-tree API keys.
	APIKeyPrefix = "st_"

	// apiKeyBytes is the random part of a generated key.
	apiKeyBytes = 24
)

// ErrInvalidKey is returned for keys that match no configured hash.
var ErrInvalidKey = errors.New("invalid API key")

type keyEntry struct {
	userID string
	hash   []byte
}

// Keys verifies bearer API keys against bcrypt hashes.
type Keys struct {
	entries []keyEntry

	mu       sync.RWMutex
	verified map[[sha256.Size]byte]string // digest -> user id
}

// NewKeys returns a Keys over user id -> bcrypt hash pairs.
func NewKeys(hashes map[string]string) (*Keys, error) {
	k := &Keys{verified: make(map[[sha256.Size]byte]string)}

	for user, hash := range hashes {
		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			return nil, fmt.Errorf("hash for %q: %w", user, err)
		}

		k.entries = append(k.entries, keyEntry{userID: user, hash: []byte(hash)})
	}

	return k, nil
}

// Len returns the number of configured keys.
func (k *Keys) Len() int {
	return len(k.entries)
}

// Validate returns the user a key belongs to.
func (k *Keys) Validate(key string) (string, error) {
	if !strings.HasPrefix(key, APIKeyPrefix) {
		return "", ErrInvalidKey
	}

	digest := sha256.Sum256([]byte(key))

	k.mu.RLock()
	user, ok := k.verified[digest]
	k.mu.RUnlock()

	if ok {
		return user, nil
	}

	for _, e := range k.entries {
		if bcrypt.CompareHashAndPassword(e.hash, []byte(key)) != nil {
			continue
		}

		k.mu.Lock()
		k.verified[digest] = e.userID
		k.mu.Unlock()

		return e.userID, nil
	}

	return "", ErrInvalidKey
}

// GenerateKey returns a new random API key and its bcrypt hash.
func GenerateKey() (key, hash string, err error) {
	key = APIKeyPrefix + RandomHex(apiKeyBytes)

	h, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", "", fmt.Errorf("hashing key: %w", err)
	}

	return key, string(h), nil
}

// RandomHex generates a cryptographically random hex string of the given byte length.
func RandomHex(byteLen int) string {
	b := make([]byte, byteLen)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}

	return hex.EncodeToString(b)
}
