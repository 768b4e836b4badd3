package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"sync"
)

// reservedUserPrefix marks event-sourced deciders ("source:<name>"). A key
// minted for such a user id would make webhook decisions indistinguishable
// from human ones and skip per-tool approver checks, so the parser refuses it.
const reservedUserPrefix = "source:"

// KeyStore resolves API keys to the user they authenticate. Only SHA-256
// digests of the keys are held in memory.
type KeyStore struct {
	mu       sync.RWMutex
	byDigest map[string]string // SHA-256(key) → user id
}

// NewKeyStore parses a comma-separated list of user:key pairs, e.g.
// "alice:sk-abc,bob:sk-def". Malformed pairs and reserved user ids are
// skipped with a warning rather than aborting startup.
func NewKeyStore(raw string) *KeyStore {
	ks := &KeyStore{byDigest: make(map[string]string)}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		user, key, ok := strings.Cut(pair, ":")
		user = strings.TrimSpace(user)
		key = strings.TrimSpace(key)
		if !ok || user == "" || key == "" {
			slog.Warn("skipping malformed api key pair")
			continue
		}
		// A pair like "source:rightfind:sk-x" parses as user "source", so the
		// bare word is reserved along with the prefix form.
		if user == "source" || strings.HasPrefix(user, reservedUserPrefix) {
			slog.Warn("skipping api key with reserved user id", "user_id", user)
			continue
		}
		ks.byDigest[digest(key)] = user
	}
	return ks
}

// Lookup returns the user id that owns the given API key.
func (ks *KeyStore) Lookup(apiKey string) (string, bool) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	user, ok := ks.byDigest[digest(apiKey)]
	return user, ok
}

// Empty reports whether no usable keys were configured.
func (ks *KeyStore) Empty() bool {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return len(ks.byDigest) == 0
}

func digest(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}
