// Package session owns the lifecycle of the wallet-signed session key:
// persisting it across restarts, restoring it for a returning account, and
// minting a fresh one through the wallet approval ceremony.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"sealchat-gateway/internal/kv"
	"sealchat-gateway/internal/seal"
)

const (
	storageKeyPrefix = "sessionKey"
	storageVersion   = "1.0"
)

type storedEnvelope struct {
	Version  string        `json:"version"`
	Data     seal.Exported `json:"data"`
	StoredAt int64         `json:"storedAt"`
}

// Store persists session keys on a kv.Store, one entry per
// account x package pair. Every load path treats anything unusable
// (missing, corrupt, wrong version, expired) as a cache miss and evicts
// the entry rather than surfacing an error.
type Store struct {
	kv        kv.Store
	certifier seal.Certifier
	now       func() time.Time
}

func NewStore(store kv.Store, certifier seal.Certifier) *Store {
	return NewStoreWithNow(store, certifier, time.Now)
}

func NewStoreWithNow(store kv.Store, certifier seal.Certifier, now func() time.Time) *Store {
	return &Store{kv: store, certifier: certifier, now: now}
}

func storageKey(address, packageID string) string {
	return fmt.Sprintf("%s_%s_%s", storageKeyPrefix, address, packageID)
}

// Save writes the exported session key. Fields that fail JSON
// serialization are skipped, not fatal: the export may carry SDK fields
// this client cannot represent, and losing one of those must not lose the
// whole credential.
func (s *Store) Save(address, packageID string, key *seal.SessionKey) {
	exported := key.Export()
	serializable := make(seal.Exported, len(exported))
	for name, value := range exported {
		if _, err := json.Marshal(value); err != nil {
			log.Printf("session: skipping non-serializable field %q: %v", name, err)
			continue
		}
		serializable[name] = value
	}

	envelope := storedEnvelope{
		Version:  storageVersion,
		Data:     serializable,
		StoredAt: s.now().UnixMilli(),
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		log.Printf("session: marshal stored key failed: %v", err)
		return
	}
	if err := s.kv.Set(storageKey(address, packageID), string(data)); err != nil {
		log.Printf("session: persist key failed: %v", err)
	}
}

// Load returns the cached session key for (address, packageID), or nil if
// there is none worth having. An expired or unreadable entry is deleted on
// the way out so it is never seen twice.
func (s *Store) Load(address, packageID string) *seal.SessionKey {
	key := storageKey(address, packageID)
	raw, err := s.kv.Get(key)
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			log.Printf("session: read cached key failed: %v", err)
		}
		return nil
	}

	exported, ok := s.decodeUsable(raw)
	if !ok {
		s.evict(key)
		return nil
	}

	restored, err := seal.Import(exported, s.certifier, s.now)
	if err != nil {
		log.Printf("session: cached key rejected: %v", err)
		s.evict(key)
		return nil
	}
	if restored.IsExpired() {
		s.evict(key)
		return nil
	}
	return restored
}

func (s *Store) Delete(address, packageID string) {
	s.evict(storageKey(address, packageID))
}

func (s *Store) HasValid(address, packageID string) bool {
	return s.Load(address, packageID) != nil
}

// SweepExpired removes every persisted session key, across all accounts
// and packages, whose expiration has passed or that cannot be parsed.
// Runs once at process start.
func (s *Store) SweepExpired() int {
	keys, err := s.kv.Keys(storageKeyPrefix + "_")
	if err != nil {
		log.Printf("session: sweep listing failed: %v", err)
		return 0
	}

	removed := 0
	for _, key := range keys {
		raw, err := s.kv.Get(key)
		if err != nil {
			continue
		}
		if _, ok := s.decodeUsable(raw); !ok {
			s.evict(key)
			removed++
		}
	}
	if removed > 0 {
		log.Printf("session: cleaned up %d expired cached key(s)", removed)
	}
	return removed
}

// decodeUsable parses a stored envelope and reports whether it still
// describes a live credential. Expiry math uses only creationTimeMs and
// ttlMin; the rest of the payload stays opaque.
func (s *Store) decodeUsable(raw string) (seal.Exported, bool) {
	var envelope storedEnvelope
	if err := json.Unmarshal([]byte(raw), &envelope); err != nil {
		return nil, false
	}
	if envelope.Version != storageVersion {
		log.Printf("session: cached key version mismatch (%q), clearing", envelope.Version)
		return nil, false
	}

	creationTimeMs, ok := numericField(envelope.Data, "creationTimeMs")
	if !ok {
		return nil, false
	}
	ttlMin, ok := numericField(envelope.Data, "ttlMin")
	if !ok {
		return nil, false
	}

	expirationMs := creationTimeMs + ttlMin*60_000
	if s.now().UnixMilli() >= expirationMs {
		return nil, false
	}
	return envelope.Data, true
}

func numericField(data seal.Exported, name string) (int64, bool) {
	switch v := data[name].(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

func (s *Store) evict(key string) {
	if err := s.kv.Delete(key); err != nil {
		log.Printf("session: evict %q failed: %v", key, err)
	}
}
