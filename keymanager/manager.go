// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package keymanager

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/luxfi/cache"
	"github.com/luxfi/cache/lru"
	"github.com/luxfi/database"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/custody/keystore"
	"github.com/luxfi/custody/metrics"
	"github.com/luxfi/custody/provider"
	"github.com/luxfi/custody/utils/timer/mockable"
)

var (
	ErrKeyNotFound        = errors.New("key not found")
	ErrKeyExists          = errors.New("key lineage already exists")
	ErrKeyRevoked         = errors.New("key revoked")
	ErrGenerationInFlight = errors.New("key generation already in flight")
)

type pair struct {
	owner    ids.ShortID
	category Category
}

// Manager owns CryptoKey metadata. All versions are kept; verification
// resolves keys by the exact version id referenced in a request, never
// by whatever is current.
type Manager struct {
	log      log.Logger
	db       database.Database
	store    *keystore.Router
	registry *provider.Registry
	clock    *mockable.Clock
	metrics  *metrics.Metrics

	mu       sync.RWMutex
	keys     map[ids.ID]*CryptoKey
	current  map[pair]ids.ID
	history  map[pair][]ids.ID
	pubCache cache.Cacher[ids.ID, []byte]

	// genLocks serializes version allocation per (owner, category) so
	// versions are strictly increasing with no gaps or duplicates.
	genMu    sync.Mutex
	genLocks map[pair]*sync.Mutex
}

func New(
	logger log.Logger,
	db database.Database,
	store *keystore.Router,
	registry *provider.Registry,
	clock *mockable.Clock,
	m *metrics.Metrics,
	pubKeyCacheSize int,
) (*Manager, error) {
	mgr := &Manager{
		log:      logger,
		db:       db,
		store:    store,
		registry: registry,
		clock:    clock,
		metrics:  m,
		keys:     make(map[ids.ID]*CryptoKey),
		current:  make(map[pair]ids.ID),
		history:  make(map[pair][]ids.ID),
		genLocks: make(map[pair]*sync.Mutex),
		pubCache: lru.NewCache[ids.ID, []byte](pubKeyCacheSize),
	}
	if err := mgr.loadKeys(); err != nil {
		return nil, fmt.Errorf("failed to load keys: %w", err)
	}
	return mgr, nil
}

// GenerateKeyPair provisions a new (owner, category) lineage, at
// version 1 for a fresh pair. Subsequent versions come from RotateKeys.
// A second generation for a pair whose first is still in flight is
// rejected rather than queued, so version numbers are never allocated
// speculatively.
func (m *Manager) GenerateKeyPair(
	ctx context.Context,
	owner ids.ShortID,
	alg provider.Algorithm,
	category Category,
) (ids.ID, error) {
	p, err := m.registry.Get(alg)
	if err != nil {
		return ids.Empty, err
	}

	lock := m.pairLock(pair{owner, category})
	if !lock.TryLock() {
		return ids.Empty, fmt.Errorf("%w: %s/%s", ErrGenerationInFlight, owner, category)
	}
	defer lock.Unlock()

	if _, ok := m.currentKey(owner, category); ok {
		return ids.Empty, fmt.Errorf("%w: %s/%s", ErrKeyExists, owner, category)
	}

	// A fully revoked lineage leaves no current key but its version
	// numbers are spent; the new generation continues after them.
	return m.generate(ctx, owner, category, p, m.nextVersion(owner, category))
}

// nextVersion returns one past the highest version ever allocated for
// the pair, revoked versions included. 1 for a fresh pair.
func (m *Manager) nextVersion(owner ids.ShortID, category Category) uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var highest uint64
	for _, id := range m.history[pair{owner, category}] {
		if v := m.keys[id].Version; v > highest {
			highest = v
		}
	}
	return highest + 1
}

// RotateKeys generates a new key pair at currentVersion+1 with the same
// algorithm and marks it current. Prior versions stay retained and
// verifiable. Concurrent rotations for the same pair serialize.
func (m *Manager) RotateKeys(ctx context.Context, owner ids.ShortID, category Category) (ids.ID, error) {
	lock := m.pairLock(pair{owner, category})
	lock.Lock()
	defer lock.Unlock()

	current, ok := m.currentKey(owner, category)
	if !ok {
		return ids.Empty, fmt.Errorf("%w: %s/%s", ErrKeyNotFound, owner, category)
	}

	p, err := m.registry.Get(current.Algorithm)
	if err != nil {
		return ids.Empty, err
	}

	newID, err := m.generate(ctx, owner, category, p, current.Version+1)
	if err != nil {
		return ids.Empty, err
	}

	if m.metrics != nil {
		m.metrics.KeysRotated.Inc()
	}
	m.log.Info("rotated keys",
		"owner", owner,
		"category", category,
		"oldVersion", current.Version,
		"newVersion", current.Version+1,
		"keyID", newID,
	)
	return newID, nil
}

// GetKey resolves a key by its exact version id.
func (m *Manager) GetKey(keyID ids.ID) (*CryptoKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	key, ok := m.keys[keyID]
	if !ok {
		return nil, ErrKeyNotFound
	}
	cp := *key
	return &cp, nil
}

// GetPublicKey returns the public key bytes for an exact key version.
func (m *Manager) GetPublicKey(keyID ids.ID) ([]byte, error) {
	if pub, ok := m.pubCache.Get(keyID); ok {
		return pub, nil
	}

	key, err := m.GetKey(keyID)
	if err != nil {
		return nil, err
	}
	m.pubCache.Put(keyID, key.PublicKey)
	return key.PublicKey, nil
}

// GetPrivateKeyHandle returns the opaque storage handle for a key. Raw
// private bytes never leave the keystore.
func (m *Manager) GetPrivateKeyHandle(keyID ids.ID) (keystore.Handle, error) {
	key, err := m.GetKey(keyID)
	if err != nil {
		return keystore.Handle{}, err
	}
	return key.Handle, nil
}

// GetCurrentKey returns the current key version for (owner, category),
// or ErrKeyNotFound if the pair has no live lineage.
func (m *Manager) GetCurrentKey(owner ids.ShortID, category Category) (*CryptoKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keyID, ok := m.current[pair{owner, category}]
	if !ok {
		return nil, ErrKeyNotFound
	}
	cp := *m.keys[keyID]
	return &cp, nil
}

// GetLatestKeyPair returns the id of the current key version for the
// pair.
func (m *Manager) GetLatestKeyPair(owner ids.ShortID, category Category) (ids.ID, error) {
	key, err := m.GetCurrentKey(owner, category)
	if err != nil {
		return ids.Empty, err
	}
	return key.ID, nil
}

// ListKeys returns every retained version for an owner, all categories.
func (m *Manager) ListKeys(owner ids.ShortID) []*CryptoKey {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []*CryptoKey
	for _, key := range m.keys {
		if key.Owner == owner {
			cp := *key
			keys = append(keys, &cp)
		}
	}
	return keys
}

// RevokeKey marks a key version revoked. The record is retained; if the
// revoked version was current, the highest non-revoked version becomes
// current again.
func (m *Manager) RevokeKey(ctx context.Context, keyID ids.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key, ok := m.keys[keyID]
	if !ok {
		return ErrKeyNotFound
	}
	if key.Revoked {
		return nil
	}
	key.Revoked = true
	if err := m.persist(key); err != nil {
		key.Revoked = false
		return err
	}

	pk := pair{key.Owner, key.Category}
	if m.current[pk] == keyID {
		delete(m.current, pk)
		var best *CryptoKey
		for _, id := range m.history[pk] {
			k := m.keys[id]
			if !k.Revoked && (best == nil || k.Version > best.Version) {
				best = k
			}
		}
		if best != nil {
			m.current[pk] = best.ID
		}
	}

	m.log.Info("revoked key", "keyID", keyID, "owner", key.Owner, "category", key.Category)
	return nil
}

// Sign signs message with the private material behind keyID. The raw
// bytes are materialized only inside the keystore's scoped acquisition
// and zeroed before this call returns.
func (m *Manager) Sign(ctx context.Context, keyID ids.ID, message []byte) ([]byte, error) {
	key, err := m.GetKey(keyID)
	if err != nil {
		return nil, err
	}
	if key.Revoked {
		return nil, fmt.Errorf("%w: %s", ErrKeyRevoked, keyID)
	}
	p, err := m.registry.Get(key.Algorithm)
	if err != nil {
		return nil, err
	}

	var sig []byte
	err = m.store.Route(string(key.Category)).WithKeyMaterial(ctx, key.Handle, func(material []byte) error {
		var signErr error
		sig, signErr = p.Sign(message, material)
		return signErr
	})
	return sig, err
}

func (m *Manager) pairLock(pk pair) *sync.Mutex {
	m.genMu.Lock()
	defer m.genMu.Unlock()

	lock, ok := m.genLocks[pk]
	if !ok {
		lock = &sync.Mutex{}
		m.genLocks[pk] = lock
	}
	return lock
}

func (m *Manager) currentKey(owner ids.ShortID, category Category) (*CryptoKey, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keyID, ok := m.current[pair{owner, category}]
	if !ok {
		return nil, false
	}
	return m.keys[keyID], true
}

// generate allocates a key id, creates the pair, stores the private
// material and persists metadata. The caller holds the pair lock.
func (m *Manager) generate(
	ctx context.Context,
	owner ids.ShortID,
	category Category,
	p provider.Provider,
	version uint64,
) (ids.ID, error) {
	idBytes := make([]byte, ids.IDLen)
	if _, err := rand.Read(idBytes); err != nil {
		return ids.Empty, fmt.Errorf("failed to generate key ID: %w", err)
	}
	keyID, err := ids.ToID(idBytes)
	if err != nil {
		return ids.Empty, err
	}

	pub, priv, err := p.GenerateKeyPair()
	if err != nil {
		return ids.Empty, err
	}
	defer zero(priv)

	handle, err := keystore.NewHandle()
	if err != nil {
		return ids.Empty, err
	}
	if err := m.store.Route(string(category)).Store(ctx, handle, priv); err != nil {
		return ids.Empty, err
	}

	key := &CryptoKey{
		ID:        keyID,
		Owner:     owner,
		Category:  category,
		Algorithm: p.Algorithm(),
		Version:   version,
		PublicKey: pub,
		Handle:    handle,
		CreatedAt: m.clock.Time(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.persist(key); err != nil {
		return ids.Empty, err
	}
	pk := pair{owner, category}
	m.keys[keyID] = key
	m.current[pk] = keyID
	m.history[pk] = append(m.history[pk], keyID)
	m.pubCache.Put(keyID, pub)

	if m.metrics != nil {
		m.metrics.KeysGenerated.Inc()
	}
	m.log.Info("generated key pair",
		"keyID", keyID,
		"owner", owner,
		"algorithm", p.Algorithm(),
		"category", category,
		"version", version,
	)
	return keyID, nil
}

func (m *Manager) persist(key *CryptoKey) error {
	bytes, err := json.Marshal(key)
	if err != nil {
		return err
	}
	return m.db.Put(key.ID[:], bytes)
}

func (m *Manager) loadKeys() error {
	iter := m.db.NewIterator()
	defer iter.Release()

	for iter.Next() {
		key := &CryptoKey{}
		if err := json.Unmarshal(iter.Value(), key); err != nil {
			m.log.Warn("skipping undecodable key record", "error", err)
			continue
		}
		pk := pair{key.Owner, key.Category}
		m.keys[key.ID] = key
		m.history[pk] = append(m.history[pk], key.ID)

		if key.Revoked {
			continue
		}
		if currentID, ok := m.current[pk]; !ok || key.Version > m.keys[currentID].Version {
			m.current[pk] = key.ID
		}
	}
	return iter.Error()
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
