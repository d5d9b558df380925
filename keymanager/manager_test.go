// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package keymanager

import (
	"context"
	"testing"
	"time"

	"github.com/luxfi/database"
	"github.com/luxfi/database/memdb"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/custody/keystore"
	"github.com/luxfi/custody/metrics"
	"github.com/luxfi/custody/provider"
	"github.com/luxfi/custody/utils/timer/mockable"
)

type testEnv struct {
	manager  *Manager
	registry *provider.Registry
	metaDB   database.Database
	localDB  database.Database
	remoteDB database.Database
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		metaDB:   memdb.New(),
		localDB:  memdb.New(),
		remoteDB: memdb.New(),
	}
	env.manager = env.newManager(t)
	env.registry = provider.NewRegistry()
	return env
}

// newManager builds a manager over the env's databases, so a second
// call simulates a process restart over the same state.
func (env *testEnv) newManager(t *testing.T) *Manager {
	t.Helper()

	store := keystore.NewRouter(
		log.NoLog{},
		DefaultStoragePolicy(),
		keystore.NewDatabaseBackend("local", env.localDB),
		keystore.NewDatabaseBackend("remote", env.remoteDB),
		time.Second,
		nil,
	)
	t.Cleanup(store.Close)

	manager, err := New(
		log.NoLog{},
		env.metaDB,
		store,
		provider.NewRegistry(),
		&mockable.Clock{},
		metrics.NewNoOp(),
		16,
	)
	require.NoError(t, err)
	return manager
}

func TestGenerateKeyPair(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t)

	owner := ids.GenerateTestShortID()
	keyID, err := env.manager.GenerateKeyPair(context.Background(), owner, provider.Secp256k1, CategorySigningRoot)
	require.NoError(err)

	key, err := env.manager.GetKey(keyID)
	require.NoError(err)
	require.Equal(owner, key.Owner)
	require.Equal(provider.Secp256k1, key.Algorithm)
	require.Equal(CategorySigningRoot, key.Category)
	require.Equal(uint64(1), key.Version)
	require.False(key.Revoked)
	require.NotEmpty(key.PublicKey)

	// One live lineage per (owner, category).
	_, err = env.manager.GenerateKeyPair(context.Background(), owner, provider.Secp256k1, CategorySigningRoot)
	require.ErrorIs(err, ErrKeyExists)

	// A different category is a separate lineage.
	_, err = env.manager.GenerateKeyPair(context.Background(), owner, provider.MLDSA65, CategoryDelegation)
	require.NoError(err)
}

func TestGenerateKeyPairUnknownAlgorithm(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t)

	owner := ids.GenerateTestShortID()
	_, err := env.manager.GenerateKeyPair(context.Background(), owner, provider.Algorithm("rot13"), CategorySigningRoot)
	require.ErrorIs(err, provider.ErrUnknownAlgorithm)

	_, err = env.manager.GenerateKeyPair(context.Background(), owner, provider.Falcon512, CategorySigningRoot)
	require.ErrorIs(err, provider.ErrAlgorithmUnavailable)
}

func TestRotationKeepsOldVersionsVerifiable(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t)

	owner := ids.GenerateTestShortID()
	v1ID, err := env.manager.GenerateKeyPair(context.Background(), owner, provider.Secp256k1, CategorySigningRoot)
	require.NoError(err)

	message := []byte("payment instruction")
	v1Sig, err := env.manager.Sign(context.Background(), v1ID, message)
	require.NoError(err)

	v2ID, err := env.manager.RotateKeys(context.Background(), owner, CategorySigningRoot)
	require.NoError(err)
	require.NotEqual(v1ID, v2ID)

	v2Key, err := env.manager.GetKey(v2ID)
	require.NoError(err)
	require.Equal(uint64(2), v2Key.Version)
	require.Equal(provider.Secp256k1, v2Key.Algorithm)

	current, err := env.manager.GetCurrentKey(owner, CategorySigningRoot)
	require.NoError(err)
	require.Equal(v2ID, current.ID)

	// The old version is still resolvable and its signature still
	// verifies against its own public key, but not against the new one.
	p, err := env.registry.Get(provider.Secp256k1)
	require.NoError(err)

	v1Pub, err := env.manager.GetPublicKey(v1ID)
	require.NoError(err)
	ok, err := p.Verify(message, v1Sig, v1Pub)
	require.NoError(err)
	require.True(ok)

	v2Pub, err := env.manager.GetPublicKey(v2ID)
	require.NoError(err)
	ok, err = p.Verify(message, v1Sig, v2Pub)
	require.NoError(err)
	require.False(ok)
}

func TestRotationVersionsAreGapless(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t)

	owner := ids.GenerateTestShortID()
	_, err := env.manager.GenerateKeyPair(context.Background(), owner, provider.MLDSA65, CategorySigningRoot)
	require.NoError(err)
	for i := 0; i < 4; i++ {
		_, err := env.manager.RotateKeys(context.Background(), owner, CategorySigningRoot)
		require.NoError(err)
	}

	versions := make(map[uint64]bool)
	for _, key := range env.manager.ListKeys(owner) {
		require.False(versions[key.Version])
		versions[key.Version] = true
	}
	for v := uint64(1); v <= 5; v++ {
		require.True(versions[v])
	}

	current, err := env.manager.GetCurrentKey(owner, CategorySigningRoot)
	require.NoError(err)
	require.Equal(uint64(5), current.Version)
}

func TestRotateWithoutLineage(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t)

	_, err := env.manager.RotateKeys(context.Background(), ids.GenerateTestShortID(), CategorySigningRoot)
	require.ErrorIs(err, ErrKeyNotFound)
}

func TestRevokeKey(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t)

	owner := ids.GenerateTestShortID()
	v1ID, err := env.manager.GenerateKeyPair(context.Background(), owner, provider.Secp256k1, CategorySigningRoot)
	require.NoError(err)
	v2ID, err := env.manager.RotateKeys(context.Background(), owner, CategorySigningRoot)
	require.NoError(err)

	require.NoError(env.manager.RevokeKey(context.Background(), v2ID))

	// Revoking the current version falls back to the highest live one.
	current, err := env.manager.GetCurrentKey(owner, CategorySigningRoot)
	require.NoError(err)
	require.Equal(v1ID, current.ID)

	// The record is retained for verification, but signing is refused.
	key, err := env.manager.GetKey(v2ID)
	require.NoError(err)
	require.True(key.Revoked)

	_, err = env.manager.Sign(context.Background(), v2ID, []byte("message"))
	require.ErrorIs(err, ErrKeyRevoked)

	// Revoking again is a no-op; revoking an unknown key errors.
	require.NoError(env.manager.RevokeKey(context.Background(), v2ID))
	require.ErrorIs(env.manager.RevokeKey(context.Background(), ids.GenerateTestID()), ErrKeyNotFound)
}

func TestSignAndVerify(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t)

	owner := ids.GenerateTestShortID()
	for _, alg := range []provider.Algorithm{provider.Secp256k1, provider.MLDSA65, provider.SLHDSA128f} {
		keyID, err := env.manager.GenerateKeyPair(context.Background(), owner, alg, Category(string(alg)))
		require.NoError(err)

		message := []byte("dual signed request content")
		sig, err := env.manager.Sign(context.Background(), keyID, message)
		require.NoError(err)

		p, err := env.registry.Get(alg)
		require.NoError(err)
		pub, err := env.manager.GetPublicKey(keyID)
		require.NoError(err)

		ok, err := p.Verify(message, sig, pub)
		require.NoError(err)
		require.True(ok)
	}
}

func TestSignIsRepeatable(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t)

	owner := ids.GenerateTestShortID()
	keyID, err := env.manager.GenerateKeyPair(context.Background(), owner, provider.Secp256k1, CategorySigningRoot)
	require.NoError(err)

	// The scoped zeroing after each acquisition must not reach the
	// stored material; the same key signs indefinitely.
	p, err := env.registry.Get(provider.Secp256k1)
	require.NoError(err)
	pub, err := env.manager.GetPublicKey(keyID)
	require.NoError(err)
	for i := 0; i < 3; i++ {
		sig, err := env.manager.Sign(context.Background(), keyID, []byte("payment instruction"))
		require.NoError(err)

		ok, err := p.Verify([]byte("payment instruction"), sig, pub)
		require.NoError(err)
		require.True(ok)
	}
}

func TestGenerateAfterFullRevocationContinuesVersions(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t)

	owner := ids.GenerateTestShortID()
	v1ID, err := env.manager.GenerateKeyPair(context.Background(), owner, provider.Secp256k1, CategorySigningRoot)
	require.NoError(err)
	v2ID, err := env.manager.RotateKeys(context.Background(), owner, CategorySigningRoot)
	require.NoError(err)
	require.NoError(env.manager.RevokeKey(context.Background(), v1ID))
	require.NoError(env.manager.RevokeKey(context.Background(), v2ID))

	_, err = env.manager.GetCurrentKey(owner, CategorySigningRoot)
	require.ErrorIs(err, ErrKeyNotFound)

	// A fresh generation must not reuse the revoked lineage's version
	// numbers.
	v3ID, err := env.manager.GenerateKeyPair(context.Background(), owner, provider.Secp256k1, CategorySigningRoot)
	require.NoError(err)
	v3Key, err := env.manager.GetKey(v3ID)
	require.NoError(err)
	require.Equal(uint64(3), v3Key.Version)

	versions := make(map[uint64]bool)
	for _, key := range env.manager.ListKeys(owner) {
		require.False(versions[key.Version])
		versions[key.Version] = true
	}
}

func TestManagerReloadsState(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t)

	owner := ids.GenerateTestShortID()
	_, err := env.manager.GenerateKeyPair(context.Background(), owner, provider.Secp256k1, CategorySigningRoot)
	require.NoError(err)
	v2ID, err := env.manager.RotateKeys(context.Background(), owner, CategorySigningRoot)
	require.NoError(err)

	reloaded := env.newManager(t)

	current, err := reloaded.GetCurrentKey(owner, CategorySigningRoot)
	require.NoError(err)
	require.Equal(v2ID, current.ID)
	require.Equal(uint64(2), current.Version)
	require.Len(reloaded.ListKeys(owner), 2)

	// Private material survived too: the reloaded manager can sign.
	sig, err := reloaded.Sign(context.Background(), v2ID, []byte("message"))
	require.NoError(err)
	require.NotEmpty(sig)
}
