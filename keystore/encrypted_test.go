// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package keystore

import (
	"context"
	"crypto/rand"
	"testing"

	"github.com/luxfi/database/memdb"
	"github.com/stretchr/testify/require"
)

func newMasterKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, masterKeyLen)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

func TestEncryptedBackendRoundTrip(t *testing.T) {
	require := require.New(t)

	db := memdb.New()
	backend, err := NewEncryptedBackend("vault", db, newMasterKey(t))
	require.NoError(err)

	handle, err := NewHandle()
	require.NoError(err)

	material := []byte("secret signing key")
	require.NoError(backend.Put(context.Background(), handle, material))

	// The database never sees plaintext.
	sealed, err := db.Get(handle.key())
	require.NoError(err)
	require.NotContains(string(sealed), "secret signing key")

	got, err := backend.Get(context.Background(), handle)
	require.NoError(err)
	require.Equal(material, got)
}

func TestEncryptedBackendRejectsBadMasterKey(t *testing.T) {
	require := require.New(t)

	_, err := NewEncryptedBackend("vault", memdb.New(), []byte("short"))
	require.ErrorIs(err, ErrInvalidMasterKey)
}

func TestEncryptedBackendWrongKeyFailsToOpen(t *testing.T) {
	require := require.New(t)

	db := memdb.New()
	backend, err := NewEncryptedBackend("vault", db, newMasterKey(t))
	require.NoError(err)

	handle, err := NewHandle()
	require.NoError(err)
	require.NoError(backend.Put(context.Background(), handle, []byte("material")))

	other, err := NewEncryptedBackend("vault", db, newMasterKey(t))
	require.NoError(err)

	_, err = other.Get(context.Background(), handle)
	require.Error(err)
}

func TestEncryptedBackendRecordBoundToHandle(t *testing.T) {
	require := require.New(t)

	db := memdb.New()
	backend, err := NewEncryptedBackend("vault", db, newMasterKey(t))
	require.NoError(err)

	first, err := NewHandle()
	require.NoError(err)
	second, err := NewHandle()
	require.NoError(err)
	require.NoError(backend.Put(context.Background(), first, []byte("material")))

	// Copying the sealed record under another handle must not decrypt.
	sealed, err := db.Get(first.key())
	require.NoError(err)
	require.NoError(db.Put(second.key(), sealed))

	_, err = backend.Get(context.Background(), second)
	require.Error(err)
}

func TestEncryptedBackendMissingRecord(t *testing.T) {
	require := require.New(t)

	backend, err := NewEncryptedBackend("vault", memdb.New(), newMasterKey(t))
	require.NoError(err)

	handle, err := NewHandle()
	require.NoError(err)

	_, err = backend.Get(context.Background(), handle)
	require.ErrorIs(err, ErrMaterialNotFound)
}
