// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package keystore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/luxfi/database/memdb"
	"github.com/luxfi/log"
	"github.com/stretchr/testify/require"
)

var errBackendDown = errors.New("backend down")

// failingBackend rejects every operation.
type failingBackend struct{}

func (failingBackend) Name() string                                       { return "failing" }
func (failingBackend) Put(context.Context, Handle, []byte) error          { return errBackendDown }
func (failingBackend) Get(context.Context, Handle) ([]byte, error)        { return nil, errBackendDown }
func (failingBackend) Has(context.Context, Handle) (bool, error)          { return false, errBackendDown }
func (failingBackend) Delete(context.Context, Handle) error               { return errBackendDown }

func newTestHybrid(t *testing.T, primary, secondary Backend) *Hybrid {
	t.Helper()
	h := NewHybrid(log.NoLog{}, primary, secondary, time.Second, nil)
	t.Cleanup(h.Close)
	return h
}

func TestHybridStoreAndFetch(t *testing.T) {
	require := require.New(t)

	primary := NewDatabaseBackend("primary", memdb.New())
	secondary := NewDatabaseBackend("secondary", memdb.New())
	h := newTestHybrid(t, primary, secondary)

	handle, err := NewHandle()
	require.NoError(err)

	material := []byte("private key material")
	stored := make([]byte, len(material))
	copy(stored, material)
	require.NoError(h.Store(context.Background(), handle, stored))

	var got []byte
	require.NoError(h.WithKeyMaterial(context.Background(), handle, func(b []byte) error {
		got = append([]byte(nil), b...)
		return nil
	}))
	require.Equal(material, got)

	ok, err := h.Has(context.Background(), handle)
	require.NoError(err)
	require.True(ok)
}

func TestHybridMaterialZeroedAfterUse(t *testing.T) {
	require := require.New(t)

	h := newTestHybrid(t,
		NewDatabaseBackend("primary", memdb.New()),
		NewDatabaseBackend("secondary", memdb.New()),
	)

	handle, err := NewHandle()
	require.NoError(err)
	require.NoError(h.Store(context.Background(), handle, []byte{1, 2, 3, 4}))

	var leaked []byte
	require.NoError(h.WithKeyMaterial(context.Background(), handle, func(b []byte) error {
		leaked = b
		return nil
	}))
	require.Equal([]byte{0, 0, 0, 0}, leaked)

	// The zeroing also runs when the callback fails.
	errBoom := errors.New("boom")
	err = h.WithKeyMaterial(context.Background(), handle, func(b []byte) error {
		leaked = b
		return errBoom
	})
	require.ErrorIs(err, errBoom)
	require.Equal([]byte{0, 0, 0, 0}, leaked)
}

func TestHybridMaterialSurvivesRepeatedAcquisition(t *testing.T) {
	require := require.New(t)

	h := newTestHybrid(t,
		NewDatabaseBackend("primary", memdb.New()),
		NewDatabaseBackend("secondary", memdb.New()),
	)

	handle, err := NewHandle()
	require.NoError(err)
	material := []byte("long lived private key")
	require.NoError(h.Store(context.Background(), handle, append([]byte(nil), material...)))

	// The post-use zeroing must hit a private copy, never the stored
	// bytes, or the key would be destroyed on its first use.
	for i := 0; i < 3; i++ {
		var got []byte
		require.NoError(h.WithKeyMaterial(context.Background(), handle, func(b []byte) error {
			got = append([]byte(nil), b...)
			return nil
		}))
		require.Equal(material, got)
	}
}

func TestHybridWriteFallsBackToSecondary(t *testing.T) {
	require := require.New(t)

	secondary := NewDatabaseBackend("secondary", memdb.New())
	h := newTestHybrid(t, failingBackend{}, secondary)

	handle, err := NewHandle()
	require.NoError(err)
	require.NoError(h.Store(context.Background(), handle, []byte("material")))

	// The secondary copy is readable even with the primary down.
	var got []byte
	require.NoError(h.WithKeyMaterial(context.Background(), handle, func(b []byte) error {
		got = append([]byte(nil), b...)
		return nil
	}))
	require.Equal([]byte("material"), got)
}

func TestHybridAllBackendsDown(t *testing.T) {
	require := require.New(t)

	h := newTestHybrid(t, failingBackend{}, failingBackend{})

	handle, err := NewHandle()
	require.NoError(err)

	err = h.Store(context.Background(), handle, []byte("material"))
	require.ErrorIs(err, ErrStorageUnavailable)

	err = h.WithKeyMaterial(context.Background(), handle, func([]byte) error { return nil })
	require.ErrorIs(err, ErrStorageUnavailable)
}

func TestHybridMissingMaterial(t *testing.T) {
	require := require.New(t)

	h := newTestHybrid(t,
		NewDatabaseBackend("primary", memdb.New()),
		NewDatabaseBackend("secondary", memdb.New()),
	)

	handle, err := NewHandle()
	require.NoError(err)

	err = h.WithKeyMaterial(context.Background(), handle, func([]byte) error { return nil })
	require.ErrorIs(err, ErrMaterialNotFound)
}

func TestHybridDelete(t *testing.T) {
	require := require.New(t)

	h := newTestHybrid(t,
		NewDatabaseBackend("primary", memdb.New()),
		NewDatabaseBackend("secondary", memdb.New()),
	)

	handle, err := NewHandle()
	require.NoError(err)
	require.NoError(h.Store(context.Background(), handle, []byte("material")))
	h.Close()

	require.NoError(h.Delete(context.Background(), handle))

	ok, err := h.Has(context.Background(), handle)
	require.NoError(err)
	require.False(ok)
}
