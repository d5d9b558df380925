// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package keystore

import (
	"context"
	"errors"

	"github.com/luxfi/database"
)

var (
	ErrMaterialNotFound   = errors.New("key material not found")
	ErrStorageUnavailable = errors.New("key storage unavailable")
)

// Backend is a single store of raw key material. Implementations must
// treat calls as fallible remote I/O: they respect context cancellation
// and return promptly on deadline expiry. A cloud KMS or object storage
// client satisfies this interface in production; the in-process
// implementations below back it with a database.
type Backend interface {
	Name() string
	Put(ctx context.Context, handle Handle, material []byte) error
	// Get returns a buffer the caller owns outright; the caller zeroes
	// it after use, so the backend must never hand out its own stored
	// copy.
	Get(ctx context.Context, handle Handle) ([]byte, error)
	Has(ctx context.Context, handle Handle) (bool, error)
	Delete(ctx context.Context, handle Handle) error
}

var _ Backend = (*databaseBackend)(nil)

// databaseBackend stores material as-is in a database namespace. It is
// the mirror-tier backend; the primary tier wraps it with encryption.
type databaseBackend struct {
	name string
	db   database.Database
}

func NewDatabaseBackend(name string, db database.Database) Backend {
	return &databaseBackend{name: name, db: db}
}

func (b *databaseBackend) Name() string {
	return b.name
}

func (b *databaseBackend) Put(ctx context.Context, handle Handle, material []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Put(handle.key(), material)
}

func (b *databaseBackend) Get(ctx context.Context, handle Handle) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	material, err := b.db.Get(handle.key())
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrMaterialNotFound
	}
	if err != nil {
		return nil, err
	}
	// Some databases return their stored backing array. The caller will
	// zero the buffer, so it must be a private copy.
	cp := make([]byte, len(material))
	copy(cp, material)
	return cp, nil
}

func (b *databaseBackend) Has(ctx context.Context, handle Handle) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return b.db.Has(handle.key())
}

func (b *databaseBackend) Delete(ctx context.Context, handle Handle) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Delete(handle.key())
}
