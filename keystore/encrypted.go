// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package keystore

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/luxfi/database"
)

const masterKeyLen = 32

var (
	ErrInvalidMasterKey   = errors.New("master key must be 32 bytes")
	ErrCiphertextTooShort = errors.New("ciphertext shorter than nonce")
)

var _ Backend = (*encryptedBackend)(nil)

// encryptedBackend seals material with AES-256-GCM before handing it to
// the underlying database. The GCM nonce is prepended to each record.
type encryptedBackend struct {
	name string
	db   database.Database
	aead cipher.AEAD
}

func NewEncryptedBackend(name string, db database.Database, masterKey []byte) (Backend, error) {
	if len(masterKey) != masterKeyLen {
		return nil, ErrInvalidMasterKey
	}
	block, err := aes.NewCipher(masterKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &encryptedBackend{
		name: name,
		db:   db,
		aead: aead,
	}, nil
}

func (b *encryptedBackend) Name() string {
	return b.name
}

func (b *encryptedBackend) Put(ctx context.Context, handle Handle, material []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	nonce := make([]byte, b.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}
	// The handle binds the ciphertext to its record as additional data,
	// so a record swapped between handles fails to open.
	sealed := b.aead.Seal(nonce, nonce, material, handle.key())
	return b.db.Put(handle.key(), sealed)
}

func (b *encryptedBackend) Get(ctx context.Context, handle Handle) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sealed, err := b.db.Get(handle.key())
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrMaterialNotFound
	}
	if err != nil {
		return nil, err
	}
	nonceSize := b.aead.NonceSize()
	if len(sealed) < nonceSize {
		return nil, ErrCiphertextTooShort
	}
	material, err := b.aead.Open(nil, sealed[:nonceSize], sealed[nonceSize:], handle.key())
	if err != nil {
		return nil, fmt.Errorf("failed to open key material: %w", err)
	}
	return material, nil
}

func (b *encryptedBackend) Has(ctx context.Context, handle Handle) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return b.db.Has(handle.key())
}

func (b *encryptedBackend) Delete(ctx context.Context, handle Handle) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Delete(handle.key())
}
