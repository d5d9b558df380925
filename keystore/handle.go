// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package keystore stores raw private key material across redundant
// backends. It is the only package that ever materializes private key
// bytes; everything above it holds opaque handles.
package keystore

import (
	"crypto/rand"
	"fmt"

	"github.com/luxfi/ids"
)

// Handle is an opaque reference to raw key material held by the store.
// It carries no key bytes itself and is safe to persist and log.
type Handle struct {
	id ids.ID
}

// NewHandle returns a fresh random handle.
func NewHandle() (Handle, error) {
	idBytes := make([]byte, ids.IDLen)
	if _, err := rand.Read(idBytes); err != nil {
		return Handle{}, fmt.Errorf("failed to generate handle: %w", err)
	}
	id, err := ids.ToID(idBytes)
	if err != nil {
		return Handle{}, err
	}
	return Handle{id: id}, nil
}

func (h Handle) IsZero() bool {
	return h.id == ids.Empty
}

func (h Handle) String() string {
	return h.id.String()
}

// MarshalText lets handles round-trip through JSON metadata records.
func (h Handle) MarshalText() ([]byte, error) {
	return []byte(h.id.String()), nil
}

func (h *Handle) UnmarshalText(text []byte) error {
	id, err := ids.FromString(string(text))
	if err != nil {
		return fmt.Errorf("invalid key handle: %w", err)
	}
	h.id = id
	return nil
}

func (h Handle) key() []byte {
	return h.id[:]
}
