// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package keymanager owns versioned key lifecycle per (owner, category):
// generation, rotation and exact-version resolution. It holds key
// metadata only; raw private material lives behind keystore handles.
package keymanager

import (
	"time"

	"github.com/luxfi/ids"

	"github.com/luxfi/custody/keystore"
	"github.com/luxfi/custody/provider"
)

// Category partitions an owner's keys by purpose. Each (owner, category)
// pair has its own version lineage.
type Category string

const (
	CategorySigningRoot  Category = "signing-root"
	CategoryDelegation   Category = "delegation"
	CategorySubstitution Category = "substitution"
)

// DefaultStoragePolicy grades categories for the hybrid key store.
// Signing roots are critical; delegated and substitution keys are
// replaceable and ride the standard tier.
func DefaultStoragePolicy() keystore.Policy {
	return keystore.Policy{
		string(CategorySigningRoot):  keystore.SensitivityCritical,
		string(CategoryDelegation):   keystore.SensitivityStandard,
		string(CategorySubstitution): keystore.SensitivityStandard,
	}
}

// CryptoKey is the metadata record of one key version. Exactly one
// version per (owner, category) is current; older versions are retained
// read-only so historical signatures stay verifiable.
type CryptoKey struct {
	ID        ids.ID             `json:"id"`
	Owner     ids.ShortID        `json:"owner"`
	Category  Category           `json:"category"`
	Algorithm provider.Algorithm `json:"algorithm"`
	Version   uint64             `json:"version"`
	PublicKey []byte             `json:"publicKey"`
	Handle    keystore.Handle    `json:"handle"`
	CreatedAt time.Time          `json:"createdAt"`
	Revoked   bool               `json:"revoked"`
}
