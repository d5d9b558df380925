// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package validation orchestrates dual-signature verification: a
// classical and a post-quantum signature over the same canonical
// content, plus replay protection.
package validation

import (
	"time"

	"github.com/luxfi/ids"

	"github.com/luxfi/custody/utils/wrappers"
)

// SignedRequest is a dual-signed operation submitted for validation.
// Both signature fields and both key ids must be present; each key id
// names the exact key version the signature was created under.
type SignedRequest struct {
	ID          ids.ID      `json:"id"`
	Origin      ids.ShortID `json:"origin"`
	RequestType uint32      `json:"requestType"`
	Payload     []byte      `json:"payload"`

	ClassicalSignature []byte `json:"classicalSignature"`
	ClassicalKeyID     ids.ID `json:"classicalKeyId"`
	PQCSignature       []byte `json:"pqcSignature"`
	PQCKeyID           ids.ID `json:"pqcKeyId"`

	Timestamp time.Time `json:"timestamp"`
	Nonce     uint64    `json:"nonce"`
}

// CanonicalBytes is the deterministic serialization of (id, origin,
// type, payload, timestamp) that both signatures must cover. It is
// always recomputed server side; a client-supplied digest is never
// trusted. Fixed-width big-endian framing leaves no room for ambiguous
// signature coverage.
func (r *SignedRequest) CanonicalBytes() []byte {
	size := ids.IDLen + ids.ShortIDLen + wrappers.IntLen + wrappers.IntLen + len(r.Payload) + wrappers.LongLen
	p := wrappers.Packer{
		MaxSize: size,
		Bytes:   make([]byte, 0, size),
	}
	p.PackFixedBytes(r.ID[:])
	p.PackFixedBytes(r.Origin[:])
	p.PackInt(r.RequestType)
	p.PackBytes(r.Payload)
	p.PackLong(uint64(r.Timestamp.Unix()))
	return p.Bytes
}

// wellFormed reports whether every required signature field is present.
func (r *SignedRequest) wellFormed() bool {
	return len(r.ClassicalSignature) > 0 &&
		len(r.PQCSignature) > 0 &&
		r.ClassicalKeyID != ids.Empty &&
		r.PQCKeyID != ids.Empty
}
