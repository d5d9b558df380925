// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package provider implements the signature algorithm registry for the
// custody core. Every supported scheme sits behind the same Provider
// interface; callers select an algorithm by tag and must check
// availability before routing traffic through it.
package provider

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownAlgorithm     = errors.New("unknown signature algorithm")
	ErrAlgorithmUnavailable = errors.New("signature algorithm unavailable")
	ErrKeySizeMismatch      = errors.New("key size mismatch")
	ErrSignatureSizeInvalid = errors.New("signature size invalid")
)

// Algorithm identifies a signature scheme variant.
type Algorithm string

const (
	Secp256k1 Algorithm = "secp256k1"

	// ML-DSA (Dilithium) lattice family, NIST levels 2/3/5.
	MLDSA44 Algorithm = "ml-dsa-44"
	MLDSA65 Algorithm = "ml-dsa-65"
	MLDSA87 Algorithm = "ml-dsa-87"

	// SLH-DSA (SPHINCS+) stateless hash-based family.
	SLHDSA128f Algorithm = "slh-dsa-128f"

	// Falcon lattice family, declared but not backed by a primitive in
	// this build. The registry reports it unavailable and every
	// operation fails closed.
	Falcon256  Algorithm = "falcon-256"
	Falcon512  Algorithm = "falcon-512"
	Falcon1024 Algorithm = "falcon-1024"
)

// Provider is the capability interface every signature scheme implements.
//
// Sign and Verify validate input sizes up front and fail with a
// descriptive size-mismatch error rather than attempting partial
// operations. Implementations are stateless and safe for concurrent use.
type Provider interface {
	Algorithm() Algorithm

	// Available reports whether the underlying primitive is usable. An
	// unavailable provider fails every operation with
	// ErrAlgorithmUnavailable; it never silently succeeds.
	Available() bool

	PublicKeySize() int
	PrivateKeySize() int

	// MaxSignatureSize is the exact signature size for fixed-length
	// schemes and the upper bound for variable-length ones.
	MaxSignatureSize() int

	// SecurityLevel is the approximate classical security in bits.
	SecurityLevel() int

	GenerateKeyPair() (publicKey, privateKey []byte, err error)
	Sign(message, privateKey []byte) ([]byte, error)
	Verify(message, signature, publicKey []byte) (bool, error)
}

// Registry maps algorithm tags to providers.
type Registry struct {
	providers map[Algorithm]Provider
}

// NewRegistry returns a registry with every known algorithm registered,
// including the unavailable ones so callers can interrogate capability
// instead of discovering a missing primitive at call time.
func NewRegistry() *Registry {
	r := &Registry{providers: make(map[Algorithm]Provider)}
	r.register(NewSecp256k1Provider())
	r.register(NewMLDSAProvider(MLDSA44))
	r.register(NewMLDSAProvider(MLDSA65))
	r.register(NewMLDSAProvider(MLDSA87))
	r.register(NewSLHDSAProvider())
	r.register(NewFalconProvider(Falcon256))
	r.register(NewFalconProvider(Falcon512))
	r.register(NewFalconProvider(Falcon1024))
	return r
}

func (r *Registry) register(p Provider) {
	r.providers[p.Algorithm()] = p
}

// Get returns the provider for alg. It fails if the algorithm is unknown
// or registered but unavailable.
func (r *Registry) Get(alg Algorithm) (Provider, error) {
	p, ok := r.providers[alg]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, alg)
	}
	if !p.Available() {
		return nil, fmt.Errorf("%w: %q", ErrAlgorithmUnavailable, alg)
	}
	return p, nil
}

// Lookup returns the provider for alg regardless of availability, so
// callers can report capability without triggering an error.
func (r *Registry) Lookup(alg Algorithm) (Provider, bool) {
	p, ok := r.providers[alg]
	return p, ok
}

// Available lists the algorithms that are registered and usable.
func (r *Registry) Available() []Algorithm {
	algs := make([]Algorithm, 0, len(r.providers))
	for alg, p := range r.providers {
		if p.Available() {
			algs = append(algs, alg)
		}
	}
	return algs
}
