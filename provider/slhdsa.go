// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package provider

import (
	"crypto/rand"
	"fmt"

	"github.com/luxfi/crypto/slhdsa"
)

// SLH-DSA-SHA2-128f parameter sizes.
const (
	slhdsaPublicKeySize  = 32
	slhdsaPrivateKeySize = 64
	slhdsaSignatureSize  = 17088
)

var _ Provider = (*slhdsaProvider)(nil)

// slhdsaProvider signs with the SLH-DSA (SPHINCS+) stateless hash-based
// tree scheme. Unlike the lattice families its security rests only on
// hash function assumptions, which makes it the conservative fallback
// among the post-quantum variants.
type slhdsaProvider struct{}

func NewSLHDSAProvider() Provider {
	return &slhdsaProvider{}
}

func (*slhdsaProvider) Algorithm() Algorithm  { return SLHDSA128f }
func (*slhdsaProvider) Available() bool       { return true }
func (*slhdsaProvider) PublicKeySize() int    { return slhdsaPublicKeySize }
func (*slhdsaProvider) PrivateKeySize() int   { return slhdsaPrivateKeySize }
func (*slhdsaProvider) MaxSignatureSize() int { return slhdsaSignatureSize }
func (*slhdsaProvider) SecurityLevel() int    { return 128 }

func (*slhdsaProvider) GenerateKeyPair() ([]byte, []byte, error) {
	priv, err := slhdsa.GenerateKey(rand.Reader, slhdsa.SHA2_128f)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate SLH-DSA key: %w", err)
	}
	return priv.PublicKey.Bytes(), priv.Bytes(), nil
}

func (p *slhdsaProvider) Sign(message, privateKey []byte) ([]byte, error) {
	if len(privateKey) != slhdsaPrivateKeySize {
		return nil, fmt.Errorf("%w: SLH-DSA private key must be %d bytes, got %d",
			ErrKeySizeMismatch, slhdsaPrivateKeySize, len(privateKey))
	}
	priv, err := slhdsa.PrivateKeyFromBytes(slhdsa.SHA2_128f, privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to restore SLH-DSA key: %w", err)
	}
	sig, err := priv.Sign(rand.Reader, message, nil)
	if err != nil {
		return nil, fmt.Errorf("SLH-DSA signing failed: %w", err)
	}
	return sig, nil
}

func (p *slhdsaProvider) Verify(message, signature, publicKey []byte) (bool, error) {
	if len(signature) > slhdsaSignatureSize {
		return false, fmt.Errorf("%w: SLH-DSA signature must be at most %d bytes, got %d",
			ErrSignatureSizeInvalid, slhdsaSignatureSize, len(signature))
	}
	if len(publicKey) != slhdsaPublicKeySize {
		return false, fmt.Errorf("%w: SLH-DSA public key must be %d bytes, got %d",
			ErrKeySizeMismatch, slhdsaPublicKeySize, len(publicKey))
	}
	pub, err := slhdsa.PublicKeyFromBytes(publicKey, slhdsa.SHA2_128f)
	if err != nil {
		return false, fmt.Errorf("invalid SLH-DSA public key: %w", err)
	}
	return pub.Verify(message, signature, nil), nil
}
