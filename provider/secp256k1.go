// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package provider

import (
	"bytes"
	"fmt"

	"github.com/luxfi/crypto/secp256k1"
)

var _ Provider = (*secp256k1Provider)(nil)

// secp256k1Provider signs over the secp256k1 curve. Signatures are the
// 65-byte [R || S || V] recoverable form.
type secp256k1Provider struct{}

func NewSecp256k1Provider() Provider {
	return &secp256k1Provider{}
}

func (*secp256k1Provider) Algorithm() Algorithm { return Secp256k1 }
func (*secp256k1Provider) Available() bool      { return true }
func (*secp256k1Provider) PublicKeySize() int   { return secp256k1.PublicKeyLen }
func (*secp256k1Provider) PrivateKeySize() int  { return secp256k1.PrivateKeyLen }
func (*secp256k1Provider) MaxSignatureSize() int {
	return secp256k1.SignatureLen
}
func (*secp256k1Provider) SecurityLevel() int { return 128 }

func (*secp256k1Provider) GenerateKeyPair() ([]byte, []byte, error) {
	key, err := secp256k1.NewPrivateKey()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate secp256k1 key: %w", err)
	}
	return key.PublicKey().Bytes(), key.Bytes(), nil
}

func (p *secp256k1Provider) Sign(message, privateKey []byte) ([]byte, error) {
	if len(privateKey) != p.PrivateKeySize() {
		return nil, fmt.Errorf("%w: secp256k1 private key must be %d bytes, got %d",
			ErrKeySizeMismatch, p.PrivateKeySize(), len(privateKey))
	}
	key, err := secp256k1.ToPrivateKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("invalid secp256k1 private key: %w", err)
	}
	return key.Sign(message)
}

func (p *secp256k1Provider) Verify(message, signature, publicKey []byte) (bool, error) {
	if len(signature) != secp256k1.SignatureLen {
		return false, fmt.Errorf("%w: secp256k1 signature must be %d bytes, got %d",
			ErrSignatureSizeInvalid, secp256k1.SignatureLen, len(signature))
	}
	if len(publicKey) != p.PublicKeySize() {
		return false, fmt.Errorf("%w: secp256k1 public key must be %d bytes, got %d",
			ErrKeySizeMismatch, p.PublicKeySize(), len(publicKey))
	}
	pub, err := secp256k1.ToPublicKey(publicKey)
	if err != nil {
		return false, fmt.Errorf("invalid secp256k1 public key: %w", err)
	}
	// Recover the key from the full [R || S || V] signature and compare,
	// rather than calling pub.Verify: that path checks only R and S, so
	// a corrupted recovery byte would still pass.
	recovered, err := secp256k1.RecoverPublicKey(message, signature)
	if err != nil {
		return false, nil
	}
	return bytes.Equal(recovered.Bytes(), pub.Bytes()), nil
}
