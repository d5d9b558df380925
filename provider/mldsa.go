// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package provider

import (
	"crypto/rand"
	"fmt"

	"github.com/luxfi/crypto/mldsa"
)

// mldsaParams fixes the parameter set of an ML-DSA (Dilithium) level.
// K and L are the matrix dimensions of the level; the classical size
// formulas are publicKey = 32*(K+L), privateKey = 32*(2L+K) and
// signature = 32 + 32*(L+K) in field elements, which expand to the NIST
// encodings below once coefficient packing is applied.
type mldsaParams struct {
	mode           mldsa.Mode
	nistLevel      int
	k, l           int
	publicKeySize  int
	privateKeySize int
	signatureSize  int
	securityLevel  int
}

var mldsaParamSets = map[Algorithm]mldsaParams{
	MLDSA44: {
		mode:           mldsa.MLDSA44,
		nistLevel:      2,
		k:              4,
		l:              4,
		publicKeySize:  1312,
		privateKeySize: 2560,
		signatureSize:  2420,
		securityLevel:  128,
	},
	MLDSA65: {
		mode:           mldsa.MLDSA65,
		nistLevel:      3,
		k:              6,
		l:              5,
		publicKeySize:  1952,
		privateKeySize: 4032,
		signatureSize:  3309,
		securityLevel:  192,
	},
	MLDSA87: {
		mode:           mldsa.MLDSA87,
		nistLevel:      5,
		k:              8,
		l:              7,
		publicKeySize:  2592,
		privateKeySize: 4896,
		signatureSize:  4627,
		securityLevel:  256,
	},
}

var _ Provider = (*mldsaProvider)(nil)

// mldsaProvider signs with the ML-DSA lattice scheme. The private key
// encoding carries the constituent vectors (rho, key seed, tr, s1, s2,
// t0); the signer decodes them before invoking the lattice primitive,
// and verification reconstructs (rho, t1) from the public key encoding.
type mldsaProvider struct {
	alg    Algorithm
	params mldsaParams
}

func NewMLDSAProvider(alg Algorithm) Provider {
	params, ok := mldsaParamSets[alg]
	if !ok {
		// Unknown level: registry construction is static, so this is a
		// programming error rather than input validation.
		panic(fmt.Sprintf("no ML-DSA parameter set for %q", alg))
	}
	return &mldsaProvider{alg: alg, params: params}
}

func (p *mldsaProvider) Algorithm() Algorithm  { return p.alg }
func (*mldsaProvider) Available() bool         { return true }
func (p *mldsaProvider) PublicKeySize() int    { return p.params.publicKeySize }
func (p *mldsaProvider) PrivateKeySize() int   { return p.params.privateKeySize }
func (p *mldsaProvider) MaxSignatureSize() int { return p.params.signatureSize }
func (p *mldsaProvider) SecurityLevel() int    { return p.params.securityLevel }

func (p *mldsaProvider) GenerateKeyPair() ([]byte, []byte, error) {
	priv, err := mldsa.GenerateKey(rand.Reader, p.params.mode)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate ML-DSA key: %w", err)
	}
	return priv.PublicKey.Bytes(), priv.Bytes(), nil
}

func (p *mldsaProvider) Sign(message, privateKey []byte) ([]byte, error) {
	if len(privateKey) != p.params.privateKeySize {
		return nil, fmt.Errorf("%w: %s private key must be %d bytes, got %d",
			ErrKeySizeMismatch, p.alg, p.params.privateKeySize, len(privateKey))
	}
	priv, err := mldsa.PrivateKeyFromBytes(p.params.mode, privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to restore ML-DSA key: %w", err)
	}
	sig, err := priv.Sign(rand.Reader, message, nil)
	if err != nil {
		return nil, fmt.Errorf("ML-DSA signing failed: %w", err)
	}
	return sig, nil
}

func (p *mldsaProvider) Verify(message, signature, publicKey []byte) (bool, error) {
	if len(signature) > p.params.signatureSize {
		return false, fmt.Errorf("%w: %s signature must be at most %d bytes, got %d",
			ErrSignatureSizeInvalid, p.alg, p.params.signatureSize, len(signature))
	}
	if len(publicKey) != p.params.publicKeySize {
		return false, fmt.Errorf("%w: %s public key must be %d bytes, got %d",
			ErrKeySizeMismatch, p.alg, p.params.publicKeySize, len(publicKey))
	}
	pub, err := mldsa.PublicKeyFromBytes(publicKey, p.params.mode)
	if err != nil {
		return false, fmt.Errorf("invalid ML-DSA public key: %w", err)
	}
	return pub.VerifySignature(message, signature), nil
}
