// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package provider

import "fmt"

// falconParams fixes the parameter set of a Falcon tree height. N is
// 2^height; the maximum signature size is (N*bits)/8 + nonceLen + 2 for
// the variable-length compressed encoding.
type falconParams struct {
	height         int
	n              int
	bits           int
	publicKeySize  int
	privateKeySize int
	securityLevel  int
}

const falconNonceLen = 40

var falconParamSets = map[Algorithm]falconParams{
	Falcon256:  {height: 8, n: 256, bits: 8, publicKeySize: 449, privateKeySize: 641, securityLevel: 123},
	Falcon512:  {height: 9, n: 512, bits: 8, publicKeySize: 897, privateKeySize: 1281, securityLevel: 147},
	Falcon1024: {height: 10, n: 1024, bits: 8, publicKeySize: 1793, privateKeySize: 2305, securityLevel: 172},
}

var _ Provider = (*falconProvider)(nil)

// falconProvider declares the Falcon lattice family without a backing
// primitive. No audited Falcon implementation is linked into this build,
// so the provider registers as unavailable and fails closed: every
// operation returns ErrAlgorithmUnavailable. Callers that want a working
// hash-based scheme should select SLH-DSA instead.
type falconProvider struct {
	alg    Algorithm
	params falconParams
}

func NewFalconProvider(alg Algorithm) Provider {
	params, ok := falconParamSets[alg]
	if !ok {
		panic(fmt.Sprintf("no Falcon parameter set for %q", alg))
	}
	return &falconProvider{alg: alg, params: params}
}

func (p *falconProvider) Algorithm() Algorithm { return p.alg }
func (*falconProvider) Available() bool        { return false }
func (p *falconProvider) PublicKeySize() int   { return p.params.publicKeySize }
func (p *falconProvider) PrivateKeySize() int  { return p.params.privateKeySize }
func (p *falconProvider) MaxSignatureSize() int {
	return (p.params.n*p.params.bits)/8 + falconNonceLen + 2
}
func (p *falconProvider) SecurityLevel() int { return p.params.securityLevel }

func (p *falconProvider) GenerateKeyPair() ([]byte, []byte, error) {
	return nil, nil, fmt.Errorf("%w: %s", ErrAlgorithmUnavailable, p.alg)
}

func (p *falconProvider) Sign([]byte, []byte) ([]byte, error) {
	return nil, fmt.Errorf("%w: %s", ErrAlgorithmUnavailable, p.alg)
}

func (p *falconProvider) Verify([]byte, []byte, []byte) (bool, error) {
	return false, fmt.Errorf("%w: %s", ErrAlgorithmUnavailable, p.alg)
}
