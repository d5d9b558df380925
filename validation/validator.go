// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package validation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"golang.org/x/sync/errgroup"

	"github.com/luxfi/custody/keymanager"
	"github.com/luxfi/custody/metrics"
	"github.com/luxfi/custody/noncedb"
	"github.com/luxfi/custody/provider"
	"github.com/luxfi/custody/utils/timer/mockable"
)

var (
	ErrMalformedRequest = errors.New("malformed request: missing signature or key id")
	ErrRequestTooOld    = errors.New("request timestamp outside staleness window")
	ErrReplayDetected   = errors.New("replay detected: nonce already seen")
	ErrSignatureInvalid = errors.New("signature verification failed")
)

// maxFutureSkew bounds how far ahead of the local clock a request
// timestamp may sit. Anything beyond ordinary clock drift would let a
// sender pre-date requests past the staleness window.
const maxFutureSkew = 30 * time.Second

// Result reports the outcome of a dual-signature validation. Valid is
// true only when both signatures verify and the nonce was fresh.
type Result struct {
	ClassicalValid bool `json:"isClassicalValid"`
	PQCValid       bool `json:"isPqcValid"`
	Replay         bool `json:"isReplay"`
	Valid          bool `json:"isValid"`
}

// Validator checks dual-signed requests: both the classical and the
// post-quantum signature must verify against their exact key versions,
// and the request nonce must never have been seen before.
type Validator struct {
	log      log.Logger
	keys     *keymanager.Manager
	registry *provider.Registry
	nonces   *noncedb.Tracker
	clock    *mockable.Clock
	maxAge   time.Duration
	metrics  *metrics.Metrics
}

func New(
	logger log.Logger,
	keys *keymanager.Manager,
	registry *provider.Registry,
	nonces *noncedb.Tracker,
	clock *mockable.Clock,
	maxAge time.Duration,
	m *metrics.Metrics,
) *Validator {
	return &Validator{
		log:      logger,
		keys:     keys,
		registry: registry,
		nonces:   nonces,
		clock:    clock,
		maxAge:   maxAge,
		metrics:  m,
	}
}

// ValidateSignatures validates req end to end:
//
//  1. structural checks, rejected locally before any storage access;
//  2. staleness check, before the nonce ledger is consulted;
//  3. key resolution by exact version id;
//  4. both verifications, independent and side-effect free;
//  5. atomic nonce recording, only once both signatures verified — a
//     seen nonce then fails the whole validation.
//
// A Result is returned whenever validation ran to a decision; the error
// carries the failure class for anything that stopped it short.
func (v *Validator) ValidateSignatures(ctx context.Context, req *SignedRequest) (*Result, error) {
	if req == nil || !req.wellFormed() {
		v.markFailed()
		return nil, ErrMalformedRequest
	}

	age := v.clock.Time().Sub(req.Timestamp)
	if age > v.maxAge {
		v.markFailed()
		return nil, fmt.Errorf("%w: age %s exceeds %s", ErrRequestTooOld, age, v.maxAge)
	}
	if age < -maxFutureSkew {
		v.markFailed()
		return nil, fmt.Errorf("%w: timestamp %s ahead of local clock", ErrRequestTooOld, -age)
	}

	classicalKey, classicalProvider, err := v.resolve(req.ClassicalKeyID, req.ClassicalSignature)
	if err != nil {
		v.markFailed()
		return nil, err
	}
	pqcKey, pqcProvider, err := v.resolve(req.PQCKeyID, req.PQCSignature)
	if err != nil {
		v.markFailed()
		return nil, err
	}

	// The signed content is always recomputed from the request fields.
	content := req.CanonicalBytes()

	result := &Result{}
	group, _ := errgroup.WithContext(ctx)
	group.Go(func() error {
		ok, err := classicalProvider.Verify(content, req.ClassicalSignature, classicalKey.PublicKey)
		result.ClassicalValid = ok && err == nil
		if v.metrics != nil {
			v.metrics.ClassicalVerifications.Inc()
		}
		return err
	})
	group.Go(func() error {
		ok, err := pqcProvider.Verify(content, req.PQCSignature, pqcKey.PublicKey)
		result.PQCValid = ok && err == nil
		if v.metrics != nil {
			v.metrics.PQCVerifications.Inc()
		}
		return err
	})
	if err := group.Wait(); err != nil {
		v.markFailed()
		return nil, err
	}

	// The nonce is consumed only by requests whose signatures verify.
	// Anything else could burn a legitimate nonce without holding the
	// keys.
	if result.ClassicalValid && result.PQCValid {
		fresh, err := v.nonces.TryRecordNonce(ctx, req.Origin, req.Nonce)
		if err != nil {
			v.markFailed()
			return nil, err
		}
		if !fresh {
			result.Replay = true
			v.markFailed()
			if v.metrics != nil {
				v.metrics.ReplaysDetected.Inc()
			}
			v.log.Warn("replay detected",
				"requestID", req.ID,
				"origin", req.Origin,
				"nonce", req.Nonce,
			)
			return result, ErrReplayDetected
		}
		result.Valid = true
	}
	if v.metrics != nil {
		if result.Valid {
			v.metrics.ValidationsOK.Inc()
		} else {
			v.metrics.ValidationsFailed.Inc()
		}
	}
	if !result.Valid {
		v.log.Debug("dual signature validation failed",
			"requestID", req.ID,
			"classicalValid", result.ClassicalValid,
			"pqcValid", result.PQCValid,
		)
	}
	return result, nil
}

// resolve looks up a key by exact version id and size-checks the
// signature against the key's algorithm before any crypto runs.
func (v *Validator) resolve(keyID ids.ID, signature []byte) (*keymanager.CryptoKey, provider.Provider, error) {
	key, err := v.keys.GetKey(keyID)
	if err != nil {
		return nil, nil, err
	}
	p, err := v.registry.Get(key.Algorithm)
	if err != nil {
		return nil, nil, err
	}
	if len(signature) > p.MaxSignatureSize() {
		return nil, nil, fmt.Errorf("%w: %s signature of %d bytes exceeds maximum %d",
			provider.ErrSignatureSizeInvalid, key.Algorithm, len(signature), p.MaxSignatureSize())
	}
	return key, p, nil
}

func (v *Validator) markFailed() {
	if v.metrics != nil {
		v.metrics.ValidationsFailed.Inc()
	}
}
