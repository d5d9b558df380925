// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package metrics

import (
	"errors"

	"github.com/luxfi/metric"
)

// Metrics counts custody core operations. Counters are created against
// the supplied registerer and shared across components.
type Metrics struct {
	ValidationsOK     metric.Counter
	ValidationsFailed metric.Counter
	ReplaysDetected   metric.Counter

	ClassicalVerifications metric.Counter
	PQCVerifications       metric.Counter

	KeysGenerated       metric.Counter
	KeysRotated         metric.Counter
	StorageDegradations metric.Counter

	MultisigSubmitted metric.Counter
	MultisigApproved  metric.Counter
	MultisigExecuted  metric.Counter
	MultisigExpired   metric.Counter
	MultisigFailed    metric.Counter
}

func New(registerer metric.Registerer) (*Metrics, error) {
	if _, ok := registerer.(metric.Registry); !ok {
		return nil, errors.New("registerer must implement metric.Registry")
	}

	m := &Metrics{
		ValidationsOK: metric.NewCounter(metric.CounterOpts{
			Name: "validations_ok",
			Help: "Number of dual-signature validations that passed",
		}),
		ValidationsFailed: metric.NewCounter(metric.CounterOpts{
			Name: "validations_failed",
			Help: "Number of dual-signature validations that failed",
		}),
		ReplaysDetected: metric.NewCounter(metric.CounterOpts{
			Name: "replays_detected",
			Help: "Number of requests rejected because the nonce was already seen",
		}),
		ClassicalVerifications: metric.NewCounter(metric.CounterOpts{
			Name: "classical_verifications",
			Help: "Number of classical signature verifications performed",
		}),
		PQCVerifications: metric.NewCounter(metric.CounterOpts{
			Name: "pqc_verifications",
			Help: "Number of post-quantum signature verifications performed",
		}),
		KeysGenerated: metric.NewCounter(metric.CounterOpts{
			Name: "keys_generated",
			Help: "Number of key pairs generated",
		}),
		KeysRotated: metric.NewCounter(metric.CounterOpts{
			Name: "keys_rotated",
			Help: "Number of key rotations performed",
		}),
		StorageDegradations: metric.NewCounter(metric.CounterOpts{
			Name: "storage_degradations",
			Help: "Number of key storage operations that fell back to the secondary backend",
		}),
		MultisigSubmitted: metric.NewCounter(metric.CounterOpts{
			Name: "multisig_submitted",
			Help: "Number of multisig transactions submitted",
		}),
		MultisigApproved: metric.NewCounter(metric.CounterOpts{
			Name: "multisig_approved",
			Help: "Number of multisig approvals recorded",
		}),
		MultisigExecuted: metric.NewCounter(metric.CounterOpts{
			Name: "multisig_executed",
			Help: "Number of multisig transactions executed",
		}),
		MultisigExpired: metric.NewCounter(metric.CounterOpts{
			Name: "multisig_expired",
			Help: "Number of multisig transactions expired by the sweep",
		}),
		MultisigFailed: metric.NewCounter(metric.CounterOpts{
			Name: "multisig_failed",
			Help: "Number of multisig transactions that exhausted execution retries",
		}),
	}
	// Counters are self-registering when created with NewCounter.
	return m, nil
}

// NewNoOp returns metrics wired to a throwaway registry, for tests.
func NewNoOp() *Metrics {
	m, _ := New(metric.NewNoOp().Registry())
	return m
}
