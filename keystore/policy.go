// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package keystore

import (
	"time"

	"github.com/luxfi/log"
	"github.com/luxfi/metric"
)

// Sensitivity grades how much protection a key category needs.
type Sensitivity int

const (
	// SensitivityCritical keys route to the local encrypted store
	// first, mirrored to the remote tier. The zero value, so unmapped
	// categories get the stronger protection.
	SensitivityCritical Sensitivity = iota
	// SensitivityStandard keys route to the remote tier first, with the
	// local encrypted store as fallback.
	SensitivityStandard
)

// Policy maps key categories to sensitivities. Categories without an
// entry are treated as critical; over-protecting an unknown category is
// the safe default.
type Policy map[string]Sensitivity

// Router selects a hybrid route per key category. Both routes share the
// same two backends, swapped: what is primary for critical material is
// the mirror for standard material.
type Router struct {
	policy   Policy
	critical *Hybrid
	standard *Hybrid
}

func NewRouter(
	logger log.Logger,
	policy Policy,
	local Backend,
	remote Backend,
	timeout time.Duration,
	degraded metric.Counter,
) *Router {
	return &Router{
		policy:   policy,
		critical: NewHybrid(logger, local, remote, timeout, degraded),
		standard: NewHybrid(logger, remote, local, timeout, degraded),
	}
}

// Route returns the hybrid store for the given key category.
func (r *Router) Route(category string) *Hybrid {
	if r.policy[category] == SensitivityStandard {
		return r.standard
	}
	return r.critical
}

// Close drains in-flight mirror writes on both routes.
func (r *Router) Close() {
	r.critical.Close()
	r.standard.Close()
}
