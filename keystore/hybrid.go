// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package keystore

import (
	"context"
	"sync"
	"time"

	"github.com/luxfi/log"
	"github.com/luxfi/metric"
)

// Hybrid routes raw key material across a primary and a secondary
// backend. Writes land on the primary synchronously and are mirrored to
// the secondary asynchronously; reads try the primary first and fall
// back to the secondary, logging a storage-degradation event. A
// successful Store therefore implies the material is durably retrievable
// from at least one backend before the call returns.
type Hybrid struct {
	log       log.Logger
	primary   Backend
	secondary Backend
	timeout   time.Duration
	degraded  metric.Counter

	// mirrors tracks in-flight async mirror writes so Close can drain
	// them instead of dropping durability work on shutdown.
	mirrors sync.WaitGroup
}

func NewHybrid(
	logger log.Logger,
	primary Backend,
	secondary Backend,
	timeout time.Duration,
	degraded metric.Counter,
) *Hybrid {
	return &Hybrid{
		log:       logger,
		primary:   primary,
		secondary: secondary,
		timeout:   timeout,
		degraded:  degraded,
	}
}

// Store persists material under handle. The primary write is
// synchronous; if it fails the secondary is tried synchronously instead,
// so success always means one durable copy exists. The mirror copy is
// written in the background.
func (h *Hybrid) Store(ctx context.Context, handle Handle, material []byte) error {
	primaryCtx, cancel := context.WithTimeout(ctx, h.timeout)
	err := h.primary.Put(primaryCtx, handle, material)
	cancel()

	if err != nil {
		h.noteDegradation("write", h.primary.Name(), err)

		secondaryCtx, cancel := context.WithTimeout(ctx, h.timeout)
		defer cancel()
		if secondaryErr := h.secondary.Put(secondaryCtx, handle, material); secondaryErr != nil {
			h.log.Error("key material write failed on all backends",
				"handle", handle,
				"primaryError", err,
				"secondaryError", secondaryErr,
			)
			return ErrStorageUnavailable
		}
		return nil
	}

	mirror := make([]byte, len(material))
	copy(mirror, material)
	h.mirrors.Add(1)
	go func() {
		defer h.mirrors.Done()
		defer zero(mirror)
		mirrorCtx, cancel := context.WithTimeout(context.Background(), h.timeout)
		defer cancel()
		if err := h.secondary.Put(mirrorCtx, handle, mirror); err != nil {
			h.log.Warn("key material mirror failed",
				"handle", handle,
				"backend", h.secondary.Name(),
				"error", err,
			)
		}
	}()
	return nil
}

// WithKeyMaterial resolves handle and passes the raw bytes to fn. The
// buffer is zeroed on every exit path; fn must not retain it.
func (h *Hybrid) WithKeyMaterial(ctx context.Context, handle Handle, fn func(material []byte) error) error {
	material, err := h.fetch(ctx, handle)
	if err != nil {
		return err
	}
	defer zero(material)
	return fn(material)
}

// Has reports whether any backend holds material for handle.
func (h *Hybrid) Has(ctx context.Context, handle Handle) (bool, error) {
	primaryCtx, cancel := context.WithTimeout(ctx, h.timeout)
	ok, err := h.primary.Has(primaryCtx, handle)
	cancel()
	if err == nil && ok {
		return true, nil
	}

	secondaryCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	return h.secondary.Has(secondaryCtx, handle)
}

// Delete removes material from both backends. The first error is
// returned but both deletes are attempted.
func (h *Hybrid) Delete(ctx context.Context, handle Handle) error {
	primaryCtx, cancel := context.WithTimeout(ctx, h.timeout)
	primaryErr := h.primary.Delete(primaryCtx, handle)
	cancel()

	secondaryCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	secondaryErr := h.secondary.Delete(secondaryCtx, handle)

	if primaryErr != nil {
		return primaryErr
	}
	return secondaryErr
}

// Close drains in-flight mirror writes.
func (h *Hybrid) Close() {
	h.mirrors.Wait()
}

func (h *Hybrid) fetch(ctx context.Context, handle Handle) ([]byte, error) {
	primaryCtx, cancel := context.WithTimeout(ctx, h.timeout)
	material, err := h.primary.Get(primaryCtx, handle)
	cancel()
	if err == nil {
		return material, nil
	}

	h.noteDegradation("read", h.primary.Name(), err)

	secondaryCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	material, secondaryErr := h.secondary.Get(secondaryCtx, handle)
	if secondaryErr == nil {
		return material, nil
	}
	if secondaryErr == ErrMaterialNotFound && err == ErrMaterialNotFound {
		return nil, ErrMaterialNotFound
	}
	h.log.Error("key material read failed on all backends",
		"handle", handle,
		"primaryError", err,
		"secondaryError", secondaryErr,
	)
	return nil, ErrStorageUnavailable
}

func (h *Hybrid) noteDegradation(op, backend string, err error) {
	if err == ErrMaterialNotFound {
		return
	}
	h.log.Warn("storage degraded, falling back to secondary",
		"op", op,
		"backend", backend,
		"error", err,
	)
	if h.degraded != nil {
		h.degraded.Inc()
	}
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
