// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package noncedb is the replay-protection ledger: an atomic
// check-and-insert store of (address, nonce) pairs with TTL eviction.
package noncedb

import (
	"context"
	"encoding/binary"
	"sync"
	"sync/atomic"
	"time"

	"github.com/luxfi/database"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/custody/utils/timer/mockable"
)

const nonceKeyLen = ids.ShortIDLen + 8

// Tracker records nonces with check-and-set semantics. A given
// (address, nonce) pair is recorded at most once; under concurrency
// exactly one caller wins.
type Tracker struct {
	log           log.Logger
	db            database.Database
	clock         *mockable.Clock
	ttl           time.Duration
	sweepInterval time.Duration

	// mu makes the has-then-put pair a single atomic operation, the
	// in-process equivalent of a cache's SETNX.
	mu sync.Mutex

	started  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func New(
	logger log.Logger,
	db database.Database,
	clock *mockable.Clock,
	ttl time.Duration,
	sweepInterval time.Duration,
) *Tracker {
	return &Tracker{
		log:           logger,
		db:            db,
		clock:         clock,
		ttl:           ttl,
		sweepInterval: sweepInterval,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// TryRecordNonce records (address, nonce) if unseen. It returns true if
// the pair was newly recorded and false if it was already present — a
// replay. The check and the insert are one atomic step; a canceled
// context never leaves a partial record.
func (t *Tracker) TryRecordNonce(ctx context.Context, address ids.ShortID, nonce uint64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	key := nonceKey(address, nonce)

	t.mu.Lock()
	defer t.mu.Unlock()

	seen, err := t.db.Has(key)
	if err != nil {
		return false, err
	}
	if seen {
		return false, nil
	}

	firstSeen := make([]byte, 8)
	binary.BigEndian.PutUint64(firstSeen, uint64(t.clock.Time().UnixNano()))
	if err := t.db.Put(key, firstSeen); err != nil {
		return false, err
	}
	return true, nil
}

// Start launches the TTL eviction sweep. Calling it twice is a no-op.
func (t *Tracker) Start() {
	if !t.started.CompareAndSwap(false, true) {
		return
	}
	go t.sweepLoop()
}

// Stop halts the sweep and waits for it to exit. Safe to call twice,
// and safe when Start never ran.
func (t *Tracker) Stop() {
	t.stopOnce.Do(func() {
		close(t.stop)
		if t.started.Load() {
			<-t.done
		}
	})
}

func (t *Tracker) sweepLoop() {
	defer close(t.done)

	ticker := time.NewTicker(t.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := t.sweep(); err != nil {
				t.log.Warn("nonce sweep failed", "error", err)
			}
		case <-t.stop:
			return
		}
	}
}

// sweep deletes records older than the TTL. Requests older than the
// staleness window are rejected upstream before the nonce check, so an
// eviction racing a late replay attempt is harmless.
func (t *Tracker) sweep() error {
	cutoff := uint64(t.clock.Time().Add(-t.ttl).UnixNano())

	var evictable [][]byte
	iter := t.db.NewIterator()
	for iter.Next() {
		value := iter.Value()
		if len(value) != 8 {
			continue
		}
		if binary.BigEndian.Uint64(value) < cutoff {
			key := make([]byte, len(iter.Key()))
			copy(key, iter.Key())
			evictable = append(evictable, key)
		}
	}
	err := iter.Error()
	iter.Release()
	if err != nil {
		return err
	}

	if len(evictable) == 0 {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, key := range evictable {
		if err := t.db.Delete(key); err != nil {
			return err
		}
	}
	t.log.Debug("evicted expired nonces", "count", len(evictable))
	return nil
}

func nonceKey(address ids.ShortID, nonce uint64) []byte {
	key := make([]byte, nonceKeyLen)
	copy(key, address[:])
	binary.BigEndian.PutUint64(key[ids.ShortIDLen:], nonce)
	return key
}
