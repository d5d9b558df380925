// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package multisig

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/luxfi/database"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/custody/keymanager"
	"github.com/luxfi/custody/metrics"
	"github.com/luxfi/custody/provider"
	"github.com/luxfi/custody/utils/timer/mockable"
)

var (
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrInvalidThreshold    = errors.New("threshold must be between 1 and the signer count")
	ErrDuplicateSigner     = errors.New("duplicate signer in wallet")
	ErrNotSigner           = errors.New("approval from non-signer")
	ErrApprovalConflict    = errors.New("signer already approved with a different signature")
	ErrApprovalInvalid     = errors.New("approval signature verification failed")
	ErrNotReady            = errors.New("transaction has not met its approval threshold")
	ErrFinalized           = errors.New("transaction is in a terminal state")
	ErrExecutorUnavailable = errors.New("no execution backend configured")
)

var (
	walletPrefix = []byte("wallet:")
	txPrefix     = []byte("tx:")
)

// Executor moves funds once a transaction is Ready. It is an external
// collaborator; the service only records the resulting hash.
type Executor interface {
	Execute(ctx context.Context, tx *Transaction) (ids.ID, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, tx *Transaction) (ids.ID, error)

func (f ExecutorFunc) Execute(ctx context.Context, tx *Transaction) (ids.ID, error) {
	return f(ctx, tx)
}

// Service owns MultisigWallet and MultisigTransaction state. It
// references keys by id only; key custody stays with the key manager.
//
// Transactions are updated copy-on-write: each mutation builds a new
// record, persists it, and swaps the map pointer under the write lock.
// Readers holding the read lock therefore always see a complete record.
type Service struct {
	log      log.Logger
	db       database.Database
	keys     *keymanager.Manager
	registry *provider.Registry
	clock    *mockable.Clock
	metrics  *metrics.Metrics
	executor Executor

	maxRetries    uint32
	txTTL         time.Duration
	sweepInterval time.Duration

	mu      sync.RWMutex
	wallets map[ids.ID]*Wallet
	txs     map[ids.ID]*Transaction

	// txLocks serializes approval and execution per transaction so the
	// threshold check never under- or over-counts. Contention is scoped
	// to the single transaction being mutated.
	txLockMu sync.Mutex
	txLocks  map[ids.ID]*sync.Mutex

	started  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func NewService(
	logger log.Logger,
	db database.Database,
	keys *keymanager.Manager,
	registry *provider.Registry,
	clock *mockable.Clock,
	m *metrics.Metrics,
	executor Executor,
	maxRetries int,
	txTTL time.Duration,
	sweepInterval time.Duration,
) (*Service, error) {
	s := &Service{
		log:           logger,
		db:            db,
		keys:          keys,
		registry:      registry,
		clock:         clock,
		metrics:       m,
		executor:      executor,
		maxRetries:    uint32(maxRetries),
		txTTL:         txTTL,
		sweepInterval: sweepInterval,
		wallets:       make(map[ids.ID]*Wallet),
		txs:           make(map[ids.ID]*Transaction),
		txLocks:       make(map[ids.ID]*sync.Mutex),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	if err := s.load(); err != nil {
		return nil, fmt.Errorf("failed to load multisig state: %w", err)
	}
	return s, nil
}

// CreateWallet registers a new M-of-N signer group.
func (s *Service) CreateWallet(signers []ids.ShortID, threshold uint32, network string) (*Wallet, error) {
	if threshold < 1 || int(threshold) > len(signers) {
		return nil, fmt.Errorf("%w: threshold %d, signers %d", ErrInvalidThreshold, threshold, len(signers))
	}
	seen := make(map[ids.ShortID]struct{}, len(signers))
	for _, signer := range signers {
		if _, ok := seen[signer]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateSigner, signer)
		}
		seen[signer] = struct{}{}
	}

	walletID, err := randomID()
	if err != nil {
		return nil, err
	}
	wallet := &Wallet{
		ID:        walletID,
		Signers:   append([]ids.ShortID(nil), signers...),
		Threshold: threshold,
		Network:   network,
		CreatedAt: s.clock.Time().Unix(),
	}
	wallet.buildMemberSet()

	if err := s.persistWallet(wallet); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.wallets[walletID] = wallet
	s.mu.Unlock()

	s.log.Info("created multisig wallet",
		"walletID", walletID,
		"signers", len(signers),
		"threshold", threshold,
		"network", network,
	)
	return wallet, nil
}

// GetWallet returns a wallet by id.
func (s *Service) GetWallet(walletID ids.ID) (*Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wallet, ok := s.wallets[walletID]
	if !ok {
		return nil, ErrWalletNotFound
	}
	return wallet, nil
}

// Submit opens a new transaction on a wallet, initially Pending with no
// approvals.
func (s *Service) Submit(walletID ids.ID, destination string, amount uint64, currency string) (ids.ID, error) {
	if _, err := s.GetWallet(walletID); err != nil {
		return ids.Empty, err
	}

	txID, err := randomID()
	if err != nil {
		return ids.Empty, err
	}
	tx := &Transaction{
		ID:          txID,
		WalletID:    walletID,
		Destination: destination,
		Amount:      amount,
		Currency:    currency,
		Status:      StatusPending,
		CreatedAt:   s.clock.Time().Unix(),
	}

	if err := s.persistTx(tx); err != nil {
		return ids.Empty, err
	}
	s.mu.Lock()
	s.txs[txID] = tx
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.MultisigSubmitted.Inc()
	}
	s.log.Info("submitted multisig transaction",
		"txID", txID,
		"walletID", walletID,
		"amount", amount,
		"currency", currency,
	)
	return txID, nil
}

// Approve records signer's signature over the transaction's canonical
// content. The signature is verified against the signer's current
// signing-root key before anything mutates. A duplicate identical
// approval is a no-op; a conflicting signature from the same signer is
// rejected. Crossing the threshold transitions the transaction to
// Ready.
func (s *Service) Approve(ctx context.Context, txID ids.ID, signer ids.ShortID, signature []byte) (Status, error) {
	lock := s.txLock(txID)
	lock.Lock()
	defer lock.Unlock()

	tx, err := s.getTx(txID)
	if err != nil {
		return 0, err
	}
	if tx.Status.Terminal() {
		return tx.Status, fmt.Errorf("%w: %s is %s", ErrFinalized, txID, tx.Status)
	}

	wallet, err := s.GetWallet(tx.WalletID)
	if err != nil {
		return 0, err
	}
	// A non-member approval never mutates transaction state.
	if !wallet.IsSigner(signer) {
		return tx.Status, fmt.Errorf("%w: %s is not in wallet %s", ErrNotSigner, signer, wallet.ID)
	}

	if existing, ok := tx.approvalFrom(signer); ok {
		if bytes.Equal(existing.Signature, signature) {
			return tx.Status, nil
		}
		return tx.Status, fmt.Errorf("%w: %s", ErrApprovalConflict, signer)
	}

	key, err := s.keys.GetCurrentKey(signer, keymanager.CategorySigningRoot)
	if err != nil {
		return 0, fmt.Errorf("no registered key for signer %s: %w", signer, err)
	}
	p, err := s.registry.Get(key.Algorithm)
	if err != nil {
		return 0, err
	}
	ok, err := p.Verify(tx.CanonicalBytes(), signature, key.PublicKey)
	if err != nil {
		return 0, err
	}
	if !ok {
		return tx.Status, fmt.Errorf("%w: signer %s", ErrApprovalInvalid, signer)
	}

	updated := *tx
	updated.Approvals = append(append([]Approval(nil), tx.Approvals...), Approval{
		Signer:    signer,
		KeyID:     key.ID,
		Signature: append([]byte(nil), signature...),
	})
	if uint32(len(updated.Approvals)) >= wallet.Threshold && updated.Status == StatusPending {
		updated.Status = StatusReady
	}
	if err := s.swapTx(&updated); err != nil {
		return 0, err
	}

	if s.metrics != nil {
		s.metrics.MultisigApproved.Inc()
	}
	s.log.Info("recorded multisig approval",
		"txID", txID,
		"signer", signer,
		"approvals", len(updated.Approvals),
		"threshold", wallet.Threshold,
		"status", updated.Status,
	)
	return updated.Status, nil
}

// Reject finalizes a transaction as rejected by one of its signers.
func (s *Service) Reject(txID ids.ID, signer ids.ShortID) error {
	lock := s.txLock(txID)
	lock.Lock()
	defer lock.Unlock()

	tx, err := s.getTx(txID)
	if err != nil {
		return err
	}
	if tx.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrFinalized, txID, tx.Status)
	}
	wallet, err := s.GetWallet(tx.WalletID)
	if err != nil {
		return err
	}
	if !wallet.IsSigner(signer) {
		return fmt.Errorf("%w: %s is not in wallet %s", ErrNotSigner, signer, wallet.ID)
	}

	updated := *tx
	updated.Status = StatusRejected
	if err := s.swapTx(&updated); err != nil {
		return err
	}
	s.log.Info("rejected multisig transaction", "txID", txID, "signer", signer)
	return nil
}

// Execute performs the transfer for a Ready transaction through the
// execution collaborator and records the resulting hash. A failed
// execution keeps the transaction Ready and consumes one retry;
// exhausting the retry budget finalizes it as Failed.
func (s *Service) Execute(ctx context.Context, txID ids.ID) (*Transaction, error) {
	lock := s.txLock(txID)
	lock.Lock()
	defer lock.Unlock()

	tx, err := s.getTx(txID)
	if err != nil {
		return nil, err
	}
	switch {
	case tx.Status == StatusReady:
	case tx.Status.Terminal():
		return nil, fmt.Errorf("%w: %s is %s", ErrFinalized, txID, tx.Status)
	default:
		return nil, fmt.Errorf("%w: %s has %d approvals", ErrNotReady, txID, len(tx.Approvals))
	}

	if s.executor == nil {
		return nil, ErrExecutorUnavailable
	}

	updated := *tx
	hash, execErr := s.executor.Execute(ctx, &updated)
	if execErr != nil {
		updated.Retries = tx.Retries + 1
		if updated.Retries > s.maxRetries {
			updated.Status = StatusFailed
			if s.metrics != nil {
				s.metrics.MultisigFailed.Inc()
			}
			s.log.Error("multisig execution retries exhausted",
				"txID", txID,
				"retries", updated.Retries,
				"error", execErr,
			)
		} else {
			s.log.Warn("multisig execution failed, transaction stays ready",
				"txID", txID,
				"retries", updated.Retries,
				"error", execErr,
			)
		}
		if err := s.swapTx(&updated); err != nil {
			return nil, errors.Join(execErr, err)
		}
		return nil, execErr
	}

	updated.Status = StatusExecuted
	updated.ExecutionHash = hash
	updated.ExecutedAt = s.clock.Time().Unix()
	if err := s.swapTx(&updated); err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.MultisigExecuted.Inc()
	}
	s.log.Info("executed multisig transaction",
		"txID", txID,
		"hash", hash,
	)
	cp := updated
	return &cp, nil
}

// GetTransaction returns a copy of a transaction.
func (s *Service) GetTransaction(txID ids.ID) (*Transaction, error) {
	tx, err := s.getTx(txID)
	if err != nil {
		return nil, err
	}
	cp := *tx
	cp.Approvals = append([]Approval(nil), tx.Approvals...)
	return &cp, nil
}

// GetTransactionStatus returns the current lifecycle state.
func (s *Service) GetTransactionStatus(txID ids.ID) (Status, error) {
	tx, err := s.getTx(txID)
	if err != nil {
		return 0, err
	}
	return tx.Status, nil
}

// Start launches the expiration sweep. Calling it twice is a no-op.
func (s *Service) Start() {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	go s.sweepLoop()
}

// Stop halts the sweep. Safe to call twice, and safe when Start never
// ran.
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
		if s.started.Load() {
			<-s.done
		}
	})
}

func (s *Service) sweepLoop() {
	defer close(s.done)

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.ExpireStale()
		case <-s.stop:
			return
		}
	}
}

// ExpireStale finalizes every Pending or Ready transaction older than
// the configured TTL as Expired.
func (s *Service) ExpireStale() {
	cutoff := s.clock.Time().Add(-s.txTTL).Unix()

	s.mu.RLock()
	var stale []ids.ID
	for txID, tx := range s.txs {
		if !tx.Status.Terminal() && tx.CreatedAt < cutoff {
			stale = append(stale, txID)
		}
	}
	s.mu.RUnlock()

	for _, txID := range stale {
		lock := s.txLock(txID)
		lock.Lock()
		tx, err := s.getTx(txID)
		if err == nil && !tx.Status.Terminal() && tx.CreatedAt < cutoff {
			updated := *tx
			updated.Status = StatusExpired
			if err := s.swapTx(&updated); err != nil {
				s.log.Warn("failed to persist expired transaction", "txID", txID, "error", err)
			} else {
				if s.metrics != nil {
					s.metrics.MultisigExpired.Inc()
				}
				s.log.Info("expired multisig transaction", "txID", txID)
			}
		}
		lock.Unlock()
	}
}

func (s *Service) txLock(txID ids.ID) *sync.Mutex {
	s.txLockMu.Lock()
	defer s.txLockMu.Unlock()

	lock, ok := s.txLocks[txID]
	if !ok {
		lock = &sync.Mutex{}
		s.txLocks[txID] = lock
	}
	return lock
}

func (s *Service) getTx(txID ids.ID) (*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.txs[txID]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	return tx, nil
}

// swapTx persists the updated record, then publishes it. Callers hold
// the per-transaction lock.
func (s *Service) swapTx(tx *Transaction) error {
	if err := s.persistTx(tx); err != nil {
		return err
	}
	s.mu.Lock()
	s.txs[tx.ID] = tx
	s.mu.Unlock()
	return nil
}

func (s *Service) persistWallet(wallet *Wallet) error {
	b, err := Codec.Marshal(CodecVersion, wallet)
	if err != nil {
		return err
	}
	return s.db.Put(append(walletPrefix, wallet.ID[:]...), b)
}

func (s *Service) persistTx(tx *Transaction) error {
	b, err := Codec.Marshal(CodecVersion, tx)
	if err != nil {
		return err
	}
	return s.db.Put(append(txPrefix, tx.ID[:]...), b)
}

func (s *Service) load() error {
	walletIter := s.db.NewIteratorWithPrefix(walletPrefix)
	for walletIter.Next() {
		wallet := &Wallet{}
		if _, err := Codec.Unmarshal(walletIter.Value(), wallet); err != nil {
			s.log.Warn("skipping undecodable wallet record", "error", err)
			continue
		}
		wallet.buildMemberSet()
		s.wallets[wallet.ID] = wallet
	}
	err := walletIter.Error()
	walletIter.Release()
	if err != nil {
		return err
	}

	txIter := s.db.NewIteratorWithPrefix(txPrefix)
	defer txIter.Release()
	for txIter.Next() {
		tx := &Transaction{}
		if _, err := Codec.Unmarshal(txIter.Value(), tx); err != nil {
			s.log.Warn("skipping undecodable transaction record", "error", err)
			continue
		}
		s.txs[tx.ID] = tx
	}
	return txIter.Error()
}

func randomID() (ids.ID, error) {
	idBytes := make([]byte, ids.IDLen)
	if _, err := rand.Read(idBytes); err != nil {
		return ids.Empty, fmt.Errorf("failed to generate id: %w", err)
	}
	return ids.ToID(idBytes)
}
