// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package multisig implements M-of-N wallet approval: a transaction
// collects signatures from a wallet's designated signers and becomes
// executable once the threshold is met.
package multisig

import (
	"github.com/luxfi/ids"
	"github.com/luxfi/math/set"

	"github.com/luxfi/custody/utils/wrappers"
)

// Status is the lifecycle state of a multisig transaction.
type Status uint32

const (
	// StatusPending collects approvals below the threshold.
	StatusPending Status = iota
	// StatusReady has met the threshold and may execute.
	StatusReady
	// StatusExecuted is terminal: the transfer happened.
	StatusExecuted
	// StatusRejected is terminal: a signer rejected the transaction.
	StatusRejected
	// StatusExpired is terminal: the transaction aged out.
	StatusExpired
	// StatusFailed is terminal: execution exhausted its retry budget.
	// Distinct from StatusRejected — the signers approved, the
	// execution backend did not cooperate.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusReady:
		return "ready"
	case StatusExecuted:
		return "executed"
	case StatusRejected:
		return "rejected"
	case StatusExpired:
		return "expired"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusExecuted, StatusRejected, StatusExpired, StatusFailed:
		return true
	default:
		return false
	}
}

// Wallet is an M-of-N signer group. The signer set is immutable after
// creation; rotating membership means creating a new wallet.
type Wallet struct {
	ID        ids.ID        `serialize:"true" json:"id"`
	Signers   []ids.ShortID `serialize:"true" json:"signers"`
	Threshold uint32        `serialize:"true" json:"threshold"`
	Network   string        `serialize:"true" json:"network"`
	CreatedAt int64         `serialize:"true" json:"createdAt"`

	// memberSet is rebuilt from Signers on load.
	memberSet set.Set[ids.ShortID]
}

func (w *Wallet) buildMemberSet() {
	w.memberSet = set.NewSet[ids.ShortID](len(w.Signers))
	for _, signer := range w.Signers {
		w.memberSet.Add(signer)
	}
}

// IsSigner reports wallet membership.
func (w *Wallet) IsSigner(signer ids.ShortID) bool {
	return w.memberSet.Contains(signer)
}

// Approval is one signer's recorded signature over a transaction's
// canonical content. KeyID pins the exact key version used, so the
// approval stays verifiable after the signer rotates keys.
type Approval struct {
	Signer    ids.ShortID `serialize:"true" json:"signer"`
	KeyID     ids.ID      `serialize:"true" json:"keyId"`
	Signature []byte      `serialize:"true" json:"signature"`
}

// Transaction is a transfer pending multisig authorization.
type Transaction struct {
	ID          ids.ID     `serialize:"true" json:"id"`
	WalletID    ids.ID     `serialize:"true" json:"walletId"`
	Destination string     `serialize:"true" json:"destination"`
	Amount      uint64     `serialize:"true" json:"amount"`
	Currency    string     `serialize:"true" json:"currency"`
	Approvals   []Approval `serialize:"true" json:"approvals"`
	Status      Status     `serialize:"true" json:"status"`
	CreatedAt   int64      `serialize:"true" json:"createdAt"`
	ExecutedAt  int64      `serialize:"true" json:"executedAt"`
	// ExecutionHash is the external transfer hash recorded on success.
	ExecutionHash ids.ID `serialize:"true" json:"executionHash"`
	Retries       uint32 `serialize:"true" json:"retries"`
}

// CanonicalBytes is the deterministic content each approval signature
// must cover: (id, wallet, destination, amount, currency).
func (tx *Transaction) CanonicalBytes() []byte {
	size := 2*ids.IDLen +
		wrappers.ShortLen + len(tx.Destination) +
		wrappers.LongLen +
		wrappers.ShortLen + len(tx.Currency)
	p := wrappers.Packer{
		MaxSize: size,
		Bytes:   make([]byte, 0, size),
	}
	p.PackFixedBytes(tx.ID[:])
	p.PackFixedBytes(tx.WalletID[:])
	p.PackStr(tx.Destination)
	p.PackLong(tx.Amount)
	p.PackStr(tx.Currency)
	return p.Bytes
}

// approvalFrom returns the recorded approval for signer, if any.
func (tx *Transaction) approvalFrom(signer ids.ShortID) (*Approval, bool) {
	for i := range tx.Approvals {
		if tx.Approvals[i].Signer == signer {
			return &tx.Approvals[i], true
		}
	}
	return nil, false
}
