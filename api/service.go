// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package api exposes the custody core over JSON-RPC.
package api

import (
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/custody/keymanager"
	"github.com/luxfi/custody/multisig"
	"github.com/luxfi/custody/provider"
	"github.com/luxfi/custody/validation"
)

// Service provides the custody RPC service.
type Service struct {
	log       log.Logger
	keys      *keymanager.Manager
	validator *validation.Validator
	wallets   *multisig.Service
}

func NewService(
	logger log.Logger,
	keys *keymanager.Manager,
	validator *validation.Validator,
	wallets *multisig.Service,
) *Service {
	return &Service{
		log:       logger,
		keys:      keys,
		validator: validator,
		wallets:   wallets,
	}
}

// ValidateSignaturesArgs are the arguments for ValidateSignatures. Byte
// fields are hex encoded.
type ValidateSignaturesArgs struct {
	RequestID          string `json:"requestId"`
	Origin             string `json:"origin"`
	RequestType        uint32 `json:"requestType"`
	Payload            string `json:"payload"`
	ClassicalSignature string `json:"classicalSignature"`
	ClassicalKeyID     string `json:"classicalKeyId"`
	PQCSignature       string `json:"pqcSignature"`
	PQCKeyID           string `json:"pqcKeyId"`
	Timestamp          int64  `json:"timestamp"`
	Nonce              uint64 `json:"nonce"`
}

// ValidateSignaturesReply is the reply for ValidateSignatures.
type ValidateSignaturesReply struct {
	ClassicalValid bool `json:"isClassicalValid"`
	PQCValid       bool `json:"isPqcValid"`
	Replay         bool `json:"isReplay"`
	Valid          bool `json:"isValid"`
}

// ValidateSignatures checks both signatures of a dual-signed request
// and records its nonce.
func (s *Service) ValidateSignatures(r *http.Request, args *ValidateSignaturesArgs, reply *ValidateSignaturesReply) error {
	requestID, err := ids.FromString(args.RequestID)
	if err != nil {
		return fmt.Errorf("invalid request ID: %w", err)
	}
	origin, err := ids.ShortFromString(args.Origin)
	if err != nil {
		return fmt.Errorf("invalid origin: %w", err)
	}
	classicalKeyID, err := ids.FromString(args.ClassicalKeyID)
	if err != nil {
		return fmt.Errorf("invalid classical key ID: %w", err)
	}
	pqcKeyID, err := ids.FromString(args.PQCKeyID)
	if err != nil {
		return fmt.Errorf("invalid post-quantum key ID: %w", err)
	}
	payload, err := hex.DecodeString(args.Payload)
	if err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	classicalSig, err := hex.DecodeString(args.ClassicalSignature)
	if err != nil {
		return fmt.Errorf("invalid classical signature: %w", err)
	}
	pqcSig, err := hex.DecodeString(args.PQCSignature)
	if err != nil {
		return fmt.Errorf("invalid post-quantum signature: %w", err)
	}

	result, err := s.validator.ValidateSignatures(r.Context(), &validation.SignedRequest{
		ID:                 requestID,
		Origin:             origin,
		RequestType:        args.RequestType,
		Payload:            payload,
		ClassicalSignature: classicalSig,
		ClassicalKeyID:     classicalKeyID,
		PQCSignature:       pqcSig,
		PQCKeyID:           pqcKeyID,
		Timestamp:          time.Unix(args.Timestamp, 0),
		Nonce:              args.Nonce,
	})
	if result != nil {
		reply.ClassicalValid = result.ClassicalValid
		reply.PQCValid = result.PQCValid
		reply.Replay = result.Replay
		reply.Valid = result.Valid
	}
	// A replay is reported through the reply, not as a transport error.
	if err != nil && result == nil {
		return err
	}
	return nil
}

// GenerateKeyPairArgs are the arguments for GenerateKeyPair.
type GenerateKeyPairArgs struct {
	Owner     string `json:"owner"`
	Algorithm string `json:"algorithm"`
	Category  string `json:"category"`
}

// GenerateKeyPairReply is the reply for GenerateKeyPair.
type GenerateKeyPairReply struct {
	KeyID     string `json:"keyId"`
	PublicKey string `json:"publicKey"`
	Version   uint64 `json:"version"`
}

// GenerateKeyPair creates version 1 of a key pair for an owner and
// category.
func (s *Service) GenerateKeyPair(r *http.Request, args *GenerateKeyPairArgs, reply *GenerateKeyPairReply) error {
	owner, err := ids.ShortFromString(args.Owner)
	if err != nil {
		return fmt.Errorf("invalid owner: %w", err)
	}

	keyID, err := s.keys.GenerateKeyPair(
		r.Context(),
		owner,
		provider.Algorithm(args.Algorithm),
		keymanager.Category(args.Category),
	)
	if err != nil {
		return err
	}
	key, err := s.keys.GetKey(keyID)
	if err != nil {
		return err
	}

	reply.KeyID = keyID.String()
	reply.PublicKey = fmt.Sprintf("%x", key.PublicKey)
	reply.Version = key.Version
	return nil
}

// RotateKeysArgs are the arguments for RotateKeys.
type RotateKeysArgs struct {
	Owner    string `json:"owner"`
	Category string `json:"category"`
}

// RotateKeysReply is the reply for RotateKeys.
type RotateKeysReply struct {
	KeyID     string `json:"keyId"`
	PublicKey string `json:"publicKey"`
	Version   uint64 `json:"version"`
}

// RotateKeys advances a key pair to the next version.
func (s *Service) RotateKeys(r *http.Request, args *RotateKeysArgs, reply *RotateKeysReply) error {
	owner, err := ids.ShortFromString(args.Owner)
	if err != nil {
		return fmt.Errorf("invalid owner: %w", err)
	}

	keyID, err := s.keys.RotateKeys(r.Context(), owner, keymanager.Category(args.Category))
	if err != nil {
		return err
	}
	key, err := s.keys.GetKey(keyID)
	if err != nil {
		return err
	}

	reply.KeyID = keyID.String()
	reply.PublicKey = fmt.Sprintf("%x", key.PublicKey)
	reply.Version = key.Version
	return nil
}

// GetPublicKeyArgs are the arguments for GetPublicKey.
type GetPublicKeyArgs struct {
	KeyID string `json:"keyId"`
}

// GetPublicKeyReply is the reply for GetPublicKey.
type GetPublicKeyReply struct {
	PublicKey string `json:"publicKey"`
	Algorithm string `json:"algorithm"`
	Version   uint64 `json:"version"`
	Revoked   bool   `json:"revoked"`
}

// GetPublicKey returns the public half of a key version.
func (s *Service) GetPublicKey(r *http.Request, args *GetPublicKeyArgs, reply *GetPublicKeyReply) error {
	keyID, err := ids.FromString(args.KeyID)
	if err != nil {
		return fmt.Errorf("invalid key ID: %w", err)
	}

	key, err := s.keys.GetKey(keyID)
	if err != nil {
		return err
	}

	reply.PublicKey = fmt.Sprintf("%x", key.PublicKey)
	reply.Algorithm = string(key.Algorithm)
	reply.Version = key.Version
	reply.Revoked = key.Revoked
	return nil
}

// RevokeKeyArgs are the arguments for RevokeKey.
type RevokeKeyArgs struct {
	KeyID string `json:"keyId"`
}

// RevokeKeyReply is the reply for RevokeKey.
type RevokeKeyReply struct {
	Revoked bool `json:"revoked"`
}

// RevokeKey marks a key version revoked.
func (s *Service) RevokeKey(r *http.Request, args *RevokeKeyArgs, reply *RevokeKeyReply) error {
	keyID, err := ids.FromString(args.KeyID)
	if err != nil {
		return fmt.Errorf("invalid key ID: %w", err)
	}
	if err := s.keys.RevokeKey(r.Context(), keyID); err != nil {
		return err
	}
	reply.Revoked = true
	return nil
}

// CreateWalletArgs are the arguments for CreateWallet.
type CreateWalletArgs struct {
	Signers   []string `json:"signers"`
	Threshold uint32   `json:"threshold"`
	Network   string   `json:"network"`
}

// CreateWalletReply is the reply for CreateWallet.
type CreateWalletReply struct {
	WalletID string `json:"walletId"`
}

// CreateWallet registers an M-of-N signer group.
func (s *Service) CreateWallet(r *http.Request, args *CreateWalletArgs, reply *CreateWalletReply) error {
	signers := make([]ids.ShortID, len(args.Signers))
	for i, raw := range args.Signers {
		signer, err := ids.ShortFromString(raw)
		if err != nil {
			return fmt.Errorf("invalid signer %q: %w", raw, err)
		}
		signers[i] = signer
	}

	wallet, err := s.wallets.CreateWallet(signers, args.Threshold, args.Network)
	if err != nil {
		return err
	}
	reply.WalletID = wallet.ID.String()
	return nil
}

// SubmitTransactionArgs are the arguments for SubmitTransaction.
type SubmitTransactionArgs struct {
	WalletID    string `json:"walletId"`
	Destination string `json:"destination"`
	Amount      uint64 `json:"amount"`
	Currency    string `json:"currency"`
}

// SubmitTransactionReply is the reply for SubmitTransaction.
type SubmitTransactionReply struct {
	TxID   string `json:"txId"`
	Status string `json:"status"`
}

// SubmitTransaction opens a multisig transaction on a wallet.
func (s *Service) SubmitTransaction(r *http.Request, args *SubmitTransactionArgs, reply *SubmitTransactionReply) error {
	walletID, err := ids.FromString(args.WalletID)
	if err != nil {
		return fmt.Errorf("invalid wallet ID: %w", err)
	}

	txID, err := s.wallets.Submit(walletID, args.Destination, args.Amount, args.Currency)
	if err != nil {
		return err
	}
	reply.TxID = txID.String()
	reply.Status = multisig.StatusPending.String()
	return nil
}

// ApproveTransactionArgs are the arguments for ApproveTransaction.
type ApproveTransactionArgs struct {
	TxID      string `json:"txId"`
	Signer    string `json:"signer"`
	Signature string `json:"signature"`
}

// ApproveTransactionReply is the reply for ApproveTransaction.
type ApproveTransactionReply struct {
	Status string `json:"status"`
}

// ApproveTransaction records one signer's approval signature.
func (s *Service) ApproveTransaction(r *http.Request, args *ApproveTransactionArgs, reply *ApproveTransactionReply) error {
	txID, err := ids.FromString(args.TxID)
	if err != nil {
		return fmt.Errorf("invalid transaction ID: %w", err)
	}
	signer, err := ids.ShortFromString(args.Signer)
	if err != nil {
		return fmt.Errorf("invalid signer: %w", err)
	}
	signature, err := hex.DecodeString(args.Signature)
	if err != nil {
		return fmt.Errorf("invalid signature: %w", err)
	}

	status, err := s.wallets.Approve(r.Context(), txID, signer, signature)
	if err != nil {
		return err
	}
	reply.Status = status.String()
	return nil
}

// RejectTransactionArgs are the arguments for RejectTransaction.
type RejectTransactionArgs struct {
	TxID   string `json:"txId"`
	Signer string `json:"signer"`
}

// RejectTransactionReply is the reply for RejectTransaction.
type RejectTransactionReply struct {
	Status string `json:"status"`
}

// RejectTransaction finalizes a transaction as rejected.
func (s *Service) RejectTransaction(r *http.Request, args *RejectTransactionArgs, reply *RejectTransactionReply) error {
	txID, err := ids.FromString(args.TxID)
	if err != nil {
		return fmt.Errorf("invalid transaction ID: %w", err)
	}
	signer, err := ids.ShortFromString(args.Signer)
	if err != nil {
		return fmt.Errorf("invalid signer: %w", err)
	}

	if err := s.wallets.Reject(txID, signer); err != nil {
		return err
	}
	reply.Status = multisig.StatusRejected.String()
	return nil
}

// ExecuteTransactionArgs are the arguments for ExecuteTransaction.
type ExecuteTransactionArgs struct {
	TxID string `json:"txId"`
}

// ExecuteTransactionReply is the reply for ExecuteTransaction.
type ExecuteTransactionReply struct {
	Status        string `json:"status"`
	ExecutionHash string `json:"executionHash"`
	ExecutedAt    int64  `json:"executedAt"`
}

// ExecuteTransaction performs the transfer for a Ready transaction.
func (s *Service) ExecuteTransaction(r *http.Request, args *ExecuteTransactionArgs, reply *ExecuteTransactionReply) error {
	txID, err := ids.FromString(args.TxID)
	if err != nil {
		return fmt.Errorf("invalid transaction ID: %w", err)
	}

	tx, err := s.wallets.Execute(r.Context(), txID)
	if err != nil {
		return err
	}
	reply.Status = tx.Status.String()
	reply.ExecutionHash = tx.ExecutionHash.String()
	reply.ExecutedAt = tx.ExecutedAt
	return nil
}

// GetTransactionArgs are the arguments for GetTransaction.
type GetTransactionArgs struct {
	TxID string `json:"txId"`
}

// GetTransactionReply is the reply for GetTransaction.
type GetTransactionReply struct {
	WalletID      string `json:"walletId"`
	Destination   string `json:"destination"`
	Amount        uint64 `json:"amount"`
	Currency      string `json:"currency"`
	Approvals     int    `json:"approvals"`
	Status        string `json:"status"`
	CreatedAt     int64  `json:"createdAt"`
	ExecutedAt    int64  `json:"executedAt"`
	ExecutionHash string `json:"executionHash"`
	Retries       uint32 `json:"retries"`
}

// GetTransaction returns a transaction's full state.
func (s *Service) GetTransaction(r *http.Request, args *GetTransactionArgs, reply *GetTransactionReply) error {
	txID, err := ids.FromString(args.TxID)
	if err != nil {
		return fmt.Errorf("invalid transaction ID: %w", err)
	}

	tx, err := s.wallets.GetTransaction(txID)
	if err != nil {
		return err
	}
	reply.WalletID = tx.WalletID.String()
	reply.Destination = tx.Destination
	reply.Amount = tx.Amount
	reply.Currency = tx.Currency
	reply.Approvals = len(tx.Approvals)
	reply.Status = tx.Status.String()
	reply.CreatedAt = tx.CreatedAt
	reply.ExecutedAt = tx.ExecutedAt
	reply.ExecutionHash = tx.ExecutionHash.String()
	reply.Retries = tx.Retries
	return nil
}

// GetTransactionStatusArgs are the arguments for GetTransactionStatus.
type GetTransactionStatusArgs struct {
	TxID string `json:"txId"`
}

// GetTransactionStatusReply is the reply for GetTransactionStatus.
type GetTransactionStatusReply struct {
	Status string `json:"status"`
}

// GetTransactionStatus returns a transaction's lifecycle state.
func (s *Service) GetTransactionStatus(r *http.Request, args *GetTransactionStatusArgs, reply *GetTransactionStatusReply) error {
	txID, err := ids.FromString(args.TxID)
	if err != nil {
		return fmt.Errorf("invalid transaction ID: %w", err)
	}

	status, err := s.wallets.GetTransactionStatus(txID)
	if err != nil {
		return err
	}
	reply.Status = status.String()
	return nil
}

// HealthArgs are the arguments for Health.
type HealthArgs struct{}

// HealthReply is the reply for Health.
type HealthReply struct {
	Healthy bool `json:"healthy"`
}

// Health reports service liveness.
func (s *Service) Health(r *http.Request, args *HealthArgs, reply *HealthReply) error {
	reply.Healthy = true
	return nil
}
