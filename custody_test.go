// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package custody

import (
	"context"
	"crypto/rand"
	"testing"
	"time"

	"github.com/luxfi/database/memdb"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/metric"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/custody/config"
	"github.com/luxfi/custody/keymanager"
	"github.com/luxfi/custody/multisig"
	"github.com/luxfi/custody/provider"
	"github.com/luxfi/custody/validation"
)

func newTestCore(t *testing.T, executor multisig.Executor) *Core {
	t.Helper()
	require := require.New(t)

	masterKey := make([]byte, 32)
	_, err := rand.Read(masterKey)
	require.NoError(err)

	core, err := New(
		config.DefaultConfig(),
		log.NoLog{},
		memdb.New(),
		metric.NewRegistry(),
		executor,
		masterKey,
	)
	require.NoError(err)

	core.Start()
	t.Cleanup(core.Stop)
	return core
}

func TestCoreRejectsInvalidConfig(t *testing.T) {
	require := require.New(t)

	cfg := config.DefaultConfig()
	cfg.NonceTTL = 0
	_, err := New(cfg, log.NoLog{}, memdb.New(), metric.NewRegistry(), nil, make([]byte, 32))
	require.ErrorIs(err, config.ErrInvalidNonceTTL)
}

func TestCoreEndToEnd(t *testing.T) {
	require := require.New(t)

	executionHash := ids.GenerateTestID()
	core := newTestCore(t, multisig.ExecutorFunc(func(context.Context, *multisig.Transaction) (ids.ID, error) {
		return executionHash, nil
	}))
	ctx := context.Background()

	// Provision a dual-signature identity.
	owner := ids.GenerateTestShortID()
	classicalID, err := core.Keys.GenerateKeyPair(ctx, owner, provider.Secp256k1, keymanager.CategorySigningRoot)
	require.NoError(err)
	pqcID, err := core.Keys.GenerateKeyPair(ctx, owner, provider.MLDSA65, keymanager.CategoryDelegation)
	require.NoError(err)

	req := &validation.SignedRequest{
		ID:             ids.GenerateTestID(),
		Origin:         owner,
		RequestType:    1,
		Payload:        []byte(`{"op":"transfer"}`),
		ClassicalKeyID: classicalID,
		PQCKeyID:       pqcID,
		Timestamp:      time.Now(),
		Nonce:          1,
	}
	content := req.CanonicalBytes()
	req.ClassicalSignature, err = core.Keys.Sign(ctx, classicalID, content)
	require.NoError(err)
	req.PQCSignature, err = core.Keys.Sign(ctx, pqcID, content)
	require.NoError(err)

	result, err := core.Validator.ValidateSignatures(ctx, req)
	require.NoError(err)
	require.True(result.Valid)

	// Resubmission is a replay.
	result, err = core.Validator.ValidateSignatures(ctx, req)
	require.ErrorIs(err, validation.ErrReplayDetected)
	require.True(result.Replay)

	// Drive a 2-of-3 wallet through its whole lifecycle.
	signers := make([]ids.ShortID, 3)
	for i := range signers {
		signers[i] = ids.GenerateTestShortID()
		_, err := core.Keys.GenerateKeyPair(ctx, signers[i], provider.Secp256k1, keymanager.CategorySigningRoot)
		require.NoError(err)
	}
	wallet, err := core.Multisig.CreateWallet(signers, 2, "mainnet")
	require.NoError(err)
	txID, err := core.Multisig.Submit(wallet.ID, "0xdeadbeef", 500, "USD")
	require.NoError(err)

	tx, err := core.Multisig.GetTransaction(txID)
	require.NoError(err)
	for i, expected := range []multisig.Status{multisig.StatusPending, multisig.StatusReady} {
		keyID, err := core.Keys.GetLatestKeyPair(signers[i], keymanager.CategorySigningRoot)
		require.NoError(err)
		sig, err := core.Keys.Sign(ctx, keyID, tx.CanonicalBytes())
		require.NoError(err)

		status, err := core.Multisig.Approve(ctx, txID, signers[i], sig)
		require.NoError(err)
		require.Equal(expected, status)
	}

	executed, err := core.Multisig.Execute(ctx, txID)
	require.NoError(err)
	require.Equal(multisig.StatusExecuted, executed.Status)
	require.Equal(executionHash, executed.ExecutionHash)
}
