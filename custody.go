// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package custody wires the signature validation, key lifecycle, key
// storage, replay protection, and multisig components into one core.
package custody

import (
	"github.com/luxfi/database"
	"github.com/luxfi/database/prefixdb"
	"github.com/luxfi/log"
	"github.com/luxfi/metric"

	"github.com/luxfi/custody/config"
	"github.com/luxfi/custody/keymanager"
	"github.com/luxfi/custody/keystore"
	"github.com/luxfi/custody/metrics"
	"github.com/luxfi/custody/multisig"
	"github.com/luxfi/custody/noncedb"
	"github.com/luxfi/custody/provider"
	"github.com/luxfi/custody/utils/timer/mockable"
	"github.com/luxfi/custody/validation"
)

// Database namespaces. Every component gets its own prefix of the
// shared database.
var (
	keyMetaPrefix  = []byte("keymeta")
	vaultPrefix    = []byte("vault")
	mirrorPrefix   = []byte("mirror")
	noncePrefix    = []byte("nonce")
	multisigPrefix = []byte("multisig")
)

// Core is the assembled custody service.
type Core struct {
	Config    config.Config
	Registry  *provider.Registry
	Keys      *keymanager.Manager
	Nonces    *noncedb.Tracker
	Validator *validation.Validator
	Multisig  *multisig.Service
	Metrics   *metrics.Metrics

	store *keystore.Router
}

// New assembles a Core on top of a single backing database. The vault
// namespace holds encrypted private key material under masterKey; the
// mirror namespace is the secondary storage tier. executor may be nil,
// in which case multisig execution reports the backend unavailable.
func New(
	cfg config.Config,
	logger log.Logger,
	db database.Database,
	registerer metric.Registerer,
	executor multisig.Executor,
	masterKey []byte,
) (*Core, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m, err := metrics.New(registerer)
	if err != nil {
		return nil, err
	}

	clock := &mockable.Clock{}
	registry := provider.NewRegistry()

	vault, err := keystore.NewEncryptedBackend("vault", prefixdb.New(vaultPrefix, db), masterKey)
	if err != nil {
		return nil, err
	}
	mirror := keystore.NewDatabaseBackend("mirror", prefixdb.New(mirrorPrefix, db))
	store := keystore.NewRouter(
		logger,
		keymanager.DefaultStoragePolicy(),
		vault,
		mirror,
		cfg.StorageTimeout,
		m.StorageDegradations,
	)

	keys, err := keymanager.New(
		logger,
		prefixdb.New(keyMetaPrefix, db),
		store,
		registry,
		clock,
		m,
		cfg.PublicKeyCacheSize,
	)
	if err != nil {
		return nil, err
	}

	nonces := noncedb.New(
		logger,
		prefixdb.New(noncePrefix, db),
		clock,
		cfg.NonceTTL,
		cfg.NonceSweepInterval,
	)

	validator := validation.New(
		logger,
		keys,
		registry,
		nonces,
		clock,
		cfg.MaxRequestAge,
		m,
	)

	wallets, err := multisig.NewService(
		logger,
		prefixdb.New(multisigPrefix, db),
		keys,
		registry,
		clock,
		m,
		executor,
		cfg.MaxExecutionRetries,
		cfg.TransactionTTL,
		cfg.ExpirySweepInterval,
	)
	if err != nil {
		return nil, err
	}

	return &Core{
		Config:    cfg,
		Registry:  registry,
		Keys:      keys,
		Nonces:    nonces,
		Validator: validator,
		Multisig:  wallets,
		Metrics:   m,
		store:     store,
	}, nil
}

// Start launches the background sweeps.
func (c *Core) Start() {
	c.Nonces.Start()
	c.Multisig.Start()
}

// Stop halts the sweeps and drains pending storage mirror writes.
func (c *Core) Stop() {
	c.Multisig.Stop()
	c.Nonces.Stop()
	c.store.Close()
}
