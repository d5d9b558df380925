// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrInvalidNonceTTL    = errors.New("invalid nonce TTL configuration")
	ErrInvalidRequestAge  = errors.New("invalid request age configuration")
	ErrInvalidRetryBound  = errors.New("invalid execution retry configuration")
	ErrInvalidAlgorithm   = errors.New("invalid algorithm configuration")
	ErrInvalidCacheSize   = errors.New("invalid cache size configuration")
	ErrInvalidSweepPeriod = errors.New("invalid sweep interval configuration")
)

// Config holds configuration for the custody core.
type Config struct {
	// Default algorithms for newly provisioned dual-signature key pairs.
	ClassicalAlgorithm   string `json:"classicalAlgorithm"`   // Default: secp256k1
	PostQuantumAlgorithm string `json:"postQuantumAlgorithm"` // Default: ml-dsa-65

	// Replay protection. A request older than MaxRequestAge is rejected
	// before the nonce check runs; recorded nonces are evictable after
	// NonceTTL, which must therefore not be shorter than MaxRequestAge.
	NonceTTL           time.Duration `json:"nonceTtl"`           // Default: 15m
	MaxRequestAge      time.Duration `json:"maxRequestAge"`      // Default: 5m
	NonceSweepInterval time.Duration `json:"nonceSweepInterval"` // Default: 1m

	// Key storage.
	StorageTimeout     time.Duration `json:"storageTimeout"`     // Per backend call. Default: 2s
	PublicKeyCacheSize int           `json:"publicKeyCacheSize"` // Default: 2048

	// Multisig lifecycle.
	TransactionTTL      time.Duration `json:"transactionTtl"`      // Default: 24h
	ExpirySweepInterval time.Duration `json:"expirySweepInterval"` // Default: 5m
	MaxExecutionRetries int           `json:"maxExecutionRetries"` // Default: 3

	// API surface.
	ListenAddr string `json:"listenAddr"` // Default: :9650
}

// DefaultConfig returns a config with default values.
func DefaultConfig() Config {
	return Config{
		ClassicalAlgorithm:   "secp256k1",
		PostQuantumAlgorithm: "ml-dsa-65",
		NonceTTL:             15 * time.Minute,
		MaxRequestAge:        5 * time.Minute,
		NonceSweepInterval:   time.Minute,
		StorageTimeout:       2 * time.Second,
		PublicKeyCacheSize:   2048,
		TransactionTTL:       24 * time.Hour,
		ExpirySweepInterval:  5 * time.Minute,
		MaxExecutionRetries:  3,
		ListenAddr:           ":9650",
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.ClassicalAlgorithm == "" || c.PostQuantumAlgorithm == "" {
		return ErrInvalidAlgorithm
	}
	if c.NonceTTL <= 0 {
		return ErrInvalidNonceTTL
	}
	if c.MaxRequestAge <= 0 || c.MaxRequestAge > c.NonceTTL {
		return ErrInvalidRequestAge
	}
	if c.NonceSweepInterval <= 0 || c.ExpirySweepInterval <= 0 {
		return ErrInvalidSweepPeriod
	}
	if c.MaxExecutionRetries < 0 {
		return ErrInvalidRetryBound
	}
	if c.PublicKeyCacheSize <= 0 {
		return ErrInvalidCacheSize
	}
	if c.StorageTimeout <= 0 {
		c.StorageTimeout = 2 * time.Second
	}
	if c.TransactionTTL <= 0 {
		c.TransactionTTL = 24 * time.Hour
	}
	return nil
}

// ParseConfig parses configuration from JSON bytes, falling back to
// defaults for anything unset.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if len(data) == 0 {
		return cfg, nil
	}

	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}
