// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/rpc/v2"
	"github.com/spf13/cobra"

	"github.com/luxfi/database"
	"github.com/luxfi/database/badgerdb"
	"github.com/luxfi/database/memdb"
	"github.com/luxfi/log"
	"github.com/luxfi/metric"
	"github.com/luxfi/utils/json"

	"github.com/luxfi/custody"
	"github.com/luxfi/custody/api"
	"github.com/luxfi/custody/config"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := command().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func command() *cobra.Command {
	var (
		configPath string
		dbDir      string
		masterKey  string
	)

	cmd := &cobra.Command{
		Use:   "custodyd",
		Short: "Runs the custody signature and key management service",
		RunE: func(*cobra.Command, []string) error {
			return run(configPath, dbDir, masterKey)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to a JSON config file")
	cmd.Flags().StringVar(&dbDir, "db-dir", "", "database directory; in-memory when empty")
	cmd.Flags().StringVar(&masterKey, "master-key", "", "hex-encoded 32-byte vault master key; ephemeral when empty")
	return cmd
}

func run(configPath, dbDir, masterKeyHex string) error {
	logger := log.NewLogger("custodyd")

	var configBytes []byte
	if configPath != "" {
		var err error
		configBytes, err = os.ReadFile(configPath)
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}
	cfg, err := config.ParseConfig(configBytes)
	if err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	var db database.Database
	if dbDir == "" {
		logger.Warn("no database directory configured, state is in-memory only")
		db = memdb.New()
	} else {
		db, err = badgerdb.New(dbDir, nil, "", nil)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
	}
	defer db.Close()

	var masterKey []byte
	if masterKeyHex == "" {
		logger.Warn("no master key configured, vault contents will not survive a restart")
		masterKey = make([]byte, 32)
		if _, err := rand.Read(masterKey); err != nil {
			return fmt.Errorf("failed to generate master key: %w", err)
		}
	} else {
		masterKey, err = hex.DecodeString(masterKeyHex)
		if err != nil {
			return fmt.Errorf("invalid master key: %w", err)
		}
	}

	core, err := custody.New(cfg, logger, db, metric.NewRegistry(), nil, masterKey)
	if err != nil {
		return fmt.Errorf("failed to assemble custody core: %w", err)
	}
	core.Start()
	defer core.Stop()

	rpcServer := rpc.NewServer()
	rpcServer.RegisterCodec(json.NewCodec(), "application/json")
	rpcServer.RegisterCodec(json.NewCodec(), "application/json;charset=UTF-8")
	service := api.NewService(logger, core.Keys, core.Validator, core.Multisig)
	if err := rpcServer.RegisterService(service, "custody"); err != nil {
		return fmt.Errorf("failed to register RPC service: %w", err)
	}

	router := mux.NewRouter()
	router.Handle("/ext/custody", rpcServer)

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	errs := make(chan error, 1)
	go func() {
		logger.Info("serving custody RPC", "addr", cfg.ListenAddr)
		errs <- srv.ListenAndServe()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errs:
		return err
	case sig := <-sigs:
		logger.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(ctx)
}
