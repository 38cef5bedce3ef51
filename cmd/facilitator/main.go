// The facilitator binary: a stateless payment service that verifies
// EIP-3009 transfer authorizations and settles them on-chain with its own
// gas-paying hot wallet.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/gluenet/agentmesh/facilitator"
	"github.com/gluenet/agentmesh/ledger"
)

func main() {
	_ = godotenv.Load()

	log, err := zap.NewProduction()
	if err != nil {
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	if err := run(log); err != nil {
		log.Fatal("facilitator failed", zap.Error(err))
	}
}

func run(log *zap.Logger) error {
	cfg := facilitator.FromEnv()
	if err := cfg.Validate(); err != nil {
		return err
	}
	kinds, err := facilitator.LoadKinds(cfg.KindsFile)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return err
	}
	defer backend.Close()

	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return err
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKeyHex, "0x"))
	if err != nil {
		return err
	}
	wallet, err := facilitator.NewHotWallet(backend, key, chainID, log)
	if err != nil {
		return err
	}
	log.Info("hot wallet ready",
		zap.String("address", wallet.Address().Hex()),
		zap.String("chainId", chainID.String()))

	registry := facilitator.NewRegistry()
	for _, kind := range kinds {
		token, err := ledger.NewTokenView(backend, common.HexToAddress(kind.Asset), log)
		if err != nil {
			return err
		}
		settler, err := facilitator.NewEIP3009Settler(kind, chainID, token, wallet)
		if err != nil {
			return err
		}
		registry.Register(settler)
		log.Info("kind registered",
			zap.String("symbol", kind.Symbol),
			zap.String("network", kind.Network),
			zap.String("asset", kind.Asset))
	}

	service := facilitator.NewService(registry, chainID.Uint64(), log)
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           service.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()
	log.Info("listening", zap.String("addr", server.Addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		log.Info("shut down cleanly")
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
