// Command posnode runs the consensus/mempool/pending-block node: it
// parses flags, builds a NodeConfig, opens the store, starts the
// mining-loop and GC cooperative tasks, serves /metrics, and blocks
// until an interrupt signal triggers a graceful shutdown.
//
// Follows a layered constructor-then-Start(ctx) idiom: every component
// is built once here and handed a context it owns for its lifetime.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/nodeforge/posnode/internal/assembler"
	"github.com/nodeforge/posnode/internal/config"
	"github.com/nodeforge/posnode/internal/cryptoutil"
	"github.com/nodeforge/posnode/internal/metrics"
	"github.com/nodeforge/posnode/internal/node"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "posnode:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		network     = flag.String("network", "testnet", "network profile: testnet or mainnet")
		dataDir     = flag.String("data-dir", "./data", "on-disk data directory")
		metricsAddr = flag.String("metrics-addr", ":9090", "address to serve /metrics on")
		privKeyHex  = flag.String("priv-key", "", "hex-encoded secp256k1 proposer key (random if empty)")
	)
	flag.Parse()

	cfg, err := buildConfig(*network, *dataDir)
	if err != nil {
		return err
	}

	logger, err := cfg.BuildLogger()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	signer, err := loadOrGenerateSigner(*privKeyHex)
	if err != nil {
		return fmt.Errorf("load signer: %w", err)
	}
	proposerAddr := cryptoutil.Address(signer.PubKey())

	n, err := node.New(cfg, logger, signer, node.NopNetwork{}, assembler.NewMockStateRoot())
	if err != nil {
		return fmt.Errorf("construct node: %w", err)
	}
	defer n.Close()

	logger.Info("starting posnode",
		zap.String("network", cfg.Network),
		zap.String("proposer", proposerAddr.String()),
		zap.String("session_id", n.SessionID().String()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	n.Start(ctx)
	go logEvents(ctx, logger, n)

	srv := &http.Server{Addr: *metricsAddr, Handler: metrics.Handler()}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics server shutdown", zap.Error(err))
	}
	return nil
}

// buildConfig selects the named network profile and overlays the
// data-dir flag onto it.
func buildConfig(network, dataDir string) (config.NodeConfig, error) {
	var cfg config.NodeConfig
	switch network {
	case "testnet":
		cfg = config.Testnet()
	case "mainnet":
		cfg = config.Mainnet()
	default:
		return config.NodeConfig{}, fmt.Errorf("unknown network profile %q", network)
	}
	cfg.DataDir = dataDir
	return cfg, nil
}

// loadOrGenerateSigner parses a hex-encoded private key if one was
// given on the command line, or generates a fresh one — convenient for
// local development and tests, never for production key management,
// which is out of scope here (account key storage is an external
// collaborator).
func loadOrGenerateSigner(hexKey string) (*cryptoutil.PrivateKey, error) {
	if hexKey == "" {
		return cryptoutil.GeneratePrivateKey()
	}
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decode priv-key: %w", err)
	}
	return cryptoutil.PrivateKeyFromBytes(raw)
}

// logEvents drains the node's event bus to structured log lines —
// the CLI's own subscriber, standing in for a richer status/RPC
// surface that is out of scope here.
func logEvents(ctx context.Context, logger *zap.Logger, n *node.Node) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-n.Events():
			if !ok {
				return
			}
			logEvent(logger, ev)
		}
	}
}

func logEvent(logger *zap.Logger, ev node.Event) {
	switch e := ev.(type) {
	case node.TxAdmittedEvent:
		logger.Debug("tx admitted", zap.String("outcome", e.Outcome))
	case node.VoteCastEvent:
		logger.Debug("vote cast", zap.Uint64("height", e.Height), zap.Uint32("round", e.Round))
	case node.VoteReceivedEvent:
		logger.Debug("vote received", zap.Uint64("height", e.Height), zap.Uint32("round", e.Round))
	case node.RoundEscalatedEvent:
		logger.Info("round escalated", zap.Uint64("height", e.Height), zap.Uint32("round", e.Round))
	case node.HeightCommittedEvent:
		logger.Info("height committed", zap.Uint64("height", e.Height))
	case node.SlashEmittedEvent:
		logger.Warn("slash emitted", zap.String("offender", e.Offender.String()), zap.Uint64("height", e.Height))
	}
}
