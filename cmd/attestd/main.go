// Command attestd runs a single-process attestchain node: it wires the
// configuration, validator keystore, committee registry, mempool, consensus
// coordinator and block producer, then produces blocks until interrupted.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"attestchain/config"
	"attestchain/consensus"
	"attestchain/core"
	"attestchain/core/types"
	"attestchain/crypto"
	"attestchain/mempool"
	"attestchain/observability/logging"
	"attestchain/storage"
	"attestchain/validator"
)

func main() {
	configPath := flag.String("config", "./config.toml", "path to the node configuration file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := logging.Setup("attestd", level)

	if err := run(*configPath, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("node exited with error", "err", err)
		os.Exit(1)
	}
}

func run(configPath string, logger *slog.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	key, err := crypto.LoadFromKeystore(cfg.KeystorePath, os.Getenv("ATTESTD_KEYSTORE_PASSPHRASE"))
	if err != nil {
		return err
	}
	logger.Info("loaded proposer identity", "address", key.PubKey().Address().String())

	registry := validator.NewRegistry(logger)
	for _, v := range cfg.Validators {
		if err := registry.Register(v.ID, v.DisplayName, policyDecider(v.Policy)); err != nil {
			return err
		}
	}

	coordinator := consensus.NewCoordinator(consensus.Config{
		Quorum:         cfg.Quorum,
		RoundTimeout:   cfg.RoundTimeout.Duration,
		DeciderTimeout: cfg.DeciderTimeout.Duration,
	}, registry, logger)

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return err
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "chain"))
	if err != nil {
		return err
	}
	defer db.Close()

	pool := mempool.New(cfg.MaxPoolSize, logger)
	node, err := core.NewNode(core.NodeConfig{
		BlockInterval: cfg.BlockInterval.Duration,
		MaxBlockTxs:   cfg.MaxBlockTxs,
		BlockGasLimit: cfg.BlockGasLimit,
	}, db, key, pool, coordinator, logger)
	if err != nil {
		return err
	}
	logger.Info("node ready", "height", node.ChainHeight(),
		"committee", registry.ActiveCount(), "quorum", cfg.Quorum)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go reputationLoop(ctx, registry)

	return node.Run(ctx)
}

// policyDecider maps a configured offline policy onto a static decision
// backend. Deployments with live decision services replace these when
// registering the committee.
func policyDecider(policy string) validator.Decider {
	switch policy {
	case "approve":
		return validator.ApproveAll(0.8, "policy: approve")
	case "reject":
		return &validator.StaticDecider{Decision: validator.Decision{
			Action:     types.VoteReject,
			Confidence: 0.8,
			Rationale:  "policy: reject",
		}}
	default:
		return &validator.StaticDecider{Decision: validator.Abstain("policy: abstain")}
	}
}

func reputationLoop(ctx context.Context, registry *validator.Registry) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			registry.UpdateReputation(now)
		}
	}
}
