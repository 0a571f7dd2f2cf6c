package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"matrixchain/config"
	"matrixchain/core"
	"matrixchain/core/events"
	"matrixchain/core/genesis"
	"matrixchain/explorer"
	"matrixchain/observability/logging"
	"matrixchain/rpc"
	"matrixchain/storage"
)

const genesisPathEnv = "MATRIX_GENESIS"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	genesisFlag := flag.String("genesis", "", "Path to a genesis JSON file (overrides MATRIX_GENESIS and config GenesisFile)")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("MATRIX_ENV"))
	logger := logging.Setup("matrixd", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	genesisPath := resolveGenesisPath(*genesisFlag, cfg.GenesisFile, os.LookupEnv)
	spec, err := genesis.Load(genesisPath)
	if err != nil {
		logger.Error("failed to load genesis", slog.String("path", genesisPath), slog.Any("error", err))
		os.Exit(1)
	}
	operator, err := spec.OperatorAddress()
	if err != nil {
		logger.Error("invalid genesis operator", slog.Any("error", err))
		os.Exit(1)
	}
	params, err := spec.Params()
	if err != nil {
		logger.Error("invalid genesis parameters", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "ledger"))
	if err != nil {
		logger.Error("failed to open database", slog.String("dir", cfg.DataDir), slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	emitters := events.Multi{}
	if dsn := strings.TrimSpace(cfg.ExplorerDSN); dsn != "" {
		indexer, err := explorer.Open(dsn, logger)
		if err != nil {
			logger.Error("failed to open explorer index", slog.Any("error", err))
			os.Exit(1)
		}
		defer indexer.Close()
		emitters = append(emitters, indexer)
		logger.Info("explorer index attached", slog.String("dsn", dsn))
	}
	if path := strings.TrimSpace(cfg.ArchivePath); path != "" {
		archive, err := explorer.OpenArchive(path, logger)
		if err != nil {
			logger.Error("failed to open event archive", slog.Any("error", err))
			os.Exit(1)
		}
		defer archive.Close()
		emitters = append(emitters, archive)
		logger.Info("event archive attached", slog.String("path", path))
	}

	opts := []core.Option{core.WithLogger(logger)}
	if len(emitters) > 0 {
		opts = append(opts, core.WithEmitter(emitters))
	}
	node, err := core.NewNode(db, params, operator, opts...)
	if err != nil {
		logger.Error("failed to start node", slog.Any("error", err))
		os.Exit(1)
	}

	stats := node.GlobalStats()
	logger.Info("matrix node ready",
		slog.String("network", cfg.NetworkName),
		slog.String("operator", node.Operator().Hex()),
		slog.Uint64("members", stats.Members),
		slog.Uint64("transactions", stats.Transactions))

	server := rpc.NewServer(node, cfg.RateLimitPerMinute, cfg.RateLimitBurst)
	logger.Info("rpc listening", slog.String("address", cfg.RPCAddress))
	if err := server.Start(cfg.RPCAddress); err != nil {
		logger.Error("rpc server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

// resolveGenesisPath prefers the CLI flag, then the MATRIX_GENESIS environment
// variable, then the config file entry.
func resolveGenesisPath(flagValue, cfgValue string, lookup func(string) (string, bool)) string {
	if trimmed := strings.TrimSpace(flagValue); trimmed != "" {
		return trimmed
	}
	if env, ok := lookup(genesisPathEnv); ok {
		if trimmed := strings.TrimSpace(env); trimmed != "" {
			return trimmed
		}
	}
	return strings.TrimSpace(cfgValue)
}

func init() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: matrixd [flags]\n\nRuns the matrix ledger node with its JSON-RPC surface.\n\n")
		flag.PrintDefaults()
	}
}
