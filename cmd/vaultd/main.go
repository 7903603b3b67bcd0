package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cipherlend/cmd/internal/passphrase"
	"cipherlend/config"
	"cipherlend/core"
	"cipherlend/core/genesis"
	"cipherlend/crypto"
	"cipherlend/fhe"
	nativecommon "cipherlend/native/common"
	"cipherlend/observability/logging"
	telemetry "cipherlend/observability/otel"
	"cipherlend/rpc"
	"cipherlend/services/relayer"
	"cipherlend/storage"
)

const serviceName = "vaultd"

func main() {
	configFile := flag.String("config", "", "Path to the YAML configuration file (defaults apply when empty)")
	genesisFlag := flag.String("genesis", "", "Path to a TOML genesis allocation file (overrides config genesis)")
	flag.Parse()

	cfg, err := loadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "vaultd: %v\n", err)
		os.Exit(1)
	}
	if path := strings.TrimSpace(*genesisFlag); path != "" {
		cfg.Genesis = path
	}

	logger := logging.Setup(serviceName, cfg.Env, logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("vaultd terminated", slog.Any("error", err))
		os.Exit(1)
	}
}

func loadConfig(path string) (config.Config, error) {
	if strings.TrimSpace(path) == "" {
		return config.Parse(strings.NewReader(""))
	}
	return config.Load(path)
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	otelCfg := telemetry.ConfigFromEnv(serviceName, cfg.Env)
	if cfg.Telemetry.OTLPEndpoint != "" {
		otelCfg.Endpoint = cfg.Telemetry.OTLPEndpoint
		otelCfg.Insecure = cfg.Telemetry.Insecure
		otelCfg.Headers = cfg.Telemetry.Headers
		otelCfg.Traces = true
		otelCfg.Metrics = true
	}
	shutdownTelemetry, err := telemetry.Init(ctx, otelCfg)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown", slog.Any("error", err))
		}
	}()

	passSource := passphrase.NewSource(cfg.Oracle.PassphraseEnv, "oracle keystore")
	oracleKey, err := loadOracleKey(cfg.Oracle.Keystore, cfg.IsDev(), passSource.Get)
	if err != nil {
		return fmt.Errorf("load oracle key: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("prepare data dir: %w", err)
	}
	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	node, err := core.NewNode(db, core.Config{
		OracleAddress: oracleKey.PubKey().Address(),
		Pauses:        nativecommon.NewPauses(cfg.Pauses),
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("init node: %w", err)
	}
	if err := applyGenesis(ctx, node, cfg.Genesis, logger); err != nil {
		return err
	}
	oracle, err := fhe.NewOracle(oracleKey, node)
	if err != nil {
		return fmt.Errorf("init oracle: %w", err)
	}

	server, err := rpc.NewServer(node, oracle, rpc.ServerConfig{
		Auth: rpc.AuthConfig{
			Secret:    cfg.Auth.Secret,
			Issuer:    cfg.Auth.Issuer,
			Operators: cfg.Auth.Operators,
		},
		RateLimit: rpc.RateLimitConfig{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
			TrustForwardedFor: cfg.RateLimit.TrustForwardedFor,
		},
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("init rpc: %w", err)
	}
	if cfg.Auth.Secret == "" {
		logger.Warn("rpc authentication disabled")
	} else {
		logger.Info("rpc authentication enabled", logging.MaskField("auth_secret", cfg.Auth.Secret))
	}

	var worker *relayer.Relayer
	if cfg.Relayer.Enabled {
		journal, err := relayer.OpenJournal(cfg.Relayer.JournalDSN)
		if err != nil {
			return err
		}
		worker, err = relayer.New(journal, relayer.NodeSource(node), relayer.OracleDiscloser(oracle),
			relayer.WithPollInterval(cfg.Relayer.PollInterval),
			relayer.WithBatchSize(cfg.Relayer.BatchSize),
			relayer.WithMaxAttempts(cfg.Relayer.MaxAttempts),
			relayer.WithLogger(logger),
		)
		if err != nil {
			return err
		}
	}

	listener, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Listen, err)
	}
	errCh := make(chan error, 2)
	go func() { errCh <- server.Serve(listener) }()
	if worker != nil {
		go func() { errCh <- worker.Run(ctx) }()
	}

	logger.Info("vaultd running",
		slog.String("listen", listener.Addr().String()),
		slog.String("oracle", oracleKey.PubKey().Address().String()),
		slog.String("vault", node.ModuleAddress().String()),
		slog.Bool("relayer", cfg.Relayer.Enabled))

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("rpc shutdown", slog.Any("error", err))
	}
	logger.Info("vaultd stopped")
	return runErr
}

// loadOracleKey decrypts the oracle keystore. In dev environments a missing
// keystore is generated with the resolved passphrase.
func loadOracleKey(path string, allowCreate bool, pass func() (string, error)) (*crypto.PrivateKey, error) {
	_, statErr := os.Stat(path)
	if statErr != nil && !errors.Is(statErr, fs.ErrNotExist) {
		return nil, statErr
	}
	secret, err := pass()
	if err != nil {
		return nil, err
	}
	if errors.Is(statErr, fs.ErrNotExist) {
		if !allowCreate {
			return nil, fmt.Errorf("keystore %s not found", path)
		}
		key, err := crypto.GeneratePrivateKey()
		if err != nil {
			return nil, err
		}
		if err := crypto.SaveToKeystore(path, key, secret, false); err != nil {
			return nil, err
		}
		return key, nil
	}
	return crypto.LoadFromKeystore(path, secret)
}

func applyGenesis(ctx context.Context, node *core.Node, path string, logger *slog.Logger) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	spec, err := genesis.LoadSpec(path)
	if err != nil {
		return fmt.Errorf("load genesis: %w", err)
	}
	allocs, err := spec.Allocations()
	if err != nil {
		return fmt.Errorf("genesis allocations: %w", err)
	}
	applied, err := node.ApplyGenesis(ctx, allocs)
	if err != nil {
		return fmt.Errorf("apply genesis: %w", err)
	}
	if applied {
		logger.Info("genesis applied", slog.Int("allocations", len(allocs)))
	}
	return nil
}
