package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/SIR-trading/Core-sub002/internal/chain"
	"github.com/SIR-trading/Core-sub002/internal/config"
	"github.com/SIR-trading/Core-sub002/internal/engine"
	"github.com/SIR-trading/Core-sub002/internal/oracle"
	"github.com/SIR-trading/Core-sub002/internal/storage"
	"github.com/SIR-trading/Core-sub002/internal/storage/postgres"
	"github.com/SIR-trading/Core-sub002/internal/system"
	"github.com/SIR-trading/Core-sub002/internal/tickmath"
	"github.com/SIR-trading/Core-sub002/internal/univ3"
)

func main() {
	root := &cobra.Command{
		Use:          "vaultd",
		Short:        "Leveraged vault accounting core",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the vault engine and oracle refresh loop",
		RunE:  runServe,
	}

	runCmd.Flags().String("rpc", "", "Ethereum RPC URL")
	runCmd.Flags().String("factory", "", "Uniswap v3 factory address")
	runCmd.Flags().StringSlice("vault", nil, "vaults to serve as debt:collateral:tier (comma-separated)")
	runCmd.Flags().String("pg-dsn", "", "Postgres DSN (omit to use the state file)")
	runCmd.Flags().String("state-file", "./data/state.json", "JSON state file path")
	runCmd.Flags().String("events-out", "./data/events.jsonl", "events JSONL path")
	runCmd.Flags().Duration("twap-window", 30*time.Minute, "TWAP window")
	runCmd.Flags().Duration("probe-period", time.Hour, "fee tier probe period")
	runCmd.Flags().Int64("max-tick-rate", int64(1)<<42, "price rate clamp (X42 ticks per second)")
	runCmd.Flags().Uint32("base-fee-bps", 50, "base ape fee in basis points")
	runCmd.Flags().Uint32("lp-fee-bps", 25, "LPer fee in basis points")
	runCmd.Flags().Duration("refresh-interval", time.Minute, "oracle refresh interval")
	runCmd.Flags().Int("max-retries", 5, "maximum retry attempts")
	runCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	runCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(runCmd)

	priceCmd := &cobra.Command{
		Use:   "price",
		Short: "Initialize the oracle for a pair and print the price once",
		RunE:  runPrice,
	}

	priceCmd.Flags().String("rpc", "", "Ethereum RPC URL")
	priceCmd.Flags().String("factory", "", "Uniswap v3 factory address")
	priceCmd.Flags().String("token-a", "", "first token address")
	priceCmd.Flags().String("token-b", "", "second token address")
	priceCmd.Flags().Duration("twap-window", 30*time.Minute, "TWAP window")
	priceCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(priceCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show or set the persisted governance state",
		RunE:  runStatus,
	}

	statusCmd.Flags().String("pg-dsn", "", "Postgres DSN (omit to use the state file)")
	statusCmd.Flags().String("state-file", "./data/state.json", "JSON state file path")
	statusCmd.Flags().String("set", "", "new state (unrestricted, training_wheels, emergency, shutdown)")
	statusCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(statusCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.RPCURL == "" {
		return fmt.Errorf("rpc url is required")
	}
	if !common.IsHexAddress(cfg.Factory) {
		return fmt.Errorf("valid factory address is required")
	}
	specs, err := parseVaultSpecs(cfg.Vaults)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chainClient, err := chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer chainClient.Close()

	chainID, err := chainClient.GetChainID(ctx)
	if err != nil {
		return fmt.Errorf("get chain id: %w", err)
	}

	var store storage.StateStore
	if cfg.PgDSN != "" {
		pg, err := postgres.NewStore(ctx, cfg.PgDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pg.Close()
		store = pg
	} else {
		store = storage.NewFileStore(cfg.StateFile)
	}

	sink := storage.NewJsonlSink(cfg.EventsOut)
	adapter := univ3.NewPoolAdapter(chainClient, common.HexToAddress(cfg.Factory), logger)

	orc := oracle.New(adapter, sink, logger, oracle.Config{
		TWAPWindow:     cfg.TWAPWindow,
		ProbePeriod:    cfg.ProbePeriod,
		MaxTickRateX42: cfg.MaxTickRateX42,
		Now:            chainClock(ctx, chainClient, logger),
	})
	oracleStates, err := store.LoadOracleStates(ctx)
	if err != nil {
		return fmt.Errorf("load oracle states: %w", err)
	}
	for _, st := range oracleStates {
		orc.RestoreState(st)
	}

	machine := system.NewMachine(system.TrainingWheels)
	if status, ok, err := store.LoadSystemStatus(ctx); err != nil {
		return fmt.Errorf("load system status: %w", err)
	} else if ok {
		state, err := system.ParseState(status)
		if err != nil {
			return err
		}
		machine.SetStatus(state)
	}

	eng := engine.New(orc, machine, store, sink, logger, engine.Config{
		BaseFeeBps: cfg.BaseFeeBps,
		LPFeeBps:   cfg.LPFeeBps,
	})
	if err := eng.Restore(ctx); err != nil {
		return err
	}

	for _, spec := range specs {
		if _, err := eng.CreateVault(ctx, spec.debt, spec.collateral, spec.tier); err != nil {
			if errors.Is(err, engine.ErrVaultExists) {
				continue
			}
			return fmt.Errorf("create vault %s: %w", spec, err)
		}
	}

	runner := engine.NewRunner(engine.RunConfig{
		Interval:     cfg.RefreshInterval,
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff,
	}, eng, orc, store, logger)

	logger.Info("vaultd start",
		zap.String("rpc", cfg.RPCURL),
		zap.String("chain_id", chainID.String()),
		zap.String("factory", cfg.Factory),
		zap.Int("vaults", len(specs)),
		zap.String("status", machine.Status().String()),
		zap.Duration("twap_window", cfg.TWAPWindow),
		zap.Duration("probe_period", cfg.ProbePeriod),
		zap.Duration("refresh_interval", cfg.RefreshInterval),
		zap.Bool("postgres", cfg.PgDSN != ""),
	)

	return runner.Run(ctx)
}

func runPrice(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.RPCURL == "" {
		return fmt.Errorf("rpc url is required")
	}
	if !common.IsHexAddress(cfg.Factory) {
		return fmt.Errorf("valid factory address is required")
	}
	tokenAStr, _ := cmd.Flags().GetString("token-a")
	tokenBStr, _ := cmd.Flags().GetString("token-b")
	if !common.IsHexAddress(tokenAStr) || !common.IsHexAddress(tokenBStr) {
		return fmt.Errorf("valid token-a and token-b addresses are required")
	}
	tokenA := common.HexToAddress(tokenAStr)
	tokenB := common.HexToAddress(tokenBStr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chainClient, err := chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer chainClient.Close()

	adapter := univ3.NewPoolAdapter(chainClient, common.HexToAddress(cfg.Factory), logger)
	orc := oracle.New(adapter, nil, logger, oracle.Config{
		TWAPWindow: cfg.TWAPWindow,
		Now:        chainClock(ctx, chainClient, logger),
	})

	if err := orc.Initialize(ctx, tokenA, tokenB); err != nil {
		return err
	}
	tick, err := orc.GetPrice(ctx, tokenA, tokenB)
	if err != nil {
		return err
	}

	fmt.Printf("tick_x42: %d\n", tick)
	mag := tick
	if mag < 0 {
		mag = -mag
	}
	if ratio, err := tickmath.TickToRatio(mag); err == nil {
		if tick < 0 {
			fmt.Printf("ratio_q128_inverse: %s\n", ratio.Dec())
		} else {
			fmt.Printf("ratio_q128: %s\n", ratio.Dec())
		}
	}
	return nil
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store storage.StateStore
	if cfg.PgDSN != "" {
		pg, err := postgres.NewStore(ctx, cfg.PgDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pg.Close()
		store = pg
	} else {
		store = storage.NewFileStore(cfg.StateFile)
	}

	if target, _ := cmd.Flags().GetString("set"); target != "" {
		state, err := system.ParseState(target)
		if err != nil {
			return err
		}
		if err := store.SaveSystemStatus(ctx, state.String()); err != nil {
			return fmt.Errorf("save system status: %w", err)
		}
		fmt.Printf("status: %s\n", state)
		return nil
	}

	status, ok, err := store.LoadSystemStatus(ctx)
	if err != nil {
		return fmt.Errorf("load system status: %w", err)
	}
	if !ok {
		status = system.TrainingWheels.String()
	}
	fmt.Printf("status: %s\n", status)
	return nil
}

// chainClock reads the current ledger time from the chain head. Timestamps
// are cached per block, so repeated reads within one block cost a single
// header fetch. On RPC failure the wall clock stands in.
func chainClock(ctx context.Context, client *chain.Client, logger *zap.Logger) func() uint64 {
	return func() uint64 {
		number, err := client.LatestBlockNumber(ctx)
		if err == nil {
			ts, tsErr := client.BlockTimestamp(ctx, number)
			if tsErr == nil {
				return ts
			}
			err = tsErr
		}
		logger.Warn("chain time read failed, using wall clock", zap.Error(err))
		return uint64(time.Now().Unix())
	}
}

type vaultSpec struct {
	debt       common.Address
	collateral common.Address
	tier       int8
}

func (s vaultSpec) String() string {
	return fmt.Sprintf("%s:%s:%d", s.debt.Hex(), s.collateral.Hex(), s.tier)
}

// parseVaultSpecs parses debt:collateral:tier triples.
func parseVaultSpecs(inputs []string) ([]vaultSpec, error) {
	specs := make([]vaultSpec, 0, len(inputs))
	for _, input := range inputs {
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		parts := strings.Split(input, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("invalid vault spec %q, want debt:collateral:tier", input)
		}
		if !common.IsHexAddress(parts[0]) {
			return nil, fmt.Errorf("invalid debt token in %q", input)
		}
		if !common.IsHexAddress(parts[1]) {
			return nil, fmt.Errorf("invalid collateral token in %q", input)
		}
		tier, err := strconv.ParseInt(parts[2], 10, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid leverage tier in %q: %w", input, err)
		}
		specs = append(specs, vaultSpec{
			debt:       common.HexToAddress(parts[0]),
			collateral: common.HexToAddress(parts[1]),
			tier:       int8(tier),
		})
	}
	return specs, nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
