package cmd

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/paperbroker/config"
	"github.com/rustyeddy/paperbroker/executor"
	"github.com/rustyeddy/paperbroker/journal"
	"github.com/rustyeddy/paperbroker/lifecycle"
	"github.com/rustyeddy/paperbroker/risk"
	"github.com/rustyeddy/paperbroker/sim"
	"github.com/rustyeddy/paperbroker/slippage"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a paper-trading session from a config file",
	Long: `Run a paper-trading session using settings from a configuration file.

The config file specifies the account, exchange matching parameters, the
slippage model, retry policy and a scripted price sequence to replay.

Example:
  paperbroker run -f examples/configs/basic.yaml`,
	RunE: runRun,
}

var runConfigPath string

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runConfigPath, "config", "f", "", "path to config file (YAML or JSON) (required)")
	runCmd.MarkFlagRequired("config")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromFile(runConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	return runSession(cfg)
}

func runSession(cfg *config.Config) error {
	log := newLogger(cfg.Log)
	ctx := context.Background()

	j, err := newJournal(cfg.Journal)
	if err != nil {
		return fmt.Errorf("create journal: %w", err)
	}
	defer j.Close()

	var rng *rand.Rand
	if cfg.Exchange.Seed != 0 {
		rng = rand.New(rand.NewSource(cfg.Exchange.Seed))
	}

	slip, err := slippage.New(slippage.Config{
		BasePct:          cfg.Slippage.BasePct,
		VolatilityFactor: cfg.Slippage.VolatilityFactor,
		SizeImpactFactor: cfg.Slippage.SizeImpactFactor,
		RandomFactor:     cfg.Slippage.RandomFactor,
		Rand:             rng,
	})
	if err != nil {
		return fmt.Errorf("create slippage model: %w", err)
	}

	engine, err := sim.NewEngine(sim.Config{
		InitialCash:     cfg.Account.InitialCash,
		CommissionPct:   cfg.Exchange.CommissionPct,
		PartialFillProb: cfg.Exchange.PartialFillProb,
		Rand:            rng,
	}, slip, j, log)
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}

	policy, shutdownTimeout, err := retryFromConfig(cfg.Retry)
	if err != nil {
		return err
	}

	manager := lifecycle.NewManager(engine, lifecycle.Config{
		Policy:          policy,
		ShutdownTimeout: shutdownTimeout,
	}, lifecycle.Callbacks{
		OnOrderCreated: func(id string) {
			log.Info().Str("order_id", id).Msg("order created")
		},
		OnOrderFilled: func(id string) {
			log.Info().Str("order_id", id).Msg("order filled")
		},
		OnOrderCancelled: func(id string) {
			log.Info().Str("order_id", id).Msg("order cancelled")
		},
	}, log)

	gate := risk.NewGate(cfg.Executor.MaxPositions)
	sizer := risk.Sizer{RiskPct: cfg.Executor.RiskPct}
	exec := executor.New(engine, manager, gate, sizer, j, log)

	simCfg := cfg.Simulation
	if err := engine.SetPrice(simCfg.Symbol, simCfg.InitialPrice); err != nil {
		return err
	}
	if simCfg.Volatility > 0 {
		if err := engine.SetVolatility(simCfg.Symbol, simCfg.Volatility); err != nil {
			return err
		}
	}

	fmt.Printf("Paper-trading session: %s (cash $%.2f)\n", cfg.Account.ID, cfg.Account.InitialCash)
	fmt.Printf("  %s @ %.2f, entry %.2f, stop %.2f, direction %+d\n\n",
		simCfg.Symbol, simCfg.InitialPrice, simCfg.EntryPrice, simCfg.StopPrice, simCfg.Direction)

	res, err := exec.ExecuteSignal(ctx, executor.Signal{
		Symbol:     simCfg.Symbol,
		Direction:  simCfg.Direction,
		EntryPrice: simCfg.EntryPrice,
		StopPrice:  simCfg.StopPrice,
		Strategy:   "scripted",
	})
	if err != nil {
		return fmt.Errorf("execute signal: %w", err)
	}
	if !res.Success {
		fmt.Printf("Signal declined: %s\n", res.Reason)
		return nil
	}
	fmt.Printf("Opened %s: order %s, %0.f shares\n", simCfg.Symbol, res.OrderID, res.PositionSize)

	for _, step := range simCfg.PriceSteps {
		d, _ := step.ParseDuration()
		if d > 0 {
			time.Sleep(d)
		}
		if err := engine.SetPrice(simCfg.Symbol, step.Price); err != nil {
			return err
		}
		if err := engine.ProcessPendingOrders(ctx); err != nil {
			return err
		}
	}

	if _, err := exec.ExecuteSignal(ctx, executor.Signal{
		Symbol:   simCfg.Symbol,
		Strategy: "scripted",
	}); err != nil {
		return fmt.Errorf("close position: %w", err)
	}

	if err := manager.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	acct, err := engine.GetAccount(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("\nFinal account: cash $%.2f, equity $%.2f (P/L $%+.2f)\n",
		acct.Cash, acct.Equity, acct.Equity-cfg.Account.InitialCash)
	return nil
}

func newLogger(cfg config.LogConfig) zerolog.Logger {
	var out = os.Stderr
	level := zerolog.InfoLevel
	if l, err := zerolog.ParseLevel(strings.ToLower(cfg.Level)); err == nil && cfg.Level != "" {
		level = l
	}
	if cfg.Format == "console" || cfg.Format == "" {
		return zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}).
			Level(level).With().Timestamp().Logger()
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

func newJournal(cfg config.JournalConfig) (journal.Journal, error) {
	switch cfg.Type {
	case "csv":
		return journal.NewCSV(cfg.FillsFile, cfg.ExecutionsFile, cfg.EquityFile)
	case "sqlite":
		return journal.NewSQLite(cfg.DBPath)
	default:
		return journal.Discard{}, nil
	}
}

func retryFromConfig(cfg config.RetryConfig) (lifecycle.RetryPolicy, time.Duration, error) {
	base, err := cfg.Duration("base_delay", cfg.BaseDelay)
	if err != nil {
		return lifecycle.RetryPolicy{}, 0, err
	}
	maxDelay, err := cfg.Duration("max_delay", cfg.MaxDelay)
	if err != nil {
		return lifecycle.RetryPolicy{}, 0, err
	}
	cancelAfter, err := cfg.Duration("cancel_after", cfg.CancelAfter)
	if err != nil {
		return lifecycle.RetryPolicy{}, 0, err
	}
	shutdown, err := cfg.Duration("shutdown_timeout", cfg.ShutdownTimeout)
	if err != nil {
		return lifecycle.RetryPolicy{}, 0, err
	}
	return lifecycle.RetryPolicy{
		MaxRetries:        cfg.MaxRetries,
		BaseDelay:         base,
		BackoffMultiplier: cfg.BackoffMultiplier,
		MaxDelay:          maxDelay,
		CancelAfter:       cancelAfter,
	}, shutdown, nil
}
