package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete paper-trading configuration
type Config struct {
	Account    AccountConfig    `json:"account" yaml:"account"`
	Exchange   ExchangeConfig   `json:"exchange" yaml:"exchange"`
	Slippage   SlippageConfig   `json:"slippage" yaml:"slippage"`
	Retry      RetryConfig      `json:"retry" yaml:"retry"`
	Executor   ExecutorConfig   `json:"executor" yaml:"executor"`
	Journal    JournalConfig    `json:"journal" yaml:"journal"`
	Log        LogConfig        `json:"log" yaml:"log"`
	Simulation SimulationConfig `json:"simulation" yaml:"simulation"`
}

// AccountConfig contains account initialization parameters
type AccountConfig struct {
	ID          string  `json:"id" yaml:"id"`
	InitialCash float64 `json:"initial_cash" yaml:"initial_cash"`
}

// ExchangeConfig contains matching parameters for the simulated exchange
type ExchangeConfig struct {
	CommissionPct   float64 `json:"commission_pct" yaml:"commission_pct"`
	PartialFillProb float64 `json:"partial_fill_prob" yaml:"partial_fill_prob"`
	Seed            int64   `json:"seed,omitempty" yaml:"seed,omitempty"` // 0 means time-seeded
}

// SlippageConfig contains slippage model coefficients
type SlippageConfig struct {
	BasePct          float64 `json:"base_pct" yaml:"base_pct"`
	VolatilityFactor float64 `json:"volatility_factor" yaml:"volatility_factor"`
	SizeImpactFactor float64 `json:"size_impact_factor" yaml:"size_impact_factor"`
	RandomFactor     float64 `json:"random_factor" yaml:"random_factor"`
}

// RetryConfig contains order retry and timeout parameters.
// Durations use Go syntax, e.g. "500ms", "1s", "2m".
type RetryConfig struct {
	MaxRetries        int     `json:"max_retries" yaml:"max_retries"`
	BaseDelay         string  `json:"base_delay" yaml:"base_delay"`
	BackoffMultiplier float64 `json:"backoff_multiplier" yaml:"backoff_multiplier"`
	MaxDelay          string  `json:"max_delay" yaml:"max_delay"`
	CancelAfter       string  `json:"cancel_after" yaml:"cancel_after"`
	ShutdownTimeout   string  `json:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// ExecutorConfig contains risk gate and sizing parameters
type ExecutorConfig struct {
	MaxPositions int     `json:"max_positions" yaml:"max_positions"`
	RiskPct      float64 `json:"risk_pct" yaml:"risk_pct"`
}

// JournalConfig contains journaling parameters
type JournalConfig struct {
	Type           string `json:"type" yaml:"type"` // "csv", "sqlite" or "none"
	FillsFile      string `json:"fills_file,omitempty" yaml:"fills_file,omitempty"`
	ExecutionsFile string `json:"executions_file,omitempty" yaml:"executions_file,omitempty"`
	EquityFile     string `json:"equity_file,omitempty" yaml:"equity_file,omitempty"`
	DBPath         string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
}

// LogConfig contains logging parameters
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // "console" or "json"
}

// SimulationConfig drives the CLI runner: an initial price, a signal and a
// sequence of price steps to replay
type SimulationConfig struct {
	Symbol       string      `json:"symbol" yaml:"symbol"`
	InitialPrice float64     `json:"initial_price" yaml:"initial_price"`
	Volatility   float64     `json:"volatility,omitempty" yaml:"volatility,omitempty"`
	EntryPrice   float64     `json:"entry_price" yaml:"entry_price"`
	StopPrice    float64     `json:"stop_price" yaml:"stop_price"`
	Direction    int         `json:"direction" yaml:"direction"` // +1 long, -1 short
	PriceSteps   []PriceStep `json:"price_steps,omitempty" yaml:"price_steps,omitempty"`
}

// PriceStep represents a price update in the simulation
type PriceStep struct {
	Price float64 `json:"price" yaml:"price"`
	Delay string  `json:"delay,omitempty" yaml:"delay,omitempty"` // e.g. "1s", "500ms"
}

// ParseDuration converts the delay string to time.Duration
func (ps PriceStep) ParseDuration() (time.Duration, error) {
	if ps.Delay == "" {
		return 0, nil
	}
	return time.ParseDuration(ps.Delay)
}

// Duration parses one of the retry duration fields.
func (r RetryConfig) Duration(field, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("retry.%s: %w", field, err)
	}
	return d, nil
}

// LoadFromFile loads configuration from a file (JSON or YAML based on content)
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}

	// Try YAML first, fall back to JSON
	err = yaml.Unmarshal(data, cfg)
	if err != nil {
		err = json.Unmarshal(data, cfg)
		if err != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Account.InitialCash <= 0 {
		return fmt.Errorf("account.initial_cash must be positive")
	}
	if c.Exchange.CommissionPct < 0 {
		return fmt.Errorf("exchange.commission_pct must not be negative")
	}
	if c.Exchange.PartialFillProb < 0 || c.Exchange.PartialFillProb > 1 {
		return fmt.Errorf("exchange.partial_fill_prob must be between 0 and 1")
	}
	if c.Slippage.BasePct < 0 || c.Slippage.BasePct > 0.1 {
		return fmt.Errorf("slippage.base_pct must be between 0 and 0.1")
	}
	if c.Slippage.VolatilityFactor < 0 || c.Slippage.SizeImpactFactor < 0 || c.Slippage.RandomFactor < 0 {
		return fmt.Errorf("slippage factors must not be negative")
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must not be negative")
	}
	if c.Retry.BackoffMultiplier < 1 {
		return fmt.Errorf("retry.backoff_multiplier must be at least 1")
	}
	for field, value := range map[string]string{
		"base_delay":       c.Retry.BaseDelay,
		"max_delay":        c.Retry.MaxDelay,
		"cancel_after":     c.Retry.CancelAfter,
		"shutdown_timeout": c.Retry.ShutdownTimeout,
	} {
		if _, err := c.Retry.Duration(field, value); err != nil {
			return err
		}
	}
	if c.Executor.MaxPositions < 0 {
		return fmt.Errorf("executor.max_positions must not be negative")
	}
	if c.Executor.RiskPct <= 0 || c.Executor.RiskPct > 1 {
		return fmt.Errorf("executor.risk_pct must be between 0 and 1")
	}
	switch c.Journal.Type {
	case "csv":
		if c.Journal.FillsFile == "" || c.Journal.ExecutionsFile == "" || c.Journal.EquityFile == "" {
			return fmt.Errorf("journal fills_file, executions_file and equity_file required for CSV type")
		}
	case "sqlite":
		if c.Journal.DBPath == "" {
			return fmt.Errorf("journal db_path required for SQLite type")
		}
	case "none":
	default:
		return fmt.Errorf("journal.type must be 'csv', 'sqlite' or 'none'")
	}
	if c.Simulation.Symbol == "" {
		return fmt.Errorf("simulation.symbol is required")
	}
	if c.Simulation.InitialPrice <= 0 {
		return fmt.Errorf("simulation.initial_price must be positive")
	}
	if c.Simulation.Direction != 1 && c.Simulation.Direction != -1 {
		return fmt.Errorf("simulation.direction must be 1 or -1")
	}
	if c.Simulation.EntryPrice <= 0 || c.Simulation.StopPrice <= 0 {
		return fmt.Errorf("simulation entry and stop prices must be positive")
	}
	for i, ps := range c.Simulation.PriceSteps {
		if ps.Price <= 0 {
			return fmt.Errorf("simulation.price_steps[%d].price must be positive", i)
		}
		if _, err := ps.ParseDuration(); err != nil {
			return fmt.Errorf("simulation.price_steps[%d].delay: %w", i, err)
		}
	}
	return nil
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Account: AccountConfig{
			ID:          "PAPER-001",
			InitialCash: 100000,
		},
		Exchange: ExchangeConfig{
			CommissionPct:   0.001,
			PartialFillProb: 0.1,
		},
		Slippage: SlippageConfig{
			BasePct:          0.001,
			VolatilityFactor: 0.01,
			SizeImpactFactor: 0.000001,
			RandomFactor:     0.0005,
		},
		Retry: RetryConfig{
			MaxRetries:        3,
			BaseDelay:         "1s",
			BackoffMultiplier: 2,
			MaxDelay:          "1m",
			CancelAfter:       "5m",
			ShutdownTimeout:   "10s",
		},
		Executor: ExecutorConfig{
			MaxPositions: 5,
			RiskPct:      0.01,
		},
		Journal: JournalConfig{
			Type:           "csv",
			FillsFile:      "./fills.csv",
			ExecutionsFile: "./executions.csv",
			EquityFile:     "./equity.csv",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Simulation: SimulationConfig{
			Symbol:       "AAPL",
			InitialPrice: 150.00,
			EntryPrice:   150.00,
			StopPrice:    147.00,
			Direction:    1,
			PriceSteps: []PriceStep{
				{Price: 150.50, Delay: "100ms"},
				{Price: 151.00, Delay: "100ms"},
				{Price: 151.50, Delay: "100ms"},
			},
		},
	}
}
