// Package config provides configuration management functionality.
//
// Two layers exist, mirroring how the system is deployed:
//   - Config: process-level values from environment variables (.env file) -
//     credentials, ports, data directory, log level. Loaded once at startup.
//   - Settings: trading parameters from a YAML file - risk limits, budget,
//     universe rules, voting, brackets, drawdown, rebalancing, execution.
//
// Both are immutable after load. The only persisted mutable value
// (virtual equity) lives behind the settings repository, not here.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds process configuration from the environment.
type Config struct {
	DataDir      string // Base directory for databases and state files
	SettingsPath string // Path to the YAML trading settings file
	LogLevel     string
	Port         int
	DevMode      bool

	// Broker (Alpaca-compatible) credentials and endpoints
	AlpacaAPIKey    string
	AlpacaAPISecret string
	AlpacaBaseURL   string // trading API, e.g. https://paper-api.alpaca.markets
	AlpacaDataURL   string // market data API

	// Advisory service
	OpenAIAPIKey  string
	OpenAIBaseURL string

	// Optional S3 backups (disabled when bucket is empty)
	BackupBucket string
	BackupRegion string
}

// Load reads configuration from environment variables.
// A .env file in the working directory is loaded first if present.
func Load() (*Config, error) {
	// Ignore error - .env file is optional
	_ = godotenv.Load()

	port := 8090
	if portStr := os.Getenv("PORT"); portStr != "" {
		p, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT value %q: %w", portStr, err)
		}
		port = p
	}

	dataDir := getEnv("DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data dir: %w", err)
	}

	cfg := &Config{
		DataDir:         absDataDir,
		SettingsPath:    getEnv("SETTINGS_PATH", filepath.Join(absDataDir, "settings.yaml")),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		Port:            port,
		DevMode:         os.Getenv("DEV_MODE") == "true",
		AlpacaAPIKey:    os.Getenv("ALPACA_API_KEY"),
		AlpacaAPISecret: os.Getenv("ALPACA_SECRET_KEY"),
		AlpacaBaseURL:   getEnv("ALPACA_BASE_URL", "https://paper-api.alpaca.markets"),
		AlpacaDataURL:   getEnv("ALPACA_DATA_URL", "https://data.alpaca.markets"),
		OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:   getEnv("OPENAI_BASE_URL", "https://api.openai.com"),
		BackupBucket:    os.Getenv("BACKUP_S3_BUCKET"),
		BackupRegion:    getEnv("BACKUP_S3_REGION", "us-east-1"),
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// RiskConfig bounds what the allocator and validator may accept.
type RiskConfig struct {
	MaxSymbols            int     `yaml:"max_symbols"`
	MaxPosPct             float64 `yaml:"max_pos_pct"`
	MaxDailyAllocationPct float64 `yaml:"max_daily_allocation_pct"`
	MinPrice              float64 `yaml:"min_price"`
	MinAvgVolume          float64 `yaml:"min_avg_volume"`
	MaxMarketCap          float64 `yaml:"max_market_cap"`
}

// BudgetConfig holds the virtual budget ceiling and spend caps.
// The absolute caps may be set explicitly; when zero they are derived per
// session from the risk percentages applied to the virtual equity.
type BudgetConfig struct {
	VirtualEquity         float64 `yaml:"virtual_equity"` // seed for first run only; persisted value wins
	MaxDailyAllocationAbs float64 `yaml:"max_daily_allocation_abs"`
	MaxPosAbs             float64 `yaml:"max_pos_abs"`
}

// UniverseConfig controls the catalog scan and liquidity ranking.
type UniverseConfig struct {
	Exchanges    []string `yaml:"exchanges"`
	MinPrice     float64  `yaml:"min_price"`
	MaxPrice     float64  `yaml:"max_price"`
	MinAvgVolume float64  `yaml:"min_avg_volume"`
	MaxSize      int      `yaml:"max_size"`
	MaxScan      int      `yaml:"max_scan"`      // hard cap on catalog entries examined
	LookbackDays int      `yaml:"lookback_days"` // trailing window for the liquidity score
	BatchSize    int      `yaml:"batch_size"`    // symbols per batched quote request
	ScanTimeout  int      `yaml:"scan_timeout_seconds"`
}

// VoteConfig controls multi-advisor consensus.
type VoteConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Models   []string `yaml:"models"`
	MinVotes int      `yaml:"min_votes"`
}

// BracketConfig controls protective exit orders.
type BracketConfig struct {
	UseBracket      bool    `yaml:"use_bracket"`
	StopLossPct     float64 `yaml:"stop_loss_pct"`
	TakeProfitPct   float64 `yaml:"take_profit_pct"`
	TrailingStopPct float64 `yaml:"trailing_stop_pct"`
}

// DrawdownConfig controls the daily loss guard.
type DrawdownConfig struct {
	MaxDailyLossPct float64 `yaml:"max_daily_loss_pct"`
	AutoFlatten     bool    `yaml:"auto_flatten"`
}

// RebalanceConfig controls the virtual equity rebalancer.
type RebalanceConfig struct {
	Enabled    bool    `yaml:"enabled"`
	UpPct      float64 `yaml:"up_pct"`
	DownPct    float64 `yaml:"down_pct"`
	MinVirtual float64 `yaml:"min_virtual"`
	MaxVirtual float64 `yaml:"max_virtual"`
	RoundTo    float64 `yaml:"round_to"`
}

// ExecutionConfig controls order submission and status polling.
type ExecutionConfig struct {
	PollAttempts    int    `yaml:"poll_attempts"`
	PollIntervalSec int    `yaml:"poll_interval_seconds"`
	OrderIDPrefix   string `yaml:"order_id_prefix"`
}

// HealthConfig controls the optional market-health gate.
type HealthConfig struct {
	Enabled       bool    `yaml:"enabled"`
	IndexSymbol   string  `yaml:"index_symbol"`
	SecondSymbol  string  `yaml:"second_symbol"`
	FearSymbol    string  `yaml:"fear_symbol"`
	FearThreshold float64 `yaml:"fear_threshold"`
	RSIPeriod     int     `yaml:"rsi_period"`
	RSIOverbought float64 `yaml:"rsi_overbought"`
}

// ScheduleConfig holds cron expressions for serve mode.
type ScheduleConfig struct {
	SessionCron string `yaml:"session_cron"`
	BackupCron  string `yaml:"backup_cron"`
}

// Settings is the full trading settings document.
type Settings struct {
	DryRun          bool            `yaml:"dry_run"`
	TargetPositions int             `yaml:"target_positions"`
	SpreadFill      bool            `yaml:"spread_fill"`
	Risk            RiskConfig      `yaml:"risk"`
	Budget          BudgetConfig    `yaml:"budget"`
	Universe        UniverseConfig  `yaml:"universe"`
	Vote            VoteConfig      `yaml:"vote"`
	Brackets        BracketConfig   `yaml:"brackets"`
	Drawdown        DrawdownConfig  `yaml:"drawdown"`
	Rebalance       RebalanceConfig `yaml:"rebalance"`
	Execution       ExecutionConfig `yaml:"execution"`
	Health          HealthConfig    `yaml:"market_health"`
	Schedule        ScheduleConfig  `yaml:"schedule"`
}

// DefaultSettings returns the safe baseline used on first run or when the
// settings file is missing or empty.
func DefaultSettings() Settings {
	return Settings{
		DryRun:          true,
		TargetPositions: 5,
		SpreadFill:      false,
		Risk: RiskConfig{
			MaxSymbols:            10,
			MaxPosPct:             0.25,
			MaxDailyAllocationPct: 0.50,
			MinPrice:              1.0,
			MinAvgVolume:          100000,
			MaxMarketCap:          300_000_000,
		},
		Budget: BudgetConfig{
			VirtualEquity: 1000,
		},
		Universe: UniverseConfig{
			Exchanges:    []string{"NASDAQ", "NYSE", "AMEX", "ARCA"},
			MinPrice:     1.0,
			MaxPrice:     25.0,
			MinAvgVolume: 100000,
			MaxSize:      50,
			MaxScan:      2000,
			LookbackDays: 20,
			BatchSize:    50,
			ScanTimeout:  120,
		},
		Vote: VoteConfig{
			Enabled:  false,
			Models:   []string{"gpt-4o"},
			MinVotes: 2,
		},
		Brackets: BracketConfig{
			UseBracket:      true,
			StopLossPct:     0.12,
			TakeProfitPct:   0.25,
			TrailingStopPct: 0,
		},
		Drawdown: DrawdownConfig{
			MaxDailyLossPct: 0.05,
			AutoFlatten:     false,
		},
		Rebalance: RebalanceConfig{
			Enabled:    false,
			UpPct:      0.10,
			DownPct:    0.10,
			MinVirtual: 500,
			MaxVirtual: 10000,
			RoundTo:    50,
		},
		Execution: ExecutionConfig{
			PollAttempts:    30,
			PollIntervalSec: 1,
			OrderIDPrefix:   "microcap",
		},
		Health: HealthConfig{
			Enabled:       false,
			IndexSymbol:   "SPY",
			SecondSymbol:  "QQQ",
			FearSymbol:    "VIXY",
			FearThreshold: 25.0,
			RSIPeriod:     14,
			RSIOverbought: 80.0,
		},
		Schedule: ScheduleConfig{
			SessionCron: "0 45 14 * * MON-FRI",
			BackupCron:  "0 0 22 * * MON-FRI",
		},
	}
}

// LoadSettings reads the YAML settings file, applying defaults for any
// missing sections. A missing or zero-byte file is treated as "first run"
// and yields the defaults rather than an error.
func LoadSettings(path string) (Settings, error) {
	settings := DefaultSettings()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return settings, nil
		}
		return settings, fmt.Errorf("failed to read settings file: %w", err)
	}
	if len(data) == 0 {
		return settings, nil
	}

	if err := yaml.Unmarshal(data, &settings); err != nil {
		return DefaultSettings(), fmt.Errorf("failed to parse settings file: %w", err)
	}

	return settings, nil
}
