// Package config holds the hierarchical configuration structs:
// StrategyConfig, TrendFollowingConfig, PortfolioConfig, and BacktestConfig.
// All four round-trip through JSON unchanged; field tags are plain
// lowercase snake_case to match the engine's on-disk/API representation.
package config

import (
	"encoding/json"
	"os"
	"time"

	"quantengine/engineerr"
	"quantengine/optimizer"
	"quantengine/risk"
)

// StrategyConfig is the per-strategy capital and trading-universe
// configuration.
type StrategyConfig struct {
	CapitalAllocation float64            `json:"capital_allocation"`
	MaxLeverage       float64            `json:"max_leverage"`
	AssetClasses      []string           `json:"asset_classes"`
	Frequencies       []string           `json:"frequencies"`
	TradingParams     map[string]float64 `json:"trading_params"` // symbol -> multiplier
	PositionLimits    map[string]float64 `json:"position_limits"`
	SaveSignals       bool               `json:"save_signals"`
	SavePositions     bool               `json:"save_positions"`
}

// EMAWindowConfig is one (short, long) span pair, JSON-shaped.
type EMAWindowConfig struct {
	Short int `json:"short"`
	Long  int `json:"long"`
}

// TrendFollowingConfig mirrors strategy.TrendConfig in a JSON-serializable
// shape.
type TrendFollowingConfig struct {
	EMAWindows       []EMAWindowConfig  `json:"ema_windows"`
	VolLookbackShort int                `json:"vol_lookback_short"`
	VolLookbackLong  int                `json:"vol_lookback_long"`
	RiskTarget       float64            `json:"risk_target"`
	IDM              float64            `json:"idm"`
	Weight           float64            `json:"weight"`
	FDMTable         map[int]float64    `json:"fdm_table"`
	BufferFraction   float64            `json:"buffer_fraction"`
	FX               float64            `json:"fx"`
}

// PortfolioConfig configures the portfolio manager.
type PortfolioConfig struct {
	TotalCapital      float64          `json:"total_capital"`
	ReserveCapital    float64          `json:"reserve_capital"`
	MinStrategyAlloc  float64          `json:"min_strategy_allocation"`
	MaxStrategyAlloc  float64          `json:"max_strategy_allocation"`
	UseOptimization   bool             `json:"use_optimization"`
	UseRiskManagement bool             `json:"use_risk_management"`
	OptConfig         optimizer.Config `json:"opt_config"`
	RiskConfig        risk.Config      `json:"risk_config"`
}

// BacktestConfig drives the backtest engine.
type BacktestConfig struct {
	StartDate          time.Time        `json:"start_date"`
	EndDate            time.Time        `json:"end_date"`
	Symbols            []string         `json:"symbols"`
	AssetClass         string           `json:"asset_class"`
	DataFreq           string           `json:"data_freq"`
	InitialCapital     float64          `json:"initial_capital"`
	CommissionRate     float64          `json:"commission_rate"`
	SlippageModel      string           `json:"slippage_model"`
	UseRiskManagement  bool             `json:"use_risk_management"`
	UseOptimization    bool             `json:"use_optimization"`
	StoreTradeDetails  bool             `json:"store_trade_details"`
	SaveSignals        bool             `json:"save_signals"`
	SavePositions      bool             `json:"save_positions"`
	ResultsDBSchema    string           `json:"results_db_schema"`
	RiskConfig         risk.Config      `json:"risk_config"`
	OptConfig          optimizer.Config `json:"opt_config"`
	Benchmark          string           `json:"benchmark,omitempty"`
}

// Load reads and parses a JSON config file of any of the four shapes into
// dst (a pointer to one of the structs above).
func Load(path string, dst any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return engineerr.Wrap(engineerr.FileIoError, "config", "reading config file", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return engineerr.Wrap(engineerr.InvalidData, "config", "parsing config file", err)
	}
	return nil
}
