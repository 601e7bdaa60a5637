// Command backtest runs one historical replay of a trend-following
// strategy against stored market data and prints the resulting summary
// statistics.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"quantengine/backtest"
	"quantengine/config"
	"quantengine/instrument"
	"quantengine/logging"
	"quantengine/metrics"
	"quantengine/portfolio"
	"quantengine/signal"
	"quantengine/store"
	"quantengine/strategy"
	"quantengine/types"
)

// runConfig is the on-disk shape a backtest run is driven from: the
// config.go structs nested under one JSON document, plus the instrument
// universe and database path that don't belong in any one of them.
type runConfig struct {
	DBPath      string                      `json:"db_path"`
	Trend       config.TrendFollowingConfig `json:"trend"`
	Portfolio   config.PortfolioConfig      `json:"portfolio"`
	Backtest    config.BacktestConfig       `json:"backtest"`
	Instruments []instrument.Instrument     `json:"instruments"`
}

func main() {
	configPath := flag.String("config", "backtest.json", "path to the run config JSON file")
	flag.Parse()

	_ = godotenv.Load()
	log := logging.Component("cmd/backtest")
	metrics.Init()

	if err := run(*configPath); err != nil {
		log.Error().Err(err).Msg("backtest run failed")
		os.Exit(1)
	}
}

func run(configPath string) error {
	var cfg runConfig
	if err := config.Load(configPath, &cfg); err != nil {
		return err
	}

	registry := instrument.New()
	if err := registry.Load(cfg.Instruments); err != nil {
		return err
	}

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	trend := strategy.NewTrendFollowing("trend1", strategy.TrendConfig{
		EMAWindows:       toEMAWindows(cfg.Trend.EMAWindows),
		VolLookbackShort: cfg.Trend.VolLookbackShort,
		VolLookbackLong:  cfg.Trend.VolLookbackLong,
		RiskTarget:       cfg.Trend.RiskTarget,
		IDM:              cfg.Trend.IDM,
		Weight:           cfg.Trend.Weight,
		FDM:              signal.FDMTable(cfg.Trend.FDMTable),
		BufferFraction:   cfg.Trend.BufferFraction,
		FX:               cfg.Trend.FX,
	}, registry, cfg.Backtest.InitialCapital*cfg.Trend.Weight)
	if err := trend.Init(); err != nil {
		return err
	}
	if err := trend.Start(); err != nil {
		return err
	}

	pcfg := portfolio.DefaultConfig()
	pcfg.TotalCapital = cfg.Backtest.InitialCapital
	pcfg.ReserveFraction = cfg.Portfolio.ReserveCapital
	pcfg.OptConfig = cfg.Backtest.OptConfig
	pcfg.RiskConfig = cfg.Backtest.RiskConfig

	mgr := portfolio.NewManager(pcfg, registry, nil)
	if err := mgr.AddStrategy(portfolio.Registration{
		Strategy:        trend,
		Weight:          cfg.Trend.Weight,
		UseOptimization: cfg.Backtest.UseOptimization,
		UseRisk:         cfg.Backtest.UseRiskManagement,
		Symbols:         cfg.Backtest.Symbols,
	}); err != nil {
		return err
	}

	table, err := db.GetMarketData(cfg.Backtest.Symbols, cfg.Backtest.StartDate, cfg.Backtest.EndDate, cfg.Backtest.AssetClass, cfg.Backtest.DataFreq)
	if err != nil {
		return err
	}
	bars, err := barsFromTable(table)
	if err != nil {
		return err
	}

	btCfg := backtest.DefaultConfig()
	btCfg.StrategyID = trend.ID()
	btCfg.Start = cfg.Backtest.StartDate
	btCfg.End = cfg.Backtest.EndDate
	btCfg.InitialCapital = cfg.Backtest.InitialCapital
	btCfg.CommissionRate = cfg.Backtest.CommissionRate
	btCfg.BenchmarkSymbol = cfg.Backtest.Benchmark
	btCfg.StoreTradeDetail = cfg.Backtest.StoreTradeDetails
	btCfg.SaveSignals = cfg.Backtest.SaveSignals
	btCfg.SavePositions = cfg.Backtest.SavePositions

	engine := backtest.New(btCfg, mgr, registry, db)
	summary, err := engine.Run(bars, nil)
	if err != nil {
		return err
	}

	fmt.Printf("run %s: return=%.4f sharpe=%.2f sortino=%.2f max_dd=%.4f trades=%d final_equity=%.2f\n",
		summary.RunID, summary.TotalReturn, summary.Sharpe, summary.Sortino, summary.MaxDrawdown, summary.NumTrades, summary.FinalEquity)
	return nil
}

func toEMAWindows(cfg []config.EMAWindowConfig) []strategy.EMAWindow {
	out := make([]strategy.EMAWindow, len(cfg))
	for i, w := range cfg {
		out[i] = strategy.EMAWindow{Short: w.Short, Long: w.Long}
	}
	return out
}

func barsFromTable(table store.ColumnarTable) ([]types.Bar, error) {
	bars := make([]types.Bar, 0, len(table.Rows))
	for _, row := range table.Rows {
		symbol, _ := row[0].(string)
		ts, _ := row[1].(time.Time)
		open, _ := row[2].(float64)
		high, _ := row[3].(float64)
		low, _ := row[4].(float64)
		closeP, _ := row[5].(float64)
		volume, _ := row[6].(float64)
		bars = append(bars, types.Bar{
			Symbol:    symbol,
			Timestamp: ts,
			Open:      decimal.NewFromFloat(open),
			High:      decimal.NewFromFloat(high),
			Low:       decimal.NewFromFloat(low),
			Close:     decimal.NewFromFloat(closeP),
			Volume:    decimal.NewFromFloat(volume),
		})
	}
	return bars, nil
}
