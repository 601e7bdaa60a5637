// Command live runs the engine against a broker's real-time market data
// and order entry, with an admin control plane fronting it for status
// and emergency flatten calls.
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"quantengine/adminapi"
	"quantengine/config"
	"quantengine/instrument"
	"quantengine/live/binancebroker"
	liveengine "quantengine/live/engine"
	"quantengine/logging"
	"quantengine/metrics"
	"quantengine/portfolio"
	forecast "quantengine/signal"
	"quantengine/store"
	"quantengine/strategy"
)

type runConfig struct {
	DBPath      string                      `json:"db_path"`
	Trend       config.TrendFollowingConfig `json:"trend"`
	Portfolio   config.PortfolioConfig      `json:"portfolio"`
	Symbols     []string                    `json:"symbols"`
	Instruments []instrument.Instrument     `json:"instruments"`
	Admin       adminConfig                 `json:"admin"`
}

type adminConfig struct {
	ListenAddr string `json:"listen_addr"`
	TokenHash  string `json:"token_hash"`
	TOTPSecret string `json:"totp_secret"`
}

func main() {
	configPath := flag.String("config", "live.json", "path to the run config JSON file")
	flag.Parse()

	_ = godotenv.Load()
	log := logging.Component("cmd/live")
	metrics.Init()

	if err := run(*configPath); err != nil {
		log.Error().Err(err).Msg("live run failed")
		os.Exit(1)
	}
}

func run(configPath string) error {
	log := logging.Component("cmd/live")

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
		FDM:              forecast.FDMTable(cfg.Trend.FDMTable),
		BufferFraction:   cfg.Trend.BufferFraction,
		FX:               cfg.Trend.FX,
	}, registry, cfg.Portfolio.TotalCapital*cfg.Trend.Weight)
	if err := trend.Init(); err != nil {
		return err
	}
	if err := trend.Start(); err != nil {
		return err
	}

	pcfg := portfolio.DefaultConfig()
	pcfg.TotalCapital = cfg.Portfolio.TotalCapital
	pcfg.ReserveFraction = cfg.Portfolio.ReserveCapital
	pcfg.OptConfig = cfg.Portfolio.OptConfig
	pcfg.RiskConfig = cfg.Portfolio.RiskConfig

	mgr := portfolio.NewManager(pcfg, registry, nil)
	if err := mgr.AddStrategy(portfolio.Registration{
		Strategy:        trend,
		Weight:          cfg.Trend.Weight,
		UseOptimization: cfg.Portfolio.UseOptimization,
		UseRisk:         cfg.Portfolio.UseRiskManagement,
		Symbols:         cfg.Symbols,
	}); err != nil {
		return err
	}

	brk := binancebroker.New(os.Getenv("QUANTENGINE_BINANCE_API_KEY"), os.Getenv("QUANTENGINE_BINANCE_API_SECRET"))

	ecfg := liveengine.DefaultConfig()
	ecfg.Symbols = cfg.Symbols
	eng := liveengine.New(ecfg, mgr, brk, db)
	if err := eng.Start(); err != nil {
		return err
	}

	if cfg.Admin.TokenHash != "" {
		acfg := adminapi.DefaultConfig()
		if cfg.Admin.ListenAddr != "" {
			acfg.ListenAddr = cfg.Admin.ListenAddr
		}
		acfg.TokenHash = cfg.Admin.TokenHash
		acfg.TOTPSecret = cfg.Admin.TOTPSecret
		acfg.JWTSecret = []byte(os.Getenv("QUANTENGINE_ADMIN_JWT_SECRET"))
		admin := adminapi.New(acfg, mgr, eng)
		go func() {
			if err := admin.Run(); err != nil {
				log.Error().Err(err).Msg("admin API server stopped")
			}
		}()
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	log.Info().Msg("shutting down live engine")
	return eng.Stop()
}

func toEMAWindows(cfg []config.EMAWindowConfig) []strategy.EMAWindow {
	out := make([]strategy.EMAWindow, len(cfg))
	for i, w := range cfg {
		out[i] = strategy.EMAWindow{Short: w.Short, Long: w.Long}
	}
	return out
}
