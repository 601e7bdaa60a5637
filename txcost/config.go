// Package txcost implements the ADV-bucketed square-root market-impact,
// tick-based spread, and per-contract fee model.
package txcost

import (
	"encoding/json"
	"os"

	"quantengine/engineerr"
)

// AssetCostConfig carries per-symbol overrides for the cost model. Unknown
// symbols fall back to DefaultAssetCostConfig.
type AssetCostConfig struct {
	Symbol              string  `json:"symbol"`
	FeePerContract       float64 `json:"fee_per_contract"`
	BaselineSpreadTicks  float64 `json:"baseline_spread_ticks"`
	MinSpreadTicks       float64 `json:"min_spread_ticks"`
	MaxSpreadTicks       float64 `json:"max_spread_ticks"`
	MaxImpactBps         float64 `json:"max_impact_bps"`
	ADVFloor             float64 `json:"adv_floor"`
}

// DefaultAssetCostConfig is used for any symbol without an explicit
// override: conservative defaults of 2 baseline ticks, max 10 ticks, 100
// bps impact cap.
var DefaultAssetCostConfig = AssetCostConfig{
	FeePerContract:      1.75,
	BaselineSpreadTicks: 2.0,
	MinSpreadTicks:      0.5,
	MaxSpreadTicks:      10.0,
	MaxImpactBps:        100.0,
	ADVFloor:            1000,
}

// VolRegimeConfig parameterizes the spread-widening volatility multiplier:
// vol_mult = clamp(1 + lambda*z, 0.8, 1.5).
type VolRegimeConfig struct {
	Lambda   float64
	Sigma0   float64
	SigmaSig float64
	Lookback int
}

// DefaultVolRegimeConfig is the volatility-regime multiplier's default
// parameterization.
var DefaultVolRegimeConfig = VolRegimeConfig{
	Lambda:   0.15,
	Sigma0:   0.01,
	SigmaSig: 0.005,
	Lookback: 20,
}

// ImpactBucket is one row of the ADV->k_bps table.
type ImpactBucket struct {
	ADVThreshold float64 // lower bound, exclusive; "> 1,000,000" etc.
	KBps         float64
}

// DefaultImpactBuckets is the coefficient table, ordered from the most
// liquid bucket down; the last entry (threshold 0) is the "otherwise"
// fallback.
var DefaultImpactBuckets = []ImpactBucket{
	{ADVThreshold: 1_000_000, KBps: 10},
	{ADVThreshold: 200_000, KBps: 20},
	{ADVThreshold: 50_000, KBps: 40},
	{ADVThreshold: 20_000, KBps: 60},
	{ADVThreshold: 0, KBps: 80},
}

// KBpsFor returns the impact coefficient for the given rolling ADV.
func KBpsFor(adv float64, buckets []ImpactBucket) float64 {
	for _, b := range buckets {
		if adv > b.ADVThreshold {
			return b.KBps
		}
	}
	return buckets[len(buckets)-1].KBps
}

// LoadAssetConfigs reads a JSON array of AssetCostConfig from path into a
// symbol-keyed override table.
func LoadAssetConfigs(path string) (map[string]AssetCostConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, engineerr.Wrap(engineerr.FileIoError, "txcost", "reading asset cost config: "+path, err)
	}
	var list []AssetCostConfig
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, engineerr.Wrap(engineerr.FileIoError, "txcost", "parsing asset cost config: "+path, err)
	}
	out := make(map[string]AssetCostConfig, len(list))
	for _, c := range list {
		if c.Symbol == "" {
			return nil, engineerr.New(engineerr.InvalidArgument, "txcost", "asset cost config entry missing symbol")
		}
		out[c.Symbol] = c
	}
	return out, nil
}
