// Package signal implements the volatility and forecast primitives:
// pandas-equivalent EMA, EMA-crossover, blended volatility, raw forecast
// construction, and forecast normalization/combination.
//
// All arithmetic here is float64; only the sizing layer above this
// package converts back into decimal money.
package signal

import "quantengine/stats"

// EMAState holds one exponential moving average's running value, keyed by
// (symbol, span) at the call site.
type EMAState struct {
	span    int
	alpha   float64
	value   float64
	seeded  bool
}

// NewEMA constructs an EMA state for the given span. alpha = 2/(span+1).
func NewEMA(span int) *EMAState {
	return &EMAState{span: span, alpha: 2.0 / (float64(span) + 1.0)}
}

// Update applies the pandas-equivalent recurrence: seed with the first
// price, then ema_t = alpha*p_t + (1-alpha)*ema_{t-1}.
func (e *EMAState) Update(price float64) float64 {
	if !e.seeded {
		e.value = price
		e.seeded = true
		return e.value
	}
	e.value = e.alpha*price + (1-e.alpha)*e.value
	return e.value
}

// Value returns the current EMA value without updating it.
func (e *EMAState) Value() float64 { return e.value }

// Span returns the configured span.
func (e *EMAState) Span() int { return e.span }

// Seeded reports whether at least one Update call has occurred.
func (e *EMAState) Seeded() bool { return e.seeded }

// EMAC computes the elementwise EMA-crossover value: the difference of a
// short and long EMA over the same price series.
func EMAC(short, long *EMAState) float64 {
	return short.Value() - long.Value()
}

// BlendedVol computes the blended volatility: 0.7*stdev(short
// window) + 0.3*stdev(min(long window, available history)), so the long
// window grows until it reaches its target length, then stays fixed.
// prices must be the trailing window, most-recent last, already capped to
// at most longWindow entries by the caller (see signal.PriceHistory).
func BlendedVol(prices []float64, shortWindow, longWindow int) float64 {
	n := len(prices)
	if n == 0 {
		return 0
	}
	shortN := shortWindow
	if shortN > n {
		shortN = n
	}
	longN := longWindow
	if longN > n {
		longN = n
	}
	shortSlice := prices[n-shortN:]
	longSlice := prices[n-longN:]

	shortStdev := returnsStdev(shortSlice)
	longStdev := returnsStdev(longSlice)
	return 0.7*shortStdev + 0.3*longStdev
}

// returnsStdev returns the price-scale standard deviation of the given
// price window: computed directly as the stdev of the price levels in
// the window, matching the blended-vol recurrence's input convention.
func returnsStdev(prices []float64) float64 {
	return stats.StdDev(prices)
}
