// Package instrument implements the process-wide read-mostly instrument
// registry: a symbol -> metadata mapping populated once at startup,
// looked up by every pricing and sizing path.
package instrument

import (
	"strings"
	"sync"

	"quantengine/engineerr"
)

// AssetClass enumerates the broad instrument categories the engine trades.
type AssetClass int

const (
	AssetFuture AssetClass = iota
	AssetEquity
	AssetFX
)

// Instrument is per-symbol metadata. Identity is by Symbol; mutated only
// via registry load.
type Instrument struct {
	Symbol     string
	AssetClass AssetClass
	Multiplier float64
	TickSize   float64
	PointValue float64
	Expiry     string // optional, empty if none
}

// Registry is a process-wide, read-only-after-init symbol -> Instrument
// map: writes are only permitted during Load; the mutex below exists
// solely to make that single load step safe to call from more than one
// goroutine at startup (e.g. two independent backtests loading distinct
// symbol universes into the same process), not to guard steady-state
// reads.
type Registry struct {
	mu        sync.RWMutex
	instr     map[string]Instrument
	loaded    bool
}

// New returns an empty, unloaded registry.
func New() *Registry {
	return &Registry{instr: make(map[string]Instrument)}
}

// Load populates the registry. Safe to call multiple times (e.g. to merge
// additional asset classes); later entries for an existing symbol replace
// earlier ones.
func (r *Registry) Load(instruments []Instrument) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ins := range instruments {
		if ins.Symbol == "" {
			return engineerr.New(engineerr.InvalidArgument, "instrument.Registry", "instrument symbol must not be empty")
		}
		if ins.Multiplier <= 0 {
			return engineerr.New(engineerr.InvalidArgument, "instrument.Registry", "multiplier must be > 0: "+ins.Symbol)
		}
		if ins.TickSize <= 0 {
			return engineerr.New(engineerr.InvalidArgument, "instrument.Registry", "tick size must be > 0: "+ins.Symbol)
		}
		if ins.PointValue <= 0 {
			return engineerr.New(engineerr.InvalidArgument, "instrument.Registry", "point value must be > 0: "+ins.Symbol)
		}
		r.instr[normalize(ins.Symbol)] = ins
	}
	r.loaded = true
	return nil
}

// normalize strips an optional version suffix, e.g. "ES.v.0" -> "ES".
func normalize(symbol string) string {
	if i := strings.Index(symbol, ".v."); i >= 0 {
		return symbol[:i]
	}
	return symbol
}

// Lookup returns instrument metadata for symbol. Lookup failure is fatal
// at execution time: a misconfigured instrument must never silently
// trade with multiplier 1, so callers on the hot execution path
// should treat the returned error as unrecoverable for that order rather
// than substituting a default.
func (r *Registry) Lookup(symbol string) (Instrument, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ins, ok := r.instr[normalize(symbol)]
	if !ok {
		return Instrument{}, engineerr.New(engineerr.UnknownInstrument, "instrument.Registry", "unknown symbol: "+symbol)
	}
	return ins, nil
}

// MustLookup panics on an unknown symbol. Reserved for code paths that are
// supposed to have already validated the symbol against the registry —
// panics here indicate a programmer error, not bad input.
func (r *Registry) MustLookup(symbol string) Instrument {
	ins, err := r.Lookup(symbol)
	if err != nil {
		panic(err)
	}
	return ins
}

// Symbols returns every loaded symbol for an asset class (empty slice if
// none match).
func (r *Registry) Symbols(class AssetClass) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.instr))
	for sym, ins := range r.instr {
		if ins.AssetClass == class {
			out = append(out, sym)
		}
	}
	return out
}

// Loaded reports whether Load has been called at least once.
func (r *Registry) Loaded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loaded
}
