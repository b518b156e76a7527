// Package instruments resolves Deriverse instrument ids to display metadata.
package instruments

import (
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/abdigaliarsen/deriverse-insights/internal/domain"
)

// Instrument is the static metadata for one instrument id.
type Instrument struct {
	ID     uint32
	Symbol string
	Kind   domain.MarketKind
}

// Registry is an in-memory instrument table. It is safe for concurrent use.
type Registry struct {
	mu   sync.RWMutex
	byID map[uint32]Instrument
}

// NewRegistry builds a registry from list. Entries with an empty Kind are
// classified from their symbol.
func NewRegistry(list []Instrument) *Registry {
	r := &Registry{byID: make(map[uint32]Instrument, len(list))}
	for _, in := range list {
		r.Put(in)
	}
	return r
}

// Put inserts or replaces an instrument.
func (r *Registry) Put(in Instrument) {
	in.Symbol = strings.TrimSpace(in.Symbol)
	if in.Kind == "" {
		in.Kind = InferKind(in.Symbol)
	}
	r.mu.Lock()
	r.byID[in.ID] = in
	r.mu.Unlock()
}

// Lookup returns the instrument registered under id.
func (r *Registry) Lookup(id uint32) (Instrument, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	in, ok := r.byID[id]
	return in, ok
}

// All returns every registered instrument ordered by id.
func (r *Registry) All() []Instrument {
	r.mu.RLock()
	out := make([]Instrument, 0, len(r.byID))
	for _, in := range r.byID {
		out = append(out, in)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SymbolFor returns the registered symbol or the placeholder "INSTR-<id>".
func (r *Registry) SymbolFor(id uint32) string {
	if in, ok := r.Lookup(id); ok && in.Symbol != "" {
		return in.Symbol
	}
	return "INSTR-" + strconv.FormatUint(uint64(id), 10)
}

// MarketKindFor returns the registered market kind, or "" when the id is
// unknown so callers can fall back to what the fills report.
func (r *Registry) MarketKindFor(id uint32) domain.MarketKind {
	if in, ok := r.Lookup(id); ok {
		return in.Kind
	}
	return ""
}

// InferKind classifies a symbol as perp when it mentions "perp".
func InferKind(symbol string) domain.MarketKind {
	if strings.Contains(strings.ToLower(symbol), "perp") {
		return domain.MarketPerp
	}
	return domain.MarketSpot
}

var _ domain.InstrumentResolver = (*Registry)(nil)
