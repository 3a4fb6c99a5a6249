// Package worldstate holds the sectioned numeric ledger the simulation
// mutates. Every variable carries a declared range; all writes clamp.
package worldstate

import (
	"fmt"
	"math"
	"sort"
)

// SectionOrder is the canonical section ordering used wherever a
// deterministic traversal matters (bare-name lookup, serialization).
var SectionOrder = []string{
	"Resources", "Society", "State", "Economy", "Infrastructure", "Environment",
}

// Bounds is the valid range of one variable. Hi may be +Inf for stocks.
type Bounds struct {
	Lo float64 `json:"lo"`
	Hi float64 `json:"hi"`
}

// RateBounds is the default range for rates and indices.
func RateBounds() Bounds { return Bounds{Lo: 0, Hi: 1} }

// StockBounds is the default range for unbounded stocks.
func StockBounds() Bounds { return Bounds{Lo: 0, Hi: math.Inf(1)} }

func (b Bounds) Clamp(v float64) float64 {
	if v < b.Lo {
		return b.Lo
	}
	if v > b.Hi {
		return b.Hi
	}
	return v
}

// stockVariables are the variables treated as unbounded stocks when no
// explicit bounds are declared. Everything else defaults to [0,1].
var stockVariables = map[string]bool{
	"Resources.food":                     true,
	"Resources.coinage":                  true,
	"Resources.timber":                   true,
	"Resources.iron":                     true,
	"Resources.manpower":                 true,
	"Infrastructure.granaries_capacity":  true,
	"Society.population":                 true,
}

// DefaultBounds returns the implicit range for a variable: declared
// stocks (and anything under Resources) are [0,+Inf), the rest [0,1].
func DefaultBounds(section, variable string) Bounds {
	key := section + "." + variable
	if stockVariables[key] || section == "Resources" {
		return StockBounds()
	}
	return RateBounds()
}

// State is the shared world ledger at one point in simulated time.
// It has single-writer discipline: only the tick currently executing
// may mutate it, and only through Set.
type State struct {
	tick     int
	sections map[string]map[string]float64
	bounds   map[string]Bounds
}

// New builds a State from initial section values. Values are clamped
// into their bounds on construction so the range invariant holds from
// tick zero. Explicit bounds override the defaults.
func New(initial map[string]map[string]float64, declared map[string]Bounds) *State {
	st := &State{
		tick:     0,
		sections: make(map[string]map[string]float64, len(initial)),
		bounds:   make(map[string]Bounds),
	}
	for sec, vars := range initial {
		st.sections[sec] = make(map[string]float64, len(vars))
		for name, v := range vars {
			key := sec + "." + name
			b, ok := declared[key]
			if !ok {
				b = DefaultBounds(sec, name)
			}
			st.bounds[key] = b
			st.sections[sec][name] = b.Clamp(v)
		}
	}
	return st
}

// Tick returns the tick this state version belongs to.
func (s *State) Tick() int { return s.tick }

// SetTick stamps the state with the tick that produced it.
func (s *State) SetTick(t int) { s.tick = t }

// Lookup resolves a variable reference. Dotted form "Section.var" is
// exact; a bare name is searched across sections in canonical order,
// first match wins.
func (s *State) Lookup(ref string) (section, variable string, value float64, err error) {
	if sec, name, ok := splitRef(ref); ok {
		vars, found := s.sections[sec]
		if !found {
			return "", "", 0, fmt.Errorf("lookup %q: no such section", ref)
		}
		v, found := vars[name]
		if !found {
			return "", "", 0, fmt.Errorf("lookup %q: no such variable", ref)
		}
		return sec, name, v, nil
	}
	for _, sec := range SectionOrder {
		if v, ok := s.sections[sec][ref]; ok {
			return sec, ref, v, nil
		}
	}
	// Sections outside the canonical six, sorted for determinism.
	extra := make([]string, 0)
	for sec := range s.sections {
		if !isCanonical(sec) {
			extra = append(extra, sec)
		}
	}
	sort.Strings(extra)
	for _, sec := range extra {
		if v, ok := s.sections[sec][ref]; ok {
			return sec, ref, v, nil
		}
	}
	return "", "", 0, fmt.Errorf("lookup %q: no such variable", ref)
}

// Get reads one variable; the boolean reports whether it exists.
func (s *State) Get(section, variable string) (float64, bool) {
	v, ok := s.sections[section][variable]
	return v, ok
}

// BoundsOf returns the declared range of an existing variable.
func (s *State) BoundsOf(section, variable string) (Bounds, bool) {
	b, ok := s.bounds[section+"."+variable]
	return b, ok
}

// Set writes a raw value through the variable's clamp and returns the
// stored (post-clamp) value. Writing an unknown variable is an error;
// variables are created only at construction.
func (s *State) Set(section, variable string, raw float64) (float64, error) {
	vars, ok := s.sections[section]
	if !ok {
		return 0, fmt.Errorf("set %s.%s: no such section", section, variable)
	}
	if _, ok := vars[variable]; !ok {
		return 0, fmt.Errorf("set %s.%s: no such variable", section, variable)
	}
	b := s.bounds[section+"."+variable]
	v := b.Clamp(raw)
	vars[variable] = v
	return v, nil
}

// Clone deep-copies the state. Previews and snapshots work on clones so
// a blocked action never leaks partial writes into the ledger.
func (s *State) Clone() *State {
	out := &State{
		tick:     s.tick,
		sections: make(map[string]map[string]float64, len(s.sections)),
		bounds:   make(map[string]Bounds, len(s.bounds)),
	}
	for sec, vars := range s.sections {
		cp := make(map[string]float64, len(vars))
		for name, v := range vars {
			cp[name] = v
		}
		out.sections[sec] = cp
	}
	for k, b := range s.bounds {
		out.bounds[k] = b
	}
	return out
}

// Replace overwrites this state's values with those of other. Used by
// arbitration to commit an accepted preview.
func (s *State) Replace(other *State) {
	s.sections = other.Clone().sections
}

// Snapshot is the serializable form of a state version.
type Snapshot struct {
	Tick     int                           `json:"tick"`
	Sections map[string]map[string]float64 `json:"sections"`
}

// Snapshot captures the current values. The returned maps are copies.
func (s *State) Snapshot() Snapshot {
	out := Snapshot{Tick: s.tick, Sections: make(map[string]map[string]float64, len(s.sections))}
	for sec, vars := range s.sections {
		cp := make(map[string]float64, len(vars))
		for name, v := range vars {
			cp[name] = v
		}
		out.Sections[sec] = cp
	}
	return out
}

// Variables lists every "Section.variable" key in deterministic order.
func (s *State) Variables() []string {
	keys := make([]string, 0, len(s.bounds))
	for k := range s.bounds {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func splitRef(ref string) (section, variable string, ok bool) {
	for i := 0; i < len(ref); i++ {
		if ref[i] == '.' {
			return ref[:i], ref[i+1:], true
		}
	}
	return "", "", false
}

func isCanonical(sec string) bool {
	for _, c := range SectionOrder {
		if c == sec {
			return true
		}
	}
	return false
}
