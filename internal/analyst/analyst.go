// Package analyst aggregates a finished run's snapshots into the
// metrics the closing report is written from.
package analyst

import (
	"math"
	"sort"

	"github.com/talgya/polis/internal/arbiter"
	"github.com/talgya/polis/internal/worldstate"
)

// VariableStats summarizes one world variable over a run.
type VariableStats struct {
	Variable   string  `json:"variable"`
	First      float64 `json:"first"`
	Last       float64 `json:"last"`
	Delta      float64 `json:"delta"`
	Min        float64 `json:"min"`
	Max        float64 `json:"max"`
	PeakTick   int     `json:"peak_tick"`
	Volatility float64 `json:"volatility"`
}

// Breach records a tick where a guardrailed variable sat below its
// floor. Arbitration blocks actions that would cross a floor, so a
// breach here means an exogenous event pushed it under.
type Breach struct {
	Guardrail string  `json:"guardrail"`
	Variable  string  `json:"variable"`
	Tick      int     `json:"tick"`
	Value     float64 `json:"value"`
	Floor     float64 `json:"floor"`
}

// Report is the aggregate handed to the provider for the closing
// narrative, and printed by the CLI.
type Report struct {
	Ticks         int             `json:"ticks"`
	Variables     []VariableStats `json:"variables"`
	PinnedAtBound []string        `json:"pinned_at_bound,omitempty"`
	FloorBreaches []Breach        `json:"floor_breaches,omitempty"`

	// MaxMovementTick is the tick whose summed absolute change across
	// all variables was largest. Zero when fewer than two snapshots.
	MaxMovementTick int `json:"max_movement_tick,omitempty"`
}

// Aggregate computes per-variable trajectories from tick-ordered
// snapshots. Variables absent from a snapshot are skipped for that
// tick rather than treated as zero.
func Aggregate(snaps []worldstate.Snapshot, guardrails []arbiter.Guardrail) Report {
	report := Report{Ticks: len(snaps)}
	if len(snaps) == 0 {
		return report
	}

	series := map[string][]float64{}
	for _, snap := range snaps {
		for section, vars := range snap.Sections {
			for name, val := range vars {
				key := section + "." + name
				series[key] = append(series[key], val)
			}
		}
	}

	keys := make([]string, 0, len(series))
	for k := range series {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		vals := series[key]
		stats := VariableStats{
			Variable: key,
			First:    vals[0],
			Last:     vals[len(vals)-1],
			Min:      vals[0],
			Max:      vals[0],
		}
		stats.Delta = stats.Last - stats.First

		var absSum float64
		peak := 0
		for i, v := range vals {
			if v < stats.Min {
				stats.Min = v
			}
			if v > stats.Max {
				stats.Max = v
				peak = i
			}
			if i > 0 {
				absSum += math.Abs(v - vals[i-1])
			}
		}
		stats.PeakTick = snaps[peak].Tick
		if len(vals) > 1 {
			stats.Volatility = absSum / float64(len(vals)-1)
		}
		report.Variables = append(report.Variables, stats)

		if pinned(vals, boundsFor(key)) {
			report.PinnedAtBound = append(report.PinnedAtBound, key)
		}
	}

	report.FloorBreaches = breaches(snaps, guardrails)
	report.MaxMovementTick = maxMovementTick(snaps)
	return report
}

// maxMovementTick sums |change| across every variable between
// consecutive snapshots and returns the tick with the largest total.
func maxMovementTick(snaps []worldstate.Snapshot) int {
	best, bestTick := 0.0, 0
	for i := 1; i < len(snaps); i++ {
		total := 0.0
		for section, vars := range snaps[i].Sections {
			prev, ok := snaps[i-1].Sections[section]
			if !ok {
				continue
			}
			for name, val := range vars {
				if pv, ok := prev[name]; ok {
					total += math.Abs(val - pv)
				}
			}
		}
		if total > best {
			best, bestTick = total, snaps[i].Tick
		}
	}
	return bestTick
}

// pinned reports whether the variable sat at one of its bounds for at
// least half the run, the usual sign of a saturated dynamic.
func pinned(vals []float64, b worldstate.Bounds) bool {
	if len(vals) == 0 {
		return false
	}
	atBound := 0
	for _, v := range vals {
		if v == b.Lo || (!math.IsInf(b.Hi, 1) && v == b.Hi) {
			atBound++
		}
	}
	return atBound*2 >= len(vals)
}

func boundsFor(key string) worldstate.Bounds {
	section, name := splitKey(key)
	return worldstate.DefaultBounds(section, name)
}

func splitKey(key string) (string, string) {
	for i := 0; i < len(key); i++ {
		if key[i] == '.' {
			return key[:i], key[i+1:]
		}
	}
	return "", key
}

func breaches(snaps []worldstate.Snapshot, guardrails []arbiter.Guardrail) []Breach {
	var out []Breach
	for _, snap := range snaps {
		for _, g := range guardrails {
			section, name := splitKey(g.Variable)
			vars, ok := snap.Sections[section]
			if !ok {
				continue
			}
			val, ok := vars[name]
			if !ok {
				continue
			}
			if val < g.Floor {
				out = append(out, Breach{
					Guardrail: g.Name, Variable: g.Variable,
					Tick: snap.Tick, Value: val, Floor: g.Floor,
				})
			}
		}
	}
	return out
}
