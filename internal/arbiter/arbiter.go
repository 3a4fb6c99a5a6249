// Package arbiter merges coordinated and individual actions into one
// deterministic, guardrail-checked sequence of effect applications.
// Order matters: each action previews against the cumulative result of
// every earlier accepted action in the same tick, so the same action
// can pass or be blocked depending on its position. That is the
// resource-contention model, not an accident.
package arbiter

import (
	"log/slog"
	"sort"

	"github.com/talgya/polis/internal/effect"
	"github.com/talgya/polis/internal/roles"
	"github.com/talgya/polis/internal/worldstate"
)

// Action is one proposed mutation of the world: a free-form name with
// a strictly typed effect list. The engine never branches on the name.
type Action struct {
	Role          string         `json:"role"`
	Name          string         `json:"name"`
	Plan          string         `json:"plan,omitempty"`
	Effects       []effect.Delta `json:"effects"`
	Risks         string         `json:"risks,omitempty"`
	Justification string         `json:"justification,omitempty"`
	Coordinated   bool           `json:"coordinated"`
	Partners      []string       `json:"partners,omitempty"`
}

// Guardrail is a configured floor on one world variable, evaluated
// against the preview state before an action commits.
type Guardrail struct {
	Name     string  `json:"name" yaml:"name"`
	Variable string  `json:"variable" yaml:"variable"`
	Floor    float64 `json:"floor" yaml:"floor"`
}

// Status is the arbitration verdict for one action.
type Status string

const (
	// StatusApplied: the preview passed every guardrail and became
	// the new current state.
	StatusApplied Status = "applied"

	// StatusBlocked: the preview violated a guardrail floor; the
	// world is unchanged by this action.
	StatusBlocked Status = "blocked"

	// StatusFiltered: every effective change fell below the
	// negligible-change thresholds; dropped without mutation.
	StatusFiltered Status = "filtered"
)

// Outcome records one action's verdict for the tick log.
type Outcome struct {
	Action  Action          `json:"action"`
	Status  Status          `json:"status"`
	Reason  string          `json:"reason,omitempty"`
	Changes []effect.Change `json:"changes,omitempty"`
}

// Engine applies actions strictly sequentially over a shared state.
type Engine struct {
	registry   *roles.Registry
	guardrails []Guardrail
	eps        effect.Epsilon
}

func New(registry *roles.Registry, guardrails []Guardrail, eps effect.Epsilon) *Engine {
	return &Engine{registry: registry, guardrails: guardrails, eps: eps}
}

// Resolve orders both priority groups, applies them one at a time
// against st, and returns an outcome per action: coordinated outcomes
// first, then individual, each group in arbitration order. st is
// mutated in place by the accepted actions.
func (e *Engine) Resolve(st *worldstate.State, coordinated, individual []Action) []Outcome {
	out := make([]Outcome, 0, len(coordinated)+len(individual))
	for _, group := range [][]Action{coordinated, individual} {
		e.order(group)
		for _, a := range group {
			out = append(out, e.resolveOne(st, a))
		}
	}
	return out
}

// order sorts a priority group by role registration order with a
// stable tie-break on role id.
func (e *Engine) order(group []Action) {
	sort.SliceStable(group, func(i, j int) bool {
		return e.registry.Less(group[i].Role, group[j].Role)
	})
}

func (e *Engine) resolveOne(st *worldstate.State, a Action) Outcome {
	preview := st.Clone()
	changes, err := effect.ApplyAll(preview, a.Effects)
	if err != nil {
		// Deltas are validated at parse time, so this only fires when
		// an action arrives with a stale target. Reject it whole.
		slog.Warn("action rejected in arbitration", "role", a.Role, "action", a.Name, "error", err)
		return Outcome{Action: a, Status: StatusBlocked, Reason: err.Error()}
	}

	if effect.Negligible(changes, e.eps) {
		return Outcome{Action: a, Status: StatusFiltered, Reason: "negligible change"}
	}

	for _, g := range e.guardrails {
		_, _, val, err := preview.Lookup(g.Variable)
		if err != nil {
			continue // validated at startup; missing variable cannot floor anything
		}
		if val < g.Floor {
			slog.Debug("guardrail blocked action",
				"role", a.Role, "action", a.Name, "guardrail", g.Name, "value", val, "floor", g.Floor)
			return Outcome{Action: a, Status: StatusBlocked, Reason: g.Name}
		}
	}

	st.Replace(preview)
	return Outcome{Action: a, Status: StatusApplied, Changes: changes}
}
