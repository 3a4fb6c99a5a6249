// Package events samples externally proposed exogenous events against
// their probabilities and applies fired effects to the world. Fired
// effects clamp but skip guardrails: shocks are outside any role's
// control and may push the world through a floor.
package events

import (
	"log/slog"

	"github.com/talgya/polis/internal/effect"
	"github.com/talgya/polis/internal/entropy"
	"github.com/talgya/polis/internal/worldstate"
)

// Proposal is one candidate event for a tick, as proposed externally.
// Effects keep their proposal order.
type Proposal struct {
	Name        string        `json:"name"`
	Probability float64       `json:"probability"`
	Effects     []effect.Spec `json:"effects"`
}

// Fired records an event sampled as occurring, with its draw and the
// effective changes it caused.
type Fired struct {
	Name        string          `json:"name"`
	Probability float64         `json:"probability"`
	Draw        float64         `json:"draw"`
	Changes     []effect.Change `json:"changes"`
}

// Rejected records a proposal dropped before sampling because its
// effects failed interpretation. Non-fatal.
type Rejected struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// Engine samples and applies events with a deterministic source.
type Engine struct {
	src *entropy.Source
}

func New(src *entropy.Source) *Engine {
	return &Engine{src: src}
}

// Run processes the tick's proposals in order. Each proposal is first
// validated whole (all-or-nothing); valid ones fire iff the
// deterministic draw for (tick, index, name) is below the probability,
// clamped to [0,1]. Fired effects mutate st directly.
func (e *Engine) Run(st *worldstate.State, tick int, proposals []Proposal) ([]Fired, []Rejected) {
	var fired []Fired
	var rejected []Rejected
	for i, p := range proposals {
		deltas, err := effect.ParseSpecs(st, p.Effects)
		if err != nil {
			slog.Warn("event rejected", "tick", tick, "event", p.Name, "error", err)
			rejected = append(rejected, Rejected{Name: p.Name, Reason: err.Error()})
			continue
		}

		prob := p.Probability
		if prob < 0 {
			prob = 0
		} else if prob > 1 {
			prob = 1
		}
		draw := e.src.Draw(tick, i, p.Name)
		if draw >= prob {
			continue
		}

		preview := st.Clone()
		changes, err := effect.ApplyAll(preview, deltas)
		if err != nil {
			// Cannot happen after ParseSpecs against the same state,
			// but never let a half-applied event through.
			slog.Error("event application failed", "tick", tick, "event", p.Name, "error", err)
			rejected = append(rejected, Rejected{Name: p.Name, Reason: err.Error()})
			continue
		}
		st.Replace(preview)
		fired = append(fired, Fired{Name: p.Name, Probability: prob, Draw: draw, Changes: changes})
		slog.Info("event fired", "tick", tick, "event", p.Name, "draw", draw, "probability", prob)
	}
	return fired, rejected
}
