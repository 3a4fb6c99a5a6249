// Package effect parses effect expressions into typed deltas and
// applies them to a world state. Expressions are either a signed
// absolute amount ("+5", "-0.02") or a signed percentage of the
// variable's current value ("+10%", "-3%").
package effect

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/talgya/polis/internal/worldstate"
)

var (
	// ErrMalformedEffect marks an expression that is neither a signed
	// absolute number nor a signed percentage.
	ErrMalformedEffect = errors.New("malformed effect expression")

	// ErrUnknownVariable marks a target that resolves to no world
	// state entry. The owning action or event is rejected wholesale.
	ErrUnknownVariable = errors.New("unknown world variable")
)

// Mode distinguishes the two expression forms.
type Mode string

const (
	ModeAbsolute Mode = "absolute"
	ModePercent  Mode = "percentage"
)

// Delta is the parsed form of one effect expression, resolved against
// an existing world variable.
type Delta struct {
	Section  string  `json:"section"`
	Variable string  `json:"variable"`
	Mode     Mode    `json:"mode"`
	Amount   float64 `json:"amount"`
	Expr     string  `json:"expr"`
}

// Target returns the dotted variable reference.
func (d Delta) Target() string { return d.Section + "." + d.Variable }

// Spec is one raw effect as proposed by an external source: a target
// reference plus an unparsed expression. Order of a spec list is
// significant and preserved through parsing.
type Spec struct {
	Target string `json:"target"`
	Change string `json:"change"`
}

var exprRe = regexp.MustCompile(`^([+-]?\d*\.?\d+)(%?)$`)

// Parse resolves target against st and parses expr into a Delta.
func Parse(st *worldstate.State, target, expr string) (Delta, error) {
	sec, name, _, err := st.Lookup(target)
	if err != nil {
		return Delta{}, fmt.Errorf("%w: %q", ErrUnknownVariable, target)
	}
	s := strings.ReplaceAll(strings.TrimSpace(expr), " ", "")
	m := exprRe.FindStringSubmatch(s)
	if m == nil {
		return Delta{}, fmt.Errorf("%w: %q", ErrMalformedEffect, expr)
	}
	amount, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return Delta{}, fmt.Errorf("%w: %q", ErrMalformedEffect, expr)
	}
	mode := ModeAbsolute
	if m[2] == "%" {
		mode = ModePercent
	}
	return Delta{Section: sec, Variable: name, Mode: mode, Amount: amount, Expr: s}, nil
}

// ParseSpecs parses an ordered effect list all-or-nothing: the first
// malformed or unresolvable spec fails the whole set.
func ParseSpecs(st *worldstate.State, specs []Spec) ([]Delta, error) {
	out := make([]Delta, 0, len(specs))
	for _, sp := range specs {
		d, err := Parse(st, sp.Target, sp.Change)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// Change records the effective (post-clamp) result of applying one
// delta: what the variable was and what it became.
type Change struct {
	Section  string  `json:"section"`
	Variable string  `json:"variable"`
	Before   float64 `json:"before"`
	After    float64 `json:"after"`
}

// Effective is the realized change, after clamping.
func (c Change) Effective() float64 { return c.After - c.Before }

// Target returns the dotted variable reference.
func (c Change) Target() string { return c.Section + "." + c.Variable }

// Apply computes the new raw value for one delta, clamps it into the
// variable's range, stores it, and reports the effective change.
// Percentage deltas are relative to the variable's value at apply
// time, not at parse time.
func Apply(st *worldstate.State, d Delta) (Change, error) {
	cur, ok := st.Get(d.Section, d.Variable)
	if !ok {
		return Change{}, fmt.Errorf("%w: %q", ErrUnknownVariable, d.Target())
	}
	var raw float64
	switch d.Mode {
	case ModePercent:
		raw = cur * (1 + d.Amount/100)
	default:
		raw = cur + d.Amount
	}
	after, err := st.Set(d.Section, d.Variable, raw)
	if err != nil {
		return Change{}, err
	}
	return Change{Section: d.Section, Variable: d.Variable, Before: cur, After: after}, nil
}

// ApplyAll applies an ordered delta list in place and returns the
// effective changes. Callers wanting all-or-nothing semantics apply to
// a clone and commit via Replace.
func ApplyAll(st *worldstate.State, deltas []Delta) ([]Change, error) {
	out := make([]Change, 0, len(deltas))
	for _, d := range deltas {
		c, err := Apply(st, d)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// Epsilon holds the negligible-change thresholds. A change set is kept
// when any single change exceeds either threshold.
type Epsilon struct {
	Absolute float64
	Relative float64
}

// Negligible reports whether every effective change in the set falls
// below both thresholds. Such a set is dropped whole: no mutation, no
// guardrail evaluation, recorded as filtered.
func Negligible(changes []Change, eps Epsilon) bool {
	for _, c := range changes {
		eff := math.Abs(c.Effective())
		if eff > eps.Absolute {
			return false
		}
		if c.Before != 0 && eff/math.Abs(c.Before) > eps.Relative {
			return false
		}
	}
	return true
}
