package effect

import (
	"errors"
	"math"
	"testing"

	"github.com/talgya/polis/internal/worldstate"
)

func testState() *worldstate.State {
	return worldstate.New(map[string]map[string]float64{
		"Resources": {"food": 10000},
		"Society":   {"morale": 0.96},
		"State":     {"stability": 0.5},
	}, nil)
}

func TestParse(t *testing.T) {
	st := testState()

	cases := []struct {
		target, expr string
		mode         Mode
		amount       float64
	}{
		{"Society.morale", "+0.05", ModeAbsolute, 0.05},
		{"Society.morale", "-0.02", ModeAbsolute, -0.02},
		{"Resources.food", "+10%", ModePercent, 10},
		{"Resources.food", "-3%", ModePercent, -3},
		{"Resources.food", " - 20 % ", ModePercent, -20},
		{"morale", "0.1", ModeAbsolute, 0.1},
	}
	for _, c := range cases {
		d, err := Parse(st, c.target, c.expr)
		if err != nil {
			t.Fatalf("Parse(%q, %q): %v", c.target, c.expr, err)
		}
		if d.Mode != c.mode || d.Amount != c.amount {
			t.Fatalf("Parse(%q, %q) = %+v", c.target, c.expr, d)
		}
	}
}

func TestParse_Malformed(t *testing.T) {
	st := testState()
	for _, expr := range []string{"", "abc", "+", "%", "10%%", "1.2.3", "+-5"} {
		_, err := Parse(st, "Society.morale", expr)
		if !errors.Is(err, ErrMalformedEffect) {
			t.Fatalf("Parse(%q) error = %v, want ErrMalformedEffect", expr, err)
		}
	}
}

func TestParse_UnknownVariable(t *testing.T) {
	st := testState()
	_, err := Parse(st, "Society.nonexistent", "+1")
	if !errors.Is(err, ErrUnknownVariable) {
		t.Fatalf("error = %v, want ErrUnknownVariable", err)
	}
}

func TestApply_AbsoluteClamps(t *testing.T) {
	st := testState()
	d, _ := Parse(st, "Society.morale", "+0.10")
	c, err := Apply(st, d)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	// 0.96 + 0.10 clamps to 1.00, not 1.06.
	if c.After != 1.0 {
		t.Fatalf("after = %v, want 1.0", c.After)
	}
	if got := c.Effective(); math.Abs(got-0.04) > 1e-12 {
		t.Fatalf("effective = %v, want 0.04", got)
	}
}

func TestApply_PercentageOfCurrent(t *testing.T) {
	st := testState()
	d, _ := Parse(st, "Resources.food", "+10%")
	c, err := Apply(st, d)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if c.After != 11000 {
		t.Fatalf("food = %v, want 11000", c.After)
	}

	// A second application compounds against the new current value.
	c, _ = Apply(st, d)
	if math.Abs(c.After-12100) > 1e-9 {
		t.Fatalf("food = %v, want 12100", c.After)
	}
}

func TestParseSpecs_AllOrNothing(t *testing.T) {
	st := testState()
	_, err := ParseSpecs(st, []Spec{
		{Target: "State.stability", Change: "-0.10"},
		{Target: "Society.nonexistent", Change: "+1"},
	})
	if !errors.Is(err, ErrUnknownVariable) {
		t.Fatalf("error = %v, want ErrUnknownVariable", err)
	}
}

func TestNegligible(t *testing.T) {
	eps := Epsilon{Absolute: 1e-4, Relative: 1e-3}

	tiny := []Change{{Section: "State", Variable: "stability", Before: 0.5, After: 0.50005}}
	if !Negligible(tiny, eps) {
		t.Fatalf("5e-5 absolute and 1e-4 relative should be negligible")
	}

	// Exceeds the absolute threshold.
	abs := []Change{{Section: "State", Variable: "stability", Before: 0.5, After: 0.51}}
	if Negligible(abs, eps) {
		t.Fatalf("0.01 change should not be negligible")
	}

	// Small absolute change on a small base exceeds the relative threshold.
	rel := []Change{{Section: "State", Variable: "stability", Before: 0.001, After: 0.00109}}
	if Negligible(rel, eps) {
		t.Fatalf("9%% relative change should not be negligible")
	}

	// One significant delta keeps the whole set.
	mixed := []Change{
		{Section: "State", Variable: "stability", Before: 0.5, After: 0.500001},
		{Section: "Resources", Variable: "food", Before: 10000, After: 11000},
	}
	if Negligible(mixed, eps) {
		t.Fatalf("set with one significant delta should be kept")
	}
}
