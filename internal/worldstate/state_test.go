package worldstate

import (
	"math"
	"testing"
)

func testState() *State {
	return New(map[string]map[string]float64{
		"Resources": {"food": 10000, "coinage": 500},
		"Society":   {"morale": 0.96, "population": 1200},
		"State":     {"stability": 0.5, "legitimacy": 0.6},
	}, nil)
}

func TestNew_ClampsInitialValues(t *testing.T) {
	st := New(map[string]map[string]float64{
		"Society": {"morale": 1.4},
		"Resources": {"food": -50},
	}, nil)
	if v, _ := st.Get("Society", "morale"); v != 1.0 {
		t.Fatalf("morale should clamp to 1.0, got %v", v)
	}
	if v, _ := st.Get("Resources", "food"); v != 0 {
		t.Fatalf("food should clamp to 0, got %v", v)
	}
}

func TestDefaultBounds(t *testing.T) {
	if b := DefaultBounds("Resources", "food"); !math.IsInf(b.Hi, 1) {
		t.Fatalf("food should be an unbounded stock, got hi=%v", b.Hi)
	}
	if b := DefaultBounds("Society", "population"); !math.IsInf(b.Hi, 1) {
		t.Fatalf("population should be an unbounded stock")
	}
	if b := DefaultBounds("State", "stability"); b.Hi != 1 {
		t.Fatalf("stability should be a [0,1] rate, got hi=%v", b.Hi)
	}
}

func TestLookup_DottedAndBare(t *testing.T) {
	st := testState()

	sec, name, v, err := st.Lookup("State.stability")
	if err != nil {
		t.Fatalf("dotted lookup: %v", err)
	}
	if sec != "State" || name != "stability" || v != 0.5 {
		t.Fatalf("dotted lookup got %s.%s=%v", sec, name, v)
	}

	sec, _, _, err = st.Lookup("morale")
	if err != nil {
		t.Fatalf("bare lookup: %v", err)
	}
	if sec != "Society" {
		t.Fatalf("bare lookup resolved to section %s", sec)
	}

	if _, _, _, err := st.Lookup("Society.nonexistent"); err == nil {
		t.Fatalf("expected error for unknown variable")
	}
	if _, _, _, err := st.Lookup("nonexistent"); err == nil {
		t.Fatalf("expected error for unknown bare variable")
	}
}

func TestSet_ClampsAndRejectsUnknown(t *testing.T) {
	st := testState()

	v, err := st.Set("Society", "morale", 1.06)
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	if v != 1.0 {
		t.Fatalf("set should return the clamped value, got %v", v)
	}
	if got, _ := st.Get("Society", "morale"); got != 1.0 {
		t.Fatalf("stored value should be clamped, got %v", got)
	}

	if _, err := st.Set("Society", "nonexistent", 1); err == nil {
		t.Fatalf("set of unknown variable should fail")
	}
}

func TestClone_IsIndependent(t *testing.T) {
	st := testState()
	cp := st.Clone()
	if _, err := cp.Set("State", "stability", 0.1); err != nil {
		t.Fatalf("set on clone: %v", err)
	}
	if v, _ := st.Get("State", "stability"); v != 0.5 {
		t.Fatalf("mutating clone leaked into original: %v", v)
	}
}

func TestReplace_CommitsPreview(t *testing.T) {
	st := testState()
	preview := st.Clone()
	preview.Set("Resources", "food", 11000)
	st.Replace(preview)
	if v, _ := st.Get("Resources", "food"); v != 11000 {
		t.Fatalf("replace should adopt preview values, got %v", v)
	}
}

func TestSnapshot_CopiesValues(t *testing.T) {
	st := testState()
	st.SetTick(3)
	snap := st.Snapshot()
	if snap.Tick != 3 {
		t.Fatalf("snapshot tick = %d", snap.Tick)
	}
	snap.Sections["State"]["stability"] = 0.0
	if v, _ := st.Get("State", "stability"); v != 0.5 {
		t.Fatalf("snapshot must not alias live state")
	}
}
