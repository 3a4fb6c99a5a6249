package persistence

import (
	"path/filepath"
	"testing"

	"github.com/talgya/polis/internal/arbiter"
	"github.com/talgya/polis/internal/bus"
	"github.com/talgya/polis/internal/coord"
	"github.com/talgya/polis/internal/effect"
	"github.com/talgya/polis/internal/events"
	"github.com/talgya/polis/internal/roles"
	"github.com/talgya/polis/internal/worldstate"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "polis.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRunLifecycle(t *testing.T) {
	db := openTestDB(t)

	runID, err := db.CreateRun(42, 12, "a river valley kingdom")
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	if runID == 0 {
		t.Fatal("expected non-zero run id")
	}

	roster := []*roles.Role{
		{ID: "crown", Name: "The Crown", Mandate: "keep order", Observables: []string{"State.stability"}},
		{ID: "guild", Name: "Merchant Guild", Mandate: "grow trade"},
	}
	if err := db.SaveRoles(runID, roster); err != nil {
		t.Fatalf("save roles: %v", err)
	}

	if err := db.FinishRun(runID, "the kingdom endured"); err != nil {
		t.Fatalf("finish run: %v", err)
	}
	report, err := db.Report(runID)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if report != "the kingdom endured" {
		t.Fatalf("report = %q", report)
	}
}

func TestSaveTickAndLoadSnapshots(t *testing.T) {
	db := openTestDB(t)

	runID, err := db.CreateRun(7, 3, "test")
	if err != nil {
		t.Fatalf("create run: %v", err)
	}

	for tick := 1; tick <= 3; tick++ {
		snap := worldstate.Snapshot{
			Tick: tick,
			Sections: map[string]map[string]float64{
				"State":     {"stability": 0.5 + float64(tick)*0.01},
				"Resources": {"food": 10000 - float64(tick)*100},
			},
		}
		msgs := []*bus.Message{{
			ID: "msg-" + string(rune('a'+tick)), Sender: "crown",
			Receivers: []string{"guild"}, Intent: bus.IntentPropose,
			Content: map[string]string{"Economy.tax_rate": "-0.05"}, PostedTick: tick, ValidUntilTick: tick + 1,
		}}
		agreements := []coord.Agreement{{
			Initiator: "crown", Partners: []string{"guild"},
			Terms: map[string]string{"Economy.tax_rate": "-0.05"},
		}}
		outcomes := []arbiter.Outcome{{
			Action: arbiter.Action{Role: "crown", Name: "patrol", Coordinated: false},
			Status: arbiter.StatusApplied,
			Changes: []effect.Change{
				{Section: "State", Variable: "stability", Before: 0.5, After: 0.51},
			},
		}}
		fired := []events.Fired{{Name: "late_frost", Probability: 0.2, Draw: 0.1}}

		if err := db.SaveTick(runID, snap, msgs, agreements, outcomes, fired); err != nil {
			t.Fatalf("save tick %d: %v", tick, err)
		}
	}

	snaps, err := db.LoadSnapshots(runID)
	if err != nil {
		t.Fatalf("load snapshots: %v", err)
	}
	if len(snaps) != 3 {
		t.Fatalf("snapshots = %d, want 3", len(snaps))
	}
	for i, s := range snaps {
		if s.Tick != i+1 {
			t.Fatalf("snapshot %d has tick %d", i, s.Tick)
		}
	}
	if got := snaps[2].Sections["Resources"]["food"]; got != 9700 {
		t.Fatalf("food at tick 3 = %v", got)
	}
}

func TestSaveTickEmptySlices(t *testing.T) {
	db := openTestDB(t)

	runID, err := db.CreateRun(1, 1, "quiet")
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	snap := worldstate.Snapshot{Tick: 1, Sections: map[string]map[string]float64{"State": {"stability": 0.5}}}
	if err := db.SaveTick(runID, snap, nil, nil, nil, nil); err != nil {
		t.Fatalf("save tick with no activity: %v", err)
	}
	snaps, err := db.LoadSnapshots(runID)
	if err != nil || len(snaps) != 1 {
		t.Fatalf("snapshots = %v, err = %v", snaps, err)
	}
}
