package coord

import (
	"testing"

	"github.com/talgya/polis/internal/bus"
	"github.com/talgya/polis/internal/worldstate"
)

func postMsg(t *testing.T, b *bus.Bus, tick int, sender string, receivers []string, intent bus.Intent, content map[string]string) *bus.Message {
	t.Helper()
	m := &bus.Message{
		Sender:         sender,
		Receivers:      receivers,
		Intent:         intent,
		Content:        content,
		ValidUntilTick: tick + 2,
	}
	if err := b.Post(tick, m); err != nil {
		t.Fatalf("post: %v", err)
	}
	return m
}

func testState() *worldstate.State {
	return worldstate.New(map[string]map[string]float64{
		"Resources": {"food": 10000, "coinage": 500},
		"Economy":   {"tax_rate": 0.2},
	}, nil)
}

func TestExtract_PerAcceptor(t *testing.T) {
	b := bus.New(5)
	b.GC(0)
	terms := map[string]string{"Economy.tax_rate": "-0.05"}
	postMsg(t, b, 0, "crown", []string{"guild", "church"}, bus.IntentPropose, terms)
	postMsg(t, b, 0, "guild", []string{"crown"}, bus.IntentAccept, terms)

	got := Extract(b.VisibleAt(0), PolicyPerAcceptor)
	if len(got) != 1 {
		t.Fatalf("agreements = %d, want 1", len(got))
	}
	a := got[0]
	if a.Initiator != "crown" || len(a.Partners) != 1 || a.Partners[0] != "guild" {
		t.Fatalf("agreement = %+v", a)
	}
}

func TestExtract_SignatureNormalization(t *testing.T) {
	b := bus.New(5)
	b.GC(0)
	postMsg(t, b, 0, "crown", []string{"guild"}, bus.IntentPropose,
		map[string]string{"Resources.coinage": "-05%"})
	// Same terms, different spelling.
	postMsg(t, b, 0, "guild", []string{"crown"}, bus.IntentAccept,
		map[string]string{"Resources.coinage": " - 5 % "})

	got := Extract(b.VisibleAt(0), PolicyPerAcceptor)
	if len(got) != 1 {
		t.Fatalf("normalized signatures should match, agreements = %d", len(got))
	}
}

func TestExtract_Unanimous(t *testing.T) {
	terms := map[string]string{"Economy.tax_rate": "-0.05"}

	b := bus.New(5)
	b.GC(0)
	postMsg(t, b, 0, "crown", []string{"guild", "church"}, bus.IntentPropose, terms)
	postMsg(t, b, 0, "guild", []string{"crown"}, bus.IntentAccept, terms)

	if got := Extract(b.VisibleAt(0), PolicyUnanimous); len(got) != 0 {
		t.Fatalf("partial acceptance under unanimous policy should form no agreement, got %d", len(got))
	}

	b2 := bus.New(5)
	b2.GC(0)
	postMsg(t, b2, 0, "crown", []string{"guild", "church"}, bus.IntentPropose, terms)
	postMsg(t, b2, 0, "guild", []string{"crown"}, bus.IntentAccept, terms)
	postMsg(t, b2, 0, "church", []string{"crown"}, bus.IntentCommit, terms)

	got := Extract(b2.VisibleAt(0), PolicyUnanimous)
	if len(got) != 1 {
		t.Fatalf("agreements = %d, want 1", len(got))
	}
	if len(got[0].Partners) != 2 {
		t.Fatalf("partners = %v, want both receivers", got[0].Partners)
	}
}

func TestExtract_ResolvedNotConsumedTwice(t *testing.T) {
	b := bus.New(5)
	b.GC(0)
	terms := map[string]string{"Economy.tax_rate": "-0.05"}
	postMsg(t, b, 0, "crown", []string{"guild"}, bus.IntentPropose, terms)
	postMsg(t, b, 0, "guild", []string{"crown"}, bus.IntentAccept, terms)

	if got := Extract(b.VisibleAt(0), PolicyPerAcceptor); len(got) != 1 {
		t.Fatalf("first pass agreements = %d, want 1", len(got))
	}
	if got := Extract(b.VisibleAt(1), PolicyPerAcceptor); len(got) != 0 {
		t.Fatalf("second pass should find nothing, got %d", len(got))
	}
}

func TestExtract_IgnoresNonReceivers(t *testing.T) {
	b := bus.New(5)
	b.GC(0)
	terms := map[string]string{"Economy.tax_rate": "-0.05"}
	postMsg(t, b, 0, "crown", []string{"guild"}, bus.IntentPropose, terms)
	// church was never addressed.
	postMsg(t, b, 0, "church", []string{"crown"}, bus.IntentAccept, terms)

	if got := Extract(b.VisibleAt(0), PolicyPerAcceptor); len(got) != 0 {
		t.Fatalf("acceptance from non-receiver should not match, got %d", len(got))
	}
}

func TestBuildCoordinated_SumsOverlappingDeltas(t *testing.T) {
	st := testState()
	agreements := []Agreement{
		{Initiator: "crown", Partners: []string{"guild"}, Terms: map[string]string{"Resources.food": "+100"}},
		{Initiator: "crown", Partners: []string{"church"}, Terms: map[string]string{"Resources.food": "+50", "Economy.tax_rate": "-0.02"}},
	}
	got := BuildCoordinated(st, agreements)
	if len(got) != 1 {
		t.Fatalf("coordinated actions = %d, want 1", len(got))
	}
	ca := got[0]
	if len(ca.Partners) != 2 {
		t.Fatalf("partners = %v", ca.Partners)
	}
	if len(ca.Effects) != 2 {
		t.Fatalf("effects = %d, want 2 (food summed)", len(ca.Effects))
	}
	if ca.Effects[0].Target() != "Resources.food" || ca.Effects[0].Amount != 150 {
		t.Fatalf("food delta = %+v, want summed +150", ca.Effects[0])
	}
}

func TestBuildCoordinated_RejectsUnknownTermsWholesale(t *testing.T) {
	st := testState()
	agreements := []Agreement{
		{Initiator: "crown", Partners: []string{"guild"}, Terms: map[string]string{
			"Resources.food":   "+100",
			"Society.nonsense": "+1",
		}},
		{Initiator: "church", Partners: []string{"crown"}, Terms: map[string]string{"Resources.coinage": "+10"}},
	}
	got := BuildCoordinated(st, agreements)
	if len(got) != 1 {
		t.Fatalf("coordinated actions = %d, want only the valid agreement", len(got))
	}
	if got[0].Initiator != "church" {
		t.Fatalf("surviving initiator = %s", got[0].Initiator)
	}
}
