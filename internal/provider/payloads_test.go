package provider

import (
	"errors"
	"testing"
)

func TestDecodeValidated_Bootstrap(t *testing.T) {
	raw := `{
	  "context_summary": "A river valley kingdom a thousand years ago.",
	  "world_state_initial": {
	    "Resources": {"food": 10000, "coinage": 500},
	    "Society": {"population": 1200, "morale": 0.6},
	    "State": {"stability": 0.5, "legitimacy": 0.5},
	    "Economy": {"tax_rate": 0.2},
	    "Infrastructure": {"roads_quality": 0.4},
	    "Environment": {"harvest_quality": 0.5}
	  },
	  "role_specs": [
	    {"id": "crown", "role_name": "The Crown", "mandate": "keep order", "incentives": "legitimacy", "observables": ["State.stability"]},
	    {"id": "guild", "role_name": "Merchant Guild", "mandate": "grow trade"}
	  ]
	}`
	var p BootstrapPayload
	if err := decodeValidated("bootstrap.schema.json", raw, &p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(p.RoleSpecs) != 2 || p.RoleSpecs[0].ID != "crown" {
		t.Fatalf("payload = %+v", p)
	}
	if p.WorldStateInitial["Resources"]["food"] != 10000 {
		t.Fatalf("world = %+v", p.WorldStateInitial)
	}
}

func TestDecodeValidated_StripsFences(t *testing.T) {
	raw := "```json\n{\"messages\": []}\n```"
	var p MessagesPayload
	if err := decodeValidated("messages.schema.json", raw, &p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(p.Messages) != 0 {
		t.Fatalf("messages = %v", p.Messages)
	}
}

func TestDecodeValidated_RejectsBadIntent(t *testing.T) {
	raw := `{"messages": [{"receivers": ["crown"], "intent": "threat", "content": {}, "valid_until_tick": 2}]}`
	var p MessagesPayload
	err := decodeValidated("messages.schema.json", raw, &p)
	if !errors.Is(err, ErrSchemaInvalid) {
		t.Fatalf("error = %v, want ErrSchemaInvalid", err)
	}
}

func TestDecodeValidated_RejectsTooManyMessages(t *testing.T) {
	raw := `{"messages": [
	  {"receivers": ["a"], "intent": "inform", "content": {}, "valid_until_tick": 2},
	  {"receivers": ["a"], "intent": "inform", "content": {}, "valid_until_tick": 2},
	  {"receivers": ["a"], "intent": "inform", "content": {}, "valid_until_tick": 2}
	]}`
	var p MessagesPayload
	if err := decodeValidated("messages.schema.json", raw, &p); !errors.Is(err, ErrSchemaInvalid) {
		t.Fatalf("error = %v, want ErrSchemaInvalid", err)
	}
}

func TestDecodeValidated_Decision(t *testing.T) {
	raw := `{
	  "action_name": "lower_tolls",
	  "plan": "reduce river tolls to draw caravans",
	  "expected_effects": [
	    {"target": "Economy.trade_intensity", "change": "+0.05"},
	    {"target": "Resources.coinage", "change": "-5%"}
	  ],
	  "risks": "short-term revenue loss",
	  "justification": "trade feeds the treasury next season"
	}`
	var p ActionPayload
	if err := decodeValidated("decision.schema.json", raw, &p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(p.ExpectedEffects) != 2 || p.ExpectedEffects[1].Change != "-5%" {
		t.Fatalf("effects = %+v", p.ExpectedEffects)
	}
}

func TestDecodeValidated_RejectsProbabilityOutOfRange(t *testing.T) {
	raw := `{"events": [{"name": "flood", "probability": 1.5, "expected_effects": []}]}`
	var p EventsPayload
	if err := decodeValidated("events.schema.json", raw, &p); !errors.Is(err, ErrSchemaInvalid) {
		t.Fatalf("error = %v, want ErrSchemaInvalid", err)
	}
}

func TestDecodeValidated_NotJSON(t *testing.T) {
	var p EventsPayload
	if err := decodeValidated("events.schema.json", "I think a flood is likely.", &p); !errors.Is(err, ErrSchemaInvalid) {
		t.Fatalf("error = %v, want ErrSchemaInvalid", err)
	}
}
