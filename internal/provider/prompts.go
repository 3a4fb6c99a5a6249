package provider

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/talgya/polis/internal/roles"
)

const bootstrapSystemPrompt = `You are the world-builder for a turn-based society simulation.

Given the user's scenario, invent a coherent starting world and a small cast of independent roles (3-6) that will negotiate and act against it.

The world state has exactly six sections: Resources, Society, State, Economy, Infrastructure, Environment. Variables under Resources (and population) are non-negative stocks; everything else is a rate or index in [0,1].

Respond with ONLY valid JSON (no markdown fences, no prose) matching:
{
  "context_summary": "two or three sentences of setting",
  "world_state_initial": {
    "Resources": {"food": 10000, "coinage": 500, ...},
    "Society": {"population": 1200, "morale": 0.6, ...},
    "State": {"stability": 0.5, "legitimacy": 0.5, ...},
    "Economy": {"tax_rate": 0.2, ...},
    "Infrastructure": {"roads_quality": 0.4, ...},
    "Environment": {"harvest_quality": 0.5, ...}
  },
  "role_specs": [
    {"id": "crown", "role_name": "The Crown", "mandate": "...", "incentives": "...", "observables": ["State.stability", "Resources.coinage"]}
  ]
}

Role ids must be short lowercase identifiers, unique, stable.`

const messagesSystemPrompt = `You are playing one role in a turn-based society simulation. This turn you may send at most %d messages to other roles to negotiate.

Each message has an intent: "propose" (offer terms), "request", "counter", "accept" (agree to terms you received, echoing them exactly), "commit" (bind yourself to terms), or "inform".

Terms in "content" map a world variable (like "Economy.tax_rate" or "Resources.food") to an effect expression: a signed absolute change ("+0.05", "-200") or a signed percentage of the current value ("+10%%", "-5%%").

To accept a proposal from your inbox, send "accept" with the proposal's content copied exactly.

Respond with ONLY valid JSON (no markdown fences):
{"messages": [{"receivers": ["role_id"], "intent": "propose", "content": {"Economy.tax_rate": "-0.05"}, "valid_until_tick": %d}]}

An empty list {"messages": []} is a valid answer.`

const decisionSystemPrompt = `You are playing one role in a turn-based society simulation. Decide ONE action for this turn, in line with your mandate.

Actions are free-form: you invent the name and plan. The engine only interprets "expected_effects": an ordered list of {"target", "change"} pairs, where target is a world variable like "State.stability" and change is a signed absolute ("+0.05", "-200") or signed percentage ("+10%%", "-5%%") expression.

Respond with ONLY valid JSON (no markdown fences):
{"action_name": "...", "plan": "...", "expected_effects": [{"target": "Resources.food", "change": "+5%%"}], "risks": "...", "justification": "..."}`

const eventsSystemPrompt = `You forecast exogenous events for a turn-based society simulation: shocks outside any role's control (weather, disease, raids, windfalls).

Propose 0-4 candidate events for the coming turn, each with a probability in [0,1] and expected effects on world variables. Effects use signed absolute ("+0.05", "-200") or signed percentage ("+10%", "-5%") expressions.

Respond with ONLY valid JSON (no markdown fences):
{"events": [{"name": "late_frost", "probability": 0.2, "expected_effects": [{"target": "Environment.harvest_quality", "change": "-0.2"}]}]}`

const analysisSystemPrompt = `You are the analyst for a completed society simulation run. Write a concise narrative report: what changed, which negotiations mattered, which shocks hit, and how the run ended. Plain prose, no JSON.`

func rolePreamble(role *roles.Role) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s (%s).\nMandate: %s\n", role.Name, role.ID, role.Mandate)
	if role.Incentives != "" {
		fmt.Fprintf(&b, "Incentives: %s\n", role.Incentives)
	}
	if len(role.Observables) > 0 {
		fmt.Fprintf(&b, "You watch: %s\n", strings.Join(role.Observables, ", "))
	}
	return b.String()
}

func viewPrompt(view RoleView) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Tick %d of %d.\n\n", view.Tick, view.TotalTicks)

	world, _ := json.Marshal(view.World.Sections)
	fmt.Fprintf(&b, "World state:\n%s\n", world)

	if len(view.Inbox) > 0 {
		b.WriteString("\nYour inbox:\n")
		for _, m := range view.Inbox {
			content, _ := json.Marshal(m.Content)
			fmt.Fprintf(&b, "- from %s [%s] valid until tick %d: %s\n",
				m.Sender, m.Intent, m.ValidUntilTick, content)
		}
	}
	return b.String()
}
