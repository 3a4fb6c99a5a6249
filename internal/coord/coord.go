// Package coord scans bus history for propose/accept/commit patterns
// and turns matched negotiations into Agreements and merged
// CoordinatedActions. Responses are matched to proposals by a
// normalized content signature, so a re-sent or reformatted copy of
// the same terms still counts as the same proposal.
package coord

import (
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/talgya/polis/internal/bus"
	"github.com/talgya/polis/internal/effect"
	"github.com/talgya/polis/internal/worldstate"
)

// Policy decides how a multi-receiver proposal resolves.
type Policy string

const (
	// PolicyPerAcceptor forms one Agreement per accepting or
	// committing receiver. Default.
	PolicyPerAcceptor Policy = "per_acceptor"

	// PolicyUnanimous forms a single Agreement only when every
	// receiver accepted or committed.
	PolicyUnanimous Policy = "unanimous"
)

// Agreement is a matched proposal: immutable once created.
type Agreement struct {
	Initiator string            `json:"initiator"`
	Partners  []string          `json:"partners"`
	Terms     map[string]string `json:"terms"`
}

// CoordinatedAction is the merged effect set of one initiator's
// agreements this tick. It enters arbitration ahead of individual
// actions.
type CoordinatedAction struct {
	Initiator     string         `json:"initiator"`
	Partners      []string       `json:"partners"`
	Name          string         `json:"name"`
	Effects       []effect.Delta `json:"effects"`
	Justification string         `json:"justification"`
}

func proposeLike(i bus.Intent) bool {
	return i == bus.IntentPropose || i == bus.IntentRequest || i == bus.IntentCounter
}

func responseLike(i bus.Intent) bool {
	return i == bus.IntentAccept || i == bus.IntentCommit
}

// Extract matches unresolved proposals against accept/commit responses
// in the still-valid message view and returns the resulting
// agreements. Matched proposals and responses are marked resolved so
// they are not consumed twice on later ticks.
func Extract(visible []*bus.Message, policy Policy) []Agreement {
	var agreements []Agreement
	for _, m := range visible {
		if m.Resolved || !proposeLike(m.Intent) || len(m.Receivers) == 0 {
			continue
		}
		sig := contentSignature(m.Content)

		accepted := make(map[string]*bus.Message)
		for _, resp := range visible {
			if resp.Resolved || !responseLike(resp.Intent) {
				continue
			}
			if resp.PostedTick < m.PostedTick {
				continue
			}
			if !containsRole(m.Receivers, resp.Sender) {
				continue
			}
			if contentSignature(resp.Content) != sig {
				continue
			}
			if _, dup := accepted[resp.Sender]; !dup {
				accepted[resp.Sender] = resp
			}
		}
		if len(accepted) == 0 {
			continue
		}

		switch policy {
		case PolicyUnanimous:
			if len(accepted) < len(m.Receivers) {
				continue
			}
			agreements = append(agreements, Agreement{
				Initiator: m.Sender,
				Partners:  sortedRoles(m.Receivers),
				Terms:     copyTerms(m.Content),
			})
			m.Resolved = true
			for _, resp := range accepted {
				resp.Resolved = true
			}
		default: // per acceptor
			for _, partner := range sortedKeys(accepted) {
				agreements = append(agreements, Agreement{
					Initiator: m.Sender,
					Partners:  []string{partner},
					Terms:     copyTerms(m.Content),
				})
				accepted[partner].Resolved = true
			}
			m.Resolved = true
		}
	}
	return dedupe(agreements)
}

// BuildCoordinated merges agreements into one CoordinatedAction per
// initiator, in order of first appearance. Overlapping deltas to the
// same variable and mode are summed. An agreement whose terms fail to
// parse against the world contributes nothing; the rest still merge.
func BuildCoordinated(st *worldstate.State, agreements []Agreement) []CoordinatedAction {
	var order []string
	byInitiator := make(map[string]*CoordinatedAction)

	for _, a := range agreements {
		deltas, err := parseTerms(st, a.Terms)
		if err != nil {
			slog.Warn("agreement terms rejected",
				"initiator", a.Initiator, "partners", a.Partners, "error", err)
			continue
		}
		ca, ok := byInitiator[a.Initiator]
		if !ok {
			ca = &CoordinatedAction{
				Initiator: a.Initiator,
				Name:      "joint_pact_" + a.Initiator,
			}
			byInitiator[a.Initiator] = ca
			order = append(order, a.Initiator)
		}
		ca.Partners = mergeRoles(ca.Partners, a.Partners)
		for _, d := range deltas {
			ca.Effects = mergeDelta(ca.Effects, d)
		}
	}

	out := make([]CoordinatedAction, 0, len(order))
	for _, id := range order {
		ca := byInitiator[id]
		ca.Justification = "merged agreements with " + strings.Join(ca.Partners, ", ")
		out = append(out, *ca)
	}
	return out
}

func parseTerms(st *worldstate.State, terms map[string]string) ([]effect.Delta, error) {
	keys := make([]string, 0, len(terms))
	for k := range terms {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	specs := make([]effect.Spec, 0, len(keys))
	for _, k := range keys {
		specs = append(specs, effect.Spec{Target: k, Change: terms[k]})
	}
	return effect.ParseSpecs(st, specs)
}

// mergeDelta sums d into an existing entry with the same target and
// mode, or appends it preserving order.
func mergeDelta(deltas []effect.Delta, d effect.Delta) []effect.Delta {
	for i := range deltas {
		if deltas[i].Section == d.Section && deltas[i].Variable == d.Variable && deltas[i].Mode == d.Mode {
			deltas[i].Amount += d.Amount
			deltas[i].Expr = deltas[i].Expr + "," + d.Expr
			return deltas
		}
	}
	return append(deltas, d)
}

var leadingZeros = regexp.MustCompile(`^([+-])0+(\d)`)

func normValue(v string) string {
	s := strings.Join(strings.Fields(v), "")
	return leadingZeros.ReplaceAllString(s, "$1$2")
}

// contentSignature is a canonical key for a message payload: sorted
// key/value pairs with normalized values.
func contentSignature(content map[string]string) string {
	keys := make([]string, 0, len(content))
	for k := range content {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, strings.TrimSpace(k)+":"+normValue(content[k]))
	}
	return strings.Join(parts, "|")
}

func dedupe(in []Agreement) []Agreement {
	seen := make(map[string]bool)
	out := in[:0]
	for _, a := range in {
		key := a.Initiator + "\x00" + strings.Join(sortedRoles(a.Partners), ",") + "\x00" + contentSignature(a.Terms)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, a)
	}
	return out
}

func containsRole(roles []string, id string) bool {
	for _, r := range roles {
		if r == id {
			return true
		}
	}
	return false
}

func sortedRoles(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	sort.Strings(out)
	return out
}

func sortedKeys(m map[string]*bus.Message) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func mergeRoles(existing, extra []string) []string {
	for _, r := range extra {
		if !containsRole(existing, r) {
			existing = append(existing, r)
		}
	}
	sort.Strings(existing)
	return existing
}

func copyTerms(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
