package provider

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/talgya/polis/internal/effect"
	"github.com/talgya/polis/internal/worldstate"
)

// ErrSchemaInvalid marks a provider payload that failed its structural
// contract. The caller treats the contribution as absent.
var ErrSchemaInvalid = errors.New("provider payload failed schema validation")

// RoleSpec is one role as invented by the bootstrap payload.
type RoleSpec struct {
	ID          string   `json:"id"`
	RoleName    string   `json:"role_name"`
	Mandate     string   `json:"mandate"`
	Incentives  string   `json:"incentives"`
	Observables []string `json:"observables"`
}

// BootstrapPayload seeds a run: initial world plus the role roster.
type BootstrapPayload struct {
	ContextSummary    string                        `json:"context_summary"`
	WorldStateInitial map[string]map[string]float64 `json:"world_state_initial"`
	RoleSpecs         []RoleSpec                    `json:"role_specs"`
}

// OutboundMessage is one negotiation message a role wants to send.
type OutboundMessage struct {
	Receivers      []string          `json:"receivers"`
	Intent         string            `json:"intent"`
	Content        map[string]string `json:"content"`
	ValidUntilTick int               `json:"valid_until_tick"`
}

// MessagesPayload is a role's outbound messages for one tick.
type MessagesPayload struct {
	Messages []OutboundMessage `json:"messages"`
}

// ActionPayload is one role's action for one tick.
type ActionPayload struct {
	ActionName      string        `json:"action_name"`
	Plan            string        `json:"plan"`
	ExpectedEffects []effect.Spec `json:"expected_effects"`
	Risks           string        `json:"risks"`
	Justification   string        `json:"justification"`
}

// EventProposal is one candidate exogenous event with its probability.
type EventProposal struct {
	Name            string        `json:"name"`
	Probability     float64       `json:"probability"`
	ExpectedEffects []effect.Spec `json:"expected_effects"`
}

// EventsPayload is the tick's candidate event set.
type EventsPayload struct {
	Events []EventProposal `json:"events"`
}

// InboxMessage is the compact inbox view shown to a role.
type InboxMessage struct {
	Sender         string            `json:"sender"`
	Intent         string            `json:"intent"`
	Content        map[string]string `json:"content"`
	ValidUntilTick int               `json:"valid_until_tick"`
}

// RoleView is everything a role sees when deciding: the world summary
// and its current inbox.
type RoleView struct {
	Tick        int
	TotalTicks  int
	World       worldstate.Snapshot
	Inbox       []InboxMessage
	MaxMessages int
}

//go:embed schemas/*.json
var schemaFS embed.FS

var (
	schemaOnce sync.Once
	schemas    map[string]*jsonschema.Schema
	schemaErr  error
)

func compiledSchema(name string) (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		entries, err := schemaFS.ReadDir("schemas")
		if err != nil {
			schemaErr = err
			return
		}
		schemas = make(map[string]*jsonschema.Schema, len(entries))
		for _, e := range entries {
			b, err := schemaFS.ReadFile("schemas/" + e.Name())
			if err != nil {
				schemaErr = err
				return
			}
			if err := compiler.AddResource(e.Name(), strings.NewReader(string(b))); err != nil {
				schemaErr = fmt.Errorf("schema %s: %w", e.Name(), err)
				return
			}
		}
		for _, e := range entries {
			s, err := compiler.Compile(e.Name())
			if err != nil {
				schemaErr = fmt.Errorf("schema %s: %w", e.Name(), err)
				return
			}
			schemas[e.Name()] = s
		}
	})
	if schemaErr != nil {
		return nil, schemaErr
	}
	s, ok := schemas[name]
	if !ok {
		return nil, fmt.Errorf("no schema %q", name)
	}
	return s, nil
}

// stripFences removes a surrounding markdown code fence, which the
// provider sometimes adds despite instructions.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// decodeValidated parses raw provider output, validates it against the
// named schema, and decodes it into out. Any failure is a schema
// violation from the caller's point of view: the payload is unusable.
func decodeValidated(schemaName, raw string, out any) error {
	text := stripFences(raw)
	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return fmt.Errorf("%w: not JSON: %v", ErrSchemaInvalid, err)
	}
	s, err := compiledSchema(schemaName)
	if err != nil {
		return fmt.Errorf("load schema %s: %w", schemaName, err)
	}
	if err := s.Validate(v); err != nil {
		return fmt.Errorf("%w: %v", ErrSchemaInvalid, err)
	}
	if err := json.Unmarshal([]byte(text), out); err != nil {
		return fmt.Errorf("%w: %v", ErrSchemaInvalid, err)
	}
	return nil
}
