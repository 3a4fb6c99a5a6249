package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/talgya/polis/internal/roles"
	"github.com/talgya/polis/internal/worldstate"
)

// Bootstrap asks the provider to invent the initial world and role
// roster for the user's scenario.
func (c *Client) Bootstrap(ctx context.Context, userPrompt string) (*BootstrapPayload, error) {
	raw, err := c.Complete(ctx, bootstrapSystemPrompt, userPrompt, 2048)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	var payload BootstrapPayload
	if err := decodeValidated("bootstrap.schema.json", raw, &payload); err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	return &payload, nil
}

// Messages asks one role for its outbound messages this tick.
func (c *Client) Messages(ctx context.Context, role *roles.Role, view RoleView) ([]OutboundMessage, error) {
	system := rolePreamble(role) + "\n" +
		fmt.Sprintf(messagesSystemPrompt, view.MaxMessages, view.Tick+1)
	user := viewPrompt(view) + "\nWhat do you send this turn?"

	raw, err := c.Complete(ctx, system, user, 1024)
	if err != nil {
		return nil, fmt.Errorf("messages for %s: %w", role.ID, err)
	}
	var payload MessagesPayload
	if err := decodeValidated("messages.schema.json", raw, &payload); err != nil {
		return nil, fmt.Errorf("messages for %s: %w", role.ID, err)
	}
	return payload.Messages, nil
}

// Decide asks one role for its single action this tick.
func (c *Client) Decide(ctx context.Context, role *roles.Role, view RoleView) (*ActionPayload, error) {
	system := rolePreamble(role) + "\n" + decisionSystemPrompt
	user := viewPrompt(view) + "\nWhat do you do this turn?"

	raw, err := c.Complete(ctx, system, user, 1024)
	if err != nil {
		return nil, fmt.Errorf("decision for %s: %w", role.ID, err)
	}
	var payload ActionPayload
	if err := decodeValidated("decision.schema.json", raw, &payload); err != nil {
		return nil, fmt.Errorf("decision for %s: %w", role.ID, err)
	}
	return &payload, nil
}

// Events asks the provider for this tick's candidate exogenous events.
func (c *Client) Events(ctx context.Context, tick int, world worldstate.Snapshot) ([]EventProposal, error) {
	snapshot, _ := json.Marshal(world.Sections)
	user := fmt.Sprintf("Tick %d. World state:\n%s\n\nWhat might happen?", tick, snapshot)

	raw, err := c.Complete(ctx, eventsSystemPrompt, user, 1024)
	if err != nil {
		return nil, fmt.Errorf("events: %w", err)
	}
	var payload EventsPayload
	if err := decodeValidated("events.schema.json", raw, &payload); err != nil {
		return nil, fmt.Errorf("events: %w", err)
	}
	return payload.Events, nil
}

// Analysis asks for the closing narrative over the run's aggregated
// metrics. The report is free prose; nothing in the core depends on
// its shape.
func (c *Client) Analysis(ctx context.Context, aggregate any) (string, error) {
	b, err := json.Marshal(aggregate)
	if err != nil {
		return "", fmt.Errorf("analysis: %w", err)
	}
	var user strings.Builder
	user.WriteString("Aggregated run metrics:\n")
	user.Write(b)

	raw, err := c.Complete(ctx, analysisSystemPrompt, user.String(), 2048)
	if err != nil {
		return "", fmt.Errorf("analysis: %w", err)
	}
	return strings.TrimSpace(raw), nil
}
