package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/talgya/polis/internal/arbiter"
	"github.com/talgya/polis/internal/bus"
	"github.com/talgya/polis/internal/coord"
	"github.com/talgya/polis/internal/effect"
	"github.com/talgya/polis/internal/events"
	"github.com/talgya/polis/internal/provider"
	"github.com/talgya/polis/internal/roles"
	"github.com/talgya/polis/internal/worldstate"
)

// Phase names the stages of one tick, in execution order.
type Phase string

const (
	PhaseGCMessages    Phase = "gc_messages"
	PhaseMessaging     Phase = "messaging"
	PhaseCoordination  Phase = "coordination"
	PhaseRoleDecisions Phase = "role_decisions"
	PhaseArbitration   Phase = "arbitration"
	PhaseEvents        Phase = "events"
	PhaseLogTick       Phase = "log_tick"
)

// TickRecord is everything one tick produced. It is the unit written
// to the history log and the database.
type TickRecord struct {
	Tick             int                   `json:"tick"`
	Messages         []*bus.Message        `json:"messages,omitempty"`
	Agreements       []coord.Agreement     `json:"agreements,omitempty"`
	Outcomes         []arbiter.Outcome     `json:"outcomes,omitempty"`
	EventsFired      []events.Fired        `json:"events_fired,omitempty"`
	EventsRejected   []events.Rejected     `json:"events_rejected,omitempty"`
	ProviderFailures []string              `json:"provider_failures,omitempty"`
	Snapshot         worldstate.Snapshot   `json:"snapshot"`
}

// runTick executes all phases for one tick. Only LOG_TICK failures are
// fatal; provider failures degrade the tick and count toward the
// exhaustion threshold.
func (e *Engine) runTick(ctx context.Context, tick int) (*TickRecord, error) {
	start := time.Now()
	record := &TickRecord{Tick: tick}

	// GC_MESSAGES: drop expired messages and reopen the send quota.
	e.msgBus.GC(tick)

	calls, failures := 0, 0

	// MESSAGING: every role may post, fan-out bounded, posts serialized
	// in registration order so message ids are stable for a seed.
	if e.source != nil {
		c, f := e.messagingPhase(ctx, tick, record)
		calls, failures = calls+c, failures+f
	}

	// COORDINATION: match live proposals to acceptances.
	record.Agreements = coord.Extract(e.msgBus.VisibleAt(tick), e.cfg.Policy())
	coordinated := toArbiterActions(coord.BuildCoordinated(e.state, record.Agreements))

	// ROLE_DECISIONS: one action per role, same fan-out discipline.
	var individual []arbiter.Action
	if e.source != nil {
		var c, f int
		individual, c, f = e.decisionPhase(ctx, tick, record)
		calls, failures = calls+c, failures+f
	}

	// ARBITRATION: coordinated first, then individual, sequentially.
	record.Outcomes = append(record.Outcomes, e.arbiter.Resolve(e.state, coordinated, individual)...)

	// EVENTS: exogenous shocks, sampled from the seeded source.
	if e.source != nil {
		proposals, err := e.source.Events(ctx, tick, e.state.Snapshot())
		if err != nil {
			slog.Warn("event proposals failed", "tick", tick, "error", err)
			calls, failures = calls+1, failures+1
		} else {
			calls++
			record.EventsFired, record.EventsRejected = e.events.Run(e.state, tick, toProposals(proposals))
		}
	}

	// LOG_TICK: commit the tick. The snapshot carries the new tick
	// number; everything below must succeed before the barrier.
	e.state.SetTick(tick)
	record.Snapshot = e.state.Snapshot()

	if e.db != nil {
		if err := e.db.SaveTick(e.runID, record.Snapshot, record.Messages,
			record.Agreements, record.Outcomes, record.EventsFired); err != nil {
			return nil, err
		}
	}
	if e.runlog != nil {
		if err := e.runlog.Append(record); err != nil {
			return nil, err
		}
		if err := e.runlog.Flush(); err != nil {
			return nil, err
		}
	}

	if calls > 0 && failures == calls {
		e.failStreak++
		if e.failStreak >= e.cfg.Provider.AbortAfterFailures {
			return nil, ErrProviderExhausted
		}
	} else {
		e.failStreak = 0
	}

	applied := 0
	for _, o := range record.Outcomes {
		if o.Status == arbiter.StatusApplied {
			applied++
		}
	}
	slog.Info("tick complete",
		"tick", tick,
		"messages", len(record.Messages),
		"agreements", len(record.Agreements),
		"actions_applied", applied,
		"actions_total", len(record.Outcomes),
		"events_fired", len(record.EventsFired),
		"provider_failures", failures,
		"elapsed", time.Since(start).Round(time.Millisecond))
	return record, nil
}

// messagingPhase collects outbound messages from all roles in parallel
// and posts them through the quota in registration order.
func (e *Engine) messagingPhase(ctx context.Context, tick int, record *TickRecord) (calls, failures int) {
	roster := e.registry.All()
	results := fanOut(ctx, roster, e.cfg.Provider.MaxConcurrent, e.cfg.Provider.CallTimeout(),
		func(ctx context.Context, r *roles.Role) ([]provider.OutboundMessage, error) {
			return e.source.Messages(ctx, r, e.roleView(tick, r))
		})

	for i, res := range results {
		role := roster[i]
		calls++
		if res.err != nil {
			failures++
			record.ProviderFailures = append(record.ProviderFailures, role.ID)
			slog.Warn("messaging failed", "tick", tick, "role", role.ID, "error", res.err)
			continue
		}
		for _, out := range res.val {
			if !bus.ValidIntent(out.Intent) {
				slog.Warn("message dropped", "role", role.ID, "reason", "unknown intent", "intent", out.Intent)
				continue
			}
			m := &bus.Message{
				Sender:         role.ID,
				Receivers:      out.Receivers,
				Intent:         bus.Intent(out.Intent),
				Content:        out.Content,
				ValidUntilTick: out.ValidUntilTick,
			}
			if err := e.msgBus.Post(tick, m); err != nil {
				slog.Warn("message dropped", "role", role.ID, "error", err)
				continue
			}
			record.Messages = append(record.Messages, m)
		}
	}
	return calls, failures
}

// decisionPhase collects one action per role in parallel. Malformed
// effect lists reject the whole action before arbitration.
func (e *Engine) decisionPhase(ctx context.Context, tick int, record *TickRecord) ([]arbiter.Action, int, int) {
	roster := e.registry.All()
	results := fanOut(ctx, roster, e.cfg.Provider.MaxConcurrent, e.cfg.Provider.CallTimeout(),
		func(ctx context.Context, r *roles.Role) (*provider.ActionPayload, error) {
			return e.source.Decide(ctx, r, e.roleView(tick, r))
		})

	var individual []arbiter.Action
	calls, failures := 0, 0
	for i, res := range results {
		role := roster[i]
		calls++
		if res.err != nil {
			failures++
			record.ProviderFailures = append(record.ProviderFailures, role.ID)
			slog.Warn("decision failed", "tick", tick, "role", role.ID, "error", res.err)
			continue
		}
		p := res.val
		deltas, err := effect.ParseSpecs(e.state, p.ExpectedEffects)
		if err != nil {
			record.Outcomes = append(record.Outcomes, arbiter.Outcome{
				Action: arbiter.Action{Role: role.ID, Name: p.ActionName, Plan: p.Plan},
				Status: arbiter.StatusBlocked,
				Reason: err.Error(),
			})
			continue
		}
		individual = append(individual, arbiter.Action{
			Role:          role.ID,
			Name:          p.ActionName,
			Plan:          p.Plan,
			Effects:       deltas,
			Risks:         p.Risks,
			Justification: p.Justification,
		})
	}
	return individual, calls, failures
}

// roleView builds the immutable view a role decides from.
func (e *Engine) roleView(tick int, r *roles.Role) provider.RoleView {
	var inbox []provider.InboxMessage
	for _, m := range e.msgBus.Inbox(r.ID, tick) {
		inbox = append(inbox, provider.InboxMessage{
			Sender:         m.Sender,
			Intent:         string(m.Intent),
			Content:        m.Content,
			ValidUntilTick: m.ValidUntilTick,
		})
	}
	return provider.RoleView{
		Tick:        tick,
		TotalTicks:  e.cfg.Ticks,
		World:       e.state.Snapshot(),
		Inbox:       inbox,
		MaxMessages: e.cfg.MessageQuota,
	}
}

func toArbiterActions(coordinated []coord.CoordinatedAction) []arbiter.Action {
	var out []arbiter.Action
	for _, c := range coordinated {
		out = append(out, arbiter.Action{
			Role:          c.Initiator,
			Name:          c.Name,
			Effects:       c.Effects,
			Justification: c.Justification,
			Coordinated:   true,
			Partners:      c.Partners,
		})
	}
	return out
}

func toProposals(proposals []provider.EventProposal) []events.Proposal {
	var out []events.Proposal
	for _, p := range proposals {
		out = append(out, events.Proposal{
			Name:        p.Name,
			Probability: p.Probability,
			Effects:     p.ExpectedEffects,
		})
	}
	return out
}
