// Package engine drives the tick loop: message exchange, coordination
// extraction, role decisions, arbitration, exogenous events, and
// persistence, in a fixed order with a barrier between ticks.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/talgya/polis/internal/analyst"
	"github.com/talgya/polis/internal/arbiter"
	"github.com/talgya/polis/internal/bus"
	"github.com/talgya/polis/internal/config"
	"github.com/talgya/polis/internal/effect"
	"github.com/talgya/polis/internal/entropy"
	"github.com/talgya/polis/internal/events"
	"github.com/talgya/polis/internal/persistence"
	"github.com/talgya/polis/internal/provider"
	"github.com/talgya/polis/internal/roles"
	"github.com/talgya/polis/internal/runlog"
	"github.com/talgya/polis/internal/worldstate"
)

// ErrProviderExhausted aborts a run after every provider call failed
// for too many consecutive ticks.
var ErrProviderExhausted = errors.New("decision provider exhausted")

// Source is the generative boundary the engine calls out to. All
// methods are safe for concurrent use; the engine bounds fan-out
// itself.
type Source interface {
	Bootstrap(ctx context.Context, userPrompt string) (*provider.BootstrapPayload, error)
	Messages(ctx context.Context, role *roles.Role, view provider.RoleView) ([]provider.OutboundMessage, error)
	Decide(ctx context.Context, role *roles.Role, view provider.RoleView) (*provider.ActionPayload, error)
	Events(ctx context.Context, tick int, world worldstate.Snapshot) ([]provider.EventProposal, error)
	Analysis(ctx context.Context, aggregate any) (string, error)
}

// Engine owns the world state for the duration of a run. It is the
// only writer; provider goroutines receive immutable views.
type Engine struct {
	cfg      config.Config
	source   Source
	state    *worldstate.State
	registry *roles.Registry
	msgBus   *bus.Bus
	arbiter  *arbiter.Engine
	events   *events.Engine

	db     *persistence.DB // optional
	runlog *runlog.Writer  // optional
	runID  int64

	snapshots  []worldstate.Snapshot
	failStreak int
}

// New assembles an engine. db and log may be nil; the run then keeps
// its history only in memory.
func New(cfg config.Config, source Source, db *persistence.DB, log *runlog.Writer) *Engine {
	registry := roles.NewRegistry()
	return &Engine{
		cfg:      cfg,
		source:   source,
		registry: registry,
		msgBus:   bus.New(cfg.MessageQuota),
		arbiter: arbiter.New(registry, cfg.Guardrails,
			effect.Epsilon{Absolute: cfg.Epsilon.Absolute, Relative: cfg.Epsilon.Relative}),
		events: events.New(entropy.NewSource(cfg.Seed)),
		db:     db,
		runlog: log,
	}
}

// Setup bootstraps the run. With a live source it asks the provider to
// invent the world from the user's prompt; without one it falls back
// to the built-in scenario so deterministic offline runs work.
func (e *Engine) Setup(ctx context.Context, userPrompt string) error {
	payload := defaultScenario()
	if e.source != nil {
		p, err := e.source.Bootstrap(ctx, userPrompt)
		if err != nil {
			return fmt.Errorf("bootstrap: %w", err)
		}
		payload = p
	} else {
		slog.Warn("no decision provider configured, using built-in scenario")
	}

	e.state = worldstate.New(payload.WorldStateInitial, nil)
	for _, spec := range payload.RoleSpecs {
		r := &roles.Role{
			ID:          spec.ID,
			Name:        spec.RoleName,
			Mandate:     spec.Mandate,
			Incentives:  spec.Incentives,
			Observables: spec.Observables,
		}
		if err := e.registry.Register(r); err != nil {
			return fmt.Errorf("register role: %w", err)
		}
	}
	if e.registry.Len() == 0 {
		return errors.New("bootstrap produced no roles")
	}

	if e.db != nil {
		runID, err := e.db.CreateRun(e.cfg.Seed, e.cfg.Ticks, payload.ContextSummary)
		if err != nil {
			return fmt.Errorf("create run: %w", err)
		}
		e.runID = runID
		if err := e.db.SaveRoles(runID, e.registry.All()); err != nil {
			return fmt.Errorf("save roles: %w", err)
		}
	}

	// The tick-0 snapshot anchors the history before anything moves.
	initial := e.state.Snapshot()
	if e.db != nil {
		if err := e.db.SaveSnapshot(e.runID, initial); err != nil {
			return fmt.Errorf("save initial snapshot: %w", err)
		}
	}
	if e.runlog != nil {
		entry := map[string]any{
			"phase":    "bootstrap",
			"context":  payload.ContextSummary,
			"roles":    e.registry.All(),
			"snapshot": initial,
		}
		if err := e.runlog.Append(entry); err != nil {
			return fmt.Errorf("log bootstrap: %w", err)
		}
		if err := e.runlog.Flush(); err != nil {
			return fmt.Errorf("flush bootstrap: %w", err)
		}
	}

	slog.Info("run ready",
		"roles", e.registry.Len(),
		"ticks", e.cfg.Ticks,
		"seed", e.cfg.Seed,
		"context", payload.ContextSummary)
	return nil
}

// Run executes the configured number of ticks. Cancellation is checked
// at the tick barrier only, so a finished tick is never half-persisted.
func (e *Engine) Run(ctx context.Context) error {
	if e.state == nil {
		return errors.New("engine not set up")
	}
	for tick := 1; tick <= e.cfg.Ticks; tick++ {
		if err := ctx.Err(); err != nil {
			slog.Info("run cancelled", "tick", tick-1)
			return err
		}
		record, err := e.runTick(ctx, tick)
		if err != nil {
			return fmt.Errorf("tick %d: %w", tick, err)
		}
		e.snapshots = append(e.snapshots, record.Snapshot)
	}
	return nil
}

// Finalize aggregates the run and, when a source is available, asks it
// for the closing narrative. Returns the report alongside the metrics.
func (e *Engine) Finalize(ctx context.Context) (analyst.Report, string, error) {
	aggregate := analyst.Aggregate(e.snapshots, e.cfg.Guardrails)

	var narrative string
	if e.source != nil {
		n, err := e.source.Analysis(ctx, aggregate)
		if err != nil {
			slog.Warn("analysis failed", "error", err)
		} else {
			narrative = n
		}
	}
	if e.db != nil && e.runID != 0 {
		if err := e.db.FinishRun(e.runID, narrative); err != nil {
			return aggregate, narrative, fmt.Errorf("finish run: %w", err)
		}
	}
	if e.runlog != nil {
		entry := map[string]any{
			"phase":     "finalize",
			"report":    aggregate,
			"narrative": narrative,
		}
		if err := e.runlog.Append(entry); err != nil {
			return aggregate, narrative, fmt.Errorf("log finalize: %w", err)
		}
		if err := e.runlog.Flush(); err != nil {
			return aggregate, narrative, fmt.Errorf("flush finalize: %w", err)
		}
	}
	return aggregate, narrative, nil
}

// State exposes the current world for inspection after a run.
func (e *Engine) State() *worldstate.State { return e.state }

// Snapshots returns the post-tick snapshots collected so far.
func (e *Engine) Snapshots() []worldstate.Snapshot { return e.snapshots }

// defaultScenario is the offline bootstrap: a small river kingdom with
// three roles, enough to exercise every phase without a provider.
func defaultScenario() *provider.BootstrapPayload {
	return &provider.BootstrapPayload{
		ContextSummary: "A river valley kingdom: crown, merchant guild, and temple balance food, coin, and legitimacy.",
		WorldStateInitial: map[string]map[string]float64{
			"Resources":      {"food": 10000, "coinage": 500},
			"Society":        {"population": 1200, "morale": 0.6},
			"State":          {"stability": 0.5, "legitimacy": 0.5},
			"Economy":        {"tax_rate": 0.2, "trade_intensity": 0.4},
			"Infrastructure": {"roads_quality": 0.4, "irrigation": 0.3},
			"Environment":    {"harvest_quality": 0.5},
		},
		RoleSpecs: []provider.RoleSpec{
			{ID: "crown", RoleName: "The Crown", Mandate: "keep order and legitimacy",
				Observables: []string{"State.stability", "State.legitimacy"}},
			{ID: "guild", RoleName: "Merchant Guild", Mandate: "grow trade and coin",
				Observables: []string{"Economy.trade_intensity", "Resources.coinage"}},
			{ID: "temple", RoleName: "The Temple", Mandate: "tend morale and the harvest rites",
				Observables: []string{"Society.morale", "Environment.harvest_quality"}},
		},
	}
}
