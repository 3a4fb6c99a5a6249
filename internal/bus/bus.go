// Package bus is the in-memory negotiation channel between roles:
// per-role inboxes with time-bounded visibility, a per-role posting
// quota, and an immutable history log kept for coordination and audit.
package bus

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Intent classifies a negotiation message.
type Intent string

const (
	IntentPropose Intent = "propose"
	IntentRequest Intent = "request"
	IntentCounter Intent = "counter"
	IntentAccept  Intent = "accept"
	IntentCommit  Intent = "commit"
	IntentInform  Intent = "inform"
)

// ValidIntent reports whether s is a known intent.
func ValidIntent(s string) bool {
	switch Intent(s) {
	case IntentPropose, IntentRequest, IntentCounter, IntentAccept, IntentCommit, IntentInform:
		return true
	}
	return false
}

var (
	// ErrMessageQuotaExceeded rejects a post beyond the sender's
	// per-tick allowance. Non-fatal, per role.
	ErrMessageQuotaExceeded = errors.New("message quota exceeded")

	// ErrExpiredOnArrival rejects a message already past its validity.
	ErrExpiredOnArrival = errors.New("message expired on arrival")
)

// Message is one negotiation message. Visible in receiver inboxes from
// the tick it is posted through ValidUntilTick inclusive.
type Message struct {
	ID            string            `json:"id"`
	Sender        string            `json:"sender"`
	Receivers     []string          `json:"receivers"`
	Intent        Intent            `json:"intent"`
	Content       map[string]string `json:"content"`
	PostedTick    int               `json:"posted_tick"`
	ValidUntilTick int              `json:"valid_until_tick"`
	Resolved      bool              `json:"resolved"`
}

// Bus holds the live inboxes and the append-only history.
type Bus struct {
	quota     int
	inboxes   map[string][]*Message
	history   []*Message
	sentCount map[string]int
	countTick int
}

// New creates a bus enforcing at most quota messages per role per tick.
func New(quota int) *Bus {
	return &Bus{
		quota:     quota,
		inboxes:   make(map[string][]*Message),
		sentCount: make(map[string]int),
	}
}

// GC removes every message whose validity window ended before tick
// from all inboxes. History is never trimmed. Runs once at the start
// of each tick, before any new posts; it also opens the new tick's
// quota window.
func (b *Bus) GC(tick int) {
	for role, inbox := range b.inboxes {
		kept := inbox[:0]
		for _, m := range inbox {
			if m.ValidUntilTick >= tick {
				kept = append(kept, m)
			}
		}
		b.inboxes[role] = kept
	}
	b.sentCount = make(map[string]int)
	b.countTick = tick
}

// Post validates and delivers a message at the given tick. The message
// is appended in arrival order to every receiver's inbox and to the
// history log. ID and PostedTick are assigned here.
func (b *Bus) Post(tick int, m *Message) error {
	if m.ValidUntilTick < tick {
		return fmt.Errorf("%w: valid_until_tick %d < tick %d", ErrExpiredOnArrival, m.ValidUntilTick, tick)
	}
	if tick != b.countTick {
		b.sentCount = make(map[string]int)
		b.countTick = tick
	}
	if b.sentCount[m.Sender] >= b.quota {
		return fmt.Errorf("%w: role %s already sent %d this tick", ErrMessageQuotaExceeded, m.Sender, b.quota)
	}
	b.sentCount[m.Sender]++

	m.ID = uuid.NewString()
	m.PostedTick = tick
	for _, r := range m.Receivers {
		b.inboxes[r] = append(b.inboxes[r], m)
	}
	b.history = append(b.history, m)
	return nil
}

// Inbox returns the ordered messages visible to role at tick. The
// slice is a copy; the messages are shared, so marking one resolved is
// visible bus-wide.
func (b *Bus) Inbox(role string, tick int) []*Message {
	var out []*Message
	for _, m := range b.inboxes[role] {
		if m.ValidUntilTick >= tick {
			out = append(out, m)
		}
	}
	return out
}

// VisibleAt returns every message still valid at tick, in arrival
// order. The coordination extractor scans this view.
func (b *Bus) VisibleAt(tick int) []*Message {
	var out []*Message
	for _, m := range b.history {
		if m.ValidUntilTick >= tick {
			out = append(out, m)
		}
	}
	return out
}

// History returns the full audit log in arrival order.
func (b *Bus) History() []*Message {
	out := make([]*Message, len(b.history))
	copy(out, b.history)
	return out
}
