// Package notify publishes dialer domain events (unreachable leads, outcome
// changes) to downstream consumers such as the CRM sync.
package notify

import (
	"context"
	"sync"
	"time"
)

const (
	TypeLeadUnreachable      = "lead.unreachable"
	TypeOutcomeChanged       = "conversation.outcome_changed"
	TypeConversationFinished = "conversation.finished"
)

// Message is one published event. Payload is JSON-encoded by publishers.
type Message struct {
	Type       string    `json:"type"`
	Key        string    `json:"key"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload"`
}

type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// Nop drops every message. Used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, Message) error { return nil }

// MemoryPublisher records messages for tests.
type MemoryPublisher struct {
	mu   sync.Mutex
	msgs []Message
}

func NewMemoryPublisher() *MemoryPublisher { return &MemoryPublisher{} }

func (p *MemoryPublisher) Publish(_ context.Context, msg Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	return nil
}

func (p *MemoryPublisher) Messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Message, len(p.msgs))
	copy(out, p.msgs)
	return out
}

// OfType filters recorded messages by type.
func (p *MemoryPublisher) OfType(t string) []Message {
	var out []Message
	for _, m := range p.Messages() {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}
