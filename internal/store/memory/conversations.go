package memory

import (
	"context"
	"fmt"
	"sort"

	"donor-dialer/internal/apperr"
	"donor-dialer/internal/conversations"
	"donor-dialer/internal/events"
)

// ConversationStore is the conversations.Store view over a Store. It shares
// the Store's lock and state.
type ConversationStore struct {
	s *Store
}

// Conversations returns the conversations.Store view.
func (s *Store) Conversations() *ConversationStore {
	return &ConversationStore{s: s}
}

func (cs *ConversationStore) Create(ctx context.Context, c conversations.Conversation) error {
	s := cs.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byExternal[c.ExternalID]; ok {
		return apperr.Conflict("conversation already exists for external id " + c.ExternalID)
	}
	if c.CallSID != "" {
		if _, ok := s.bySID[c.CallSID]; ok {
			return apperr.Conflict("conversation already exists for call sid " + c.CallSID)
		}
		s.bySID[c.CallSID] = c.ID
	}
	c.Version = 0
	s.conversations[c.ID] = c
	s.byExternal[c.ExternalID] = c.ID
	return nil
}

func (cs *ConversationStore) Get(ctx context.Context, id string) (conversations.Conversation, error) {
	s := cs.s
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return conversations.Conversation{}, apperr.NotFound("conversation " + id)
	}
	return c, nil
}

func (cs *ConversationStore) GetByExternalID(ctx context.Context, externalID string) (conversations.Conversation, error) {
	s := cs.s
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byExternal[externalID]
	if !ok {
		id, ok = s.bySID[externalID]
	}
	if !ok {
		return conversations.Conversation{}, apperr.NotFound("conversation " + externalID)
	}
	return s.conversations[id], nil
}

func (cs *ConversationStore) AppendEvents(ctx context.Context, evs []events.Event) (int, error) {
	s := cs.s
	s.mu.Lock()
	defer s.mu.Unlock()
	inserted := 0
	for _, e := range evs {
		if _, ok := s.conversations[e.ConversationID]; !ok {
			return inserted, apperr.NotFound("conversation " + e.ConversationID)
		}
		k := eventKey{e.ConversationID, e.SequenceNumber}
		if _, dup := s.eventSeen[k]; dup {
			continue
		}
		s.eventSeen[k] = struct{}{}
		s.events[e.ConversationID] = append(s.events[e.ConversationID], e)
		inserted++
	}
	return inserted, nil
}

func (cs *ConversationStore) ListEvents(ctx context.Context, conversationID string) ([]events.Event, error) {
	s := cs.s
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]events.Event, len(s.events[conversationID]))
	copy(out, s.events[conversationID])
	sort.SliceStable(out, func(i, j int) bool { return out[i].SequenceNumber < out[j].SequenceNumber })
	return out, nil
}

func (cs *ConversationStore) UpdateState(ctx context.Context, c conversations.Conversation) (conversations.Conversation, error) {
	s := cs.s
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.conversations[c.ID]
	if !ok {
		return conversations.Conversation{}, apperr.NotFound("conversation " + c.ID)
	}
	if cur.Version != c.Version {
		return conversations.Conversation{}, apperr.Conflict(fmt.Sprintf("conversation %s changed since version %d", c.ID, c.Version))
	}
	cur.Status = c.Status
	cur.EndedAt = c.EndedAt
	cur.UpdatedAt = c.UpdatedAt
	if c.Outcome != nil {
		o := *c.Outcome
		cur.Outcome = &o
	} else {
		cur.Outcome = nil
	}
	cur.Version++
	s.conversations[c.ID] = cur
	return cur, nil
}

func (cs *ConversationStore) ListOpen(ctx context.Context, afterID string, limit int) ([]conversations.Conversation, error) {
	s := cs.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []conversations.Conversation
	for _, c := range s.conversations {
		if !c.Status.IsTerminal() && c.ID > afterID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// All returns every conversation ordered by started_at then id.
func (cs *ConversationStore) All() []conversations.Conversation {
	s := cs.s
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]conversations.Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
