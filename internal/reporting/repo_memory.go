package reporting

import (
	"context"
	"errors"
	"sync"
	"time"

	"donor-dialer/internal/conversations"
)

// MemoryRepo is a simple in-memory reporting repository for tests and local
// runs. It enforces business isolation on reads.
type MemoryRepo struct {
	mu sync.Mutex

	Conversations []conversations.Conversation
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) ListConversations(ctx context.Context, businessID, campaignID string, from, to time.Time) ([]conversations.Conversation, error) {
	if businessID == "" {
		return nil, errors.New("business_id required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]conversations.Conversation, 0)
	for _, c := range r.Conversations {
		if c.BusinessID != businessID || c.CampaignID != campaignID {
			continue
		}
		if !from.IsZero() && c.StartedAt.Before(from) {
			continue
		}
		if !to.IsZero() && !c.StartedAt.Before(to) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}
