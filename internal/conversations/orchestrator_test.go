package conversations_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"donor-dialer/internal/apperr"
	"donor-dialer/internal/audit"
	"donor-dialer/internal/conversations"
	"donor-dialer/internal/events"
	"donor-dialer/internal/notify"
	"donor-dialer/internal/outcome"
	"donor-dialer/internal/store/memory"
)

var t0 = time.Unix(1700000000, 0).UTC()

type countingReleaser struct {
	mu       sync.Mutex
	released map[string]int
}

func (r *countingReleaser) Release(_ context.Context, campaignID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released == nil {
		r.released = map[string]int{}
	}
	r.released[campaignID]++
	return nil
}

type harness struct {
	store     *memory.ConversationStore
	orch      *conversations.Orchestrator
	audit     *audit.MemoryRepo
	pub       *notify.MemoryPublisher
	releaser  *countingReleaser
	upstream  *fakeUpstream
	conv      conversations.Conversation
	clockTime time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:     memory.New().Conversations(),
		audit:     audit.NewMemoryRepo(),
		pub:       notify.NewMemoryPublisher(),
		releaser:  &countingReleaser{},
		upstream:  &fakeUpstream{records: map[string]conversations.UpstreamRecord{}},
		clockTime: t0.Add(10 * time.Minute),
	}
	h.conv = conversations.Conversation{
		ID:         "conv-1",
		ExternalID: "el-conv-1",
		CallSID:    "CA123",
		BusinessID: "biz-1",
		CampaignID: "camp-1",
		LeadID:     "lead-1",
		Status:     conversations.StatusInitiated,
		StartedAt:  t0,
		UpdatedAt:  t0,
	}
	if err := h.store.Create(context.Background(), h.conv); err != nil {
		t.Fatalf("create: %v", err)
	}
	h.orch = conversations.NewOrchestrator(conversations.Deps{
		Store:     h.store,
		Upstream:  h.upstream,
		Publisher: h.pub,
		Auditor:   audit.NewService(h.audit).WithClock(func() time.Time { return h.clockTime }),
		InFlight:  h.releaser,
		Clock:     func() time.Time { return h.clockTime },
	}, conversations.Options{})
	return h
}

func seq(v int64) *int64 { return &v }

func pledgeBatch() []conversations.RawEvent {
	return []conversations.RawEvent{
		{EventType: "conversation_started", SequenceNumber: seq(1), Timestamp: t0},
		{EventType: "agent_response", SequenceNumber: seq(2), AgentText: "Would you pledge today?", Timestamp: t0.Add(5 * time.Second)},
		{EventType: "commitment_requested", SequenceNumber: seq(3), Timestamp: t0.Add(6 * time.Second)},
		{EventType: "user_response", SequenceNumber: seq(4), UserResponse: "Yes, I will pledge $100", Timestamp: t0.Add(9 * time.Second)},
		{EventType: "call_ended", SequenceNumber: seq(5), Timestamp: t0.Add(20 * time.Second)},
	}
}

func TestIngestEvents_PledgeCompletesConversation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	sum, err := h.orch.IngestEvents(ctx, "el-conv-1", pledgeBatch())
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if sum.Appended != 5 || sum.Duplicates != 0 || sum.Rejected != 0 {
		t.Fatalf("unexpected summary %+v", sum)
	}
	if sum.Status != conversations.StatusCompleted || !sum.StatusChanged {
		t.Fatalf("expected completed, got %+v", sum)
	}
	want := outcome.Outcome{Kind: outcome.KindPledged, AmountMinor: 10000, Currency: "USD"}
	if sum.Outcome == nil || *sum.Outcome != want {
		t.Fatalf("expected %+v, got %+v", want, sum.Outcome)
	}

	got, err := h.store.Get(ctx, "conv-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.EndedAt == nil || !got.EndedAt.Equal(t0.Add(20*time.Second)) {
		t.Fatalf("ended_at should come from the terminal event, got %v", got.EndedAt)
	}
	if got.Version != 1 {
		t.Fatalf("expected one state write, got version %d", got.Version)
	}

	if n := len(h.audit.OfType(audit.EventTypeOutcomeChanged)); n != 1 {
		t.Fatalf("expected 1 outcome audit, got %d", n)
	}
	if n := len(h.pub.OfType(notify.TypeOutcomeChanged)); n != 1 {
		t.Fatalf("expected 1 outcome message, got %d", n)
	}
	if n := len(h.pub.OfType(notify.TypeConversationFinished)); n != 1 {
		t.Fatalf("expected 1 finished message, got %d", n)
	}
	if h.releaser.released["camp-1"] != 1 {
		t.Fatalf("expected in-flight slot released once, got %d", h.releaser.released["camp-1"])
	}
}

func TestIngestEvents_RedeliveryIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.orch.IngestEvents(ctx, "el-conv-1", pledgeBatch()); err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	before, _ := h.store.Get(ctx, "conv-1")

	sum, err := h.orch.IngestEvents(ctx, "el-conv-1", pledgeBatch())
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if sum.Appended != 0 || sum.Duplicates != 5 {
		t.Fatalf("expected all duplicates, got %+v", sum)
	}
	if sum.StatusChanged || sum.OutcomeChanged {
		t.Fatalf("redelivery must not change state: %+v", sum)
	}
	after, _ := h.store.Get(ctx, "conv-1")
	if after.Version != before.Version {
		t.Fatalf("version moved on redelivery: %d -> %d", before.Version, after.Version)
	}
	evs, _ := h.store.ListEvents(ctx, "conv-1")
	if len(evs) != 5 {
		t.Fatalf("expected 5 stored events, got %d", len(evs))
	}
	if n := len(h.pub.Messages()); n != 2 {
		t.Fatalf("redelivery must not publish again, got %d messages", n)
	}
}

func TestIngestEvents_CallSIDResolvesConversation(t *testing.T) {
	h := newHarness(t)
	sum, err := h.orch.IngestEvents(context.Background(), "CA123", []conversations.RawEvent{
		{EventType: "no_answer", Timestamp: t0.Add(30 * time.Second)},
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if sum.ConversationID != "conv-1" {
		t.Fatalf("expected conv-1, got %q", sum.ConversationID)
	}
}

func TestIngestEvents_NoAnswerFailsWithNoAnswerOutcome(t *testing.T) {
	h := newHarness(t)
	sum, err := h.orch.IngestEvents(context.Background(), "el-conv-1", []conversations.RawEvent{
		{EventType: "conversation_started", SequenceNumber: seq(1), Timestamp: t0},
		{EventType: "no_answer", SequenceNumber: seq(2), Timestamp: t0.Add(25 * time.Second)},
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if sum.Status != conversations.StatusFailed {
		t.Fatalf("expected failed, got %s", sum.Status)
	}
	if sum.Outcome == nil || sum.Outcome.Kind != outcome.KindNoAnswer {
		t.Fatalf("expected no_answer outcome, got %+v", sum.Outcome)
	}
}

func TestIngestEvents_TerminalStatusIsFinal(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.orch.IngestEvents(ctx, "el-conv-1", []conversations.RawEvent{
		{EventType: "user_response", SequenceNumber: seq(10), UserResponse: "hello?", Timestamp: t0},
		{EventType: "call_ended", SequenceNumber: seq(20), Timestamp: t0.Add(time.Minute)},
	}); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	// A late failure with a lower sequence number replays first but must
	// not flip the stored terminal status.
	sum, err := h.orch.IngestEvents(ctx, "el-conv-1", []conversations.RawEvent{
		{EventType: "error", SequenceNumber: seq(15), Timestamp: t0.Add(30 * time.Second)},
	})
	if err != nil {
		t.Fatalf("late ingest: %v", err)
	}
	if sum.Appended != 1 {
		t.Fatalf("late event should still be stored, got %+v", sum)
	}
	if sum.Status != conversations.StatusCompleted || sum.StatusChanged {
		t.Fatalf("terminal status changed: %+v", sum)
	}
	if h.releaser.released["camp-1"] != 1 {
		t.Fatalf("slot released more than once")
	}
}

func TestIngestEvents_OutcomeNeverDowngradesToUnknown(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	sum, err := h.orch.IngestEvents(ctx, "el-conv-1", []conversations.RawEvent{
		{EventType: "user_response", SequenceNumber: seq(1), UserResponse: "No, I'm not interested.", Timestamp: t0},
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if sum.Outcome == nil || sum.Outcome.Kind != outcome.KindNotInterested {
		t.Fatalf("expected not_interested, got %+v", sum.Outcome)
	}

	sum, err = h.orch.IngestEvents(ctx, "el-conv-1", []conversations.RawEvent{
		{EventType: "user_response", SequenceNumber: seq(2), UserResponse: "Sure.", Timestamp: t0.Add(time.Second)},
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if sum.OutcomeChanged || sum.Outcome.Kind != outcome.KindNotInterested {
		t.Fatalf("outcome must not drop to unknown: %+v", sum)
	}
}

func TestIngestEvents_RejectsMalformedEvents(t *testing.T) {
	h := newHarness(t)
	sum, err := h.orch.IngestEvents(context.Background(), "el-conv-1", []conversations.RawEvent{
		{EventType: "", SequenceNumber: seq(1), Timestamp: t0},
		{EventType: "agent_response", ConversationExternalID: "someone-else", SequenceNumber: seq(2), Timestamp: t0},
		{EventType: "agent_response"},
		{EventType: "agent_response", SequenceNumber: seq(3), Timestamp: t0},
		{EventType: "agent_response", SequenceNumber: seq(3), Timestamp: t0},
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if sum.Rejected != 3 || sum.Appended != 1 || sum.Duplicates != 1 {
		t.Fatalf("unexpected summary %+v", sum)
	}
	if sum.Status != conversations.StatusInProgress {
		t.Fatalf("expected in_progress, got %s", sum.Status)
	}
}

func TestIngestEvents_UnknownConversation(t *testing.T) {
	h := newHarness(t)
	_, err := h.orch.IngestEvents(context.Background(), "nope", []conversations.RawEvent{
		{EventType: "call_ended", Timestamp: t0},
	})
	if !apperr.IsCode(err, apperr.CodeNotFound) {
		t.Fatalf("expected not_found, got %v", err)
	}
	_, err = h.orch.IngestEvents(context.Background(), "  ", nil)
	if !apperr.IsCode(err, apperr.CodeValidation) {
		t.Fatalf("expected validation, got %v", err)
	}
}

// racingStore lets another writer bump the version right before the
// orchestrator's first state write.
type racingStore struct {
	*memory.ConversationStore
	raced bool
}

func (r *racingStore) UpdateState(ctx context.Context, c conversations.Conversation) (conversations.Conversation, error) {
	if !r.raced {
		r.raced = true
		cur, err := r.ConversationStore.Get(ctx, c.ID)
		if err != nil {
			return conversations.Conversation{}, err
		}
		if _, err := r.ConversationStore.UpdateState(ctx, cur); err != nil {
			return conversations.Conversation{}, err
		}
	}
	return r.ConversationStore.UpdateState(ctx, c)
}

func TestIngestEvents_RetriesLostStateRace(t *testing.T) {
	h := newHarness(t)
	rs := &racingStore{ConversationStore: h.store}
	orch := conversations.NewOrchestrator(conversations.Deps{
		Store: rs,
		Clock: func() time.Time { return h.clockTime },
	}, conversations.Options{})

	sum, err := orch.IngestEvents(context.Background(), "el-conv-1", pledgeBatch())
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if !rs.raced || sum.Status != conversations.StatusCompleted {
		t.Fatalf("expected retry to land completed, got %+v", sum)
	}
	got, _ := h.store.Get(context.Background(), "conv-1")
	if got.Version != 2 || got.Outcome == nil || got.Outcome.Kind != outcome.KindPledged {
		t.Fatalf("unexpected stored state %+v", got)
	}
}

func TestReplay(t *testing.T) {
	st, ended := conversations.Replay(nil)
	if st != conversations.StatusInitiated || ended != nil {
		t.Fatalf("empty log should be initiated")
	}
	st, _ = conversations.Replay([]events.Event{{SequenceNumber: 1, Type: events.TypeAgentResponse}})
	if st != conversations.StatusInProgress {
		t.Fatalf("expected in_progress, got %s", st)
	}
	st, ended = conversations.Replay([]events.Event{
		{SequenceNumber: 1, Type: events.TypeAgentResponse},
		{SequenceNumber: 2, Type: events.TypeBusy, CreatedAt: t0},
		{SequenceNumber: 3, Type: events.TypeCallEnded, CreatedAt: t0.Add(time.Second)},
	})
	if st != conversations.StatusFailed || ended == nil || !ended.Equal(t0) {
		t.Fatalf("first terminal event must decide, got %s %v", st, ended)
	}
}

func TestIngestEvents_SameSecondEventsWithoutSequenceAreKept(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	batch := []conversations.RawEvent{
		{ConversationExternalID: "el-conv-1", EventType: "commitment_requested", Timestamp: t0},
		{ConversationExternalID: "el-conv-1", EventType: "user_response", UserResponse: "Yes, I will pledge $100", Timestamp: t0},
		{ConversationExternalID: "el-conv-1", EventType: "call_ended", Timestamp: t0.Add(2 * time.Second)},
	}

	sum, err := h.orch.IngestEvents(ctx, "el-conv-1", batch)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if sum.Appended != 3 || sum.Duplicates != 0 {
		t.Fatalf("expected all three events appended, got %+v", sum)
	}
	want := outcome.Outcome{Kind: outcome.KindPledged, AmountMinor: 10000, Currency: "USD"}
	if sum.Outcome == nil || *sum.Outcome != want {
		t.Fatalf("expected %+v, got %+v", want, sum.Outcome)
	}

	again, err := h.orch.IngestEvents(ctx, "el-conv-1", batch)
	if err != nil {
		t.Fatalf("redeliver: %v", err)
	}
	if again.Appended != 0 || again.Duplicates != 3 || again.OutcomeChanged {
		t.Fatalf("redelivery must be a no-op, got %+v", again)
	}
}

func TestIngestEvents_SyncAndWebhookShareEventIdentity(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.upstream.records["el-conv-1"] = conversations.UpstreamRecord{
		ExternalID: "el-conv-1",
		Status:     conversations.UpstreamInProgress,
		StartedAt:  t0,
		Turns: []conversations.UpstreamTurn{
			{Role: "agent", Message: "Hello!", TimeInCallSecs: 0},
		},
	}
	if _, err := h.orch.SyncConversations(ctx, h.clockTime); err != nil {
		t.Fatalf("sync: %v", err)
	}

	sum, err := h.orch.IngestEvents(ctx, "el-conv-1", []conversations.RawEvent{
		{EventType: "agent_response", AgentText: "Hello!", Timestamp: t0},
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if sum.Appended != 0 || sum.Duplicates != 1 {
		t.Fatalf("the webhook copy of a synced turn must dedupe, got %+v", sum)
	}
}
