package events

import (
	"testing"
	"time"
)

func TestClassify(t *testing.T) {
	cases := map[Type]Terminal{
		TypeCallEnded:           TerminalCompleted,
		TypeConversationEnded:   TerminalCompleted,
		TypeStatusCompleted:     TerminalCompleted,
		TypeCallFailed:          TerminalFailed,
		TypeError:               TerminalFailed,
		TypeTimeout:             TerminalFailed,
		TypeNoAnswer:            TerminalFailed,
		TypeBusy:                TerminalFailed,
		TypeUserResponse:        NotTerminal,
		TypeCommitmentRequested: NotTerminal,
		Type("custom"):          NotTerminal,
	}
	for typ, want := range cases {
		if got := Classify(typ); got != want {
			t.Fatalf("Classify(%q) = %d, want %d", typ, got, want)
		}
	}
}

func TestHasUserResponse(t *testing.T) {
	if !(Event{Type: TypeUserResponse}).HasUserResponse() {
		t.Fatalf("user_response event must count")
	}
	if !(Event{Type: TypeAgentResponse, UserResponse: "hello"}).HasUserResponse() {
		t.Fatalf("populated user_response field must count")
	}
	if (Event{Type: TypeAgentResponse, AgentText: "hi"}).HasUserResponse() {
		t.Fatalf("agent-only event must not count")
	}
}

func TestImplicitSequence_SameSecondEventsStayDistinctAndOrdered(t *testing.T) {
	at := time.Unix(1700000000, 0)
	asked := ImplicitSequence(at, TypeCommitmentRequested, "", "")
	answered := ImplicitSequence(at, TypeUserResponse, "", "Yes, I will pledge $100")
	ended := ImplicitSequence(at, TypeCallEnded, "", "")
	if !(asked < answered && answered < ended) {
		t.Fatalf("expected request < response < end, got %d %d %d", asked, answered, ended)
	}
	if again := ImplicitSequence(at, TypeUserResponse, "", "Yes, I will pledge $100"); again != answered {
		t.Fatalf("same event must map to the same sequence: %d != %d", again, answered)
	}
	if later := ImplicitSequence(at.Add(time.Millisecond), TypeConversationStarted, "", ""); later <= ended {
		t.Fatalf("a later millisecond must sort after every rank: %d <= %d", later, ended)
	}
}
