// Package events holds the conversation event vocabulary shared by the
// orchestrator (status replay) and outcome inference.
package events

import (
	"hash/fnv"
	"time"
)

// Type is the event_type column of conversation_events.
type Type string

const (
	TypeConversationStarted Type = "conversation_started"
	TypeAgentResponse       Type = "agent_response"
	TypeUserResponse        Type = "user_response"
	TypeCommitmentRequested Type = "commitment_requested"

	// terminal, completed
	TypeCallEnded         Type = "call_ended"
	TypeConversationEnded Type = "conversation_ended"
	TypeStatusCompleted   Type = "status_completed"

	// terminal, failed
	TypeCallFailed Type = "call_failed"
	TypeError      Type = "error"
	TypeTimeout    Type = "timeout"
	TypeNoAnswer   Type = "no_answer"
	TypeBusy       Type = "busy"
)

// Terminal classifies how an event ends a conversation.
type Terminal int

const (
	NotTerminal Terminal = iota
	TerminalCompleted
	TerminalFailed
)

// Classify reports whether t ends a conversation, and how.
func Classify(t Type) Terminal {
	switch t {
	case TypeCallEnded, TypeConversationEnded, TypeStatusCompleted:
		return TerminalCompleted
	case TypeCallFailed, TypeError, TypeTimeout, TypeNoAnswer, TypeBusy:
		return TerminalFailed
	default:
		return NotTerminal
	}
}

func IsTerminal(t Type) bool { return Classify(t) != NotTerminal }

// Event is one stored conversation_events row.
type Event struct {
	ConversationID string    `json:"conversation_id"`
	SequenceNumber int64     `json:"sequence_number"`
	Type           Type      `json:"event_type"`
	AgentText      string    `json:"agent_text,omitempty"`
	UserResponse   string    `json:"user_response,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// HasUserResponse reports whether the event carries something the donor said.
func (e Event) HasUserResponse() bool {
	return e.Type == TypeUserResponse || e.UserResponse != ""
}

// turnRank orders events that share a millisecond the way a call unfolds.
func turnRank(t Type) int64 {
	switch t {
	case TypeConversationStarted:
		return 0
	case TypeAgentResponse:
		return 1
	case TypeCommitmentRequested:
		return 2
	case TypeUserResponse:
		return 3
	}
	if IsTerminal(t) {
		return 9
	}
	return 5
}

// ImplicitSequence is the sequence number of an event delivered without one.
// Identity is (timestamp ms, type, text): the millisecond is scaled by 1000,
// the type contributes its rank in hundreds and an FNV hash of the content
// fills the last two digits. Two deliveries of the same event from any
// channel map to the same number; different events in the same millisecond
// do not collide unless same-typed texts share a hash bucket.
func ImplicitSequence(at time.Time, t Type, agentText, userResponse string) int64 {
	h := fnv.New32a()
	h.Write([]byte(t))
	h.Write([]byte{0})
	h.Write([]byte(agentText))
	h.Write([]byte{0})
	h.Write([]byte(userResponse))
	return at.UnixMilli()*1000 + turnRank(t)*100 + int64(h.Sum32()%100)
}
