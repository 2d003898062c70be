package telephony

import (
	"context"
	"errors"
	"fmt"

	"donor-dialer/internal/apperr"
)

// Provider places outbound AI-agent calls.
//
// Rules:
//   - No provider HTTP calls outside telephony adapters.
//   - Failures are *ProviderError so the scheduler can tell a retryable
//     outage from a number that will never connect.
type Provider interface {
	Name() string
	PlaceCall(ctx context.Context, phone string, script ScriptContext) (CallResult, error)
}

// ScriptContext is what the voice agent needs to run one donor call.
type ScriptContext struct {
	BusinessID string `json:"business_id"`
	CampaignID string `json:"campaign_id"`
	LeadID     string `json:"lead_id"`

	AgentID            string `json:"agent_id"`
	AgentPhoneNumberID string `json:"agent_phone_number_id"`

	// Variables are passed to the agent as dynamic variables
	// (first_name, campaign_id, ...).
	Variables map[string]string `json:"variables,omitempty"`
}

// CallResult identifies a call the provider accepted.
type CallResult struct {
	// ConversationID is the voice platform's conversation id. It may be
	// empty if the platform only returned a call sid.
	ConversationID string `json:"conversation_id,omitempty"`
	CallSID        string `json:"call_sid,omitempty"`
}

// ExternalID is the id events will be reported under.
func (r CallResult) ExternalID() string {
	if r.ConversationID != "" {
		return r.ConversationID
	}
	return r.CallSID
}

type FailureKind string

const (
	// FailureTransient covers network errors, 5xx and rate limits.
	FailureTransient FailureKind = "transient"
	// FailurePermanent covers invalid or unroutable destinations.
	FailurePermanent FailureKind = "permanent"
)

// ProviderError is a classified call placement failure.
type ProviderError struct {
	Kind       FailureKind
	Provider   string
	StatusCode int
	// Code is the provider's own error code when it sent one.
	Code    string
	Message string
	Cause   error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("%s: %s call failure", e.Provider, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// ErrorCode maps the failure onto the shared taxonomy.
func (e *ProviderError) ErrorCode() apperr.Code {
	if e.Kind == FailurePermanent {
		return apperr.CodeProviderPermanent
	}
	return apperr.CodeProviderTransient
}

func Transient(provider, message string, cause error) *ProviderError {
	return &ProviderError{Kind: FailureTransient, Provider: provider, Message: message, Cause: cause}
}

func Permanent(provider, message string, cause error) *ProviderError {
	return &ProviderError{Kind: FailurePermanent, Provider: provider, Message: message, Cause: cause}
}

// IsPermanent reports whether err is a permanent provider failure.
func IsPermanent(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Kind == FailurePermanent
}
