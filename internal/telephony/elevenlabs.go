package telephony

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"donor-dialer/internal/apperr"
	"donor-dialer/internal/conversations"
)

const providerElevenLabs = "elevenlabs"

// Twilio error codes ElevenLabs passes through for destinations that will
// never connect.
var permanentTwilioCodes = []string{"21211", "21214", "21215", "21217", "21610", "21614"}

type ElevenLabsConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// ElevenLabsClient places calls through the ElevenLabs conversational AI
// Twilio integration and reads conversation records back for sync.
type ElevenLabsClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

func NewElevenLabsClient(cfg ElevenLabsConfig, hc *http.Client) (*ElevenLabsClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("telephony: elevenlabs api key is empty")
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = "https://api.elevenlabs.io"
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("telephony: elevenlabs base url: %w", err)
	}
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &ElevenLabsClient{apiKey: cfg.APIKey, baseURL: base, http: hc}, nil
}

func (c *ElevenLabsClient) Name() string { return providerElevenLabs }

type outboundCallRequest struct {
	AgentID            string          `json:"agent_id"`
	AgentPhoneNumberID string          `json:"agent_phone_number_id"`
	ToNumber           string          `json:"to_number"`
	InitiationData     *initiationData `json:"conversation_initiation_client_data,omitempty"`
}

type initiationData struct {
	DynamicVariables map[string]string `json:"dynamic_variables,omitempty"`
}

type outboundCallResponse struct {
	Success        bool   `json:"success"`
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id"`
	CallSID        string `json:"callSid"`
}

// PlaceCall starts an outbound call to phone with the campaign's agent.
func (c *ElevenLabsClient) PlaceCall(ctx context.Context, phone string, script ScriptContext) (CallResult, error) {
	if phone == "" {
		return CallResult{}, Permanent(providerElevenLabs, "empty destination number", nil)
	}
	if script.AgentID == "" || script.AgentPhoneNumberID == "" {
		return CallResult{}, apperr.Validation("agent_id and agent_phone_number_id are required")
	}

	vars := map[string]string{
		"campaign_id": script.CampaignID,
		"lead_id":     script.LeadID,
	}
	for k, v := range script.Variables {
		vars[k] = v
	}
	body, err := json.Marshal(outboundCallRequest{
		AgentID:            script.AgentID,
		AgentPhoneNumberID: script.AgentPhoneNumberID,
		ToNumber:           phone,
		InitiationData:     &initiationData{DynamicVariables: vars},
	})
	if err != nil {
		return CallResult{}, fmt.Errorf("encode outbound call: %w", err)
	}

	status, raw, err := c.do(ctx, http.MethodPost, "/v1/convai/twilio/outbound-call", body)
	if err != nil {
		return CallResult{}, err
	}
	if status >= 300 {
		return CallResult{}, classifyStatus(status, raw)
	}

	var out outboundCallResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return CallResult{}, Transient(providerElevenLabs, "decode outbound call response", err)
	}
	if !out.Success {
		return CallResult{}, classifyMessage(status, out.Message)
	}
	res := CallResult{ConversationID: out.ConversationID, CallSID: out.CallSID}
	if res.ExternalID() == "" {
		return CallResult{}, Transient(providerElevenLabs, "response carried no conversation id or call sid", nil)
	}
	return res, nil
}

type conversationResponse struct {
	ConversationID string `json:"conversation_id"`
	Status         string `json:"status"`
	Transcript     []struct {
		Role           string `json:"role"`
		Message        string `json:"message"`
		TimeInCallSecs int    `json:"time_in_call_secs"`
		ToolCalls      []struct {
			ToolName string `json:"tool_name"`
		} `json:"tool_calls"`
	} `json:"transcript"`
	Metadata struct {
		StartTimeUnixSecs int64 `json:"start_time_unix_secs"`
		CallDurationSecs  int   `json:"call_duration_secs"`
	} `json:"metadata"`
}

// FetchConversation reads the authoritative conversation record.
func (c *ElevenLabsClient) FetchConversation(ctx context.Context, externalID string) (conversations.UpstreamRecord, error) {
	if externalID == "" {
		return conversations.UpstreamRecord{}, apperr.Validation("external id is required")
	}
	status, raw, err := c.do(ctx, http.MethodGet, "/v1/convai/conversations/"+url.PathEscape(externalID), nil)
	if err != nil {
		return conversations.UpstreamRecord{}, err
	}
	if status == http.StatusNotFound {
		return conversations.UpstreamRecord{}, apperr.NotFound("elevenlabs conversation " + externalID)
	}
	if status >= 300 {
		return conversations.UpstreamRecord{}, classifyStatus(status, raw)
	}

	var cr conversationResponse
	if err := json.Unmarshal(raw, &cr); err != nil {
		return conversations.UpstreamRecord{}, fmt.Errorf("decode conversation %s: %w", externalID, err)
	}
	rec := conversations.UpstreamRecord{
		ExternalID:   externalID,
		Status:       conversations.UpstreamStatus(cr.Status),
		DurationSecs: cr.Metadata.CallDurationSecs,
	}
	if cr.Metadata.StartTimeUnixSecs > 0 {
		rec.StartedAt = time.Unix(cr.Metadata.StartTimeUnixSecs, 0).UTC()
	}
	for _, t := range cr.Transcript {
		turn := conversations.UpstreamTurn{Role: t.Role, Message: t.Message, TimeInCallSecs: t.TimeInCallSecs}
		for _, tc := range t.ToolCalls {
			turn.ToolCalls = append(turn.ToolCalls, tc.ToolName)
		}
		rec.Turns = append(rec.Turns, turn)
	}
	return rec, nil
}

// do sends one request. Network failures come back as transient
// ProviderErrors; HTTP statuses are left to the caller.
func (c *ElevenLabsClient) do(ctx context.Context, method, path string, body []byte) (int, []byte, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("xi-api-key", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, Transient(providerElevenLabs, method+" "+path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, nil, Transient(providerElevenLabs, "read response", err)
	}
	return resp.StatusCode, raw, nil
}

// classifyStatus maps a non-2xx response. Rate limits, server errors and
// auth problems are transient: none of them say anything about the lead.
func classifyStatus(status int, raw []byte) error {
	msg := errorMessage(raw)
	switch {
	case status == http.StatusTooManyRequests,
		status == http.StatusRequestTimeout,
		status == http.StatusUnauthorized,
		status == http.StatusForbidden,
		status >= 500:
		return &ProviderError{Kind: FailureTransient, Provider: providerElevenLabs, StatusCode: status, Message: msg}
	}
	return classifyMessage(status, msg)
}

// classifyMessage marks a failure permanent only when it names the
// destination as invalid.
func classifyMessage(status int, msg string) error {
	pe := &ProviderError{Kind: FailureTransient, Provider: providerElevenLabs, StatusCode: status, Message: msg}
	lower := strings.ToLower(msg)
	for _, code := range permanentTwilioCodes {
		if strings.Contains(lower, code) {
			pe.Kind = FailurePermanent
			pe.Code = code
			return pe
		}
	}
	if strings.Contains(lower, "invalid phone") ||
		strings.Contains(lower, "not a valid phone") ||
		strings.Contains(lower, "invalid 'to'") ||
		strings.Contains(lower, "unverified") ||
		strings.Contains(lower, "to_number") {
		pe.Kind = FailurePermanent
	}
	return pe
}

// errorMessage pulls a human message out of the error body, which is either
// {"detail": "..."} or {"detail": {"status": "...", "message": "..."}}.
func errorMessage(raw []byte) string {
	var body struct {
		Detail  json.RawMessage `json:"detail"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return strings.TrimSpace(string(raw))
	}
	if len(body.Detail) > 0 {
		var s string
		if json.Unmarshal(body.Detail, &s) == nil {
			return s
		}
		var d struct {
			Status  string `json:"status"`
			Message string `json:"message"`
		}
		if json.Unmarshal(body.Detail, &d) == nil {
			return strings.TrimSpace(d.Status + " " + d.Message)
		}
	}
	return body.Message
}
