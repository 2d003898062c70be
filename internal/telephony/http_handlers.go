package telephony

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"donor-dialer/internal/apperr"
	"donor-dialer/internal/conversations"
	"donor-dialer/pkg/logger"

	"github.com/gin-gonic/gin"
)

// EventIngester is the orchestrator surface the webhooks feed.
type EventIngester interface {
	IngestEvents(ctx context.Context, externalID string, raws []conversations.RawEvent) (conversations.IngestSummary, error)
}

// WebhookHandler converts provider callbacks to raw conversation events and
// hands them to the orchestrator.
//
// No business logic here.
type WebhookHandler struct {
	Ingester EventIngester

	// TwilioAuthToken enables X-Twilio-Signature validation when set.
	TwilioAuthToken string
	// PublicBaseURL is the origin Twilio signed against; behind a proxy the
	// request host is not it.
	PublicBaseURL string

	Now func() time.Time
}

func (h WebhookHandler) now() time.Time {
	if h.Now == nil {
		return time.Now().UTC()
	}
	return h.Now().UTC()
}

type voiceEnvelope struct {
	ConversationExternalID string                   `json:"conversation_external_id"`
	ConversationID         string                   `json:"conversation_id"`
	Events                 []conversations.RawEvent `json:"events"`
}

// HandleVoiceEvents accepts one event object, an array of events, or an
// envelope {"conversation_external_id": ..., "events": [...]}. Events are
// grouped by conversation and ingested in arrival order.
func (h WebhookHandler) HandleVoiceEvents(c *gin.Context) {
	log := logger.FromGin(c)
	if h.Ingester == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "event ingestion not configured"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 5<<20))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	raws, err := decodeVoiceEvents(body)
	if err != nil {
		log.Warn("voice webhook decode failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if len(raws) == 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "no events"})
		return
	}

	order, groups := groupByConversation(raws)
	if _, ok := groups[""]; ok {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "conversation_external_id is required"})
		return
	}

	results := make([]conversations.IngestSummary, 0, len(order))
	for _, id := range order {
		sum, err := h.Ingester.IngestEvents(c.Request.Context(), id, groups[id])
		if err != nil {
			status := apperr.HTTPStatus(err)
			if status >= 500 {
				log.Error("voice event ingest failed", "external_id", id, "err", err)
			} else {
				log.Warn("voice event ingest rejected", "external_id", id, "err", err)
			}
			c.AbortWithStatusJSON(status, gin.H{"error": err.Error(), "conversation_external_id": id})
			return
		}
		results = append(results, sum)
	}
	c.JSON(http.StatusAccepted, gin.H{"results": results})
}

func decodeVoiceEvents(body []byte) ([]conversations.RawEvent, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var raws []conversations.RawEvent
		if err := json.Unmarshal(trimmed, &raws); err != nil {
			return nil, err
		}
		return raws, nil
	}

	var env voiceEnvelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, err
	}
	if env.Events == nil {
		var single conversations.RawEvent
		if err := json.Unmarshal(trimmed, &single); err != nil {
			return nil, err
		}
		if single.ConversationExternalID == "" {
			single.ConversationExternalID = env.ConversationID
		}
		return []conversations.RawEvent{single}, nil
	}
	id := env.ConversationExternalID
	if id == "" {
		id = env.ConversationID
	}
	for i := range env.Events {
		if env.Events[i].ConversationExternalID == "" {
			env.Events[i].ConversationExternalID = id
		}
	}
	return env.Events, nil
}

func groupByConversation(raws []conversations.RawEvent) ([]string, map[string][]conversations.RawEvent) {
	var order []string
	groups := map[string][]conversations.RawEvent{}
	for _, r := range raws {
		id := strings.TrimSpace(r.ConversationExternalID)
		if _, ok := groups[id]; !ok {
			order = append(order, id)
		}
		groups[id] = append(groups[id], r)
	}
	return order, groups
}

// HandleTwilioStatus ingests a call status callback as a terminal (or
// started) event keyed by call sid. Statuses that carry no event are
// acknowledged and dropped.
func (h WebhookHandler) HandleTwilioStatus(c *gin.Context) {
	log := logger.FromGin(c)
	if h.Ingester == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "event ingestion not configured"})
		return
	}

	form, err := ParseTwilioStatusCallback(c.Request)
	if err != nil {
		log.Warn("twilio status parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}

	if h.TwilioAuthToken != "" {
		fullURL := strings.TrimRight(h.PublicBaseURL, "/") + c.Request.URL.RequestURI()
		if h.PublicBaseURL == "" {
			fullURL = "https://" + c.Request.Host + c.Request.URL.RequestURI()
		}
		if !ValidateTwilioSignature(h.TwilioAuthToken, fullURL, c.Request.PostForm, c.GetHeader("X-Twilio-Signature")) {
			log.Warn("twilio signature mismatch", "call_sid", form.CallSid)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid signature"})
			return
		}
	}

	ev, ok := form.ToRawEvent(h.now())
	if !ok {
		c.Status(http.StatusNoContent)
		return
	}
	sum, err := h.Ingester.IngestEvents(c.Request.Context(), form.CallSid, []conversations.RawEvent{ev})
	if err != nil {
		if apperr.IsCode(err, apperr.CodeNotFound) {
			// Calls placed outside the dialer share the status URL.
			log.Info("twilio status for unknown call", "call_sid", form.CallSid)
			c.Status(http.StatusNoContent)
			return
		}
		log.Error("twilio status ingest failed", "call_sid", form.CallSid, "err", err)
		c.AbortWithStatusJSON(apperr.HTTPStatus(err), gin.H{"error": "ingest failed"})
		return
	}
	c.JSON(http.StatusOK, sum)
}
