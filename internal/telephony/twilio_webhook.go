package telephony

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"donor-dialer/internal/conversations"
	"donor-dialer/internal/events"
)

// TwilioStatusForm is the subset of a Twilio call status callback we use.
// Twilio posts application/x-www-form-urlencoded.
// Ref: https://www.twilio.com/docs/voice/api/call-resource#statuscallback
type TwilioStatusForm struct {
	CallSid      string
	AccountSid   string
	To           string
	CallStatus   string
	CallDuration string
	Timestamp    string
	ErrorCode    string
}

func ParseTwilioStatusCallback(r *http.Request) (TwilioStatusForm, error) {
	if err := r.ParseForm(); err != nil {
		return TwilioStatusForm{}, err
	}
	return TwilioStatusForm{
		CallSid:      strings.TrimSpace(r.PostFormValue("CallSid")),
		AccountSid:   r.PostFormValue("AccountSid"),
		To:           strings.TrimSpace(r.PostFormValue("To")),
		CallStatus:   strings.ToLower(strings.TrimSpace(r.PostFormValue("CallStatus"))),
		CallDuration: r.PostFormValue("CallDuration"),
		Timestamp:    r.PostFormValue("Timestamp"),
		ErrorCode:    r.PostFormValue("ErrorCode"),
	}, nil
}

// eventType maps a Twilio call status onto the conversation vocabulary.
// queued, initiated and ringing carry no information and map to "".
func (f TwilioStatusForm) eventType() events.Type {
	switch f.CallStatus {
	case "in-progress", "answered":
		return events.TypeConversationStarted
	case "completed":
		return events.TypeCallEnded
	case "busy":
		return events.TypeBusy
	case "no-answer":
		return events.TypeNoAnswer
	case "failed", "canceled":
		return events.TypeCallFailed
	default:
		return ""
	}
}

// ToRawEvent converts the callback to a conversation event keyed by call sid.
// ok is false for statuses that do not produce an event.
func (f TwilioStatusForm) ToRawEvent(receivedAt time.Time) (conversations.RawEvent, bool) {
	typ := f.eventType()
	if typ == "" || f.CallSid == "" {
		return conversations.RawEvent{}, false
	}
	at := receivedAt.UTC()
	if f.Timestamp != "" {
		if t, err := time.Parse(time.RFC1123Z, f.Timestamp); err == nil {
			at = t.UTC()
		}
	}
	return conversations.RawEvent{
		ConversationExternalID: f.CallSid,
		EventType:              string(typ),
		Timestamp:              at,
	}, true
}

// ValidateTwilioSignature checks X-Twilio-Signature: base64 HMAC-SHA1 of the
// full callback URL followed by every POST parameter as name+value, sorted
// by name.
func ValidateTwilioSignature(authToken, fullURL string, params url.Values, signature string) bool {
	if authToken == "" || signature == "" {
		return false
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		vals := append([]string(nil), params[k]...)
		sort.Strings(vals)
		for _, v := range vals {
			b.WriteString(k)
			b.WriteString(v)
		}
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
