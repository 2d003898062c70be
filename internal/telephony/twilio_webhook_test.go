package telephony

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

func TestParseTwilioStatusCallback(t *testing.T) {
	body := strings.NewReader("CallSid=CA123&To=%2B15557654321&CallStatus=no-answer&Timestamp=Tue%2C+14+Nov+2023+22%3A13%3A20+%2B0000")
	r := httptest.NewRequest(http.MethodPost, "/webhooks/twilio/status", body)
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	form, err := ParseTwilioStatusCallback(r)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if form.CallSid != "CA123" || form.CallStatus != "no-answer" {
		t.Fatalf("unexpected form: %+v", form)
	}

	ev, ok := form.ToRawEvent(time.Unix(1800000000, 0))
	if !ok {
		t.Fatalf("expected an event")
	}
	if ev.ConversationExternalID != "CA123" || ev.EventType != "no_answer" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if !ev.Timestamp.Equal(time.Unix(1700000000, 0)) {
		t.Fatalf("expected callback timestamp, got %s", ev.Timestamp)
	}
}

func TestTwilioStatusMapping(t *testing.T) {
	cases := map[string]string{
		"completed":   "call_ended",
		"busy":        "busy",
		"no-answer":   "no_answer",
		"failed":      "call_failed",
		"canceled":    "call_failed",
		"in-progress": "conversation_started",
		"ringing":     "",
		"queued":      "",
	}
	now := time.Unix(1700000000, 0).UTC()
	for status, want := range cases {
		ev, ok := TwilioStatusForm{CallSid: "CA1", CallStatus: status}.ToRawEvent(now)
		if want == "" {
			if ok {
				t.Fatalf("%s: expected no event, got %+v", status, ev)
			}
			continue
		}
		if !ok || ev.EventType != want {
			t.Fatalf("%s: expected %s, got %+v", status, want, ev)
		}
		if !ev.Timestamp.Equal(now) {
			t.Fatalf("%s: missing timestamp should fall back to receipt time", status)
		}
	}
}

func sign(token, u string, params url.Values) string {
	mac := hmac.New(sha1.New, []byte(token))
	s := u
	// sorted by hand: CallSid < CallStatus
	s += "CallSid" + params.Get("CallSid") + "CallStatus" + params.Get("CallStatus")
	mac.Write([]byte(s))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestValidateTwilioSignature(t *testing.T) {
	u := "https://dialer.example.org/webhooks/twilio/status"
	params := url.Values{"CallStatus": {"completed"}, "CallSid": {"CA123"}}
	sig := sign("tok", u, params)

	if !ValidateTwilioSignature("tok", u, params, sig) {
		t.Fatalf("expected valid signature")
	}
	if ValidateTwilioSignature("other", u, params, sig) {
		t.Fatalf("wrong token must fail")
	}
	params.Set("CallStatus", "failed")
	if ValidateTwilioSignature("tok", u, params, sig) {
		t.Fatalf("tampered params must fail")
	}
	if ValidateTwilioSignature("", u, params, sig) {
		t.Fatalf("empty token must fail")
	}
}
