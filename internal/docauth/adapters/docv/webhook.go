package docv

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"idproof/internal/docauth"
)

type webhookBody struct {
	Event webhookEvent `json:"event"`
}

type webhookEvent struct {
	EventType string    `json:"eventType"`
	Created   time.Time `json:"created"`
	Data      struct {
		Token                string                `json:"docvTransactionToken"`
		URL                  string                `json:"url"`
		DocumentVerification *documentVerification `json:"documentVerification"`
	} `json:"data"`
}

var eventKinds = map[string]docauth.EventKind{
	"DOCUMENT_FRONT_UPLOADED": docauth.EventFrontUploaded,
	"DOCUMENT_BACK_UPLOADED":  docauth.EventBackUploaded,
	"SESSION_OPENED":          docauth.EventSessionOpened,
	"APP_OPENED":              docauth.EventSessionOpened,
	"SESSION_EXPIRED":         docauth.EventSessionExpired,
	"SESSION_COMPLETE":        docauth.EventCaptureComplete,
	"DOCUMENTS_UPLOADED":      docauth.EventCaptureComplete,
	"VERIFICATION_COMPLETED":  docauth.EventCaptureComplete,
	"VERIFICATION_ERROR":      docauth.EventError,
}

// ParseWebhook decodes a signature-verified callback. Event types outside
// the known set yield no events.
func (a *Adapter) ParseWebhook(raw []byte) ([]docauth.WebhookEvent, error) {
	var body webhookBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("decode docv webhook: %w", err)
	}
	e := body.Event
	if strings.TrimSpace(e.Data.Token) == "" {
		return nil, fmt.Errorf("docv webhook missing transaction token")
	}
	kind, ok := eventKinds[strings.ToUpper(e.EventType)]
	if !ok {
		return nil, nil
	}

	out := docauth.WebhookEvent{
		Token:      e.Data.Token,
		Kind:       kind,
		VendorType: e.EventType,
		OccurredAt: e.Created,
	}
	switch kind {
	case docauth.EventSessionOpened:
		out.CaptureAppURL = e.Data.URL
	case docauth.EventCaptureComplete:
		if e.Data.DocumentVerification != nil {
			v := a.evaluate(*e.Data.DocumentVerification)
			out.Verdict = &v
		}
	case docauth.EventError:
		v := docauth.TransportErrorVerdict(docauth.ReasonVendorUnavailable, e.EventType)
		out.Verdict = &v
	}
	return []docauth.WebhookEvent{out}, nil
}
