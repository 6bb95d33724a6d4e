package provider

import (
	"context"
	"net/http"
	"time"
)

const TypeWebhook = "webhook"

type webhookPayload struct {
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Format    string    `json:"format,omitempty"`
	URL       string    `json:"url,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewWebhook posts the message as JSON to the "url" setting. An optional
// "authorization" setting is sent verbatim as the Authorization header.
func NewWebhook(client *http.Client, now func() time.Time) Provider {
	if now == nil {
		now = time.Now
	}
	h := httpPoster{name: TypeWebhook, client: client}
	return Provider{
		Type:          TypeWebhook,
		CredentialKey: "url",
		Send: func(ctx context.Context, msg Message, to Target) error {
			var headers map[string]string
			if auth := to.Setting("authorization"); auth != "" {
				headers = map[string]string{"Authorization": auth}
			}
			_, err := h.postJSON(ctx, to.Credential, webhookPayload{
				Title:     msg.Title,
				Body:      msg.Body,
				Format:    msg.Format,
				URL:       msg.URL,
				Timestamp: now().UTC(),
			}, headers)
			return err
		},
	}
}
