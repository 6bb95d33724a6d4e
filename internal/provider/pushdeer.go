package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

const (
	TypePushDeer        = "pushdeer"
	defaultPushDeerBase = "https://api2.pushdeer.com"
)

// NewPushDeer sends through a PushDeer server. A per-user "server" setting
// overrides baseURL for self-hosted instances.
func NewPushDeer(client *http.Client, baseURL string) Provider {
	if baseURL == "" {
		baseURL = defaultPushDeerBase
	}
	h := httpPoster{name: TypePushDeer, client: client}
	return Provider{
		Type:          TypePushDeer,
		CredentialKey: "pushkey",
		Send: func(ctx context.Context, msg Message, to Target) error {
			base := baseURL
			if s := to.Setting("server"); s != "" {
				base = s
			}
			form := url.Values{}
			form.Set("pushkey", to.Credential)
			form.Set("text", msg.Title)
			form.Set("desp", msg.Body)
			if isMarkdown(msg.Format) {
				form.Set("type", "markdown")
			} else {
				form.Set("type", "text")
			}
			data, err := h.postForm(ctx, strings.TrimRight(base, "/")+"/message/push", form)
			if err != nil {
				return err
			}
			// PushDeer answers 200 with an application-level code.
			var resp struct {
				Code  int    `json:"code"`
				Error string `json:"error"`
			}
			if err := json.Unmarshal(data, &resp); err != nil {
				return fmt.Errorf("pushdeer: decode response: %w", err)
			}
			if resp.Code != 0 {
				return Permanent(fmt.Errorf("pushdeer: code %d: %s", resp.Code, resp.Error))
			}
			return nil
		},
	}
}
