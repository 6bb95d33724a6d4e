package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

const (
	TypeBark        = "bark"
	defaultBarkBase = "https://api.day.app"
)

type barkPayload struct {
	DeviceKey string `json:"device_key"`
	Title     string `json:"title,omitempty"`
	Body      string `json:"body"`
	URL       string `json:"url,omitempty"`
	Group     string `json:"group,omitempty"`
	Sound     string `json:"sound,omitempty"`
	Level     string `json:"level,omitempty"`
}

func NewBark(client *http.Client, baseURL string) Provider {
	if baseURL == "" {
		baseURL = defaultBarkBase
	}
	h := httpPoster{name: TypeBark, client: client}
	return Provider{
		Type:          TypeBark,
		CredentialKey: "deviceKey",
		Send: func(ctx context.Context, msg Message, to Target) error {
			base := baseURL
			if s := to.Setting("server"); s != "" {
				base = s
			}
			body := msg.Body
			if body == "" {
				body = msg.Title
			}
			group := to.Setting("group")
			if group == "" {
				group = "taskpush"
			}
			data, err := h.postJSON(ctx, strings.TrimRight(base, "/")+"/push", barkPayload{
				DeviceKey: to.Credential,
				Title:     msg.Title,
				Body:      body,
				URL:       msg.URL,
				Group:     group,
				Sound:     to.Setting("sound"),
				Level:     to.Setting("level"),
			}, nil)
			if err != nil {
				return err
			}
			var resp struct {
				Code    int    `json:"code"`
				Message string `json:"message"`
			}
			if err := json.Unmarshal(data, &resp); err == nil && resp.Code != 0 && resp.Code != http.StatusOK {
				return Permanent(fmt.Errorf("bark: code %d: %s", resp.Code, resp.Message))
			}
			return nil
		},
	}
}
