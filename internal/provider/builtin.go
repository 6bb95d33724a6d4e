package provider

import (
	"net/http"
	"time"
)

// BuiltinConfig carries the process-wide knobs of the bundled providers.
type BuiltinConfig struct {
	HTTPClient   *http.Client
	PushDeerURL  string
	BarkURL      string
	Telegram     TelegramConfig
	SNSFactory   SNSClientFactory
	DisabledList []string
}

// Builtin returns the bundled providers minus any listed in DisabledList.
func Builtin(cfg BuiltinConfig) []Provider {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if cfg.Telegram.Client == nil {
		cfg.Telegram.Client = client
	}
	all := []Provider{
		NewPushDeer(client, cfg.PushDeerURL),
		NewBark(client, cfg.BarkURL),
		NewTelegram(cfg.Telegram),
		NewSNS(cfg.SNSFactory),
		NewWebhook(client, nil),
	}
	disabled := make(map[string]bool, len(cfg.DisabledList))
	for _, t := range cfg.DisabledList {
		disabled[normalizeType(t)] = true
	}
	out := all[:0]
	for _, p := range all {
		if !disabled[p.Type] {
			out = append(out, p)
		}
	}
	return out
}
