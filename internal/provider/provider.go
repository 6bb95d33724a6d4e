// Package provider delivers rendered notifications to push channels.
//
// A provider is a plain value: a type name, the settings key holding its
// credential, and a send function. The Dispatcher wraps every provider with
// the same rate limit, timeout and retry policy.
package provider

import (
	"context"
	"strings"
)

type Message struct {
	Title  string
	Body   string
	Format string // "text", "markdown" or "html"
	URL    string
}

// Target is what a single send is addressed with: the credential value
// (already checked to be non-empty when the provider declares a key) and the
// full settings map of the user's ProviderConfig.
type Target struct {
	Credential string
	Settings   map[string]string
}

func (t Target) Setting(key string) string {
	if t.Settings == nil {
		return ""
	}
	return strings.TrimSpace(t.Settings[key])
}

type SendFunc func(ctx context.Context, msg Message, to Target) error

type Provider struct {
	Type string
	// CredentialKey names the required settings entry. Empty means none.
	CredentialKey string
	Send          SendFunc
}

func normalizeType(t string) string { return strings.ToLower(strings.TrimSpace(t)) }

func isMarkdown(format string) bool {
	return strings.EqualFold(format, "markdown") || strings.EqualFold(format, "md")
}

// plainText joins title and body for channels without a title field.
func plainText(msg Message) string {
	var b strings.Builder
	if msg.Title != "" {
		b.WriteString(msg.Title)
	}
	if msg.Body != "" {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(msg.Body)
	}
	return b.String()
}
