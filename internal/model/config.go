package model

import (
	"strings"
	"time"
)

// ProviderConfig is one configured push channel of a user.
type ProviderConfig struct {
	ProviderType string            `json:"provider_type" yaml:"provider_type" dynamodbav:"provider_type" validate:"required"`
	Settings     map[string]string `json:"settings,omitempty" yaml:"settings" dynamodbav:"settings,omitempty"`
}

// NotificationTemplate overrides rendering (and optionally the provider set) for one event type.
type NotificationTemplate struct {
	EventType     string   `json:"event_type" dynamodbav:"event_type"`
	TitleTemplate string   `json:"title_template" dynamodbav:"title_template"`
	BodyTemplate  string   `json:"body_template" dynamodbav:"body_template"`
	Format        string   `json:"format,omitempty" dynamodbav:"format,omitempty" validate:"omitempty,oneof=text markdown html"`
	Providers     []string `json:"providers,omitempty" dynamodbav:"providers,omitempty"`
}

type ReminderSettings struct {
	Enabled   bool                            `json:"enabled" dynamodbav:"enabled"`
	LabelIDs  []int64                         `json:"label_ids,omitempty" dynamodbav:"label_ids,omitempty"`
	Providers []string                        `json:"providers,omitempty" dynamodbav:"providers,omitempty"`
	Templates map[string]NotificationTemplate `json:"templates,omitempty" dynamodbav:"templates,omitempty"`
}

// ScheduledDigestConfig is a once-daily summary push. PushTime is local "HH:mm".
type ScheduledDigestConfig struct {
	ID            string    `json:"id" dynamodbav:"id" validate:"required"`
	UserID        string    `json:"user_id" dynamodbav:"user_id"`
	Enabled       bool      `json:"enabled" dynamodbav:"enabled"`
	PushTime      string    `json:"push_time" dynamodbav:"push_time" validate:"required"`
	MinPriority   int       `json:"min_priority" dynamodbav:"min_priority" validate:"gte=0,lte=5"`
	LabelIDs      []int64   `json:"label_ids,omitempty" dynamodbav:"label_ids,omitempty"`
	TitleTemplate string    `json:"title_template,omitempty" dynamodbav:"title_template,omitempty"`
	BodyTemplate  string    `json:"body_template,omitempty" dynamodbav:"body_template,omitempty"`
	Providers     []string  `json:"providers,omitempty" dynamodbav:"providers,omitempty"`
	LastPushTime  time.Time `json:"last_push_time,omitzero" dynamodbav:"last_push_time"`
}

// UserNotificationConfig is owned by the ConfigStore; engines only read snapshots.
type UserNotificationConfig struct {
	UserID           string                          `json:"user_id" dynamodbav:"user_id" validate:"required"`
	Providers        []ProviderConfig                `json:"providers" dynamodbav:"providers" validate:"dive"`
	DefaultProviders []string                        `json:"default_providers,omitempty" dynamodbav:"default_providers,omitempty"`
	Templates        map[string]NotificationTemplate `json:"templates,omitempty" dynamodbav:"templates,omitempty" validate:"dive"`
	Reminder         ReminderSettings                `json:"reminder" dynamodbav:"reminder"`
	Digests          []ScheduledDigestConfig         `json:"digests,omitempty" dynamodbav:"digests,omitempty" validate:"dive"`
}

// DefaultUserConfig is what a missing or unreadable record turns into.
func DefaultUserConfig(userID string) UserNotificationConfig {
	return UserNotificationConfig{
		UserID:    userID,
		Providers: []ProviderConfig{},
		Templates: map[string]NotificationTemplate{},
	}
}

// Provider returns the configured provider of the given type.
func (c UserNotificationConfig) Provider(providerType string) (ProviderConfig, bool) {
	for _, p := range c.Providers {
		if strings.EqualFold(p.ProviderType, providerType) {
			return p, true
		}
	}
	return ProviderConfig{}, false
}

// ResolveProviders picks the providers to dispatch to. A non-empty requested
// list is intersected with the configured providers, then the user's defaults
// are tried the same way, then every configured provider. ok is false when a
// requested or default intersection came out empty.
func (c UserNotificationConfig) ResolveProviders(requested []string) (out []ProviderConfig, ok bool) {
	pick := requested
	if len(pick) == 0 {
		pick = c.DefaultProviders
	}
	if len(pick) == 0 {
		out = append(out, c.Providers...)
		return out, len(out) > 0
	}
	seen := make(map[string]bool, len(pick))
	for _, name := range pick {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		if p, found := c.Provider(key); found {
			out = append(out, p)
		}
	}
	return out, len(out) > 0
}

func (c UserNotificationConfig) Template(eventType string) (NotificationTemplate, bool) {
	if c.Templates == nil {
		return NotificationTemplate{}, false
	}
	t, ok := c.Templates[eventType]
	return t, ok
}

// MatchesLabels reports whether the reminder label filter admits a task.
// An empty filter admits everything.
func (r ReminderSettings) MatchesLabels(taskLabels map[int64]struct{}) bool {
	if len(r.LabelIDs) == 0 {
		return true
	}
	for _, id := range r.LabelIDs {
		if _, ok := taskLabels[id]; ok {
			return true
		}
	}
	return false
}
