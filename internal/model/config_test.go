package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestResolveProviders(t *testing.T) {
	t.Parallel()

	cfg := UserNotificationConfig{
		UserID: "u1",
		Providers: []ProviderConfig{
			{ProviderType: "pushdeer", Settings: map[string]string{"pushkey": "k"}},
			{ProviderType: "bark", Settings: map[string]string{"deviceKey": "d"}},
		},
	}
	withDefaults := cfg
	withDefaults.DefaultProviders = []string{"bark"}
	badDefaults := cfg
	badDefaults.DefaultProviders = []string{"telegram"}

	tests := []struct {
		name      string
		cfg       UserNotificationConfig
		requested []string
		want      []string
		ok        bool
	}{
		{"all configured", cfg, nil, []string{"pushdeer", "bark"}, true},
		{"requested subset", cfg, []string{"BARK", "bark"}, []string{"bark"}, true},
		{"requested unknown", cfg, []string{"sns"}, nil, false},
		{"defaults", withDefaults, nil, []string{"bark"}, true},
		{"requested beats defaults", withDefaults, []string{"pushdeer"}, []string{"pushdeer"}, true},
		{"defaults not configured", badDefaults, nil, nil, false},
		{"nothing configured", UserNotificationConfig{UserID: "u2"}, nil, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := tt.cfg.ResolveProviders(tt.requested)
			assert.Equal(t, tt.ok, ok)
			var types []string
			for _, p := range got {
				types = append(types, p.ProviderType)
			}
			assert.Equal(t, tt.want, types)
		})
	}
}

func TestReminderLabelFilter(t *testing.T) {
	t.Parallel()
	labels := map[int64]struct{}{7: {}}
	assert.True(t, ReminderSettings{}.MatchesLabels(labels))
	assert.True(t, ReminderSettings{LabelIDs: []int64{1, 7}}.MatchesLabels(labels))
	assert.False(t, ReminderSettings{LabelIDs: []int64{2}}.MatchesLabels(labels))
}

func TestPendingTriggers(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	p := PendingTaskReminder{
		DueDate:   now,
		Reminders: []time.Time{now.Add(-time.Hour), {}},
	}
	got := p.Triggers()
	assert.Equal(t, []Trigger{
		{Kind: ReminderDue, At: now},
		{Kind: ReminderExplicit, At: now.Add(-time.Hour)},
	}, got)

	a := NewSentReminderKey(1, ReminderDue, now.Add(10*time.Second))
	b := NewSentReminderKey(1, ReminderDue, now.Add(50*time.Second))
	assert.Equal(t, a, b)
}
