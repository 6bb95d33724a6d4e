package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
logging:
  level: debug
  console: true
server:
  addr: ":9000"
  webhook_secret: ${TASKPUSH_TEST_SECRET}
task_api:
  base_url: https://tasks.example/api/v1
  token: ${TASKPUSH_TEST_TOKEN}
storage:
  driver: file
  path: ./data
dispatch:
  max_attempts: 4
  retry_base: 500ms
reminder:
  window: 10m
users:
  - user_id: "1"
    providers:
      - provider_type: bark
        settings:
          deviceKey: abc
    templates:
      task.created:
        event_type: task.created
        title_template: "New: $task {{task.title}}"
        body_template: "{{project.title}}"
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadYAMLExpandsEnv(t *testing.T) {
	t.Setenv("TASKPUSH_TEST_SECRET", "s3cret")
	t.Setenv("TASKPUSH_TEST_TOKEN", "tok")

	m := NewManager(writeFile(t, "config.yaml", sampleYAML))
	cfg, err := m.Load()
	require.NoError(t, err)

	assert.Equal(t, "s3cret", cfg.Server.WebhookSecret)
	assert.Equal(t, "tok", cfg.TaskAPI.Token)
	assert.Equal(t, 4, cfg.Dispatch.MaxAttempts)
	require.Len(t, cfg.Users, 1)
	assert.Equal(t, "abc", cfg.Users[0].Providers[0].Settings["deviceKey"])
	assert.Equal(t, "New: $task {{task.title}}", cfg.Users[0].Templates["task.created"].TitleTemplate)
	assert.True(t, cfg.Reminder.IsEnabled())
	assert.Same(t, cfg, m.Get())
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	m := NewManager(writeFile(t, "config.json", `{"logging":{"level":"info"},"bogus":1}`))
	_, err := m.Load()
	assert.Error(t, err)
}

func TestLoadRejectsTrailingData(t *testing.T) {
	t.Parallel()
	m := NewManager(writeFile(t, "config.json", `{} {}`))
	_, err := m.Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := map[string]func(*Config){
		"bad duration":      func(c *Config) { c.Reminder.Window = "soon" },
		"negative attempts": func(c *Config) { c.Dispatch.MaxAttempts = -1 },
		"file without path": func(c *Config) { c.Storage.Driver = "file" },
		"unknown driver":    func(c *Config) { c.Storage.Driver = "redis" },
		"bad timezone":      func(c *Config) { c.Digest.Timezone = "Mars/Base" },
		"bad schedule":      func(c *Config) { c.Digest.Schedule = "every minute" },
		"bad base url":      func(c *Config) { c.TaskAPI.BaseURL = "tasks" },
		"user without id":   func(c *Config) { c.Users = append(c.Users, c.Users[0]); c.Users[1].UserID = "" },
		"duplicate user":    func(c *Config) { c.Users = append(c.Users, c.Users[0]) },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg, err := Decode("c.yaml", []byte(sampleYAML))
			require.NoError(t, err)
			require.NoError(t, Validate(cfg))
			mutate(cfg)
			assert.Error(t, Validate(cfg))
		})
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	d, err := ParseDurationOrDefault("x", "", 3*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, d)

	d, err = ParseDurationOrDefault("x", "250ms", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, d)

	_, err = ParseDurationOrDefault("x", "-1s", time.Second)
	assert.Error(t, err)
}

func TestSummarizeConfigChangeHidesSecrets(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{}
	newCfg := &Config{TaskAPI: TaskAPIConfig{Token: "secret-token"}, Dispatch: DispatchConfig{MaxAttempts: 5}}

	sections, attrs := SummarizeConfigChange(oldCfg, newCfg)
	assert.Equal(t, []string{"dispatch", "task_api"}, sections)
	assert.NotEmpty(t, attrs)
	assert.Equal(t, []string{"task_api"}, RestartRequired(sections))

	sections, _ = SummarizeConfigChange(newCfg, newCfg)
	assert.Empty(t, sections)
}

func TestWatchPublishesReload(t *testing.T) {
	path := writeFile(t, "config.json", `{"logging":{"level":"info"}}`)
	m := NewManager(path)
	_, err := m.Load()
	require.NoError(t, err)

	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = m.Watch(ctx)
		close(done)
	}()

	// Rewrite until the watcher has picked it up; fsnotify may start late.
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case cfg := <-sub:
			assert.Equal(t, "debug", cfg.Logging.Level)
			cancel()
			<-done
			return
		case <-tick.C:
			require.NoError(t, os.WriteFile(path, []byte(`{"logging":{"level":"debug"}}`), 0o600))
		case <-deadline:
			t.Fatal("no reload published")
		}
	}
}

func TestWatchRejectsInvalidReload(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.json", `{"logging":{"level":"info"}}`)
	m := NewManager(path)
	_, err := m.Load()
	require.NoError(t, err)
	m.SetValidator(func(context.Context, *Config) error { return assert.AnError })

	sub := m.Subscribe(1)
	require.NoError(t, os.WriteFile(path, []byte(`{"logging":{"level":"debug"}}`), 0o600))
	m.reload(context.Background())

	select {
	case <-sub:
		t.Fatal("invalid config published")
	default:
	}
	assert.Equal(t, "info", m.Get().Logging.Level)
}
