package config

import (
	"reflect"
	"sort"
	"strings"

	"taskpush/pkg/logx"
)

// SummarizeConfigChange lists the changed sections and safe attrs for
// logging. Tokens and secrets are reported only as "_set" booleans.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 24)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Server, newCfg.Server) {
		changed = append(changed, "server")
		attrs = append(attrs,
			logx.String("server.addr", newCfg.Server.Addr),
			logx.Bool("server.webhook_secret_set", strings.TrimSpace(newCfg.Server.WebhookSecret) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.TaskAPI, newCfg.TaskAPI) {
		changed = append(changed, "task_api")
		attrs = append(attrs,
			logx.String("task_api.base_url", newCfg.TaskAPI.BaseURL),
			logx.Bool("task_api.token_set", strings.TrimSpace(newCfg.TaskAPI.Token) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", newCfg.Storage.Driver),
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
		)
	}

	if oldCfg.Dispatch != newCfg.Dispatch {
		changed = append(changed, "dispatch")
		attrs = append(attrs,
			logx.Int("dispatch.max_attempts", newCfg.Dispatch.MaxAttempts),
			logx.String("dispatch.retry_base", newCfg.Dispatch.RetryBase),
			logx.Any("dispatch.rate_per_sec", newCfg.Dispatch.RatePerSec),
		)
	}

	if !reflect.DeepEqual(oldCfg.Reminder, newCfg.Reminder) {
		changed = append(changed, "reminder")
		attrs = append(attrs,
			logx.Bool("reminder.enabled", newCfg.Reminder.IsEnabled()),
			logx.String("reminder.window", newCfg.Reminder.Window),
		)
	}

	if !reflect.DeepEqual(oldCfg.Digest, newCfg.Digest) {
		changed = append(changed, "digest")
		attrs = append(attrs,
			logx.Bool("digest.enabled", newCfg.Digest.IsEnabled()),
			logx.String("digest.timezone", newCfg.Digest.Timezone),
		)
	}

	if oldCfg.History != newCfg.History {
		changed = append(changed, "history")
	}

	if !reflect.DeepEqual(oldCfg.Providers, newCfg.Providers) {
		changed = append(changed, "providers")
		attrs = append(attrs,
			logx.Bool("providers.telegram_token_set", strings.TrimSpace(newCfg.Providers.TelegramToken) != ""),
			logx.Strings("providers.disabled", newCfg.Providers.Disabled),
		)
	}

	if oldCfg.Debug != newCfg.Debug {
		changed = append(changed, "debug")
		attrs = append(attrs,
			logx.String("debug.pprof_addr", newCfg.Debug.PprofAddr),
			logx.Bool("debug.pprof_token_set", newCfg.Debug.PprofToken != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Users, newCfg.Users) {
		changed = append(changed, "users")
		attrs = append(attrs, logx.Int("users.count", len(newCfg.Users)))
	}

	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired reports sections that are wired once at startup.
func RestartRequired(sections []string) []string {
	var out []string
	for _, s := range sections {
		switch s {
		case "server", "task_api", "storage", "providers", "users", "history", "digest", "debug":
			out = append(out, s)
		}
	}
	return out
}
