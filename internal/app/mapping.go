package app

import (
	"net/http"
	"strings"
	"time"

	"taskpush/internal/config"
	"taskpush/internal/observability/pprof"
	"taskpush/internal/provider"
	"taskpush/internal/reminder"
	"taskpush/internal/storage"
	"taskpush/internal/taskapi"
	"taskpush/internal/webhook"
	"taskpush/pkg/logx"
)

const (
	defaultAddr            = ":8080"
	defaultScanInterval    = 10 * time.Second
	defaultCleanupInterval = time.Hour
	defaultDigestSchedule  = "* * * * *"
	defaultHistorySize     = 100
)

func mapLogging(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorage(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 5*time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      strings.TrimSpace(sc.Driver),
		Path:        strings.TrimSpace(sc.Path),
		BusyTimeout: busy,
		Table:       sc.Table,
		Region:      sc.Region,
		Endpoint:    sc.Endpoint,
		Seed:        cfg.Users,
	}, nil
}

func mapTaskAPI(cfg *config.Config) (taskapi.Config, error) {
	timeout, err := config.ParseDurationField("task_api.timeout", cfg.TaskAPI.Timeout)
	if err != nil {
		return taskapi.Config{}, err
	}
	return taskapi.Config{
		BaseURL:     cfg.TaskAPI.BaseURL,
		Token:       cfg.TaskAPI.Token,
		FrontendURL: cfg.TaskAPI.FrontendURL,
		Timeout:     timeout,
		RatePerSec:  cfg.TaskAPI.RatePerSec,
		PerPage:     cfg.TaskAPI.PerPage,
	}, nil
}

// mapPolicy leaves zero values alone; Dispatcher fills in its defaults.
func mapPolicy(cfg *config.Config) (provider.Policy, error) {
	d := cfg.Dispatch
	base, err := config.ParseDurationOrDefault("dispatch.retry_base", d.RetryBase, provider.DefaultPolicy().BaseDelay)
	if err != nil {
		return provider.Policy{}, err
	}
	maxDelay, err := config.ParseDurationField("dispatch.retry_max_delay", d.RetryMaxDelay)
	if err != nil {
		return provider.Policy{}, err
	}
	timeout, err := config.ParseDurationField("dispatch.send_timeout", d.SendTimeout)
	if err != nil {
		return provider.Policy{}, err
	}
	return provider.Policy{
		MaxAttempts: d.MaxAttempts,
		BaseDelay:   base,
		MaxDelay:    maxDelay,
		SendTimeout: timeout,
		RatePerSec:  d.RatePerSec,
		Burst:       d.Burst,
	}, nil
}

func mapBuiltin(cfg *config.Config) (provider.BuiltinConfig, error) {
	p := cfg.Providers
	timeout, err := config.ParseDurationOrDefault("providers.http_timeout", p.HTTPTimeout, 15*time.Second)
	if err != nil {
		return provider.BuiltinConfig{}, err
	}
	return provider.BuiltinConfig{
		HTTPClient:  &http.Client{Timeout: timeout},
		PushDeerURL: p.PushDeerURL,
		BarkURL:     p.BarkURL,
		Telegram: provider.TelegramConfig{
			DefaultToken: p.TelegramToken,
			APIURL:       p.TelegramAPIURL,
		},
		SNSFactory:   provider.DefaultSNSClientFactory,
		DisabledList: p.Disabled,
	}, nil
}

// reminderSettings carries the engine config plus the job intervals.
type reminderSettings struct {
	Engine          reminder.Config
	ScanInterval    time.Duration
	CleanupInterval time.Duration
}

func mapReminder(cfg *config.Config) (reminderSettings, error) {
	r := cfg.Reminder
	out := reminderSettings{}
	var err error
	if out.ScanInterval, err = config.ParseDurationOrDefault("reminder.scan_interval", r.ScanInterval, defaultScanInterval); err != nil {
		return out, err
	}
	if out.CleanupInterval, err = config.ParseDurationOrDefault("reminder.cleanup_interval", r.CleanupInterval, defaultCleanupInterval); err != nil {
		return out, err
	}
	if out.Engine.Window, err = config.ParseDurationField("reminder.window", r.Window); err != nil {
		return out, err
	}
	if out.Engine.Retention, err = config.ParseDurationField("reminder.retention", r.Retention); err != nil {
		return out, err
	}
	out.Engine.MaxSentKeys = r.MaxSentKeys
	return out, nil
}

func mapServer(cfg *config.Config) (*http.Server, webhook.Options, error) {
	s := cfg.Server
	read, err := config.ParseDurationOrDefault("server.read_timeout", s.ReadTimeout, 10*time.Second)
	if err != nil {
		return nil, webhook.Options{}, err
	}
	write, err := config.ParseDurationOrDefault("server.write_timeout", s.WriteTimeout, 30*time.Second)
	if err != nil {
		return nil, webhook.Options{}, err
	}
	addr := strings.TrimSpace(s.Addr)
	if addr == "" {
		addr = defaultAddr
	}
	srv := &http.Server{
		Addr:              addr,
		ReadTimeout:       read,
		ReadHeaderTimeout: read,
		WriteTimeout:      write,
	}
	return srv, webhook.Options{
		Secret:            s.WebhookSecret,
		IngressRatePerSec: s.IngressRatePerSec,
		IngressBurst:      s.IngressBurst,
		AllowedOrigins:    s.AllowedOrigins,
	}, nil
}

func mapPprof(cfg *config.Config) (pprof.Config, error) {
	pc := pprof.Config{
		Addr:          strings.TrimSpace(cfg.Debug.PprofAddr),
		Token:         strings.TrimSpace(cfg.Debug.PprofToken),
		AllowInsecure: cfg.Debug.PprofAllowInsecure,
	}
	return pc, pc.Validate()
}

func historySize(n int) int {
	if n <= 0 {
		return defaultHistorySize
	}
	return n
}

func digestSchedule(cfg *config.Config) string {
	if s := strings.TrimSpace(cfg.Digest.Schedule); s != "" {
		return s
	}
	return defaultDigestSchedule
}

// checkWiring runs every mapping so a hot reload is rejected before it is
// published, not when a subscriber applies it.
func checkWiring(cfg *config.Config) error {
	if _, err := mapStorage(cfg); err != nil {
		return err
	}
	if _, err := mapTaskAPI(cfg); err != nil {
		return err
	}
	if _, err := mapPolicy(cfg); err != nil {
		return err
	}
	if _, err := mapBuiltin(cfg); err != nil {
		return err
	}
	if _, err := mapReminder(cfg); err != nil {
		return err
	}
	if _, err := mapPprof(cfg); err != nil {
		return err
	}
	_, _, err := mapServer(cfg)
	return err
}
