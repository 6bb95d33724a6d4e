package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"taskpush/internal/digest"
	"taskpush/internal/history"
	"taskpush/internal/model"
	"taskpush/internal/storage"
	"taskpush/pkg/logx"
)

type Router interface {
	Route(ctx context.Context, ev model.WebhookEvent) []model.PushRecord
	History() *history.Store[model.PushRecord]
}

type Reminders interface {
	OnTaskCreated(task model.Task, project *model.Project)
	OnTaskUpdated(task model.Task, project *model.Project)
	OnTaskDeleted(taskID int64)
	Pending() []model.PendingTaskReminder
	History() *history.Store[model.ReminderRecord]
}

type Digests interface {
	History() *history.Store[model.DigestRecord]
}

type ConfigStore interface {
	LoadConfig(ctx context.Context, userID string) (model.UserNotificationConfig, error)
	SaveConfig(ctx context.Context, cfg model.UserNotificationConfig) error
	DeleteConfig(ctx context.Context, userID string) error
}

// ProviderTester sends one test message without retries.
type ProviderTester interface {
	ValidateConfig(ctx context.Context, cfg model.ProviderConfig) model.ProviderResult
}

type Deps struct {
	Router    Router
	Reminders Reminders
	Digests   Digests
	Configs   ConfigStore
	Tester    ProviderTester
	// Status feeds GET /api/status; optional.
	Status func() any
	Now    func() time.Time
}

type Options struct {
	Secret            string
	IngressRatePerSec float64
	IngressBurst      int
	AllowedOrigins    []string
	// RouteTimeout bounds one event's fan-out. Routing runs under the
	// inbound request context, so a caller that goes away cancels its sends.
	RouteTimeout time.Duration
	MaxBodyBytes int64
}

const (
	defaultRouteTimeout = 2 * time.Minute
	defaultMaxBody      = 1 << 20
)

type Server struct {
	deps Deps
	opts Options
	log  logx.Logger
	mux  *chi.Mux
}

func New(deps Deps, opts Options, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if opts.RouteTimeout <= 0 {
		opts.RouteTimeout = defaultRouteTimeout
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBody
	}
	s := &Server{deps: deps, opts: opts, log: log.With(logx.String("comp", "http"))}
	s.mux = s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) routes() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(s.log))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		if s.opts.IngressRatePerSec > 0 {
			r.Use(newIPLimiter(s.opts.IngressRatePerSec, s.opts.IngressBurst).Limit)
		}
		r.Use(verifySignature(s.opts.Secret, s.opts.MaxBodyBytes))
		r.Post("/webhook", s.handleWebhook)
	})

	r.Route("/api", func(r chi.Router) {
		if len(s.opts.AllowedOrigins) > 0 {
			r.Use(cors.Handler(cors.Options{
				AllowedOrigins: s.opts.AllowedOrigins,
				AllowedMethods: []string{"GET", "PUT", "POST", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Accept", "Content-Type"},
				MaxAge:         300,
			}))
		}
		r.Get("/history/{kind}", s.handleHistory)
		r.Delete("/history/{kind}", s.handleClearHistory)
		r.Get("/reminders/pending", s.handlePending)
		r.Get("/status", s.handleStatus)

		r.Route("/users/{userID}", func(r chi.Router) {
			r.Get("/config", s.handleGetConfig)
			r.Put("/config", s.handlePutConfig)
			r.Delete("/config", s.handleDeleteConfig)
			r.Post("/providers/{type}/test", s.handleTestProvider)
		})
	})
	return r
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body")
		return
	}
	ev, err := DecodeEvent(body, s.deps.Now())
	if err != nil {
		s.log.Debug("webhook rejected", logx.Err(err))
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if s.deps.Reminders != nil && ev.IsTaskLifecycle() {
		s.feedReminders(ev)
	}

	records := 0
	if s.deps.Router != nil {
		ctx, cancel := context.WithTimeout(r.Context(), s.opts.RouteTimeout)
		records = len(s.deps.Router.Route(ctx, ev))
		cancel()
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"event": ev.EventType, "records": records})
}

func (s *Server) feedReminders(ev model.WebhookEvent) {
	switch ev.EventType {
	case model.EventTaskDeleted:
		if ev.TaskID > 0 {
			s.deps.Reminders.OnTaskDeleted(ev.TaskID)
		}
	case model.EventTaskCreated:
		if ev.Task != nil {
			s.deps.Reminders.OnTaskCreated(*ev.Task, ev.Project)
		}
	case model.EventTaskUpdated:
		if ev.Task != nil {
			s.deps.Reminders.OnTaskUpdated(*ev.Task, ev.Project)
		}
	}
}

type historyPage[T any] struct {
	Total   int64 `json:"total"`
	Records []T   `json:"records"`
}

func page[T any](st *history.Store[T], n int) historyPage[T] {
	return historyPage[T]{Total: st.TotalCount(), Records: st.Recent(n)}
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	n := 0
	if raw := r.URL.Query().Get("n"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			writeError(w, http.StatusBadRequest, "n must be a non-negative integer")
			return
		}
		n = v
	}
	switch chi.URLParam(r, "kind") {
	case "push":
		if s.deps.Router != nil {
			writeJSON(w, http.StatusOK, page(s.deps.Router.History(), n))
			return
		}
	case "reminders":
		if s.deps.Reminders != nil {
			writeJSON(w, http.StatusOK, page(s.deps.Reminders.History(), n))
			return
		}
	case "digests":
		if s.deps.Digests != nil {
			writeJSON(w, http.StatusOK, page(s.deps.Digests.History(), n))
			return
		}
	}
	writeError(w, http.StatusNotFound, "unknown history")
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	switch kind := chi.URLParam(r, "kind"); {
	case kind == "push" && s.deps.Router != nil:
		s.deps.Router.History().Clear()
	case kind == "reminders" && s.deps.Reminders != nil:
		s.deps.Reminders.History().Clear()
	case kind == "digests" && s.deps.Digests != nil:
		s.deps.Digests.History().Clear()
	default:
		writeError(w, http.StatusNotFound, "unknown history")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePending(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Reminders == nil {
		writeJSON(w, http.StatusOK, []model.PendingTaskReminder{})
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Reminders.Pending())
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Status == nil {
		writeJSON(w, http.StatusOK, map[string]any{})
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Status())
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	if s.deps.Configs == nil {
		writeError(w, http.StatusNotImplemented, "no config store")
		return
	}
	cfg, err := s.deps.Configs.LoadConfig(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		s.log.Error("load config failed", logx.Err(err))
		writeError(w, http.StatusInternalServerError, "load config failed")
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	if s.deps.Configs == nil {
		writeError(w, http.StatusNotImplemented, "no config store")
		return
	}
	userID := chi.URLParam(r, "userID")
	var cfg model.UserNotificationConfig
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	if cfg.UserID != "" && cfg.UserID != userID {
		writeError(w, http.StatusBadRequest, "user_id does not match path")
		return
	}
	cfg.UserID = userID
	if err := normalizeDigests(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := storage.Validate(cfg); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.deps.Configs.SaveConfig(r.Context(), cfg); err != nil {
		s.log.Error("save config failed", logx.String("user", userID), logx.Err(err))
		writeError(w, http.StatusInternalServerError, "save config failed")
		return
	}
	s.log.Info("user config saved", logx.String("user", userID), logx.Int("providers", len(cfg.Providers)))
	writeJSON(w, http.StatusOK, cfg)
}

// normalizeDigests canonicalizes push times and stamps the owner.
func normalizeDigests(cfg *model.UserNotificationConfig) error {
	seen := map[string]bool{}
	for i := range cfg.Digests {
		d := &cfg.Digests[i]
		at, err := digest.NormalizeHHMM(d.PushTime)
		if err != nil {
			return fmt.Errorf("digests[%d]: %w", i, err)
		}
		if seen[d.ID] {
			return fmt.Errorf("digests[%d]: duplicate id %q", i, d.ID)
		}
		seen[d.ID] = true
		d.PushTime = at
		d.UserID = cfg.UserID
	}
	return nil
}

func (s *Server) handleDeleteConfig(w http.ResponseWriter, r *http.Request) {
	if s.deps.Configs == nil {
		writeError(w, http.StatusNotImplemented, "no config store")
		return
	}
	if err := s.deps.Configs.DeleteConfig(r.Context(), chi.URLParam(r, "userID")); err != nil {
		writeError(w, http.StatusInternalServerError, "delete config failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTestProvider(w http.ResponseWriter, r *http.Request) {
	if s.deps.Configs == nil || s.deps.Tester == nil {
		writeError(w, http.StatusNotImplemented, "provider testing unavailable")
		return
	}
	cfg, err := s.deps.Configs.LoadConfig(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load config failed")
		return
	}
	pc, ok := cfg.Provider(chi.URLParam(r, "type"))
	if !ok {
		writeError(w, http.StatusNotFound, "provider not configured")
		return
	}
	res := s.deps.Tester.ValidateConfig(r.Context(), pc)
	status := http.StatusOK
	if !res.Success {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, res)
}

// ListenAndServe serves until ctx ends, then shuts down gracefully.
func ListenAndServe(ctx context.Context, srv *http.Server, log logx.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info("http listening", logx.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

