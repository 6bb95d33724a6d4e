package taskapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"taskpush/internal/model"
	"taskpush/pkg/logx"
)

var ErrNotFound = errors.New("taskapi: not found")

const (
	defaultTimeout = 10 * time.Second
	defaultPerPage = 50
	maxPages       = 1000
	pagesHeader    = "x-pagination-total-pages"
)

type Config struct {
	BaseURL     string        `json:"base_url"`
	Token       string        `json:"token"`
	FrontendURL string        `json:"frontend_url"`
	Timeout     time.Duration `json:"-"`
	RatePerSec  float64       `json:"rate_per_sec"`
	PerPage     int           `json:"per_page"`
}

// Client talks to the task service REST API.
type Client struct {
	base     *url.URL
	token    string
	frontend string
	perPage  int

	http    *http.Client
	limiter *rate.Limiter
	log     logx.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

func New(cfg Config, log logx.Logger, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("taskapi: invalid base url %q", cfg.BaseURL)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	perPage := cfg.PerPage
	if perPage <= 0 {
		perPage = defaultPerPage
	}
	frontend := strings.TrimRight(cfg.FrontendURL, "/")
	if frontend == "" {
		// The API usually lives under <frontend>/api/v1.
		frontend = strings.TrimSuffix(base.String(), "/api/v1")
	}

	c := &Client{
		base:     base,
		token:    cfg.Token,
		frontend: frontend,
		perPage:  perPage,
		http:     &http.Client{Timeout: timeout},
		limiter:  rate.NewLimiter(rate.Inf, 1),
		log:      log.With(logx.String("comp", "taskapi")),
	}
	if cfg.RatePerSec > 0 {
		burst := int(cfg.RatePerSec)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

func (c *Client) TaskURL(id int64) string {
	return c.frontend + "/tasks/" + strconv.FormatInt(id, 10)
}

func (c *Client) ProjectURL(id int64) string {
	return c.frontend + "/projects/" + strconv.FormatInt(id, 10)
}

func (c *Client) GetProject(ctx context.Context, id int64) (*model.Project, error) {
	var raw json.RawMessage
	if _, err := c.get(ctx, "/projects/"+strconv.FormatInt(id, 10), nil, &raw); err != nil {
		return nil, err
	}
	return DecodeProject(raw)
}

func (c *Client) GetTask(ctx context.Context, id int64) (*model.Task, error) {
	var raw json.RawMessage
	if _, err := c.get(ctx, "/tasks/"+strconv.FormatInt(id, 10), nil, &raw); err != nil {
		return nil, err
	}
	return DecodeTask(raw)
}

// GetTaskAssignees returns display names.
func (c *Client) GetTaskAssignees(ctx context.Context, id int64) ([]string, error) {
	users, err := getAll[model.User](ctx, c, "/tasks/"+strconv.FormatInt(id, 10)+"/assignees", nil)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(users))
	for _, u := range users {
		out = append(out, u.DisplayName())
	}
	return out, nil
}

// GetTaskLabels returns label titles.
func (c *Client) GetTaskLabels(ctx context.Context, id int64) ([]string, error) {
	labels, err := getAll[model.Label](ctx, c, "/tasks/"+strconv.FormatInt(id, 10)+"/labels", nil)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		out = append(out, l.Title)
	}
	return out, nil
}

func (c *Client) ListProjects(ctx context.Context) ([]model.Project, error) {
	return getAll[model.Project](ctx, c, "/projects", nil)
}

func (c *Client) ListTasks(ctx context.Context, projectID int64) ([]model.Task, error) {
	q := url.Values{"filter": {"project = " + strconv.FormatInt(projectID, 10)}}
	return c.listTasks(ctx, q)
}

func (c *Client) ListUndoneTasks(ctx context.Context) ([]model.Task, error) {
	q := url.Values{"filter": {"done = false"}}
	return c.listTasks(ctx, q)
}

func (c *Client) listTasks(ctx context.Context, q url.Values) ([]model.Task, error) {
	wire, err := getAll[wireTask](ctx, c, "/tasks/all", q)
	if err != nil {
		return nil, err
	}
	out := make([]model.Task, 0, len(wire))
	for _, w := range wire {
		out = append(out, w.toModel())
	}
	return out, nil
}

// getAll follows page numbers until the total-pages header is reached. A
// missing header means a single page.
func getAll[T any](ctx context.Context, c *Client, path string, q url.Values) ([]T, error) {
	var out []T
	for page := 1; page <= maxPages; page++ {
		pq := url.Values{}
		for k, v := range q {
			pq[k] = v
		}
		pq.Set("page", strconv.Itoa(page))
		pq.Set("per_page", strconv.Itoa(c.perPage))

		var items []T
		total, err := c.get(ctx, path, pq, &items)
		if err != nil {
			return nil, err
		}
		out = append(out, items...)
		if total <= page || len(items) == 0 {
			break
		}
	}
	return out, nil
}

// get decodes the body into out and returns the total page count.
func (c *Client) get(ctx context.Context, path string, q url.Values, out any) (int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	if len(q) > 0 {
		u.RawQuery = q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()
	c.log.Trace("api call", logx.String("path", path), logx.Int("status", resp.StatusCode), logx.Duration("took", time.Since(start)))

	switch {
	case resp.StatusCode == http.StatusNotFound:
		_, _ = io.Copy(io.Discard, resp.Body)
		return 0, fmt.Errorf("GET %s: %w", path, ErrNotFound)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fmt.Errorf("GET %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(b)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return 0, fmt.Errorf("GET %s: decode: %w", path, err)
	}
	total := 1
	if h := resp.Header.Get(pagesHeader); h != "" {
		if n, err := strconv.Atoi(h); err == nil {
			total = n
		}
	}
	return total, nil
}
