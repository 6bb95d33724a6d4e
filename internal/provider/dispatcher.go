package provider

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"taskpush/internal/eventbus"
	"taskpush/internal/model"
	"taskpush/pkg/logx"
)

// Policy controls retries and pacing for every provider.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	SendTimeout time.Duration
	// RatePerSec and Burst configure one token bucket per provider type.
	RatePerSec float64
	Burst      int
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		SendTimeout: 10 * time.Second,
		RatePerSec:  5,
		Burst:       5,
	}
}

func (p Policy) withDefaults() Policy {
	def := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = def.MaxDelay
	}
	if p.SendTimeout <= 0 {
		p.SendTimeout = def.SendTimeout
	}
	if p.RatePerSec <= 0 {
		p.RatePerSec = def.RatePerSec
	}
	if p.Burst <= 0 {
		p.Burst = max(1, int(p.RatePerSec))
	}
	return p
}

// delay before attempt n+1, i.e. base*2^(n-1) capped at MaxDelay.
func (p Policy) delay(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	return d
}

type Option func(*Dispatcher)

// WithSleep replaces the wait between attempts.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(d *Dispatcher) {
		if fn != nil {
			d.sleep = fn
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

func WithBus(bus eventbus.Bus) Option {
	return func(d *Dispatcher) { d.bus = bus }
}

func WithPolicy(p Policy) Option {
	return func(d *Dispatcher) { d.policy = p.withDefaults() }
}

// Dispatcher is safe for concurrent use.
type Dispatcher struct {
	log   logx.Logger
	bus   eventbus.Bus
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time

	mu        sync.RWMutex
	providers map[string]Provider
	limiters  map[string]*rate.Limiter
	policy    Policy
}

func NewDispatcher(log logx.Logger, opts ...Option) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Dispatcher{
		log:       log.With(logx.String("comp", "dispatch")),
		sleep:     sleepCtx,
		now:       time.Now,
		providers: map[string]Provider{},
		limiters:  map[string]*rate.Limiter{},
		policy:    DefaultPolicy(),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Register adds or replaces a provider by type.
func (d *Dispatcher) Register(p Provider) {
	typ := normalizeType(p.Type)
	if typ == "" || p.Send == nil {
		return
	}
	p.Type = typ
	d.mu.Lock()
	d.providers[typ] = p
	d.limiters[typ] = rate.NewLimiter(rate.Limit(d.policy.RatePerSec), d.policy.Burst)
	d.mu.Unlock()
}

// Types lists the registered provider types, sorted.
func (d *Dispatcher) Types() []string {
	d.mu.RLock()
	out := make([]string, 0, len(d.providers))
	for t := range d.providers {
		out = append(out, t)
	}
	d.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Apply swaps the retry and rate policy. Limiters are rebuilt.
func (d *Dispatcher) Apply(p Policy) {
	p = p.withDefaults()
	d.mu.Lock()
	d.policy = p
	for typ := range d.limiters {
		d.limiters[typ] = rate.NewLimiter(rate.Limit(p.RatePerSec), p.Burst)
	}
	d.mu.Unlock()
}

func (d *Dispatcher) Policy() Policy {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.policy
}

// Send delivers msg through one provider and always returns a result.
func (d *Dispatcher) Send(ctx context.Context, providerType string, settings map[string]string, msg Message) model.ProviderResult {
	return d.send(ctx, providerType, settings, msg, 0)
}

// ValidateConfig performs a single test send with cfg.
func (d *Dispatcher) ValidateConfig(ctx context.Context, cfg model.ProviderConfig) model.ProviderResult {
	msg := Message{
		Title:  "taskpush test",
		Body:   "If you can read this, the provider is configured correctly.",
		Format: "text",
	}
	return d.send(ctx, cfg.ProviderType, cfg.Settings, msg, 1)
}

func (d *Dispatcher) send(ctx context.Context, providerType string, settings map[string]string, msg Message, attempts int) model.ProviderResult {
	if ctx == nil {
		ctx = context.Background()
	}
	typ := normalizeType(providerType)

	d.mu.RLock()
	p, ok := d.providers[typ]
	lim := d.limiters[typ]
	pol := d.policy
	d.mu.RUnlock()

	if !ok {
		return d.result(providerType, 0, ErrNotFound)
	}

	to := Target{Settings: settings}
	if p.CredentialKey != "" {
		to.Credential = to.Setting(p.CredentialKey)
		if to.Credential == "" {
			err := fmt.Errorf("%s: %w %q", typ, ErrMissingCredential, p.CredentialKey)
			return d.result(typ, 0, err)
		}
	}

	if attempts <= 0 {
		attempts = pol.MaxAttempts
	}

	var lastErr error
	n := 0
	for n < attempts {
		n++
		if lim != nil {
			if err := lim.Wait(ctx); err != nil {
				lastErr = fmt.Errorf("rate limit wait: %w", err)
				break
			}
		}
		lastErr = d.call(ctx, p, msg, to, pol.SendTimeout)
		if lastErr == nil || IsPermanent(lastErr) {
			break
		}
		d.log.Debug("provider send failed",
			logx.String("provider", typ),
			logx.Int("attempt", n),
			logx.Int("max", attempts),
			logx.Err(lastErr),
		)
		if n >= attempts {
			break
		}
		if err := d.sleep(ctx, pol.delay(n)); err != nil {
			lastErr = fmt.Errorf("%w (retry aborted: %v)", lastErr, err)
			break
		}
	}
	return d.result(typ, n, lastErr)
}

// call runs one attempt under its own timeout; a panicking provider counts as
// a failed attempt.
func (d *Dispatcher) call(ctx context.Context, p Provider, msg Message, to Target, timeout time.Duration) (err error) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("provider panic",
				logx.String("provider", p.Type),
				logx.String("panic", fmt.Sprint(r)),
				logx.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("%s: panic: %v", p.Type, r)
		}
	}()
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return p.Send(cctx, msg, to)
}

func (d *Dispatcher) result(typ string, attempts int, err error) model.ProviderResult {
	res := model.ProviderResult{ProviderType: typ, Success: err == nil, Timestamp: d.now()}
	evType := eventbus.TypeDispatchSent
	switch {
	case err == nil:
		res.Message = "sent"
	case errors.Is(err, ErrNotFound):
		res.Message = "Provider not found"
		evType = eventbus.TypeDispatchFailed
	default:
		res.Message = err.Error()
		if attempts > 1 {
			res.Message = fmt.Sprintf("%s (after %d attempts)", err.Error(), attempts)
		}
		evType = eventbus.TypeDispatchFailed
	}
	if err != nil {
		d.log.Warn("provider dispatch failed",
			logx.String("provider", typ),
			logx.Int("attempts", attempts),
			logx.Err(err),
		)
	}
	if d.bus != nil {
		d.bus.Publish(eventbus.Event{
			Type: evType,
			Time: res.Timestamp,
			Data: eventbus.Dispatch{ProviderType: typ, Attempts: attempts, Error: errString(err)},
		})
	}
	return res
}

// SendAll dispatches msg to every provider concurrently and returns the
// results in the order of cfgs.
func (d *Dispatcher) SendAll(ctx context.Context, cfgs []model.ProviderConfig, msg Message) []model.ProviderResult {
	out := make([]model.ProviderResult, len(cfgs))
	var wg sync.WaitGroup
	for i, pc := range cfgs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out[i] = d.Send(ctx, pc.ProviderType, pc.Settings, msg)
		}()
	}
	wg.Wait()
	return out
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
