// Package dispatcher implements the top-level request orchestration of
// spec.md §4.8: resolve candidates via the router, try each in order
// honoring cooldown and a retry budget, and hand the first success to the
// caller for egress translation. It never buffers a streaming body.
package dispatcher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/Davincible/plexus/internal/cooldown"
	"github.com/Davincible/plexus/internal/gatewayerr"
	"github.com/Davincible/plexus/internal/providers"
	"github.com/Davincible/plexus/internal/router"
	"github.com/Davincible/plexus/internal/store"
	"github.com/Davincible/plexus/internal/unified"
)

// RetryConfig bounds the candidate-iteration retry budget and the backoff
// applied between attempts (spec.md §4.8 "exponential with jitter:
// base×mult^attempt, capped").
type RetryConfig struct {
	MaxAttempts       int
	PerAttemptTimeout time.Duration
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	Multiplier        float64
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		PerAttemptTimeout: 60 * time.Second,
		BaseDelay:         200 * time.Millisecond,
		MaxDelay:          5 * time.Second,
		Multiplier:        2.0,
	}
}

// AttemptLog records one candidate attempt, for the tracer/accounting layer.
type AttemptLog struct {
	Provider      string
	UpstreamModel string
	Err           error
	Duration      time.Duration
}

// Outcome is the result of a successful non-streaming dispatch.
type Outcome struct {
	Response      *unified.UnifiedResponse
	Provider      string
	UpstreamModel string
	Attempts      []AttemptLog
}

// StreamOutcome is the result of a successful streaming dispatch. Events is
// closed by the adapter's goroutine when the stream ends.
type StreamOutcome struct {
	Events        <-chan unified.StreamEvent
	Provider      string
	UpstreamModel string
	Attempts      []AttemptLog
}

// Dispatcher ties the router, cooldown manager, and provider registry
// together. Provider configuration is held as a plain map behind a mutex,
// published wholesale on config reload (mirrors router.Router's snapshot
// pattern, but provider configs are looked up by name rather than resolved
// through aliases).
type Dispatcher struct {
	router   *router.Router
	cooldown *cooldown.Manager
	registry *providers.Registry
	store    store.Store

	mu       sync.RWMutex
	configs  map[string]providers.Config

	retry  RetryConfig
	logger *slog.Logger
}

func New(r *router.Router, cd *cooldown.Manager, registry *providers.Registry, st store.Store, retry RetryConfig, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		router:   r,
		cooldown: cd,
		registry: registry,
		store:    st,
		configs:  make(map[string]providers.Config),
		retry:    retry,
		logger:   logger,
	}
}

// PublishProviders atomically replaces the provider configuration set, for
// config hot-reload.
func (d *Dispatcher) PublishProviders(configs map[string]providers.Config) {
	d.mu.Lock()
	d.configs = configs
	d.mu.Unlock()
}

func (d *Dispatcher) providerConfig(name string) (providers.Config, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	cfg, ok := d.configs[name]
	return cfg, ok
}

// Dispatch performs a non-streaming request end to end.
func (d *Dispatcher) Dispatch(ctx context.Context, req *unified.UnifiedRequest) (*Outcome, error) {
	candidates, err := d.router.Resolve(ctx, req, req.Model)
	if err != nil {
		return nil, err
	}

	bo := d.backoffGenerator()

	var attempts []AttemptLog
	var lastErr error
	tried := 0

	for _, cand := range candidates {
		if tried >= d.retry.MaxAttempts {
			break
		}

		if d.cooldown.IsOnCooldown(cand.Provider, time.Now()) {
			continue
		}

		cfg, adapter, cfgErr := d.resolveAdapter(cand.Provider)
		if cfgErr != nil {
			lastErr = cfgErr
			continue
		}

		attemptCtx, cancel := d.withAttemptTimeout(ctx)
		start := time.Now()

		body, headers, url, berr := adapter.BuildRequest(req, cand.UpstreamModel, cfg)
		if berr != nil {
			cancel()
			return nil, berr
		}

		resp, ierr := adapter.Invoke(attemptCtx, body, headers, url)
		cancel()
		tried++

		attempts = append(attempts, AttemptLog{Provider: cand.Provider, UpstreamModel: cand.UpstreamModel, Err: ierr, Duration: time.Since(start)})

		if ierr == nil {
			return &Outcome{Response: resp, Provider: cand.Provider, UpstreamModel: cand.UpstreamModel, Attempts: attempts}, nil
		}

		lastErr = ierr
		class := gatewayerr.ClassOf(ierr)
		d.applyCooldown(cand.Provider, class, ierr)
		d.recordError(ctx, req.RequestID, cand.Provider, class, ierr)

		if !class.Retryable() {
			return nil, ierr
		}

		d.wait(ctx, bo)
	}

	if tried == 0 {
		return nil, gatewayerr.New(gatewayerr.ClassNoEligible, "no eligible provider: all candidates on cooldown or unconfigured")
	}

	return nil, gatewayerr.Wrap(gatewayerr.ClassNoEligible, "all candidate providers failed", lastErr)
}

// DispatchStream performs a streaming request end to end. The returned
// channel is handed directly to the egress translator; the dispatcher does
// not read from it.
func (d *Dispatcher) DispatchStream(ctx context.Context, req *unified.UnifiedRequest) (*StreamOutcome, error) {
	candidates, err := d.router.Resolve(ctx, req, req.Model)
	if err != nil {
		return nil, err
	}

	bo := d.backoffGenerator()

	var attempts []AttemptLog
	var lastErr error
	tried := 0

	for _, cand := range candidates {
		if tried >= d.retry.MaxAttempts {
			break
		}

		if d.cooldown.IsOnCooldown(cand.Provider, time.Now()) {
			continue
		}

		cfg, adapter, cfgErr := d.resolveAdapter(cand.Provider)
		if cfgErr != nil {
			lastErr = cfgErr
			continue
		}

		start := time.Now()

		body, headers, url, berr := adapter.BuildRequest(req, cand.UpstreamModel, cfg)
		if berr != nil {
			return nil, berr
		}

		events, ierr := adapter.InvokeStream(ctx, body, headers, url)
		tried++

		attempts = append(attempts, AttemptLog{Provider: cand.Provider, UpstreamModel: cand.UpstreamModel, Err: ierr, Duration: time.Since(start)})

		if ierr == nil {
			return &StreamOutcome{Events: events, Provider: cand.Provider, UpstreamModel: cand.UpstreamModel, Attempts: attempts}, nil
		}

		lastErr = ierr
		class := gatewayerr.ClassOf(ierr)
		d.applyCooldown(cand.Provider, class, ierr)
		d.recordError(ctx, req.RequestID, cand.Provider, class, ierr)

		if !class.Retryable() {
			return nil, ierr
		}

		d.wait(ctx, bo)
	}

	if tried == 0 {
		return nil, gatewayerr.New(gatewayerr.ClassNoEligible, "no eligible provider: all candidates on cooldown or unconfigured")
	}

	return nil, gatewayerr.Wrap(gatewayerr.ClassNoEligible, "all candidate providers failed", lastErr)
}

func (d *Dispatcher) resolveAdapter(providerName string) (providers.Config, providers.Adapter, error) {
	cfg, ok := d.providerConfig(providerName)
	if !ok || !cfg.Enabled {
		return providers.Config{}, nil, gatewayerr.New(gatewayerr.ClassConfigError, "provider not configured or disabled: "+providerName)
	}

	adapter, err := d.registry.MustGet(cfg.Type)
	if err != nil {
		return providers.Config{}, nil, gatewayerr.Wrap(gatewayerr.ClassConfigError, "no adapter for provider type", err)
	}

	return cfg, adapter, nil
}

func (d *Dispatcher) applyCooldown(providerName string, class gatewayerr.Class, err error) {
	var reason cooldown.Reason
	switch class {
	case gatewayerr.ClassUpstreamTransient:
		reason = cooldown.ReasonTransient
	case gatewayerr.ClassUpstreamRateLimited:
		reason = cooldown.ReasonRateLimited
	case gatewayerr.ClassUpstreamAuth:
		reason = cooldown.ReasonAuth
	default:
		return
	}

	var retryAfter time.Duration
	if ge, ok := gatewayerr.As(err); ok && ge.RetryAfter != "" {
		if parsed, perr := time.ParseDuration(ge.RetryAfter + "s"); perr == nil {
			retryAfter = parsed
		}
	}

	d.cooldown.PlaceOnCooldown(providerName, reason, retryAfter)
}

// recordError persists one failed attempt to the errors table (spec.md §6),
// independent of whatever class-derived cooldown or retry decision follows.
func (d *Dispatcher) recordError(ctx context.Context, requestID, providerName string, class gatewayerr.Class, err error) {
	if d.store == nil {
		return
	}

	rec := store.ErrorRecord{
		RequestID: requestID,
		Provider:  providerName,
		Class:     string(class),
		Message:   err.Error(),
		CreatedAt: time.Now(),
	}

	if serr := d.store.RecordError(ctx, rec); serr != nil && d.logger != nil {
		d.logger.Error("failed to record error", "request_id", requestID, "provider", providerName, "error", serr)
	}
}

func (d *Dispatcher) withAttemptTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.retry.PerAttemptTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d.retry.PerAttemptTimeout)
}

func (d *Dispatcher) backoffGenerator() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = d.retry.BaseDelay
	bo.MaxInterval = d.retry.MaxDelay
	bo.Multiplier = d.retry.Multiplier
	bo.RandomizationFactor = 0.2
	bo.MaxElapsedTime = 0 // the candidate/attempt budget bounds total time, not this
	return bo
}

func (d *Dispatcher) wait(ctx context.Context, bo *backoff.ExponentialBackOff) {
	delay := bo.NextBackOff()
	if delay == backoff.Stop {
		return
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
