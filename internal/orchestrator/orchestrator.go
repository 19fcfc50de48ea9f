package orchestrator

import (
	"context"
	"log"
	"time"

	"github.com/sony/gobreaker"

	"github.com/vnmchuo/ai-orchestrator/internal/budget"
	"github.com/vnmchuo/ai-orchestrator/internal/cache"
	"github.com/vnmchuo/ai-orchestrator/internal/classify"
	"github.com/vnmchuo/ai-orchestrator/internal/health"
	"github.com/vnmchuo/ai-orchestrator/internal/provider"
	"github.com/vnmchuo/ai-orchestrator/internal/registry"
	"github.com/vnmchuo/ai-orchestrator/internal/scoring"
)

// Terminal failure messages carried on the normalized Response. These are
// results, not errors: callers always receive a well-formed Response.
const (
	MsgNoProviderAvailable = "no provider available"
	MsgAllProvidersFailed  = "all providers failed"
	MsgDeadlineExceeded    = "request deadline exceeded"
)

// Options tunes the dispatch loop.
type Options struct {
	MaxRetriesPerProvider int           // default: 3
	MaxBackoff            time.Duration // default: 300s
	AttemptTimeout        time.Duration // default: 30s
	BackupProvider        string        // tried when no candidate qualifies
}

func (o *Options) withDefaults() {
	if o.MaxRetriesPerProvider <= 0 {
		o.MaxRetriesPerProvider = 3
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 300 * time.Second
	}
	if o.AttemptTimeout <= 0 {
		o.AttemptTimeout = 30 * time.Second
	}
}

// Orchestrator executes requests against ranked providers with
// retry, backoff, and ordered fallback. One explicit instance per
// process; no package-level state.
type Orchestrator struct {
	registry *registry.Registry
	budget   *budget.Tracker
	monitor  *health.Monitor
	engine   *scoring.Engine
	cache    *cache.Cache
	history  *classify.History
	breakers map[string]*gobreaker.CircuitBreaker
	opts     Options
	logger   *log.Logger

	// injectable for tests
	sleep func(ctx context.Context, d time.Duration) error
}

type Option func(*Orchestrator)

func WithLogger(logger *log.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithSleeper replaces the backoff sleeper, for tests.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) { o.sleep = sleep }
}

func New(
	reg *registry.Registry,
	tracker *budget.Tracker,
	monitor *health.Monitor,
	engine *scoring.Engine,
	responseCache *cache.Cache,
	history *classify.History,
	opts Options,
	options ...Option,
) *Orchestrator {
	opts.withDefaults()

	o := &Orchestrator{
		registry: reg,
		budget:   tracker,
		monitor:  monitor,
		engine:   engine,
		cache:    responseCache,
		history:  history,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		opts:     opts,
		logger:   log.Default(),
		sleep:    sleepCtx,
	}
	for _, opt := range options {
		opt(o)
	}
	if o.history == nil {
		o.history = classify.NewHistory(0)
	}

	for _, d := range reg.All() {
		settings := gobreaker.Settings{
			Name:        d.ID,
			MaxRequests: 3,
			Interval:    5 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}
		o.breakers[d.ID] = gobreaker.NewCircuitBreaker(settings)
	}
	return o
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Execute runs the full pipeline: cache check, selection, per-candidate
// retry with exponential backoff, ordered fallback, normalization. It
// never returns an error; total failure is a well-formed Response.
func (o *Orchestrator) Execute(ctx context.Context, req *provider.Request) *provider.Response {
	var fingerprint string
	if o.cache.Cacheable(req) {
		fingerprint = cache.Fingerprint(req)
		if resp, ok := o.cache.Get(ctx, fingerprint); ok {
			return resp
		}
	}

	candidates := o.engine.Select(req.Capability, req)
	if len(candidates) == 0 {
		backup, ok := o.backupCandidate(req)
		if !ok {
			return failure(MsgNoProviderAvailable)
		}
		o.logger.Printf("[dispatch] no scored candidate for %s, using backup provider %s", req.Capability, backup.ProviderID)
		candidates = []scoring.Candidate{backup}
	}

	for _, candidate := range candidates {
		resp, terminal := o.tryCandidate(ctx, candidate, req, fingerprint)
		if resp != nil {
			return resp
		}
		if terminal {
			return failure(MsgDeadlineExceeded)
		}
	}
	return failure(MsgAllProvidersFailed)
}

// backupCandidate builds an unscored candidate for the designated backup
// provider, regardless of its status.
func (o *Orchestrator) backupCandidate(req *provider.Request) (scoring.Candidate, bool) {
	if o.opts.BackupProvider == "" {
		return scoring.Candidate{}, false
	}
	d, err := o.registry.Get(o.opts.BackupProvider)
	if err != nil || !d.Supports(req.Capability) {
		return scoring.Candidate{}, false
	}
	return scoring.Candidate{
		ProviderID:    d.ID,
		EstimatedCost: o.budget.EstimateCost(d, req.Capability, req.Payload),
	}, true
}

// tryCandidate runs up to MaxRetriesPerProvider attempts against one
// provider. It returns a Response on success, or (nil, true) when the
// overall deadline expired and fallback must stop.
func (o *Orchestrator) tryCandidate(ctx context.Context, candidate scoring.Candidate, req *provider.Request, fingerprint string) (*provider.Response, bool) {
	d, err := o.registry.Get(candidate.ProviderID)
	if err != nil {
		return nil, false
	}

	breaker := o.breakers[candidate.ProviderID]

	for attempt := 1; attempt <= o.opts.MaxRetriesPerProvider; attempt++ {
		if ctx.Err() != nil {
			return nil, true
		}
		if breaker != nil && breaker.State() == gobreaker.StateOpen {
			o.logger.Printf("[dispatch] circuit open for %s, failing over", candidate.ProviderID)
			return nil, false
		}

		start := time.Now()
		result, err := o.attempt(ctx, breaker, d.Driver, req)
		latencyMs := time.Since(start).Milliseconds()

		if err == nil {
			o.monitor.RecordAttempt(candidate.ProviderID, true, latencyMs)
			o.budget.RecordSpend(ctx, candidate.ProviderID, candidate.EstimatedCost)

			resp := normalize(result, candidate, latencyMs)
			if fingerprint != "" {
				o.cache.Set(ctx, fingerprint, resp)
			}
			return resp, false
		}

		o.monitor.RecordAttempt(candidate.ProviderID, false, latencyMs)

		rec := classify.Classify(candidate.ProviderID, string(req.Capability), err)
		o.history.Append(rec)
		o.monitor.ReportError(rec)
		o.logger.Printf("[dispatch] %s attempt %d/%d failed (%s): %v",
			candidate.ProviderID, attempt, o.opts.MaxRetriesPerProvider, rec.Category, err)

		if !rec.Retryable {
			return nil, false
		}
		if attempt == o.opts.MaxRetriesPerProvider {
			break
		}

		delay := classify.BackoffBase(rec.Category) << (attempt - 1)
		if delay > o.opts.MaxBackoff {
			delay = o.opts.MaxBackoff
		}
		if err := o.sleep(ctx, delay); err != nil {
			return nil, true
		}
	}
	return nil, false
}

func (o *Orchestrator) attempt(ctx context.Context, breaker *gobreaker.CircuitBreaker, driver provider.Driver, req *provider.Request) (*provider.Result, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, o.opts.AttemptTimeout)
	defer cancel()

	if breaker == nil {
		return driver.Send(attemptCtx, req)
	}

	result, err := breaker.Execute(func() (interface{}, error) {
		return driver.Send(attemptCtx, req)
	})
	if err != nil {
		return nil, err
	}
	return result.(*provider.Result), nil
}

// normalize maps a raw driver result into the uniform Response shape.
// This is the seam where new providers plug in without touching scoring
// or dispatch.
func normalize(result *provider.Result, candidate scoring.Candidate, latencyMs int64) *provider.Response {
	return &provider.Response{
		Success:    true,
		Payload:    result.Content,
		Provider:   candidate.ProviderID,
		Model:      result.Model,
		Cost:       candidate.EstimatedCost,
		LatencyMs:  latencyMs,
		TokensUsed: result.InputTokens + result.OutputTokens,
	}
}

func failure(msg string) *provider.Response {
	return &provider.Response{
		Success: false,
		Error:   msg,
	}
}

// GetMetricsSnapshot returns per-provider rolling metrics.
func (o *Orchestrator) GetMetricsSnapshot() map[string]health.Metrics {
	return o.monitor.Snapshot()
}

// GetCostSummary returns the current-period spend report.
func (o *Orchestrator) GetCostSummary() *budget.Summary {
	return o.budget.Summarize(o.registry.All())
}

// RecentErrors returns up to n classified failures, newest first.
func (o *Orchestrator) RecentErrors(n int) []*classify.Record {
	return o.history.Recent(n)
}

// Close shuts down every provider driver.
func (o *Orchestrator) Close(ctx context.Context) {
	for _, d := range o.registry.All() {
		if err := d.Driver.Shutdown(ctx); err != nil {
			o.logger.Printf("[dispatch] shutdown of %s failed: %v", d.ID, err)
		}
	}
}
