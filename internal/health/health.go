package health

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vnmchuo/ai-orchestrator/internal/classify"
	"github.com/vnmchuo/ai-orchestrator/internal/registry"
)

// Metrics is the per-provider rolling aggregate exposed to callers.
// Invariant: SuccessCount + FailureCount == TotalRequests.
type Metrics struct {
	TotalRequests    uint64           `json:"total_requests"`
	SuccessCount     uint64           `json:"success_count"`
	FailureCount     uint64           `json:"failure_count"`
	AverageLatencyMs float64          `json:"average_latency_ms"`
	LastError        *classify.Record `json:"last_error,omitempty"`
}

type providerStats struct {
	total        uint64
	success      uint64
	failure      uint64
	avgLatencyMs float64
	lastError    *classify.Record

	// trailing outcome window, true = success
	window []bool
	next   int
	filled bool
}

const (
	DefaultWindowSize       = 20
	DefaultDegradeThreshold = 0.5
	DefaultProbeTimeout     = 10 * time.Second
	rateLimitWindow         = 60 * time.Second
)

// Monitor tracks per-provider metrics and drives provider status
// transitions, both from observed dispatch outcomes and from a periodic
// background probe loop.
type Monitor struct {
	registry  *registry.Registry
	window    int
	threshold float64
	interval  time.Duration
	logger    *log.Logger

	mu            sync.Mutex
	stats         map[string]*providerStats
	rateLimitedAt map[string]time.Time

	probing atomic.Bool
	now     func() time.Time
}

type Option func(*Monitor)

func WithWindowSize(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.window = n
		}
	}
}

func WithDegradeThreshold(t float64) Option {
	return func(m *Monitor) { m.threshold = t }
}

func WithInterval(d time.Duration) Option {
	return func(m *Monitor) { m.interval = d }
}

func WithLogger(logger *log.Logger) Option {
	return func(m *Monitor) { m.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

func NewMonitor(reg *registry.Registry, opts ...Option) *Monitor {
	m := &Monitor{
		registry:      reg,
		window:        DefaultWindowSize,
		threshold:     DefaultDegradeThreshold,
		interval:      45 * time.Second,
		logger:        log.Default(),
		stats:         make(map[string]*providerStats),
		rateLimitedAt: make(map[string]time.Time),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Monitor) statsFor(providerID string) *providerStats {
	s, ok := m.stats[providerID]
	if !ok {
		s = &providerStats{window: make([]bool, m.window)}
		m.stats[providerID] = s
	}
	return s
}

// RecordAttempt updates counters and the trailing window after a dispatch
// attempt. A full window below the degrade threshold demotes an Active
// provider to Degraded.
func (m *Monitor) RecordAttempt(providerID string, success bool, latencyMs int64) {
	m.mu.Lock()
	s := m.statsFor(providerID)

	s.total++
	if success {
		s.success++
	} else {
		s.failure++
	}
	// cumulative moving average
	s.avgLatencyMs += (float64(latencyMs) - s.avgLatencyMs) / float64(s.total)

	s.window[s.next] = success
	s.next = (s.next + 1) % m.window
	if s.next == 0 {
		s.filled = true
	}
	degraded := s.filled && windowRate(s.window) < m.threshold
	m.mu.Unlock()

	if degraded {
		if status, err := m.registry.GetStatus(providerID); err == nil && status == registry.StatusActive {
			m.logger.Printf("[health] provider %s success rate below %.2f, marking degraded", providerID, m.threshold)
			_ = m.registry.SetStatus(providerID, registry.StatusDegraded)
		}
	}
}

func windowRate(window []bool) float64 {
	successes := 0
	for _, ok := range window {
		if ok {
			successes++
		}
	}
	return float64(successes) / float64(len(window))
}

// ReportError applies status transitions driven by a classified error.
// Rate limits park the provider until the backoff window elapses;
// authentication and configuration faults exclude it outright.
func (m *Monitor) ReportError(rec *classify.Record) {
	m.mu.Lock()
	s := m.statsFor(rec.Provider)
	s.lastError = rec
	m.mu.Unlock()

	status, err := m.registry.GetStatus(rec.Provider)
	if err != nil {
		return
	}

	switch rec.Category {
	case classify.CategoryRateLimit:
		if status == registry.StatusActive || status == registry.StatusDegraded {
			m.mu.Lock()
			m.rateLimitedAt[rec.Provider] = m.now()
			m.mu.Unlock()
			m.logger.Printf("[health] provider %s rate limited", rec.Provider)
			_ = m.registry.SetStatus(rec.Provider, registry.StatusRateLimited)
		}
	case classify.CategoryAuthentication, classify.CategoryConfiguration:
		if status != registry.StatusMaintenance {
			m.logger.Printf("[health] provider %s excluded after %s error", rec.Provider, rec.Category)
			_ = m.registry.SetStatus(rec.Provider, registry.StatusError)
		}
	}
}

// Snapshot returns value copies of all per-provider metrics.
func (m *Monitor) Snapshot() map[string]Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]Metrics, len(m.stats))
	for id, s := range m.stats {
		out[id] = Metrics{
			TotalRequests:    s.total,
			SuccessCount:     s.success,
			FailureCount:     s.failure,
			AverageLatencyMs: s.avgLatencyMs,
			LastError:        s.lastError,
		}
	}
	return out
}

// LiveStats returns the trailing success rate, average latency, and
// sample count for scoring. Rate covers the full-window only when filled;
// otherwise the lifetime rate is returned.
func (m *Monitor) LiveStats(providerID string) (rate float64, avgLatencyMs float64, samples uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.stats[providerID]
	if !ok || s.total == 0 {
		return 0, 0, 0
	}
	if s.filled {
		rate = windowRate(s.window)
	} else {
		rate = float64(s.success) / float64(s.total)
	}
	return rate, s.avgLatencyMs, s.total
}

// Run probes every registered provider on a fixed interval until the
// context is cancelled. Overlapping runs are skipped, never queued.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !m.probing.CompareAndSwap(false, true) {
				continue
			}
			m.probeAll(ctx)
			m.probing.Store(false)
		}
	}
}

func (m *Monitor) probeAll(ctx context.Context) {
	for _, d := range m.registry.All() {
		if d.Status == registry.StatusMaintenance {
			continue
		}

		probeCtx, cancel := context.WithTimeout(ctx, DefaultProbeTimeout)
		err := d.Driver.HealthCheck(probeCtx)
		cancel()

		if err != nil {
			if d.Status == registry.StatusActive || d.Status == registry.StatusDegraded {
				m.logger.Printf("[health] probe failed for %s: %v", d.ID, err)
				_ = m.registry.SetStatus(d.ID, registry.StatusError)
			}
			continue
		}

		switch d.Status {
		case registry.StatusDegraded, registry.StatusError:
			m.logger.Printf("[health] provider %s recovered", d.ID)
			_ = m.registry.SetStatus(d.ID, registry.StatusActive)
		case registry.StatusRateLimited:
			m.mu.Lock()
			since := m.now().Sub(m.rateLimitedAt[d.ID])
			m.mu.Unlock()
			if since >= rateLimitWindow {
				m.logger.Printf("[health] provider %s rate-limit window elapsed", d.ID)
				_ = m.registry.SetStatus(d.ID, registry.StatusActive)
			}
		}
	}
}

// ProbeOnce runs a single probe pass. Exposed for tests and for
// on-demand health checks.
func (m *Monitor) ProbeOnce(ctx context.Context) {
	m.probeAll(ctx)
}
