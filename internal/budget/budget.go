package budget

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vnmchuo/ai-orchestrator/internal/provider"
	"github.com/vnmchuo/ai-orchestrator/internal/registry"
)

// SizeFactor scales a capability's unit cost by the size of the payload.
type SizeFactor func(payload string) float64

// SpendEntry is one recorded spend, persisted by an optional Store.
type SpendEntry struct {
	ID        string
	Provider  string
	Period    string
	Amount    float64
	CreatedAt time.Time
}

// Store persists spend entries. The in-memory ledger is authoritative
// within a process; the store is an audit trail.
type Store interface {
	LogSpend(ctx context.Context, entry *SpendEntry) error
	TotalSpend(ctx context.Context, providerID, period string) (float64, error)
}

type ledgerKey struct {
	provider string
	period   string
}

// Tracker accumulates spend per provider per calendar month and enforces
// budget ceilings. Budget checks are advisory: a concurrent in-flight
// request may push spend past the ceiling by at most its own estimate.
type Tracker struct {
	mu      sync.Mutex
	ledger  map[ledgerKey]float64
	factors map[provider.Capability]SizeFactor
	store   Store
	now     func() time.Time
}

type Option func(*Tracker)

// WithStore enables persistence of spend entries.
func WithStore(store Store) Option {
	return func(t *Tracker) { t.store = store }
}

// WithClock overrides the period clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		ledger:  make(map[ledgerKey]float64),
		factors: make(map[provider.Capability]SizeFactor),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}

	// Rough token estimate: four characters per token.
	t.factors[provider.CapabilityChat] = func(payload string) float64 {
		return float64(len(payload)) / 4
	}
	t.factors[provider.CapabilityTranslation] = func(payload string) float64 {
		return float64(len(payload)) / 4
	}
	// Speech payloads carry encoded audio; size stands in for duration.
	t.factors[provider.CapabilitySpeechToText] = func(payload string) float64 {
		return float64(len(payload))
	}
	t.factors[provider.CapabilityVision] = func(payload string) float64 {
		return float64(len(payload)) / 4
	}

	return t
}

// RegisterSizeFactor replaces the size factor for a capability.
func (t *Tracker) RegisterSizeFactor(c provider.Capability, f SizeFactor) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.factors[c] = f
}

// Rehydrate seeds the current-period ledger from the store so budgets
// survive restarts. Stored totals replace any in-memory value.
func (t *Tracker) Rehydrate(ctx context.Context, providerIDs []string) error {
	if t.store == nil {
		return nil
	}

	period := t.currentPeriod()
	for _, id := range providerIDs {
		total, err := t.store.TotalSpend(ctx, id, period)
		if err != nil {
			return fmt.Errorf("failed to rehydrate spend for %s: %w", id, err)
		}
		if total <= 0 {
			continue
		}
		t.mu.Lock()
		t.ledger[ledgerKey{id, period}] = total
		t.mu.Unlock()
	}
	return nil
}

// PeriodKey returns the calendar-month key for a point in time.
func PeriodKey(ts time.Time) string {
	return ts.UTC().Format("2006-01")
}

func (t *Tracker) currentPeriod() string {
	return PeriodKey(t.now())
}

// EstimateCost computes costTable[capability] * sizeFactor(payload).
func (t *Tracker) EstimateCost(d *registry.Descriptor, capability provider.Capability, payload string) float64 {
	unitCost, ok := d.CostTable[capability]
	if !ok {
		return 0
	}

	t.mu.Lock()
	factor, ok := t.factors[capability]
	t.mu.Unlock()
	if !ok {
		return unitCost
	}
	return unitCost * factor(payload)
}

// RecordSpend adds to the provider's ledger for the current period.
// Negative amounts are ignored; spend is monotonically non-decreasing
// within a period.
func (t *Tracker) RecordSpend(ctx context.Context, providerID string, amount float64) {
	if amount <= 0 {
		return
	}

	period := t.currentPeriod()
	t.mu.Lock()
	t.ledger[ledgerKey{providerID, period}] += amount
	t.mu.Unlock()

	if t.store != nil {
		// Audit trail only; never blocks the dispatch path.
		entry := &SpendEntry{Provider: providerID, Period: period, Amount: amount}
		go func() {
			_ = t.store.LogSpend(context.WithoutCancel(ctx), entry)
		}()
	}
}

// Spend returns the accumulated spend for the current period.
func (t *Tracker) Spend(providerID string) float64 {
	period := t.currentPeriod()
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ledger[ledgerKey{providerID, period}]
}

// Remaining returns monthlyBudget minus current-period spend.
func (t *Tracker) Remaining(d *registry.Descriptor) float64 {
	return d.MonthlyBudget - t.Spend(d.ID)
}

// CanAfford reports whether the provider's remaining budget covers the
// estimated cost.
func (t *Tracker) CanAfford(d *registry.Descriptor, estimatedCost float64) bool {
	return t.Remaining(d) > estimatedCost
}

// Summary is the cost report exposed through the public API.
type Summary struct {
	Period          string             `json:"period"`
	TotalSpend      float64            `json:"total_spend"`
	PerProvider     map[string]float64 `json:"per_provider"`
	BudgetRemaining map[string]float64 `json:"budget_remaining"`
}

// Summarize builds the current-period cost summary for the given
// descriptors.
func (t *Tracker) Summarize(descriptors []*registry.Descriptor) *Summary {
	s := &Summary{
		Period:          t.currentPeriod(),
		PerProvider:     make(map[string]float64),
		BudgetRemaining: make(map[string]float64),
	}
	for _, d := range descriptors {
		spend := t.Spend(d.ID)
		s.PerProvider[d.ID] = spend
		s.BudgetRemaining[d.ID] = d.MonthlyBudget - spend
		s.TotalSpend += spend
	}
	return s
}
