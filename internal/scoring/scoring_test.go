package scoring

import (
	"context"
	"testing"

	"github.com/vnmchuo/ai-orchestrator/internal/budget"
	"github.com/vnmchuo/ai-orchestrator/internal/health"
	"github.com/vnmchuo/ai-orchestrator/internal/provider"
	"github.com/vnmchuo/ai-orchestrator/internal/registry"
)

type stubDriver struct{ name string }

func (d *stubDriver) Initialize(ctx context.Context) error { return nil }
func (d *stubDriver) Send(ctx context.Context, req *provider.Request) (*provider.Result, error) {
	return &provider.Result{Content: "ok"}, nil
}
func (d *stubDriver) HealthCheck(ctx context.Context) error { return nil }
func (d *stubDriver) Shutdown(ctx context.Context) error    { return nil }
func (d *stubDriver) Name() string                          { return d.name }

func register(t *testing.T, reg *registry.Registry, id string, reliability, speed, unitCost, monthlyBudget float64, languages ...string) {
	t.Helper()
	err := reg.Register(&registry.Descriptor{
		ID:           id,
		Capabilities: []provider.Capability{provider.CapabilityChat},
		CostTable: map[provider.Capability]float64{
			provider.CapabilityChat: unitCost,
		},
		BaselineReliability: reliability,
		BaselineSpeed:       speed,
		MonthlyBudget:       monthlyBudget,
		Languages:           languages,
		Driver:              &stubDriver{name: id},
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
}

func chatRequest(priority provider.Priority) *provider.Request {
	return &provider.Request{
		Capability: provider.CapabilityChat,
		Payload:    "hello world payload",
		Priority:   priority,
	}
}

func TestSelect_Determinism(t *testing.T) {
	reg := registry.New()
	register(t, reg, "p1", 0.95, 0.8, 0.001, 100)
	register(t, reg, "p2", 0.7, 0.9, 0.0001, 100)
	register(t, reg, "p3", 0.9, 0.9, 0.01, 100)

	tracker := budget.NewTracker()
	e := NewEngine(reg, tracker, health.NewMonitor(reg), DefaultWeights())

	first := e.Select(provider.CapabilityChat, chatRequest(provider.PriorityNormal))
	if len(first) != 3 {
		t.Fatalf("Expected 3 candidates, got %d", len(first))
	}
	for i := 0; i < 10; i++ {
		again := e.Select(provider.CapabilityChat, chatRequest(provider.PriorityNormal))
		for j := range first {
			if again[j].ProviderID != first[j].ProviderID {
				t.Fatalf("Ordering changed between calls: %v vs %v", first, again)
			}
		}
	}
}

func TestSelect_TieBreakByID(t *testing.T) {
	reg := registry.New()
	// identical descriptors except ID, registered out of order
	register(t, reg, "zebra", 0.9, 0.9, 0.001, 100)
	register(t, reg, "alpha", 0.9, 0.9, 0.001, 100)

	tracker := budget.NewTracker()
	e := NewEngine(reg, tracker, health.NewMonitor(reg), DefaultWeights())

	candidates := e.Select(provider.CapabilityChat, chatRequest(provider.PriorityNormal))
	if len(candidates) != 2 {
		t.Fatalf("Expected 2 candidates, got %d", len(candidates))
	}
	if candidates[0].ProviderID != "alpha" {
		t.Errorf("Expected alpha first on tie, got %s", candidates[0].ProviderID)
	}
}

func TestSelect_BudgetExclusion(t *testing.T) {
	reg := registry.New()
	// p1 has the higher baseline score but its budget is exhausted
	register(t, reg, "p1", 0.99, 0.99, 0.001, 10)
	register(t, reg, "p2", 0.6, 0.6, 0.001, 100)

	tracker := budget.NewTracker()
	e := NewEngine(reg, tracker, health.NewMonitor(reg), DefaultWeights())
	req := chatRequest(provider.PriorityNormal)

	candidates := e.Select(provider.CapabilityChat, req)
	if candidates[0].ProviderID != "p1" {
		t.Fatalf("Expected p1 first with open budget, got %s", candidates[0].ProviderID)
	}

	tracker.RecordSpend(context.Background(), "p1", 10)
	candidates = e.Select(provider.CapabilityChat, req)
	if len(candidates) != 1 || candidates[0].ProviderID != "p2" {
		t.Errorf("Expected only p2 after p1 budget exhausted, got %v", candidates)
	}
}

func TestSelect_CostCeiling(t *testing.T) {
	reg := registry.New()
	register(t, reg, "cheap", 0.9, 0.9, 0.0000001, 100)
	register(t, reg, "pricey", 0.9, 0.9, 10, 1000000)

	tracker := budget.NewTracker()
	e := NewEngine(reg, tracker, health.NewMonitor(reg), DefaultWeights())

	req := chatRequest(provider.PriorityNormal)
	req.CostCeiling = 0.01

	candidates := e.Select(provider.CapabilityChat, req)
	if len(candidates) != 1 || candidates[0].ProviderID != "cheap" {
		t.Errorf("Expected pricey excluded by cost ceiling, got %v", candidates)
	}
}

func TestSelect_PriorityMultiplier(t *testing.T) {
	reg := registry.New()
	register(t, reg, "p1", 0.9, 0.9, 0.001, 100)

	tracker := budget.NewTracker()
	e := NewEngine(reg, tracker, health.NewMonitor(reg), DefaultWeights())

	normal := e.Select(provider.CapabilityChat, chatRequest(provider.PriorityNormal))
	critical := e.Select(provider.CapabilityChat, chatRequest(provider.PriorityCritical))
	low := e.Select(provider.CapabilityChat, chatRequest(provider.PriorityLow))

	if critical[0].Score <= normal[0].Score {
		t.Errorf("Expected critical score above normal: %f vs %f", critical[0].Score, normal[0].Score)
	}
	if low[0].Score >= normal[0].Score {
		t.Errorf("Expected low score below normal: %f vs %f", low[0].Score, normal[0].Score)
	}
}

func TestSelect_LanguageBonus(t *testing.T) {
	reg := registry.New()
	register(t, reg, "generalist", 0.9, 0.9, 0.001, 100)
	register(t, reg, "specialist", 0.9, 0.9, 0.001, 100, "ja")

	tracker := budget.NewTracker()
	e := NewEngine(reg, tracker, health.NewMonitor(reg), DefaultWeights())

	req := chatRequest(provider.PriorityNormal)
	req.LanguageHint = "ja"

	candidates := e.Select(provider.CapabilityChat, req)
	if candidates[0].ProviderID != "specialist" {
		t.Errorf("Expected specialist first for ja hint, got %s", candidates[0].ProviderID)
	}
}

func TestSelect_LiveBlend(t *testing.T) {
	reg := registry.New()
	register(t, reg, "flaky", 0.99, 0.9, 0.001, 100)
	register(t, reg, "steady", 0.9, 0.9, 0.001, 100)

	tracker := budget.NewTracker()
	monitor := health.NewMonitor(reg, health.WithWindowSize(100), health.WithDegradeThreshold(0))
	e := NewEngine(reg, tracker, monitor, DefaultWeights())

	req := chatRequest(provider.PriorityNormal)
	before := e.Select(provider.CapabilityChat, req)
	if before[0].ProviderID != "flaky" {
		t.Fatalf("Expected flaky first on baselines, got %s", before[0].ProviderID)
	}

	// flaky's live record drags its blended reliability below steady's
	for i := 0; i < 10; i++ {
		monitor.RecordAttempt("flaky", false, 100)
		monitor.RecordAttempt("steady", true, 100)
	}

	after := e.Select(provider.CapabilityChat, req)
	if after[0].ProviderID != "steady" {
		t.Errorf("Expected steady first after live blending, got %s", after[0].ProviderID)
	}
}

func TestSelect_WeightChangeReordersPredictably(t *testing.T) {
	reg := registry.New()
	register(t, reg, "reliable", 0.99, 0.9, 0.01, 1000)
	register(t, reg, "bargain", 0.7, 0.7, 0.00001, 1000)

	tracker := budget.NewTracker()
	monitor := health.NewMonitor(reg)

	perfHeavy := DefaultWeights()
	perfHeavy.Performance = 1.0
	perfHeavy.Cost = 0.0
	e := NewEngine(reg, tracker, monitor, perfHeavy)
	if got := e.Select(provider.CapabilityChat, chatRequest(provider.PriorityNormal)); got[0].ProviderID != "reliable" {
		t.Errorf("Expected reliable first under performance-only weights, got %s", got[0].ProviderID)
	}

	costHeavy := DefaultWeights()
	costHeavy.Performance = 0.0
	costHeavy.Cost = 1.0
	e = NewEngine(reg, tracker, monitor, costHeavy)
	if got := e.Select(provider.CapabilityChat, chatRequest(provider.PriorityNormal)); got[0].ProviderID != "bargain" {
		t.Errorf("Expected bargain first under cost-only weights, got %s", got[0].ProviderID)
	}
}

func TestSelect_EmptyWhenNoneEligible(t *testing.T) {
	reg := registry.New()
	tracker := budget.NewTracker()
	e := NewEngine(reg, tracker, health.NewMonitor(reg), DefaultWeights())

	if got := e.Select(provider.CapabilityChat, chatRequest(provider.PriorityNormal)); len(got) != 0 {
		t.Errorf("Expected empty candidate list, got %v", got)
	}
}
