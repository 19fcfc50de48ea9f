package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/vnmchuo/ai-orchestrator/internal/provider"
)

type stubDriver struct {
	name string
}

func (d *stubDriver) Initialize(ctx context.Context) error { return nil }
func (d *stubDriver) Send(ctx context.Context, req *provider.Request) (*provider.Result, error) {
	return &provider.Result{Content: "ok"}, nil
}
func (d *stubDriver) HealthCheck(ctx context.Context) error { return nil }
func (d *stubDriver) Shutdown(ctx context.Context) error    { return nil }
func (d *stubDriver) Name() string                          { return d.name }

func descriptor(id string, caps ...provider.Capability) *Descriptor {
	return &Descriptor{
		ID:                  id,
		Capabilities:        caps,
		CostTable:           map[provider.Capability]float64{},
		BaselineReliability: 0.9,
		BaselineSpeed:       0.8,
		MonthlyBudget:       100,
		Driver:              &stubDriver{name: id},
	}
}

func TestRegister_Duplicate(t *testing.T) {
	r := New()
	if err := r.Register(descriptor("p1", provider.CapabilityChat)); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	err := r.Register(descriptor("p1", provider.CapabilityChat))
	if !errors.Is(err, ErrDuplicateProvider) {
		t.Errorf("Expected ErrDuplicateProvider, got %v", err)
	}
}

func TestRegister_Validation(t *testing.T) {
	r := New()

	d := descriptor("", provider.CapabilityChat)
	if err := r.Register(d); err == nil {
		t.Error("Expected error for empty id")
	}

	d = descriptor("p1")
	if err := r.Register(d); err == nil {
		t.Error("Expected error for empty capabilities")
	}

	d = descriptor("p1", provider.CapabilityChat)
	d.BaselineReliability = 1.5
	if err := r.Register(d); err == nil {
		t.Error("Expected error for out-of-range reliability")
	}

	d = descriptor("p1", provider.CapabilityChat)
	d.Driver = nil
	if err := r.Register(d); err == nil {
		t.Error("Expected error for nil driver")
	}
}

func TestListEligible_FiltersByCapabilityAndStatus(t *testing.T) {
	r := New()
	if err := r.Register(descriptor("chat-only", provider.CapabilityChat)); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := r.Register(descriptor("translator", provider.CapabilityTranslation)); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := r.Register(descriptor("both", provider.CapabilityChat, provider.CapabilityTranslation)); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	eligible := r.ListEligible(provider.CapabilityChat)
	if len(eligible) != 2 {
		t.Fatalf("Expected 2 eligible providers, got %d", len(eligible))
	}
	if eligible[0].ID != "chat-only" || eligible[1].ID != "both" {
		t.Errorf("Expected registration order, got %s, %s", eligible[0].ID, eligible[1].ID)
	}

	if err := r.SetStatus("chat-only", StatusDegraded); err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}
	eligible = r.ListEligible(provider.CapabilityChat)
	if len(eligible) != 1 || eligible[0].ID != "both" {
		t.Errorf("Expected only 'both' after degrading chat-only, got %d providers", len(eligible))
	}
}

func TestGet_ReturnsCopy(t *testing.T) {
	r := New()
	if err := r.Register(descriptor("p1", provider.CapabilityChat)); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	d, err := r.Get("p1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	d.Status = StatusError

	status, _ := r.GetStatus("p1")
	if status != StatusActive {
		t.Errorf("Mutating returned descriptor changed registry state: %s", status)
	}
}

func TestGet_DeepCopy(t *testing.T) {
	r := New()
	d := descriptor("p1", provider.CapabilityChat)
	d.CostTable[provider.CapabilityChat] = 0.001
	d.Languages = []string{"en"}
	if err := r.Register(d); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	got, err := r.Get("p1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	got.CostTable[provider.CapabilityChat] = 99
	got.Capabilities[0] = provider.CapabilityVision
	got.Languages[0] = "xx"

	fresh, _ := r.Get("p1")
	if fresh.CostTable[provider.CapabilityChat] != 0.001 {
		t.Errorf("Mutating returned cost table changed registry state: %f", fresh.CostTable[provider.CapabilityChat])
	}
	if !fresh.Supports(provider.CapabilityChat) {
		t.Error("Mutating returned capabilities changed registry state")
	}
	if !fresh.SpeaksLanguage("en") {
		t.Error("Mutating returned languages changed registry state")
	}

	// the caller's original descriptor is not shared either
	d.CostTable[provider.CapabilityChat] = 42
	fresh, _ = r.Get("p1")
	if fresh.CostTable[provider.CapabilityChat] != 0.001 {
		t.Error("Registry shares state with the registered descriptor")
	}
}

func TestGet_NotFound(t *testing.T) {
	r := New()
	if _, err := r.Get("missing"); !errors.Is(err, ErrProviderNotFound) {
		t.Errorf("Expected ErrProviderNotFound, got %v", err)
	}
	if err := r.SetStatus("missing", StatusError); !errors.Is(err, ErrProviderNotFound) {
		t.Errorf("Expected ErrProviderNotFound, got %v", err)
	}
}

func TestRegister_DefaultsToActive(t *testing.T) {
	r := New()
	if err := r.Register(descriptor("p1", provider.CapabilityChat)); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	status, err := r.GetStatus("p1")
	if err != nil {
		t.Fatalf("GetStatus failed: %v", err)
	}
	if status != StatusActive {
		t.Errorf("Expected active status, got %s", status)
	}
}
