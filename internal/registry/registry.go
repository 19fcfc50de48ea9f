package registry

import (
	"errors"
	"fmt"
	"sync"

	"github.com/vnmchuo/ai-orchestrator/internal/provider"
)

var (
	ErrDuplicateProvider = errors.New("provider already registered")
	ErrProviderNotFound  = errors.New("provider not found")
)

// Status is the operational state of a provider. Only the health monitor
// and the dispatcher mutate it; Maintenance is operator-set only.
type Status string

const (
	StatusActive      Status = "active"
	StatusDegraded    Status = "degraded"
	StatusRateLimited Status = "rate_limited"
	StatusError       Status = "error"
	StatusMaintenance Status = "maintenance"
)

// Descriptor is the static catalog entry for one provider.
type Descriptor struct {
	ID                  string
	Capabilities        []provider.Capability
	CostTable           map[provider.Capability]float64 // USD per unit of work
	BaselineReliability float64                         // [0,1]
	BaselineSpeed       float64                         // [0,1]
	MonthlyBudget       float64
	Languages           []string // languages the provider specializes in
	Status              Status
	Driver              provider.Driver
}

func (d *Descriptor) Supports(capability provider.Capability) bool {
	for _, c := range d.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

func (d *Descriptor) SpeaksLanguage(lang string) bool {
	for _, l := range d.Languages {
		if l == lang {
			return true
		}
	}
	return false
}

// Registry is the in-memory provider catalog. Thread-safe. Providers are
// never removed at runtime, only disabled via status.
type Registry struct {
	mu          sync.RWMutex
	descriptors map[string]*Descriptor
	order       []string // registration order, for stable listing
}

func New() *Registry {
	return &Registry{
		descriptors: make(map[string]*Descriptor),
	}
}

func validate(d *Descriptor) error {
	if d.ID == "" {
		return fmt.Errorf("descriptor has empty id")
	}
	if len(d.Capabilities) == 0 {
		return fmt.Errorf("provider %s has no capabilities", d.ID)
	}
	if d.BaselineReliability < 0 || d.BaselineReliability > 1 {
		return fmt.Errorf("provider %s baseline reliability %f out of range [0,1]", d.ID, d.BaselineReliability)
	}
	if d.BaselineSpeed < 0 || d.BaselineSpeed > 1 {
		return fmt.Errorf("provider %s baseline speed %f out of range [0,1]", d.ID, d.BaselineSpeed)
	}
	if d.Driver == nil {
		return fmt.Errorf("provider %s has no driver", d.ID)
	}
	return nil
}

func (r *Registry) Register(d *Descriptor) error {
	if err := validate(d); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.descriptors[d.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateProvider, d.ID)
	}

	entry := d.clone()
	if entry.Status == "" {
		entry.Status = StatusActive
	}
	r.descriptors[d.ID] = entry
	r.order = append(r.order, d.ID)
	return nil
}

// clone deep-copies the descriptor's maps and slices so the registry's
// entry and the caller's copy never share mutable state.
func (d *Descriptor) clone() *Descriptor {
	copied := *d
	copied.Capabilities = append([]provider.Capability(nil), d.Capabilities...)
	copied.Languages = append([]string(nil), d.Languages...)
	if d.CostTable != nil {
		copied.CostTable = make(map[provider.Capability]float64, len(d.CostTable))
		for c, v := range d.CostTable {
			copied.CostTable[c] = v
		}
	}
	return &copied
}

// Get returns a copy of the descriptor so callers cannot mutate registry
// state behind the lock.
func (r *Registry) Get(id string) (*Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.descriptors[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, id)
	}
	return d.clone(), nil
}

// ListEligible returns active providers supporting the capability, in
// registration order.
func (r *Registry) ListEligible(capability provider.Capability) []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var eligible []*Descriptor
	for _, id := range r.order {
		d := r.descriptors[id]
		if d.Status != StatusActive {
			continue
		}
		if !d.Supports(capability) {
			continue
		}
		eligible = append(eligible, d.clone())
	}
	return eligible
}

// All returns every registered descriptor regardless of status.
func (r *Registry) All() []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]*Descriptor, 0, len(r.order))
	for _, id := range r.order {
		all = append(all, r.descriptors[id].clone())
	}
	return all
}

func (r *Registry) SetStatus(id string, status Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.descriptors[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrProviderNotFound, id)
	}
	d.Status = status
	return nil
}

func (r *Registry) GetStatus(id string) (Status, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.descriptors[id]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrProviderNotFound, id)
	}
	return d.Status, nil
}
