package scoring

import (
	"sort"

	"github.com/vnmchuo/ai-orchestrator/internal/budget"
	"github.com/vnmchuo/ai-orchestrator/internal/health"
	"github.com/vnmchuo/ai-orchestrator/internal/provider"
	"github.com/vnmchuo/ai-orchestrator/internal/registry"
)

// Weights holds every scoring constant. Injected at construction so
// rankings are tunable and testable without touching the engine.
type Weights struct {
	Performance      float64 // share of the base score from reliability+speed
	Cost             float64 // share of the base score from cost
	ReliabilityShare float64 // reliability share within the performance term
	SpeedShare       float64 // speed share within the performance term
	CostScale        float64 // K in costFactor = 1/(1+cost*K)
	LiveBlend        float64 // weight of live metrics vs baseline
	LanguageBonus    float64 // added when the provider speaks the request language

	PriorityLow      float64
	PriorityNormal   float64
	PriorityHigh     float64
	PriorityCritical float64
}

func DefaultWeights() Weights {
	return Weights{
		Performance:      0.7,
		Cost:             0.3,
		ReliabilityShare: 0.6,
		SpeedShare:       0.4,
		CostScale:        10.0,
		LiveBlend:        0.3,
		LanguageBonus:    0.1,
		PriorityLow:      0.8,
		PriorityNormal:   1.0,
		PriorityHigh:     1.2,
		PriorityCritical: 1.5,
	}
}

func (w Weights) priorityMultiplier(p provider.Priority) float64 {
	switch p {
	case provider.PriorityLow:
		return w.PriorityLow
	case provider.PriorityHigh:
		return w.PriorityHigh
	case provider.PriorityCritical:
		return w.PriorityCritical
	default:
		return w.PriorityNormal
	}
}

// Candidate is an ephemeral scored provider, produced fresh per request.
type Candidate struct {
	ProviderID    string
	Score         float64
	EstimatedCost float64
}

// minLiveSamples gates blending: baselines are trusted until a provider
// has seen enough real traffic.
const minLiveSamples = 5

// Engine ranks eligible, affordable providers for a request.
type Engine struct {
	registry *registry.Registry
	budget   *budget.Tracker
	monitor  *health.Monitor
	weights  Weights
}

func NewEngine(reg *registry.Registry, tracker *budget.Tracker, monitor *health.Monitor, weights Weights) *Engine {
	return &Engine{
		registry: reg,
		budget:   tracker,
		monitor:  monitor,
		weights:  weights,
	}
}

// Select returns candidates ranked by descending score. Ties break by
// ascending provider ID so repeated calls over identical snapshots yield
// identical orderings. An empty slice means no provider is eligible and
// affordable.
func (e *Engine) Select(capability provider.Capability, req *provider.Request) []Candidate {
	eligible := e.registry.ListEligible(capability)

	candidates := make([]Candidate, 0, len(eligible))
	for _, d := range eligible {
		estimated := e.budget.EstimateCost(d, capability, req.Payload)
		if !e.budget.CanAfford(d, estimated) {
			continue
		}
		if req.CostCeiling > 0 && estimated > req.CostCeiling {
			continue
		}
		candidates = append(candidates, Candidate{
			ProviderID:    d.ID,
			Score:         e.score(d, req, estimated),
			EstimatedCost: estimated,
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].ProviderID < candidates[j].ProviderID
	})
	return candidates
}

func (e *Engine) score(d *registry.Descriptor, req *provider.Request, estimatedCost float64) float64 {
	reliability := d.BaselineReliability
	speed := d.BaselineSpeed

	if e.monitor != nil {
		if rate, avgLatencyMs, samples := e.monitor.LiveStats(d.ID); samples >= minLiveSamples {
			reliability = reliability*(1-e.weights.LiveBlend) + rate*e.weights.LiveBlend
			// Map observed latency onto [0,1]: 1s average halves the score.
			liveSpeed := 1 / (1 + avgLatencyMs/1000)
			speed = speed*(1-e.weights.LiveBlend) + liveSpeed*e.weights.LiveBlend
		}
	}

	performance := reliability*e.weights.ReliabilityShare + speed*e.weights.SpeedShare
	costFactor := 1 / (1 + estimatedCost*e.weights.CostScale)

	score := performance*e.weights.Performance + costFactor*e.weights.Cost
	score *= e.weights.priorityMultiplier(req.Priority)

	if req.LanguageHint != "" && d.SpeaksLanguage(req.LanguageHint) {
		score += e.weights.LanguageBonus
	}
	return score
}
