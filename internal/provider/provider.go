package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Capability is a category of AI task a provider may support.
type Capability string

const (
	CapabilityChat         Capability = "chat"
	CapabilityTranslation  Capability = "translation"
	CapabilitySpeechToText Capability = "speech-to-text"
	CapabilityVision       Capability = "vision"
)

// Priority influences provider scoring, not execution order.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Request describes a single logical AI request. Treated as immutable
// after creation; the orchestrator never mutates it.
type Request struct {
	Capability    Capability `json:"capability"`
	Payload       string     `json:"payload"`
	Model         string     `json:"model,omitempty"`
	Priority      Priority   `json:"priority,omitempty"`
	LanguageHint  string     `json:"language_hint,omitempty"`
	CulturalFlags []string   `json:"cultural_flags,omitempty"`
	CostCeiling   float64    `json:"cost_ceiling,omitempty"` // 0 means no ceiling

	// Metadata for billing and tracing
	TenantID  string    `json:"tenant_id,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// Result is the raw driver output before normalization.
type Result struct {
	Content      string
	Model        string
	InputTokens  int
	OutputTokens int
}

// Response is the normalized orchestrator result. Callers always receive
// one, even when every provider failed.
type Response struct {
	Success    bool    `json:"success"`
	Payload    string  `json:"payload,omitempty"`
	Provider   string  `json:"provider,omitempty"`
	Model      string  `json:"model,omitempty"`
	Cost       float64 `json:"cost"`
	LatencyMs  int64   `json:"latency_ms"`
	TokensUsed int     `json:"tokens_used,omitempty"`
	Cached     bool    `json:"cached,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// MarshalBinary implements encoding.BinaryMarshaler for Redis
func (r *Response) MarshalBinary() ([]byte, error) {
	return json.Marshal(r)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler for Redis
func (r *Response) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, r)
}

// Driver is the seam between the orchestrator core and a concrete vendor.
// The core never inspects vendor payload formats beyond Result.
type Driver interface {
	Initialize(ctx context.Context) error
	Send(ctx context.Context, req *Request) (*Result, error)
	HealthCheck(ctx context.Context) error
	Shutdown(ctx context.Context) error
	Name() string
}

// ErrNotConfigured is returned by drivers constructed without credentials.
var ErrNotConfigured = errors.New("provider is not configured")

// APIError carries the HTTP status from a vendor API so the classifier
// can map it without parsing message strings.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s api error (status %d): %s", e.Provider, e.StatusCode, e.Body)
}
