package classify

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/vnmchuo/ai-orchestrator/internal/provider"
)

// Category is the closed fault taxonomy driving retry decisions.
type Category string

const (
	CategoryConnection     Category = "connection"
	CategoryAuthentication Category = "authentication"
	CategoryRateLimit      Category = "rate_limit"
	CategoryConfiguration  Category = "configuration"
	CategoryUnknown        Category = "unknown"
)

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
)

// Record is an immutable classified failure.
type Record struct {
	Category   Category  `json:"category"`
	Severity   Severity  `json:"severity"`
	Message    string    `json:"message"`
	OccurredAt time.Time `json:"occurred_at"`
	Retryable  bool      `json:"retryable"`
	Provider   string    `json:"provider"`
	Operation  string    `json:"operation"`
}

// Classify maps an arbitrary failure into the taxonomy. The mapping is
// deterministic and provider-independent; the dispatcher consults the
// result to decide retry vs fail-over vs abort.
func Classify(providerID, operation string, err error) *Record {
	rec := &Record{
		Message:    err.Error(),
		OccurredAt: time.Now().UTC(),
		Provider:   providerID,
		Operation:  operation,
	}
	rec.Category = categorize(err)
	rec.Retryable = rec.Category == CategoryConnection || rec.Category == CategoryRateLimit

	switch rec.Category {
	case CategoryAuthentication, CategoryConfiguration:
		rec.Severity = SeverityCritical
	default:
		rec.Severity = SeverityHigh
	}
	return rec
}

func categorize(err error) Category {
	var apiErr *provider.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden:
			return CategoryAuthentication
		case apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode == http.StatusRequestTimeout:
			return CategoryRateLimit
		case apiErr.StatusCode >= 500:
			return CategoryConnection
		default:
			return CategoryUnknown
		}
	}

	if errors.Is(err, provider.ErrNotConfigured) {
		return CategoryConfiguration
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryConnection
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return CategoryConnection
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return CategoryConnection
	}

	// Vendor SDKs sometimes surface throttling as plain text.
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests") {
		return CategoryRateLimit
	}

	return CategoryUnknown
}

// BackoffBase returns the default backoff base for a retryable category,
// zero for non-retryable ones.
func BackoffBase(c Category) time.Duration {
	switch c {
	case CategoryConnection:
		return 5 * time.Second
	case CategoryRateLimit:
		return 60 * time.Second
	default:
		return 0
	}
}

// History is a bounded FIFO of classified failures kept for diagnostics.
// Appends never block the dispatch path.
type History struct {
	mu       sync.Mutex
	records  []*Record
	capacity int
}

const DefaultHistorySize = 1000

func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	return &History{capacity: capacity}
}

func (h *History) Append(rec *Record) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.records = append(h.records, rec)
	if len(h.records) > h.capacity {
		h.records = h.records[len(h.records)-h.capacity:]
	}
}

// Recent returns up to n records, newest first.
func (h *History) Recent(n int) []*Record {
	h.mu.Lock()
	defer h.mu.Unlock()

	if n <= 0 || n > len(h.records) {
		n = len(h.records)
	}
	out := make([]*Record, n)
	for i := 0; i < n; i++ {
		out[i] = h.records[len(h.records)-1-i]
	}
	return out
}

func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.records)
}
