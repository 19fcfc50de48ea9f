package worker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/vnmchuo/ai-orchestrator/internal/budget"
	"github.com/vnmchuo/ai-orchestrator/internal/cache"
	"github.com/vnmchuo/ai-orchestrator/internal/classify"
	"github.com/vnmchuo/ai-orchestrator/internal/health"
	"github.com/vnmchuo/ai-orchestrator/internal/orchestrator"
	"github.com/vnmchuo/ai-orchestrator/internal/provider"
	"github.com/vnmchuo/ai-orchestrator/internal/registry"
	"github.com/vnmchuo/ai-orchestrator/internal/scoring"
)

type stubDriver struct{ calls int }

func (d *stubDriver) Initialize(ctx context.Context) error { return nil }
func (d *stubDriver) Send(ctx context.Context, req *provider.Request) (*provider.Result, error) {
	d.calls++
	return &provider.Result{Content: "stub response", Model: "stub-model", InputTokens: 1, OutputTokens: 1}, nil
}
func (d *stubDriver) HealthCheck(ctx context.Context) error { return nil }
func (d *stubDriver) Shutdown(ctx context.Context) error    { return nil }
func (d *stubDriver) Name() string                          { return "stub" }

func testOrchestrator(t *testing.T, drivers ...provider.Driver) *orchestrator.Orchestrator {
	t.Helper()
	reg := registry.New()
	for _, d := range drivers {
		err := reg.Register(&registry.Descriptor{
			ID:                  d.Name(),
			Capabilities:        []provider.Capability{provider.CapabilityChat},
			CostTable:           map[provider.Capability]float64{provider.CapabilityChat: 0.001},
			BaselineReliability: 0.95,
			BaselineSpeed:       0.9,
			MonthlyBudget:       100,
			Driver:              d,
		})
		if err != nil {
			t.Fatalf("Register failed: %v", err)
		}
	}
	tracker := budget.NewTracker()
	monitor := health.NewMonitor(reg)
	engine := scoring.NewEngine(reg, tracker, monitor, scoring.DefaultWeights())
	return orchestrator.New(reg, tracker, monitor, engine, cache.New(nil),
		classify.NewHistory(10), orchestrator.Options{})
}

func testQueue(t *testing.T, orch *orchestrator.Orchestrator) (*Queue, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewQueue(rdb, orch), rdb
}

func chatJob() *Job {
	return &Job{
		TenantID: "tenant-1",
		Request: &provider.Request{
			Capability: provider.CapabilityChat,
			Payload:    "hello",
			Priority:   provider.PriorityNormal,
		},
	}
}

func TestEnqueueAndGet(t *testing.T) {
	q, rdb := testQueue(t, testOrchestrator(t, &stubDriver{}))
	ctx := context.Background()

	job := chatJob()
	if err := q.Enqueue(ctx, job); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if job.ID == "" {
		t.Fatal("Expected generated job ID")
	}
	if job.Status != JobStatusPending {
		t.Errorf("Expected pending status, got %s", job.Status)
	}
	if job.CreatedAt.IsZero() {
		t.Error("Expected CreatedAt set")
	}

	got, err := q.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.TenantID != "tenant-1" || got.Request.Payload != "hello" {
		t.Errorf("Round trip lost fields: %+v", got)
	}

	if n, err := rdb.LLen(ctx, queueKey).Result(); err != nil || n != 1 {
		t.Errorf("Expected 1 queued job, got %d (err %v)", n, err)
	}
}

func TestGet_NotFound(t *testing.T) {
	q, _ := testQueue(t, testOrchestrator(t, &stubDriver{}))

	if _, err := q.Get(context.Background(), "missing"); err != ErrJobNotFound {
		t.Errorf("Expected ErrJobNotFound, got %v", err)
	}
}

func TestRun_Success(t *testing.T) {
	stub := &stubDriver{}
	q, _ := testQueue(t, testOrchestrator(t, stub))
	ctx := context.Background()

	job := chatJob()
	if err := q.Enqueue(ctx, job); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	q.run(ctx, job)

	got, err := q.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != JobStatusDone {
		t.Errorf("Expected done status, got %s", got.Status)
	}
	if got.Response == nil || !got.Response.Success || got.Response.Payload != "stub response" {
		t.Errorf("Unexpected stored response: %+v", got.Response)
	}
	if stub.calls != 1 {
		t.Errorf("Expected one driver call, got %d", stub.calls)
	}
}

func TestRun_Failure(t *testing.T) {
	// no registered providers, so execution terminates without a response
	q, _ := testQueue(t, testOrchestrator(t))
	ctx := context.Background()

	job := chatJob()
	if err := q.Enqueue(ctx, job); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	q.run(ctx, job)

	got, err := q.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != JobStatusFailed {
		t.Errorf("Expected failed status, got %s", got.Status)
	}
	if got.Response == nil || got.Response.Success {
		t.Errorf("Expected failure response, got %+v", got.Response)
	}
}

func TestRun_Callback(t *testing.T) {
	var received *Job
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var j Job
		if err := json.NewDecoder(r.Body).Decode(&j); err != nil {
			t.Errorf("Failed to decode callback body: %v", err)
		}
		received = &j
	}))
	defer server.Close()

	q, _ := testQueue(t, testOrchestrator(t, &stubDriver{}))
	ctx := context.Background()

	job := chatJob()
	job.CallbackURL = server.URL
	if err := q.Enqueue(ctx, job); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	q.run(ctx, job)

	if received == nil {
		t.Fatal("Expected callback delivery")
	}
	if received.ID != job.ID || received.Status != JobStatusDone {
		t.Errorf("Unexpected callback payload: %+v", received)
	}
}
