package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/vnmchuo/ai-orchestrator/internal/orchestrator"
	"github.com/vnmchuo/ai-orchestrator/internal/provider"
)

type JobStatus string

const (
	JobStatusPending JobStatus = "pending"
	JobStatusRunning JobStatus = "running"
	JobStatusDone    JobStatus = "done"
	JobStatusFailed  JobStatus = "failed"
)

var ErrJobNotFound = errors.New("job not found")

const (
	queueKey     = "orchestrator:jobs"
	jobKeyPrefix = "orchestrator:job:"
	resultTTL    = 24 * time.Hour
	popTimeout   = 5 * time.Second
)

type Job struct {
	ID          string             `json:"id"`
	TenantID    string             `json:"tenant_id"`
	Request     *provider.Request  `json:"request"`
	CallbackURL string             `json:"callback_url,omitempty"`
	Status      JobStatus          `json:"status"`
	Response    *provider.Response `json:"response,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
}

// MarshalBinary implements encoding.BinaryMarshaler for Redis
func (j *Job) MarshalBinary() ([]byte, error) {
	return json.Marshal(j)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler for Redis
func (j *Job) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, j)
}

// Queue is a redis-list job queue for asynchronous orchestrator
// execution. Results are kept for 24 hours.
type Queue struct {
	rdb    *redis.Client
	orch   *orchestrator.Orchestrator
	logger *log.Logger
	client *http.Client
}

func NewQueue(rdb *redis.Client, orch *orchestrator.Orchestrator) *Queue {
	return &Queue{
		rdb:    rdb,
		orch:   orch,
		logger: log.Default(),
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (q *Queue) Enqueue(ctx context.Context, job *Job) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	job.Status = JobStatusPending
	job.CreatedAt = time.Now().UTC()

	if err := q.saveJob(ctx, job); err != nil {
		return err
	}
	if err := q.rdb.LPush(ctx, queueKey, job).Err(); err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	return nil
}

func (q *Queue) Get(ctx context.Context, id string) (*Job, error) {
	var job Job
	err := q.rdb.Get(ctx, jobKeyPrefix+id).Scan(&job)
	if err == redis.Nil {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

func (q *Queue) saveJob(ctx context.Context, job *Job) error {
	if err := q.rdb.Set(ctx, jobKeyPrefix+job.ID, job, resultTTL).Err(); err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

// Process runs the worker loop until the context is cancelled.
func (q *Queue) Process(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		vals, err := q.rdb.BRPop(ctx, popTimeout, queueKey).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			q.logger.Printf("[worker] queue pop failed: %v", err)
			time.Sleep(time.Second)
			continue
		}

		var job Job
		if err := json.Unmarshal([]byte(vals[1]), &job); err != nil {
			q.logger.Printf("[worker] dropping malformed job: %v", err)
			continue
		}
		q.run(ctx, &job)
	}
}

func (q *Queue) run(ctx context.Context, job *Job) {
	job.Status = JobStatusRunning
	_ = q.saveJob(ctx, job)

	resp := q.orch.Execute(ctx, job.Request)
	job.Response = resp
	if resp.Success {
		job.Status = JobStatusDone
	} else {
		job.Status = JobStatusFailed
	}
	_ = q.saveJob(ctx, job)

	if job.CallbackURL != "" {
		q.notify(ctx, job)
	}
}

func (q *Queue) notify(ctx context.Context, job *Job) {
	body, err := json.Marshal(job)
	if err != nil {
		return
	}
	req, err := http.NewRequestWithContext(ctx, "POST", job.CallbackURL, bytes.NewReader(body))
	if err != nil {
		q.logger.Printf("[worker] bad callback url for job %s: %v", job.ID, err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := q.client.Do(req)
	if err != nil {
		q.logger.Printf("[worker] callback for job %s failed: %v", job.ID, err)
		return
	}
	resp.Body.Close()
}
