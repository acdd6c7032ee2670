package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"arivara/pkg/domain"
)

const defaultStreamMaxLen = 10000

// Dispatcher publishes accepted research jobs onto a Redis stream for the
// report generator to consume. The core only enqueues; the worker group on
// the other side acknowledges and reports back through Outcome events.
type Dispatcher struct {
	client *redis.Client
	stream string
	group  string
	maxLen int64
	once   sync.Once
}

// DispatcherConfig configures the job request stream.
type DispatcherConfig struct {
	Addr     string
	Password string
	Stream   string
	Group    string
	MaxLen   int64
}

// NewDispatcher connects to Redis and prepares the request stream.
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		return nil, errors.New("dispatch stream required")
	}
	group := strings.TrimSpace(cfg.Group)
	if group == "" {
		group = "research-workers"
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = defaultStreamMaxLen
	}
	return &Dispatcher{
		client: redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password}),
		stream: stream,
		group:  group,
		maxLen: maxLen,
	}, nil
}

// DispatchJob implements app.JobDispatcher.
func (d *Dispatcher) DispatchJob(ctx context.Context, job domain.ResearchJob) error {
	d.ensureGroup(ctx)
	return d.client.XAdd(ctx, &redis.XAddArgs{
		Stream: d.stream,
		MaxLen: d.maxLen,
		Approx: true,
		Values: map[string]any{
			"job_id":      job.ID,
			"account_id":  job.AccountID,
			"query":       job.Query,
			"report_type": job.ReportType,
			"created_at":  job.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
	}).Err()
}

func (d *Dispatcher) ensureGroup(ctx context.Context) {
	d.once.Do(func() {
		err := d.client.XGroupCreateMkStream(ctx, d.stream, d.group, "$").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			// best-effort; errors surface on the worker side
		}
	})
}

// Close releases the Redis connection.
func (d *Dispatcher) Close() error {
	return d.client.Close()
}
