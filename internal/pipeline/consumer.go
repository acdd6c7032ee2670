package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"arivara/internal/app"
	"arivara/pkg/domain"
)

// Outcome is the research pipeline's terminal report for a job, published
// once the report generator finishes or gives up.
type Outcome struct {
	JobID         string         `json:"jobId"`
	Status        string         `json:"status"` // completed | failed
	CreditsUsed   int            `json:"creditsUsed"`
	ResultSummary string         `json:"resultSummary"`
	TokenUsage    map[string]any `json:"tokenUsage"`
	Reason        string         `json:"reason"`
	Documents     []DocumentRef  `json:"documents"`
}

// DocumentRef points at an artifact the pipeline already placed in object
// storage.
type DocumentRef struct {
	FileName string `json:"fileName"`
	FilePath string `json:"filePath"`
	FileType string `json:"fileType"`
	FileSize int64  `json:"fileSize"`
}

// Consumer drains pipeline outcome events from RabbitMQ and applies them to
// the job store. It is the asynchronous sibling of the /internal/research
// HTTP surface.
type Consumer struct {
	url   string
	queue string
	app   *app.App
}

// NewConsumer creates a consumer bound to the given queue.
func NewConsumer(url, queue string, core *app.App) *Consumer {
	return &Consumer{url: url, queue: queue, app: core}
}

// Run connects and consumes until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return fmt.Errorf("dial rabbitmq: %w", err)
	}
	defer conn.Close()
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()
	q, err := ch.QueueDeclare(c.queue, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	deliveries, err := ch.ConsumeWithContext(ctx, q.Name, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}
	slog.Info("pipeline consumer started", "queue", c.queue)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			if err := c.Process(d.Body); err != nil {
				if errors.Is(err, domain.ErrStorageUnavailable) {
					// transient: leave the event for a later attempt
					slog.Warn("outcome deferred", "err", err)
					_ = d.Nack(false, true)
					continue
				}
				// domain failures are terminal for the event
				slog.Error("outcome rejected", "err", err)
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

// Process applies one outcome event. Exposed for tests; Run handles the
// ack/requeue policy around it.
func (c *Consumer) Process(body []byte) error {
	var outcome Outcome
	if err := json.Unmarshal(body, &outcome); err != nil {
		return fmt.Errorf("%w: malformed outcome event: %v", domain.ErrValidation, err)
	}
	switch outcome.Status {
	case string(domain.StatusCompleted):
		if _, err := c.app.CompleteJob(outcome.JobID, outcome.CreditsUsed, outcome.ResultSummary, outcome.TokenUsage); err != nil {
			return fmt.Errorf("complete job %s: %w", outcome.JobID, err)
		}
		for _, ref := range outcome.Documents {
			if _, err := c.app.AttachDocument(outcome.JobID, ref.FileName, ref.FilePath, domain.FileType(ref.FileType), ref.FileSize); err != nil {
				slog.Warn("attach document failed", "job_id", outcome.JobID, "file", ref.FileName, "err", err)
			}
		}
		return nil
	case string(domain.StatusFailed):
		if _, err := c.app.FailJob(outcome.JobID, outcome.Reason); err != nil {
			return fmt.Errorf("fail job %s: %w", outcome.JobID, err)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown outcome status %q", domain.ErrValidation, outcome.Status)
	}
}
