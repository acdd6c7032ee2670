package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"arivara/internal/app"
	"arivara/internal/store"
	"arivara/pkg/domain"
)

func newTestConsumer(t *testing.T) (*Consumer, *app.App) {
	t.Helper()
	core, err := app.New(app.Config{Store: store.NewMemoryStore()})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return NewConsumer("amqp://unused", "outcomes", core), core
}

func submitJob(t *testing.T, core *app.App) domain.ResearchJob {
	t.Helper()
	if _, err := core.ProvisionAccount("user-1", "user-1@example.com", ""); err != nil {
		t.Fatalf("provision: %v", err)
	}
	job, err := core.CreateJob(context.Background(), "user-1", "a real query", "research_report")
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	return job
}

func encode(t *testing.T, outcome Outcome) []byte {
	t.Helper()
	body, err := json.Marshal(outcome)
	if err != nil {
		t.Fatalf("marshal outcome: %v", err)
	}
	return body
}

func TestProcessCompletedOutcome(t *testing.T) {
	c, core := newTestConsumer(t)
	job := submitJob(t, core)

	body := encode(t, Outcome{
		JobID:         job.ID,
		Status:        "completed",
		CreditsUsed:   15,
		ResultSummary: "summary",
		TokenUsage:    map[string]any{"total_tokens": float64(33000)},
		Documents: []DocumentRef{
			{FileName: "report.pdf", FilePath: "jobs/" + job.ID + "/report.pdf", FileType: "pdf", FileSize: 4096},
			{FileName: "report.md", FilePath: "jobs/" + job.ID + "/report.md", FileType: "markdown"},
		},
	})
	if err := c.Process(body); err != nil {
		t.Fatalf("process: %v", err)
	}

	done, err := core.Job("user-1", job.ID)
	if err != nil {
		t.Fatalf("job: %v", err)
	}
	if done.Status != domain.StatusCompleted || done.CreditsUsed != 15 {
		t.Fatalf("job = %+v", done)
	}
	balance, err := core.Balance("user-1", "user-1")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != domain.DefaultCreditGrant-15 {
		t.Fatalf("balance = %d", balance)
	}
	docs, err := core.ListDocuments("user-1", job.ID)
	if err != nil {
		t.Fatalf("documents: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("documents = %+v", docs)
	}
}

func TestProcessFailedOutcomeSkipsDebit(t *testing.T) {
	c, core := newTestConsumer(t)
	job := submitJob(t, core)

	body := encode(t, Outcome{JobID: job.ID, Status: "failed", Reason: "upstream timeout"})
	if err := c.Process(body); err != nil {
		t.Fatalf("process: %v", err)
	}
	failed, err := core.Job("user-1", job.ID)
	if err != nil {
		t.Fatalf("job: %v", err)
	}
	if failed.Status != domain.StatusFailed || failed.ResultSummary != "upstream timeout" {
		t.Fatalf("job = %+v", failed)
	}
	balance, _ := core.Balance("user-1", "user-1")
	if balance != domain.DefaultCreditGrant {
		t.Fatalf("failed job debited the account: %d", balance)
	}
}

func TestProcessRedeliveredOutcomeIsRejectedOnce(t *testing.T) {
	c, core := newTestConsumer(t)
	job := submitJob(t, core)

	body := encode(t, Outcome{JobID: job.ID, Status: "completed", CreditsUsed: 10})
	if err := c.Process(body); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if err := c.Process(body); !errors.Is(err, domain.ErrInvalidStateTransition) {
		t.Fatalf("redelivery err = %v", err)
	}
	balance, _ := core.Balance("user-1", "user-1")
	if balance != domain.DefaultCreditGrant-10 {
		t.Fatalf("redelivery double-debited: %d", balance)
	}
}

func TestProcessRejectsMalformedEvents(t *testing.T) {
	c, _ := newTestConsumer(t)
	if err := c.Process([]byte("{not json")); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("malformed body err = %v", err)
	}
	if err := c.Process(encode(t, Outcome{JobID: "x", Status: "cancelled"})); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("unknown status err = %v", err)
	}
	if err := c.Process(encode(t, Outcome{JobID: "missing", Status: "failed"})); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing job err = %v", err)
	}
}
