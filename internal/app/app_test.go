package app

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"arivara/internal/store"
	"arivara/pkg/domain"
)

type fakeObjects struct {
	presigned []string
	deleted   []string
	failAll   bool
}

func (f *fakeObjects) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	if f.failAll {
		return errors.New("put failed")
	}
	return nil
}

func (f *fakeObjects) PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	if f.failAll {
		return "", errors.New("presign failed")
	}
	f.presigned = append(f.presigned, key)
	return "https://objects.local/" + key + "?sig=test", nil
}

func (f *fakeObjects) Delete(ctx context.Context, key string) error {
	if f.failAll {
		return errors.New("delete failed")
	}
	f.deleted = append(f.deleted, key)
	return nil
}

type fakeDispatcher struct {
	jobs []domain.ResearchJob
	err  error
}

func (f *fakeDispatcher) DispatchJob(ctx context.Context, job domain.ResearchJob) error {
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, job)
	return nil
}

type fakeHeadings struct {
	heading string
	err     error
	calls   int
}

func (f *fakeHeadings) Heading(ctx context.Context, content string) (string, error) {
	f.calls++
	return f.heading, f.err
}

func newTestApp(t *testing.T, opts ...func(*Config)) (*App, *store.MemoryStore) {
	t.Helper()
	mem := store.NewMemoryStore()
	cfg := Config{Store: mem}
	for _, opt := range opts {
		opt(&cfg)
	}
	a, err := New(cfg)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return a, mem
}

func provision(t *testing.T, a *App, id string) domain.Account {
	t.Helper()
	acc, err := a.ProvisionAccount(id, id+"@example.com", "Test User")
	if err != nil {
		t.Fatalf("provision %s: %v", id, err)
	}
	return acc
}

func TestProvisionAccountGrantsDefaultCredits(t *testing.T) {
	a, _ := newTestApp(t)
	acc := provision(t, a, "user-1")
	if acc.Credits != domain.DefaultCreditGrant {
		t.Fatalf("credits = %d, want %d", acc.Credits, domain.DefaultCreditGrant)
	}

	// Replay of the provisioning event must not reset anything.
	if _, err := a.ApplyTransaction("user-1", "user-1", 30, domain.KindDebit, "spend"); err != nil {
		t.Fatalf("debit: %v", err)
	}
	again, err := a.ProvisionAccount("user-1", "user-1@example.com", "Test User")
	if err != nil {
		t.Fatalf("re-provision: %v", err)
	}
	if again.Credits != 70 {
		t.Fatalf("re-provision balance = %d, want 70", again.Credits)
	}
}

func TestOwnershipGuardHidesForeignResources(t *testing.T) {
	objects := &fakeObjects{}
	a, _ := newTestApp(t, func(c *Config) { c.Objects = objects })
	provision(t, a, "owner")
	provision(t, a, "intruder")

	job, err := a.CreateJob(context.Background(), "owner", "a query long enough to pass", "research_report")
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	doc, err := a.AttachDocument(job.ID, "report.pdf", "jobs/"+job.ID+"/report.pdf", domain.FilePDF, 1024)
	if err != nil {
		t.Fatalf("attach document: %v", err)
	}
	thread, err := a.CreateThread("owner", "budget planning")
	if err != nil {
		t.Fatalf("create thread: %v", err)
	}
	msg, err := a.AppendMessage(context.Background(), "owner", thread.ID, domain.RoleUser, "hello", nil, nil)
	if err != nil {
		t.Fatalf("append message: %v", err)
	}

	ctx := context.Background()
	checks := []struct {
		name string
		call func() error
	}{
		{"account read", func() error { _, err := a.Account("intruder", "owner"); return err }},
		{"balance read", func() error { _, err := a.Balance("intruder", "owner"); return err }},
		{"transaction write", func() error {
			_, err := a.ApplyTransaction("intruder", "owner", 5, domain.KindDebit, "steal")
			return err
		}},
		{"transaction list", func() error { _, err := a.ListTransactions("intruder", "owner", 0, 0); return err }},
		{"job read", func() error { _, err := a.Job("intruder", job.ID); return err }},
		{"document list", func() error { _, err := a.ListDocuments("intruder", job.ID); return err }},
		{"document download", func() error { _, err := a.DocumentURL(ctx, "intruder", doc.ID); return err }},
		{"document delete", func() error { return a.DeleteDocument(ctx, "intruder", doc.ID) }},
		{"thread read", func() error { _, err := a.Thread("intruder", thread.ID); return err }},
		{"thread rename", func() error { _, err := a.UpdateHeading("intruder", thread.ID, "mine now"); return err }},
		{"thread delete", func() error { return a.DeleteThread("intruder", thread.ID) }},
		{"message append", func() error {
			_, err := a.AppendMessage(ctx, "intruder", thread.ID, domain.RoleUser, "hi", nil, nil)
			return err
		}},
		{"message list", func() error { _, err := a.ListMessages("intruder", thread.ID, 0, 0); return err }},
		{"message metadata", func() error { _, err := a.EnrichMessageMetadata("intruder", msg.ID, map[string]any{"a": 1}); return err }},
		{"account delete", func() error { return a.DeleteAccount("intruder", "owner") }},
	}
	for _, c := range checks {
		if err := c.call(); !errors.Is(err, domain.ErrForbidden) {
			t.Errorf("%s: err = %v, want ErrForbidden", c.name, err)
		}
	}
	if len(objects.deleted) != 0 {
		t.Fatalf("guard let an intruder delete objects: %v", objects.deleted)
	}
}

func TestCreateJobValidatesInput(t *testing.T) {
	a, _ := newTestApp(t)
	provision(t, a, "user-1")

	if _, err := a.CreateJob(context.Background(), "user-1", "   ", "research_report"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("blank query err = %v", err)
	}
	if _, err := a.CreateJob(context.Background(), "ghost", "a real query", "research_report"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unknown caller err = %v", err)
	}
	job, err := a.CreateJob(context.Background(), "user-1", "a real query", "deep_dive")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if job.Status != domain.StatusPending || job.ID == "" {
		t.Fatalf("new job = %+v", job)
	}
}

func TestCreateJobDispatchesToPipeline(t *testing.T) {
	dispatch := &fakeDispatcher{}
	a, _ := newTestApp(t, func(c *Config) { c.Dispatch = dispatch })
	provision(t, a, "user-1")

	job, err := a.CreateJob(context.Background(), "user-1", "a real query", "research_report")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(dispatch.jobs) != 1 || dispatch.jobs[0].ID != job.ID {
		t.Fatalf("dispatched = %+v", dispatch.jobs)
	}

	dispatch.err = errors.New("stream down")
	if _, err := a.CreateJob(context.Background(), "user-1", "another query", "research_report"); !errors.Is(err, domain.ErrStorageUnavailable) {
		t.Fatalf("dispatch failure err = %v", err)
	}
	jobs, err := a.ListJobs("user-1", 0, 0)
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	if len(jobs) != 2 || jobs[0].Status != domain.StatusFailed {
		t.Fatalf("undispatched job should be failed: %+v", jobs)
	}
}

func TestAttachDocumentValidatesFileType(t *testing.T) {
	a, _ := newTestApp(t)
	provision(t, a, "user-1")
	job, err := a.CreateJob(context.Background(), "user-1", "a real query", "research_report")
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	if _, err := a.AttachDocument(job.ID, "r.exe", "jobs/x/r.exe", domain.FileType("exe"), 10); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("bad file type err = %v", err)
	}
	if _, err := a.AttachDocument(job.ID, "", "jobs/x/r.pdf", domain.FilePDF, 10); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("empty file name err = %v", err)
	}
	for _, ft := range []domain.FileType{domain.FilePDF, domain.FileDOCX, domain.FileMarkdown} {
		if _, err := a.AttachDocument(job.ID, "r."+string(ft), "jobs/x/r."+string(ft), ft, 10); err != nil {
			t.Fatalf("attach %s: %v", ft, err)
		}
	}
}

func TestDocumentURLUsesPresignedGet(t *testing.T) {
	objects := &fakeObjects{}
	a, _ := newTestApp(t, func(c *Config) { c.Objects = objects })
	provision(t, a, "user-1")
	job, err := a.CreateJob(context.Background(), "user-1", "a real query", "research_report")
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	doc, err := a.AttachDocument(job.ID, "report.pdf", "jobs/"+job.ID+"/report.pdf", domain.FilePDF, 2048)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}

	url, err := a.DocumentURL(context.Background(), "user-1", doc.ID)
	if err != nil {
		t.Fatalf("document url: %v", err)
	}
	if url == "" || len(objects.presigned) != 1 || objects.presigned[0] != doc.FilePath {
		t.Fatalf("presign url=%q keys=%v", url, objects.presigned)
	}

	objects.failAll = true
	if _, err := a.DocumentURL(context.Background(), "user-1", doc.ID); !errors.Is(err, domain.ErrStorageUnavailable) {
		t.Fatalf("presign failure err = %v", err)
	}
}

func TestDeleteDocumentRemovesObject(t *testing.T) {
	objects := &fakeObjects{}
	a, _ := newTestApp(t, func(c *Config) { c.Objects = objects })
	provision(t, a, "user-1")
	job, err := a.CreateJob(context.Background(), "user-1", "a real query", "research_report")
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	doc, err := a.AttachDocument(job.ID, "report.pdf", "jobs/"+job.ID+"/report.pdf", domain.FilePDF, 2048)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := a.DeleteDocument(context.Background(), "user-1", doc.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(objects.deleted) != 1 || objects.deleted[0] != doc.FilePath {
		t.Fatalf("deleted objects = %v", objects.deleted)
	}
	if err := a.DeleteDocument(context.Background(), "user-1", doc.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("double delete err = %v", err)
	}
}

func TestAppendAssistantMessageDerivesHeading(t *testing.T) {
	headings := &fakeHeadings{heading: "Container orchestration history"}
	a, _ := newTestApp(t, func(c *Config) { c.Headings = headings })
	provision(t, a, "user-1")
	thread, err := a.CreateThread("user-1", "")
	if err != nil {
		t.Fatalf("create thread: %v", err)
	}

	ctx := context.Background()
	if _, err := a.AppendMessage(ctx, "user-1", thread.ID, domain.RoleUser, "tell me about kubernetes", nil, nil); err != nil {
		t.Fatalf("user message: %v", err)
	}
	if headings.calls != 0 {
		t.Fatal("user message should not trigger heading generation")
	}
	if _, err := a.AppendMessage(ctx, "user-1", thread.ID, domain.RoleAssistant, "Kubernetes began at Google...", nil, nil); err != nil {
		t.Fatalf("assistant message: %v", err)
	}
	if headings.calls != 1 {
		t.Fatalf("heading calls = %d, want 1", headings.calls)
	}
	got, err := a.Thread("user-1", thread.ID)
	if err != nil {
		t.Fatalf("thread: %v", err)
	}
	if got.AutoHeading != "Container orchestration history" {
		t.Fatalf("auto heading = %q", got.AutoHeading)
	}

	// A second assistant turn must not regenerate the heading.
	if _, err := a.AppendMessage(ctx, "user-1", thread.ID, domain.RoleAssistant, "More detail...", nil, nil); err != nil {
		t.Fatalf("second assistant message: %v", err)
	}
	if headings.calls != 1 {
		t.Fatalf("heading regenerated, calls = %d", headings.calls)
	}
}

func TestHeadingGenerationFailureDoesNotFailAppend(t *testing.T) {
	headings := &fakeHeadings{err: errors.New("model unavailable")}
	a, _ := newTestApp(t, func(c *Config) { c.Headings = headings })
	provision(t, a, "user-1")
	thread, err := a.CreateThread("user-1", "")
	if err != nil {
		t.Fatalf("create thread: %v", err)
	}
	msg, err := a.AppendMessage(context.Background(), "user-1", thread.ID, domain.RoleAssistant, "answer", nil, nil)
	if err != nil {
		t.Fatalf("append despite heading failure: %v", err)
	}
	if msg.ID == "" {
		t.Fatal("message not persisted")
	}
	got, _ := a.Thread("user-1", thread.ID)
	if got.AutoHeading != "" {
		t.Fatalf("auto heading = %q, want empty", got.AutoHeading)
	}
}

func TestManualHeadingSuppressesAutoHeading(t *testing.T) {
	headings := &fakeHeadings{heading: "generated"}
	a, _ := newTestApp(t, func(c *Config) { c.Headings = headings })
	provision(t, a, "user-1")
	thread, err := a.CreateThread("user-1", "my own title")
	if err != nil {
		t.Fatalf("create thread: %v", err)
	}
	if _, err := a.AppendMessage(context.Background(), "user-1", thread.ID, domain.RoleAssistant, "answer", nil, nil); err != nil {
		t.Fatalf("append: %v", err)
	}
	if headings.calls != 0 {
		t.Fatal("manually titled thread must not auto-generate a heading")
	}
}

func TestUpdateHeadingValidation(t *testing.T) {
	a, _ := newTestApp(t)
	provision(t, a, "user-1")
	thread, err := a.CreateThread("user-1", "")
	if err != nil {
		t.Fatalf("create thread: %v", err)
	}
	if _, err := a.UpdateHeading("user-1", thread.ID, "   "); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("blank heading err = %v", err)
	}
	long := make([]byte, maxHeadingLen+1)
	for i := range long {
		long[i] = 'x'
	}
	if _, err := a.UpdateHeading("user-1", thread.ID, string(long)); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("overlong heading err = %v", err)
	}
	got, err := a.UpdateHeading("user-1", thread.ID, "  Q3 planning  ")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.Heading != "Q3 planning" {
		t.Fatalf("heading = %q", got.Heading)
	}
}

func TestAppendMessageValidatesRoleAndContent(t *testing.T) {
	a, _ := newTestApp(t)
	provision(t, a, "user-1")
	thread, err := a.CreateThread("user-1", "")
	if err != nil {
		t.Fatalf("create thread: %v", err)
	}
	ctx := context.Background()
	if _, err := a.AppendMessage(ctx, "user-1", thread.ID, domain.MessageRole("bot"), "hi", nil, nil); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("bad role err = %v", err)
	}
	if _, err := a.AppendMessage(ctx, "user-1", thread.ID, domain.RoleUser, "  ", nil, nil); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("blank content err = %v", err)
	}
	msg, err := a.AppendMessage(ctx, "user-1", thread.ID, domain.RoleUser, "look at this", []string{"https://objects.local/img.png"}, map[string]any{"source": "upload"})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if len(msg.ImageURLs) != 1 || msg.Metadata["source"] != "upload" {
		t.Fatalf("message = %+v", msg)
	}
}

func TestRetireIdentityIsIdempotent(t *testing.T) {
	a, mem := newTestApp(t)
	provision(t, a, "user-1")
	if err := a.RetireIdentity("user-1"); err != nil {
		t.Fatalf("retire: %v", err)
	}
	if _, ok, _ := mem.GetAccount("user-1"); ok {
		t.Fatal("account survived retirement")
	}
	if err := a.RetireIdentity("user-1"); err != nil {
		t.Fatalf("second retire should be a no-op: %v", err)
	}
}

func TestEstimateResearchCost(t *testing.T) {
	cases := []struct {
		reportType string
		queryLen   int
		want       int
	}{
		{"research_report", 0, 10},
		{"research_report", 500, 20},
		{"comprehensive_analysis", 0, 30},
		{"unknown_type", 0, 10},
	}
	for _, tc := range cases {
		if got := EstimateResearchCost(tc.reportType, tc.queryLen); got != tc.want {
			t.Errorf("EstimateResearchCost(%q, %d) = %d, want %d", tc.reportType, tc.queryLen, got, tc.want)
		}
	}
}

func TestCreditsFromTokenUsage(t *testing.T) {
	cases := []struct {
		name  string
		usage map[string]any
		want  int
	}{
		{"total tokens", map[string]any{"total_tokens": float64(1_000_000)}, 4500},
		{"prompt plus completion", map[string]any{"prompt_tokens": float64(600_000), "completion_tokens": float64(400_000)}, 4500},
		{"tiny usage floors at one", map[string]any{"total_tokens": float64(10)}, 1},
		{"empty payload floors at one", map[string]any{}, 1},
		{"nil payload floors at one", nil, 1},
	}
	for _, tc := range cases {
		if got := CreditsFromTokenUsage(tc.usage); got != tc.want {
			t.Errorf("%s: credits = %d, want %d", tc.name, got, tc.want)
		}
	}
}
