package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"arivara/pkg/domain"
)

func TestDispatchJobWritesStreamEntry(t *testing.T) {
	redis := miniredis.RunT(t)
	d, err := NewDispatcher(DispatcherConfig{Addr: redis.Addr(), Stream: "research.requests"})
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	defer d.Close()

	job := domain.ResearchJob{
		ID:         "job-1",
		AccountID:  "user-1",
		Query:      "a real query",
		ReportType: "research_report",
		Status:     domain.StatusPending,
		CreatedAt:  time.Now().UTC(),
	}
	if err := d.DispatchJob(context.Background(), job); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	entries, err := redis.Stream("research.requests")
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("stream entries = %d, want 1", len(entries))
	}
	values := entries[0].Values
	got := map[string]string{}
	for i := 0; i+1 < len(values); i += 2 {
		got[values[i]] = values[i+1]
	}
	if got["job_id"] != "job-1" || got["account_id"] != "user-1" || got["report_type"] != "research_report" {
		t.Fatalf("stream values = %v", got)
	}
}

func TestNewDispatcherValidatesConfig(t *testing.T) {
	if _, err := NewDispatcher(DispatcherConfig{Stream: "s"}); err == nil {
		t.Fatal("expected error without redis addr")
	}
	if _, err := NewDispatcher(DispatcherConfig{Addr: "localhost:6379"}); err == nil {
		t.Fatal("expected error without stream name")
	}
}
