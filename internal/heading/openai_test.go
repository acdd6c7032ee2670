package heading

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHeadingCallsChatCompletions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "test-model" || len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Errorf("unexpected request: %+v", req)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": `"Container orchestration history"`}},
			},
		})
	}))
	defer srv.Close()

	g := NewOpenAICompatGenerator(srv.URL+"/v1", "", "test-model")
	got, err := g.Heading(context.Background(), "Kubernetes began at Google...")
	if err != nil {
		t.Fatalf("heading: %v", err)
	}
	if got != "Container orchestration history" {
		t.Fatalf("heading = %q", got)
	}
}

func TestHeadingSurfacesAPIErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]string{"message": "rate limited"}})
	}))
	defer srv.Close()

	g := NewOpenAICompatGenerator(srv.URL+"/v1", "", "test-model")
	if _, err := g.Heading(context.Background(), "content"); err == nil {
		t.Fatal("expected error from 429 response")
	}
}

func TestHeadingRequiresModel(t *testing.T) {
	g := NewOpenAICompatGenerator("http://localhost:8000/v1", "", "")
	if _, err := g.Heading(context.Background(), "content"); err == nil {
		t.Fatal("expected error for missing model")
	}
}
