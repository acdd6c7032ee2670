// Package heading derives short chat-thread headings from the first
// assistant reply, calling any OpenAI-compatible /v1/chat/completions
// endpoint (vLLM, LiteLLM, LocalAI, OpenRouter, self-hosted models).
package heading

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const systemPrompt = "Summarize the following chat reply into a short thread heading. " +
	"Return only the heading text, at most 100 characters, no quotes."

// OpenAICompatGenerator produces headings via the OpenAI chat completions
// API. apiKey can be empty for local models that do not require
// authentication.
type OpenAICompatGenerator struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewOpenAICompatGenerator builds a heading generator. baseURL should
// include the /v1 prefix, e.g. "http://localhost:8000/v1".
func NewOpenAICompatGenerator(baseURL, apiKey, model string) *OpenAICompatGenerator {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	return &OpenAICompatGenerator{
		baseURL: baseURL,
		apiKey:  strings.TrimSpace(apiKey),
		model:   strings.TrimSpace(model),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Heading implements app.HeadingGenerator.
func (g *OpenAICompatGenerator) Heading(ctx context.Context, content string) (string, error) {
	if g.model == "" {
		return "", fmt.Errorf("heading generation model required")
	}
	reqBody := oaiChatRequest{
		Model: g.model,
		Messages: []oaiMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: content},
		},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}
	url := g.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("heading request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp oaiErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		if errResp.Error.Message != "" {
			return "", fmt.Errorf("heading api error: %s", errResp.Error.Message)
		}
		return "", fmt.Errorf("heading api error: %s", resp.Status)
	}

	var chatResp oaiChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("heading decode: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("empty response from heading api")
	}
	text := strings.TrimSpace(chatResp.Choices[0].Message.Content)
	text = strings.Trim(text, `"`)
	if text == "" {
		return "", fmt.Errorf("empty response from heading api")
	}
	return text, nil
}

// OpenAI-compatible request/response types.

type oaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type oaiChatRequest struct {
	Model    string       `json:"model"`
	Messages []oaiMessage `json:"messages"`
}

type oaiChatResponse struct {
	Choices []struct {
		Message oaiMessage `json:"message"`
	} `json:"choices"`
}

type oaiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}
