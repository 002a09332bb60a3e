package research

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const summaryPrompt = `Summarize the following paper for the research question %q.
Only state facts present in the title and abstract; do not speculate.

Title: %s
Abstract: %s`

const hypothesisPrompt = `Based on the following validated paper summaries, generate %d research hypotheses
for the question %q. Each hypothesis must be grounded in the summaries.

Summaries:
%s

Return ONLY a JSON array of objects with "text" and "confidence" (0-1) keys.`

// LLMDrafter drafts summaries and hypotheses through an OpenAI-compatible
// chat-completions endpoint. It is an implementation of the external
// drafting collaborator, not part of the engine core.
type LLMDrafter struct {
	APIKey  string
	Model   string
	BaseURL string
	HTTP    *http.Client
}

func NewLLMDrafter(apiKey, model, baseURL string) *LLMDrafter {
	if model == "" {
		model = "openrouter/auto"
	}
	if baseURL == "" {
		baseURL = "https://openrouter.ai/api/v1/chat/completions"
	}
	return &LLMDrafter{
		APIKey:  apiKey,
		Model:   model,
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: 120 * time.Second},
	}
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (d *LLMDrafter) complete(ctx context.Context, prompt string) (string, error) {
	if d.APIKey == "" {
		return "", errors.New("drafter api key is required")
	}
	payload, err := json.Marshal(chatRequest{
		Model:    d.Model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.BaseURL, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+d.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.HTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("drafter request failed: %w", err)
	}
	defer resp.Body.Close()

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("invalid drafter response: %w", err)
	}
	if out.Error != nil {
		return "", fmt.Errorf("drafter api error: %s", out.Error.Message)
	}
	if resp.StatusCode >= 300 || len(out.Choices) == 0 {
		return "", fmt.Errorf("drafter api error: status %d", resp.StatusCode)
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}

func (d *LLMDrafter) DraftSummary(ctx context.Context, paper Paper, query string) (string, error) {
	return d.complete(ctx, fmt.Sprintf(summaryPrompt, query, paper.Title, paper.Abstract))
}

func (d *LLMDrafter) DraftHypotheses(ctx context.Context, query string, summaries []Summary, n int) ([]HypothesisDraft, error) {
	texts := make([]string, 0, len(summaries))
	for i, s := range summaries {
		texts = append(texts, fmt.Sprintf("Paper %d (groundedness %.2f): %s", i+1, s.Groundedness, s.Text))
	}
	raw, err := d.complete(ctx, fmt.Sprintf(hypothesisPrompt, n, query, strings.Join(texts, "\n---\n")))
	if err != nil {
		return nil, err
	}

	// Models wrap JSON in code fences often enough to be worth stripping.
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	var drafts []struct {
		Text       string  `json:"text"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &drafts); err != nil {
		return nil, fmt.Errorf("unparseable hypothesis draft: %w", err)
	}

	out := make([]HypothesisDraft, 0, len(drafts))
	for _, h := range drafts {
		if strings.TrimSpace(h.Text) == "" {
			continue
		}
		conf := h.Confidence
		if conf < 0 {
			conf = 0
		}
		if conf > 1 {
			conf = 1
		}
		out = append(out, HypothesisDraft{Text: strings.TrimSpace(h.Text), Confidence: conf})
	}
	return out, nil
}
