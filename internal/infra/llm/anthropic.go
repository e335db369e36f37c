// Package llm provides the Anthropic messages API client used to turn a
// synthesized data context into a natural-language answer.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wondrlabs/finsight-brain-go/internal/domain"
	"github.com/wondrlabs/finsight-brain-go/internal/infra/resilience"
)

var tracer = otel.Tracer("llm")

const systemPrompt = `You are an AI assistant that delivers concise, friendly, and data-driven insights in clean natural language.

Tone: clear, human, approachable, non-technical.
Sentence length: short and easy to scan.

Structure:
1. Start with the most important number or fact.
2. Compare it with a relevant baseline when one is available.
3. Give one short contextual insight or takeaway.

Rules:
- Always format currency amounts with their currency tag; Indonesian Rupiah uses the "Rp" prefix with comma thousand separators (e.g., Rp 2,036,100).
- Never sum amounts across different currencies; report them separately.
- Use everyday language ("more than", "less than", "up from", "makes up X%").
- Never explain how you calculated — just give the result confidently.
- Keep responses to 2-3 sentences maximum.`

// Client calls the Anthropic messages endpoint with retry, circuit
// breaker, and tracing.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	maxTokens  int
	cb         *gobreaker.CircuitBreaker
	cfg        resilience.Config
}

// NewClient creates an LLM client.
func NewClient(httpClient *http.Client, baseURL, apiKey, model string, maxTokens int, cb *gobreaker.CircuitBreaker, cfg resilience.Config) *Client {
	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
		maxTokens:  maxTokens,
		cb:         cb,
		cfg:        cfg,
	}
}

type messagesRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
	System      string    `json:"system"`
	Messages    []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Generate produces the final answer from the merged data context.
// Provider errors surface as ErrExternalService so the caller can degrade
// to the synthesized digest.
func (c *Client) Generate(ctx context.Context, query string, sc *domain.SynthesizedContext) (*domain.GenerationResult, error) {
	ctx, span := tracer.Start(ctx, "LLM.Generate")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", c.model))

	userPrompt := fmt.Sprintf("Question: %s\n\nData:\n%s", query, sc.MergedText)

	body, err := json.Marshal(messagesRequest{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		Temperature: 0.3,
		System:      systemPrompt,
		Messages:    []message{{Role: "user", Content: userPrompt}},
	})
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "llm", Err: err}
	}

	start := time.Now()
	var parsed messagesResponse

	_, err = c.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
			if err != nil {
				return err
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("x-api-key", c.apiKey)
			req.Header.Set("anthropic-version", "2023-06-01")

			resp, err := c.httpClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("llm API returned status %d", resp.StatusCode)
			}

			return json.NewDecoder(resp.Body).Decode(&parsed)
		})
	})
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "llm", Err: err}
	}

	if len(parsed.Content) == 0 {
		return nil, &domain.ErrExternalService{Service: "llm", Err: fmt.Errorf("empty completion")}
	}

	return &domain.GenerationResult{
		Answer: parsed.Content[0].Text,
		Model:  c.model,
		TokensUsed: domain.TokenUsage{
			PromptTokens:     parsed.Usage.InputTokens,
			CompletionTokens: parsed.Usage.OutputTokens,
			TotalTokens:      parsed.Usage.InputTokens + parsed.Usage.OutputTokens,
		},
		LatencyMS: time.Since(start).Milliseconds(),
	}, nil
}
