package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/kirillkom/construction-pipeline/internal/core/domain"
	"github.com/kirillkom/construction-pipeline/internal/core/ports"
	"github.com/kirillkom/construction-pipeline/internal/infrastructure/resilience"
)

// Client is a reasoning provider backed by the Ollama generate API in JSON mode.
type Client struct {
	baseURL    string
	genModel   string
	httpClient *http.Client
	limiter    *rate.Limiter
	executor   *resilience.Executor
}

type Options struct {
	BaseURL    string
	GenModel   string
	Timeout    time.Duration
	RatePerSec float64
	Burst      int
	Executor   *resilience.Executor
}

func New(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	limit := rate.Inf
	if opts.RatePerSec > 0 {
		limit = rate.Limit(opts.RatePerSec)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		genModel:   opts.GenModel,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, burst),
		executor:   opts.Executor,
	}
}

var _ ports.ReasoningProvider = (*Client)(nil)

// Reason sends the prompt and the JSON encoded context and returns the model's JSON object.
// Failures are *domain.ProviderError values.
func (c *Client) Reason(ctx context.Context, req ports.ReasoningRequest) (json.RawMessage, error) {
	op := "reason"
	if req.Operation != "" {
		op = "reason." + req.Operation
	}
	prompt, err := buildReasoningPrompt(req)
	if err != nil {
		return nil, domain.NewProviderError(domain.ProviderInvalidResponse, op, err)
	}

	call := func(ctx context.Context) (json.RawMessage, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, domain.NewProviderError(domain.ProviderRateLimited, op, err)
		}
		text, err := c.generateJSON(ctx, prompt)
		if err != nil {
			return nil, toProviderError(op, err)
		}
		raw := extractJSONObject(text)
		if !json.Valid([]byte(raw)) {
			return nil, domain.NewProviderError(domain.ProviderInvalidResponse, op, fmt.Errorf("model returned non-JSON output"))
		}
		return json.RawMessage(raw), nil
	}

	if c.executor == nil {
		return call(ctx)
	}
	out, err := resilience.Call(ctx, c.executor, "ollama."+op, call, resilience.ClassifyProviderError)
	if err != nil && resilience.IsCircuitOpen(err) {
		return nil, domain.NewProviderError(domain.ProviderUnavailable, op, err)
	}
	return out, err
}

func (c *Client) generateJSON(ctx context.Context, prompt string) (string, error) {
	reqBody := map[string]any{
		"model":  c.genModel,
		"prompt": prompt,
		"stream": false,
		"format": "json",
		"options": map[string]any{
			"temperature": 0,
		},
	}
	var response struct {
		Response string `json:"response"`
	}
	if err := c.postJSON(ctx, "/api/generate", reqBody, &response, "generate"); err != nil {
		return "", err
	}
	return strings.TrimSpace(response.Response), nil
}

func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}
