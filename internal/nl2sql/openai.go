package nl2sql

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

type OpenAIConfig struct {
	BaseURL        string
	APIKey         string
	Model          string
	Temperature    float64
	ConnectTimeout time.Duration
	Timeout        time.Duration
}

// OpenAIBackend targets any server exposing an OpenAI-compatible
// /v1/chat/completions endpoint.
type OpenAIBackend struct {
	baseURL        string
	apiKey         string
	model          string
	temperature    float64
	connectTimeout time.Duration
	timeout        time.Duration
	client         *http.Client
}

func NewOpenAIBackend(cfg OpenAIConfig) (*OpenAIBackend, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gpt-4o-mini"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	connectTimeout := cfg.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	return &OpenAIBackend{
		baseURL:        strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:         strings.TrimSpace(cfg.APIKey),
		model:          model,
		temperature:    cfg.Temperature,
		connectTimeout: connectTimeout,
		timeout:        timeout,
		client: &http.Client{Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			DialContext:         (&net.Dialer{Timeout: connectTimeout}).DialContext,
			TLSHandshakeTimeout: connectTimeout,
		}},
	}, nil
}

func (b *OpenAIBackend) ID() ModelID {
	return ModelOpenAI
}

func (b *OpenAIBackend) Generate(ctx context.Context, req Request) (Candidate, error) {
	if strings.TrimSpace(req.Text) == "" {
		return Candidate{}, fmt.Errorf("%w: %s: empty request text", ErrGenerationFailed, ModelOpenAI)
	}
	callCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	body, err := json.Marshal(buildOpenAIPayload(b.model, b.temperature, req))
	if err != nil {
		return Candidate{}, fmt.Errorf("marshal chat payload: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, b.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Candidate{}, fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	start := time.Now()
	resp, err := b.client.Do(httpReq)
	if err != nil {
		return Candidate{}, classifyError(callCtx, ModelOpenAI, err)
	}
	defer func() { _ = resp.Body.Close() }()

	rawRespBody, err := io.ReadAll(resp.Body)
	latency := time.Since(start)
	if err != nil {
		return Candidate{}, classifyError(callCtx, ModelOpenAI, fmt.Errorf("read chat response body: %w", err))
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return Candidate{}, fmt.Errorf("%w: %s: status=%d body=%s", ErrBackendUnavailable, ModelOpenAI, resp.StatusCode, string(rawRespBody))
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return Candidate{}, fmt.Errorf("%w: %s: status=%d body=%s", ErrGenerationFailed, ModelOpenAI, resp.StatusCode, string(rawRespBody))
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(rawRespBody, &parsed); err != nil {
		return Candidate{}, fmt.Errorf("%w: %s: decode chat completion response: %v", ErrGenerationFailed, ModelOpenAI, err)
	}
	if len(parsed.Choices) == 0 || strings.TrimSpace(parsed.Choices[0].Message.Content) == "" {
		return Candidate{}, fmt.Errorf("%w: %s returned an empty reply", ErrGenerationFailed, ModelOpenAI)
	}

	raw := parsed.Choices[0].Message.Content
	return Candidate{
		ModelID:           ModelOpenAI,
		Provider:          "openai-compatible",
		Model:             b.model,
		RawText:           raw,
		SQL:               ExtractSQL(raw),
		GenerationLatency: latency,
		PromptTokens:      parsed.Usage.PromptTokens,
		CompletionTokens:  parsed.Usage.CompletionTokens,
	}, nil
}

func (b *OpenAIBackend) HealthCheck(ctx context.Context) error {
	callCtx, cancel := context.WithTimeout(ctx, b.connectTimeout)
	defer cancel()
	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodGet, b.baseURL+"/v1/models", nil)
	if err != nil {
		return fmt.Errorf("build models request: %w", err)
	}
	if b.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+b.apiKey)
	}
	resp, err := b.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrBackendUnavailable, ModelOpenAI, err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("%w: %s: status=%d", ErrBackendUnavailable, ModelOpenAI, resp.StatusCode)
	}
	return nil
}

func buildOpenAIPayload(model string, temperature float64, req Request) map[string]any {
	return map[string]any{
		"model": model,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt + " Return ONLY SQL. No markdown, no explanation."},
			{"role": "user", "content": ExpertPrompt(req)},
		},
		"temperature": temperature,
	}
}
