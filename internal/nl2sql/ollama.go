package nl2sql

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
)

type OllamaConfig struct {
	BaseURL        string
	Model          string
	Temperature    float64
	ConnectTimeout time.Duration
	Timeout        time.Duration
}

type chatClient interface {
	Chat(ctx context.Context, req *api.ChatRequest, fn api.ChatResponseFunc) error
	Heartbeat(ctx context.Context) error
}

// OllamaBackend talks to a local ollama daemon through its chat endpoint.
type OllamaBackend struct {
	id             ModelID
	client         chatClient
	model          string
	temperature    float64
	connectTimeout time.Duration
	timeout        time.Duration
	prompt         PromptTemplate
}

func NewOllamaBackend(id ModelID, cfg OllamaConfig, prompt PromptTemplate) (*OllamaBackend, error) {
	baseURL := strings.TrimRight(strings.TrimSuffix(strings.TrimSpace(cfg.BaseURL), "/v1"), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("ollama base URL is required")
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse ollama base URL %q: %w", baseURL, err)
	}
	connectTimeout := cfg.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: connectTimeout}).DialContext,
		TLSHandshakeTimeout:   connectTimeout,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: 0,
	}
	client := api.NewClient(parsed, &http.Client{Transport: transport})
	return newOllamaBackendWithClient(id, cfg, connectTimeout, prompt, client)
}

func newOllamaBackendWithClient(id ModelID, cfg OllamaConfig, connectTimeout time.Duration, prompt PromptTemplate, client chatClient) (*OllamaBackend, error) {
	if id == "" {
		return nil, fmt.Errorf("model id is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, fmt.Errorf("ollama model name is required for %s", id)
	}
	if prompt == nil {
		prompt = CompactPrompt
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OllamaBackend{
		id:             id,
		client:         client,
		model:          model,
		temperature:    cfg.Temperature,
		connectTimeout: connectTimeout,
		timeout:        timeout,
		prompt:         prompt,
	}, nil
}

// NewGPTBackend serves the "gpt" model id with the expert prompt.
func NewGPTBackend(cfg OllamaConfig) (*OllamaBackend, error) {
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = "gpt-oss"
	}
	return NewOllamaBackend(ModelGPT, cfg, ExpertPrompt)
}

// NewTinyLlamaBackend serves the "tinyllama" model id with the compact prompt.
func NewTinyLlamaBackend(cfg OllamaConfig) (*OllamaBackend, error) {
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = "tinyllama"
	}
	return NewOllamaBackend(ModelTinyLlama, cfg, CompactPrompt)
}

func (b *OllamaBackend) ID() ModelID {
	return b.id
}

func (b *OllamaBackend) Generate(ctx context.Context, req Request) (Candidate, error) {
	if strings.TrimSpace(req.Text) == "" {
		return Candidate{}, fmt.Errorf("%w: %s: empty request text", ErrGenerationFailed, b.id)
	}
	callCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	stream := false
	chatReq := &api.ChatRequest{
		Model: b.model,
		Messages: []api.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: b.prompt(req)},
		},
		Stream: &stream,
		Options: map[string]interface{}{
			"temperature": b.temperature,
		},
	}

	start := time.Now()
	var resp api.ChatResponse
	err := b.client.Chat(callCtx, chatReq, func(r api.ChatResponse) error {
		resp = r
		return nil
	})
	latency := time.Since(start)
	if err != nil {
		return Candidate{}, classifyError(callCtx, b.id, err)
	}

	raw := resp.Message.Content
	if strings.TrimSpace(raw) == "" {
		return Candidate{}, fmt.Errorf("%w: %s returned an empty reply", ErrGenerationFailed, b.id)
	}
	return Candidate{
		ModelID:           b.id,
		Provider:          "ollama",
		Model:             b.model,
		RawText:           raw,
		SQL:               ExtractSQL(raw),
		GenerationLatency: latency,
		PromptTokens:      resp.PromptEvalCount,
		CompletionTokens:  resp.EvalCount,
	}, nil
}

func (b *OllamaBackend) HealthCheck(ctx context.Context) error {
	callCtx, cancel := context.WithTimeout(ctx, b.connectTimeout)
	defer cancel()
	if err := b.client.Heartbeat(callCtx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s: heartbeat timed out", ErrBackendUnavailable, b.id)
		}
		return classifyError(callCtx, b.id, err)
	}
	return nil
}

// classifyError maps transport failures onto the package sentinels. Dial
// failures are unavailability even when the per-call deadline was hit
// during the dial.
func classifyError(ctx context.Context, id ModelID, err error) error {
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return fmt.Errorf("%w: %s: %v", ErrBackendUnavailable, id, err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %v", ErrGenerationTimeout, id, err)
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %s: %v", ErrGenerationFailed, id, err)
	}
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		if statusErr.StatusCode >= http.StatusInternalServerError || statusErr.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: %s: %v", ErrBackendUnavailable, id, err)
		}
		return fmt.Errorf("%w: %s: %v", ErrGenerationFailed, id, err)
	}
	var urlErr *url.Error
	var netErr net.Error
	if errors.As(err, &urlErr) || errors.As(err, &netErr) {
		return fmt.Errorf("%w: %s: %v", ErrBackendUnavailable, id, err)
	}
	if strings.Contains(strings.ToLower(err.Error()), "not found") {
		return fmt.Errorf("%w: %s: %v", ErrBackendUnavailable, id, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrGenerationFailed, id, err)
}
