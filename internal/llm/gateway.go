package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/atlassonic/atlas/internal/config"
	"github.com/atlassonic/atlas/internal/logging"
)

// ErrUnavailable wraps breaker rejections: the gateway failed too often recently.
var ErrUnavailable = errors.New("ai gateway unavailable")

// GatewayClient calls an OpenAI-compatible chat completions endpoint.
type GatewayClient struct {
	endpoint    string
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
	maxRetries  uint64

	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	log     *logging.Logger

	// initialInterval is the first retry delay; tests shorten it.
	initialInterval time.Duration
}

// NewGatewayClient builds a client from the ai config section.
func NewGatewayClient(cfg config.AIConfig, log *logging.Logger) *GatewayClient {
	log = log.Sub("llm")
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	g := &GatewayClient{
		endpoint:        strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:          cfg.APIKey,
		model:           cfg.Model,
		maxTokens:       cfg.MaxTokens,
		temperature:     cfg.Temperature,
		maxRetries:      uint64(max(cfg.MaxRetries, 0)),
		client:          &http.Client{Timeout: timeout},
		log:             log,
		initialInterval: 500 * time.Millisecond,
	}
	g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "ai-gateway",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.Requests >= 3 && float64(c.TotalFailures)/float64(c.Requests) >= 0.6
		},
		IsSuccessful: func(err error) bool {
			var pe *ProviderError
			if errors.As(err, &pe) {
				return !pe.Retryable()
			}
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})
	return g
}

// Name returns the provider name.
func (g *GatewayClient) Name() string { return "ai-gateway" }

// Complete sends a completion request, retrying transient failures.
func (g *GatewayClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()
	payload, err := json.Marshal(g.buildBody(req, false))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var out *CompletionResponse
	attempt := func() error {
		res, err := g.breaker.Execute(func() (interface{}, error) {
			return g.complete(ctx, payload)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(fmt.Errorf("%w: %v", ErrUnavailable, err))
			}
			var pe *ProviderError
			if errors.As(err, &pe) && !pe.Retryable() {
				return backoff.Permanent(err)
			}
			return err
		}
		out = res.(*CompletionResponse)
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = g.initialInterval
	b.MaxElapsedTime = 0
	notify := func(err error, wait time.Duration) {
		g.log.Warn().Err(err).Dur("retry_in", wait).Msg("ai gateway request failed, retrying")
	}
	if err := backoff.RetryNotify(attempt, backoff.WithContext(backoff.WithMaxRetries(b, g.maxRetries), ctx), notify); err != nil {
		return nil, err
	}
	out.Duration = time.Since(start)
	return out, nil
}

func (g *GatewayClient) complete(ctx context.Context, payload []byte) (*CompletionResponse, error) {
	resp, err := g.post(ctx, payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ProviderError{Provider: g.Name(), Message: "reading response: " + err.Error()}
	}

	var result chatResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, &ProviderError{Provider: g.Name(), Code: resp.StatusCode, Message: "malformed response: " + err.Error()}
	}
	if len(result.Choices) == 0 {
		return nil, &ProviderError{Provider: g.Name(), Code: resp.StatusCode, Message: "response has no choices"}
	}
	choice := result.Choices[0]
	return &CompletionResponse{
		Content:    choice.Message.Content,
		StopReason: choice.FinishReason,
		Model:      result.Model,
		Usage: Usage{
			InputTokens:  result.Usage.PromptTokens,
			OutputTokens: result.Usage.CompletionTokens,
		},
	}, nil
}

// Stream sends a streaming completion request. The request itself is not
// retried; failures before the first byte come back as the error.
func (g *GatewayClient) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error) {
	payload, err := json.Marshal(g.buildBody(req, true))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	res, err := g.breaker.Execute(func() (interface{}, error) {
		return g.post(ctx, payload)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil, err
	}
	resp := res.(*http.Response)

	events := make(chan StreamEvent)
	go g.readStream(ctx, resp.Body, events)
	return events, nil
}

func (g *GatewayClient) readStream(ctx context.Context, body io.ReadCloser, events chan<- StreamEvent) {
	defer close(events)
	defer body.Close()

	send := func(ev StreamEvent) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	var (
		full  strings.Builder
		model string
		stop  string
	)
	sc := newSSEScanner(body)
	for sc.Next() {
		var chunk chatStreamChunk
		if err := json.Unmarshal([]byte(sc.Data()), &chunk); err != nil {
			g.log.Debug().Err(err).Msg("skipping malformed stream chunk")
			continue
		}
		if chunk.Model != "" {
			model = chunk.Model
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if r := chunk.Choices[0].FinishReason; r != "" {
			stop = r
		}
		if text := chunk.Choices[0].Delta.Content; text != "" {
			full.WriteString(text)
			if !send(StreamEvent{Type: EventDelta, Content: text}) {
				return
			}
		}
	}
	if err := sc.Err(); err != nil {
		send(StreamEvent{Type: EventError, Error: err.Error()})
		return
	}
	send(StreamEvent{Type: EventDone, Response: &CompletionResponse{Content: full.String(), Model: model, StopReason: stop}})
}

// post sends the request and turns non-2xx answers into ProviderErrors.
// On success the caller owns the response body.
func (g *GatewayClient) post(ctx context.Context, payload []byte) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &ProviderError{Provider: g.Name(), Message: err.Error()}
	}
	if resp.StatusCode/100 != 2 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &ProviderError{Provider: g.Name(), Code: resp.StatusCode, Message: errorMessage(resp.StatusCode, body)}
	}
	return resp, nil
}

func errorMessage(code int, body []byte) string {
	switch code {
	case http.StatusTooManyRequests:
		return "rate limit exceeded, try again later"
	case http.StatusPaymentRequired:
		return "AI credits exhausted"
	}
	var e struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error.Message != "" {
		return e.Error.Message
	}
	if s := strings.TrimSpace(string(body)); s != "" {
		return s
	}
	return http.StatusText(code)
}

func (g *GatewayClient) buildBody(req CompletionRequest, stream bool) chatRequest {
	body := chatRequest{
		Model:     req.Model,
		MaxTokens: req.MaxTokens,
		Stream:    stream,
	}
	if body.Model == "" {
		body.Model = g.model
	}
	if body.MaxTokens == 0 {
		body.MaxTokens = g.maxTokens
	}
	t := g.temperature
	if req.Temperature != nil {
		t = *req.Temperature
	}
	body.Temperature = &t
	if req.JSON {
		body.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	if req.System != "" {
		body.Messages = append(body.Messages, Message{Role: RoleSystem, Content: req.System})
	}
	body.Messages = append(body.Messages, req.Messages...)
	return body
}

// Wire types

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    *float64        `json:"temperature,omitempty"`
	Stream         bool            `json:"stream,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

type chatStreamChunk struct {
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}
