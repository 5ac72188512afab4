package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/kalambet/edgecoach/internal/ai"
)

const (
	anthropicBaseURL   = "https://api.anthropic.com/v1"
	anthropicVersion   = "2023-06-01"
	anthropicMaxTokens = 4096

	// DefaultAnthropicModel is used when no model is configured and as the
	// fallback model when OpenAI fails.
	DefaultAnthropicModel = "claude-3-5-sonnet-20241022"
)

// Anthropic is the adapter for the Messages API. The system prompt travels
// in its own request field.
type Anthropic struct {
	client
}

// NewAnthropic creates an adapter with the given API key.
func NewAnthropic(apiKey string) *Anthropic {
	return NewAnthropicWithBaseURL(apiKey, anthropicBaseURL)
}

// NewAnthropicWithBaseURL creates an adapter pointing at a custom base URL
// (for testing or a gateway).
func NewAnthropicWithBaseURL(apiKey, baseURL string) *Anthropic {
	if baseURL == "" {
		baseURL = anthropicBaseURL
	}
	return &Anthropic{client: newClient(ai.ProviderAnthropic, apiKey, baseURL, func(req *http.Request, key string) {
		req.Header.Set("x-api-key", key)
		req.Header.Set("anthropic-version", anthropicVersion)
	})}
}

// Name returns ai.ProviderAnthropic.
func (a *Anthropic) Name() ai.Provider { return ai.ProviderAnthropic }

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float64           `json:"temperature,omitempty"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Stream      bool               `json:"stream,omitempty"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      anthropicUsage `json:"usage"`
}

type anthropicEvent struct {
	Type    string `json:"type"`
	Message struct {
		Model string         `json:"model"`
		Usage anthropicUsage `json:"usage"`
	} `json:"message"`
	Delta struct {
		Type       string `json:"type"`
		Text       string `json:"text"`
		StopReason string `json:"stop_reason"`
	} `json:"delta"`
	Usage anthropicUsage `json:"usage"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (a *Anthropic) buildRequest(msgs []ai.Message, cfg ai.ServiceConfig, stream bool) anthropicRequest {
	system, rest := ai.SplitSystem(msgs)
	out := make([]anthropicMessage, len(rest))
	for i, m := range rest {
		out[i] = anthropicMessage{Role: string(m.Role), Content: m.Content}
	}

	model := cfg.Model
	if model == "" {
		model = DefaultAnthropicModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicMaxTokens
	}

	return anthropicRequest{
		Model:       model,
		MaxTokens:   maxTokens,
		Temperature: cfg.Temperature,
		System:      system,
		Messages:    out,
		Stream:      stream,
	}
}

// Generate performs a non-streaming completion.
func (a *Anthropic) Generate(ctx context.Context, msgs []ai.Message, cfg ai.ServiceConfig) (ai.Response, error) {
	req := a.buildRequest(msgs, cfg, false)

	rc, err := a.post(ctx, "/messages", req, false)
	if err != nil {
		return ai.Response{}, err
	}
	defer rc.Close()

	var resp anthropicResponse
	if err := json.NewDecoder(rc).Decode(&resp); err != nil {
		return ai.Response{}, ai.NewError(ai.CodeModel, a.provider, err, "decoding response")
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return ai.Response{}, ai.NewError(ai.CodeModel, a.provider, nil, "response has no text content")
	}

	model := resp.Model
	if model == "" {
		model = req.Model
	}

	return ai.Response{
		Content:  sb.String(),
		Provider: ai.ProviderAnthropic,
		Model:    model,
		Usage: ai.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
		FinishReason: resp.StopReason,
	}, nil
}

// GenerateStreaming starts a streaming completion. Connection and HTTP status
// failures are returned directly; failures after the stream has started are
// delivered as a final chunk with Err set. The channel is closed when the
// stream ends or ctx is cancelled.
func (a *Anthropic) GenerateStreaming(ctx context.Context, msgs []ai.Message, cfg ai.ServiceConfig) (<-chan ai.StreamChunk, error) {
	rc, err := a.post(ctx, "/messages", a.buildRequest(msgs, cfg, true), true)
	if err != nil {
		return nil, err
	}

	ch := make(chan ai.StreamChunk)
	go func() {
		defer close(ch)
		defer rc.Close()
		a.consume(streamer{ctx: ctx, ch: ch}, rc)
	}()
	return ch, nil
}

func (a *Anthropic) consume(s streamer, body io.Reader) {
	var usage ai.Usage
	finished := false
	stopped := false

	err := readEvents(body, func(data string) bool {
		var ev anthropicEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			s.fail(a.provider, ai.CodeModel, err, "decoding stream event")
			stopped = true
			return false
		}

		switch ev.Type {
		case "message_start":
			usage.PromptTokens = ev.Message.Usage.InputTokens
		case "content_block_delta":
			if ev.Delta.Type == "text_delta" && ev.Delta.Text != "" {
				if !s.send(ai.StreamChunk{Content: ev.Delta.Text}) {
					stopped = true
					return false
				}
			}
		case "message_delta":
			usage.CompletionTokens = ev.Usage.OutputTokens
		case "message_stop":
			usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
			s.send(ai.StreamChunk{Done: true, Usage: &usage})
			finished = true
			return false
		case "error":
			code := ai.CodeService
			if ev.Error.Type == "overloaded_error" {
				code = ai.CodeNetwork
			} else if ev.Error.Type == "rate_limit_error" {
				code = ai.CodeRateLimit
			}
			s.fail(a.provider, code, nil, "stream error: %s", ev.Error.Message)
			stopped = true
			return false
		}
		return true
	})

	if finished || stopped {
		return
	}
	if err != nil {
		s.fail(a.provider, ai.CodeNetwork, err, "reading stream")
		return
	}
	s.fail(a.provider, ai.CodeModel, nil, "stream ended without message_stop")
}
