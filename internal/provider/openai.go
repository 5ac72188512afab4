package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/kalambet/edgecoach/internal/ai"
)

const (
	openAIBaseURL = "https://api.openai.com/v1"

	// DefaultOpenAIModel is used when no model is configured and as the
	// fallback model when Anthropic fails.
	DefaultOpenAIModel = "gpt-4o"
)

// OpenAI is the adapter for the Chat Completions API. System prompts are
// sent inline as ordinary messages.
type OpenAI struct {
	client
}

// NewOpenAI creates an adapter with the given API key.
func NewOpenAI(apiKey string) *OpenAI {
	return NewOpenAIWithBaseURL(apiKey, openAIBaseURL)
}

// NewOpenAIWithBaseURL creates an adapter pointing at a custom base URL (for
// testing or an OpenAI-compatible gateway).
func NewOpenAIWithBaseURL(apiKey, baseURL string) *OpenAI {
	if baseURL == "" {
		baseURL = openAIBaseURL
	}
	return &OpenAI{client: newClient(ai.ProviderOpenAI, apiKey, baseURL, func(req *http.Request, key string) {
		req.Header.Set("Authorization", "Bearer "+key)
	})}
}

// Name returns ai.ProviderOpenAI.
func (o *OpenAI) Name() ai.Provider { return ai.ProviderOpenAI }

type openAIRequest struct {
	Model         string         `json:"model"`
	Messages      []ai.Message   `json:"messages"`
	MaxTokens     int            `json:"max_tokens,omitempty"`
	Temperature   *float64       `json:"temperature,omitempty"`
	Stream        bool           `json:"stream,omitempty"`
	StreamOptions *streamOptions `json:"stream_options,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (u *openAIUsage) normalize() *ai.Usage {
	if u == nil {
		return nil
	}
	return &ai.Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
}

type openAIResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage openAIUsage `json:"usage"`
}

type openAIChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *openAIUsage `json:"usage"`
}

func (o *OpenAI) buildRequest(msgs []ai.Message, cfg ai.ServiceConfig, stream bool) openAIRequest {
	model := cfg.Model
	if model == "" {
		model = DefaultOpenAIModel
	}
	req := openAIRequest{
		Model:       model,
		Messages:    msgs,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
		Stream:      stream,
	}
	if stream {
		req.StreamOptions = &streamOptions{IncludeUsage: true}
	}
	return req
}

// Generate performs a non-streaming completion.
func (o *OpenAI) Generate(ctx context.Context, msgs []ai.Message, cfg ai.ServiceConfig) (ai.Response, error) {
	req := o.buildRequest(msgs, cfg, false)

	rc, err := o.post(ctx, "/chat/completions", req, false)
	if err != nil {
		return ai.Response{}, err
	}
	defer rc.Close()

	var resp openAIResponse
	if err := json.NewDecoder(rc).Decode(&resp); err != nil {
		return ai.Response{}, ai.NewError(ai.CodeModel, o.provider, err, "decoding response")
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return ai.Response{}, ai.NewError(ai.CodeModel, o.provider, nil, "response has no message content")
	}

	model := resp.Model
	if model == "" {
		model = req.Model
	}

	return ai.Response{
		Content:      resp.Choices[0].Message.Content,
		Provider:     ai.ProviderOpenAI,
		Model:        model,
		Usage:        *resp.Usage.normalize(),
		FinishReason: resp.Choices[0].FinishReason,
	}, nil
}

// GenerateStreaming starts a streaming completion. See Anthropic.GenerateStreaming
// for the delivery contract.
func (o *OpenAI) GenerateStreaming(ctx context.Context, msgs []ai.Message, cfg ai.ServiceConfig) (<-chan ai.StreamChunk, error) {
	rc, err := o.post(ctx, "/chat/completions", o.buildRequest(msgs, cfg, true), true)
	if err != nil {
		return nil, err
	}

	ch := make(chan ai.StreamChunk)
	go func() {
		defer close(ch)
		defer rc.Close()
		o.consume(streamer{ctx: ctx, ch: ch}, rc)
	}()
	return ch, nil
}

// consume forwards deltas until [DONE]. Usage arrives in a trailing chunk
// after finish_reason, so the terminal chunk is sent on [DONE], or at end of
// body when finish_reason was seen.
func (o *OpenAI) consume(s streamer, body io.Reader) {
	var usage *ai.Usage
	finishSeen := false
	finished := false
	stopped := false

	err := readEvents(body, func(data string) bool {
		if data == "[DONE]" {
			finished = true
			return false
		}

		var chunk openAIChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			s.fail(o.provider, ai.CodeModel, err, "decoding stream chunk")
			stopped = true
			return false
		}
		if chunk.Usage != nil {
			usage = chunk.Usage.normalize()
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				if !s.send(ai.StreamChunk{Content: choice.Delta.Content}) {
					stopped = true
					return false
				}
			}
			if choice.FinishReason != nil && *choice.FinishReason != "" {
				finishSeen = true
			}
		}
		return true
	})

	if stopped {
		return
	}
	if finished || (err == nil && finishSeen) {
		s.send(ai.StreamChunk{Done: true, Usage: usage})
		return
	}
	if err != nil {
		s.fail(o.provider, ai.CodeNetwork, err, "reading stream")
		return
	}
	s.fail(o.provider, ai.CodeModel, nil, "stream ended without finish_reason")
}
