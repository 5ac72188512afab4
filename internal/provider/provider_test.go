package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kalambet/edgecoach/internal/ai"
)

var testMessages = []ai.Message{
	{Role: ai.RoleSystem, Content: "You are a coach."},
	{Role: ai.RoleUser, Content: "Hello"},
}

// upstream records the last request and replies with a fixed status and body.
type upstream struct {
	server  *httptest.Server
	calls   int
	path    string
	headers http.Header
	body    map[string]any
}

func newUpstream(t *testing.T, status int, contentType, body string) *upstream {
	t.Helper()
	u := &upstream{}
	u.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.calls++
		u.path = r.URL.Path
		u.headers = r.Header.Clone()
		raw, _ := io.ReadAll(r.Body)
		u.body = nil
		json.Unmarshal(raw, &u.body)

		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
	t.Cleanup(u.server.Close)
	return u
}

func collect(t *testing.T, ch <-chan ai.StreamChunk) []ai.StreamChunk {
	t.Helper()
	var out []ai.StreamChunk
	timeout := time.After(5 * time.Second)
	for {
		select {
		case c, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, c)
		case <-timeout:
			t.Fatal("timed out waiting for stream")
		}
	}
}

func assertCode(t *testing.T, err error, code ai.Code, provider ai.Provider) {
	t.Helper()
	e, ok := ai.AsError(err)
	if !ok {
		t.Fatalf("expected *ai.Error, got %T: %v", err, err)
	}
	if e.Code != code {
		t.Errorf("Code = %s, want %s", e.Code, code)
	}
	if e.Provider != provider {
		t.Errorf("Provider = %q, want %q", e.Provider, provider)
	}
}

// --- Anthropic ---

func TestAnthropic_Generate(t *testing.T) {
	u := newUpstream(t, 200, "application/json", `{
		"id":"msg_1","type":"message","role":"assistant","model":"claude-test",
		"content":[{"type":"text","text":"Hi "},{"type":"text","text":"there"}],
		"stop_reason":"end_turn","usage":{"input_tokens":5,"output_tokens":3}}`)

	temp := 0.3
	a := NewAnthropicWithBaseURL("sk-ant", u.server.URL)
	resp, err := a.Generate(context.Background(), testMessages, ai.ServiceConfig{Model: "claude-test", MaxTokens: 256, Temperature: &temp})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if resp.Content != "Hi there" {
		t.Errorf("Content = %q", resp.Content)
	}
	if resp.Usage != (ai.Usage{PromptTokens: 5, CompletionTokens: 3, TotalTokens: 8}) {
		t.Errorf("Usage = %+v", resp.Usage)
	}
	if resp.FinishReason != "end_turn" || resp.Model != "claude-test" || resp.Provider != ai.ProviderAnthropic {
		t.Errorf("unexpected response metadata: %+v", resp)
	}

	if u.path != "/messages" {
		t.Errorf("path = %q", u.path)
	}
	if u.headers.Get("x-api-key") != "sk-ant" || u.headers.Get("anthropic-version") != anthropicVersion {
		t.Errorf("missing auth headers: %v", u.headers)
	}
	if u.body["system"] != "You are a coach." {
		t.Errorf("system field = %v", u.body["system"])
	}
	msgs, _ := u.body["messages"].([]any)
	if len(msgs) != 1 {
		t.Fatalf("expected system message to be split out, got %v", u.body["messages"])
	}
	if u.body["max_tokens"] != float64(256) || u.body["temperature"] != 0.3 {
		t.Errorf("config not mapped: %v", u.body)
	}
}

func TestAnthropic_DefaultsApplied(t *testing.T) {
	u := newUpstream(t, 200, "application/json", `{"content":[{"type":"text","text":"ok"}],"usage":{}}`)
	a := NewAnthropicWithBaseURL("k", u.server.URL)

	resp, err := a.Generate(context.Background(), testMessages[1:], ai.ServiceConfig{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if u.body["model"] != DefaultAnthropicModel || u.body["max_tokens"] != float64(anthropicMaxTokens) {
		t.Errorf("defaults not applied: %v", u.body)
	}
	if _, ok := u.body["temperature"]; ok {
		t.Error("temperature should be omitted when unset")
	}
	if resp.Model != DefaultAnthropicModel {
		t.Errorf("Model = %q", resp.Model)
	}
}

func TestAnthropic_EmptyContentIsModelError(t *testing.T) {
	u := newUpstream(t, 200, "application/json", `{"content":[],"usage":{}}`)
	_, err := NewAnthropicWithBaseURL("k", u.server.URL).Generate(context.Background(), testMessages, ai.ServiceConfig{})
	assertCode(t, err, ai.CodeModel, ai.ProviderAnthropic)
}

func TestAnthropic_Streaming(t *testing.T) {
	sse := "event: message_start\n" +
		"data: {\"type\":\"message_start\",\"message\":{\"model\":\"claude-test\",\"usage\":{\"input_tokens\":7,\"output_tokens\":1}}}\n\n" +
		"event: content_block_start\n" +
		"data: {\"type\":\"content_block_start\",\"index\":0,\"content_block\":{\"type\":\"text\",\"text\":\"\"}}\n\n" +
		"event: content_block_delta\n" +
		"data: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":\"Hello\"}}\n\n" +
		"event: ping\n" +
		"data: {\"type\":\"ping\"}\n\n" +
		"event: content_block_delta\n" +
		"data: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":\" world\"}}\n\n" +
		"event: message_delta\n" +
		"data: {\"type\":\"message_delta\",\"delta\":{\"stop_reason\":\"end_turn\"},\"usage\":{\"output_tokens\":4}}\n\n" +
		"event: message_stop\n" +
		"data: {\"type\":\"message_stop\"}\n\n"
	u := newUpstream(t, 200, "text/event-stream", sse)

	ch, err := NewAnthropicWithBaseURL("k", u.server.URL).GenerateStreaming(context.Background(), testMessages, ai.ServiceConfig{})
	if err != nil {
		t.Fatalf("GenerateStreaming: %v", err)
	}
	chunks := collect(t, ch)

	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d: %+v", len(chunks), chunks)
	}
	if chunks[0].Content != "Hello" || chunks[1].Content != " world" || chunks[0].Done {
		t.Errorf("unexpected content chunks: %+v", chunks[:2])
	}
	last := chunks[2]
	if !last.Done || last.Usage == nil {
		t.Fatalf("expected terminal chunk with usage, got %+v", last)
	}
	if *last.Usage != (ai.Usage{PromptTokens: 7, CompletionTokens: 4, TotalTokens: 11}) {
		t.Errorf("Usage = %+v", *last.Usage)
	}
	if u.body["stream"] != true {
		t.Error("stream flag not sent")
	}
}

func TestAnthropic_StreamingTruncated(t *testing.T) {
	sse := "data: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"Hel\"}}\n\n"
	u := newUpstream(t, 200, "text/event-stream", sse)

	ch, err := NewAnthropicWithBaseURL("k", u.server.URL).GenerateStreaming(context.Background(), testMessages, ai.ServiceConfig{})
	if err != nil {
		t.Fatalf("GenerateStreaming: %v", err)
	}
	chunks := collect(t, ch)
	last := chunks[len(chunks)-1]
	if last.Done {
		t.Fatal("truncated stream must not report done")
	}
	assertCode(t, last.Err, ai.CodeModel, ai.ProviderAnthropic)
}

// --- OpenAI ---

func TestOpenAI_Generate(t *testing.T) {
	u := newUpstream(t, 200, "application/json", `{
		"id":"chatcmpl-1","model":"gpt-test",
		"choices":[{"index":0,"message":{"role":"assistant","content":"Hi there"},"finish_reason":"stop"}],
		"usage":{"prompt_tokens":5,"completion_tokens":3,"total_tokens":8}}`)

	o := NewOpenAIWithBaseURL("sk-oai", u.server.URL)
	resp, err := o.Generate(context.Background(), testMessages, ai.ServiceConfig{Model: "gpt-test", MaxTokens: 100})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if resp.Content != "Hi there" || resp.FinishReason != "stop" || resp.Provider != ai.ProviderOpenAI {
		t.Errorf("unexpected response: %+v", resp)
	}
	if resp.Usage.TotalTokens != 8 {
		t.Errorf("Usage = %+v", resp.Usage)
	}

	if u.path != "/chat/completions" {
		t.Errorf("path = %q", u.path)
	}
	if u.headers.Get("Authorization") != "Bearer sk-oai" {
		t.Errorf("Authorization = %q", u.headers.Get("Authorization"))
	}
	msgs, _ := u.body["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("system message should stay inline, got %v", u.body["messages"])
	}
	first, _ := msgs[0].(map[string]any)
	if first["role"] != "system" {
		t.Errorf("first message role = %v", first["role"])
	}
}

func TestOpenAI_NoChoicesIsModelError(t *testing.T) {
	u := newUpstream(t, 200, "application/json", `{"choices":[]}`)
	_, err := NewOpenAIWithBaseURL("k", u.server.URL).Generate(context.Background(), testMessages, ai.ServiceConfig{})
	assertCode(t, err, ai.CodeModel, ai.ProviderOpenAI)
}

func TestOpenAI_Streaming(t *testing.T) {
	sse := "data: {\"choices\":[{\"delta\":{\"role\":\"assistant\",\"content\":\"\"},\"finish_reason\":null}]}\n\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"Hello\"},\"finish_reason\":null}]}\n\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\" world\"},\"finish_reason\":null}]}\n\n" +
		"data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n" +
		"data: {\"choices\":[],\"usage\":{\"prompt_tokens\":4,\"completion_tokens\":2,\"total_tokens\":6}}\n\n" +
		"data: [DONE]\n\n"
	u := newUpstream(t, 200, "text/event-stream", sse)

	ch, err := NewOpenAIWithBaseURL("k", u.server.URL).GenerateStreaming(context.Background(), testMessages, ai.ServiceConfig{})
	if err != nil {
		t.Fatalf("GenerateStreaming: %v", err)
	}
	chunks := collect(t, ch)

	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d: %+v", len(chunks), chunks)
	}
	if chunks[0].Content+chunks[1].Content != "Hello world" {
		t.Errorf("unexpected content: %+v", chunks)
	}
	if !chunks[2].Done || chunks[2].Usage == nil || chunks[2].Usage.TotalTokens != 6 {
		t.Errorf("unexpected terminal chunk: %+v", chunks[2])
	}
	opts, _ := u.body["stream_options"].(map[string]any)
	if opts["include_usage"] != true {
		t.Errorf("stream_options not sent: %v", u.body)
	}
}

func TestOpenAI_StreamingFinishWithoutDone(t *testing.T) {
	sse := "data: {\"choices\":[{\"delta\":{\"content\":\"Hi\"},\"finish_reason\":\"stop\"}]}\n\n"
	u := newUpstream(t, 200, "text/event-stream", sse)

	ch, _ := NewOpenAIWithBaseURL("k", u.server.URL).GenerateStreaming(context.Background(), testMessages, ai.ServiceConfig{})
	chunks := collect(t, ch)
	if len(chunks) != 2 || !chunks[1].Done || chunks[1].Usage != nil {
		t.Errorf("unexpected chunks: %+v", chunks)
	}
}

func TestOpenAI_StreamingCancelled(t *testing.T) {
	sse := "data: {\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\n\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"b\"}}]}\n\n" +
		"data: [DONE]\n\n"
	u := newUpstream(t, 200, "text/event-stream", sse)

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := NewOpenAIWithBaseURL("k", u.server.URL).GenerateStreaming(ctx, testMessages, ai.ServiceConfig{})
	if err != nil {
		t.Fatalf("GenerateStreaming: %v", err)
	}
	first := <-ch
	if first.Content != "a" {
		t.Fatalf("first chunk = %+v", first)
	}
	cancel()

	// The producer must close the channel instead of blocking forever.
	collect(t, ch)
}

// --- error mapping, shared by both adapters ---

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		status int
		code   ai.Code
	}{
		{429, ai.CodeRateLimit},
		{401, ai.CodeAuthentication},
		{403, ai.CodeAuthentication},
		{500, ai.CodeNetwork},
		{529, ai.CodeNetwork},
		{400, ai.CodeService},
		{404, ai.CodeService},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d", tt.status), func(t *testing.T) {
			u := newUpstream(t, tt.status, "application/json", `{"error":{"message":"nope"}}`)

			_, err := NewAnthropicWithBaseURL("k", u.server.URL).Generate(context.Background(), testMessages, ai.ServiceConfig{})
			assertCode(t, err, tt.code, ai.ProviderAnthropic)

			_, err = NewOpenAIWithBaseURL("k", u.server.URL).GenerateStreaming(context.Background(), testMessages, ai.ServiceConfig{})
			assertCode(t, err, tt.code, ai.ProviderOpenAI)
		})
	}
}

func TestMissingKeyIsAuthenticationError(t *testing.T) {
	u := newUpstream(t, 200, "application/json", `{}`)

	_, err := NewOpenAIWithBaseURL("", u.server.URL).Generate(context.Background(), testMessages, ai.ServiceConfig{})
	assertCode(t, err, ai.CodeAuthentication, ai.ProviderOpenAI)
	if u.calls != 0 {
		t.Errorf("provider contacted without credentials (%d calls)", u.calls)
	}
}

func TestTransportFailureIsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := NewAnthropicWithBaseURL("k", url).Generate(context.Background(), testMessages, ai.ServiceConfig{})
	assertCode(t, err, ai.CodeNetwork, ai.ProviderAnthropic)
}

func TestListModels(t *testing.T) {
	u := newUpstream(t, 200, "application/json", `{"data":[{"id":"gpt-4o","object":"model"},{"id":"gpt-4o-mini","object":"model"}]}`)

	models, err := NewOpenAIWithBaseURL("k", u.server.URL).ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(models) != 2 || models[0].ID != "gpt-4o" {
		t.Errorf("unexpected models: %+v", models)
	}
	if u.path != "/models" {
		t.Errorf("path = %q", u.path)
	}

	bad := newUpstream(t, 401, "application/json", `{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`)
	_, err = NewAnthropicWithBaseURL("k", bad.server.URL).ListModels(context.Background())
	assertCode(t, err, ai.CodeAuthentication, ai.ProviderAnthropic)
}
