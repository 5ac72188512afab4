// Package provider implements the Anthropic and OpenAI chat adapters. Both
// translate provider-agnostic messages into the vendor request shape and
// normalize responses and failures into the ai package types.
package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kalambet/edgecoach/internal/ai"
)

const (
	defaultTimeout   = 60 * time.Second
	streamingTimeout = 300 * time.Second
	maxErrorBody     = 4 << 10
)

// client is the HTTP transport shared by both adapters.
type client struct {
	provider   ai.Provider
	apiKey     string
	baseURL    string
	httpClient *http.Client
	setAuth    func(req *http.Request, apiKey string)
}

func newClient(provider ai.Provider, apiKey, baseURL string, setAuth func(*http.Request, string)) client {
	return client{
		provider: provider,
		apiKey:   apiKey,
		baseURL:  strings.TrimRight(baseURL, "/"),
		// Deadlines are applied per request through the context so that
		// streaming bodies are not cut off by a client-wide timeout.
		httpClient: &http.Client{},
		setAuth:    setAuth,
	}
}

// post sends body as JSON to path and returns the response body on HTTP 200.
// The caller must close it. Any other outcome is returned as a normalized
// *ai.Error.
func (c *client) post(ctx context.Context, path string, body any, stream bool) (io.ReadCloser, error) {
	if c.apiKey == "" {
		return nil, ai.NewError(ai.CodeAuthentication, c.provider, nil, "API key not configured")
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, ai.NewError(ai.CodeService, c.provider, err, "marshaling request")
	}

	timeout := defaultTimeout
	if stream {
		timeout = streamingTimeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		cancel()
		return nil, ai.NewError(ai.CodeService, c.provider, err, "creating request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}
	c.setAuth(httpReq, c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		cancel()
		return nil, ai.NewError(ai.CodeNetwork, c.provider, err, "executing request")
	}

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		cancel()
		return nil, statusError(c.provider, resp.StatusCode, respBody)
	}

	return &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}, nil
}

// Model is an entry of a provider's model list.
type Model struct {
	ID string `json:"id"`
}

type modelList struct {
	Data []Model `json:"data"`
}

// ListModels returns the models visible to the configured key. Both vendors
// serve GET /models with a {"data":[{"id":...}]} envelope, which makes it a
// cheap credential check.
func (c *client) ListModels(ctx context.Context) ([]Model, error) {
	if c.apiKey == "" {
		return nil, ai.NewError(ai.CodeAuthentication, c.provider, nil, "API key not configured")
	}

	reqCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return nil, ai.NewError(ai.CodeService, c.provider, err, "creating request")
	}
	c.setAuth(req, c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, ai.NewError(ai.CodeNetwork, c.provider, err, "requesting models")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, statusError(c.provider, resp.StatusCode, body)
	}

	var list modelList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, ai.NewError(ai.CodeModel, c.provider, err, "decoding models")
	}
	if list.Data == nil {
		return []Model{}, nil
	}
	return list.Data, nil
}

// statusError maps an HTTP failure to the error taxonomy.
func statusError(provider ai.Provider, status int, body []byte) *ai.Error {
	msg := fmt.Sprintf("HTTP %d", status)
	if detail := errorMessage(body); detail != "" {
		msg += ": " + detail
	}

	code := ai.CodeService
	switch {
	case status == http.StatusTooManyRequests:
		code = ai.CodeRateLimit
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		code = ai.CodeAuthentication
	case status >= 500:
		code = ai.CodeNetwork
	}
	return ai.NewError(code, provider, nil, "%s", msg)
}

// errorMessage pulls the human-readable message out of either vendor's error
// envelope: {"error":{"message":...}}.
func errorMessage(body []byte) string {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	return ""
}

// cancelOnClose wraps a ReadCloser and cancels a context on Close.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

// readEvents calls fn with the payload of every "data:" line in an SSE body
// until fn returns false or the body ends. A clean end of body returns nil.
func readEvents(r io.Reader, fn func(data string) bool) error {
	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadString('\n')
		if data, ok := strings.CutPrefix(strings.TrimRight(line, "\r\n"), "data:"); ok {
			if !fn(strings.TrimSpace(data)) {
				return nil
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

// streamer delivers chunks to a consumer and stops early when ctx is done.
type streamer struct {
	ctx context.Context
	ch  chan<- ai.StreamChunk
}

func (s streamer) send(chunk ai.StreamChunk) bool {
	select {
	case s.ch <- chunk:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func (s streamer) fail(provider ai.Provider, code ai.Code, err error, format string, args ...any) {
	s.send(ai.StreamChunk{Err: ai.NewError(code, provider, err, format, args...)})
}
