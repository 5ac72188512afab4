package ai

import "fmt"

// Role is the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// Provider identifies an upstream LLM vendor.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
)

// ParseProvider maps a user-supplied name to a Provider. Aliases "claude" and
// "gpt" are accepted.
func ParseProvider(s string) (Provider, error) {
	switch s {
	case "anthropic", "claude":
		return ProviderAnthropic, nil
	case "openai", "gpt":
		return ProviderOpenAI, nil
	}
	return "", fmt.Errorf("unknown provider %q", s)
}

// Alternate returns the other provider, used as the fallback target.
func (p Provider) Alternate() Provider {
	if p == ProviderAnthropic {
		return ProviderOpenAI
	}
	return ProviderAnthropic
}

// Message is a single provider-agnostic chat message.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ServiceConfig controls one generation call. It is built per request and
// never persisted.
type ServiceConfig struct {
	Provider            Provider `json:"provider"`
	Model               string   `json:"model"`
	MaxTokens           int      `json:"maxTokens,omitempty"`
	Temperature         *float64 `json:"temperature,omitempty"`
	EnableCaching       *bool    `json:"enableCaching,omitempty"`
	CacheTimeoutSeconds int      `json:"cacheTimeoutSeconds,omitempty"`
}

// CachingEnabled is true unless EnableCaching was explicitly set to false.
func (c ServiceConfig) CachingEnabled() bool {
	return c.EnableCaching == nil || *c.EnableCaching
}

// Usage is the token accounting reported by a provider.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// Response is a normalized completion.
type Response struct {
	Content      string   `json:"content"`
	Provider     Provider `json:"provider"`
	Model        string   `json:"model"`
	Usage        Usage    `json:"usage"`
	FinishReason string   `json:"finishReason"`
	Cached       bool     `json:"cached"`
}

// StreamChunk is one element of a streaming completion. The final chunk has
// Done set and, when the provider reports it, Usage. A stream that closes
// without a Done chunk ended abnormally; Err then carries the cause.
type StreamChunk struct {
	Content string `json:"content"`
	Done    bool   `json:"done"`
	Usage   *Usage `json:"usage,omitempty"`
	Err     error  `json:"-"`
}
