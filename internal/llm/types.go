// Package llm provides a unified streaming chat interface over multiple
// LLM provider APIs.
package llm

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"
)

// ProviderType identifies an LLM provider implementation.
type ProviderType string

const (
	ProviderAnthropic ProviderType = "anthropic"
	ProviderOpenAI    ProviderType = "openai"
	ProviderGemini    ProviderType = "gemini"
)

// fallbackPriority is the fixed order used when the preferred provider has
// no credential.
var fallbackPriority = []ProviderType{ProviderAnthropic, ProviderOpenAI, ProviderGemini}

// ParseProviderType converts a string to a ProviderType.
func ParseProviderType(s string) (ProviderType, error) {
	switch s {
	case "anthropic", "claude":
		return ProviderAnthropic, nil
	case "openai":
		return ProviderOpenAI, nil
	case "gemini", "google":
		return ProviderGemini, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidProvider, s)
	}
}

// DefaultBaseURL returns the default API endpoint for a provider.
func DefaultBaseURL(t ProviderType) string {
	switch t {
	case ProviderAnthropic:
		return "https://api.anthropic.com"
	case ProviderOpenAI:
		return "https://api.openai.com/v1"
	case ProviderGemini:
		return "https://generativelanguage.googleapis.com/v1beta"
	default:
		return ""
	}
}

// DefaultModel returns the default chat model for a provider.
func DefaultModel(t ProviderType) string {
	switch t {
	case ProviderAnthropic:
		return "claude-sonnet-4-20250514"
	case ProviderOpenAI:
		return "gpt-4o-mini"
	case ProviderGemini:
		return "gemini-2.0-flash"
	default:
		return ""
	}
}

// DefaultAPIKeyEnvVar returns the conventional environment variable holding
// the provider's API key.
func DefaultAPIKeyEnvVar(t ProviderType) string {
	switch t {
	case ProviderAnthropic:
		return "ANTHROPIC_API_KEY"
	case ProviderOpenAI:
		return "OPENAI_API_KEY"
	case ProviderGemini:
		return "GOOGLE_API_KEY"
	default:
		return ""
	}
}

// GetAPIKeyFromEnv reads the provider's API key from the environment.
func GetAPIKeyFromEnv(t ProviderType) string {
	name := DefaultAPIKeyEnvVar(t)
	if name == "" {
		return ""
	}
	return os.Getenv(name)
}

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Content part types.
const (
	PartText  = "text"
	PartImage = "image"
)

// ContentPart is one element of a multimodal message.
type ContentPart struct {
	// Type is PartText or PartImage.
	Type string
	// Text carries the text for PartText parts.
	Text string
	// MediaType is the MIME type of the image for PartImage parts.
	MediaType string
	// Data is the base64-encoded image payload for PartImage parts.
	Data string
}

// Message is a single chat turn. Content is used for plain-text messages;
// Parts takes precedence when non-empty (multimodal messages).
type Message struct {
	Role    Role
	Content string
	Parts   []ContentPart
}

// TextMessage is a convenience constructor for a plain-text message.
func TextMessage(role Role, content string) Message {
	return Message{Role: role, Content: content}
}

// ChatRequest describes one generation request.
type ChatRequest struct {
	Model string
	// System is the system prompt. Providers that require a dedicated
	// top-level field use it directly; others prepend a system message.
	System      string
	Messages    []Message
	MaxTokens   *int
	Temperature *float64
}

// Usage reports token consumption for a request.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// StreamEvent is one element of a streamed response.
type StreamEvent struct {
	// Delta is an incremental piece of response text.
	Delta string
	// Usage is set on the final event when the provider reports it.
	Usage *Usage
	// Done is true on the final event of the stream.
	Done bool
	// Error is set when the stream failed. A stream that errors mid-body
	// surfaces the deltas already decoded, then an error event.
	Error error
}

// ChatResponse is a complete non-streamed response.
type ChatResponse struct {
	Content      string
	FinishReason string
	Usage        Usage
}

// Provider is the capability set shared by all LLM providers.
type Provider interface {
	// Name returns the provider tag.
	Name() string
	// Chat sends messages and returns the complete response.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
	// ChatStream sends messages and streams the response. The returned
	// channel is closed after the final event.
	ChatStream(ctx context.Context, req *ChatRequest) (<-chan StreamEvent, error)
}

// Config holds provider construction parameters.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string

	Timeout         time.Duration
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// DefaultConfig returns a Config with the default retry policy: three
// attempts in total (the first plus two retries) with exponential backoff
// starting at one second.
func DefaultConfig() Config {
	return Config{
		Timeout:         60 * time.Second,
		MaxRetries:      2,
		InitialInterval: 1 * time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      2.0,
	}
}

// ProviderFactory constructs a Provider from a Config.
type ProviderFactory func(Config) (Provider, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[ProviderType]ProviderFactory)
)

// RegisterProvider registers a provider factory. Providers call this from
// their init functions.
func RegisterProvider(t ProviderType, factory ProviderFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[t] = factory
}

// RegisteredProviders returns the registered provider types, sorted.
func RegisteredProviders() []ProviderType {
	registryMu.RLock()
	defer registryMu.RUnlock()
	types := make([]ProviderType, 0, len(registry))
	for t := range registry {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// NewProvider creates a provider of the given type using the registry.
func NewProvider(t ProviderType, cfg Config) (Provider, error) {
	registryMu.RLock()
	factory, ok := registry[t]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q is not registered", ErrInvalidProvider, t)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL(t)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel(t)
	}
	return factory(cfg)
}

// Credentials holds the API keys available to the factory.
type Credentials struct {
	Anthropic string
	OpenAI    string
	Google    string
}

// Key returns the credential for a provider type.
func (c Credentials) Key(t ProviderType) string {
	switch t {
	case ProviderAnthropic:
		return c.Anthropic
	case ProviderOpenAI:
		return c.OpenAI
	case ProviderGemini:
		return c.Google
	default:
		return ""
	}
}

// NewFromCredentials returns the preferred provider when its credential is
// present, otherwise the first provider from the fixed priority list with a
// credential. With no credentials at all it fails, which callers treat as a
// startup error.
func NewFromCredentials(preferred ProviderType, creds Credentials, opts ...Option) (Provider, error) {
	order := make([]ProviderType, 0, len(fallbackPriority)+1)
	if preferred != "" {
		order = append(order, preferred)
	}
	order = append(order, fallbackPriority...)

	seen := make(map[ProviderType]bool, len(order))
	for _, t := range order {
		if seen[t] {
			continue
		}
		seen[t] = true
		key := creds.Key(t)
		if key == "" {
			continue
		}
		cfg := NewConfig(append(opts, WithAPIKey(key))...)
		return NewProvider(t, cfg)
	}
	return nil, ErrNoCredentials
}
