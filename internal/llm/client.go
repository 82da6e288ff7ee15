// Package llm provides the chat model client used to generate companion replies.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"

	"github.com/mindsprite/mindsprite/internal/core"
)

// Replier produces one assistant reply for a turn
type Replier interface {
	Reply(ctx context.Context, system string, history []core.ContextTurn, user string) (string, error)
}

// Provider selects the backend a Client talks to
type Provider string

const (
	ProviderOpenAI Provider = "openai" // any OpenAI-compatible endpoint, e.g. DeepSeek
	ProviderAzure  Provider = "azure"
	ProviderOllama Provider = "ollama"
)

// Config for a model client
type Config struct {
	Provider    Provider      `mapstructure:"provider" yaml:"provider"`
	APIKey      string        `mapstructure:"api_key" yaml:"-"`
	BaseURL     string        `mapstructure:"base_url" yaml:"base_url"`
	Model       string        `mapstructure:"model" yaml:"model"`
	APIVersion  string        `mapstructure:"api_version" yaml:"api_version,omitempty"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	Temperature float64       `mapstructure:"temperature" yaml:"temperature"`
}

// DefaultConfig returns sensible defaults for a DeepSeek endpoint
func DefaultConfig() Config {
	return Config{
		Provider:    ProviderOpenAI,
		BaseURL:     "https://api.deepseek.com",
		Model:       "deepseek-chat",
		Timeout:     30 * time.Second,
		MaxTokens:   1024,
		Temperature: 0.8,
	}
}

// Client handles model API calls through langchaingo
type Client struct {
	model   llms.Model
	name    string
	timeout time.Duration
	opts    []llms.CallOption
}

// NewClient creates a client for the configured provider
func NewClient(cfg Config) (*Client, error) {
	def := DefaultConfig()
	if cfg.Provider == "" {
		cfg.Provider = def.Provider
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = def.MaxTokens
	}

	model, err := newModel(cfg)
	if err != nil {
		return nil, fmt.Errorf("create %s model: %w", cfg.Provider, err)
	}
	return NewClientWithModel(model, cfg), nil
}

// NewClientWithModel wraps an existing langchaingo model
func NewClientWithModel(model llms.Model, cfg Config) *Client {
	opts := []llms.CallOption{}
	if cfg.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(cfg.MaxTokens))
	}
	if cfg.Temperature > 0 {
		opts = append(opts, llms.WithTemperature(cfg.Temperature))
	}
	return &Client{
		model:   model,
		name:    cfg.Model,
		timeout: cfg.Timeout,
		opts:    opts,
	}
}

func newModel(cfg Config) (llms.Model, error) {
	switch cfg.Provider {
	case ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, errors.New("api key not configured")
		}
		opts := []openai.Option{openai.WithToken(cfg.APIKey), openai.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		return openai.New(opts...)

	case ProviderAzure:
		if cfg.APIKey == "" || cfg.BaseURL == "" {
			return nil, errors.New("azure needs an api key and endpoint")
		}
		version := cfg.APIVersion
		if version == "" {
			version = openai.DefaultAPIVersion
		}
		return openai.New(
			openai.WithAPIType(openai.APITypeAzure),
			openai.WithToken(cfg.APIKey),
			openai.WithBaseURL(cfg.BaseURL),
			openai.WithModel(cfg.Model),
			openai.WithAPIVersion(version),
		)

	case ProviderOllama:
		opts := []ollama.Option{ollama.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
		}
		return ollama.New(opts...)

	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

// Name returns the model name, used as part of cache keys
func (c *Client) Name() string {
	return c.name
}

// Reply sends the system prompt, prior turns, and the new user text.
// Failures and timeouts wrap core.ErrModelUnavailable.
func (c *Client) Reply(ctx context.Context, system string, history []core.ContextTurn, user string) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	resp, err := c.model.GenerateContent(ctx, BuildMessages(system, history, user), c.opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %v", core.ErrModelUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty response", core.ErrModelUnavailable)
	}

	reply := strings.TrimSpace(resp.Choices[0].Content)
	if reply == "" {
		return "", fmt.Errorf("%w: empty reply", core.ErrModelUnavailable)
	}
	return reply, nil
}

// BuildMessages converts a turn into langchaingo message content
func BuildMessages(system string, history []core.ContextTurn, user string) []llms.MessageContent {
	msgs := make([]llms.MessageContent, 0, len(history)+2)
	if system != "" {
		msgs = append(msgs, llms.TextParts(schema.ChatMessageTypeSystem, system))
	}
	for _, turn := range history {
		role := schema.ChatMessageTypeHuman
		if turn.Role == core.RoleAssistant {
			role = schema.ChatMessageTypeAI
		}
		msgs = append(msgs, llms.TextParts(role, turn.Content))
	}
	return append(msgs, llms.TextParts(schema.ChatMessageTypeHuman, user))
}

// Offline is used when no model is configured. Every call fails with
// core.ErrModelUnavailable so callers fall back to their canned reply.
type Offline struct{}

// Reply always fails
func (Offline) Reply(context.Context, string, []core.ContextTurn, string) (string, error) {
	return "", fmt.Errorf("%w: no model configured", core.ErrModelUnavailable)
}
