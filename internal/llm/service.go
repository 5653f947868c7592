package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/RichardoC/rosa/internal/config"
	"github.com/RichardoC/rosa/internal/models"
)

const (
	noResponse     = "No response received"
	requestTimeout = 30 * time.Second
)

var (
	ErrNotConfigured   = errors.New("llm: provider is not configured")
	ErrUnknownProvider = errors.New("llm: unknown provider")
)

// ModelFactory builds the langchaingo model behind a provider.
type ModelFactory func(p config.ProviderConfig, model string) (llms.Model, error)

// Service sends conversation history to one provider/model pair.
type Service struct {
	llm           llms.Model
	maxTokens     int
	temperature   float64
	contextTokens int
	countTokens   TokenCounter
	limiter       *rate.Limiter
	logger        *zap.Logger
}

// Reply asks the model for the next assistant message. history is trimmed
// from the oldest end to fit the context budget; the newest message is
// always sent.
func (s *Service) Reply(ctx context.Context, history []models.Message, systemPrompt string) (string, error) {
	if systemPrompt == "" {
		systemPrompt = config.DefaultSystemPrompt
	}
	history = s.trim(history)

	messages := make([]llms.MessageContent, 0, len(history)+1)
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt))
	for _, msg := range history {
		role := llms.ChatMessageTypeHuman
		if msg.Role == models.RoleAssistant {
			role = llms.ChatMessageTypeAI
		}
		messages = append(messages, llms.TextParts(role, msg.Content))
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limited: %w", err)
		}
	}

	resp, err := s.llm.GenerateContent(ctx, messages,
		llms.WithMaxTokens(s.maxTokens),
		llms.WithTemperature(s.temperature),
	)
	if err != nil {
		return "", fmt.Errorf("failed to get AI response: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Content) == "" {
		s.logger.Warn("empty completion")
		return noResponse, nil
	}
	return resp.Choices[0].Content, nil
}

func (s *Service) trim(history []models.Message) []models.Message {
	if s.contextTokens <= 0 || len(history) == 0 {
		return history
	}
	total := 0
	start := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		// Per-message framing overhead of chat formats.
		cost := s.countTokens(history[i].Content) + 4
		if total+cost > s.contextTokens && i < len(history)-1 {
			break
		}
		total += cost
		start = i
	}
	if start > 0 {
		s.logger.Debug("trimmed conversation history",
			zap.Int("dropped", start),
			zap.Int("kept", len(history)-start),
			zap.Int("tokens", total))
	}
	return history[start:]
}

// Client hands out one Service per provider/model pair.
type Client struct {
	cfg     *config.Config
	factory ModelFactory
	counter TokenCounter
	logger  *zap.Logger

	mu       sync.Mutex
	services map[string]*Service
	limiters map[string]*rate.Limiter
}

type ClientOption func(*Client)

func WithModelFactory(f ModelFactory) ClientOption {
	return func(c *Client) { c.factory = f }
}

func WithTokenCounter(tc TokenCounter) ClientOption {
	return func(c *Client) { c.counter = tc }
}

func NewClient(cfg *config.Config, logger *zap.Logger, opts ...ClientOption) *Client {
	c := &Client{
		cfg:      cfg,
		factory:  NewModel,
		logger:   logger,
		services: make(map[string]*Service),
		limiters: make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.counter == nil {
		c.counter = NewTokenCounter(logger)
	}
	return c
}

// Service resolves providerID (falling back to the configured default) and
// model (falling back to the provider's default model).
func (c *Client) Service(providerID, model string) (*Service, error) {
	p, ok := c.cfg.Provider(providerID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, providerID)
	}
	if !IsConfigured(p) {
		return nil, fmt.Errorf("%w: %s has no API key", ErrNotConfigured, p.ID)
	}
	if model == "" {
		model = p.DefaultModel
	}

	key := p.ID + "/" + model
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.services[key]; ok {
		return s, nil
	}

	m, err := c.factory(p, model)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize %s provider: %w", p.Provider, err)
	}
	s := &Service{
		llm:           m,
		maxTokens:     c.cfg.AI.MaxTokens,
		temperature:   c.cfg.AI.Temperature,
		contextTokens: c.cfg.AI.ContextTokens,
		countTokens:   c.counter,
		limiter:       c.limiter(p),
		logger:        c.logger.With(zap.String("provider", p.ID), zap.String("model", model)),
	}
	if p.MaxTokens > 0 {
		s.maxTokens = p.MaxTokens
	}
	if p.Temperature != nil {
		s.temperature = *p.Temperature
	}
	c.services[key] = s
	return s, nil
}

// limiter returns the limiter shared by every model of provider p, or nil
// when p is unlimited. c.mu must be held.
func (c *Client) limiter(p config.ProviderConfig) *rate.Limiter {
	if p.RequestsPerMinute <= 0 {
		return nil
	}
	if l, ok := c.limiters[p.ID]; ok {
		return l
	}
	l := rate.NewLimiter(rate.Every(time.Minute/time.Duration(p.RequestsPerMinute)), 1)
	c.limiters[p.ID] = l
	return l
}

// IsConfigured reports whether p has what it needs to make requests.
// Local servers accept any token.
func IsConfigured(p config.ProviderConfig) bool {
	return p.Provider == "local" || p.APIKey != ""
}

// NewModel is the default ModelFactory.
func NewModel(p config.ProviderConfig, model string) (llms.Model, error) {
	switch p.Provider {
	case "openai", "local":
		token := p.APIKey
		if token == "" {
			token = "local"
		}
		opts := []openai.Option{openai.WithToken(token), openai.WithModel(model)}
		if p.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(p.BaseURL))
		}
		return openai.New(opts...)
	case "anthropic":
		return anthropic.New(anthropic.WithToken(p.APIKey), anthropic.WithModel(model))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, p.Provider)
	}
}
