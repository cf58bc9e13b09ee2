package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const defaultChatModel = "gpt-4o-mini"

// ChatCompletion answers with an OpenAI compatible chat completion API and
// keeps the history of every session it has seen.
type ChatCompletion struct {
	client       oai.Client
	model        string
	systemPrompt string
	maxHistory   int

	mu       sync.Mutex
	sessions map[string][]oai.ChatCompletionMessageParamUnion
}

type chatCompletionConfig struct {
	baseURL      string
	model        string
	systemPrompt string
	maxHistory   int
	httpClient   *http.Client
}

type ChatCompletionOption func(*chatCompletionConfig)

// WithBaseURL points the client at any OpenAI compatible endpoint.
func WithBaseURL(baseURL string) ChatCompletionOption {
	return func(c *chatCompletionConfig) { c.baseURL = baseURL }
}

func WithModel(model string) ChatCompletionOption {
	return func(c *chatCompletionConfig) {
		if model != "" {
			c.model = model
		}
	}
}

func WithSystemPrompt(prompt string) ChatCompletionOption {
	return func(c *chatCompletionConfig) { c.systemPrompt = strings.TrimSpace(prompt) }
}

// WithMaxHistory bounds the number of turns sent with each request. Zero
// keeps the full history.
func WithMaxHistory(turns int) ChatCompletionOption {
	return func(c *chatCompletionConfig) {
		if turns >= 0 {
			c.maxHistory = turns
		}
	}
}

func WithChatHTTPClient(httpClient *http.Client) ChatCompletionOption {
	return func(c *chatCompletionConfig) { c.httpClient = httpClient }
}

func NewChatCompletion(apiKey string, opts ...ChatCompletionOption) (*ChatCompletion, error) {
	if apiKey == "" {
		return nil, errors.New("chat completion: api key must not be empty")
	}

	cfg := &chatCompletionConfig{
		model:      defaultChatModel,
		httpClient: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(cfg.httpClient),
		option.WithMaxRetries(1),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}

	return &ChatCompletion{
		client:       oai.NewClient(reqOpts...),
		model:        cfg.model,
		systemPrompt: cfg.systemPrompt,
		maxHistory:   cfg.maxHistory,
		sessions:     map[string][]oai.ChatCompletionMessageParamUnion{},
	}, nil
}

func (c *ChatCompletion) Dispatch(ctx context.Context, req Request) (Reply, error) {
	ctx, span := tracer.Start(ctx, "dispatch chat completion")
	defer span.End()
	span.SetAttributes(
		attribute.String("session.id", req.SessionID),
		attribute.String("chat.model", c.model),
	)

	userMessage := oai.UserMessage(req.Text)
	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(c.model),
		Messages: c.buildMessages(req.SessionID, userMessage),
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "chat completion failed")

		var apiErr *oai.Error
		if errors.As(err, &apiErr) {
			return Reply{}, fmt.Errorf("chat completion: %w", &StatusError{StatusCode: apiErr.StatusCode, Body: apiErr.Message})
		}
		return Reply{}, fmt.Errorf("chat completion: %w: %w", ErrNetwork, err)
	}
	if len(resp.Choices) == 0 {
		return Reply{}, fmt.Errorf("chat completion: empty choices: %w", ErrMalformedResponse)
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return Reply{}, fmt.Errorf("chat completion: empty content: %w", ErrMalformedResponse)
	}
	span.SetAttributes(attribute.Int64("chat.usage.total_tokens", resp.Usage.TotalTokens))

	c.appendHistory(req.SessionID, userMessage, oai.AssistantMessage(text))

	return Reply{Text: text, Diagnostic: resp.RawJSON(), Shape: ShapeChat}, nil
}

// EndSession forgets the history of sessionID.
func (c *ChatCompletion) EndSession(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, sessionID)
}

func (c *ChatCompletion) buildMessages(sessionID string, next oai.ChatCompletionMessageParamUnion) []oai.ChatCompletionMessageParamUnion {
	c.mu.Lock()
	defer c.mu.Unlock()

	history := c.sessions[sessionID]
	messages := make([]oai.ChatCompletionMessageParamUnion, 0, len(history)+2)
	if c.systemPrompt != "" {
		messages = append(messages, oai.SystemMessage(c.systemPrompt))
	}
	messages = append(messages, history...)
	return append(messages, next)
}

func (c *ChatCompletion) appendHistory(sessionID string, messages ...oai.ChatCompletionMessageParamUnion) {
	c.mu.Lock()
	defer c.mu.Unlock()

	history := append(c.sessions[sessionID], messages...)
	if c.maxHistory > 0 && len(history) > 2*c.maxHistory {
		history = history[len(history)-2*c.maxHistory:]
	}
	c.sessions[sessionID] = history
}
