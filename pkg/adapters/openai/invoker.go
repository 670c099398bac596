package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strings"

	"github.com/aretw0/neonflow/internal/logging"
	"github.com/aretw0/neonflow/pkg/domain"
	"github.com/aretw0/neonflow/pkg/registry"
	"github.com/cenkalti/backoff/v4"
	goopenai "github.com/sashabaranov/go-openai"
	"github.com/viant/afs"
	"golang.org/x/time/rate"
)

// ErrToolRounds is returned when the model still requests tools after the last round.
var ErrToolRounds = errors.New("tool-call rounds exhausted")

// Invoker calls the chat completions API for every node execution.
type Invoker struct {
	client  *goopenai.Client
	cfg     Config
	tools   *registry.Registry
	fs      afs.Service
	doer    goopenai.HTTPDoer
	breaker *Breaker
	limiter *rate.Limiter
	logger  *slog.Logger
}

// Option configures the Invoker.
type Option func(*Invoker)

// WithTools exposes a tool registry to the model.
func WithTools(r *registry.Registry) Option {
	return func(i *Invoker) {
		i.tools = r
	}
}

// WithLogger sets the logger used for retries and tool calls.
func WithLogger(logger *slog.Logger) Option {
	return func(i *Invoker) {
		if logger != nil {
			i.logger = logger
		}
	}
}

// WithFS overrides how node files are read.
func WithFS(fs afs.Service) Option {
	return func(i *Invoker) {
		i.fs = fs
	}
}

// WithHTTPClient overrides the HTTP client used by the API client.
func WithHTTPClient(hc goopenai.HTTPDoer) Option {
	return func(i *Invoker) {
		clientConfig := goopenai.DefaultConfig(i.cfg.APIKey)
		clientConfig.BaseURL = i.cfg.BaseURL
		clientConfig.HTTPClient = hc
		i.client = goopenai.NewClientWithConfig(clientConfig)
		i.doer = hc
	}
}

// New creates an invoker. Call Close to drop idle connections.
func New(cfg Config, opts ...Option) (*Invoker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	clientConfig := goopenai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = cfg.BaseURL
	hc := &http.Client{}
	clientConfig.HTTPClient = hc

	i := &Invoker{
		client:  goopenai.NewClientWithConfig(clientConfig),
		cfg:     cfg,
		fs:      afs.New(),
		doer:    hc,
		breaker: NewBreaker(cfg.Breaker),
		limiter: newLimiter(cfg.RateLimit, cfg.RateLimitInterval),
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// Close drops the HTTP client's idle connections.
func (i *Invoker) Close() error {
	if c, ok := i.doer.(interface{ CloseIdleConnections() }); ok {
		c.CloseIdleConnections()
	}
	return nil
}

// Invoke sends the node files followed by the rendered prompt and returns the
// final assistant message. Tool calls are executed locally and fed back until
// the model answers or MaxToolRounds is reached.
func (i *Invoker) Invoke(ctx context.Context, prompt string, nc domain.NodeContext) (string, error) {
	messages, err := i.contextMessages(ctx, nc.Node.Files)
	if err != nil {
		return "", err
	}
	messages = append(messages, goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleUser, Content: prompt})

	req := goopenai.ChatCompletionRequest{
		Model:       i.cfg.Model,
		Temperature: sampling(i.cfg.Temperature),
	}
	if nc.Model != "" {
		req.Model = nc.Model
	}
	if nc.Temperature != nil {
		req.Temperature = sampling(*nc.Temperature)
	}
	if i.tools != nil && i.tools.Len() > 0 {
		req.Tools = toOpenAITools(i.tools.Tools())
	}

	logger := i.logger.With("node", nc.Node.ID, "run_id", nc.RunID, "model", req.Model)

	for round := 0; round < i.cfg.MaxToolRounds; round++ {
		req.Messages = messages
		resp, err := i.complete(ctx, req, logger)
		if err != nil {
			return "", err
		}
		if len(resp.Choices) == 0 {
			return "", fmt.Errorf("no choices returned")
		}
		msg := resp.Choices[0].Message
		if len(msg.ToolCalls) == 0 {
			return msg.Content, nil
		}

		messages = append(messages, goopenai.ChatCompletionMessage{
			Role:      goopenai.ChatMessageRoleAssistant,
			Content:   msg.Content,
			ToolCalls: msg.ToolCalls,
		})
		for _, call := range msg.ToolCalls {
			messages = append(messages, goopenai.ChatCompletionMessage{
				Role:       goopenai.ChatMessageRoleTool,
				Content:    i.runTool(ctx, call, logger),
				ToolCallID: call.ID,
			})
		}
	}
	return "", ErrToolRounds
}

func (i *Invoker) complete(ctx context.Context, req goopenai.ChatCompletionRequest, logger *slog.Logger) (goopenai.ChatCompletionResponse, error) {
	onRetry := func(attempt int, kind RetryKind, err error) {
		logger.Warn("Retrying request", "attempt", attempt, "kind", kind, "err", err)
	}
	return retry(ctx, i.cfg.Retry, onRetry, func(ctx context.Context) (goopenai.ChatCompletionResponse, error) {
		if i.limiter != nil {
			if err := i.limiter.Wait(ctx); err != nil {
				return goopenai.ChatCompletionResponse{}, backoff.Permanent(fmt.Errorf("rate limiter: %w", err))
			}
		}
		out, err := i.breaker.Execute(func() (any, error) {
			return i.client.CreateChatCompletion(ctx, req)
		})
		if err != nil {
			return goopenai.ChatCompletionResponse{}, err
		}
		return out.(goopenai.ChatCompletionResponse), nil
	})
}

func (i *Invoker) runTool(ctx context.Context, call goopenai.ToolCall, logger *slog.Logger) string {
	var args map[string]any
	if strings.TrimSpace(call.Function.Arguments) != "" {
		if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
			return "Error: invalid arguments: " + err.Error()
		}
	}
	if i.tools == nil {
		return "Error: no tools available"
	}

	logger.Debug("Tool call", "tool", call.Function.Name)
	out, err := i.tools.Execute(ctx, call.Function.Name, args)
	if err != nil {
		logger.Warn("Tool failed", "tool", call.Function.Name, "err", err)
		return "Error: " + err.Error()
	}
	data, err := json.Marshal(out)
	if err != nil {
		return "Error: " + err.Error()
	}
	return string(data)
}

// contextMessages reads node files into chat messages, one per file.
func (i *Invoker) contextMessages(ctx context.Context, files []string) ([]goopenai.ChatCompletionMessage, error) {
	messages := make([]goopenai.ChatCompletionMessage, 0, len(files)+1)
	for _, f := range files {
		ref := domain.ParseFileRef(f)
		data, err := i.fs.DownloadWithURL(ctx, ref.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to read node file %s: %w", ref.Path, err)
		}
		messages = append(messages, goopenai.ChatCompletionMessage{Role: ref.Role, Content: string(data)})
	}
	return messages, nil
}

func toOpenAITools(tools []registry.Tool) []goopenai.Tool {
	out := make([]goopenai.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, goopenai.Tool{
			Type: goopenai.ToolTypeFunction,
			Function: &goopenai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}

// sampling converts t for the request. The API drops a zero temperature, so an
// explicit zero is sent as the smallest positive float.
func sampling(t float64) float32 {
	if t == 0 {
		return math.SmallestNonzeroFloat32
	}
	return float32(t)
}
