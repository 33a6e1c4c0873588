package otahun

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/lmittmann/tint"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

var errEmptyCompletion = errors.New("completion returned no choices")

// completionFallbackMessages are shown to the user, chosen at random,
// when the completion call fails. The raw error is never surfaced.
var completionFallbackMessages = []string{
	"🤔 I'm having trouble processing that right now. Could you try rephrasing?",
	"⚠️ Something went wrong on my end. Please try again in a moment.",
	"🔧 I encountered an issue. Let me know if this keeps happening!",
}

// RandomFallbackMessage returns one of the friendly completion-failure
// messages.
func RandomFallbackMessage() string {
	return completionFallbackMessages[rand.Intn(len(completionFallbackMessages))]
}

// CompletionClient defines the chat-completion API surface used by the
// bot. *openai.Client satisfies this; tests substitute a stub.
type CompletionClient interface {
	CreateChatCompletion(
		ctx context.Context,
		request openai.ChatCompletionRequest,
	) (openai.ChatCompletionResponse, error)

	// ListModels is used as a startup connectivity probe
	ListModels(ctx context.Context) (openai.ModelsList, error)
}

// Completions wraps the completion endpoint client with outbound
// pacing, per-request timeouts and logging.
type Completions struct {
	client         CompletionClient
	config         *OpenAIConfig
	logger         *slog.Logger
	requestLimiter *rate.Limiter

	mu *sync.RWMutex // primarily just protects requestLimiter
}

func newCompletions(
	config *OpenAIConfig,
	httpClient *http.Client,
	logger *slog.Logger,
) *Completions {
	if logger == nil {
		logger = slog.Default()
	}
	clientConfig := openai.DefaultConfig(config.Token)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	if httpClient != nil {
		clientConfig.HTTPClient = httpClient
	}
	return &Completions{
		client: openai.NewClientWithConfig(clientConfig),
		config: config,
		logger: logger,
		requestLimiter: rate.NewLimiter(
			rate.Limit(config.MaxRequestsPerSecond),
			config.MaxRequestsPerSecond,
		),
		mu: &sync.RWMutex{},
	}
}

// Probe verifies the completion endpoint is reachable with the
// configured credentials. It's called once on startup; failure is
// fatal.
func (c *Completions) Probe(ctx context.Context) error {
	_, err := c.client.ListModels(ctx)
	return err
}

// Complete sends the prompt to the completion endpoint and returns the
// first choice's content. The call is paced by the request limiter and
// bounded by the configured request timeout.
func (c *Completions) Complete(
	ctx context.Context,
	prompt []openai.ChatCompletionMessage,
	userID string,
) (string, error) {
	if err := c.waitOnRequestLimiter(ctx); err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	logger, ok := ContextLogger(ctx)
	if !ok || logger == nil {
		logger = c.logger
	}

	started := time.Now()
	resp, err := c.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model:       c.config.Model,
			Messages:    prompt,
			Temperature: c.config.Temperature,
			MaxTokens:   c.config.MaxTokens,
			User:        userID,
		},
	)
	elapsed := time.Since(started)
	if err != nil {
		logger.ErrorContext(
			ctx,
			"completion request failed",
			"elapsed", elapsed,
			"prompt_messages", len(prompt),
			tint.Err(err),
		)
		return "", err
	}
	if len(resp.Choices) == 0 {
		logger.ErrorContext(ctx, "completion returned no choices", "elapsed", elapsed)
		return "", errEmptyCompletion
	}

	content := resp.Choices[0].Message.Content
	logger.InfoContext(
		ctx,
		"completion received",
		"elapsed", elapsed,
		"prompt_messages", len(prompt),
		"choices", len(resp.Choices),
		"content_length", len(content),
		"finish_reason", resp.Choices[0].FinishReason,
	)
	return strings.TrimSpace(content), nil
}

// waitOnRequestLimiter waits for the request limiter to allow the next
// request, returning any error from the limiter itself.
func (c *Completions) waitOnRequestLimiter(ctx context.Context) error {
	// RUnlock isn't deferred here- if the limiter is swapped at
	// runtime, waiting callers shouldn't hold the lock.
	// `rate.Limiter` does not specify that it's safe to concurrently
	// call `Wait` and `SetLimit`.
	c.mu.RLock()
	requestLimiter := c.requestLimiter
	c.mu.RUnlock()
	return requestLimiter.Wait(ctx)
}
