package llm

import (
	"context"
	"log/slog"
	"time"
)

// Completer is the text-in, text-out contract the mapping pipeline depends
// on: one system prompt, one user message, the model's raw text back. The
// text is not guaranteed to be JSON even when JSON was asked for.
type Completer interface {
	Complete(ctx context.Context, system, message string) (string, error)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, system, message string) (string, error)

// Complete calls f.
func (f CompleterFunc) Complete(ctx context.Context, system, message string) (string, error) {
	return f(ctx, system, message)
}

// CompleterOptions fixes the model parameters of a provider-backed
// Completer.
type CompleterOptions struct {
	Model       string
	MaxTokens   int
	Temperature float64
}

// NewCompleter wraps a Provider as a Completer.
func NewCompleter(p Provider, opts CompleterOptions) Completer {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	return &providerCompleter{provider: p, opts: opts}
}

type providerCompleter struct {
	provider Provider
	opts     CompleterOptions
}

func (c *providerCompleter) Complete(ctx context.Context, system, message string) (string, error) {
	start := time.Now()
	resp, err := c.provider.Chat(ctx, ChatRequest{
		Model: c.opts.Model,
		Messages: []Message{
			{Role: "system", Content: system},
			{Role: "user", Content: message},
		},
		Temperature: c.opts.Temperature,
		MaxTokens:   c.opts.MaxTokens,
	})
	if err != nil {
		return "", err
	}
	slog.Debug("llm: completion",
		"model", resp.Model,
		"system_len", len(system),
		"message_len", len(message),
		"tokens", resp.TotalTokens,
		"elapsed", time.Since(start).Round(time.Millisecond))
	return resp.Content, nil
}
