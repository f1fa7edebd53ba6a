// Package llm wraps the text and image generation backends used for recipe
// generation.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mealplanhq/mealplan/internal/config"
)

// ErrEmptyResponse is returned when a backend answers without text.
var ErrEmptyResponse = errors.New("empty model response")

// Completer produces a text completion for a single user prompt.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
	Name() string
}

// ImageGenerator produces an image URL for a prompt.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string) (string, error)
}

// Fallback tries each completer in order and returns the first success.
type Fallback struct {
	completers []Completer
	logger     *slog.Logger
}

// NewFallback chains completers. Nil entries are skipped.
func NewFallback(logger *slog.Logger, completers ...Completer) *Fallback {
	f := &Fallback{logger: logger}
	for _, c := range completers {
		if c != nil {
			f.completers = append(f.completers, c)
		}
	}
	return f
}

func (f *Fallback) Name() string {
	names := make([]string, len(f.completers))
	for i, c := range f.completers {
		names[i] = c.Name()
	}
	return strings.Join(names, "+")
}

func (f *Fallback) Complete(ctx context.Context, prompt string) (string, error) {
	var errs []error
	for _, c := range f.completers {
		out, err := c.Complete(ctx, prompt)
		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		f.logger.Warn("completion failed, trying next backend", "backend", c.Name(), "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", c.Name(), err))
	}
	if len(errs) == 0 {
		return "", errors.New("no completion backend configured")
	}
	return "", errors.Join(errs...)
}

// Clients holds the backends built from configuration.
type Clients struct {
	Text  Completer      // nil when no API key is configured
	Image ImageGenerator // nil unless image generation is enabled with an OpenAI key
}

// NewFromConfig builds the configured backends. Anthropic is preferred for
// text with OpenAI as fallback.
func NewFromConfig(cfg config.AIConfig, logger *slog.Logger) Clients {
	logger = logger.With("component", "llm")
	timeout := cfg.RequestTimeout.Duration

	var anth, oai Completer
	if cfg.AnthropicAPIKey != "" {
		anth = NewAnthropic(cfg.AnthropicAPIKey, cfg.AnthropicModel, cfg.MaxTokens, timeout)
	}
	var openAI *OpenAI
	if cfg.OpenAIAPIKey != "" {
		openAI = NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.ImageModel, cfg.MaxTokens, timeout)
		oai = openAI
	}

	var out Clients
	switch {
	case anth != nil && oai != nil:
		out.Text = NewFallback(logger, anth, oai)
	case anth != nil:
		out.Text = anth
	case oai != nil:
		out.Text = oai
	}
	if cfg.GenerateImages && openAI != nil {
		out.Image = openAI
	}

	if out.Text == nil {
		logger.Warn("no AI API key configured, recipe generation uses sample recipes")
	}
	return out
}
