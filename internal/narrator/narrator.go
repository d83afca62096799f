// Package narrator turns a structured risk payload into prose.
package narrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Kind tags which variant a Narrator is.
type Kind string

const (
	// KindFallback renders a deterministic narrative locally.
	KindFallback Kind = "fallback"

	// KindGenAI asks a Gemini model for an executive briefing.
	KindGenAI Kind = "genai"
)

// DefaultTimeout bounds a single model call.
const DefaultTimeout = 30 * time.Second

var errEmptyResponse = errors.New("empty response from model")

// Narrator explains risk payloads. The variant is fixed at construction;
// the zero value and a nil *Narrator both behave as the fallback.
type Narrator struct {
	kind        Kind
	client      *genai.Client
	model       string
	maxTokens   int32
	temperature float32
	timeout     time.Duration
}

// Fallback returns a narrator that never leaves the process.
func Fallback() *Narrator {
	return &Narrator{kind: KindFallback}
}

// New selects the variant from cfg. It never fails: a missing key, an
// explicit fallback provider or a client error all yield the fallback.
func New(ctx context.Context, cfg domain.NarratorConfig) *Narrator {
	switch cfg.Provider {
	case "fallback":
		return Fallback()
	case "auto":
		if cfg.APIKey == "" {
			return Fallback()
		}
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      cfg.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: cfg.BaseURL},
	})
	if err != nil {
		slog.Warn("narrator client unavailable, using fallback", "error", err)
		return Fallback()
	}

	return &Narrator{
		kind:        KindGenAI,
		client:      client,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		timeout:     DefaultTimeout,
	}
}

// Kind reports the variant chosen at construction.
func (n *Narrator) Kind() Kind {
	if n == nil || n.kind == "" {
		return KindFallback
	}
	return n.kind
}

// Explain returns a narrative for payload. Model failures degrade to the
// fallback narrative and are only logged.
func (n *Narrator) Explain(ctx context.Context, payload domain.ReportPayload) string {
	if n.Kind() == KindGenAI {
		text, err := n.generate(ctx, payload)
		if err == nil {
			return text
		}
		slog.Warn("narrator model call failed, using fallback",
			"model", n.model,
			"error", err,
		)
	}
	return FallbackNarrative(payload)
}

func (n *Narrator) generate(ctx context.Context, payload domain.ReportPayload) (string, error) {
	prompt, err := BuildPrompt(payload)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(n.temperature),
		MaxOutputTokens: n.maxTokens,
	}

	resp, err := n.client.Models.GenerateContent(ctx, n.model, genai.Text(prompt), config)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", errEmptyResponse
	}
	return text, nil
}
