package reasoning

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ent0n29/safemind/internal/conversation"
)

// Request is the normalized request sent to a reasoning provider. History holds
// the turns that precede InputText, oldest first.
type Request struct {
	ConversationID    string
	SystemInstruction string
	History           []conversation.Turn
	InputText         string
}

// Response is the raw provider reply, markers included.
type Response struct {
	Text     string
	Provider string
}

var ErrEmptyReply = errors.New("reasoning provider returned an empty reply")

// Adapter bridges the triage engine with a text-generation provider.
type Adapter interface {
	Respond(ctx context.Context, req Request) (Response, error)
	Name() string
}

// Config controls adapter construction.
type Config struct {
	Mode          string
	GeminiAPIKey  string
	GeminiModel   string
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string
	HTTPURL       string
}

func NewAdapter(ctx context.Context, cfg Config) (Adapter, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		return newAutoAdapter(ctx, cfg)
	case "gemini":
		return NewGeminiAdapter(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	case "openai":
		return NewOpenAIAdapter(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel)
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, errors.New("reasoning HTTP url is required for http mode")
		}
		return NewHTTPAdapter(cfg.HTTPURL), nil
	case "mock":
		return NewMockAdapter(), nil
	default:
		return nil, fmt.Errorf("unsupported reasoning adapter mode %q", cfg.Mode)
	}
}

// newAutoAdapter picks the first provider with credentials. There is no
// runtime fallback between providers: a failed triage call is surfaced, never
// silently answered by a different model.
func newAutoAdapter(ctx context.Context, cfg Config) (Adapter, error) {
	if strings.TrimSpace(cfg.GeminiAPIKey) != "" {
		return NewGeminiAdapter(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	}
	if strings.TrimSpace(cfg.OpenAIAPIKey) != "" {
		return NewOpenAIAdapter(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel)
	}
	if strings.TrimSpace(cfg.HTTPURL) != "" {
		return NewHTTPAdapter(cfg.HTTPURL), nil
	}
	return NewMockAdapter(), nil
}

func nonEmpty(text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyReply
	}
	return text, nil
}
