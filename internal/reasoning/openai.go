package reasoning

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/ent0n29/safemind/internal/conversation"
)

const DefaultOpenAIModel = "gpt-4o-mini"

// OpenAIAdapter talks to any OpenAI-compatible chat completions endpoint.
type OpenAIAdapter struct {
	client *openai.Client
	model  string
}

func NewOpenAIAdapter(apiKey, baseURL, model string) (*OpenAIAdapter, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("openai API key is required")
	}
	config := openai.DefaultConfig(apiKey)
	if strings.TrimSpace(baseURL) != "" {
		config.BaseURL = strings.TrimSpace(baseURL)
	}
	if strings.TrimSpace(model) == "" {
		model = DefaultOpenAIModel
	}
	return &OpenAIAdapter{
		client: openai.NewClientWithConfig(config),
		model:  model,
	}, nil
}

func (a *OpenAIAdapter) Name() string { return "openai" }

func (a *OpenAIAdapter) Respond(ctx context.Context, req Request) (Response, error) {
	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    a.model,
		Messages: openAIMessages(req),
	})
	if err != nil {
		return Response{}, fmt.Errorf("create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Response{}, ErrEmptyReply
	}
	text, err := nonEmpty(resp.Choices[0].Message.Content)
	if err != nil {
		return Response{}, err
	}
	return Response{Text: text, Provider: a.Name()}, nil
}

func openAIMessages(req Request) []openai.ChatCompletionMessage {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.History)+2)
	if req.SystemInstruction != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.SystemInstruction})
	}
	for _, t := range req.History {
		role := openai.ChatMessageRoleUser
		if t.Role == conversation.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: t.Text})
	}
	return append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.InputText})
}
