package reasoning

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ent0n29/safemind/internal/reliability"
)

// HTTPAdapter forwards requests to a JSON reasoning endpoint. Plain-text,
// JSON object, SSE and NDJSON replies are all accepted; streamed fragments are
// concatenated because triage decodes only the complete reply.
type HTTPAdapter struct {
	url    string
	client *http.Client
}

func NewHTTPAdapter(url string) *HTTPAdapter {
	return &HTTPAdapter{
		url: strings.TrimSpace(url),
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

func (a *HTTPAdapter) Name() string { return "http" }

type httpTurn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

type httpRequest struct {
	ConversationID    string     `json:"conversation_id,omitempty"`
	SystemInstruction string     `json:"system_instruction"`
	History           []httpTurn `json:"history"`
	InputText         string     `json:"input_text"`
}

// StatusError reports a non-2xx reply from the reasoning endpoint.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("reasoning http status %d: %s", e.Code, e.Body)
}

func (e *StatusError) Retryable() bool {
	return reliability.IsRetryableHTTPStatus(e.Code)
}

func (a *HTTPAdapter) Respond(ctx context.Context, req Request) (Response, error) {
	body := httpRequest{
		ConversationID:    req.ConversationID,
		SystemInstruction: req.SystemInstruction,
		History:           make([]httpTurn, 0, len(req.History)),
		InputText:         req.InputText,
	}
	for _, t := range req.History {
		body.History = append(body.History, httpTurn{Role: string(t.Role), Text: t.Text})
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return Response{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(payload))
	if err != nil {
		return Response{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := a.client.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return Response{}, &StatusError{Code: res.StatusCode, Body: strings.TrimSpace(string(b))}
	}

	var text string
	ct := strings.ToLower(res.Header.Get("Content-Type"))
	if strings.Contains(ct, "text/event-stream") || strings.Contains(ct, "application/x-ndjson") {
		text, err = consumeStreaming(res.Body)
	} else {
		text, err = readBody(res.Body)
	}
	if err != nil {
		return Response{}, err
	}
	if text, err = nonEmpty(text); err != nil {
		return Response{}, err
	}
	return Response{Text: text, Provider: a.Name()}, nil
}

func readBody(r io.Reader) (string, error) {
	body, err := io.ReadAll(io.LimitReader(r, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		return strings.TrimSpace(string(body)), nil
	}
	return extractText(obj), nil
}

func consumeStreaming(body io.Reader) (string, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var out strings.Builder
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if strings.HasPrefix(line, "data:") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
		if line == "[DONE]" {
			break
		}

		delta := line
		var obj map[string]any
		if err := json.Unmarshal([]byte(line), &obj); err == nil {
			delta = extractText(obj)
		}
		out.WriteString(delta)
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("stream read: %w", err)
	}
	return out.String(), nil
}

func extractText(obj map[string]any) string {
	for _, k := range []string{"text", "reply", "delta", "output", "message"} {
		if v, ok := obj[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}
