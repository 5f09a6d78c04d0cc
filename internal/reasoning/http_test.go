package reasoning

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ent0n29/safemind/internal/conversation"
)

func TestHTTPAdapterSendsWindowAndParsesJSON(t *testing.T) {
	var got httpRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"I hear you. ||SUGGEST_REPORT||"}`))
	}))
	defer srv.Close()

	a := NewHTTPAdapter(srv.URL)
	resp, err := a.Respond(context.Background(), Request{
		SystemInstruction: SystemInstruction,
		History:           []conversation.Turn{{Role: conversation.RoleAssistant, Text: Greeting}},
		InputText:         "my landlord keeps threatening me",
	})
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if resp.Text != "I hear you. ||SUGGEST_REPORT||" {
		t.Fatalf("resp.Text = %q", resp.Text)
	}
	if got.InputText != "my landlord keeps threatening me" || len(got.History) != 1 || got.History[0].Role != "assistant" {
		t.Fatalf("request = %+v", got)
	}
}

func TestHTTPAdapterAcceptsPlainText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("  Thank you for telling me.  "))
	}))
	defer srv.Close()

	resp, err := NewHTTPAdapter(srv.URL).Respond(context.Background(), Request{InputText: "x"})
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if resp.Text != "Thank you for telling me." {
		t.Fatalf("resp.Text = %q", resp.Text)
	}
}

func TestHTTPAdapterStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewHTTPAdapter(srv.URL).Respond(context.Background(), Request{InputText: "x"})
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("Respond() error = %v, want *StatusError", err)
	}
	if se.Code != http.StatusServiceUnavailable || !se.Retryable() {
		t.Fatalf("StatusError = %+v, retryable=%v", se, se.Retryable())
	}
}

func TestHTTPAdapterEmptyReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"   "}`))
	}))
	defer srv.Close()

	_, err := NewHTTPAdapter(srv.URL).Respond(context.Background(), Request{InputText: "x"})
	if !errors.Is(err, ErrEmptyReply) {
		t.Fatalf("Respond() error = %v, want ErrEmptyReply", err)
	}
}

func TestConsumeStreamingSSE(t *testing.T) {
	stream := strings.NewReader(strings.Join([]string{
		": keepalive",
		"",
		`data: {"delta":"Stay "}`,
		"",
		`data: {"delta":"safe. ||EMERGENCY||"}`,
		"",
		"data: [DONE]",
		"",
	}, "\n"))

	got, err := consumeStreaming(stream)
	if err != nil {
		t.Fatalf("consumeStreaming() error = %v", err)
	}
	if got != "Stay safe. ||EMERGENCY||" {
		t.Fatalf("consumeStreaming() = %q", got)
	}
}

func TestConsumeStreamingNDJSON(t *testing.T) {
	stream := strings.NewReader(strings.Join([]string{
		`{"delta":"Hi"}`,
		" there",
		"[DONE]",
	}, "\n"))

	got, err := consumeStreaming(stream)
	if err != nil {
		t.Fatalf("consumeStreaming() error = %v", err)
	}
	if got != "Hithere" {
		t.Fatalf("consumeStreaming() = %q, want %q", got, "Hithere")
	}
}
