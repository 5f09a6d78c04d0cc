package session

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestManagerCreateGetEnd(t *testing.T) {
	m := NewManager(time.Minute)
	s := m.Create("anon-7")
	if s.ID == "" {
		t.Fatalf("session ID should not be empty")
	}

	got, err := m.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.ReporterID != "anon-7" || got.Status != StatusActive {
		t.Fatalf("unexpected session state: %+v", got)
	}

	ended, err := m.End(s.ID, EndReasonClient)
	if err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if ended.Status != StatusEnded || ended.EndReason != EndReasonClient {
		t.Fatalf("ended = %+v, want ended by client", ended)
	}
	if m.ActiveCount() != 0 {
		t.Fatalf("ActiveCount() = %d, want 0", m.ActiveCount())
	}
}

func TestManagerRecordsActivity(t *testing.T) {
	m := NewManager(time.Minute)
	s := m.Create("")
	if err := m.RecordTurn(s.ID); err != nil {
		t.Fatalf("RecordTurn() error = %v", err)
	}
	if err := m.RecordEscalation(s.ID); err != nil {
		t.Fatalf("RecordEscalation() error = %v", err)
	}

	got, err := m.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.TurnCount != 1 || got.EscalationCount != 1 {
		t.Fatalf("counts = %d/%d, want 1/1", got.TurnCount, got.EscalationCount)
	}
	if !got.LastActivityAt.After(s.StartedAt) && !got.LastActivityAt.Equal(s.StartedAt) {
		t.Fatalf("LastActivityAt = %v, want >= %v", got.LastActivityAt, s.StartedAt)
	}
}

func TestManagerRejectsActivityOnEndedSession(t *testing.T) {
	m := NewManager(time.Minute)
	s := m.Create("")
	if _, err := m.End(s.ID, EndReasonClient); err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if err := m.Touch(s.ID); !errors.Is(err, ErrEnded) {
		t.Fatalf("Touch() error = %v, want ErrEnded", err)
	}
	if err := m.Touch("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Touch() error = %v, want ErrNotFound", err)
	}
}

func TestManagerJanitorExpiresInactive(t *testing.T) {
	m := NewManager(30 * time.Millisecond)
	s := m.Create("")

	expired := make(chan *Session, 1)
	m.SetExpireHook(func(s *Session) { expired <- s })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.StartJanitor(ctx, 10*time.Millisecond)

	select {
	case got := <-expired:
		if got.ID != s.ID || got.Status != StatusEnded || got.EndReason != EndReasonExpired {
			t.Fatalf("expired session = %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("session was not expired")
	}

	deadline := time.Now().Add(time.Second)
	for {
		if _, err := m.Get(s.ID); errors.Is(err, ErrNotFound) {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("ended session was not purged after retention")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
