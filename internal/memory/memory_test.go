package memory

import (
	"context"
	"testing"
	"time"

	"github.com/ent0n29/safemind/internal/conversation"
)

func TestRecordFromTurnRedactsPII(t *testing.T) {
	turn := conversation.Turn{
		ID:        "t-1",
		Seq:       3,
		Role:      conversation.RoleUser,
		Text:      "You can reach me at ada@example.com",
		CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	rec := RecordFromTurn("s-1", "c-1", turn)
	if !rec.PIIRedacted {
		t.Fatalf("PIIRedacted = false, want true")
	}
	if rec.Content != "You can reach me at [REDACTED_EMAIL]" {
		t.Fatalf("Content = %q", rec.Content)
	}
	if rec.Action != "" {
		t.Fatalf("Action = %q, want empty for user turn", rec.Action)
	}
	if rec.SessionID != "s-1" || rec.ConversationID != "c-1" || rec.Seq != 3 {
		t.Fatalf("record = %+v", rec)
	}
}

func TestInMemoryStoreOrdersBySeqAndDeduplicates(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	for _, r := range []TurnRecord{
		{ID: "b", SessionID: "s", Seq: 2, Content: "two"},
		{ID: "a", SessionID: "s", Seq: 1, Content: "one"},
		{ID: "c", SessionID: "s", Seq: 3, Content: "three"},
		{ID: "a", SessionID: "s", Seq: 1, Content: "one again"},
		{ID: "x", SessionID: "other", Seq: 1, Content: "elsewhere"},
	} {
		if err := s.SaveTurn(ctx, r); err != nil {
			t.Fatalf("SaveTurn() error = %v", err)
		}
	}

	all, err := s.SessionTranscript(ctx, "s", 0)
	if err != nil {
		t.Fatalf("SessionTranscript() error = %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len(all) = %d, want 3", len(all))
	}
	for i, want := range []string{"one", "two", "three"} {
		if all[i].Content != want {
			t.Fatalf("all[%d].Content = %q, want %q", i, all[i].Content, want)
		}
	}

	recent, err := s.SessionTranscript(ctx, "s", 2)
	if err != nil {
		t.Fatalf("SessionTranscript() error = %v", err)
	}
	if len(recent) != 2 || recent[0].Content != "two" {
		t.Fatalf("recent = %+v", recent)
	}

	none, err := s.SessionTranscript(ctx, "missing", 5)
	if err != nil || none != nil {
		t.Fatalf("SessionTranscript(missing) = %v, %v", none, err)
	}
}
