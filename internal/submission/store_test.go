package submission

import (
	"context"
	"testing"
	"time"
)

func TestInMemoryStoreSaveAndList(t *testing.T) {
	st := NewInMemoryStore()
	ctx := context.Background()

	m := NewMachine(validDraft(), Options{SessionID: "s1"})
	if err := st.SaveSubmission(ctx, m.Snapshot()); err != nil {
		t.Fatalf("SaveSubmission() error = %v", err)
	}
	if _, err := m.Confirm(); err != nil {
		t.Fatalf("Confirm() error = %v", err)
	}
	if err := st.SaveSubmission(ctx, m.Snapshot()); err != nil {
		t.Fatalf("SaveSubmission() error = %v", err)
	}

	got, err := st.GetSubmission(ctx, m.ID())
	if err != nil {
		t.Fatalf("GetSubmission() error = %v", err)
	}
	if got.State != StateConfirming {
		t.Fatalf("State = %q, want %q", got.State, StateConfirming)
	}
	if len(got.History) != 2 {
		t.Fatalf("len(History) = %d, want 2", len(got.History))
	}

	other := NewMachine(validDraft(), Options{
		SessionID: "s1",
		Now:       func() time.Time { return time.Now().UTC().Add(time.Minute) },
	})
	if err := st.SaveSubmission(ctx, other.Snapshot()); err != nil {
		t.Fatalf("SaveSubmission() error = %v", err)
	}

	list, err := st.ListBySession(ctx, "s1", 10)
	if err != nil {
		t.Fatalf("ListBySession() error = %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("len(list) = %d, want 2", len(list))
	}
	if list[0].ID != other.ID() {
		t.Fatalf("list[0].ID = %q, want most recently updated %q", list[0].ID, other.ID())
	}

	if _, err := st.GetSubmission(ctx, "missing"); err != ErrStoreNotFound {
		t.Fatalf("GetSubmission(missing) error = %v, want ErrStoreNotFound", err)
	}
}
