package sessions

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shepherd-ai/shepherd/pkg/models"
)

func sampleConversation(id string) *models.Conversation {
	return &models.Conversation{
		ID: id,
		Messages: []*models.Message{
			{ID: "m1", Role: models.RoleHuman, Content: "list my clusters"},
			{ID: "m2", Role: models.RoleAI, Content: "", ToolCalls: []models.ToolCall{
				{ID: "tc1", Name: "list_clusters", Args: map[string]any{"limit": float64(10)}},
			}},
		},
		Summary:  models.Summary{Text: "user asked about clusters", CoveredCount: 2},
		Selected: &models.SelectedAgent{Name: "platform", Mode: models.SelectionAuto},
		Routing:  models.RoutingMemory{LastSelected: "platform", Streak: 2},
	}
}

// storeUnderTest exercises the Store contract shared by every backend.
func storeUnderTest(t *testing.T, store Store) {
	ctx := context.Background()

	t.Run("get missing returns ErrNotFound", func(t *testing.T) {
		if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("error = %v, want ErrNotFound", err)
		}
	})

	t.Run("save and get round trip", func(t *testing.T) {
		conv := sampleConversation("c1")
		if err := store.Save(ctx, conv); err != nil {
			t.Fatalf("Save() error: %v", err)
		}

		got, err := store.Get(ctx, "c1")
		if err != nil {
			t.Fatalf("Get() error: %v", err)
		}
		if len(got.Messages) != 2 {
			t.Fatalf("got %d messages, want 2", len(got.Messages))
		}
		if got.Summary.CoveredCount != 2 || got.Summary.Text == "" {
			t.Errorf("summary not preserved: %+v", got.Summary)
		}
		if got.Routing.Streak != 2 {
			t.Errorf("routing memory not preserved: %+v", got.Routing)
		}
		if got.Messages[1].ToolCalls[0].Name != "list_clusters" {
			t.Errorf("tool calls not preserved: %+v", got.Messages[1].ToolCalls)
		}
		if got.UpdatedAt.IsZero() {
			t.Error("UpdatedAt not stamped")
		}
	})

	t.Run("save replaces snapshot", func(t *testing.T) {
		conv := sampleConversation("c1")
		conv.Messages = append(conv.Messages, &models.Message{ID: "m3", Role: models.RoleTool, Content: "{}"})
		if err := store.Save(ctx, conv); err != nil {
			t.Fatal(err)
		}
		got, err := store.Get(ctx, "c1")
		if err != nil {
			t.Fatal(err)
		}
		if len(got.Messages) != 3 {
			t.Errorf("got %d messages after update, want 3", len(got.Messages))
		}
	})

	t.Run("list suspended", func(t *testing.T) {
		suspended := sampleConversation("c2")
		suspended.Suspension = &models.Suspension{
			ToolCallID: "tc1",
			Payload:    "<confirmation-response>{}</confirmation-response>",
			Token:      "tok",
			CreatedAt:  time.Now().UTC(),
		}
		if err := store.Save(ctx, suspended); err != nil {
			t.Fatal(err)
		}

		got, err := store.ListSuspended(ctx)
		if err != nil {
			t.Fatalf("ListSuspended() error: %v", err)
		}
		if len(got) != 1 || got[0].ID != "c2" {
			t.Fatalf("ListSuspended() = %+v, want only c2", got)
		}
		if got[0].Suspension == nil || got[0].Suspension.ToolCallID != "tc1" {
			t.Errorf("suspension not preserved: %+v", got[0].Suspension)
		}

		// Clearing the suspension removes it from the sweep set.
		suspended.Suspension = nil
		if err := store.Save(ctx, suspended); err != nil {
			t.Fatal(err)
		}
		got, err = store.ListSuspended(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 0 {
			t.Errorf("ListSuspended() after resume = %+v, want empty", got)
		}
	})

	t.Run("delete", func(t *testing.T) {
		if err := store.Delete(ctx, "c1"); err != nil {
			t.Fatalf("Delete() error: %v", err)
		}
		if _, err := store.Get(ctx, "c1"); !errors.Is(err, ErrNotFound) {
			t.Errorf("error after delete = %v, want ErrNotFound", err)
		}
		if err := store.Delete(ctx, "c1"); err != nil {
			t.Errorf("deleting missing conversation should not fail: %v", err)
		}
	})

	t.Run("ping", func(t *testing.T) {
		if err := store.Ping(ctx); err != nil {
			t.Errorf("Ping() error: %v", err)
		}
	})
}

func TestMemoryStore(t *testing.T) {
	storeUnderTest(t, NewMemoryStore())
}

func TestMemoryStoreIsolatesSnapshots(t *testing.T) {
	store := NewMemoryStore()
	conv := sampleConversation("c1")
	if err := store.Save(context.Background(), conv); err != nil {
		t.Fatal(err)
	}

	// Mutating the original after save must not leak into the store.
	conv.Messages[0].Content = "mutated"
	got, err := store.Get(context.Background(), "c1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Messages[0].Content != "list my clusters" {
		t.Errorf("stored snapshot was mutated: %q", got.Messages[0].Content)
	}

	// Mutating a returned snapshot must not affect later reads.
	got.Summary.Text = "tampered"
	again, err := store.Get(context.Background(), "c1")
	if err != nil {
		t.Fatal(err)
	}
	if again.Summary.Text == "tampered" {
		t.Error("returned snapshot shares state with the store")
	}
}

func TestSQLiteStore(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "conversations.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error: %v", err)
	}
	defer store.Close()
	storeUnderTest(t, store)
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conversations.db")
	ctx := context.Background()

	store, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatal(err)
	}
	conv := sampleConversation("c1")
	conv.Suspension = &models.Suspension{ToolCallID: "tc1", Payload: "p", Token: "tok"}
	if err := store.Save(ctx, conv); err != nil {
		t.Fatal(err)
	}
	store.Close()

	reopened, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()

	got, err := reopened.Get(ctx, "c1")
	if err != nil {
		t.Fatalf("Get() after reopen: %v", err)
	}
	if got.Suspension == nil || got.Suspension.Token != "tok" {
		t.Errorf("suspension lost across restart: %+v", got.Suspension)
	}
}

func TestLocker(t *testing.T) {
	locker := NewLocker()

	if err := locker.Acquire("c1"); err != nil {
		t.Fatalf("first Acquire() error: %v", err)
	}
	if err := locker.Acquire("c1"); !errors.Is(err, ErrTurnInFlight) {
		t.Errorf("second Acquire() = %v, want ErrTurnInFlight", err)
	}
	if err := locker.Acquire("c2"); err != nil {
		t.Errorf("other conversation blocked: %v", err)
	}

	locker.Release("c1")
	if err := locker.Acquire("c1"); err != nil {
		t.Errorf("Acquire() after Release() error: %v", err)
	}
}
