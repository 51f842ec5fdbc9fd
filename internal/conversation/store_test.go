package conversation_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/aimai-dev/aimai/internal/conversation"
)

// openStore builds a store of the requested backend over a temp directory.
func openStore(t *testing.T, backend string) conversation.Store {
	t.Helper()
	var (
		s   conversation.Store
		err error
	)
	switch backend {
	case "sqlite":
		s, err = conversation.NewSQLiteStore(t.TempDir(), nil)
	case "file":
		s, err = conversation.NewFileStore(t.TempDir())
	default:
		t.Fatalf("unknown backend %q", backend)
	}
	if err != nil {
		t.Fatalf("failed to open %s store: %v", backend, err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// forEachBackend runs the same contract test against both implementations.
func forEachBackend(t *testing.T, fn func(t *testing.T, s conversation.Store)) {
	for _, backend := range []string{"sqlite", "file"} {
		t.Run(backend, func(t *testing.T) {
			fn(t, openStore(t, backend))
		})
	}
}

func userTurn(content string, a *conversation.Assessment) conversation.Turn {
	return conversation.Turn{
		Role:       conversation.RoleUser,
		Content:    content,
		Timestamp:  "2026-08-23T11:59:00Z",
		Assessment: a,
	}
}

// ─── Create / Load ──────────────────────────────────────────────────────────

func TestStore_CreateAndLoad(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s conversation.Store) {
		ctx := context.Background()

		created, err := s.Create(ctx, "conv-1")
		if err != nil {
			t.Fatalf("Create error: %v", err)
		}
		if created.ID != "conv-1" {
			t.Errorf("created id = %q, want %q", created.ID, "conv-1")
		}

		loaded, err := s.Load(ctx, "conv-1")
		if err != nil {
			t.Fatalf("Load error: %v", err)
		}
		if loaded.Metadata.State != conversation.StateAwaitingInput {
			t.Errorf("state = %q, want %q", loaded.Metadata.State, conversation.StateAwaitingInput)
		}
		if len(loaded.Turns) != 0 {
			t.Errorf("fresh conversation has %d turns, want 0", len(loaded.Turns))
		}
	})
}

func TestStore_LoadMissingIsNotFound(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s conversation.Store) {
		_, err := s.Load(context.Background(), "no-such-id")
		if !errors.Is(err, conversation.ErrNotFound) {
			t.Errorf("Load error = %v, want ErrNotFound", err)
		}
	})
}

func TestStore_CreateDuplicateFails(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s conversation.Store) {
		ctx := context.Background()
		if _, err := s.Create(ctx, "dup"); err != nil {
			t.Fatalf("first Create error: %v", err)
		}
		if _, err := s.Create(ctx, "dup"); err == nil {
			t.Error("second Create with the same id succeeded, want error")
		}
	})
}

// ─── Append ─────────────────────────────────────────────────────────────────

func TestStore_AppendRoundTripsTurnExactly(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s conversation.Store) {
		ctx := context.Background()
		if _, err := s.Create(ctx, "rt"); err != nil {
			t.Fatalf("Create error: %v", err)
		}

		turn := userTurn("それ直して", &conversation.Assessment{
			Score:       0.85,
			Categories:  []conversation.Category{conversation.CategoryReferential, conversation.CategoryMissingParameter},
			MatchedCues: []string{"それ", "short utterance"},
		})
		meta := conversation.Metadata{
			State:              conversation.StateClarifying,
			ClarificationRound: 1,
			LastAmbiguity:      conversation.CategoryReferential,
			TopicHints:         []string{"エラー"},
			RecentTemplates:    []string{"ref-which"},
			Clarifications:     1,
			CreatedAt:          "2026-08-23T11:58:00Z",
		}
		if _, err := s.Append(ctx, "rt", turn, meta); err != nil {
			t.Fatalf("Append error: %v", err)
		}

		loaded, err := s.Load(ctx, "rt")
		if err != nil {
			t.Fatalf("Load error: %v", err)
		}
		if len(loaded.Turns) != 1 {
			t.Fatalf("turn count = %d, want 1", len(loaded.Turns))
		}
		if diff := cmp.Diff(turn, loaded.Turns[0]); diff != "" {
			t.Errorf("turn round-trip mismatch (-want +got):\n%s", diff)
		}
		if loaded.Metadata.State != conversation.StateClarifying {
			t.Errorf("state = %q, want clarifying", loaded.Metadata.State)
		}
		if loaded.Metadata.ClarificationRound != 1 {
			t.Errorf("round = %d, want 1", loaded.Metadata.ClarificationRound)
		}
		if loaded.Metadata.LastAmbiguity != conversation.CategoryReferential {
			t.Errorf("last ambiguity = %q, want referential", loaded.Metadata.LastAmbiguity)
		}
		if diff := cmp.Diff([]string{"エラー"}, loaded.Metadata.TopicHints); diff != "" {
			t.Errorf("topic hints mismatch (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff([]string{"ref-which"}, loaded.Metadata.RecentTemplates); diff != "" {
			t.Errorf("recent templates mismatch (-want +got):\n%s", diff)
		}
		if loaded.Metadata.Clarifications != 1 {
			t.Errorf("clarifications = %d, want 1", loaded.Metadata.Clarifications)
		}
	})
}

func TestStore_LoadTwiceWithoutAppendIsEqual(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s conversation.Store) {
		ctx := context.Background()
		if _, err := s.Create(ctx, "stable"); err != nil {
			t.Fatalf("Create error: %v", err)
		}
		meta := conversation.NewMetadata()
		if _, err := s.Append(ctx, "stable", userTurn("天気を教えて", nil), meta); err != nil {
			t.Fatalf("Append error: %v", err)
		}

		first, err := s.Load(ctx, "stable")
		if err != nil {
			t.Fatalf("first Load error: %v", err)
		}
		second, err := s.Load(ctx, "stable")
		if err != nil {
			t.Fatalf("second Load error: %v", err)
		}
		if diff := cmp.Diff(first, second); diff != "" {
			t.Errorf("Load is not repeatable (-first +second):\n%s", diff)
		}
	})
}

func TestStore_AppendPreservesOrder(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s conversation.Store) {
		ctx := context.Background()
		if _, err := s.Create(ctx, "ord"); err != nil {
			t.Fatalf("Create error: %v", err)
		}

		contents := []string{"first", "second", "third"}
		meta := conversation.NewMetadata()
		for _, content := range contents {
			if _, err := s.Append(ctx, "ord", userTurn(content, nil), meta); err != nil {
				t.Fatalf("Append %q error: %v", content, err)
			}
		}

		loaded, err := s.Load(ctx, "ord")
		if err != nil {
			t.Fatalf("Load error: %v", err)
		}
		if len(loaded.Turns) != len(contents) {
			t.Fatalf("turn count = %d, want %d", len(loaded.Turns), len(contents))
		}
		for i, want := range contents {
			if loaded.Turns[i].Content != want {
				t.Errorf("turn[%d] = %q, want %q", i, loaded.Turns[i].Content, want)
			}
		}
	})
}

func TestStore_AppendToMissingConversation(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s conversation.Store) {
		_, err := s.Append(context.Background(), "ghost", userTurn("hello", nil), conversation.NewMetadata())
		if !errors.Is(err, conversation.ErrNotFound) {
			t.Errorf("Append error = %v, want ErrNotFound", err)
		}
	})
}

// ─── Reset / Current ────────────────────────────────────────────────────────

func TestStore_CurrentCreatesOnFirstUse(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s conversation.Store) {
		ctx := context.Background()

		first, err := s.Current(ctx)
		if err != nil {
			t.Fatalf("Current error: %v", err)
		}
		if first.ID == "" {
			t.Fatal("Current returned a conversation with an empty id")
		}

		again, err := s.Current(ctx)
		if err != nil {
			t.Fatalf("second Current error: %v", err)
		}
		if again.ID != first.ID {
			t.Errorf("Current changed ids between calls: %q then %q", first.ID, again.ID)
		}
	})
}

func TestStore_ResetSupersedesButKeepsRecords(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s conversation.Store) {
		ctx := context.Background()
		old, err := s.Current(ctx)
		if err != nil {
			t.Fatalf("Current error: %v", err)
		}
		if _, err := s.Append(ctx, old.ID, userTurn("記録して", nil), conversation.NewMetadata()); err != nil {
			t.Fatalf("Append error: %v", err)
		}

		fresh, err := s.Reset(ctx)
		if err != nil {
			t.Fatalf("Reset error: %v", err)
		}
		if fresh.ID == old.ID {
			t.Fatal("Reset returned the superseded conversation")
		}

		cur, err := s.Current(ctx)
		if err != nil {
			t.Fatalf("Current after Reset error: %v", err)
		}
		if cur.ID != fresh.ID {
			t.Errorf("Current = %q, want fresh %q", cur.ID, fresh.ID)
		}

		// Superseded conversation is still durable.
		kept, err := s.Load(ctx, old.ID)
		if err != nil {
			t.Fatalf("Load superseded error: %v", err)
		}
		if len(kept.Turns) != 1 {
			t.Errorf("superseded turn count = %d, want 1", len(kept.Turns))
		}
	})
}

// ─── List / Search ──────────────────────────────────────────────────────────

func TestStore_ListMarksSingleActive(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s conversation.Store) {
		ctx := context.Background()
		if _, err := s.Create(ctx, "one"); err != nil {
			t.Fatalf("Create one error: %v", err)
		}
		if _, err := s.Append(ctx, "one", userTurn("hello", nil), conversation.NewMetadata()); err != nil {
			t.Fatalf("Append error: %v", err)
		}
		if _, err := s.Create(ctx, "two"); err != nil {
			t.Fatalf("Create two error: %v", err)
		}

		summaries, err := s.List(ctx)
		if err != nil {
			t.Fatalf("List error: %v", err)
		}
		if len(summaries) != 2 {
			t.Fatalf("summary count = %d, want 2", len(summaries))
		}

		byID := map[string]conversation.Summary{}
		activeCount := 0
		for _, sum := range summaries {
			byID[sum.ID] = sum
			if sum.Active {
				activeCount++
			}
		}
		if activeCount != 1 {
			t.Errorf("active count = %d, want 1", activeCount)
		}
		if !byID["two"].Active {
			t.Error("latest conversation is not marked active")
		}
		if byID["one"].TurnCount != 1 {
			t.Errorf("turn count for %q = %d, want 1", "one", byID["one"].TurnCount)
		}
		if byID["two"].TurnCount != 0 {
			t.Errorf("turn count for %q = %d, want 0", "two", byID["two"].TurnCount)
		}
	})
}

func TestStore_SearchFindsTurnContent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s conversation.Store) {
		ctx := context.Background()
		if _, err := s.Create(ctx, "srch"); err != nil {
			t.Fatalf("Create error: %v", err)
		}
		meta := conversation.NewMetadata()
		for _, content := range []string{
			"the database migration failed",
			"renamed the config file",
			"retried the database migration",
		} {
			if _, err := s.Append(ctx, "srch", userTurn(content, nil), meta); err != nil {
				t.Fatalf("Append error: %v", err)
			}
		}

		hits, err := s.Search(ctx, "migration", 10)
		if err != nil {
			t.Fatalf("Search error: %v", err)
		}
		if len(hits) != 2 {
			t.Fatalf("hit count = %d, want 2", len(hits))
		}
		for _, hit := range hits {
			if hit.ConversationID != "srch" {
				t.Errorf("hit conversation = %q, want %q", hit.ConversationID, "srch")
			}
		}

		limited, err := s.Search(ctx, "migration", 1)
		if err != nil {
			t.Fatalf("limited Search error: %v", err)
		}
		if len(limited) != 1 {
			t.Errorf("limited hit count = %d, want 1", len(limited))
		}
	})
}

func TestStore_SearchEmptyQuery(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s conversation.Store) {
		hits, err := s.Search(context.Background(), "   ", 10)
		if err != nil {
			t.Fatalf("Search error: %v", err)
		}
		if hits != nil {
			t.Errorf("empty query returned %d hits, want none", len(hits))
		}
	})
}

// ─── Backend-specific behavior ──────────────────────────────────────────────

func TestFileStore_CorruptRecordIsDistinctFromMissing(t *testing.T) {
	dir := t.TempDir()
	s, err := conversation.NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore error: %v", err)
	}
	defer s.Close()

	path := filepath.Join(dir, conversation.ConversationsDir, "bad.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("writing corrupt record: %v", err)
	}

	_, err = s.Load(context.Background(), "bad")
	if !errors.Is(err, conversation.ErrCorrupt) {
		t.Errorf("Load error = %v, want ErrCorrupt", err)
	}
	if errors.Is(err, conversation.ErrNotFound) {
		t.Error("corrupt record misreported as not found")
	}
}

func TestSQLiteStore_CorruptMetadataIsDistinctFromMissing(t *testing.T) {
	s, err := conversation.NewSQLiteStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewSQLiteStore error: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	if _, err := s.Create(ctx, "bad"); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if _, err := s.DB().Exec(`UPDATE conversations SET topic_hints = 'not-json' WHERE id = 'bad'`); err != nil {
		t.Fatalf("corrupting record: %v", err)
	}

	_, err = s.Load(ctx, "bad")
	if !errors.Is(err, conversation.ErrCorrupt) {
		t.Errorf("Load error = %v, want ErrCorrupt", err)
	}
}

func TestSQLiteStore_ReopenKeepsData(t *testing.T) {
	dir := t.TempDir()

	s1, err := conversation.NewSQLiteStore(dir, nil)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	ctx := context.Background()
	if _, err := s1.Create(ctx, "persist"); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if _, err := s1.Append(ctx, "persist", userTurn("残して", nil), conversation.NewMetadata()); err != nil {
		t.Fatalf("Append error: %v", err)
	}
	s1.Close()

	s2, err := conversation.NewSQLiteStore(dir, nil)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer s2.Close()

	loaded, err := s2.Load(ctx, "persist")
	if err != nil {
		t.Fatalf("Load after reopen: %v", err)
	}
	if len(loaded.Turns) != 1 || loaded.Turns[0].Content != "残して" {
		t.Errorf("reopened conversation = %+v, want the appended turn", loaded.Turns)
	}
}
