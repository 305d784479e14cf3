package backup

import (
	"errors"
	"testing"
	"time"

	"opsboard/api/internal/store"
)

func sampleSnapshot(cardTitle string) Snapshot {
	return Snapshot{
		Board: store.Board{ID: "board_1", OwnerID: "user_1", Title: "Master"},
		Columns: []store.Column{
			{ID: "col_1", BoardID: "board_1", Title: "Backlog", Position: 0},
			{ID: "col_2", BoardID: "board_1", Title: "Done", Position: 1},
		},
		Cards: []store.Card{
			{ID: "card_1", BoardID: "board_1", ColumnID: "col_1", OwnerID: "user_1", Title: cardTitle},
		},
		TakenAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestArchiveCommitAndLatest(t *testing.T) {
	archive := NewArchive(t.TempDir())

	info, err := archive.Commit("board_1", sampleSnapshot("ship weekly report"), "ops", "nightly snapshot")
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if info.Hash == "" || len(info.Hash) != 7 {
		t.Fatalf("expected short hash, got %q", info.Hash)
	}

	snap, latest, err := archive.Latest("board_1")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.Hash != info.Hash {
		t.Fatalf("latest hash %q != committed hash %q", latest.Hash, info.Hash)
	}
	if len(snap.Cards) != 1 || snap.Cards[0].Title != "ship weekly report" {
		t.Fatalf("unexpected snapshot cards: %+v", snap.Cards)
	}
}

func TestArchiveUnchangedSnapshotIsNotCommitted(t *testing.T) {
	archive := NewArchive(t.TempDir())
	snap := sampleSnapshot("triage inbox")

	if _, err := archive.Commit("board_1", snap, "ops", "first"); err != nil {
		t.Fatalf("first commit: %v", err)
	}
	_, err := archive.Commit("board_1", snap, "ops", "second")
	if !errors.Is(err, ErrNoChanges) {
		t.Fatalf("expected ErrNoChanges, got %v", err)
	}

	history, err := archive.History("board_1", 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected 1 revision, got %d", len(history))
	}
}

func TestArchiveHistoryNewestFirstWithLimit(t *testing.T) {
	archive := NewArchive(t.TempDir())

	titles := []string{"one", "two", "three"}
	for _, title := range titles {
		if _, err := archive.Commit("board_1", sampleSnapshot(title), "ops", "snapshot "+title); err != nil {
			t.Fatalf("commit %q: %v", title, err)
		}
	}

	history, err := archive.History("board_1", 2)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 revisions, got %d", len(history))
	}
	if history[0].Message != "snapshot three" {
		t.Fatalf("expected newest first, got %q", history[0].Message)
	}
}

func TestArchiveSeparateBoardsDoNotShareHistory(t *testing.T) {
	archive := NewArchive(t.TempDir())

	if _, err := archive.Commit("board_a", sampleSnapshot("a"), "ops", "a"); err != nil {
		t.Fatalf("commit a: %v", err)
	}
	if _, err := archive.Commit("board_b", sampleSnapshot("b"), "ops", "b"); err != nil {
		t.Fatalf("commit b: %v", err)
	}

	history, err := archive.History("board_a", 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected isolated history, got %d revisions", len(history))
	}
}
