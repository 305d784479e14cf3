package maint

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"opsboard/api/internal/app"
	"opsboard/api/internal/store"
)

// fakeRepo is an in-memory card repository that mimics the service
// semantics the maintenance operations rely on.
type fakeRepo struct {
	boards  []store.Board
	columns []store.Column
	cards   []store.Card

	nextID       int
	deleteCalls  [][]string
	insertCalls  int
	moveCalls    int
	updateCalls  int
	failOnDelete bool
}

func newFakeRepo() *fakeRepo {
	r := &fakeRepo{}
	r.boards = []store.Board{{ID: "board-1", OwnerID: "owner-1", Title: "Master"}}
	r.columns = []store.Column{
		{ID: "col-backlog", BoardID: "board-1", OwnerID: "owner-1", Title: "Backlog", Position: 0},
		{ID: "col-doing", BoardID: "board-1", OwnerID: "owner-1", Title: "Doing", Position: 1},
		{ID: "col-done", BoardID: "board-1", OwnerID: "owner-1", Title: "Done", Position: 2},
	}
	return r
}

func (r *fakeRepo) addCard(title, description, columnID string) store.Card {
	r.nextID++
	card := store.Card{
		ID:          fmt.Sprintf("card-%d", r.nextID),
		BoardID:     "board-1",
		ColumnID:    columnID,
		OwnerID:     "owner-1",
		Title:       title,
		Description: description,
		CreatedAt:   time.Unix(int64(1700000000+r.nextID), 0),
	}
	r.cards = append(r.cards, card)
	return card
}

func (r *fakeRepo) ResolveWorkingBoard(ctx context.Context, ownerID string) (store.Board, error) {
	for _, b := range r.boards {
		if b.OwnerID == ownerID && b.Title == "Master" {
			return b, nil
		}
	}
	if len(r.boards) > 0 {
		return r.boards[0], nil
	}
	return store.Board{}, fmt.Errorf("no board found")
}

func (r *fakeRepo) ListColumns(ctx context.Context, ownerID, boardID string) ([]store.Column, error) {
	var out []store.Column
	for _, c := range r.columns {
		if c.BoardID == boardID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *fakeRepo) ListCards(ctx context.Context, ownerID, boardID string, byCreatedAt bool) ([]store.Card, error) {
	out := make([]store.Card, 0, len(r.cards))
	for _, c := range r.cards {
		if c.BoardID == boardID && c.OwnerID == ownerID {
			out = append(out, c)
		}
	}
	// cards are appended in creation order already
	return out, nil
}

func (r *fakeRepo) CreateCards(ctx context.Context, ownerID string, inputs []app.CreateCardInput) (int, error) {
	r.insertCalls++
	for _, in := range inputs {
		if strings.TrimSpace(in.Title) == "" {
			return 0, fmt.Errorf("title is required")
		}
		r.nextID++
		r.cards = append(r.cards, store.Card{
			ID:          fmt.Sprintf("card-%d", r.nextID),
			BoardID:     in.BoardID,
			ColumnID:    in.ColumnID,
			OwnerID:     ownerID,
			Title:       in.Title,
			Description: in.Description,
			Labels:      in.Labels,
			Position:    in.Position,
			CreatedAt:   time.Unix(int64(1700000000+r.nextID), 0),
		})
	}
	return len(inputs), nil
}

func (r *fakeRepo) MoveCard(ctx context.Context, ownerID, cardID, toColumnID string) error {
	r.moveCalls++
	for i := range r.cards {
		if r.cards[i].ID == cardID && r.cards[i].OwnerID == ownerID {
			r.cards[i].ColumnID = toColumnID
			r.cards[i].Position = 0
			return nil
		}
	}
	return fmt.Errorf("card not found")
}

func (r *fakeRepo) UpdateCard(ctx context.Context, ownerID, cardID string, patch store.CardPatch) error {
	r.updateCalls++
	for i := range r.cards {
		if r.cards[i].ID == cardID && r.cards[i].OwnerID == ownerID {
			if patch.Description != nil {
				r.cards[i].Description = *patch.Description
			}
			if patch.ColumnID != nil {
				r.cards[i].ColumnID = *patch.ColumnID
			}
			return nil
		}
	}
	return fmt.Errorf("card not found")
}

func (r *fakeRepo) DeleteCardsBatch(ctx context.Context, ownerID string, cardIDs []string) (int, error) {
	if r.failOnDelete {
		return 0, fmt.Errorf("store rejected delete")
	}
	r.deleteCalls = append(r.deleteCalls, cardIDs)
	deleted := 0
	var kept []store.Card
	for _, c := range r.cards {
		drop := false
		for _, id := range cardIDs {
			if c.ID == id && c.OwnerID == ownerID {
				drop = true
				break
			}
		}
		if drop {
			deleted++
		} else {
			kept = append(kept, c)
		}
	}
	r.cards = kept
	return deleted, nil
}

func TestSeedBacklogSkipsExistingTitles(t *testing.T) {
	repo := newFakeRepo()
	repo.addCard("X", "", "col-backlog")
	svc := New(repo)

	inserted, err := svc.SeedBacklog(context.Background(), "owner-1", []SeedItem{
		{Title: "X"},
		{Title: "Y"},
	})
	if err != nil {
		t.Fatalf("SeedBacklog failed: %v", err)
	}
	if inserted != 1 {
		t.Fatalf("inserted = %d, want 1", inserted)
	}
	if len(repo.cards) != 2 {
		t.Fatalf("board has %d cards, want 2", len(repo.cards))
	}
}

func TestSeedBacklogIsIdempotent(t *testing.T) {
	repo := newFakeRepo()
	svc := New(repo)
	items := []SeedItem{
		{Title: "A", Description: "first", Labels: []string{"Ops"}},
		{Title: "B", Description: "second"},
	}

	first, err := svc.SeedBacklog(context.Background(), "owner-1", items)
	if err != nil {
		t.Fatalf("first SeedBacklog failed: %v", err)
	}
	if first != 2 {
		t.Fatalf("first run inserted %d, want 2", first)
	}

	second, err := svc.SeedBacklog(context.Background(), "owner-1", items)
	if err != nil {
		t.Fatalf("second SeedBacklog failed: %v", err)
	}
	if second != 0 {
		t.Fatalf("second run inserted %d, want 0", second)
	}
}

func TestSeedBacklogAssignsNegativePositions(t *testing.T) {
	repo := newFakeRepo()
	repo.addCard("existing", "", "col-backlog")
	svc := New(repo)

	_, err := svc.SeedBacklog(context.Background(), "owner-1", []SeedItem{
		{Title: "existing"},
		{Title: "new-1"},
		{Title: "new-2"},
	})
	if err != nil {
		t.Fatalf("SeedBacklog failed: %v", err)
	}

	byTitle := map[string]store.Card{}
	for _, c := range repo.cards {
		byTitle[c.Title] = c
	}
	// positions count only the newly inserted items
	if byTitle["new-1"].Position != -1 || byTitle["new-2"].Position != -2 {
		t.Errorf("positions = %d, %d; want -1, -2", byTitle["new-1"].Position, byTitle["new-2"].Position)
	}
	if byTitle["new-1"].ColumnID != "col-backlog" {
		t.Errorf("seeded into column %s, want col-backlog", byTitle["new-1"].ColumnID)
	}
}

func TestSeedBacklogFallsBackToFirstColumn(t *testing.T) {
	repo := newFakeRepo()
	repo.columns = []store.Column{
		{ID: "col-other", BoardID: "board-1", OwnerID: "owner-1", Title: "Inbox", Position: 0},
	}
	svc := New(repo)

	if _, err := svc.SeedBacklog(context.Background(), "owner-1", []SeedItem{{Title: "Z"}}); err != nil {
		t.Fatalf("SeedBacklog failed: %v", err)
	}
	if repo.cards[0].ColumnID != "col-other" {
		t.Errorf("seeded into %s, want first column col-other", repo.cards[0].ColumnID)
	}
}

func TestDedupeCardsKeepsEarliestOccurrence(t *testing.T) {
	repo := newFakeRepo()
	first := repo.addCard("A", "", "col-backlog")
	repo.addCard("A", "", "col-doing")
	repo.addCard("B", "", "col-backlog")
	svc := New(repo)

	deleted, err := svc.DedupeCards(context.Background(), "owner-1", "board-1")
	if err != nil {
		t.Fatalf("DedupeCards failed: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("deleted = %d, want 1", deleted)
	}
	if len(repo.cards) != 2 {
		t.Fatalf("remaining cards = %d, want 2", len(repo.cards))
	}
	for _, c := range repo.cards {
		if c.Title == "A" && c.ID != first.ID {
			t.Errorf("kept later duplicate %s, want earliest %s", c.ID, first.ID)
		}
	}
}

func TestDedupeCardsIsIdempotent(t *testing.T) {
	repo := newFakeRepo()
	repo.addCard("A", "", "col-backlog")
	repo.addCard("A", "", "col-backlog")
	svc := New(repo)

	ctx := context.Background()
	if _, err := svc.DedupeCards(ctx, "owner-1", "board-1"); err != nil {
		t.Fatalf("first DedupeCards failed: %v", err)
	}
	deleted, err := svc.DedupeCards(ctx, "owner-1", "board-1")
	if err != nil {
		t.Fatalf("second DedupeCards failed: %v", err)
	}
	if deleted != 0 {
		t.Fatalf("second run deleted %d, want 0", deleted)
	}
}

func TestDedupeCardsBatchesDeletes(t *testing.T) {
	repo := newFakeRepo()
	repo.addCard("dup", "", "col-backlog")
	for i := 0; i < 120; i++ {
		repo.addCard("dup", "", "col-backlog")
	}
	svc := New(repo)

	deleted, err := svc.DedupeCards(context.Background(), "owner-1", "board-1")
	if err != nil {
		t.Fatalf("DedupeCards failed: %v", err)
	}
	if deleted != 120 {
		t.Fatalf("deleted = %d, want 120", deleted)
	}
	if len(repo.deleteCalls) != 3 {
		t.Fatalf("delete batches = %d, want 3", len(repo.deleteCalls))
	}
	for i, batch := range repo.deleteCalls {
		if len(batch) > deleteBatchSize {
			t.Errorf("batch %d has %d ids, exceeds %d", i, len(batch), deleteBatchSize)
		}
	}
}

func TestDedupeCardsNeverDeletesUniqueTitles(t *testing.T) {
	repo := newFakeRepo()
	repo.addCard("only", "", "col-backlog")
	svc := New(repo)

	deleted, err := svc.DedupeCards(context.Background(), "owner-1", "board-1")
	if err != nil {
		t.Fatalf("DedupeCards failed: %v", err)
	}
	if deleted != 0 || len(repo.cards) != 1 {
		t.Fatalf("deleted = %d, remaining = %d; want 0 and 1", deleted, len(repo.cards))
	}
}

func TestMarkCardMovesBySubstringAndAppendsNote(t *testing.T) {
	repo := newFakeRepo()
	card := repo.addCard("(Marketing) Resumo do posting-log-v2.csv no dashboard", "initial context", "col-backlog")
	svc := New(repo)

	result, err := svc.MarkCard(context.Background(), "owner-1", "board-1", "Marketing", "Done", "shipped in v2")
	if err != nil {
		t.Fatalf("MarkCard failed: %v", err)
	}
	if !result.Found {
		t.Fatal("expected card to be found")
	}
	if result.CardID != card.ID || result.MovedTo != "Done" {
		t.Errorf("result = %+v, want card %s moved to Done", result, card.ID)
	}

	moved := repo.cards[0]
	if moved.ColumnID != "col-done" {
		t.Errorf("card in column %s, want col-done", moved.ColumnID)
	}
	want := "initial context\n\n[auto] shipped in v2"
	if moved.Description != want {
		t.Errorf("description = %q, want %q", moved.Description, want)
	}
}

func TestMarkCardWithoutNoteLeavesDescription(t *testing.T) {
	repo := newFakeRepo()
	repo.addCard("deploy checklist", "keep me", "col-backlog")
	svc := New(repo)

	result, err := svc.MarkCard(context.Background(), "owner-1", "board-1", "deploy", "Doing", "")
	if err != nil {
		t.Fatalf("MarkCard failed: %v", err)
	}
	if !result.Found {
		t.Fatal("expected card to be found")
	}
	if repo.cards[0].Description != "keep me" {
		t.Errorf("description changed to %q", repo.cards[0].Description)
	}
	if repo.updateCalls != 0 {
		t.Errorf("update calls = %d, want 0 when no note given", repo.updateCalls)
	}
}

func TestMarkCardNotFoundIsGracefulNoOp(t *testing.T) {
	repo := newFakeRepo()
	repo.addCard("something else", "", "col-backlog")
	svc := New(repo)

	result, err := svc.MarkCard(context.Background(), "owner-1", "board-1", "missing", "Done", "note")
	if err != nil {
		t.Fatalf("MarkCard returned error: %v", err)
	}
	if result.Found {
		t.Fatal("expected Found=false")
	}
	if repo.moveCalls != 0 {
		t.Errorf("move calls = %d, want 0", repo.moveCalls)
	}
}

func TestMarkCardFallsBackToFirstColumn(t *testing.T) {
	repo := newFakeRepo()
	repo.addCard("task", "", "col-doing")
	svc := New(repo)

	result, err := svc.MarkCard(context.Background(), "owner-1", "board-1", "task", "NoSuchColumn", "")
	if err != nil {
		t.Fatalf("MarkCard failed: %v", err)
	}
	if result.ColumnID != "col-backlog" {
		t.Errorf("moved to %s, want fallback col-backlog", result.ColumnID)
	}
}

func TestMarkCardPicksEarliestCreatedMatch(t *testing.T) {
	repo := newFakeRepo()
	first := repo.addCard("review alpha", "", "col-backlog")
	repo.addCard("review beta", "", "col-backlog")
	svc := New(repo)

	result, err := svc.MarkCard(context.Background(), "owner-1", "board-1", "review", "Done", "")
	if err != nil {
		t.Fatalf("MarkCard failed: %v", err)
	}
	if result.CardID != first.ID {
		t.Errorf("matched %s, want earliest-created %s", result.CardID, first.ID)
	}
}
