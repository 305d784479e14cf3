// Package maint centralizes the batch board operations that used to live in
// independent one-off scripts: backlog seeding, duplicate-title pruning, and
// status-driven card movement. All of them go through the card repository so
// every call path observes the same invariants.
package maint

import (
	"context"
	"fmt"
	"log"
	"strings"

	"opsboard/api/internal/app"
	"opsboard/api/internal/store"
)

// deleteBatchSize caps ids per delete request to stay under store payload
// limits. Batches are issued sequentially, never in parallel.
const deleteBatchSize = 50

// Repository is the card repository surface the maintenance operations run
// against, implemented by app.Service.
type Repository interface {
	ResolveWorkingBoard(ctx context.Context, ownerID string) (store.Board, error)
	ListColumns(ctx context.Context, ownerID, boardID string) ([]store.Column, error)
	ListCards(ctx context.Context, ownerID, boardID string, byCreatedAt bool) ([]store.Card, error)
	CreateCards(ctx context.Context, ownerID string, inputs []app.CreateCardInput) (int, error)
	MoveCard(ctx context.Context, ownerID, cardID, toColumnID string) error
	UpdateCard(ctx context.Context, ownerID, cardID string, patch store.CardPatch) error
	DeleteCardsBatch(ctx context.Context, ownerID string, cardIDs []string) (int, error)
}

type Service struct {
	repo Repository
}

func New(repo Repository) *Service {
	return &Service{repo: repo}
}

// SeedItem is one backlog entry for bulk seeding.
type SeedItem struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Labels      []string `json:"labels"`
}

// SeedBacklog inserts the given items into the working board's Backlog
// column, skipping titles that already exist anywhere on the board. New
// items get strictly negative, decreasing positions so they float above
// manually ordered cards. Listing then inserting is a read-then-write
// race between concurrent seed runs; that window is accepted for the
// single-operator usage this serves.
func (s *Service) SeedBacklog(ctx context.Context, ownerID string, items []SeedItem) (int, error) {
	board, err := s.repo.ResolveWorkingBoard(ctx, ownerID)
	if err != nil {
		return 0, err
	}

	columns, err := s.repo.ListColumns(ctx, ownerID, board.ID)
	if err != nil {
		return 0, err
	}
	// Falls back to the first column when no "Backlog" exists.
	backlog, ok := app.ColumnByTitle(columns, "Backlog")
	if !ok {
		return 0, fmt.Errorf("board %s has no columns", board.ID)
	}

	existing, err := s.repo.ListCards(ctx, ownerID, board.ID, false)
	if err != nil {
		return 0, err
	}
	existingTitles := make(map[string]struct{}, len(existing))
	for _, card := range existing {
		existingTitles[card.Title] = struct{}{}
	}

	var inputs []app.CreateCardInput
	for _, item := range items {
		if _, dup := existingTitles[item.Title]; dup {
			continue
		}
		inputs = append(inputs, app.CreateCardInput{
			BoardID:     board.ID,
			ColumnID:    backlog.ID,
			Title:       item.Title,
			Description: item.Description,
			Labels:      item.Labels,
			Position:    -1 * (len(inputs) + 1),
		})
	}

	if len(inputs) == 0 {
		log.Printf("seed: no new backlog items (all already exist)")
		return 0, nil
	}

	inserted, err := s.repo.CreateCards(ctx, ownerID, inputs)
	if err != nil {
		return 0, err
	}
	log.Printf("seed: inserted %d backlog items", inserted)
	return inserted, nil
}

// DedupeCards removes cards whose exact title already appeared on an
// earlier-created card, keeping the earliest occurrence. Deletes go out in
// sequential batches. Running it again immediately deletes nothing.
func (s *Service) DedupeCards(ctx context.Context, ownerID, boardID string) (int, error) {
	cards, err := s.repo.ListCards(ctx, ownerID, boardID, true)
	if err != nil {
		return 0, err
	}

	seen := make(map[string]struct{}, len(cards))
	var toDelete []string
	for _, card := range cards {
		if _, dup := seen[card.Title]; dup {
			toDelete = append(toDelete, card.ID)
			continue
		}
		seen[card.Title] = struct{}{}
	}

	deleted := 0
	for len(toDelete) > 0 {
		batch := toDelete
		if len(batch) > deleteBatchSize {
			batch = batch[:deleteBatchSize]
		}
		toDelete = toDelete[len(batch):]

		n, err := s.repo.DeleteCardsBatch(ctx, ownerID, batch)
		if err != nil {
			return deleted, err
		}
		deleted += n
	}

	log.Printf("dedupe: deleted %d duplicate cards", deleted)
	return deleted, nil
}

// MarkResult reports the outcome of MarkCard. Found=false is a graceful
// no-op, not an error: automation driving this treats a missing card as a
// non-fatal signal.
type MarkResult struct {
	Found    bool
	CardID   string
	Title    string
	MovedTo  string
	ColumnID string
}

// MarkCard moves the first card whose title contains titleContains to the
// column named toColumnTitle (first column when absent) and, when note is
// non-blank, appends it to the description as an "[auto]" annotation.
// "First" means earliest created_at; the store's natural return order is
// unspecified, so the match is pinned to creation order to stay
// deterministic.
func (s *Service) MarkCard(ctx context.Context, ownerID, boardID, titleContains, toColumnTitle, note string) (MarkResult, error) {
	if strings.TrimSpace(titleContains) == "" {
		return MarkResult{}, fmt.Errorf("title substring is required")
	}

	columns, err := s.repo.ListColumns(ctx, ownerID, boardID)
	if err != nil {
		return MarkResult{}, err
	}
	// Falls back to the first column when the named column does not exist.
	target, ok := app.ColumnByTitle(columns, toColumnTitle)
	if !ok {
		return MarkResult{}, fmt.Errorf("board %s has no columns", boardID)
	}

	cards, err := s.repo.ListCards(ctx, ownerID, boardID, true)
	if err != nil {
		return MarkResult{}, err
	}

	var card *store.Card
	for i := range cards {
		if strings.Contains(cards[i].Title, titleContains) {
			card = &cards[i]
			break
		}
	}
	if card == nil {
		log.Printf("mark: card not found for %q", titleContains)
		return MarkResult{Found: false}, nil
	}

	if err := s.repo.MoveCard(ctx, ownerID, card.ID, target.ID); err != nil {
		return MarkResult{}, err
	}

	if strings.TrimSpace(note) != "" {
		annotated := strings.TrimSpace(card.Description + "\n\n[auto] " + note)
		if err := s.repo.UpdateCard(ctx, ownerID, card.ID, store.CardPatch{Description: &annotated}); err != nil {
			return MarkResult{}, err
		}
	}

	log.Printf("mark: moved %q to %s", card.Title, target.Title)
	return MarkResult{
		Found:    true,
		CardID:   card.ID,
		Title:    card.Title,
		MovedTo:  target.Title,
		ColumnID: target.ID,
	}, nil
}
