package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, display_name, password_hash)
		VALUES ($1, LOWER($2), $3, $4)
	`, user.ID, user.Email, user.DisplayName, user.PasswordHash)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, display_name, password_hash, created_at
		FROM users
		WHERE email = LOWER($1)
	`, email).Scan(&user.ID, &user.Email, &user.DisplayName, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, display_name, password_hash, created_at
		FROM users
		WHERE id = $1
	`, userID).Scan(&user.ID, &user.Email, &user.DisplayName, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) ListBoards(ctx context.Context, ownerID string) ([]Board, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, title, created_at
		FROM boards
		WHERE owner_id = $1
		ORDER BY created_at ASC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list boards: %w", err)
	}
	defer rows.Close()

	items := make([]Board, 0)
	for rows.Next() {
		var item Board
		if err := rows.Scan(&item.ID, &item.OwnerID, &item.Title, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan board: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate boards: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertBoard(ctx context.Context, board Board) (Board, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO boards (owner_id, title)
		VALUES ($1, $2)
		RETURNING id, owner_id, title, created_at
	`, board.OwnerID, board.Title).Scan(&board.ID, &board.OwnerID, &board.Title, &board.CreatedAt)
	if err != nil {
		return Board{}, fmt.Errorf("insert board: %w", err)
	}
	return board, nil
}

func (s *PostgresStore) InsertColumns(ctx context.Context, columns []Column) error {
	if len(columns) == 0 {
		return nil
	}
	var (
		values []string
		args   []any
	)
	for i, col := range columns {
		n := i * 4
		values = append(values, fmt.Sprintf("($%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4))
		args = append(args, col.BoardID, col.OwnerID, col.Title, col.Position)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO columns (board_id, owner_id, title, position)
		VALUES `+strings.Join(values, ", "), args...)
	if err != nil {
		return fmt.Errorf("insert columns: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListColumns(ctx context.Context, ownerID, boardID string) ([]Column, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, board_id, owner_id, title, position
		FROM columns
		WHERE owner_id = $1 AND board_id = $2
		ORDER BY position ASC
	`, ownerID, boardID)
	if err != nil {
		return nil, fmt.Errorf("list columns: %w", err)
	}
	defer rows.Close()

	items := make([]Column, 0)
	for rows.Next() {
		var item Column
		if err := rows.Scan(&item.ID, &item.BoardID, &item.OwnerID, &item.Title, &item.Position); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListCards(ctx context.Context, ownerID, boardID string, byCreatedAt bool) ([]Card, error) {
	order := "position ASC, created_at ASC"
	if byCreatedAt {
		order = "created_at ASC"
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, board_id, column_id, owner_id, title, COALESCE(description, ''), position,
			COALESCE(labels, '[]'::jsonb), COALESCE(status, ''), COALESCE(assignee, ''), created_at
		FROM cards
		WHERE owner_id = $1 AND board_id = $2
		ORDER BY `+order, ownerID, boardID)
	if err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}
	defer rows.Close()

	items := make([]Card, 0)
	for rows.Next() {
		item, err := scanCard(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cards: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetCard(ctx context.Context, ownerID, cardID string) (Card, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, board_id, column_id, owner_id, title, COALESCE(description, ''), position,
			COALESCE(labels, '[]'::jsonb), COALESCE(status, ''), COALESCE(assignee, ''), created_at
		FROM cards
		WHERE owner_id = $1 AND id = $2
	`, ownerID, cardID)
	return scanCard(row)
}

func (s *PostgresStore) InsertCard(ctx context.Context, card Card) (Card, error) {
	labels, err := encodeLabels(card.Labels)
	if err != nil {
		return Card{}, err
	}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO cards (board_id, column_id, owner_id, title, description, position, labels, status, assignee)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8, $9)
		RETURNING id, created_at
	`, card.BoardID, card.ColumnID, card.OwnerID, card.Title, card.Description, card.Position,
		labels, card.Status, card.Assignee).Scan(&card.ID, &card.CreatedAt)
	if err != nil {
		return Card{}, fmt.Errorf("insert card: %w", err)
	}
	return card, nil
}

// InsertCards writes a batch of cards in a single statement, matching the
// one-request bulk insert the seeding path expects from the store.
func (s *PostgresStore) InsertCards(ctx context.Context, cards []Card) (int, error) {
	if len(cards) == 0 {
		return 0, nil
	}
	var (
		values []string
		args   []any
	)
	for i, card := range cards {
		labels, err := encodeLabels(card.Labels)
		if err != nil {
			return 0, err
		}
		n := i * 9
		values = append(values, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d::jsonb, $%d, $%d)",
			n+1, n+2, n+3, n+4, n+5, n+6, n+7, n+8, n+9))
		args = append(args, card.BoardID, card.ColumnID, card.OwnerID, card.Title,
			card.Description, card.Position, labels, card.Status, card.Assignee)
	}
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO cards (board_id, column_id, owner_id, title, description, position, labels, status, assignee)
		VALUES `+strings.Join(values, ", "), args...)
	if err != nil {
		return 0, fmt.Errorf("insert cards: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("insert cards rows: %w", err)
	}
	return int(affected), nil
}

// UpdateCard applies a partial update. It reports false when the card does
// not exist for this owner, which callers surface as not-found.
func (s *PostgresStore) UpdateCard(ctx context.Context, ownerID, cardID string, patch CardPatch) (bool, error) {
	sets := []string{}
	args := []any{ownerID, cardID}
	n := 3

	addSet := func(column string, value any) {
		sets = append(sets, fmt.Sprintf("%s = $%d", column, n))
		args = append(args, value)
		n++
	}

	if patch.ColumnID != nil {
		addSet("column_id", *patch.ColumnID)
	}
	if patch.Description != nil {
		addSet("description", *patch.Description)
	}
	if patch.Labels != nil {
		labels, err := encodeLabels(*patch.Labels)
		if err != nil {
			return false, err
		}
		sets = append(sets, fmt.Sprintf("labels = $%d::jsonb", n))
		args = append(args, labels)
		n++
	}
	if patch.Status != nil {
		addSet("status", *patch.Status)
	}
	if patch.Assignee != nil {
		addSet("assignee", *patch.Assignee)
	}
	if patch.Position != nil {
		addSet("position", *patch.Position)
	}
	if len(sets) == 0 {
		return true, nil
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE cards SET `+strings.Join(sets, ", ")+`
		WHERE owner_id = $1 AND id = $2
	`, args...)
	if err != nil {
		return false, fmt.Errorf("update card: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update card rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) DeleteCard(ctx context.Context, ownerID, cardID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM cards WHERE owner_id = $1 AND id = $2
	`, ownerID, cardID)
	if err != nil {
		return false, fmt.Errorf("delete card: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete card rows: %w", err)
	}
	return affected > 0, nil
}

// DeleteCards removes a batch of cards by id. Callers are responsible for
// keeping batches within store request limits.
func (s *PostgresStore) DeleteCards(ctx context.Context, ownerID string, cardIDs []string) (int, error) {
	if len(cardIDs) == 0 {
		return 0, nil
	}
	placeholders := make([]string, len(cardIDs))
	args := []any{ownerID}
	for i, id := range cardIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+2)
		args = append(args, id)
	}
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM cards WHERE owner_id = $1 AND id IN (`+strings.Join(placeholders, ", ")+`)
	`, args...)
	if err != nil {
		return 0, fmt.Errorf("delete cards: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete cards rows: %w", err)
	}
	return int(affected), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCard(row rowScanner) (Card, error) {
	var (
		item      Card
		labelsRaw []byte
	)
	err := row.Scan(
		&item.ID,
		&item.BoardID,
		&item.ColumnID,
		&item.OwnerID,
		&item.Title,
		&item.Description,
		&item.Position,
		&labelsRaw,
		&item.Status,
		&item.Assignee,
		&item.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Card{}, err
	}
	if err != nil {
		return Card{}, fmt.Errorf("scan card: %w", err)
	}
	if err := json.Unmarshal(labelsRaw, &item.Labels); err != nil {
		return Card{}, fmt.Errorf("decode card labels: %w", err)
	}
	return item, nil
}

func encodeLabels(labels []string) (string, error) {
	if labels == nil {
		labels = []string{}
	}
	encoded, err := json.Marshal(labels)
	if err != nil {
		return "", fmt.Errorf("encode card labels: %w", err)
	}
	return string(encoded), nil
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
