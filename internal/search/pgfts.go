package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true — if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search queries the cards table using plainto_tsquery and ts_rank, with
// ts_headline for snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" || q.OwnerID == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	where := "c.owner_id = $2 AND c.fts @@ plainto_tsquery('english', $1)"
	args := []any{q.Text, q.OwnerID}
	if q.BoardID != "" {
		where += " AND c.board_id = $3"
		args = append(args, q.BoardID)
	}

	query := fmt.Sprintf(`
		SELECT c.id, c.board_id, c.column_id, c.title,
			ts_headline('english', coalesce(c.description, ''), plainto_tsquery('english', $1), 'MaxFragments=1,MaxWords=30') AS snippet,
			c.status,
			COUNT(*) OVER () AS total
		FROM cards c
		WHERE %s
		ORDER BY ts_rank(c.fts, plainto_tsquery('english', $1)) DESC, c.created_at ASC
		LIMIT %d OFFSET %d
	`, where, limit, offset)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts search: %w", err)
	}
	defer rows.Close()

	var (
		results []Result
		total   int
	)
	for rows.Next() {
		var item Result
		if err := rows.Scan(&item.ID, &item.BoardID, &item.ColumnID, &item.Title, &item.Snippet, &item.Status, &total); err != nil {
			return nil, 0, fmt.Errorf("scan pgfts result: %w", err)
		}
		results = append(results, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate pgfts results: %w", err)
	}
	return results, total, nil
}
