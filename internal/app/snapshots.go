package app

import (
	"context"
	"errors"
	"log"
	"time"

	"opsboard/api/internal/backup"
)

// SnapshotResult reports one snapshot run. Unchanged means the board state
// matched the last archived revision and nothing was committed.
type SnapshotResult struct {
	Commit     backup.CommitInfo
	ObjectName string
	Unchanged  bool
}

// EnableSnapshots wires the git-backed snapshot archive and, optionally, an
// object-store uploader for off-host copies. Both are optional at runtime.
func (s *Service) EnableSnapshots(archive *backup.Archive, uploader *backup.Uploader) {
	s.archive = archive
	s.uploader = uploader
}

// SnapshotBoard archives the owner's working board: columns, cards, and the
// board row itself. The upload to the object store is best effort; a failed
// upload does not fail the snapshot.
func (s *Service) SnapshotBoard(ctx context.Context, ownerID, author string) (SnapshotResult, error) {
	if s.archive == nil {
		return SnapshotResult{}, invalidArgument("snapshots are not configured")
	}

	board, err := s.ResolveWorkingBoard(ctx, ownerID)
	if err != nil {
		return SnapshotResult{}, err
	}
	columns, err := s.ListColumns(ctx, ownerID, board.ID)
	if err != nil {
		return SnapshotResult{}, err
	}
	cards, err := s.ListCards(ctx, ownerID, board.ID, false)
	if err != nil {
		return SnapshotResult{}, err
	}

	snap := backup.Snapshot{
		Board:   board,
		Columns: columns,
		Cards:   cards,
		TakenAt: time.Now().UTC(),
	}

	info, err := s.archive.Commit(board.ID, snap, author, "board snapshot")
	if errors.Is(err, backup.ErrNoChanges) {
		return SnapshotResult{Unchanged: true}, nil
	}
	if err != nil {
		return SnapshotResult{}, storeError(err)
	}

	result := SnapshotResult{Commit: info}
	if s.uploader != nil {
		name, err := s.uploader.Upload(ctx, board.ID, snap)
		if err != nil {
			log.Printf("snapshot upload failed for board=%s: %v", board.ID, err)
		} else {
			result.ObjectName = name
		}
	}
	return result, nil
}

// SnapshotHistory lists archived revisions of the owner's working board,
// newest first.
func (s *Service) SnapshotHistory(ctx context.Context, ownerID string, limit int) ([]backup.CommitInfo, error) {
	if s.archive == nil {
		return nil, invalidArgument("snapshots are not configured")
	}
	board, err := s.ResolveWorkingBoard(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	history, err := s.archive.History(board.ID, limit)
	if err != nil {
		return nil, notFound("no snapshots found")
	}
	return history, nil
}
