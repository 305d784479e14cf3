// Package backup archives point-in-time board snapshots. Each board gets its
// own git repository so snapshot history is browsable with ordinary git
// tooling, and snapshots can additionally be pushed to an S3-compatible
// bucket for off-host retention.
package backup

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"

	"opsboard/api/internal/store"
)

const snapshotFile = "snapshot.json"

// ErrNoChanges is returned when the board state is identical to the last
// archived snapshot; nothing is committed.
var ErrNoChanges = errors.New("snapshot unchanged")

// Snapshot is the archived state of one board.
type Snapshot struct {
	Board   store.Board    `json:"board"`
	Columns []store.Column `json:"columns"`
	Cards   []store.Card   `json:"cards"`
	TakenAt time.Time      `json:"takenAt"`
}

// CommitInfo describes one archived snapshot revision.
type CommitInfo struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

type Archive struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func NewArchive(baseDir string) *Archive {
	return &Archive{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

func (a *Archive) repoPath(boardID string) string {
	return filepath.Join(a.baseDir, boardID)
}

func (a *Archive) boardLock(boardID string) *sync.Mutex {
	a.lockMu.Lock()
	defer a.lockMu.Unlock()
	lock, ok := a.locks[boardID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	a.locks[boardID] = lock
	return lock
}

// Commit archives a snapshot for the board, creating the repository on
// first use. Returns ErrNoChanges when the snapshot matches the last
// archived state byte for byte.
func (a *Archive) Commit(boardID string, snap Snapshot, author, message string) (CommitInfo, error) {
	lock := a.boardLock(boardID)
	lock.Lock()
	defer lock.Unlock()

	path := a.repoPath(boardID)
	repo, err := git.PlainOpen(path)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		if mkErr := os.MkdirAll(path, 0o755); mkErr != nil {
			return CommitInfo{}, fmt.Errorf("create archive dir: %w", mkErr)
		}
		repo, err = git.PlainInit(path, false)
		if err != nil {
			return CommitInfo{}, fmt.Errorf("init archive repo: %w", err)
		}
	} else if err != nil {
		return CommitInfo{}, fmt.Errorf("open archive repo: %w", err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return CommitInfo{}, fmt.Errorf("open worktree: %w", err)
	}

	payload, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return CommitInfo{}, fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := os.WriteFile(filepath.Join(path, snapshotFile), append(payload, '\n'), 0o644); err != nil {
		return CommitInfo{}, fmt.Errorf("write snapshot: %w", err)
	}

	if _, err := worktree.Add(snapshotFile); err != nil {
		return CommitInfo{}, fmt.Errorf("git add snapshot: %w", err)
	}

	status, err := worktree.Status()
	if err != nil {
		return CommitInfo{}, fmt.Errorf("read worktree status: %w", err)
	}
	if status.IsClean() {
		return CommitInfo{}, ErrNoChanges
	}

	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@opsboard.local", sanitizeEmail(author)),
			When:  time.Now(),
		},
	})
	if err != nil {
		return CommitInfo{}, fmt.Errorf("commit snapshot: %w", err)
	}

	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return CommitInfo{}, fmt.Errorf("read commit object: %w", err)
	}
	return toCommitInfo(commitObj), nil
}

// Latest reads the most recently archived snapshot for the board.
func (a *Archive) Latest(boardID string) (Snapshot, CommitInfo, error) {
	lock := a.boardLock(boardID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(a.repoPath(boardID))
	if err != nil {
		return Snapshot{}, CommitInfo{}, fmt.Errorf("open archive repo: %w", err)
	}

	head, err := repo.Head()
	if err != nil {
		return Snapshot{}, CommitInfo{}, fmt.Errorf("resolve archive head: %w", err)
	}
	commitObj, err := repo.CommitObject(head.Hash())
	if err != nil {
		return Snapshot{}, CommitInfo{}, fmt.Errorf("load commit object: %w", err)
	}

	file, err := commitObj.File(snapshotFile)
	if err != nil {
		return Snapshot{}, CommitInfo{}, fmt.Errorf("load snapshot from commit: %w", err)
	}
	reader, err := file.Reader()
	if err != nil {
		return Snapshot{}, CommitInfo{}, fmt.Errorf("open snapshot reader: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return Snapshot{}, CommitInfo{}, fmt.Errorf("read snapshot bytes: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, CommitInfo{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, toCommitInfo(commitObj), nil
}

// History lists archived snapshot revisions, newest first.
func (a *Archive) History(boardID string, limit int) ([]CommitInfo, error) {
	lock := a.boardLock(boardID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(a.repoPath(boardID))
	if err != nil {
		return nil, fmt.Errorf("open archive repo: %w", err)
	}

	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolve archive head: %w", err)
	}

	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]CommitInfo, 0, limit)
	count := 0
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toCommitInfo(commitObj))
		count++
		if limit > 0 && count >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

func toCommitInfo(commitObj *object.Commit) CommitInfo {
	return CommitInfo{
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "operator"
	}
	return string(out)
}
