// boardctl is the operator CLI for the board API. It talks to the database
// directly with the same service layer the HTTP API uses, acting as the
// board owner named by OPS_ADMIN_EMAIL.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"opsboard/api/internal/app"
	"opsboard/api/internal/backup"
	"opsboard/api/internal/config"
	"opsboard/api/internal/maint"
	"opsboard/api/internal/store"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// runtime holds the wiring every subcommand needs. Commands build it
// lazily so --help works without a database.
type runtime struct {
	cfg     config.Config
	db      *sql.DB
	service *app.Service
	maint   *maint.Service
	ownerID string
}

func connect(ctx context.Context) (*runtime, error) {
	cfg := config.Load()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	service := app.New(cfg, store.NewPostgresStore(db), nil)

	owner, err := service.Identity().FindUserByEmail(ctx, cfg.AdminEmail)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("resolve operator (set OPS_ADMIN_EMAIL): %w", err)
	}

	return &runtime{
		cfg:     cfg,
		db:      db,
		service: service,
		maint:   maint.New(service),
		ownerID: owner.ID,
	}, nil
}

func (rt *runtime) close() {
	_ = rt.db.Close()
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "boardctl",
		Short:         "Operate the working board from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newListCmd(),
		newAddCmd(),
		newSeedCmd(),
		newDedupeCmd(),
		newMarkCmd(),
		newSnapshotCmd(),
	)
	return root
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print the working board grouped by column",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := connect(ctx)
			if err != nil {
				return err
			}
			defer rt.close()

			view, err := rt.service.BoardView(ctx, rt.ownerID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s (%d cards)\n", view.Board.Title, len(view.Cards))
			byColumn := make(map[string][]string, len(view.Columns))
			for _, card := range view.Cards {
				line := card.Title
				if card.Status != "" {
					line += " [" + card.Status + "]"
				}
				byColumn[card.ColumnID] = append(byColumn[card.ColumnID], line)
			}
			for _, column := range view.Columns {
				fmt.Fprintf(out, "\n## %s\n", column.Title)
				for _, line := range byColumn[column.ID] {
					fmt.Fprintf(out, "- %s\n", line)
				}
			}
			return nil
		},
	}
}

func newAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <title> [description] [labels-csv]",
		Short: "Add a card to the Backlog column",
		Args:  cobra.RangeArgs(1, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := connect(ctx)
			if err != nil {
				return err
			}
			defer rt.close()

			description := ""
			if len(args) > 1 {
				description = args[1]
			}
			var labels []string
			if len(args) > 2 && strings.TrimSpace(args[2]) != "" {
				for _, label := range strings.Split(args[2], ",") {
					if trimmed := strings.TrimSpace(label); trimmed != "" {
						labels = append(labels, trimmed)
					}
				}
			}

			board, err := rt.service.ResolveWorkingBoard(ctx, rt.ownerID)
			if err != nil {
				return err
			}
			columns, err := rt.service.ListColumns(ctx, rt.ownerID, board.ID)
			if err != nil {
				return err
			}
			column, ok := app.ColumnByTitle(columns, "Backlog")
			if !ok {
				return fmt.Errorf("board %q has no columns", board.Title)
			}

			card, err := rt.service.CreateCard(ctx, rt.ownerID, app.CreateCardInput{
				BoardID:     board.ID,
				ColumnID:    column.ID,
				Title:       args[0],
				Description: description,
				Labels:      labels,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s in %s\n", card.ID, column.Title)
			return nil
		},
	}
}

func newSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed [json-file]",
		Short: "Bulk-insert backlog items, skipping titles already on the board",
		Long: `Reads a JSON array of {"title", "description", "labels"} objects from the
given file, or from stdin when no file is named, and inserts the items that
are not already on the working board.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			var raw []byte
			var err error
			if len(args) == 1 {
				raw, err = os.ReadFile(args[0])
			} else {
				raw, err = io.ReadAll(cmd.InOrStdin())
			}
			if err != nil {
				return fmt.Errorf("read seed input: %w", err)
			}

			var items []maint.SeedItem
			if err := json.Unmarshal(raw, &items); err != nil {
				return fmt.Errorf("parse seed input: %w", err)
			}

			rt, err := connect(ctx)
			if err != nil {
				return err
			}
			defer rt.close()

			inserted, err := rt.maint.SeedBacklog(ctx, rt.ownerID, items)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "inserted %d of %d items\n", inserted, len(items))
			return nil
		},
	}
}

func newDedupeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dedupe",
		Short: "Delete cards whose title duplicates an earlier-created card",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := connect(ctx)
			if err != nil {
				return err
			}
			defer rt.close()

			board, err := rt.service.ResolveWorkingBoard(ctx, rt.ownerID)
			if err != nil {
				return err
			}
			deleted, err := rt.maint.DedupeCards(ctx, rt.ownerID, board.ID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d duplicate cards\n", deleted)
			return nil
		},
	}
}

func newMarkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mark <title-contains> [to-column] [note]",
		Short: "Move the first matching card and optionally annotate it",
		Long: `Finds the earliest-created card whose title contains the given substring,
moves it to the named column (the board's first column when the name does
not match), and appends the note to the description as an [auto] annotation.
A missing card is reported and exits zero; automation treats it as a no-op.`,
		Args: cobra.RangeArgs(1, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := connect(ctx)
			if err != nil {
				return err
			}
			defer rt.close()

			toColumn := "Done"
			if len(args) > 1 {
				toColumn = args[1]
			}
			note := ""
			if len(args) > 2 {
				note = args[2]
			}

			board, err := rt.service.ResolveWorkingBoard(ctx, rt.ownerID)
			if err != nil {
				return err
			}
			result, err := rt.maint.MarkCard(ctx, rt.ownerID, board.ID, args[0], toColumn, note)
			if err != nil {
				return err
			}
			if !result.Found {
				fmt.Fprintf(cmd.OutOrStdout(), "no card matching %q; nothing to do\n", args[0])
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "moved %q to %s\n", result.Title, result.MovedTo)
			return nil
		},
	}
}

func newSnapshotCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot",
		Short: "Archive the working board to the snapshot history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := connect(ctx)
			if err != nil {
				return err
			}
			defer rt.close()

			if strings.TrimSpace(rt.cfg.SnapshotsDir) == "" {
				return fmt.Errorf("OPSBOARD_SNAPSHOTS_DIR is not set")
			}
			if err := os.MkdirAll(rt.cfg.SnapshotsDir, 0o755); err != nil {
				return fmt.Errorf("create snapshots dir: %w", err)
			}

			archive := backup.NewArchive(rt.cfg.SnapshotsDir)
			var uploader *backup.Uploader
			if strings.TrimSpace(rt.cfg.S3Endpoint) != "" {
				uploader, err = backup.NewUploader(rt.cfg.S3Endpoint, rt.cfg.S3AccessKey, rt.cfg.S3SecretKey, rt.cfg.S3Bucket, rt.cfg.S3UseSSL)
				if err != nil {
					return err
				}
				uploadCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
				defer cancel()
				if err := uploader.EnsureBucket(uploadCtx); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: snapshot bucket unavailable: %v\n", err)
					uploader = nil
				}
			}
			rt.service.EnableSnapshots(archive, uploader)

			result, err := rt.service.SnapshotBoard(ctx, rt.ownerID, "boardctl")
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if result.Unchanged {
				fmt.Fprintln(out, "board unchanged since last snapshot")
				return nil
			}
			fmt.Fprintf(out, "snapshot %s committed\n", result.Commit.Hash)
			if result.ObjectName != "" {
				fmt.Fprintf(out, "uploaded %s\n", result.ObjectName)
			}
			return nil
		},
	}
}
