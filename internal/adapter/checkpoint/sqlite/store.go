// Package sqlite persists batch checkpoints in a SQLite database. Each Save
// writes the full checkpoint in one transaction, so a subsequent Load sees
// either the previous or the updated state, never a partial write.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/pressly/goose/v3"
	"modernc.org/sqlite"

	"github.com/tmarlin/clipharvest/internal/domain"
	"github.com/tmarlin/clipharvest/internal/port"
)

//go:embed migrations/*.sql
var migrations embed.FS

type Store struct {
	db *sql.DB
}

var hookOnce sync.Once

func registerHook() {
	hookOnce.Do(func() {
		sqlite.RegisterConnectionHook(func(conn sqlite.ExecQuerierContext, dsn string) error {
			pragmas := []string{
				"PRAGMA journal_mode = WAL",
				"PRAGMA busy_timeout = 5000",
				"PRAGMA synchronous = NORMAL",
				"PRAGMA foreign_keys = ON",
			}
			for _, p := range pragmas {
				if _, err := conn.ExecContext(context.Background(), p, nil); err != nil {
					return fmt.Errorf("execute %s: %w", p, err)
				}
			}
			return nil
		})
	})
}

func NewStore(dataDir string) (*Store, error) {
	registerHook()

	dbPath := filepath.Join(dataDir, "clipharvest.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Single connection: WAL allows concurrent reads but only one writer,
	// and the scheduler is the only writer anyway.
	db.SetMaxOpenConns(1)

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Load(ctx context.Context, batchID string) (*domain.BatchCheckpoint, error) {
	cp := &domain.BatchCheckpoint{
		BatchID:          batchID,
		RejectionReasons: make(map[string]int),
		Processed:        make(map[string]domain.Outcome),
		Cursors:          make(map[string]string),
	}

	var createdAt, updatedAt time.Time
	err := s.db.QueryRowContext(ctx, `
		SELECT created_at, updated_at, target_mode, target_clips, target_hours,
		       accepted_count, accepted_seconds, rejected_count, failed_count
		FROM batches WHERE batch_id = ?`, batchID).
		Scan(&createdAt, &updatedAt, (*string)(&cp.Target.Mode), &cp.Target.MaxClips, &cp.Target.TargetHours,
			&cp.AcceptedCount, &cp.AcceptedSeconds, &cp.RejectedCount, &cp.FailedCount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("load batch %s: %w", batchID, err)
	}
	cp.CreatedAt = createdAt
	cp.UpdatedAt = updatedAt

	if err := s.loadProcessed(ctx, cp); err != nil {
		return nil, err
	}
	if err := s.loadCursors(ctx, cp); err != nil {
		return nil, err
	}
	if err := s.loadReasons(ctx, cp); err != nil {
		return nil, err
	}
	return cp, nil
}

func (s *Store) loadProcessed(ctx context.Context, cp *domain.BatchCheckpoint) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT clip_key, outcome FROM processed_clips WHERE batch_id = ?`, cp.BatchID)
	if err != nil {
		return fmt.Errorf("load processed clips: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, outcome string
		if err := rows.Scan(&key, &outcome); err != nil {
			return fmt.Errorf("scan processed clip: %w", err)
		}
		cp.Processed[key] = domain.Outcome(outcome)
	}
	return rows.Err()
}

func (s *Store) loadCursors(ctx context.Context, cp *domain.BatchCheckpoint) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source_id, cursor FROM source_cursors WHERE batch_id = ?`, cp.BatchID)
	if err != nil {
		return fmt.Errorf("load cursors: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var sourceID, cursor string
		if err := rows.Scan(&sourceID, &cursor); err != nil {
			return fmt.Errorf("scan cursor: %w", err)
		}
		cp.Cursors[sourceID] = cursor
	}
	return rows.Err()
}

func (s *Store) loadReasons(ctx context.Context, cp *domain.BatchCheckpoint) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT reason, count FROM rejection_reasons WHERE batch_id = ?`, cp.BatchID)
	if err != nil {
		return fmt.Errorf("load rejection reasons: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var reason string
		var count int
		if err := rows.Scan(&reason, &count); err != nil {
			return fmt.Errorf("scan rejection reason: %w", err)
		}
		cp.RejectionReasons[reason] = count
	}
	return rows.Err()
}

func (s *Store) Save(ctx context.Context, cp *domain.BatchCheckpoint) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO batches (batch_id, created_at, updated_at, target_mode, target_clips, target_hours,
		                     accepted_count, accepted_seconds, rejected_count, failed_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(batch_id) DO UPDATE SET
			updated_at = excluded.updated_at,
			accepted_count = excluded.accepted_count,
			accepted_seconds = excluded.accepted_seconds,
			rejected_count = excluded.rejected_count,
			failed_count = excluded.failed_count`,
		cp.BatchID, cp.CreatedAt, cp.UpdatedAt, string(cp.Target.Mode), cp.Target.MaxClips, cp.Target.TargetHours,
		cp.AcceptedCount, cp.AcceptedSeconds, cp.RejectedCount, cp.FailedCount)
	if err != nil {
		return fmt.Errorf("save batch %s: %w", cp.BatchID, err)
	}

	for key, outcome := range cp.Processed {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO processed_clips (batch_id, clip_key, outcome) VALUES (?, ?, ?)
			ON CONFLICT(batch_id, clip_key) DO NOTHING`,
			cp.BatchID, key, string(outcome)); err != nil {
			return fmt.Errorf("save processed clip %s: %w", key, err)
		}
	}

	for sourceID, cursor := range cp.Cursors {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO source_cursors (batch_id, source_id, cursor) VALUES (?, ?, ?)
			ON CONFLICT(batch_id, source_id) DO UPDATE SET cursor = excluded.cursor`,
			cp.BatchID, sourceID, cursor); err != nil {
			return fmt.Errorf("save cursor for %s: %w", sourceID, err)
		}
	}

	for reason, count := range cp.RejectionReasons {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO rejection_reasons (batch_id, reason, count) VALUES (?, ?, ?)
			ON CONFLICT(batch_id, reason) DO UPDATE SET count = excluded.count`,
			cp.BatchID, reason, count); err != nil {
			return fmt.Errorf("save rejection reason %s: %w", reason, err)
		}
	}

	return tx.Commit()
}

var _ port.CheckpointStore = (*Store)(nil)
