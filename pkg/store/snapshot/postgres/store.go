// Package postgres stores drive snapshots in PostgreSQL tables.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/drive"
	"github.com/marmos91/dittodrive/pkg/metrics"
	"github.com/marmos91/dittodrive/pkg/store/snapshot"
)

const backendName = "postgres"

// Config configures the PostgreSQL snapshot store.
type Config struct {
	// DatabaseURL is a libpq connection string or URL.
	DatabaseURL string `mapstructure:"database_url" validate:"required"`

	// TablePrefix is prepended to every table name (e.g. "dev_").
	TablePrefix string `mapstructure:"table_prefix"`

	// MaxConns and MinConns size the connection pool. Defaults: 25 and 5
	MaxConns int32 `mapstructure:"max_conns" validate:"omitempty,gte=1"`
	MinConns int32 `mapstructure:"min_conns" validate:"omitempty,gte=0"`
}

// Store implements snapshot.Store on PostgreSQL.
//
// Storage Model:
//   - <prefix>drive_folders: one row per folder, with its list position
//   - <prefix>drive_files: one row per file, with its list position
//   - <prefix>drive_snapshot: a single row recording the last save
//
// Thread Safety:
// Save replaces all rows inside one transaction, so concurrent Loads (which
// read inside a repeatable-read transaction) see either snapshot whole.
type Store struct {
	pool    *pgxpool.Pool
	tables  *TableNames
	metrics metrics.StorageMetrics
}

// New connects to the database and creates the tables if missing.
func New(ctx context.Context, cfg Config, m metrics.StorageMetrics) (*Store, error) {
	maxConns, minConns := cfg.MaxConns, cfg.MinConns
	if maxConns == 0 {
		maxConns = 25
	}
	if minConns == 0 {
		minConns = 5
	}
	if minConns > maxConns {
		minConns = maxConns
	}

	pool, err := CreateConnectionPool(ctx, cfg.DatabaseURL, maxConns, minConns)
	if err != nil {
		return nil, err
	}

	s := NewWithPool(pool, cfg.TablePrefix, m)
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewWithPool wraps an existing pool. The caller owns schema creation.
func NewWithPool(pool *pgxpool.Pool, tablePrefix string, m metrics.StorageMetrics) *Store {
	return &Store{
		pool:    pool,
		tables:  NewTableNames(tablePrefix),
		metrics: metrics.OrNoopStorage(m),
	}
}

// EnsureSchema creates the snapshot tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				position   INTEGER     NOT NULL,
				id         TEXT        PRIMARY KEY,
				name       TEXT        NOT NULL,
				parent_id  TEXT,
				created_at TIMESTAMPTZ NOT NULL
			)`, s.tables.Folders),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				position      INTEGER     NOT NULL,
				id            TEXT        PRIMARY KEY,
				name          TEXT        NOT NULL,
				mime_type     TEXT        NOT NULL,
				size_bytes    BIGINT      NOT NULL,
				last_modified TIMESTAMPTZ NOT NULL,
				parent_id     TEXT        NOT NULL,
				starred       BOOLEAN     NOT NULL DEFAULT FALSE,
				verified      BOOLEAN     NOT NULL DEFAULT FALSE,
				content_ref   TEXT        NOT NULL DEFAULT ''
			)`, s.tables.Files),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				singleton BOOLEAN     PRIMARY KEY DEFAULT TRUE CHECK (singleton),
				saved_at  TIMESTAMPTZ NOT NULL,
				folders   INTEGER     NOT NULL,
				files     INTEGER     NOT NULL
			)`, s.tables.Meta),
	}

	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("create snapshot schema: %w", err)
		}
	}
	return nil
}

// DropSchema removes the snapshot tables. Used by tests.
func (s *Store) DropSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s, %s, %s",
		s.tables.Folders, s.tables.Files, s.tables.Meta))
	return err
}

// execTx runs fn inside a transaction, committing when it returns nil.
func (s *Store) execTx(ctx context.Context, opts pgx.TxOptions, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	// Safe even after a successful commit
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			logger.Warn("Snapshot store: rollback failed: %v", err)
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Load implements snapshot.Store.
func (s *Store) Load(ctx context.Context) (snap *drive.Snapshot, err error) {
	start := time.Now()
	defer func() {
		if !errors.Is(err, snapshot.ErrNoSnapshot) {
			s.metrics.RecordStorageOperation(backendName, "load", time.Since(start), err)
		}
	}()

	err = s.execTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}, func(tx pgx.Tx) error {
		var folderCount, fileCount int
		err := tx.QueryRow(ctx, fmt.Sprintf("SELECT folders, files FROM %s", s.tables.Meta)).
			Scan(&folderCount, &fileCount)
		if errors.Is(err, pgx.ErrNoRows) {
			return snapshot.ErrNoSnapshot
		}
		if err != nil {
			return fmt.Errorf("read snapshot header: %w", err)
		}

		snap = &drive.Snapshot{
			Folders: make([]drive.Folder, 0, folderCount),
			Files:   make([]drive.File, 0, fileCount),
		}

		rows, err := tx.Query(ctx, fmt.Sprintf(`
			SELECT id, name, parent_id, created_at
			FROM %s
			ORDER BY position
		`, s.tables.Folders))
		if err != nil {
			return fmt.Errorf("query folders: %w", err)
		}
		for rows.Next() {
			var f drive.Folder
			if err := rows.Scan(&f.ID, &f.Name, &f.ParentID, &f.CreatedAt); err != nil {
				rows.Close()
				return fmt.Errorf("scan folder: %w", err)
			}
			f.CreatedAt = f.CreatedAt.UTC()
			snap.Folders = append(snap.Folders, f)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate folders: %w", err)
		}

		rows, err = tx.Query(ctx, fmt.Sprintf(`
			SELECT id, name, mime_type, size_bytes, last_modified, parent_id, starred, verified, content_ref
			FROM %s
			ORDER BY position
		`, s.tables.Files))
		if err != nil {
			return fmt.Errorf("query files: %w", err)
		}
		for rows.Next() {
			var f drive.File
			if err := rows.Scan(&f.ID, &f.Name, &f.MimeType, &f.SizeBytes, &f.LastModified,
				&f.ParentID, &f.Starred, &f.Verified, &f.ContentRef); err != nil {
				rows.Close()
				return fmt.Errorf("scan file: %w", err)
			}
			f.LastModified = f.LastModified.UTC()
			snap.Files = append(snap.Files, f)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate files: %w", err)
		}

		if len(snap.Folders) != folderCount || len(snap.Files) != fileCount {
			return fmt.Errorf("snapshot tables disagree with header: %d/%d folders, %d/%d files",
				len(snap.Folders), folderCount, len(snap.Files), fileCount)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// Save implements snapshot.Store.
//
// Rows are replaced wholesale: both tables are truncated and refilled with
// COPY inside one transaction, then the header row is upserted.
func (s *Store) Save(ctx context.Context, snap *drive.Snapshot) (err error) {
	start := time.Now()
	defer func() {
		s.metrics.RecordStorageOperation(backendName, "save", time.Since(start), err)
	}()

	return s.execTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s", s.tables.Files)); err != nil {
			return fmt.Errorf("clear files: %w", err)
		}
		if _, err := tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s", s.tables.Folders)); err != nil {
			return fmt.Errorf("clear folders: %w", err)
		}

		if _, err := tx.CopyFrom(ctx,
			pgx.Identifier{s.tables.Folders},
			[]string{"position", "id", "name", "parent_id", "created_at"},
			pgx.CopyFromSlice(len(snap.Folders), func(i int) ([]any, error) {
				f := snap.Folders[i]
				return []any{i, f.ID, f.Name, f.ParentID, f.CreatedAt}, nil
			}),
		); err != nil {
			return fmt.Errorf("copy folders: %w", err)
		}

		if _, err := tx.CopyFrom(ctx,
			pgx.Identifier{s.tables.Files},
			[]string{"position", "id", "name", "mime_type", "size_bytes", "last_modified",
				"parent_id", "starred", "verified", "content_ref"},
			pgx.CopyFromSlice(len(snap.Files), func(i int) ([]any, error) {
				f := snap.Files[i]
				return []any{i, f.ID, f.Name, f.MimeType, f.SizeBytes, f.LastModified,
					f.ParentID, f.Starred, f.Verified, f.ContentRef}, nil
			}),
		); err != nil {
			return fmt.Errorf("copy files: %w", err)
		}

		if _, err := tx.Exec(ctx, fmt.Sprintf(`
			INSERT INTO %s (singleton, saved_at, folders, files)
			VALUES (TRUE, $1, $2, $3)
			ON CONFLICT (singleton) DO UPDATE
			SET saved_at = EXCLUDED.saved_at, folders = EXCLUDED.folders, files = EXCLUDED.files
		`, s.tables.Meta), time.Now().UTC(), len(snap.Folders), len(snap.Files)); err != nil {
			return fmt.Errorf("write snapshot header: %w", err)
		}
		return nil
	})
}

// Healthcheck pings the database.
func (s *Store) Healthcheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
