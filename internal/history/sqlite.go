package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ts826848/stellaris-dashboard/internal/game"
)

// Store wraps one SQLite database. A single connection keeps all writes
// serialized; the ingestion coordinator already serializes per
// playthrough, and different playthroughs' commits are short enough that
// sharing the writer is not a bottleneck.
type Store struct {
	db         *sql.DB
	archiveDir string
}

func Open(path, archiveDir string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, archiveDir: archiveDir}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// ArchiveDir is where normalized snapshot files live.
func (s *Store) ArchiveDir() string { return s.archiveDir }

func initPragmas(db *sql.DB) error {
	// WAL is much faster for this append-style workload; NORMAL is a fair
	// durability/perf tradeoff for data that is recomputable from saves.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS playthroughs (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			player_country TEXT NOT NULL DEFAULT '',
			last_date INTEGER NOT NULL DEFAULT -1,
			last_ingest_at TEXT NOT NULL,
			snapshot_count INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			playthrough_id TEXT NOT NULL,
			date INTEGER NOT NULL,
			status TEXT NOT NULL,
			error TEXT,
			source_path TEXT NOT NULL,
			archive_path TEXT,
			countries INTEGER NOT NULL DEFAULT 0,
			systems INTEGER NOT NULL DEFAULT 0,
			planets INTEGER NOT NULL DEFAULT 0,
			pops INTEGER NOT NULL DEFAULT 0,
			fleets INTEGER NOT NULL DEFAULT 0,
			ingested_at TEXT NOT NULL,
			PRIMARY KEY (playthrough_id, date)
		);`,
		`CREATE TABLE IF NOT EXISTS events (
			playthrough_id TEXT NOT NULL,
			date INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			category TEXT NOT NULL,
			entity_id INTEGER NOT NULL,
			country_id INTEGER NOT NULL,
			target_id INTEGER NOT NULL,
			detail_json TEXT,
			PRIMARY KEY (playthrough_id, date, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_category ON events(playthrough_id, category, date);`,
		`CREATE TABLE IF NOT EXISTS ownership (
			playthrough_id TEXT NOT NULL,
			system_id INTEGER NOT NULL,
			owner_id INTEGER NOT NULL,
			start_date INTEGER NOT NULL,
			end_date INTEGER,
			PRIMARY KEY (playthrough_id, system_id, start_date)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_ownership_open ON ownership(playthrough_id, system_id) WHERE end_date IS NULL;`,
		`CREATE TABLE IF NOT EXISTS timeseries (
			playthrough_id TEXT NOT NULL,
			series TEXT NOT NULL,
			date INTEGER NOT NULL,
			value REAL NOT NULL,
			PRIMARY KEY (playthrough_id, series, date)
		);`,
		`CREATE TABLE IF NOT EXISTS ingested_files (
			path TEXT PRIMARY KEY,
			size INTEGER NOT NULL,
			mod_time INTEGER NOT NULL,
			status TEXT NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			reason TEXT
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// CommitSnapshot writes one snapshot's full output atomically: the
// snapshot row, its events, ownership updates, series points, and the
// source-file mark. A crash leaves either all of it or none of it.
func (s *Store) CommitSnapshot(ctx context.Context, c Commit) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var latest sql.NullInt64
	err = tx.QueryRowContext(ctx,
		`SELECT MAX(date) FROM snapshots WHERE playthrough_id=? AND status=?`,
		c.PlaythroughID, StatusOK).Scan(&latest)
	if err != nil {
		return err
	}
	if latest.Valid && game.Date(latest.Int64) > c.Snapshot.Date {
		return fmt.Errorf("%w: have %s, got %s", ErrOutOfOrder,
			game.Date(latest.Int64), c.Snapshot.Date)
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO snapshots
			(playthrough_id, date, status, error, source_path, archive_path,
			 countries, systems, planets, pops, fleets, ingested_at)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`,
		c.PlaythroughID, int64(c.Snapshot.Date), StatusOK, "",
		c.Snapshot.SourcePath, c.Snapshot.ArchivePath,
		c.Snapshot.Countries, c.Snapshot.Systems, c.Snapshot.Planets,
		c.Snapshot.Pops, c.Snapshot.Fleets, now.Format(time.RFC3339Nano),
	); err != nil {
		return err
	}

	// Count after the snapshot row is in place, so a same-date re-ingest
	// replaces instead of inflating the count.
	var count int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM snapshots WHERE playthrough_id=? AND status=?`,
		c.PlaythroughID, StatusOK).Scan(&count); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO playthroughs(id, name, player_country, last_date, last_ingest_at, snapshot_count)
		VALUES(?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name,
			player_country=excluded.player_country,
			last_date=MAX(last_date, excluded.last_date),
			last_ingest_at=excluded.last_ingest_at,
			snapshot_count=excluded.snapshot_count`,
		c.PlaythroughID, c.PlaythroughName, c.PlayerCountry,
		int64(c.Snapshot.Date), now.Format(time.RFC3339Nano), count,
	); err != nil {
		return err
	}

	// Re-ingestion replaces, never duplicates.
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM events WHERE playthrough_id=? AND date=?`,
		c.PlaythroughID, int64(c.Snapshot.Date)); err != nil {
		return err
	}
	for seq, e := range c.Events {
		detail, err := marshalDetail(e.Detail)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO events(playthrough_id, date, seq, category, entity_id, country_id, target_id, detail_json)
			VALUES(?,?,?,?,?,?,?,?)`,
			c.PlaythroughID, int64(e.Date), seq, string(e.Category),
			e.EntityID, e.CountryID, e.TargetID, detail,
		); err != nil {
			return err
		}
	}

	for _, ch := range c.Ownership {
		if err := applyOwnership(ctx, tx, c.PlaythroughID, ch.SystemID, ch.NewOwner, c.Snapshot.Date); err != nil {
			return err
		}
	}

	for _, p := range c.Points {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO timeseries(playthrough_id, series, date, value)
			VALUES(?,?,?,?)`,
			c.PlaythroughID, p.Series, int64(p.Date), p.Value,
		); err != nil {
			return err
		}
	}

	if err := upsertFile(ctx, tx, c.File); err != nil {
		return err
	}
	return tx.Commit()
}

// applyOwnership closes the system's open interval (when the owner
// actually changed) and opens a new one starting at date. Re-applying the
// same change is a no-op, which is what keeps re-ingestion idempotent.
func applyOwnership(ctx context.Context, tx *sql.Tx, pt string, sysID, newOwner int64, date game.Date) error {
	var owner int64
	var start int64
	err := tx.QueryRowContext(ctx, `
		SELECT owner_id, start_date FROM ownership
		WHERE playthrough_id=? AND system_id=? AND end_date IS NULL`,
		pt, sysID).Scan(&owner, &start)
	switch {
	case err == sql.ErrNoRows:
		// fall through to insert
	case err != nil:
		return err
	default:
		if owner == newOwner {
			return nil
		}
		if game.Date(start) >= date {
			// Same-date replacement during re-ingestion.
			if _, err := tx.ExecContext(ctx, `
				DELETE FROM ownership
				WHERE playthrough_id=? AND system_id=? AND start_date=?`,
				pt, sysID, start); err != nil {
				return err
			}
		} else {
			if _, err := tx.ExecContext(ctx, `
				UPDATE ownership SET end_date=?
				WHERE playthrough_id=? AND system_id=? AND start_date=?`,
				int64(date), pt, sysID, start); err != nil {
				return err
			}
		}
	}
	if newOwner == game.NoneID {
		return nil
	}
	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO ownership(playthrough_id, system_id, owner_id, start_date, end_date)
		VALUES(?,?,?,?,NULL)`,
		pt, sysID, newOwner, int64(date))
	return err
}

// RecordFailure stores the failure so it is queryable and the file's
// attempt count advances, without touching any derived state.
func (s *Store) RecordFailure(ctx context.Context, f Failure) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if f.PlaythroughID != "" && f.Date >= 0 {
		// Never overwrite a good snapshot with a failed re-read.
		var st string
		err := tx.QueryRowContext(ctx,
			`SELECT status FROM snapshots WHERE playthrough_id=? AND date=?`,
			f.PlaythroughID, int64(f.Date)).Scan(&st)
		if err != nil && err != sql.ErrNoRows {
			return err
		}
		if err == sql.ErrNoRows || Status(st) != StatusOK {
			if _, err := tx.ExecContext(ctx, `
				INSERT OR REPLACE INTO snapshots
					(playthrough_id, date, status, error, source_path, ingested_at)
				VALUES(?,?,?,?,?,?)`,
				f.PlaythroughID, int64(f.Date), StatusFailed, f.Err,
				f.SourcePath, time.Now().UTC().Format(time.RFC3339Nano),
			); err != nil {
				return err
			}
		}
	}
	if err := upsertFile(ctx, tx, f.File); err != nil {
		return err
	}
	return tx.Commit()
}

func upsertFile(ctx context.Context, tx *sql.Tx, f FileRecord) error {
	if f.Path == "" {
		return nil
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO ingested_files(path, size, mod_time, status, attempts, reason)
		VALUES(?,?,?,?,?,?)
		ON CONFLICT(path) DO UPDATE SET
			size=excluded.size,
			mod_time=excluded.mod_time,
			status=excluded.status,
			attempts=excluded.attempts,
			reason=excluded.reason`,
		f.Path, f.Size, f.ModTime, string(f.Status), f.Attempts, f.Reason)
	return err
}

// File returns the ingestion record for a source path, or nil.
func (s *Store) File(ctx context.Context, path string) (*FileRecord, error) {
	var f FileRecord
	var reason sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT path, size, mod_time, status, attempts, reason
		FROM ingested_files WHERE path=?`, path,
	).Scan(&f.Path, &f.Size, &f.ModTime, &f.Status, &f.Attempts, &reason)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	f.Reason = reason.String
	return &f, nil
}

// ResetFailedFiles clears failed/skipped marks so those files are
// re-offered on the next poll. Used by the admin tool.
func (s *Store) ResetFailedFiles(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM ingested_files WHERE status IN (?,?)`,
		string(StatusFailed), string(StatusSkipped))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
