package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/ts826848/stellaris-dashboard/internal/derive"
	"github.com/ts826848/stellaris-dashboard/internal/game"
)

func marshalDetail(d map[string]any) (string, error) {
	if len(d) == 0 {
		return "", nil
	}
	b, err := json.Marshal(d)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Playthroughs lists every known playthrough, most recently ingested
// first.
func (s *Store) Playthroughs(ctx context.Context) ([]Playthrough, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, player_country, last_date, last_ingest_at, snapshot_count
		FROM playthroughs ORDER BY last_ingest_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Playthrough
	for rows.Next() {
		var p Playthrough
		var lastDate int64
		var ingestAt string
		if err := rows.Scan(&p.ID, &p.Name, &p.PlayerCountry, &lastDate, &ingestAt, &p.SnapshotCount); err != nil {
			return nil, err
		}
		p.LastDate = game.Date(lastDate)
		p.LastDateStr = p.LastDate.String()
		p.LastIngestAt, _ = time.Parse(time.RFC3339Nano, ingestAt)
		out = append(out, p)
	}
	return out, rows.Err()
}

// Playthrough returns one playthrough by id, or nil when unknown.
func (s *Store) Playthrough(ctx context.Context, id string) (*Playthrough, error) {
	var p Playthrough
	var lastDate int64
	var ingestAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, player_country, last_date, last_ingest_at, snapshot_count
		FROM playthroughs WHERE id=?`, id,
	).Scan(&p.ID, &p.Name, &p.PlayerCountry, &lastDate, &ingestAt, &p.SnapshotCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.LastDate = game.Date(lastDate)
	p.LastDateStr = p.LastDate.String()
	p.LastIngestAt, _ = time.Parse(time.RFC3339Nano, ingestAt)
	return &p, nil
}

// Latest returns the most recently ingested playthrough, or nil when the
// store is empty. This backs the front end's "most recent game" shortcut.
func (s *Store) Latest(ctx context.Context) (*Playthrough, error) {
	pts, err := s.Playthroughs(ctx)
	if err != nil || len(pts) == 0 {
		return nil, err
	}
	return &pts[0], nil
}

// Snapshots lists every snapshot of a playthrough, failed ones included,
// oldest first.
func (s *Store) Snapshots(ctx context.Context, pt string) ([]SnapshotRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT playthrough_id, date, status, error, source_path, archive_path,
		       countries, systems, planets, pops, fleets, ingested_at
		FROM snapshots WHERE playthrough_id=? ORDER BY date ASC`, pt)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SnapshotRecord
	for rows.Next() {
		r, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// LastOK returns the newest successfully committed snapshot record for a
// playthrough, or nil. The coordinator loads its archive as the diff's
// "previous".
func (s *Store) LastOK(ctx context.Context, pt string) (*SnapshotRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT playthrough_id, date, status, error, source_path, archive_path,
		       countries, systems, planets, pops, fleets, ingested_at
		FROM snapshots WHERE playthrough_id=? AND status=?
		ORDER BY date DESC LIMIT 1`, pt, StatusOK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, rows.Err()
	}
	r, err := scanSnapshot(rows)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// LastOKBefore is LastOK restricted to dates strictly before `date`. The
// coordinator uses it to pick the diff baseline for same-date re-ingestion.
func (s *Store) LastOKBefore(ctx context.Context, pt string, date game.Date) (*SnapshotRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT playthrough_id, date, status, error, source_path, archive_path,
		       countries, systems, planets, pops, fleets, ingested_at
		FROM snapshots WHERE playthrough_id=? AND status=? AND date < ?
		ORDER BY date DESC LIMIT 1`, pt, StatusOK, int64(date))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, rows.Err()
	}
	r, err := scanSnapshot(rows)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func scanSnapshot(rows *sql.Rows) (SnapshotRecord, error) {
	var r SnapshotRecord
	var date int64
	var errStr, archive sql.NullString
	var ingestAt string
	if err := rows.Scan(&r.PlaythroughID, &date, &r.Status, &errStr, &r.SourcePath,
		&archive, &r.Countries, &r.Systems, &r.Planets, &r.Pops, &r.Fleets, &ingestAt); err != nil {
		return r, err
	}
	r.Date = game.Date(date)
	r.DateStr = r.Date.String()
	r.Error = errStr.String
	r.ArchivePath = archive.String
	r.IngestedAt, _ = time.Parse(time.RFC3339Nano, ingestAt)
	return r, nil
}

// SeriesNames lists the distinct series stored for a playthrough.
func (s *Store) SeriesNames(ctx context.Context, pt string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT series FROM timeseries WHERE playthrough_id=? ORDER BY series`, pt)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// Timeseries returns the points of one series within [from, to], oldest
// first. A negative `to` means "no upper bound".
func (s *Store) Timeseries(ctx context.Context, pt, series string, from, to game.Date) ([]derive.Point, error) {
	if to < 0 {
		to = game.Date(1<<31 - 1)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT series, date, value FROM timeseries
		WHERE playthrough_id=? AND series=? AND date BETWEEN ? AND ?
		ORDER BY date ASC`, pt, series, int64(from), int64(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []derive.Point
	for rows.Next() {
		var p derive.Point
		var date int64
		if err := rows.Scan(&p.Series, &date, &p.Value); err != nil {
			return nil, err
		}
		p.Date = game.Date(date)
		out = append(out, p)
	}
	return out, rows.Err()
}

// Events returns the ledger slice within [from, to]; categories narrows
// the result when non-empty. Order is (date, seq), which is the diff
// engine's deterministic order.
func (s *Store) Events(ctx context.Context, pt string, from, to game.Date, categories []derive.Category) ([]EventRecord, error) {
	if to < 0 {
		to = game.Date(1<<31 - 1)
	}
	q := `SELECT date, seq, category, entity_id, country_id, target_id, detail_json
		FROM events WHERE playthrough_id=? AND date BETWEEN ? AND ?`
	args := []any{pt, int64(from), int64(to)}
	if len(categories) > 0 {
		q += ` AND category IN (`
		for i, c := range categories {
			if i > 0 {
				q += `,`
			}
			q += `?`
			args = append(args, string(c))
		}
		q += `)`
	}
	q += ` ORDER BY date ASC, seq ASC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EventRecord
	for rows.Next() {
		var e EventRecord
		var date int64
		var cat string
		var detail sql.NullString
		if err := rows.Scan(&date, &e.Seq, &cat, &e.EntityID, &e.Country, &e.Target, &detail); err != nil {
			return nil, err
		}
		e.Date = game.Date(date)
		e.DateStr = e.Date.String()
		e.Category = derive.Category(cat)
		if detail.String != "" {
			_ = json.Unmarshal([]byte(detail.String), &e.Detail)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Ownership returns the intervals overlapping [from, to], ordered by
// (system, start).
func (s *Store) Ownership(ctx context.Context, pt string, from, to game.Date) ([]OwnershipInterval, error) {
	if to < 0 {
		to = game.Date(1<<31 - 1)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT system_id, owner_id, start_date, end_date FROM ownership
		WHERE playthrough_id=? AND start_date <= ? AND (end_date IS NULL OR end_date >= ?)
		ORDER BY system_id ASC, start_date ASC`, pt, int64(to), int64(from))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OwnershipInterval
	for rows.Next() {
		var iv OwnershipInterval
		var start int64
		var end sql.NullInt64
		if err := rows.Scan(&iv.SystemID, &iv.OwnerID, &start, &end); err != nil {
			return nil, err
		}
		iv.Start = game.Date(start)
		if end.Valid {
			d := game.Date(end.Int64)
			iv.End = &d
		}
		out = append(out, iv)
	}
	return out, rows.Err()
}

// FailedFiles lists source files that failed or were permanently skipped,
// so unreadable saves stay visible even when no snapshot row exists.
func (s *Store) FailedFiles(ctx context.Context) ([]FileRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT path, size, mod_time, status, attempts, reason
		FROM ingested_files WHERE status IN (?,?) ORDER BY path`,
		string(StatusFailed), string(StatusSkipped))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FileRecord
	for rows.Next() {
		var f FileRecord
		var reason sql.NullString
		if err := rows.Scan(&f.Path, &f.Size, &f.ModTime, &f.Status, &f.Attempts, &reason); err != nil {
			return nil, err
		}
		f.Reason = reason.String
		out = append(out, f)
	}
	return out, rows.Err()
}
