// Package history is the durable, queryable record of playthroughs,
// snapshots, derived events, system-ownership intervals and time series.
// It is the single owner of persisted state and the unit of idempotency:
// everything a snapshot produces is written in one transaction.
package history

import (
	"errors"
	"time"

	"github.com/ts826848/stellaris-dashboard/internal/derive"
	"github.com/ts826848/stellaris-dashboard/internal/game"
)

// ErrOutOfOrder is returned when a snapshot older than the playthrough's
// newest committed snapshot is offered. The pipeline must never diff
// against a later "previous"; the caller decides whether to skip or queue.
var ErrOutOfOrder = errors.New("history: snapshot older than latest committed")

type Status string

const (
	StatusOK      Status = "ok"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped" // retry cap reached, permanently skipped
)

type Playthrough struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	PlayerCountry string    `json:"player_country"`
	LastDate      game.Date `json:"last_date"`
	LastDateStr   string    `json:"last_date_str"`
	LastIngestAt  time.Time `json:"last_ingest_at"`
	SnapshotCount int       `json:"snapshot_count"`
}

type SnapshotRecord struct {
	PlaythroughID string    `json:"playthrough_id"`
	Date          game.Date `json:"date"`
	DateStr       string    `json:"date_str"`
	Status        Status    `json:"status"`
	Error         string    `json:"error,omitempty"`
	SourcePath    string    `json:"source_path"`
	ArchivePath   string    `json:"archive_path,omitempty"`
	Countries     int       `json:"countries"`
	Systems       int       `json:"systems"`
	Planets       int       `json:"planets"`
	Pops          int       `json:"pops"`
	Fleets        int       `json:"fleets"`
	IngestedAt    time.Time `json:"ingested_at"`
}

type EventRecord struct {
	Date     game.Date       `json:"date"`
	DateStr  string          `json:"date_str"`
	Seq      int             `json:"seq"`
	Category derive.Category `json:"category"`
	EntityID int64           `json:"entity_id"`
	Country  int64           `json:"country_id"`
	Target   int64           `json:"target_id"`
	Detail   map[string]any  `json:"detail,omitempty"`
}

// OwnershipInterval is a half-open date range during which a system was
// controlled by one country. End is nil while the interval is open.
type OwnershipInterval struct {
	SystemID int64      `json:"system_id"`
	OwnerID  int64      `json:"owner_id"`
	Start    game.Date  `json:"start"`
	End      *game.Date `json:"end,omitempty"`
}

// FileRecord tracks one source file's ingestion state; this is the
// watcher's durable dedup set, so restarts never re-emit finished work.
type FileRecord struct {
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	ModTime  int64  `json:"mod_time"`
	Status   Status `json:"status"`
	Attempts int    `json:"attempts"`
	Reason   string `json:"reason,omitempty"`
}

// Commit is everything one successfully processed snapshot produces.
type Commit struct {
	PlaythroughID   string
	PlaythroughName string
	PlayerCountry   string
	Snapshot        SnapshotRecord
	Events          []derive.Event
	Ownership       []derive.OwnershipChange
	Points          []derive.Point
	File            FileRecord
}

// Failure records an unprocessable snapshot without touching derived
// state. Date may be -1 when the file never parsed far enough to know it.
type Failure struct {
	PlaythroughID string
	Date          game.Date
	SourcePath    string
	Err           string
	File          FileRecord
}
