package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ts826848/stellaris-dashboard/internal/derive"
	"github.com/ts826848/stellaris-dashboard/internal/game"
	"github.com/ts826848/stellaris-dashboard/internal/history"
	"github.com/ts826848/stellaris-dashboard/internal/saveformat"
)

// Notifier receives a ping after every successful commit; the websocket
// hub implements it.
type Notifier interface {
	SnapshotCommitted(playthroughID string, date game.Date)
}

// Attempt is one processing attempt, success or not, for the audit log.
type Attempt struct {
	At            time.Time `json:"at"`
	Path          string    `json:"path"`
	PlaythroughID string    `json:"playthrough_id,omitempty"`
	Date          string    `json:"date,omitempty"`
	Status        string    `json:"status"`
	Error         string    `json:"error,omitempty"`
	DurationMS    int64     `json:"duration_ms"`
}

// AttemptSink records attempts; the zstd JSONL ingest log implements it.
type AttemptSink interface {
	Record(Attempt)
}

// Stats are the lifetime ingest counters, served by /api/status.
type Stats struct {
	OK      int64 `json:"ok"`
	Failed  int64 `json:"failed"`
	Skipped int64 `json:"skipped"`
}

type dirQueue struct {
	tasks    []Task
	inFlight bool
}

// Coordinator drives tasks through parse, normalize, derive and commit.
// One task is in flight per directory (a directory is one playthrough, so
// this keeps each playthrough's snapshots strictly serial); a global
// semaphore bounds total parallelism across playthroughs.
type Coordinator struct {
	Store    *history.Store
	Notifier Notifier
	Attempts AttemptSink
	RetryCap int
	Logger   *log.Logger

	// Forget, when set, drops the watcher's in-memory state for a failed
	// path so a later poll can re-offer it.
	Forget func(path string)

	sem chan struct{}

	mu     sync.Mutex
	queues map[string]*dirQueue
	closed bool
	wg     sync.WaitGroup

	nOK      atomic.Int64
	nFailed  atomic.Int64
	nSkipped atomic.Int64
}

func NewCoordinator(store *history.Store, workers, retryCap int, logger *log.Logger) *Coordinator {
	if workers < 1 {
		workers = 1
	}
	if retryCap < 1 {
		retryCap = 3
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[ingest] ", log.LstdFlags)
	}
	return &Coordinator{
		Store:    store,
		RetryCap: retryCap,
		Logger:   logger,
		sem:      make(chan struct{}, workers),
		queues:   make(map[string]*dirQueue),
	}
}

func (c *Coordinator) Stats() Stats {
	return Stats{OK: c.nOK.Load(), Failed: c.nFailed.Load(), Skipped: c.nSkipped.Load()}
}

// Offer enqueues watcher tasks. Ignored after Drain has begun.
func (c *Coordinator) Offer(tasks []Task) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	for _, t := range tasks {
		q := c.queues[t.Dir]
		if q == nil {
			q = &dirQueue{}
			c.queues[t.Dir] = q
		}
		q.tasks = append(q.tasks, t)
	}
	for dir := range c.queues {
		c.pump(dir)
	}
}

// pump starts the next task for a directory. Caller holds c.mu.
func (c *Coordinator) pump(dir string) {
	q := c.queues[dir]
	if q == nil || q.inFlight || len(q.tasks) == 0 {
		return
	}
	task := q.tasks[0]
	q.tasks = q.tasks[1:]
	q.inFlight = true
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.sem <- struct{}{}
		c.process(task)
		<-c.sem
		c.mu.Lock()
		q.inFlight = false
		c.pump(dir)
		c.mu.Unlock()
	}()
}

// Drain stops accepting new tasks and waits for in-flight ones to finish
// or record their failure.
func (c *Coordinator) Drain() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.wg.Wait()
}

// Tasks keep running to completion during shutdown, so they carry their
// own deadline rather than the daemon's context.
const taskTimeout = 2 * time.Minute

func (c *Coordinator) process(task Task) {
	ctx, cancel := context.WithTimeout(context.Background(), taskTimeout)
	defer cancel()
	start := time.Now()

	snap, err := c.loadSnapshot(task)
	if err != nil {
		c.fail(ctx, task, snapID(snap), snapDate(snap, task), err, start)
		return
	}

	prev, err := c.previous(ctx, snap)
	if err != nil {
		c.fail(ctx, task, snap.PlaythroughID, snap.Date, err, start)
		return
	}

	diff := derive.Diff(prev, snap)
	points := derive.Aggregate(snap)

	archivePath, err := c.Store.WriteArchive(snap)
	if err != nil {
		c.fail(ctx, task, snap.PlaythroughID, snap.Date, fmt.Errorf("archive: %w", err), start)
		return
	}

	commit := history.Commit{
		PlaythroughID:   snap.PlaythroughID,
		PlaythroughName: snap.Name,
		PlayerCountry:   playerCountry(snap),
		Snapshot: history.SnapshotRecord{
			PlaythroughID: snap.PlaythroughID,
			Date:          snap.Date,
			SourcePath:    task.Path,
			ArchivePath:   archivePath,
			Countries:     len(snap.Countries),
			Systems:       len(snap.Systems),
			Planets:       len(snap.Planets),
			Pops:          len(snap.Pops),
			Fleets:        len(snap.Fleets),
		},
		Events:    diff.Events,
		Ownership: diff.Ownership,
		Points:    points,
		File: history.FileRecord{
			Path:     task.Path,
			Size:     task.Size,
			ModTime:  task.ModTime,
			Status:   history.StatusOK,
			Attempts: c.attempts(ctx, task.Path) + 1,
		},
	}

	err = c.Store.CommitSnapshot(ctx, commit)
	if errors.Is(err, history.ErrOutOfOrder) {
		c.handleOutOfOrder(ctx, task, snap, err, start)
		return
	}
	if err != nil {
		c.fail(ctx, task, snap.PlaythroughID, snap.Date, err, start)
		return
	}

	c.nOK.Add(1)
	c.record(Attempt{
		At: start.UTC(), Path: task.Path, PlaythroughID: snap.PlaythroughID,
		Date: snap.Date.String(), Status: string(history.StatusOK),
		DurationMS: time.Since(start).Milliseconds(),
	})
	c.Logger.Printf("committed %s %s (%d events, %d points)",
		snap.PlaythroughID, snap.Date, len(diff.Events), len(points))
	if c.Notifier != nil {
		c.Notifier.SnapshotCommitted(snap.PlaythroughID, snap.Date)
	}
}

// loadSnapshot reads, parses and normalizes one save file.
func (c *Coordinator) loadSnapshot(task Task) (*game.Snapshot, error) {
	data, err := os.ReadFile(task.Path)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	sf, err := saveformat.ReadSaveBytes(data)
	if err != nil {
		return nil, err
	}
	for _, w := range sf.Warnings {
		c.Logger.Printf("%s: %s", filepath.Base(task.Path), w)
	}
	snap, err := game.Normalize(sf, filepath.Base(task.Dir))
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// previous loads the diff baseline: the newest committed snapshot
// strictly older than snap. Nil means this is the playthrough's first.
func (c *Coordinator) previous(ctx context.Context, snap *game.Snapshot) (*game.Snapshot, error) {
	last, err := c.Store.LastOKBefore(ctx, snap.PlaythroughID, snap.Date)
	if err != nil {
		return nil, err
	}
	if last == nil || last.ArchivePath == "" {
		return nil, nil
	}
	prev, err := history.ReadArchive(last.ArchivePath)
	if err != nil {
		return nil, fmt.Errorf("previous snapshot %s: %w", last.ArchivePath, err)
	}
	return prev, nil
}

// handleOutOfOrder sends a rejected task around the queue once, in case
// ordering sorts itself out, then permanently skips it.
func (c *Coordinator) handleOutOfOrder(ctx context.Context, task Task, snap *game.Snapshot, cause error, start time.Time) {
	if !task.requeued {
		task.requeued = true
		c.mu.Lock()
		if q := c.queues[task.Dir]; q != nil && !c.closed {
			q.tasks = append(q.tasks, task)
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()
	}
	c.nSkipped.Add(1)
	reason := cause.Error()
	_ = c.Store.RecordFailure(ctx, history.Failure{
		PlaythroughID: snap.PlaythroughID,
		Date:          -1, // never shadow the committed snapshot row
		SourcePath:    task.Path,
		Err:           reason,
		File: history.FileRecord{
			Path: task.Path, Size: task.Size, ModTime: task.ModTime,
			Status: history.StatusSkipped, Attempts: c.attempts(ctx, task.Path) + 1,
			Reason: reason,
		},
	})
	c.record(Attempt{
		At: start.UTC(), Path: task.Path, PlaythroughID: snap.PlaythroughID,
		Date: snap.Date.String(), Status: string(history.StatusSkipped), Error: reason,
		DurationMS: time.Since(start).Milliseconds(),
	})
	c.Logger.Printf("skipped %s: %v", task.Path, cause)
}

func (c *Coordinator) fail(ctx context.Context, task Task, pt string, date game.Date, cause error, start time.Time) {
	attempts := c.attempts(ctx, task.Path) + 1
	status := history.StatusFailed
	reason := cause.Error()
	if attempts >= c.RetryCap {
		status = history.StatusSkipped
		reason = fmt.Sprintf("retry cap (%d) reached: %v", c.RetryCap, cause)
		c.nSkipped.Add(1)
	} else {
		c.nFailed.Add(1)
	}

	if err := c.Store.RecordFailure(ctx, history.Failure{
		PlaythroughID: pt,
		Date:          date,
		SourcePath:    task.Path,
		Err:           cause.Error(),
		File: history.FileRecord{
			Path: task.Path, Size: task.Size, ModTime: task.ModTime,
			Status: status, Attempts: attempts, Reason: reason,
		},
	}); err != nil {
		c.Logger.Printf("record failure %s: %v", task.Path, err)
	}

	c.record(Attempt{
		At: start.UTC(), Path: task.Path, PlaythroughID: pt,
		Date: dateStr(date), Status: string(status), Error: cause.Error(),
		DurationMS: time.Since(start).Milliseconds(),
	})
	c.Logger.Printf("%s %s: %v", status, task.Path, cause)

	if status == history.StatusFailed && c.Forget != nil {
		c.Forget(task.Path)
	}
}

func (c *Coordinator) attempts(ctx context.Context, path string) int {
	rec, err := c.Store.File(ctx, path)
	if err != nil || rec == nil {
		return 0
	}
	return rec.Attempts
}

func (c *Coordinator) record(a Attempt) {
	if c.Attempts != nil {
		c.Attempts.Record(a)
	}
}

func playerCountry(s *game.Snapshot) string {
	if c, ok := s.Countries[s.PlayerCountryID]; ok {
		return c.Name
	}
	return ""
}

func snapID(s *game.Snapshot) string {
	if s == nil {
		return ""
	}
	return s.PlaythroughID
}

func snapDate(s *game.Snapshot, task Task) game.Date {
	if s == nil {
		return task.Date
	}
	return s.Date
}

func dateStr(d game.Date) string {
	if d < 0 {
		return ""
	}
	return d.String()
}
