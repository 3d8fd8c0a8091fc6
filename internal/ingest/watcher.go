// Package ingest turns save files appearing on disk into committed
// snapshots: a polling watcher detects stable new files, a coordinator
// runs them through parse, normalize, derive and commit.
package ingest

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/ts826848/stellaris-dashboard/internal/game"
	"github.com/ts826848/stellaris-dashboard/internal/history"
)

// Task is one save file the watcher judged ready for ingestion.
type Task struct {
	Path    string
	Dir     string // tracked directory, one playthrough per directory
	Date    game.Date
	Size    int64
	ModTime int64

	requeued bool // out-of-order tasks get one trip back to the queue
}

// FileIndex is the durable dedup set; the coordinator's store satisfies
// it, tests use a map.
type FileIndex interface {
	File(ctx context.Context, path string) (*history.FileRecord, error)
}

type fileState struct {
	size    int64
	modTime int64
	stable  int // consecutive polls with size+mtime unchanged
	emitted bool
}

// Watcher polls tracked directories for *.sav files. A file is emitted
// once it has been unchanged for StablePolls consecutive polls and the
// durable index does not already mark it done. Stability is counted in
// polls, not wall time, so tests drive Tick directly with no sleeps.
type Watcher struct {
	Dirs        []string
	StablePolls int
	RetryCap    int
	Index       FileIndex
	Logger      *log.Logger

	files map[string]*fileState
}

func NewWatcher(dirs []string, stablePolls, retryCap int, index FileIndex, logger *log.Logger) *Watcher {
	if stablePolls < 1 {
		stablePolls = 2
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[watch] ", log.LstdFlags)
	}
	return &Watcher{
		Dirs:        dirs,
		StablePolls: stablePolls,
		RetryCap:    retryCap,
		Index:       index,
		Logger:      logger,
		files:       make(map[string]*fileState),
	}
}

var saveDateRe = regexp.MustCompile(`(\d{4})\.(\d{2})\.(\d{2})`)

// dateFromName extracts the in-game date embedded in autosave names such
// as "autosave_2245.03.04.sav". Returns -1 when absent or invalid.
func dateFromName(name string) game.Date {
	m := saveDateRe.FindString(name)
	if m == "" {
		return -1
	}
	d, err := game.ParseDate(m)
	if err != nil {
		return -1
	}
	return d
}

// Tick runs one poll and returns the tasks that became ready, ordered
// oldest in-game date first (mtime breaks ties and covers undated names).
// Per-file errors are logged and retried next poll, never aborting the
// rest of the scan.
func (w *Watcher) Tick(ctx context.Context) []Task {
	var ready []Task
	for _, dir := range w.Dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			w.Logger.Printf("read dir %s: %v", dir, err)
			continue
		}
		for _, ent := range entries {
			if ent.IsDir() || !strings.HasSuffix(ent.Name(), ".sav") {
				continue
			}
			path := filepath.Join(dir, ent.Name())
			info, err := ent.Info()
			if err != nil {
				continue
			}
			if task, ok := w.observe(ctx, path, dir, info.Size(), info.ModTime().Unix()); ok {
				ready = append(ready, task)
			}
		}
	}
	sort.SliceStable(ready, func(i, j int) bool {
		if ready[i].Date != ready[j].Date {
			return ready[i].Date < ready[j].Date
		}
		if ready[i].ModTime != ready[j].ModTime {
			return ready[i].ModTime < ready[j].ModTime
		}
		return ready[i].Path < ready[j].Path
	})
	return ready
}

func (w *Watcher) observe(ctx context.Context, path, dir string, size, modTime int64) (Task, bool) {
	st := w.files[path]
	if st == nil {
		st = &fileState{size: size, modTime: modTime, stable: 1}
		w.files[path] = st
		return Task{}, false
	}
	if st.size != size || st.modTime != modTime {
		// Still being written; restart the stability count.
		st.size, st.modTime, st.stable, st.emitted = size, modTime, 1, false
		return Task{}, false
	}
	if st.emitted {
		return Task{}, false
	}
	st.stable++
	if st.stable < w.StablePolls {
		return Task{}, false
	}

	rec, err := w.Index.File(ctx, path)
	if err != nil {
		// emitted stays unset, so the next poll retries the lookup.
		w.Logger.Printf("index %s: %v", path, err)
		return Task{}, false
	}
	if rec != nil && !w.shouldReoffer(rec, size, modTime) {
		st.emitted = true
		return Task{}, false
	}

	st.emitted = true
	w.Logger.Printf("ready %s", path)
	return Task{
		Path:    path,
		Dir:     dir,
		Date:    dateFromName(filepath.Base(path)),
		Size:    size,
		ModTime: modTime,
	}, true
}

// shouldReoffer decides whether a file with a durable record still needs
// work: failures below the retry cap get another go, as does any file the
// game rewrote since we last saw it.
func (w *Watcher) shouldReoffer(rec *history.FileRecord, size, modTime int64) bool {
	if rec.Size != size || rec.ModTime != modTime {
		return true
	}
	if rec.Status == history.StatusFailed && rec.Attempts < w.RetryCap {
		return true
	}
	return false
}

// Forget drops a file's in-memory state so the next poll re-evaluates it.
// The coordinator calls this after a failed attempt; whether the file is
// actually re-offered is then the durable record's call.
func (w *Watcher) Forget(path string) {
	delete(w.files, path)
}

// Run polls every interval until ctx is done, handing ready tasks to sink.
func (w *Watcher) Run(ctx context.Context, interval time.Duration, sink func([]Task)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if tasks := w.Tick(ctx); len(tasks) > 0 {
				sink(tasks)
			}
		}
	}
}
