package ingestlog

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/ts826848/stellaris-dashboard/internal/ingest"
)

func readEntries(t *testing.T, path string) []ingest.Attempt {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		t.Fatalf("zstd: %v", err)
	}
	defer dec.Close()

	var out []ingest.Attempt
	sc := bufio.NewScanner(dec)
	for sc.Scan() {
		var a ingest.Attempt
		if err := json.Unmarshal(sc.Bytes(), &a); err != nil {
			t.Fatalf("unmarshal %q: %v", sc.Text(), err)
		}
		out = append(out, a)
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	return out
}

func TestLoggerWritesAndRotates(t *testing.T) {
	dir := t.TempDir()
	l := New(dir)
	day1 := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return day1 }

	l.Record(ingest.Attempt{Path: "/saves/a.sav", Status: "ok", DurationMS: 12})
	l.Record(ingest.Attempt{Path: "/saves/b.sav", Status: "failed", Error: "boom"})

	// Next day rotates to a fresh file.
	l.now = func() time.Time { return day1.Add(24 * time.Hour) }
	l.Record(ingest.Attempt{Path: "/saves/c.sav", Status: "ok"})
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	got := readEntries(t, filepath.Join(dir, "ingest-2026-08-24.jsonl.zst"))
	if len(got) != 2 || got[0].Path != "/saves/a.sav" || got[1].Error != "boom" {
		t.Fatalf("day 1 entries = %+v", got)
	}
	got = readEntries(t, filepath.Join(dir, "ingest-2026-08-25.jsonl.zst"))
	if len(got) != 1 || got[0].Path != "/saves/c.sav" {
		t.Fatalf("day 2 entries = %+v", got)
	}
}
