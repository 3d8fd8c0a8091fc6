// Command admin inspects and repairs the dashboard's history store from
// the command line: list playthroughs, show snapshots and failures,
// re-arm failed files, dump archived snapshots.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ts826848/stellaris-dashboard/internal/history"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "snapshots":
			snapshotsCmd(os.Args[2:])
			return
		case "failed":
			failedCmd(os.Args[2:])
			return
		case "retry-failed":
			retryFailedCmd(os.Args[2:])
			return
		case "dump-archive":
			dumpArchiveCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func openStore(dataDir string) *history.Store {
	store, err := history.Open(
		filepath.Join(dataDir, "history.sqlite"),
		filepath.Join(dataDir, "archives"),
	)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open store:", err)
		os.Exit(1)
	}
	return store
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	store := openStore(*dataDir)
	defer store.Close()

	pts, err := store.Playthroughs(context.Background())
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
	for _, p := range pts {
		fmt.Printf("%s\t%s\t%s\t%d snapshots\tlast ingest %s\n",
			p.ID, p.Name, p.LastDateStr, p.SnapshotCount, p.LastIngestAt.Format("2006-01-02 15:04:05"))
	}
}

func snapshotsCmd(args []string) {
	fs := flag.NewFlagSet("snapshots", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	pt := fs.String("playthrough", "", "playthrough id")
	_ = fs.Parse(args)
	if *pt == "" {
		fmt.Fprintln(os.Stderr, "missing -playthrough")
		os.Exit(2)
	}

	store := openStore(*dataDir)
	defer store.Close()

	snaps, err := store.Snapshots(context.Background(), *pt)
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
	for _, s := range snaps {
		line := fmt.Sprintf("%s\t%s\t%s", s.DateStr, s.Status, s.SourcePath)
		if s.Error != "" {
			line += "\t" + s.Error
		}
		fmt.Println(line)
	}
}

func failedCmd(args []string) {
	fs := flag.NewFlagSet("failed", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	store := openStore(*dataDir)
	defer store.Close()

	files, err := store.FailedFiles(context.Background())
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
	for _, f := range files {
		fmt.Printf("%s\t%s\tattempts=%d\t%s\n", f.Path, f.Status, f.Attempts, f.Reason)
	}
}

func retryFailedCmd(args []string) {
	fs := flag.NewFlagSet("retry-failed", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	store := openStore(*dataDir)
	defer store.Close()

	n, err := store.ResetFailedFiles(context.Background())
	if err != nil {
		fmt.Fprintln(os.Stderr, "reset:", err)
		os.Exit(1)
	}
	fmt.Printf("re-armed %d files; the daemon will re-offer them on its next poll\n", n)
}

func dumpArchiveCmd(args []string) {
	fs := flag.NewFlagSet("dump-archive", flag.ExitOnError)
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: admin dump-archive <path.snap.zst>")
		os.Exit(2)
	}

	snap, err := history.ReadArchive(fs.Arg(0))
	if err != nil {
		fmt.Fprintln(os.Stderr, "read archive:", err)
		os.Exit(1)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(snap)
}
