package history

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"github.com/ts826848/stellaris-dashboard/internal/game"
)

// Normalized snapshots are archived as zstd-compressed JSON next to the
// database. The archive is what makes derived data recomputable and what
// the coordinator loads as "previous snapshot" after a restart. JSON
// rather than a binary encoding so an archive written by an older build
// stays readable across model growth.

type archiveHeader struct {
	Version        int    `json:"version"`
	CatalogVersion int    `json:"catalog_version"`
	PlaythroughID  string `json:"playthrough_id"`
	Date           int    `json:"date"`
}

const archiveVersion = 1

// WriteArchive stores snap under <archiveDir>/<playthrough>/<date>.snap.zst
// and returns the path.
func (s *Store) WriteArchive(snap *game.Snapshot) (string, error) {
	dir := filepath.Join(s.archiveDir, snap.PlaythroughID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("%s.snap.zst", snap.Date))

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return "", err
	}
	defer enc.Close()

	bw := bufio.NewWriterSize(enc, 256*1024)
	defer bw.Flush()

	hb, _ := json.Marshal(archiveHeader{
		Version:        archiveVersion,
		CatalogVersion: game.CatalogVersion,
		PlaythroughID:  snap.PlaythroughID,
		Date:           int(snap.Date),
	})
	if _, err := bw.Write(hb); err != nil {
		return "", err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return "", err
	}
	if err := json.NewEncoder(bw).Encode(snap); err != nil {
		return "", fmt.Errorf("archive encode: %w", err)
	}
	return path, nil
}

// ReadArchive loads an archived normalized snapshot.
func ReadArchive(path string) (*game.Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// Header line; the body repeats everything the loader needs.
	if _, err := br.ReadBytes('\n'); err != nil {
		return nil, fmt.Errorf("archive header: %w", err)
	}
	var snap game.Snapshot
	if err := json.NewDecoder(br).Decode(&snap); err != nil {
		return nil, fmt.Errorf("archive decode: %w", err)
	}
	return &snap, nil
}
