package saveformat

import (
	"bytes"
	"fmt"
	"os"

	"github.com/klauspost/compress/zip"
)

// A .sav file is a zip container with two text members: "meta" (a short
// header with the empire name and date) and "gamestate" (the full state).
// Bare text files are accepted too and treated as a gamestate with no meta.
const (
	memberMeta      = "meta"
	memberGamestate = "gamestate"
)

var zipMagic = []byte{'P', 'K', 0x03, 0x04}

// SaveFile is one fully parsed snapshot file.
type SaveFile struct {
	Meta      *Object // nil when the file had no meta member
	Gamestate *Object
	Warnings  []Warning
}

// ReadSave reads and parses a snapshot file from disk.
func ReadSave(path string) (*SaveFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ReadSaveBytes(raw)
}

// ReadSaveBytes parses raw snapshot bytes, container or bare text.
func ReadSaveBytes(raw []byte) (*SaveFile, error) {
	if !bytes.HasPrefix(raw, zipMagic) {
		res, err := Parse(bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		return &SaveFile{Gamestate: res.Root, Warnings: res.Warnings}, nil
	}

	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		// A half-written zip has no usable central directory.
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	sf := &SaveFile{}
	for _, f := range zr.File {
		switch f.Name {
		case memberMeta:
			res, err := parseMember(f)
			if err != nil {
				return nil, fmt.Errorf("meta: %w", err)
			}
			sf.Meta = res.Root
			sf.Warnings = append(sf.Warnings, res.Warnings...)
		case memberGamestate:
			res, err := parseMember(f)
			if err != nil {
				return nil, fmt.Errorf("gamestate: %w", err)
			}
			sf.Gamestate = res.Root
			sf.Warnings = append(sf.Warnings, res.Warnings...)
		}
	}
	if sf.Gamestate == nil {
		return nil, fmt.Errorf("%w: container has no gamestate member", ErrMalformed)
	}
	return sf, nil
}

func parseMember(f *zip.File) (*Result, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	defer rc.Close()
	return Parse(rc)
}
