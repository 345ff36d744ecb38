package sink

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gyeh/mrf-extractor/internal/mrf"
)

// CSVSink is the reference implementation of C8: one {kind}.csv file per
// row kind under outDir, with the header written on first encounter of
// that kind when the file does not exist yet; an existing file is appended
// to without a new header. rootWritten is a one-shot latch scoped to this instance, never
// global state — a second CSVSink must start fresh, per §9's design note.
type CSVSink struct {
	outDir      string
	writers     map[string]*csv.Writer
	files       map[string]*os.File
	headerDone  map[string]bool
	rootWritten bool
}

// NewCSVSink creates outDir if needed and returns a sink ready for Write.
func NewCSVSink(outDir string) (*CSVSink, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}
	return &CSVSink{
		outDir:     outDir,
		writers:    make(map[string]*csv.Writer),
		files:      make(map[string]*os.File),
		headerDone: make(map[string]bool),
	}, nil
}

func (s *CSVSink) writerFor(kind string) (*csv.Writer, error) {
	if w, ok := s.writers[kind]; ok {
		return w, nil
	}
	cols, ok := Schema[kind]
	if !ok {
		return nil, fmt.Errorf("unknown row kind %q", kind)
	}

	path := filepath.Join(s.outDir, kind+".csv")
	existed := fileExists(path)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	w := csv.NewWriter(f)

	if !existed {
		if err := w.Write(cols); err != nil {
			f.Close()
			return nil, fmt.Errorf("writing header for %s: %w", kind, err)
		}
	}

	s.files[kind] = f
	s.writers[kind] = w
	return w, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Write appends rows, routing the root row through the once-per-run latch.
func (s *CSVSink) Write(rows []mrf.Row) error {
	for _, row := range rows {
		if row.Kind == mrf.RowKindRoot {
			if s.rootWritten {
				continue
			}
			s.rootWritten = true
		}

		w, err := s.writerFor(row.Kind)
		if err != nil {
			return &mrf.ErrSink{Kind: row.Kind, Err: err}
		}
		cols := Schema[row.Kind]
		record := make([]string, len(cols))
		for i, c := range cols {
			record[i] = row.Fields[c]
		}
		if err := w.Write(record); err != nil {
			return &mrf.ErrSink{Kind: row.Kind, Err: err}
		}
	}
	return nil
}

// Close flushes and closes every file this sink opened.
func (s *CSVSink) Close() error {
	var first error
	for kind, w := range s.writers {
		w.Flush()
		if err := w.Error(); err != nil && first == nil {
			first = err
		}
		if err := s.files[kind].Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
