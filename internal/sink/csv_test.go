package sink

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/gyeh/mrf-extractor/internal/mrf"
)

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("opening %s: %v", path, err)
	}
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}
	return records
}

func TestCSVSink_WritesHeaderAndRows(t *testing.T) {
	dir := t.TempDir()
	s, err := NewCSVSink(dir)
	if err != nil {
		t.Fatalf("NewCSVSink failed: %v", err)
	}

	rootRow := mrf.Row{Kind: mrf.RowKindRoot, Fields: map[string]string{
		"root_hash_key": "abc123", "reporting_entity_name": "Test Plan",
	}}
	inRow := mrf.Row{Kind: mrf.RowKindInNetwork, Fields: map[string]string{
		"root_hash_key": "abc123", "in_network_hash_key": "def456", "billing_code": "01925",
	}}

	if err := s.Write([]mrf.Row{rootRow, inRow}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	rootRecords := readCSV(t, filepath.Join(dir, mrf.RowKindRoot+".csv"))
	if len(rootRecords) != 2 {
		t.Fatalf("expected header + 1 row in root.csv, got %d records", len(rootRecords))
	}
	if got, want := rootRecords[0], Schema[mrf.RowKindRoot]; !equalStrSlice(got, want) {
		t.Errorf("root.csv header = %v, want %v", got, want)
	}

	inRecords := readCSV(t, filepath.Join(dir, mrf.RowKindInNetwork+".csv"))
	if len(inRecords) != 2 {
		t.Fatalf("expected header + 1 row in in_network.csv, got %d records", len(inRecords))
	}
}

func TestCSVSink_RootWrittenOnce(t *testing.T) {
	dir := t.TempDir()
	s, err := NewCSVSink(dir)
	if err != nil {
		t.Fatalf("NewCSVSink failed: %v", err)
	}

	root := mrf.Row{Kind: mrf.RowKindRoot, Fields: map[string]string{"root_hash_key": "abc123"}}
	for i := 0; i < 3; i++ {
		if err := s.Write([]mrf.Row{root}); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	records := readCSV(t, filepath.Join(dir, mrf.RowKindRoot+".csv"))
	if len(records) != 2 {
		t.Errorf("expected the root row to be written exactly once (header + 1), got %d records", len(records))
	}
}

func TestCSVSink_SecondInstanceStartsFresh(t *testing.T) {
	dir := t.TempDir()
	root := mrf.Row{Kind: mrf.RowKindRoot, Fields: map[string]string{"root_hash_key": "abc123"}}

	s1, err := NewCSVSink(dir)
	if err != nil {
		t.Fatalf("NewCSVSink failed: %v", err)
	}
	if err := s1.Write([]mrf.Row{root}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	dir2 := t.TempDir()
	s2, err := NewCSVSink(dir2)
	if err != nil {
		t.Fatalf("NewCSVSink failed: %v", err)
	}
	if err := s2.Write([]mrf.Row{root}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := s2.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	records := readCSV(t, filepath.Join(dir2, mrf.RowKindRoot+".csv"))
	if len(records) != 2 {
		t.Errorf("expected a fresh CSVSink instance to write its own root row, got %d records", len(records))
	}
}

func equalStrSlice(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
