package atlasfetch_test

import (
	"compress/gzip"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/openatlas/atlasfetch/atlasfetch"
)

const sampleMetadata = `[
	{"id": 100, "plane_of_section_id": 1, "specimen_id": 702765, "failed": false},
	{"id": 200, "plane_of_section_id": 2, "specimen_id": 702766, "failed": true},
	{"id": 300, "plane_of_section_id": 1, "specimen_id": 702767, "failed": false, "qc_date": "2019-03-07"}
]`

func TestReadTable(t *testing.T) {
	table, err := atlasfetch.ReadTable(strings.NewReader(sampleMetadata))
	if err != nil {
		t.Fatalf("ReadTable failed: %v", err)
	}

	if table.Len() != 3 {
		t.Fatalf("Len = %d, want 3", table.Len())
	}

	cols := table.ColumnNames()
	if len(cols) != 5 {
		t.Errorf("expected 5 columns, got %d (%v)", len(cols), cols)
	}

	id, ok := table.Row(0).Int("id")
	if !ok || id != 100 {
		t.Errorf("Row(0).Int(id) = %d, %v", id, ok)
	}
	failed, ok := table.Row(1).Bool("failed")
	if !ok || !failed {
		t.Errorf("Row(1).Bool(failed) = %v, %v", failed, ok)
	}
	if _, ok := table.Row(0).String("qc_date"); ok {
		t.Error("Row(0) should have no qc_date")
	}
}

func TestReadTable_InvalidJSON(t *testing.T) {
	_, err := atlasfetch.ReadTable(strings.NewReader(`{"not": "an array"`))
	if !errors.Is(err, atlasfetch.ErrInvalidFormat) {
		t.Errorf("expected ErrInvalidFormat, got %v", err)
	}
}

func TestTable_FilterEq(t *testing.T) {
	table, err := atlasfetch.ReadTable(strings.NewReader(sampleMetadata))
	if err != nil {
		t.Fatalf("ReadTable failed: %v", err)
	}

	// JSON numbers decode as float64; int arguments must still match.
	coronal := table.FilterEq("plane_of_section_id", 1)
	if coronal.Len() != 2 {
		t.Errorf("FilterEq(plane, 1): %d rows, want 2", coronal.Len())
	}

	byID := table.FilterEq("id", int64(200))
	if byID.Len() != 1 {
		t.Fatalf("FilterEq(id, 200): %d rows, want 1", byID.Len())
	}
	if specimen, _ := byID.First().Int("specimen_id"); specimen != 702766 {
		t.Errorf("specimen_id = %d, want 702766", specimen)
	}

	if table.FilterEq("id", 999).First() != nil {
		t.Error("expected no match for id 999")
	}
}

func TestTable_Filter(t *testing.T) {
	table, err := atlasfetch.ReadTable(strings.NewReader(sampleMetadata))
	if err != nil {
		t.Fatalf("ReadTable failed: %v", err)
	}

	passed := table.Filter(func(r atlasfetch.Row) bool {
		failed, _ := r.Bool("failed")
		return !failed
	})
	if passed.Len() != 2 {
		t.Errorf("Filter: %d rows, want 2", passed.Len())
	}
}

func TestTable_Column(t *testing.T) {
	table, err := atlasfetch.ReadTable(strings.NewReader(sampleMetadata))
	if err != nil {
		t.Fatalf("ReadTable failed: %v", err)
	}

	ids := table.Column("id")
	if len(ids) != 3 {
		t.Fatalf("Column(id): %d values, want 3", len(ids))
	}
	if ids[2] != float64(300) {
		t.Errorf("ids[2] = %v, want 300", ids[2])
	}

	dates := table.Column("qc_date")
	if dates[0] != nil || dates[2] == nil {
		t.Errorf("qc_date column = %v", dates)
	}
}

func TestLoadTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metadata.json")
	if err := os.WriteFile(path, []byte(sampleMetadata), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	table, err := atlasfetch.LoadTable(path)
	if err != nil {
		t.Fatalf("LoadTable failed: %v", err)
	}
	if table.Len() != 3 {
		t.Errorf("Len = %d, want 3", table.Len())
	}
}

func TestLoadTable_Gzip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metadata.json.gz")

	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	gz := gzip.NewWriter(file)
	if _, err := gz.Write([]byte(sampleMetadata)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("gzip Close failed: %v", err)
	}
	if err := file.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	table, err := atlasfetch.LoadTable(path)
	if err != nil {
		t.Fatalf("LoadTable failed: %v", err)
	}
	if table.Len() != 3 {
		t.Errorf("Len = %d, want 3", table.Len())
	}
}
