package atlasfetch

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	jsoniter "github.com/json-iterator/go"

	"github.com/openatlas/atlasfetch/internal/compress"
)

// json is a drop-in replacement for encoding/json with better performance.
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// -----------------------------------------------------------------------------
// Rows
// -----------------------------------------------------------------------------

// Row is a single metadata record keyed by column name.
type Row map[string]any

// String returns the named column as a string.
func (r Row) String(col string) (string, bool) {
	v, ok := r[col].(string)
	return v, ok
}

// Int returns the named column as an int64. JSON numbers decode as float64;
// only integral values convert.
func (r Row) Int(col string) (int64, bool) {
	switch v := r[col].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		if v == float64(int64(v)) {
			return int64(v), true
		}
	}
	return 0, false
}

// Float returns the named column as a float64.
func (r Row) Float(col string) (float64, bool) {
	switch v := r[col].(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	}
	return 0, false
}

// Bool returns the named column as a bool.
func (r Row) Bool(col string) (bool, bool) {
	v, ok := r[col].(bool)
	return v, ok
}

// -----------------------------------------------------------------------------
// Table
// -----------------------------------------------------------------------------

// Table is an in-memory tabular view of downloaded metadata: rows are items,
// columns are attributes. A table is read-only after load; filtering
// produces new tables sharing the underlying rows.
type Table struct {
	cols []string
	rows []Row
}

// NewTable builds a table from pre-decoded rows. Column order follows first
// appearance across rows.
func NewTable(rows []Row) *Table {
	t := &Table{rows: rows}
	seen := make(map[string]bool)
	for _, row := range rows {
		for col := range row {
			if !seen[col] {
				seen[col] = true
				t.cols = append(t.cols, col)
			}
		}
	}
	return t
}

// ReadTable parses a JSON array of objects into a Table.
func ReadTable(r io.Reader) (*Table, error) {
	var rows []Row
	dec := json.NewDecoder(r)
	if err := dec.Decode(&rows); err != nil {
		return nil, fmt.Errorf("%w: decode metadata: %w", ErrInvalidFormat, err)
	}
	return NewTable(rows), nil
}

// LoadTable reads a downloaded metadata file into a Table. Files with a
// .gz or .zst extension are decompressed transparently.
func LoadTable(path string) (*Table, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("atlasfetch: open metadata file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var r io.Reader = file
	if decompress, ok := compress.ForExtension(filepath.Ext(path)); ok {
		rc, err := decompress(file)
		if err != nil {
			return nil, fmt.Errorf("atlasfetch: decompress %s: %w", path, err)
		}
		defer func() { _ = rc.Close() }()
		r = rc
	}

	return ReadTable(r)
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.rows) }

// ColumnNames returns the column names in first-appearance order.
func (t *Table) ColumnNames() []string {
	out := make([]string, len(t.cols))
	copy(out, t.cols)
	return out
}

// Row returns the i-th row.
func (t *Table) Row(i int) Row { return t.rows[i] }

// Rows returns the backing rows. The slice is a copy; the rows are shared
// and must not be mutated.
func (t *Table) Rows() []Row {
	out := make([]Row, len(t.rows))
	copy(out, t.rows)
	return out
}

// Column returns all values of the named column, one per row. Rows missing
// the column contribute nil.
func (t *Table) Column(name string) []any {
	out := make([]any, len(t.rows))
	for i, row := range t.rows {
		out[i] = row[name]
	}
	return out
}

// Filter returns a new table containing the rows for which pred is true.
func (t *Table) Filter(pred func(Row) bool) *Table {
	var rows []Row
	for _, row := range t.rows {
		if pred(row) {
			rows = append(rows, row)
		}
	}
	return &Table{cols: t.cols, rows: rows}
}

// FilterEq returns the rows whose column equals the given value. Numeric
// values compare by magnitude regardless of Go type, so FilterEq("id", 42)
// matches JSON-decoded float64 ids.
func (t *Table) FilterEq(col string, val any) *Table {
	return t.Filter(func(r Row) bool {
		return looseEqual(r[col], val)
	})
}

// First returns the first row, or nil for an empty table.
func (t *Table) First() Row {
	if len(t.rows) == 0 {
		return nil
	}
	return t.rows[0]
}

func looseEqual(a, b any) bool {
	if af, ok := asFloat(a); ok {
		if bf, ok := asFloat(b); ok {
			return af == bf
		}
		return false
	}
	return a == b
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
