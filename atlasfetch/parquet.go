package atlasfetch

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/parquet-go/parquet-go"
)

// -----------------------------------------------------------------------------
// Parquet export
// -----------------------------------------------------------------------------

// Metadata tables are searched interactively but often end up in analysis
// pipelines; Parquet export hands them over without a JSON re-parse.

// FieldType enumerates supported Parquet logical types for table columns.
type FieldType int

// Field type constants for schema definitions.
const (
	FieldInt64 FieldType = iota
	FieldFloat64
	FieldString
	FieldBool
	FieldTimestamp
	fieldTypeMax // sentinel for validation
)

// maxSafeInt64 is the largest integer exactly representable in a float64.
const maxSafeInt64 = 1 << 53

// TableField defines a single column in an export schema.
type TableField struct {
	Name     string
	Type     FieldType
	Nullable bool
}

// TableSchema defines the column structure for Parquet export.
type TableSchema struct {
	Fields []TableField
}

// InferSchema derives an export schema from a table's contents. Columns
// holding nested values (objects, arrays) or mixed scalar types are omitted;
// numeric columns whose values are all integral become int64.
func InferSchema(t *Table) TableSchema {
	var schema TableSchema
	for _, col := range t.cols {
		field, ok := inferField(t, col)
		if ok {
			schema.Fields = append(schema.Fields, field)
		}
	}
	return schema
}

func inferField(t *Table, col string) (TableField, bool) {
	field := TableField{Name: col, Type: -1}
	integral := true

	for _, row := range t.rows {
		val, present := row[col]
		if !present || val == nil {
			field.Nullable = true
			continue
		}

		var ft FieldType
		switch v := val.(type) {
		case string:
			ft = FieldString
		case bool:
			ft = FieldBool
		case float64:
			ft = FieldFloat64
			if math.Trunc(v) != v || v < -maxSafeInt64 || v > maxSafeInt64 {
				integral = false
			}
		default:
			return TableField{}, false
		}

		if field.Type == -1 {
			field.Type = ft
		} else if field.Type != ft {
			return TableField{}, false
		}
	}

	if field.Type == -1 {
		// No non-nil values to type the column by.
		return TableField{}, false
	}
	if field.Type == FieldFloat64 && integral {
		field.Type = FieldInt64
	}
	return field, true
}

// WriteParquet writes the table's rows to w as a Parquet file using the
// given schema. Rows must conform to the schema; fields not named by the
// schema are ignored. Returns ErrSchemaViolation for non-conforming rows.
func WriteParquet(w io.Writer, t *Table, schema TableSchema) error {
	if err := validateSchema(schema); err != nil {
		return err
	}

	pqSchema := buildParquetSchema(schema)
	fieldOrder := make([]string, len(schema.Fields))
	for i, f := range pqSchema.Fields() {
		fieldOrder[i] = f.Name()
	}

	rowBuf := parquet.NewBuffer(pqSchema)
	for i, record := range t.rows {
		row, err := recordToRow(record, schema, fieldOrder, i)
		if err != nil {
			return err
		}
		if _, err := rowBuf.WriteRows([]parquet.Row{row}); err != nil {
			return fmt.Errorf("atlasfetch: parquet write row %d: %w", i, err)
		}
	}

	var buf bytes.Buffer
	pqWriter := parquet.NewWriter(&buf, pqSchema, parquet.Compression(&parquet.Snappy))
	if _, err := pqWriter.WriteRowGroup(rowBuf); err != nil {
		_ = pqWriter.Close()
		return fmt.Errorf("atlasfetch: parquet write row group: %w", err)
	}
	if err := pqWriter.Close(); err != nil {
		return fmt.Errorf("atlasfetch: parquet close writer: %w", err)
	}

	_, err := io.Copy(w, &buf)
	return err
}

// WriteParquetFile writes the table to a Parquet file at path. The close
// error is checked so a failed flush cannot report a truncated file as
// success; a partial file is removed on error.
func WriteParquetFile(path string, t *Table, schema TableSchema) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("atlasfetch: create %s: %w", path, err)
	}

	if err := WriteParquet(file, t, schema); err != nil {
		_ = file.Close()
		_ = os.Remove(path)
		return err
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(path)
		return fmt.Errorf("atlasfetch: close %s: %w", path, err)
	}
	return nil
}

// ReadParquet reads a Parquet file written with the given schema back into
// a Table. Returns ErrInvalidFormat for unparseable data.
func ReadParquet(r io.Reader, schema TableSchema) (*Table, error) {
	if err := validateSchema(schema); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("atlasfetch: parquet read: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrInvalidFormat
	}

	file, err := parquet.OpenFile(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrInvalidFormat
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidFormat, err)
	}

	pqSchema := buildParquetSchema(schema)
	fieldOrder := make([]string, len(schema.Fields))
	for i, f := range pqSchema.Fields() {
		fieldOrder[i] = f.Name()
	}

	reader := parquet.NewReader(file)
	defer func() { _ = reader.Close() }()

	records := make([]Row, 0, file.NumRows())
	rows := make([]parquet.Row, 100)
	for {
		n, err := reader.ReadRows(rows)
		if n > 0 {
			for i := 0; i < n; i++ {
				records = append(records, rowToRecord(rows[i], schema, fieldOrder))
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("%w: read rows: %w", ErrInvalidFormat, err)
		}
	}

	return &Table{cols: fieldOrder, rows: records}, nil
}

func validateSchema(schema TableSchema) error {
	seen := make(map[string]bool, len(schema.Fields))
	for _, field := range schema.Fields {
		if field.Type < 0 || field.Type >= fieldTypeMax {
			return fmt.Errorf("%w: invalid FieldType %d for field %q", ErrSchemaViolation, field.Type, field.Name)
		}
		if field.Name == "" {
			return fmt.Errorf("%w: field name cannot be empty", ErrSchemaViolation)
		}
		if seen[field.Name] {
			return fmt.Errorf("%w: duplicate field name %q", ErrSchemaViolation, field.Name)
		}
		seen[field.Name] = true
	}
	return nil
}

func fieldByName(schema TableSchema, name string) TableField {
	for _, f := range schema.Fields {
		if f.Name == name {
			return f
		}
	}
	return TableField{}
}

// recordToRow converts a table row to a parquet Row in schema field order.
func recordToRow(record Row, schema TableSchema, fieldOrder []string, index int) (parquet.Row, error) {
	row := make(parquet.Row, len(fieldOrder))
	for i, fieldName := range fieldOrder {
		field := fieldByName(schema, fieldName)

		val, exists := record[fieldName]
		if !exists || val == nil {
			if !field.Nullable {
				return nil, fmt.Errorf("%w: record %d missing required field %q", ErrSchemaViolation, index, fieldName)
			}
			row[i] = parquet.NullValue().Level(0, 0, i)
			continue
		}

		pqVal, err := toParquetValue(val, field, index)
		if err != nil {
			return nil, err
		}
		defLevel := 1
		if !field.Nullable {
			defLevel = 0
		}
		row[i] = pqVal.Level(0, defLevel, i)
	}
	return row, nil
}

// rowToRecord converts a parquet Row back to a table row.
func rowToRecord(row parquet.Row, schema TableSchema, fieldOrder []string) Row {
	record := make(Row, len(fieldOrder))
	for i, fieldName := range fieldOrder {
		if i >= len(row) {
			continue
		}
		field := fieldByName(schema, fieldName)
		val := row[i]
		if val.IsNull() {
			record[fieldName] = nil
			continue
		}
		record[fieldName] = fromParquetValue(val, field)
	}
	return record
}

func toParquetValue(val any, field TableField, index int) (parquet.Value, error) {
	switch field.Type {
	case FieldInt64:
		switch v := val.(type) {
		case int:
			return parquet.Int64Value(int64(v)), nil
		case int64:
			return parquet.Int64Value(v), nil
		case float64: // JSON numbers
			if math.Trunc(v) != v {
				return parquet.Value{}, fmt.Errorf("%w: record %d field %q: float64 %v is not an integer", ErrSchemaViolation, index, field.Name, v)
			}
			if v < -maxSafeInt64 || v > maxSafeInt64 {
				return parquet.Value{}, fmt.Errorf("%w: record %d field %q: value %v exceeds safe integer range", ErrSchemaViolation, index, field.Name, v)
			}
			return parquet.Int64Value(int64(v)), nil
		default:
			return parquet.Value{}, fmt.Errorf("%w: record %d field %q: expected int64, got %T", ErrSchemaViolation, index, field.Name, val)
		}

	case FieldFloat64:
		switch v := val.(type) {
		case float64:
			return parquet.DoubleValue(v), nil
		case int64:
			return parquet.DoubleValue(float64(v)), nil
		case int:
			return parquet.DoubleValue(float64(v)), nil
		default:
			return parquet.Value{}, fmt.Errorf("%w: record %d field %q: expected float64, got %T", ErrSchemaViolation, index, field.Name, val)
		}

	case FieldString:
		v, ok := val.(string)
		if !ok {
			return parquet.Value{}, fmt.Errorf("%w: record %d field %q: expected string, got %T", ErrSchemaViolation, index, field.Name, val)
		}
		return parquet.ByteArrayValue([]byte(v)), nil

	case FieldBool:
		v, ok := val.(bool)
		if !ok {
			return parquet.Value{}, fmt.Errorf("%w: record %d field %q: expected bool, got %T", ErrSchemaViolation, index, field.Name, val)
		}
		return parquet.BooleanValue(v), nil

	case FieldTimestamp:
		switch v := val.(type) {
		case time.Time:
			return parquet.Int64Value(v.UnixNano()), nil
		case string:
			t, err := time.Parse(time.RFC3339Nano, v)
			if err != nil {
				return parquet.Value{}, fmt.Errorf("%w: record %d field %q: invalid timestamp: %w", ErrSchemaViolation, index, field.Name, err)
			}
			return parquet.Int64Value(t.UnixNano()), nil
		default:
			return parquet.Value{}, fmt.Errorf("%w: record %d field %q: expected time.Time, got %T", ErrSchemaViolation, index, field.Name, val)
		}

	default:
		return parquet.Value{}, fmt.Errorf("%w: record %d field %q: unknown type %d", ErrSchemaViolation, index, field.Name, field.Type)
	}
}

func fromParquetValue(val parquet.Value, field TableField) any {
	switch field.Type {
	case FieldInt64:
		return val.Int64()
	case FieldFloat64:
		return val.Double()
	case FieldString:
		return string(val.ByteArray())
	case FieldBool:
		return val.Boolean()
	case FieldTimestamp:
		return time.Unix(0, val.Int64()).UTC()
	default:
		return nil
	}
}

// buildParquetSchema creates a parquet-go schema from an export schema.
func buildParquetSchema(schema TableSchema) *parquet.Schema {
	group := make(parquet.Group, len(schema.Fields))
	for _, field := range schema.Fields {
		group[field.Name] = buildFieldNode(field)
	}
	return parquet.NewSchema("record", group)
}

func buildFieldNode(field TableField) parquet.Node {
	var node parquet.Node

	switch field.Type {
	case FieldInt64:
		node = parquet.Int(64)
	case FieldFloat64:
		node = parquet.Leaf(parquet.DoubleType)
	case FieldString:
		node = parquet.String()
	case FieldBool:
		node = parquet.Leaf(parquet.BooleanType)
	case FieldTimestamp:
		node = parquet.Timestamp(parquet.Nanosecond)
	default:
		panic(fmt.Sprintf("invalid FieldType %d for field %q", field.Type, field.Name))
	}

	if field.Nullable {
		node = parquet.Optional(node)
	}

	return node
}
