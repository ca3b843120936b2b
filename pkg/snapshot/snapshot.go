package snapshot

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// Snapshot is an immutable, typed, columnar dataset version. Snapshots are
// safe for concurrent use since nothing mutates them after construction.
type Snapshot struct {
	schema  Schema
	columns [][]Value
	rows    int
	hash    string
}

// New builds a snapshot from row-major data. Every row must have one value
// per schema field and each value must fit its column type.
func New(schema Schema, rows [][]Value) (*Snapshot, error) {
	columns := make([][]Value, schema.Len())
	for c := range columns {
		columns[c] = make([]Value, len(rows))
	}
	for r, row := range rows {
		if len(row) != schema.Len() {
			return nil, fmt.Errorf("row %d has %d values, schema has %d columns", r, len(row), schema.Len())
		}
		for c, v := range row {
			columns[c][r] = v
		}
	}
	return fromColumns(schema, columns, len(rows))
}

// FromColumns builds a snapshot from column-major data. The slices are copied.
func FromColumns(schema Schema, columns [][]Value) (*Snapshot, error) {
	if len(columns) != schema.Len() {
		return nil, fmt.Errorf("got %d columns, schema has %d", len(columns), schema.Len())
	}
	rows := 0
	if len(columns) > 0 {
		rows = len(columns[0])
	}
	owned := make([][]Value, len(columns))
	for i, col := range columns {
		if len(col) != rows {
			return nil, fmt.Errorf("column %s has %d rows, expected %d", schema.Field(i).Name, len(col), rows)
		}
		owned[i] = append([]Value(nil), col...)
	}
	return fromColumns(schema, owned, rows)
}

// fromColumns takes ownership of columns.
func fromColumns(schema Schema, columns [][]Value, rows int) (*Snapshot, error) {
	for c, col := range columns {
		f := schema.Field(c)
		for r, v := range col {
			if v.IsNull() {
				if !f.Nullable {
					return nil, fmt.Errorf("null value in non-nullable column %s at row %d", f.Name, r)
				}
				continue
			}
			if v.Kind() != f.Type.Kind() {
				return nil, fmt.Errorf("column %s (%s) holds a %s value at row %d", f.Name, f.Type, v.Kind(), r)
			}
		}
	}
	s := &Snapshot{schema: schema, columns: columns, rows: rows}
	s.hash = s.contentHash()
	return s, nil
}

// Empty returns a snapshot with the given schema and no rows.
func Empty(schema Schema) *Snapshot {
	s, _ := fromColumns(schema, make([][]Value, schema.Len()), 0)
	return s
}

// Schema returns the snapshot schema.
func (s *Snapshot) Schema() Schema { return s.schema }

// NumRows returns the number of rows.
func (s *Snapshot) NumRows() int { return s.rows }

// NumCols returns the number of columns.
func (s *Snapshot) NumCols() int { return s.schema.Len() }

// Hash returns the hex-encoded content hash of the snapshot.
func (s *Snapshot) Hash() string { return s.hash }

// Value returns the cell at (row, col).
func (s *Snapshot) Value(row, col int) Value { return s.columns[col][row] }

// Row returns a copy of the values of row i in schema order.
func (s *Snapshot) Row(i int) []Value {
	out := make([]Value, len(s.columns))
	for c := range s.columns {
		out[c] = s.columns[c][i]
	}
	return out
}

// Projection selects a source column for a projected snapshot. When the
// field type differs from the source column type, values are widened.
type Projection struct {
	Source int
	Field  Field
}

// Project returns a new snapshot made of the given columns. Unchanged
// columns share storage with s.
func (s *Snapshot) Project(cols []Projection) (*Snapshot, error) {
	fields := make([]Field, len(cols))
	columns := make([][]Value, len(cols))
	for i, p := range cols {
		if p.Source < 0 || p.Source >= len(s.columns) {
			return nil, fmt.Errorf("projection source %d out of range", p.Source)
		}
		src := s.schema.Field(p.Source)
		fields[i] = p.Field
		if src.Type == p.Field.Type {
			columns[i] = s.columns[p.Source]
			continue
		}
		widened := make([]Value, s.rows)
		for r, v := range s.columns[p.Source] {
			w, err := Widen(v, src.Type, p.Field.Type)
			if err != nil {
				return nil, fmt.Errorf("column %s: %w", src.Name, err)
			}
			widened[r] = w
		}
		columns[i] = widened
	}
	schema, err := NewSchema(fields...)
	if err != nil {
		return nil, err
	}
	return fromColumns(schema, columns, s.rows)
}

// Widen converts a value of type from into type to. Only lossless widenings
// are supported: int to float and date to timestamp.
func Widen(v Value, from, to Type) (Value, error) {
	if v.IsNull() || from == to {
		return v, nil
	}
	switch {
	case from == TypeInt && to == TypeFloat:
		return Float(float64(v.Int64())), nil
	case from == TypeDate && to == TypeTimestamp:
		return v, nil
	}
	return Value{}, fmt.Errorf("cannot widen %s to %s", from, to)
}

// AppendCanonical appends the canonical encoding of the values at row i for
// the given columns.
func (s *Snapshot) AppendCanonical(buf []byte, row int, cols []int) []byte {
	for _, c := range cols {
		buf = s.columns[c][row].AppendBinary(buf)
	}
	return buf
}

func (s *Snapshot) contentHash() string {
	h, _ := blake2b.New256(nil)
	var buf []byte
	buf = binary.AppendUvarint(buf, uint64(s.schema.Len()))
	for _, f := range s.schema.fields {
		buf = binary.AppendUvarint(buf, uint64(len(f.Name)))
		buf = append(buf, f.Name...)
		nullable := byte(0)
		if f.Nullable {
			nullable = 1
		}
		buf = append(buf, byte(f.Type), nullable)
	}
	buf = binary.AppendUvarint(buf, uint64(s.rows))
	h.Write(buf)
	for _, col := range s.columns {
		buf = buf[:0]
		for _, v := range col {
			buf = v.AppendBinary(buf)
			if len(buf) > 64<<10 {
				h.Write(buf)
				buf = buf[:0]
			}
		}
		h.Write(buf)
	}
	return hex.EncodeToString(h.Sum(nil))
}
