package snapshot

import (
	"fmt"
	"math"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// TypeFromArrow maps an Arrow data type onto a column type.
func TypeFromArrow(dt arrow.DataType) (Type, error) {
	switch dt.ID() {
	case arrow.INT8, arrow.INT16, arrow.INT32, arrow.INT64,
		arrow.UINT8, arrow.UINT16, arrow.UINT32, arrow.UINT64:
		return TypeInt, nil
	case arrow.FLOAT16, arrow.FLOAT32, arrow.FLOAT64, arrow.DECIMAL128:
		return TypeFloat, nil
	case arrow.STRING, arrow.LARGE_STRING:
		return TypeString, nil
	case arrow.BOOL:
		return TypeBool, nil
	case arrow.DATE32, arrow.DATE64:
		return TypeDate, nil
	case arrow.TIMESTAMP:
		return TypeTimestamp, nil
	case arrow.DICTIONARY:
		return TypeFromArrow(dt.(*arrow.DictionaryType).ValueType)
	}
	return 0, fmt.Errorf("unsupported arrow type %s", dt)
}

// ArrowType returns the Arrow type used when exporting a column type.
func ArrowType(t Type) arrow.DataType {
	switch t {
	case TypeInt:
		return arrow.PrimitiveTypes.Int64
	case TypeFloat:
		return arrow.PrimitiveTypes.Float64
	case TypeBool:
		return arrow.FixedWidthTypes.Boolean
	case TypeDate:
		return arrow.FixedWidthTypes.Date32
	case TypeTimestamp:
		return &arrow.TimestampType{Unit: arrow.Nanosecond, TimeZone: "UTC"}
	default:
		return arrow.BinaryTypes.String
	}
}

// SchemaFromArrow converts an Arrow schema.
func SchemaFromArrow(as *arrow.Schema) (Schema, error) {
	fields := make([]Field, as.NumFields())
	for i, f := range as.Fields() {
		t, err := TypeFromArrow(f.Type)
		if err != nil {
			return Schema{}, fmt.Errorf("column %s: %w", f.Name, err)
		}
		fields[i] = Field{Name: f.Name, Type: t, Nullable: f.Nullable}
	}
	return NewSchema(fields...)
}

// ArrowSchema converts a schema into its Arrow export form.
func ArrowSchema(s Schema) *arrow.Schema {
	fields := make([]arrow.Field, s.Len())
	for i, f := range s.fields {
		fields[i] = arrow.Field{Name: f.Name, Type: ArrowType(f.Type), Nullable: f.Nullable}
	}
	return arrow.NewSchema(fields, nil)
}

// FromRecord converts an Arrow record into a snapshot.
func FromRecord(rec arrow.Record) (*Snapshot, error) {
	return FromRecords(rec.Schema(), rec)
}

// FromRecords converts a sequence of record batches sharing one schema into
// a single snapshot.
func FromRecords(as *arrow.Schema, recs ...arrow.Record) (*Snapshot, error) {
	schema, err := SchemaFromArrow(as)
	if err != nil {
		return nil, err
	}
	total := 0
	for _, rec := range recs {
		if !rec.Schema().Equal(as) {
			return nil, fmt.Errorf("record schema %s does not match %s", rec.Schema(), as)
		}
		total += int(rec.NumRows())
	}
	columns := make([][]Value, schema.Len())
	for c := range columns {
		columns[c] = make([]Value, 0, total)
	}
	offset := 0
	for _, rec := range recs {
		rows := int(rec.NumRows())
		for c, col := range rec.Columns() {
			for r := 0; r < rows; r++ {
				v, err := arrowValue(col, r)
				if err != nil {
					return nil, fmt.Errorf("column %s row %d: %w", schema.Field(c).Name, offset+r, err)
				}
				columns[c] = append(columns[c], v)
			}
		}
		offset += rows
	}
	return fromColumns(schema, columns, total)
}

func arrowValue(arr arrow.Array, i int) (Value, error) {
	if arr.IsNull(i) {
		return Null(), nil
	}
	switch a := arr.(type) {
	case *array.Int8:
		return Int(int64(a.Value(i))), nil
	case *array.Int16:
		return Int(int64(a.Value(i))), nil
	case *array.Int32:
		return Int(int64(a.Value(i))), nil
	case *array.Int64:
		return Int(a.Value(i)), nil
	case *array.Uint8:
		return Int(int64(a.Value(i))), nil
	case *array.Uint16:
		return Int(int64(a.Value(i))), nil
	case *array.Uint32:
		return Int(int64(a.Value(i))), nil
	case *array.Uint64:
		v := a.Value(i)
		if v > math.MaxInt64 {
			return Value{}, fmt.Errorf("uint64 value %d overflows int64", v)
		}
		return Int(int64(v)), nil
	case *array.Float16:
		return Float(float64(a.Value(i).Float32())), nil
	case *array.Float32:
		return Float(float64(a.Value(i))), nil
	case *array.Float64:
		return Float(a.Value(i)), nil
	case *array.Decimal128:
		scale := a.DataType().(*arrow.Decimal128Type).Scale
		return Float(a.Value(i).ToFloat64(scale)), nil
	case *array.String:
		return String(a.Value(i)), nil
	case *array.LargeString:
		return String(a.Value(i)), nil
	case *array.Boolean:
		return Bool(a.Value(i)), nil
	case *array.Date32:
		return Timestamp(a.Value(i).ToTime()), nil
	case *array.Date64:
		return Timestamp(a.Value(i).ToTime()), nil
	case *array.Timestamp:
		unit := a.DataType().(*arrow.TimestampType).Unit
		return Timestamp(a.Value(i).ToTime(unit)), nil
	case *array.Dictionary:
		return arrowValue(a.Dictionary(), a.GetValueIndex(i))
	}
	return Value{}, fmt.Errorf("unsupported arrow array %s", arr.DataType())
}

// ToRecord exports the snapshot as a single Arrow record. The caller owns the
// returned record and must release it.
func (s *Snapshot) ToRecord(mem memory.Allocator) arrow.Record {
	schema := ArrowSchema(s.schema)
	cols := make([]arrow.Array, len(s.columns))
	for c := range s.schema.fields {
		b := array.NewBuilder(mem, schema.Field(c).Type)
		for _, v := range s.columns[c] {
			appendValue(b, v)
		}
		cols[c] = b.NewArray()
		b.Release()
	}
	rec := array.NewRecord(schema, cols, int64(s.rows))
	for _, col := range cols {
		col.Release()
	}
	return rec
}

func appendValue(b array.Builder, v Value) {
	if v.IsNull() {
		b.AppendNull()
		return
	}
	switch bb := b.(type) {
	case *array.Int64Builder:
		bb.Append(v.Int64())
	case *array.Float64Builder:
		bb.Append(v.Float64())
	case *array.BooleanBuilder:
		bb.Append(v.Boolean())
	case *array.Date32Builder:
		bb.Append(arrow.Date32FromTime(v.Time()))
	case *array.TimestampBuilder:
		bb.Append(arrow.Timestamp(v.Nanos()))
	case *array.StringBuilder:
		bb.Append(v.String())
	default:
		b.AppendNull()
	}
}
