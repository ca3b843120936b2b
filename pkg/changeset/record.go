package changeset

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/TFMV/tabdelta/pkg/snapshot"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// RecordSchema is the Arrow schema of flattened changesets. Added and
// removed rows produce one record row holding the full row as JSON;
// modified rows produce one record row per changed cell.
var RecordSchema = arrow.NewSchema([]arrow.Field{
	{Name: "_change", Type: arrow.BinaryTypes.String},
	{Name: "_identity", Type: arrow.BinaryTypes.String},
	{Name: "_column", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "_old", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "_new", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "_row", Type: arrow.BinaryTypes.String, Nullable: true},
}, nil)

// RowJSON renders a row as a JSON object keyed by column name.
func RowJSON(s snapshot.Schema, row []snapshot.Value) (string, error) {
	obj := make(map[string]any, len(row))
	for i, v := range row {
		x := v.Interface()
		if f, ok := x.(float64); ok && (math.IsNaN(f) || math.IsInf(f, 0)) {
			x = v.String()
		}
		obj[s.Field(i).Name] = x
	}
	b, err := json.Marshal(obj)
	if err != nil {
		return "", fmt.Errorf("failed to marshal row: %w", err)
	}
	return string(b), nil
}

// ToRecord flattens c into a single Arrow record using RecordSchema. The
// caller must release the record.
func ToRecord(c *Changeset, mem memory.Allocator) (arrow.Record, error) {
	b := array.NewRecordBuilder(mem, RecordSchema)
	defer b.Release()

	change := b.Field(0).(*array.StringBuilder)
	ident := b.Field(1).(*array.StringBuilder)
	column := b.Field(2).(*array.StringBuilder)
	oldV := b.Field(3).(*array.StringBuilder)
	newV := b.Field(4).(*array.StringBuilder)
	row := b.Field(5).(*array.StringBuilder)

	for _, d := range c.Deltas {
		label := c.Label(d.Identity)
		switch d.Kind {
		case Added, Removed:
			s := c.TargetSchema
			if d.Kind == Removed {
				s = c.BaseSchema
			}
			js, err := RowJSON(s, d.Row)
			if err != nil {
				return nil, err
			}
			change.Append(d.Kind.String())
			ident.Append(label)
			column.AppendNull()
			oldV.AppendNull()
			newV.AppendNull()
			row.Append(js)
		case Modified:
			for _, cc := range d.Cells {
				change.Append(d.Kind.String())
				ident.Append(label)
				column.Append(cc.Column)
				appendText(oldV, cc.Old)
				appendText(newV, cc.New)
				row.AppendNull()
			}
		}
	}
	return b.NewRecord(), nil
}

func appendText(b *array.StringBuilder, v snapshot.Value) {
	if v.IsNull() {
		b.AppendNull()
		return
	}
	b.Append(v.String())
}
