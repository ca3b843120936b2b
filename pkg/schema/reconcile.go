// Package schema reconciles the schemas of two snapshots into a column
// mapping for row-level comparison plus a list of schema-level changes.
package schema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/TFMV/tabdelta/pkg/snapshot"
)

// ChangeKind classifies a schema-level change.
type ChangeKind uint8

const (
	ColumnAdded ChangeKind = iota + 1
	ColumnRemoved
	ColumnPromoted
	TypeConflict
)

func (k ChangeKind) String() string {
	switch k {
	case ColumnAdded:
		return "added"
	case ColumnRemoved:
		return "removed"
	case ColumnPromoted:
		return "promoted"
	case TypeConflict:
		return "type-conflict"
	}
	return fmt.Sprintf("change(%d)", uint8(k))
}

// ParseChangeKind parses the output of ChangeKind.String.
func ParseChangeKind(s string) (ChangeKind, error) {
	for k := ColumnAdded; k <= TypeConflict; k++ {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown schema change %q", s)
}

// Change is one schema-level difference. From is zero for added columns and
// To is zero for removed ones.
type Change struct {
	Kind   ChangeKind
	Column string
	From   snapshot.Type
	To     snapshot.Type
}

func (c Change) String() string {
	switch c.Kind {
	case ColumnAdded:
		return fmt.Sprintf("+ %s: %s", c.Column, c.To)
	case ColumnRemoved:
		return fmt.Sprintf("- %s: %s", c.Column, c.From)
	case ColumnPromoted:
		return fmt.Sprintf("~ %s: %s -> %s", c.Column, c.From, c.To)
	}
	return fmt.Sprintf("! %s: %s -> %s (incompatible)", c.Column, c.From, c.To)
}

// Delta is the ordered list of schema changes, sorted by column name.
type Delta []Change

// Empty reports whether the schemas are column-for-column equivalent.
func (d Delta) Empty() bool { return len(d) == 0 }

// Find returns the change recorded for a column.
func (d Delta) Find(column string) (Change, bool) {
	i := sort.Search(len(d), func(i int) bool { return d[i].Column >= column })
	if i < len(d) && d[i].Column == column {
		return d[i], true
	}
	return Change{}, false
}

// Conflicts returns the TypeConflict entries.
func (d Delta) Conflicts() []Change {
	var out []Change
	for _, c := range d {
		if c.Kind == TypeConflict {
			out = append(out, c)
		}
	}
	return out
}

// Column maps one comparable column between base and target.
type Column struct {
	Name string
	// Base and Target are the column positions in each schema.
	Base   int
	Target int
	// Field is the comparison field: the target type, nullable when either
	// side is nullable.
	Field snapshot.Field
	// Promote is set when base values must be widened to Field.Type.
	Promote bool
}

// Mapping is the set of comparable columns, in target schema order.
type Mapping []Column

// Names returns the mapped column names.
func (m Mapping) Names() []string {
	out := make([]string, len(m))
	for i, c := range m {
		out[i] = c.Name
	}
	return out
}

// Lookup returns the mapped column with the given name.
func (m Mapping) Lookup(name string) (Column, bool) {
	for _, c := range m {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// BaseProjection projects the base snapshot onto the mapped columns.
func (m Mapping) BaseProjection() []snapshot.Projection {
	out := make([]snapshot.Projection, len(m))
	for i, c := range m {
		out[i] = snapshot.Projection{Source: c.Base, Field: c.Field}
	}
	return out
}

// TargetProjection projects the target snapshot onto the mapped columns.
func (m Mapping) TargetProjection() []snapshot.Projection {
	out := make([]snapshot.Projection, len(m))
	for i, c := range m {
		out[i] = snapshot.Projection{Source: c.Target, Field: c.Field}
	}
	return out
}

// SchemaMismatchError is returned when two non-empty schemas share no
// comparable column.
type SchemaMismatchError struct {
	Base   []string
	Target []string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("schema mismatch: no comparable columns between [%s] and [%s]",
		strings.Join(e.Base, ", "), strings.Join(e.Target, ", "))
}

var promotions = map[[2]snapshot.Type]bool{
	{snapshot.TypeInt, snapshot.TypeFloat}:      true,
	{snapshot.TypeDate, snapshot.TypeTimestamp}: true,
}

// Promotable reports whether values of type from widen losslessly into to.
func Promotable(from, to snapshot.Type) bool {
	return promotions[[2]snapshot.Type{from, to}]
}

// Reconcile aligns base and target columns by name. Columns with equal types
// are mapped directly, promotable retypes are mapped with Promote set, and
// other retypes are recorded as TypeConflict and left out of the mapping.
func Reconcile(base, target snapshot.Schema) (Mapping, Delta, error) {
	var (
		mapping Mapping
		delta   Delta
	)
	for t := 0; t < target.Len(); t++ {
		tf := target.Field(t)
		bf, b, ok := base.Lookup(tf.Name)
		if !ok {
			delta = append(delta, Change{Kind: ColumnAdded, Column: tf.Name, To: tf.Type})
			continue
		}
		col := Column{
			Name:   tf.Name,
			Base:   b,
			Target: t,
			Field:  snapshot.Field{Name: tf.Name, Type: tf.Type, Nullable: tf.Nullable || bf.Nullable},
		}
		switch {
		case bf.Type == tf.Type:
		case Promotable(bf.Type, tf.Type):
			col.Promote = true
			delta = append(delta, Change{Kind: ColumnPromoted, Column: tf.Name, From: bf.Type, To: tf.Type})
		default:
			delta = append(delta, Change{Kind: TypeConflict, Column: tf.Name, From: bf.Type, To: tf.Type})
			continue
		}
		mapping = append(mapping, col)
	}
	for b := 0; b < base.Len(); b++ {
		bf := base.Field(b)
		if _, _, ok := target.Lookup(bf.Name); !ok {
			delta = append(delta, Change{Kind: ColumnRemoved, Column: bf.Name, From: bf.Type})
		}
	}
	sort.Slice(delta, func(i, j int) bool { return delta[i].Column < delta[j].Column })

	if len(mapping) == 0 && base.Len() > 0 && target.Len() > 0 {
		return nil, delta, &SchemaMismatchError{Base: base.Names(), Target: target.Names()}
	}
	return mapping, delta, nil
}

// Compatible reports whether every column present in both schemas has the
// same type. Added and removed columns and nullability do not matter.
func Compatible(a, b snapshot.Schema) bool {
	_, d, _ := Reconcile(a, b)
	for _, c := range d {
		if c.Kind == ColumnPromoted || c.Kind == TypeConflict {
			return false
		}
	}
	return true
}

// Reconcilable reports whether every type change between the schemas is a
// promotion and the schemas share a comparable column.
func Reconcilable(a, b snapshot.Schema) bool {
	_, d, err := Reconcile(a, b)
	return err == nil && len(d.Conflicts()) == 0
}
