package snapshot

import (
	"fmt"
	"strings"
)

// Type is the logical data type of a column.
type Type uint8

const (
	TypeInt Type = iota + 1
	TypeFloat
	TypeString
	TypeBool
	TypeDate
	TypeTimestamp
)

var typeNames = map[Type]string{
	TypeInt:       "int",
	TypeFloat:     "float",
	TypeString:    "string",
	TypeBool:      "bool",
	TypeDate:      "date",
	TypeTimestamp: "timestamp",
}

// String returns the name of the type.
func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// ParseType parses a type name as produced by Type.String.
func ParseType(s string) (Type, error) {
	for t, name := range typeNames {
		if strings.EqualFold(name, s) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown column type %q", s)
}

// Kind returns the value kind stored in columns of this type.
func (t Type) Kind() Kind {
	switch t {
	case TypeInt:
		return KindInt
	case TypeFloat:
		return KindFloat
	case TypeString:
		return KindString
	case TypeBool:
		return KindBool
	case TypeDate, TypeTimestamp:
		return KindTimestamp
	}
	return KindNull
}

// Field describes a single column.
type Field struct {
	Name     string
	Type     Type
	Nullable bool
}

func (f Field) String() string {
	null := ""
	if f.Nullable {
		null = "?"
	}
	return fmt.Sprintf("%s: %s%s", f.Name, f.Type, null)
}

// Schema is an ordered set of uniquely named fields.
type Schema struct {
	fields []Field
	index  map[string]int
}

// NewSchema creates a schema, rejecting empty or duplicated column names.
func NewSchema(fields ...Field) (Schema, error) {
	s := Schema{
		fields: make([]Field, len(fields)),
		index:  make(map[string]int, len(fields)),
	}
	for i, f := range fields {
		if f.Name == "" {
			return Schema{}, fmt.Errorf("column %d has an empty name", i)
		}
		if _, ok := typeNames[f.Type]; !ok {
			return Schema{}, fmt.Errorf("column %s has invalid type %s", f.Name, f.Type)
		}
		if _, dup := s.index[f.Name]; dup {
			return Schema{}, fmt.Errorf("duplicate column %s", f.Name)
		}
		s.fields[i] = f
		s.index[f.Name] = i
	}
	return s, nil
}

// MustSchema is like NewSchema but panics on error. Intended for tests and
// static schemas.
func MustSchema(fields ...Field) Schema {
	s, err := NewSchema(fields...)
	if err != nil {
		panic(err)
	}
	return s
}

// Len returns the number of fields.
func (s Schema) Len() int { return len(s.fields) }

// Field returns the i-th field.
func (s Schema) Field(i int) Field { return s.fields[i] }

// Fields returns a copy of the fields.
func (s Schema) Fields() []Field {
	out := make([]Field, len(s.fields))
	copy(out, s.fields)
	return out
}

// Names returns the column names in schema order.
func (s Schema) Names() []string {
	out := make([]string, len(s.fields))
	for i, f := range s.fields {
		out[i] = f.Name
	}
	return out
}

// Lookup returns the field with the given name and its position.
func (s Schema) Lookup(name string) (Field, int, bool) {
	i, ok := s.index[name]
	if !ok {
		return Field{}, -1, false
	}
	return s.fields[i], i, true
}

// Equal reports whether both schemas have the same fields in the same order.
func (s Schema) Equal(o Schema) bool {
	if len(s.fields) != len(o.fields) {
		return false
	}
	for i := range s.fields {
		if s.fields[i] != o.fields[i] {
			return false
		}
	}
	return true
}

func (s Schema) String() string {
	parts := make([]string, len(s.fields))
	for i, f := range s.fields {
		parts[i] = f.String()
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
