package schema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/TFMV/tabdelta/pkg/snapshot"
)

func nullability(nullable bool) string {
	if nullable {
		return "NULL"
	}
	return "NOT NULL"
}

// Describe renders a schema one column per line.
func Describe(s snapshot.Schema) string {
	var b strings.Builder
	b.WriteString("Schema:\n")
	for _, f := range s.Fields() {
		fmt.Fprintf(&b, "  %s: %s %s\n", f.Name, f.Type, nullability(f.Nullable))
	}
	return b.String()
}

// Format renders a human-readable comparison of two schemas.
func Format(base, target snapshot.Schema) string {
	var b strings.Builder
	b.WriteString("Schema Comparison:\n\n")

	if base.Len() != target.Len() {
		fmt.Fprintf(&b, "Field count differs: base=%d, target=%d\n\n", base.Len(), target.Len())
	}

	_, delta, err := Reconcile(base, target)

	section := func(title string, kind ChangeKind, typ func(Change) snapshot.Type) {
		var lines []string
		for _, c := range delta {
			if c.Kind == kind {
				lines = append(lines, fmt.Sprintf("  %s: %s\n", c.Column, typ(c)))
			}
		}
		if len(lines) == 0 {
			return
		}
		b.WriteString(title + ":\n")
		for _, l := range lines {
			b.WriteString(l)
		}
		b.WriteString("\n")
	}
	section("Fields only in base schema", ColumnRemoved, func(c Change) snapshot.Type { return c.From })
	section("Fields only in target schema", ColumnAdded, func(c Change) snapshot.Type { return c.To })

	b.WriteString("Common fields with differences:\n")
	names := base.Names()
	sort.Strings(names)
	found := false
	for _, name := range names {
		bf, _, _ := base.Lookup(name)
		tf, _, ok := target.Lookup(name)
		if !ok {
			continue
		}
		var diffs []string
		if bf.Type != tf.Type {
			note := "incompatible"
			if Promotable(bf.Type, tf.Type) {
				note = "promoted"
			}
			diffs = append(diffs, fmt.Sprintf("type: %s -> %s (%s)", bf.Type, tf.Type, note))
		}
		if bf.Nullable != tf.Nullable {
			diffs = append(diffs, fmt.Sprintf("nullability: %s -> %s", nullability(bf.Nullable), nullability(tf.Nullable)))
		}
		if len(diffs) > 0 {
			found = true
			fmt.Fprintf(&b, "  %s: %s\n", name, strings.Join(diffs, ", "))
		}
	}
	if !found {
		b.WriteString("  None\n")
	}

	if err != nil {
		fmt.Fprintf(&b, "\n%s\n", err)
	}
	return b.String()
}
