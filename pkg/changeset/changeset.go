// Package changeset holds the serializable result of diffing two snapshots,
// together with its binary codec, three-way merge and replay onto a base.
package changeset

import (
	"fmt"

	"github.com/TFMV/tabdelta/pkg/identity"
	"github.com/TFMV/tabdelta/pkg/schema"
	"github.com/TFMV/tabdelta/pkg/snapshot"
)

// Kind is the kind of a row delta. The byte value doubles as the record
// kind in the encoded form.
type Kind byte

const (
	Added    Kind = 'A'
	Removed  Kind = 'R'
	Modified Kind = 'M'
)

func (k Kind) String() string {
	switch k {
	case Added:
		return "added"
	case Removed:
		return "removed"
	case Modified:
		return "modified"
	}
	return fmt.Sprintf("kind(%d)", byte(k))
}

// CellChange is the old and new value of one modified cell.
type CellChange struct {
	Column string
	Old    snapshot.Value
	New    snapshot.Value
}

// Delta is a change to one row. Added rows carry the full target row and
// Removed rows the full base row, each in its schema's column order. Modified
// rows carry only the differing cells, sorted by column name.
type Delta struct {
	Kind     Kind
	Identity identity.Identity
	Row      []snapshot.Value
	Cells    []CellChange
}

// Cell returns the change recorded for column.
func (d Delta) Cell(column string) (CellChange, bool) {
	for _, c := range d.Cells {
		if c.Column == column {
			return c, true
		}
	}
	return CellChange{}, false
}

// Header describes both sides of a changeset.
type Header struct {
	BaseHash   string
	TargetHash string
	// KeyColumns is empty when rows are identified by hash.
	KeyColumns []string
	// IdentityColumns lists the columns identities are computed over.
	IdentityColumns []string
	BaseSchema      snapshot.Schema
	TargetSchema    snapshot.Schema
	Schema          schema.Delta
}

// Changeset is the ordered list of row deltas between two snapshots plus
// their schema-level changes. Deltas are sorted by ascending identity.
type Changeset struct {
	Header
	Deltas []Delta
}

// Empty reports whether the changeset records no change at all.
func (c *Changeset) Empty() bool {
	return len(c.Deltas) == 0 && c.Schema.Empty()
}

// Stats counts deltas per kind.
type Stats struct {
	Added    int
	Removed  int
	Modified int
	Cells    int
}

// Total returns the number of changed rows.
func (s Stats) Total() int { return s.Added + s.Removed + s.Modified }

// Stats summarizes the changeset.
func (c *Changeset) Stats() Stats {
	var s Stats
	for _, d := range c.Deltas {
		switch d.Kind {
		case Added:
			s.Added++
		case Removed:
			s.Removed++
		case Modified:
			s.Modified++
			s.Cells += len(d.Cells)
		}
	}
	return s
}

// Label renders a delta identity with the changeset key columns.
func (c *Changeset) Label(id identity.Identity) string {
	return id.Label(c.KeyColumns)
}

// Validate checks the internal consistency of a changeset: row widths match
// their schemas, modified cells name target columns and deltas are strictly
// ordered by identity.
func (c *Changeset) Validate() error {
	for i, d := range c.Deltas {
		if i > 0 && c.Deltas[i-1].Identity.Compare(d.Identity) >= 0 {
			return fmt.Errorf("%w: delta %d out of order", ErrCorrupt, i)
		}
		switch d.Kind {
		case Added:
			if len(d.Row) != c.TargetSchema.Len() {
				return fmt.Errorf("%w: added row %s has %d values, target schema has %d",
					ErrCorrupt, c.Label(d.Identity), len(d.Row), c.TargetSchema.Len())
			}
		case Removed:
			if len(d.Row) != c.BaseSchema.Len() {
				return fmt.Errorf("%w: removed row %s has %d values, base schema has %d",
					ErrCorrupt, c.Label(d.Identity), len(d.Row), c.BaseSchema.Len())
			}
		case Modified:
			if len(d.Cells) == 0 {
				return fmt.Errorf("%w: modified row %s has no cells", ErrCorrupt, c.Label(d.Identity))
			}
			for _, cell := range d.Cells {
				if _, _, ok := c.TargetSchema.Lookup(cell.Column); !ok {
					return fmt.Errorf("%w: modified row %s names unknown column %s",
						ErrCorrupt, c.Label(d.Identity), cell.Column)
				}
			}
		default:
			return fmt.Errorf("%w: unknown delta kind %d", ErrCorrupt, byte(d.Kind))
		}
	}
	return nil
}
