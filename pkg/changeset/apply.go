package changeset

import (
	"fmt"

	"github.com/TFMV/tabdelta/pkg/identity"
	"github.com/TFMV/tabdelta/pkg/schema"
	"github.com/TFMV/tabdelta/pkg/snapshot"
)

// Apply replays c onto base and returns the resulting snapshot. Surviving
// base rows keep their order and added rows follow in delta order. Columns
// that only exist at schema level (added or type-conflicted) are filled with
// nulls for surviving rows, so they become nullable.
func Apply(base *snapshot.Snapshot, c *Changeset) (*snapshot.Snapshot, error) {
	if base.Hash() != c.BaseHash {
		return nil, fmt.Errorf("%w: have %s, want %s", ErrBaseMismatch, base.Hash(), c.BaseHash)
	}
	if len(c.Deltas) == 0 && c.BaseSchema.Equal(c.TargetSchema) {
		return base, nil
	}
	mapping, _, err := schema.Reconcile(c.BaseSchema, c.TargetSchema)
	if err != nil {
		return nil, err
	}
	proj, err := base.Project(mapping.BaseProjection())
	if err != nil {
		return nil, err
	}
	idx, err := c.baseIndex(proj)
	if err != nil {
		return nil, err
	}

	removed := make(map[int]bool)
	modified := make(map[int][]CellChange)
	var added [][]snapshot.Value
	for _, d := range c.Deltas {
		if d.Kind == Added {
			if len(d.Row) != c.TargetSchema.Len() {
				return nil, fmt.Errorf("%w: added row %s has %d values", ErrCorrupt, c.Label(d.Identity), len(d.Row))
			}
			added = append(added, d.Row)
			continue
		}
		row, ok := idx.Lookup(d.Identity)
		if !ok {
			return nil, fmt.Errorf("%w: row %s not found in base", ErrCorrupt, c.Label(d.Identity))
		}
		if d.Kind == Removed {
			removed[row] = true
		} else {
			modified[row] = d.Cells
		}
	}

	source := make([]int, c.TargetSchema.Len())
	for i := range source {
		source[i] = -1
	}
	for i, col := range mapping {
		source[col.Target] = i
	}
	survivors := base.NumRows() - len(removed)
	fields := c.TargetSchema.Fields()
	for t := range fields {
		if source[t] < 0 && survivors > 0 {
			fields[t].Nullable = true
		}
	}
	out, err := snapshot.NewSchema(fields...)
	if err != nil {
		return nil, err
	}

	rows := make([][]snapshot.Value, 0, survivors+len(added))
	for r := 0; r < base.NumRows(); r++ {
		if removed[r] {
			continue
		}
		row := make([]snapshot.Value, len(fields))
		for t, m := range source {
			if m >= 0 {
				row[t] = proj.Value(r, m)
			}
		}
		for _, cell := range modified[r] {
			_, t, ok := out.Lookup(cell.Column)
			if !ok {
				return nil, fmt.Errorf("%w: unknown column %s", ErrCorrupt, cell.Column)
			}
			row[t] = cell.New
		}
		rows = append(rows, row)
	}
	rows = append(rows, added...)
	return snapshot.New(out, rows)
}

// baseIndex resolves identities of the projected base the same way the diff
// that produced c did.
func (c *Changeset) baseIndex(proj *snapshot.Snapshot) (*identity.Index, error) {
	if len(c.KeyColumns) > 0 {
		return identity.Resolve(proj, c.KeyColumns...)
	}
	cols := make([]snapshot.Projection, len(c.IdentityColumns))
	for i, name := range c.IdentityColumns {
		f, pos, ok := proj.Schema().Lookup(name)
		if !ok {
			return nil, fmt.Errorf("%w: identity column %s is not comparable", ErrCorrupt, name)
		}
		cols[i] = snapshot.Projection{Source: pos, Field: f}
	}
	hashed, err := proj.Project(cols)
	if err != nil {
		return nil, err
	}
	return identity.Resolve(hashed)
}
