// Package identity resolves a stable identity for every row of a snapshot so
// rows can be aligned across dataset versions.
package identity

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/TFMV/tabdelta/pkg/snapshot"
	"github.com/pckhoi/meow"
)

// ErrUnknownKeyColumn is returned when a declared key column is missing.
var ErrUnknownKeyColumn = errors.New("unknown key column")

// Identity aligns a row across snapshots. Keyed identities carry the tuple of
// key-column values; otherwise the identity is a hash of the full row plus
// an ordinal separating byte-identical duplicate rows.
type Identity struct {
	Key     []snapshot.Value
	Hash    string
	Ordinal int
}

// Keyed reports whether the identity is a key tuple.
func (id Identity) Keyed() bool { return id.Hash == "" }

// Compare orders identities: key tuples element-wise, hashes lexically then
// by ordinal. Keyed identities sort before hashed ones.
func (id Identity) Compare(o Identity) int {
	if id.Keyed() != o.Keyed() {
		if id.Keyed() {
			return -1
		}
		return 1
	}
	if !id.Keyed() {
		if c := strings.Compare(id.Hash, o.Hash); c != 0 {
			return c
		}
		switch {
		case id.Ordinal < o.Ordinal:
			return -1
		case id.Ordinal > o.Ordinal:
			return 1
		}
		return 0
	}
	for i := 0; i < len(id.Key) && i < len(o.Key); i++ {
		if c := id.Key[i].Compare(o.Key[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(id.Key) < len(o.Key):
		return -1
	case len(id.Key) > len(o.Key):
		return 1
	}
	return 0
}

// Equal reports whether both identities are the same.
func (id Identity) Equal(o Identity) bool { return id.Compare(o) == 0 }

func (id Identity) String() string {
	if !id.Keyed() {
		if id.Ordinal > 0 {
			return fmt.Sprintf("#%s.%d", id.Hash, id.Ordinal)
		}
		return "#" + id.Hash
	}
	parts := make([]string, len(id.Key))
	for i, v := range id.Key {
		parts[i] = v.String()
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// Label renders a keyed identity with its column names, e.g. "id=1, region=eu".
func (id Identity) Label(columns []string) string {
	if !id.Keyed() || len(columns) != len(id.Key) {
		return id.String()
	}
	parts := make([]string, len(id.Key))
	for i, v := range id.Key {
		parts[i] = columns[i] + "=" + v.String()
	}
	return strings.Join(parts, ", ")
}

// MapKey returns a string usable as a map key; equal identities share it.
func (id Identity) MapKey() string { return string(id.AppendBinary(nil)) }

// AppendBinary appends the canonical encoding of the identity.
func (id Identity) AppendBinary(buf []byte) []byte {
	if id.Keyed() {
		buf = append(buf, 0)
		buf = binary.AppendUvarint(buf, uint64(len(id.Key)))
		for _, v := range id.Key {
			buf = v.AppendBinary(buf)
		}
		return buf
	}
	buf = append(buf, 1)
	buf = binary.AppendUvarint(buf, uint64(len(id.Hash)))
	buf = append(buf, id.Hash...)
	return binary.AppendUvarint(buf, uint64(id.Ordinal))
}

// Decode decodes an identity written by AppendBinary and returns the number
// of bytes consumed.
func Decode(b []byte) (Identity, int, error) {
	if len(b) == 0 {
		return Identity{}, 0, snapshot.ErrShortBuffer
	}
	off := 1
	switch b[0] {
	case 0:
		n, m := binary.Uvarint(b[off:])
		if m <= 0 || n > uint64(len(b)) {
			return Identity{}, 0, snapshot.ErrShortBuffer
		}
		off += m
		key := make([]snapshot.Value, n)
		for i := range key {
			v, m, err := snapshot.DecodeValue(b[off:])
			if err != nil {
				return Identity{}, 0, err
			}
			key[i] = v
			off += m
		}
		return Identity{Key: key}, off, nil
	case 1:
		l, m := binary.Uvarint(b[off:])
		if m <= 0 || uint64(len(b)-off-m) < l {
			return Identity{}, 0, snapshot.ErrShortBuffer
		}
		off += m
		hash := string(b[off : off+int(l)])
		off += int(l)
		ord, m := binary.Uvarint(b[off:])
		if m <= 0 {
			return Identity{}, 0, snapshot.ErrShortBuffer
		}
		if hash == "" {
			return Identity{}, 0, errors.New("empty row hash")
		}
		return Identity{Hash: hash, Ordinal: int(ord)}, off + m, nil
	}
	return Identity{}, 0, fmt.Errorf("unknown identity tag %d", b[0])
}

// DuplicateKeyError reports key columns that do not uniquely identify rows.
type DuplicateKeyError struct {
	Columns []string
	Key     []snapshot.Value
	First   int
	Second  int
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("duplicate key %s at rows %d and %d",
		Identity{Key: e.Key}.Label(e.Columns), e.First, e.Second)
}

// Index maps identities to row positions within one snapshot.
type Index struct {
	// Columns lists the identity columns: the key columns, or every column
	// in name order when rows are identified by hash.
	Columns []string
	Keyed   bool

	ids []Identity
	pos map[string]int
}

// Len returns the number of indexed rows.
func (x *Index) Len() int { return len(x.ids) }

// At returns the identity of row i.
func (x *Index) At(row int) Identity { return x.ids[row] }

// Lookup returns the row holding id.
func (x *Index) Lookup(id Identity) (int, bool) {
	row, ok := x.pos[id.MapKey()]
	return row, ok
}

// Sorted returns row positions ordered by ascending identity.
func (x *Index) Sorted() []int {
	rows := make([]int, len(x.ids))
	for i := range rows {
		rows[i] = i
	}
	sort.Slice(rows, func(a, b int) bool {
		return x.ids[rows[a]].Compare(x.ids[rows[b]]) < 0
	})
	return rows
}

// Resolve builds the identity index of a snapshot. With key columns, each
// row is identified by its key tuple and repeated tuples fail with a
// *DuplicateKeyError. Without key columns, rows are identified by a meow
// checksum of their values in column-name order; distinct rows whose
// checksums collide are treated as the same row.
func Resolve(s *snapshot.Snapshot, keyColumns ...string) (*Index, error) {
	if len(keyColumns) > 0 {
		return resolveKeyed(s, keyColumns)
	}
	return resolveHashed(s), nil
}

func resolveKeyed(s *snapshot.Snapshot, keyColumns []string) (*Index, error) {
	schema := s.Schema()
	cols := make([]int, len(keyColumns))
	for i, name := range keyColumns {
		_, idx, ok := schema.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("%w %q", ErrUnknownKeyColumn, name)
		}
		cols[i] = idx
	}
	x := &Index{
		Columns: append([]string(nil), keyColumns...),
		Keyed:   true,
		ids:     make([]Identity, s.NumRows()),
		pos:     make(map[string]int, s.NumRows()),
	}
	for r := 0; r < s.NumRows(); r++ {
		key := make([]snapshot.Value, len(cols))
		for i, c := range cols {
			key[i] = s.Value(r, c)
		}
		id := Identity{Key: key}
		mk := id.MapKey()
		if prev, dup := x.pos[mk]; dup {
			return nil, &DuplicateKeyError{Columns: x.Columns, Key: key, First: prev, Second: r}
		}
		x.ids[r] = id
		x.pos[mk] = r
	}
	return x, nil
}

// HashColumns returns the columns used for row hashes, in name order.
func HashColumns(schema snapshot.Schema) []string {
	names := schema.Names()
	sort.Strings(names)
	return names
}

func resolveHashed(s *snapshot.Snapshot) *Index {
	names := HashColumns(s.Schema())
	cols := make([]int, len(names))
	for i, name := range names {
		_, cols[i], _ = s.Schema().Lookup(name)
	}
	x := &Index{
		Columns: names,
		ids:     make([]Identity, s.NumRows()),
		pos:     make(map[string]int, s.NumRows()),
	}
	seen := make(map[string]int)
	var buf []byte
	for r := 0; r < s.NumRows(); r++ {
		buf = s.AppendCanonical(buf[:0], r, cols)
		sum := meow.Checksum(0, buf)
		hash := hex.EncodeToString(sum[:])
		id := Identity{Hash: hash, Ordinal: seen[hash]}
		seen[hash]++
		x.ids[r] = id
		x.pos[id.MapKey()] = r
	}
	return x
}
