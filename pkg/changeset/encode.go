package changeset

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/TFMV/tabdelta/pkg/identity"
	"github.com/TFMV/tabdelta/pkg/schema"
	"github.com/TFMV/tabdelta/pkg/snapshot"
)

// Encoded changesets start with Magic followed by the format version, then
// a sequence of records framed as kind byte, uvarint payload length and
// payload. The first record is the header, then one record per delta, then
// a trailer holding the delta count.
const (
	Magic   = "TDCS"
	Version = 1

	recordHeader  = 'H'
	recordTrailer = 'E'

	maxRecordSize = 1 << 30
)

// Encode serializes a changeset. Encoding is deterministic: equal changesets
// always produce identical bytes.
func Encode(c *Changeset) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, c); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Write streams the encoded changeset to w.
func Write(w io.Writer, c *Changeset) error {
	e := NewEncoder(w)
	if err := e.WriteHeader(c.Header); err != nil {
		return err
	}
	for _, d := range c.Deltas {
		if err := e.WriteDelta(d); err != nil {
			return err
		}
	}
	return e.Close()
}

// Decode parses an encoded changeset.
func Decode(b []byte) (*Changeset, error) {
	return Read(bytes.NewReader(b))
}

// Read decodes a whole changeset from r.
func Read(r io.Reader) (*Changeset, error) {
	d := NewDecoder(r)
	h, err := d.Header()
	if err != nil {
		return nil, err
	}
	c := &Changeset{Header: *h}
	for {
		delta, err := d.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		c.Deltas = append(c.Deltas, delta)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Encoder writes a changeset record by record.
type Encoder struct {
	w      io.Writer
	buf    []byte
	frame  []byte
	header bool
	count  uint64
	closed bool
}

// NewEncoder returns an encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w, buf: make([]byte, 0, 256)}
}

func (e *Encoder) writeRecord(kind byte, payload []byte) error {
	e.frame = append(e.frame[:0], kind)
	e.frame = binary.AppendUvarint(e.frame, uint64(len(payload)))
	if _, err := e.w.Write(e.frame); err != nil {
		return err
	}
	_, err := e.w.Write(payload)
	return err
}

// WriteHeader writes the magic bytes and the header record. It must be
// called exactly once, before any delta.
func (e *Encoder) WriteHeader(h Header) error {
	if e.header {
		return errors.New("changeset header already written")
	}
	e.header = true
	if _, err := e.w.Write(append([]byte(Magic), Version)); err != nil {
		return err
	}
	b := e.buf[:0]
	b = appendString(b, h.BaseHash)
	b = appendString(b, h.TargetHash)
	b = appendStrings(b, h.KeyColumns)
	b = appendStrings(b, h.IdentityColumns)
	b = appendSchema(b, h.BaseSchema)
	b = appendSchema(b, h.TargetSchema)
	b = binary.AppendUvarint(b, uint64(len(h.Schema)))
	for _, c := range h.Schema {
		b = append(b, byte(c.Kind))
		b = appendString(b, c.Column)
		b = append(b, byte(c.From), byte(c.To))
	}
	e.buf = b
	return e.writeRecord(recordHeader, b)
}

// WriteDelta writes one delta record.
func (e *Encoder) WriteDelta(d Delta) error {
	if !e.header || e.closed {
		return errors.New("changeset delta written outside header and trailer")
	}
	b := d.Identity.AppendBinary(e.buf[:0])
	switch d.Kind {
	case Added, Removed:
		b = binary.AppendUvarint(b, uint64(len(d.Row)))
		for _, v := range d.Row {
			b = v.AppendBinary(b)
		}
	case Modified:
		b = binary.AppendUvarint(b, uint64(len(d.Cells)))
		for _, c := range d.Cells {
			b = appendString(b, c.Column)
			b = c.Old.AppendBinary(b)
			b = c.New.AppendBinary(b)
		}
	default:
		return fmt.Errorf("unknown delta kind %d", byte(d.Kind))
	}
	e.buf = b
	e.count++
	return e.writeRecord(byte(d.Kind), b)
}

// Close writes the trailer record. It does not close the underlying writer.
func (e *Encoder) Close() error {
	if e.closed {
		return nil
	}
	if !e.header {
		return errors.New("changeset header not written")
	}
	e.closed = true
	return e.writeRecord(recordTrailer, binary.AppendUvarint(e.buf[:0], e.count))
}

// Decoder reads a changeset record by record, so callers can stop early.
type Decoder struct {
	r      *bufio.Reader
	header *Header
	count  uint64
	done   bool
}

// NewDecoder returns a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

func corrupt(format string, a ...any) error {
	return fmt.Errorf("%w: %s", ErrCorrupt, fmt.Sprintf(format, a...))
}

func (d *Decoder) readRecord() (byte, []byte, error) {
	kind, err := d.r.ReadByte()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return 0, nil, corrupt("missing trailer")
		}
		return 0, nil, err
	}
	n, err := binary.ReadUvarint(d.r)
	if err != nil {
		return 0, nil, corrupt("record length: %v", err)
	}
	if n > maxRecordSize {
		return 0, nil, corrupt("record of %d bytes exceeds limit", n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(d.r, payload); err != nil {
		return 0, nil, corrupt("truncated record: %v", err)
	}
	return kind, payload, nil
}

// Header reads and returns the changeset header. It is read on first call.
func (d *Decoder) Header() (*Header, error) {
	if d.header != nil {
		return d.header, nil
	}
	magic := make([]byte, len(Magic)+1)
	if _, err := io.ReadFull(d.r, magic); err != nil {
		return nil, corrupt("missing magic: %v", err)
	}
	if string(magic[:len(Magic)]) != Magic {
		return nil, corrupt("bad magic %q", magic[:len(Magic)])
	}
	if magic[len(Magic)] != Version {
		return nil, corrupt("unsupported version %d", magic[len(Magic)])
	}
	kind, payload, err := d.readRecord()
	if err != nil {
		return nil, err
	}
	if kind != recordHeader {
		return nil, corrupt("expected header record, got %q", kind)
	}
	p := &parser{b: payload}
	h := &Header{
		BaseHash:        p.str(),
		TargetHash:      p.str(),
		KeyColumns:      p.strs(),
		IdentityColumns: p.strs(),
		BaseSchema:      p.fields(),
		TargetSchema:    p.fields(),
	}
	n := p.uvarint()
	for i := uint64(0); i < n && p.err == nil; i++ {
		kind := schema.ChangeKind(p.u8())
		c := schema.Change{Kind: kind, Column: p.str()}
		c.From = snapshot.Type(p.u8())
		c.To = snapshot.Type(p.u8())
		if p.err == nil && (kind < schema.ColumnAdded || kind > schema.TypeConflict) {
			p.fail("unknown schema change %d", kind)
		}
		h.Schema = append(h.Schema, c)
	}
	if err := p.finish(); err != nil {
		return nil, err
	}
	d.header = h
	return h, nil
}

// Next returns the next delta, or io.EOF once the trailer has been read.
func (d *Decoder) Next() (Delta, error) {
	if d.done {
		return Delta{}, io.EOF
	}
	if _, err := d.Header(); err != nil {
		return Delta{}, err
	}
	kind, payload, err := d.readRecord()
	if err != nil {
		return Delta{}, err
	}
	p := &parser{b: payload}
	if kind == recordTrailer {
		n := p.uvarint()
		if err := p.finish(); err != nil {
			return Delta{}, err
		}
		if n != d.count {
			return Delta{}, corrupt("trailer counts %d deltas, read %d", n, d.count)
		}
		d.done = true
		return Delta{}, io.EOF
	}

	delta := Delta{Kind: Kind(kind), Identity: p.identity()}
	switch delta.Kind {
	case Added, Removed:
		n := p.count()
		delta.Row = make([]snapshot.Value, 0, n)
		for i := 0; i < n && p.err == nil; i++ {
			delta.Row = append(delta.Row, p.value())
		}
	case Modified:
		n := p.count()
		delta.Cells = make([]CellChange, 0, n)
		for i := 0; i < n && p.err == nil; i++ {
			c := CellChange{Column: p.str()}
			c.Old = p.value()
			c.New = p.value()
			delta.Cells = append(delta.Cells, c)
		}
	default:
		return Delta{}, corrupt("unknown record kind %q", kind)
	}
	if err := p.finish(); err != nil {
		return Delta{}, err
	}
	d.count++
	return delta, nil
}

func appendString(b []byte, s string) []byte {
	b = binary.AppendUvarint(b, uint64(len(s)))
	return append(b, s...)
}

func appendStrings(b []byte, sl []string) []byte {
	b = binary.AppendUvarint(b, uint64(len(sl)))
	for _, s := range sl {
		b = appendString(b, s)
	}
	return b
}

func appendSchema(b []byte, s snapshot.Schema) []byte {
	b = binary.AppendUvarint(b, uint64(s.Len()))
	for _, f := range s.Fields() {
		b = appendString(b, f.Name)
		nullable := byte(0)
		if f.Nullable {
			nullable = 1
		}
		b = append(b, byte(f.Type), nullable)
	}
	return b
}

// parser reads fields from a record payload. The first error sticks and
// turns every later read into a no-op.
type parser struct {
	b   []byte
	off int
	err error
}

func (p *parser) fail(format string, a ...any) {
	if p.err == nil {
		p.err = corrupt(format, a...)
	}
}

func (p *parser) finish() error {
	if p.err == nil && p.off != len(p.b) {
		p.fail("%d trailing bytes in record", len(p.b)-p.off)
	}
	return p.err
}

func (p *parser) u8() byte {
	if p.err != nil {
		return 0
	}
	if p.off >= len(p.b) {
		p.fail("unexpected end of record")
		return 0
	}
	c := p.b[p.off]
	p.off++
	return c
}

func (p *parser) uvarint() uint64 {
	if p.err != nil {
		return 0
	}
	n, m := binary.Uvarint(p.b[p.off:])
	if m <= 0 {
		p.fail("bad varint")
		return 0
	}
	p.off += m
	return n
}

// count reads a collection length, bounded by the remaining payload since
// every element takes at least one byte.
func (p *parser) count() int {
	n := p.uvarint()
	if n > uint64(len(p.b)-p.off) {
		p.fail("count %d exceeds record size", n)
		return 0
	}
	return int(n)
}

func (p *parser) str() string {
	n := p.count()
	if p.err != nil {
		return ""
	}
	s := string(p.b[p.off : p.off+n])
	p.off += n
	return s
}

func (p *parser) strs() []string {
	n := p.count()
	if n == 0 {
		return nil
	}
	out := make([]string, 0, n)
	for i := 0; i < n && p.err == nil; i++ {
		out = append(out, p.str())
	}
	return out
}

func (p *parser) fields() snapshot.Schema {
	n := p.count()
	fields := make([]snapshot.Field, 0, n)
	for i := 0; i < n && p.err == nil; i++ {
		f := snapshot.Field{Name: p.str()}
		f.Type = snapshot.Type(p.u8())
		f.Nullable = p.u8() == 1
		fields = append(fields, f)
	}
	if p.err != nil {
		return snapshot.Schema{}
	}
	s, err := snapshot.NewSchema(fields...)
	if err != nil {
		p.fail("schema: %v", err)
	}
	return s
}

func (p *parser) value() snapshot.Value {
	if p.err != nil {
		return snapshot.Null()
	}
	v, n, err := snapshot.DecodeValue(p.b[p.off:])
	if err != nil {
		p.fail("value: %v", err)
		return snapshot.Null()
	}
	p.off += n
	return v
}

func (p *parser) identity() identity.Identity {
	if p.err != nil {
		return identity.Identity{}
	}
	id, n, err := identity.Decode(p.b[p.off:])
	if err != nil {
		p.fail("identity: %v", err)
		return identity.Identity{}
	}
	p.off += n
	return id
}
