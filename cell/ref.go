package cell

// RefState tracks how much a Ref currently knows about its target cell,
// per spec.md section 4.2: a reference can be an inline value, a value
// known to exist shallowly in the current store, a value fully resolved
// in memory, or a bare hash with nothing known locally.
type RefState int

const (
	// RefEmbedded holds its value inline; it was never large enough to be
	// written out as a separate stored cell.
	RefEmbedded RefState = iota
	// RefResolved holds its value in memory, having been produced by
	// decoding or by a prior successful Value() resolution.
	RefResolved
	// RefStoredShallow knows its target exists in the backing store (the
	// store proved this when the ref was created or persisted) but has
	// not loaded it into memory.
	RefStoredShallow
	// RefUnresolved knows only the hash; the value must be looked up
	// through a Resolver before it can be used.
	RefUnresolved
)

// embedThreshold is the encoded-size cutoff under which a child cell is
// spliced inline rather than written as a hash marker, per spec.md
// section 4.1 ("Embedded vs Referenced").
const embedThreshold = 32

// Ref is a lazy, content-addressed pointer to a Cell. Equality of Refs is
// by hash, independent of which state they happen to be in.
type Ref struct {
	hash  Hash
	value Cell
	state RefState
}

// NewEmbedded wraps a cell that is small enough to be encoded inline.
func NewEmbedded(c Cell) *Ref {
	return &Ref{hash: HashOfCell(c), value: c, state: RefEmbedded}
}

// NewResolved wraps a cell already known in full, too large to embed.
func NewResolved(c Cell) *Ref {
	return &Ref{hash: HashOfCell(c), value: c, state: RefResolved}
}

// NewStoredShallow wraps a hash known to be present in the backing store,
// without loading its value.
func NewStoredShallow(h Hash) *Ref {
	return &Ref{hash: h, state: RefStoredShallow}
}

// NewUnresolved wraps a bare hash with no local knowledge of its value.
func NewUnresolved(h Hash) *Ref {
	return &Ref{hash: h, state: RefUnresolved}
}

// RefOf builds the appropriate Ref for c, embedding it if its encoding
// is small enough and resolving it fully otherwise.
func RefOf(c Cell) *Ref {
	enc := Encode(c)
	if len(enc) <= embedThreshold {
		return &Ref{hash: HashOf(enc), value: c, state: RefEmbedded}
	}
	return &Ref{hash: HashOf(enc), value: c, state: RefResolved}
}

// Hash returns the target's identity hash. Always available, regardless
// of state.
func (r *Ref) Hash() Hash { return r.hash }

// State reports how much is currently known about the target.
func (r *Ref) State() RefState { return r.state }

// Embedded reports whether the ref's parent must splice its value inline
// when encoding, rather than writing a hash marker.
func (r *Ref) Embedded() bool { return r.state == RefEmbedded }

// Value returns the target cell, resolving it through res if necessary.
// A RefStoredShallow or RefUnresolved ref that resolves successfully is
// upgraded in place to RefResolved so repeat calls are free.
func (r *Ref) Value(res Resolver) (Cell, error) {
	if r.value != nil {
		return r.value, nil
	}
	if res == nil {
		return nil, MissingData(r.hash)
	}
	c, ok := res.Lookup(r.hash)
	if !ok {
		return nil, MissingData(r.hash)
	}
	r.value = c
	r.state = RefResolved
	return c, nil
}

// encodeChild appends either the child's full encoding (if embedded) or
// a ref marker byte followed by its hash, per spec.md section 4.1.
func encodeChild(buf []byte, r *Ref) []byte {
	if r.Embedded() {
		return r.value.Encode(buf)
	}
	buf = append(buf, TagRefMarker)
	return append(buf, r.hash[:]...)
}

// decodeChild reads one child ref from the front of data: either a ref
// marker plus hash, or a fully inline cell encoding.
func decodeChild(data []byte) (*Ref, []byte, error) {
	if len(data) == 0 {
		return nil, nil, BadFormatf("truncated child ref")
	}
	if data[0] == TagRefMarker {
		if len(data) < 1+HashSize {
			return nil, nil, BadFormatf("truncated ref marker")
		}
		h, err := HashFromBytes(data[1 : 1+HashSize])
		if err != nil {
			return nil, nil, err
		}
		return NewUnresolved(h), data[1+HashSize:], nil
	}
	c, rest, err := decodeOne(data)
	if err != nil {
		return nil, nil, err
	}
	return NewEmbedded(c), rest, nil
}
