package cell

// Cell is the universal interface for every value exchanged or persisted
// by a peer. Encoding is a pure function of logical value: equal-by-value
// cells produce byte-identical encodings and therefore identical hashes
// (spec invariant, see SPEC_FULL.md section 3). Cells are immutable once
// constructed.
type Cell interface {
	// Tag returns this cell's type tag, the first byte of its encoding.
	Tag() byte
	// Encode appends this cell's canonical encoding (including its tag
	// byte) to buf and returns the extended slice. Non-embedded children
	// are written as a Ref marker (tag byte + hash); embedded children
	// are spliced in fully, so Encode never needs to resolve anything.
	Encode(buf []byte) []byte
	// Children returns this cell's child references in encoding order,
	// for deep-store traversal and missing-data discovery.
	Children() []*Ref
}

// Type tags. TagRefMarker is not a cell type: it is the marker byte a
// parent writes in place of a non-embedded child's full encoding.
const (
	TagRefMarker byte = 0x00
	TagBlob      byte = 0x01
	TagLong      byte = 0x02
	TagVectorLeaf byte = 0x03
	TagVectorTree byte = 0x04
	TagMap        byte = 0x05
	TagSigned     byte = 0x06
)

// Resolver looks up a cell by hash, e.g. in a content-addressed store.
// Defined here (rather than in package store) so that Ref can force
// resolution without a package import cycle: store.Context implements
// this interface.
type Resolver interface {
	Lookup(h Hash) (Cell, bool)
}

// Encode returns the full canonical encoding of a cell.
func Encode(c Cell) []byte {
	return c.Encode(nil)
}

// HashOfCell computes a cell's identity hash directly from its encoding.
func HashOfCell(c Cell) Hash {
	return HashOf(Encode(c))
}

// Decode parses a single top-level cell from data, requiring the entire
// slice to be consumed (strict canonical form, spec section 4.1).
func Decode(data []byte) (Cell, error) {
	c, rest, err := decodeOne(data)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, BadFormatf("trailing bytes after cell encoding")
	}
	return c, nil
}

// DecodeOne parses one cell (by tag dispatch) from the front of data and
// returns the unconsumed remainder, for callers (such as package net's
// frame parser) that pack more than one cell into a single buffer.
func DecodeOne(data []byte) (Cell, []byte, error) {
	return decodeOne(data)
}

// decodeOne parses one cell (by tag dispatch) from the front of data and
// returns the unconsumed remainder.
func decodeOne(data []byte) (Cell, []byte, error) {
	if len(data) == 0 {
		return nil, nil, BadFormatf("empty encoding")
	}
	tag := data[0]
	body := data[1:]
	switch tag {
	case TagBlob:
		return readBlob(body)
	case TagLong:
		return readLong(body)
	case TagVectorLeaf:
		return readVectorLeaf(body)
	case TagVectorTree:
		return readVectorTree(body)
	case TagMap:
		return readMap(body)
	case TagSigned:
		return readSigned(body)
	default:
		return nil, nil, BadFormatf("unknown cell tag 0x%02x", tag)
	}
}
