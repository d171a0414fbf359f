package cell

// Blob is an opaque byte string: transaction payloads, signatures, and
// any other binary leaf value.
type Blob struct {
	data []byte
}

// NewBlob copies b into a new Blob cell.
func NewBlob(b []byte) *Blob {
	cp := make([]byte, len(b))
	copy(cp, b)
	return &Blob{data: cp}
}

func (b *Blob) Tag() byte { return TagBlob }

func (b *Blob) Bytes() []byte { return b.data }

func (b *Blob) Len() int { return len(b.data) }

func (b *Blob) Encode(buf []byte) []byte {
	buf = append(buf, TagBlob)
	buf = putVLC(buf, uint64(len(b.data)))
	return append(buf, b.data...)
}

func (b *Blob) Children() []*Ref { return nil }

func readBlob(data []byte) (Cell, []byte, error) {
	n, rest, err := readVLC(data)
	if err != nil {
		return nil, nil, err
	}
	if uint64(len(rest)) < n {
		return nil, nil, BadFormatf("truncated blob: need %d bytes, have %d", n, len(rest))
	}
	return NewBlob(rest[:n]), rest[n:], nil
}
