package cell

import "encoding/binary"

// Long is a signed 64-bit integer leaf value, used for timestamps,
// sequence numbers, stakes and proposal/consensus points.
type Long struct {
	v int64
}

// NewLong wraps a signed 64-bit integer as a cell.
func NewLong(v int64) *Long { return &Long{v: v} }

func (l *Long) Tag() byte { return TagLong }

func (l *Long) Value() int64 { return l.v }

func (l *Long) Encode(buf []byte) []byte {
	buf = append(buf, TagLong)
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], uint64(l.v))
	return append(buf, tmp[:]...)
}

func (l *Long) Children() []*Ref { return nil }

func readLong(data []byte) (Cell, []byte, error) {
	if len(data) < 8 {
		return nil, nil, BadFormatf("truncated long: need 8 bytes, have %d", len(data))
	}
	v := int64(binary.BigEndian.Uint64(data[:8]))
	return NewLong(v), data[8:], nil
}
