package cell

import "bytes"

// mapEntry is one key/value pair of a Map, always kept in canonical
// (key-hash-ascending) order so that equal maps encode identically
// regardless of insertion history.
type mapEntry struct {
	key *Ref
	val *Ref
}

// Map is an immutable hash-keyed association, used for Belief (peer key
// to Order) and PeerStatus (peer key to stake) records. Persistent:
// Assoc returns a new Map sharing structure with the receiver.
type Map struct {
	entries []mapEntry
}

// EmptyMap returns the empty Map.
func EmptyMap() *Map { return &Map{} }

func (m *Map) Tag() byte { return TagMap }

func (m *Map) Count() int { return len(m.entries) }

func (m *Map) search(keyHash Hash) (int, bool) {
	lo, hi := 0, len(m.entries)
	for lo < hi {
		mid := (lo + hi) / 2
		c := bytes.Compare(m.entries[mid].key.Hash().Bytes(), keyHash.Bytes())
		if c == 0 {
			return mid, true
		}
		if c < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo, false
}

// Get looks up key's value, resolving key only far enough to hash it.
func (m *Map) Get(key Cell) (*Ref, bool) {
	idx, found := m.search(HashOfCell(key))
	if !found {
		return nil, false
	}
	return m.entries[idx].val, true
}

// GetHash looks up by a pre-computed key hash, avoiding re-hashing when
// the caller already has it (e.g. a peer's public key hash).
func (m *Map) GetHash(keyHash Hash) (*Ref, bool) {
	idx, found := m.search(keyHash)
	if !found {
		return nil, false
	}
	return m.entries[idx].val, true
}

// Assoc returns a new Map with key bound to val, replacing any existing
// binding for key.
func (m *Map) Assoc(key, val *Ref) *Map {
	idx, found := m.search(key.Hash())
	out := make([]mapEntry, len(m.entries), len(m.entries)+1)
	copy(out, m.entries)
	if found {
		out[idx] = mapEntry{key: key, val: val}
		return &Map{entries: out}
	}
	out = append(out, mapEntry{})
	copy(out[idx+1:], out[idx:])
	out[idx] = mapEntry{key: key, val: val}
	return &Map{entries: out}
}

// Dissoc returns a new Map with key's binding removed, if present.
func (m *Map) Dissoc(key *Ref) *Map {
	idx, found := m.search(key.Hash())
	if !found {
		return m
	}
	out := make([]mapEntry, 0, len(m.entries)-1)
	out = append(out, m.entries[:idx]...)
	out = append(out, m.entries[idx+1:]...)
	return &Map{entries: out}
}

// Each calls fn for every entry in canonical (key-hash-ascending) order.
func (m *Map) Each(fn func(key, val *Ref) error) error {
	for _, e := range m.entries {
		if err := fn(e.key, e.val); err != nil {
			return err
		}
	}
	return nil
}

func (m *Map) Encode(buf []byte) []byte {
	buf = append(buf, TagMap)
	buf = putVLC(buf, uint64(len(m.entries)))
	for _, e := range m.entries {
		buf = encodeChild(buf, e.key)
		buf = encodeChild(buf, e.val)
	}
	return buf
}

func (m *Map) Children() []*Ref {
	out := make([]*Ref, 0, len(m.entries)*2)
	for _, e := range m.entries {
		out = append(out, e.key, e.val)
	}
	return out
}

func readMap(data []byte) (Cell, []byte, error) {
	n, rest, err := readVLC(data)
	if err != nil {
		return nil, nil, err
	}
	entries := make([]mapEntry, 0, n)
	var prevHash *Hash
	for i := uint64(0); i < n; i++ {
		var key, val *Ref
		key, rest, err = decodeChild(rest)
		if err != nil {
			return nil, nil, err
		}
		val, rest, err = decodeChild(rest)
		if err != nil {
			return nil, nil, err
		}
		h := key.Hash()
		if prevHash != nil && bytes.Compare(prevHash.Bytes(), h.Bytes()) >= 0 {
			return nil, nil, InvalidDataf("map entries not in canonical order")
		}
		prevHash = &h
		entries = append(entries, mapEntry{key: key, val: val})
	}
	return &Map{entries: entries}, rest, nil
}
