package cell

import (
	"bytes"
	"testing"
)

func TestBlobRoundTrip(t *testing.T) {
	b := NewBlob([]byte("hello world"))
	enc := Encode(b)
	got, err := Decode(enc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	gb, ok := got.(*Blob)
	if !ok {
		t.Fatalf("expected *Blob, got %T", got)
	}
	if !bytes.Equal(gb.Bytes(), b.Bytes()) {
		t.Fatalf("roundtrip mismatch: got %q want %q", gb.Bytes(), b.Bytes())
	}
}

func TestLongRoundTrip(t *testing.T) {
	for _, v := range []int64{0, 1, -1, 1 << 40, -(1 << 40)} {
		enc := Encode(NewLong(v))
		got, err := Decode(enc)
		if err != nil {
			t.Fatalf("decode %d: %v", v, err)
		}
		gl, ok := got.(*Long)
		if !ok || gl.Value() != v {
			t.Fatalf("roundtrip mismatch for %d: got %#v", v, got)
		}
	}
}

func TestEqualValuesHashEqual(t *testing.T) {
	a := NewBlob([]byte("same"))
	b := NewBlob([]byte("same"))
	if HashOfCell(a) != HashOfCell(b) {
		t.Fatal("equal-by-value blobs hashed differently")
	}
}

func TestMapAssocGetDissoc(t *testing.T) {
	m := EmptyMap()
	k1 := RefOf(NewBlob([]byte("k1")))
	k2 := RefOf(NewBlob([]byte("k2")))
	v1 := RefOf(NewLong(1))
	v2 := RefOf(NewLong(2))
	m = m.Assoc(k1, v1)
	m = m.Assoc(k2, v2)
	if m.Count() != 2 {
		t.Fatalf("expected 2 entries, got %d", m.Count())
	}
	got, ok := m.Get(NewBlob([]byte("k1")))
	if !ok || got.Hash() != v1.Hash() {
		t.Fatalf("get k1: ok=%v got=%v", ok, got)
	}
	m2 := m.Dissoc(k1)
	if m2.Count() != 1 {
		t.Fatalf("expected 1 entry after dissoc, got %d", m2.Count())
	}
	if _, ok := m2.Get(NewBlob([]byte("k1"))); ok {
		t.Fatal("k1 still present after dissoc")
	}
}

func TestMapEncodeDecodeRoundTrip(t *testing.T) {
	m := EmptyMap()
	for i := 0; i < 5; i++ {
		m = m.Assoc(RefOf(NewLong(int64(i))), RefOf(NewLong(int64(i*i))))
	}
	enc := Encode(m)
	got, err := Decode(enc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	gm, ok := got.(*Map)
	if !ok || gm.Count() != m.Count() {
		t.Fatalf("roundtrip mismatch: %#v", got)
	}
}

func TestVectorAppendAndGet(t *testing.T) {
	v := EmptyVector()
	var err error
	const n = 2000
	for i := int64(0); i < n; i++ {
		v, err = Append(v, RefOf(NewLong(i)), nil)
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	if v.Length() != n {
		t.Fatalf("expected length %d, got %d", n, v.Length())
	}
	for _, i := range []int64{0, 1, 15, 16, 17, 255, 256, 999, n - 1} {
		r, err := Get(v, i, nil)
		if err != nil {
			t.Fatalf("get %d: %v", i, err)
		}
		c, err := r.Value(nil)
		if err != nil {
			t.Fatalf("value %d: %v", i, err)
		}
		l, ok := c.(*Long)
		if !ok || l.Value() != i {
			t.Fatalf("element %d: got %#v, want Long(%d)", i, c, i)
		}
	}
}

func TestVectorEncodeDecodeRoundTrip(t *testing.T) {
	v := EmptyVector()
	var err error
	for i := int64(0); i < 40; i++ {
		v, err = Append(v, RefOf(NewLong(i)), nil)
		if err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	enc := Encode(v)
	got, err := Decode(enc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	gv, ok := got.(Vector)
	if !ok || gv.Length() != v.Length() {
		t.Fatalf("roundtrip mismatch: %#v", got)
	}
	// Decoded non-embedded children are hash refs; resolve them from the
	// cells of the original vector.
	res := mapResolver{}
	collectCells(v, res)
	r, err := Get(gv, 20, res)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	c, err := r.Value(res)
	if err != nil {
		t.Fatalf("value: %v", err)
	}
	if l, ok := c.(*Long); !ok || l.Value() != 20 {
		t.Fatalf("element 20: got %#v", c)
	}
}

func TestVectorLeafHeadAndPrefixShape(t *testing.T) {
	v := EmptyVector()
	var err error
	for i := int64(0); i < 16; i++ {
		v, err = Append(v, RefOf(NewLong(i)), nil)
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	packed, ok := v.(*VectorLeaf)
	if !ok || packed.prefix != nil || len(packed.items) != 16 {
		t.Fatalf("expected a packed 16-element leaf with no prefix, got %#v", v)
	}

	v, err = Append(v, RefOf(NewLong(16)), nil)
	if err != nil {
		t.Fatalf("append 17th: %v", err)
	}
	overflowed, ok := v.(*VectorLeaf)
	if !ok || overflowed.prefix == nil || len(overflowed.items) != 1 {
		t.Fatalf("expected a 1-element head with a prefix once length exceeds 16, got %#v", v)
	}

	for i := int64(17); i < 32; i++ {
		v, err = Append(v, RefOf(NewLong(i)), nil)
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	atBoundary, ok := v.(*VectorLeaf)
	if !ok || atBoundary.prefix == nil || len(atBoundary.items) != 16 {
		t.Fatalf("expected length-mod-16 head of 16 (0 read as 16) at length 32, got %#v", v)
	}
	if atBoundary.length != 32 {
		t.Fatalf("expected total length 32, got %d", atBoundary.length)
	}

	enc := Encode(v)
	got, err := Decode(enc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	gv, ok := got.(Vector)
	if !ok || gv.Length() != 32 {
		t.Fatalf("roundtrip mismatch: %#v", got)
	}
	res := mapResolver{}
	collectCells(v, res)
	for i := int64(0); i < 32; i++ {
		r, err := Get(gv, i, res)
		if err != nil {
			t.Fatalf("get %d: %v", i, err)
		}
		c, err := r.Value(res)
		if err != nil {
			t.Fatalf("value %d: %v", i, err)
		}
		if l, ok := c.(*Long); !ok || l.Value() != i {
			t.Fatalf("element %d: got %#v, want Long(%d)", i, c, i)
		}
	}
}

func TestCommonPrefixLength(t *testing.T) {
	a := EmptyVector()
	var err error
	for i := int64(0); i < 100; i++ {
		a, err = Append(a, RefOf(NewLong(i)), nil)
		if err != nil {
			t.Fatalf("append a: %v", err)
		}
	}
	// b shares a's first 50 elements then diverges.
	b, err := SubVector(a, 0, 50, nil)
	if err != nil {
		t.Fatalf("subvector: %v", err)
	}
	b, err = Append(b, RefOf(NewLong(-1)), nil)
	if err != nil {
		t.Fatalf("append b: %v", err)
	}
	for i := int64(51); i < 80; i++ {
		b, err = Append(b, RefOf(NewLong(i)), nil)
		if err != nil {
			t.Fatalf("append b: %v", err)
		}
	}
	n, err := CommonPrefixLength(a, b, nil)
	if err != nil {
		t.Fatalf("common prefix: %v", err)
	}
	if n != 50 {
		t.Fatalf("expected common prefix 50, got %d", n)
	}
}

func TestCommonPrefixLengthIdenticalVectors(t *testing.T) {
	a := EmptyVector()
	var err error
	for i := int64(0); i < 500; i++ {
		a, err = Append(a, RefOf(NewLong(i)), nil)
		if err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	n, err := CommonPrefixLength(a, a, nil)
	if err != nil {
		t.Fatalf("common prefix: %v", err)
	}
	if n != a.Length() {
		t.Fatalf("expected full length %d, got %d", a.Length(), n)
	}
}

func TestRefMissingDataWithoutResolver(t *testing.T) {
	h := HashOf([]byte("nonexistent"))
	r := NewUnresolved(h)
	_, err := r.Value(nil)
	if err == nil {
		t.Fatal("expected error resolving unresolved ref with nil resolver")
	}
	if KindOf(err) != KindMissingData {
		t.Fatalf("expected KindMissingData, got %v", KindOf(err))
	}
	got, ok := MissingHash(err)
	if !ok || got != h {
		t.Fatalf("expected missing hash %v, got %v (ok=%v)", h, got, ok)
	}
}

type mapResolver map[Hash]Cell

func (m mapResolver) Lookup(h Hash) (Cell, bool) {
	c, ok := m[h]
	return c, ok
}

// collectCells adds every non-embedded cell reachable from c to into,
// keyed by hash, standing in for a store that holds c deeply.
func collectCells(c Cell, into mapResolver) {
	for _, r := range c.Children() {
		if r.value == nil {
			continue
		}
		if !r.Embedded() {
			into[r.Hash()] = r.value
		}
		collectCells(r.value, into)
	}
}

func TestRefResolvesThroughResolver(t *testing.T) {
	blob := NewBlob([]byte("payload"))
	h := HashOfCell(blob)
	res := mapResolver{h: blob}
	r := NewUnresolved(h)
	v, err := r.Value(res)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if v.(*Blob).Bytes()[0] != 'p' {
		t.Fatalf("unexpected resolved value: %#v", v)
	}
	if r.State() != RefResolved {
		t.Fatalf("expected state upgraded to Resolved, got %v", r.State())
	}
}
