package store

import (
	"testing"

	"github.com/mosaicnetworks/consilium/cell"
)

func TestMemStorePutGet(t *testing.T) {
	s := NewMemStore()
	b := cell.NewBlob([]byte("payload"))
	h, err := s.Put(b, Shallow)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	got, ok, err := s.Get(h)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if string(got.(*cell.Blob).Bytes()) != "payload" {
		t.Fatalf("unexpected value: %#v", got)
	}
}

func TestMemStoreRoot(t *testing.T) {
	s := NewMemStore()
	if _, ok, _ := s.GetRoot(); ok {
		t.Fatal("expected no root initially")
	}
	h := cell.HashOf([]byte("x"))
	if err := s.SetRoot(h); err != nil {
		t.Fatalf("set root: %v", err)
	}
	got, ok, err := s.GetRoot()
	if err != nil || !ok || got != h {
		t.Fatalf("get root: got=%v ok=%v err=%v", got, ok, err)
	}
}

func TestContextDeepPersistAndResolve(t *testing.T) {
	s := NewMemStore()
	ctx := NewContext(s)

	v := cell.EmptyVector()
	var err error
	for i := int64(0); i < 40; i++ {
		v, err = cell.Append(v, cell.RefOf(cell.NewLong(i)), ctx)
		if err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	h, err := ctx.Persist(v, Deep)
	if err != nil {
		t.Fatalf("persist: %v", err)
	}

	got, ok, err := s.Get(h)
	if err != nil || !ok {
		t.Fatalf("get root cell: ok=%v err=%v", ok, err)
	}
	gv := got.(cell.Vector)
	r, err := cell.Get(gv, 30, ctx)
	if err != nil {
		t.Fatalf("get element ref: %v", err)
	}
	val, err := r.Value(ctx)
	if err != nil {
		t.Fatalf("resolve element through deep-persisted store: %v", err)
	}
	if val.(*cell.Long).Value() != 30 {
		t.Fatalf("unexpected element: %#v", val)
	}
}

func TestContextMissingDataError(t *testing.T) {
	s := NewMemStore()
	ctx := NewContext(s)
	r := cell.NewUnresolved(cell.HashOf([]byte("nope")))
	_, err := ctx.Resolve(r)
	if cell.KindOf(err) != cell.KindMissingData {
		t.Fatalf("expected MissingData, got %v", err)
	}
}
