package kv

import (
	"errors"
	"testing"
)

func TestMemoryStore_GetPutDeleteHas(t *testing.T) {
	s := NewMemoryStore()

	if _, err := s.Get([]byte("missing")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(missing): err = %v, want ErrNotFound", err)
	}
	if ok, err := s.Has([]byte("missing")); err != nil || ok {
		t.Fatalf("Has(missing) = %v, %v, want false, nil", ok, err)
	}

	if err := s.Put([]byte("k"), []byte("v1")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := s.Get([]byte("k"))
	if err != nil || string(got) != "v1" {
		t.Fatalf("Get(k) = %q, %v, want v1, nil", got, err)
	}
	if ok, err := s.Has([]byte("k")); err != nil || !ok {
		t.Fatalf("Has(k) = %v, %v, want true, nil", ok, err)
	}

	if err := s.Delete([]byte("k")); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if ok, _ := s.Has([]byte("k")); ok {
		t.Fatalf("Has(k) after delete = true, want false")
	}
}

func TestMemoryStore_BatchIsAtomicAndSingleUse(t *testing.T) {
	s := NewMemoryStore()
	b := s.NewBatch()
	b.Put([]byte("a"), []byte("1"))
	b.Put([]byte("b"), []byte("2"))
	b.Delete([]byte("c"))
	if b.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", b.Len())
	}

	if ok, _ := s.Has([]byte("a")); ok {
		t.Fatalf("writes must not be visible before Write()")
	}
	if err := b.Write(); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if ok, _ := s.Has([]byte("a")); !ok {
		t.Fatalf("writes must be visible after Write()")
	}

	if err := b.Write(); !errors.Is(err, ErrBatchApplied) {
		t.Fatalf("second Write(): err = %v, want ErrBatchApplied", err)
	}
}

func TestMemoryStore_IteratorOrderAndStart(t *testing.T) {
	s := NewMemoryStore()
	for _, k := range []string{"p/3", "p/1", "p/2", "q/1"} {
		if err := s.Put([]byte(k), []byte(k)); err != nil {
			t.Fatalf("Put(%s): %v", k, err)
		}
	}

	it := s.NewIterator([]byte("p/"), nil)
	defer it.Release()
	var keys []string
	for it.Next() {
		keys = append(keys, string(it.Key()))
	}
	want := []string{"p/1", "p/2", "p/3"}
	if len(keys) != len(want) {
		t.Fatalf("keys = %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("keys = %v, want %v", keys, want)
		}
	}

	it2 := s.NewIterator([]byte("p/"), []byte("p/2"))
	defer it2.Release()
	var fromP2 []string
	for it2.Next() {
		fromP2 = append(fromP2, string(it2.Key()))
	}
	if len(fromP2) != 2 || fromP2[0] != "p/2" || fromP2[1] != "p/3" {
		t.Fatalf("fromP2 = %v, want [p/2 p/3]", fromP2)
	}
}

func TestPrefixedStore_NamespacesKeysTransparently(t *testing.T) {
	inner := NewMemoryStore()
	col := NewPrefixedStore(inner, []byte{0x42})

	if err := col.Put([]byte("x"), []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := col.Get([]byte("x"))
	if err != nil || string(got) != "v" {
		t.Fatalf("Get(x) = %q, %v, want v, nil", got, err)
	}

	// The underlying store only ever sees the prefixed key.
	if _, err := inner.Get([]byte("x")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("inner store should not see the unprefixed key")
	}
	if _, err := inner.Get([]byte{0x42, 'x'}); err != nil {
		t.Fatalf("inner store should see the prefixed key: %v", err)
	}

	b := col.NewBatch()
	b.Put([]byte("y"), []byte("w"))
	if err := b.Write(); err != nil {
		t.Fatalf("batch Write: %v", err)
	}
	if got, err := col.Get([]byte("y")); err != nil || string(got) != "w" {
		t.Fatalf("Get(y) after batch = %q, %v, want w, nil", got, err)
	}

	it := col.NewIterator(nil, nil)
	defer it.Release()
	var keys []string
	for it.Next() {
		keys = append(keys, string(it.Key()))
	}
	if len(keys) != 2 || keys[0] != "x" || keys[1] != "y" {
		t.Fatalf("keys = %v, want [x y] with the prefix stripped", keys)
	}
}

func TestSchema_KeyEncodingRoundTrips(t *testing.T) {
	seq := uint64(0x0102030405060708)
	if got := DecodeSeq(EncodeSeq(seq)); got != seq {
		t.Fatalf("DecodeSeq(EncodeSeq(seq)) = %d, want %d", got, seq)
	}

	var root [32]byte
	for i := range root {
		root[i] = byte(i)
	}
	prefix := DataRootIndexPrefix(root)
	key := DataRootIndexKey(root, 7)
	if len(key) != len(prefix)+8 {
		t.Fatalf("DataRootIndexKey length = %d, want %d", len(key), len(prefix)+8)
	}
	for i, b := range prefix {
		if key[i] != b {
			t.Fatalf("DataRootIndexKey does not start with DataRootIndexPrefix")
		}
	}
}
