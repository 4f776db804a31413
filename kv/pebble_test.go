package kv

import (
	"errors"
	"path/filepath"
	"testing"
)

func newTestPebbleStore(t *testing.T) *PebbleStore {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "pebble")
	db, err := OpenPebbleStore(dir)
	if err != nil {
		t.Fatalf("OpenPebbleStore: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPebbleStore_GetPutDeleteHas(t *testing.T) {
	db := newTestPebbleStore(t)

	if _, err := db.Get([]byte("missing")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(missing): err = %v, want ErrNotFound", err)
	}

	if err := db.Put([]byte("k"), []byte("v1")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := db.Get([]byte("k"))
	if err != nil || string(got) != "v1" {
		t.Fatalf("Get(k) = %q, %v, want v1, nil", got, err)
	}
	if ok, err := db.Has([]byte("k")); err != nil || !ok {
		t.Fatalf("Has(k) = %v, %v, want true, nil", ok, err)
	}

	if err := db.Delete([]byte("k")); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if ok, _ := db.Has([]byte("k")); ok {
		t.Fatalf("Has(k) after delete = true, want false")
	}
}

func TestPebbleStore_BatchWrite(t *testing.T) {
	db := newTestPebbleStore(t)

	b := db.NewBatch()
	b.Put([]byte("a"), []byte("1"))
	b.Put([]byte("b"), []byte("2"))
	if b.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", b.Len())
	}
	if err := b.Write(); err != nil {
		t.Fatalf("Write: %v", err)
	}

	for _, kv := range [][2]string{{"a", "1"}, {"b", "2"}} {
		got, err := db.Get([]byte(kv[0]))
		if err != nil || string(got) != kv[1] {
			t.Fatalf("Get(%s) = %q, %v, want %q, nil", kv[0], got, err, kv[1])
		}
	}
}

func TestPebbleStore_IteratorPrefixAndStart(t *testing.T) {
	db := newTestPebbleStore(t)
	for _, k := range []string{"p/1", "p/2", "p/3", "q/1"} {
		if err := db.Put([]byte(k), []byte(k)); err != nil {
			t.Fatalf("Put(%s): %v", k, err)
		}
	}

	it := db.NewIterator([]byte("p/"), nil)
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

	it2 := db.NewIterator([]byte("p/"), []byte("p/2"))
	defer it2.Release()
	var fromP2 []string
	for it2.Next() {
		fromP2 = append(fromP2, string(it2.Key()))
	}
	if len(fromP2) != 2 || fromP2[0] != "p/2" || fromP2[1] != "p/3" {
		t.Fatalf("fromP2 = %v, want [p/2 p/3]", fromP2)
	}
}

func TestPebbleStore_PersistsAcrossReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "pebble")
	db, err := OpenPebbleStore(dir)
	if err != nil {
		t.Fatalf("OpenPebbleStore: %v", err)
	}
	if err := db.Put([]byte("k"), []byte("persisted")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := OpenPebbleStore(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	got, err := reopened.Get([]byte("k"))
	if err != nil || string(got) != "persisted" {
		t.Fatalf("Get(k) after reopen = %q, %v, want persisted, nil", got, err)
	}
}

func TestUpperBound(t *testing.T) {
	tests := []struct {
		prefix []byte
		want   []byte
	}{
		{nil, nil},
		{[]byte{0x00}, []byte{0x01}},
		{[]byte{0x01, 0xff}, []byte{0x02}},
		{[]byte{0xff, 0xff}, nil},
	}
	for _, tt := range tests {
		got := upperBound(tt.prefix)
		if string(got) != string(tt.want) {
			t.Errorf("upperBound(%v) = %v, want %v", tt.prefix, got, tt.want)
		}
	}
}

func TestBytesCompare(t *testing.T) {
	tests := []struct {
		a, b []byte
		want int
	}{
		{[]byte("a"), []byte("b"), -1},
		{[]byte("b"), []byte("a"), 1},
		{[]byte("a"), []byte("a"), 0},
		{[]byte("a"), []byte("ab"), -1},
		{[]byte("ab"), []byte("a"), 1},
	}
	for _, tt := range tests {
		if got := bytesCompare(tt.a, tt.b); got != tt.want {
			t.Errorf("bytesCompare(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}
