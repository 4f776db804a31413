package kv

import (
	"github.com/cockroachdb/pebble"
)

// PebbleStore is a Store backed by an embedded pebble LSM instance, used
// by the node entrypoint. pebble is already part of this codebase's
// dependency closure (transitively, through go-ethereum); this package
// promotes it to a direct, exercised dependency.
type PebbleStore struct {
	db *pebble.DB
}

// OpenPebbleStore opens (creating if absent) a pebble database at dir.
func OpenPebbleStore(dir string) (*PebbleStore, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &PebbleStore{db: db}, nil
}

func (p *PebbleStore) Get(key []byte) ([]byte, error) {
	val, closer, err := p.db.Get(key)
	if err == pebble.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	cp := make([]byte, len(val))
	copy(cp, val)
	return cp, nil
}

func (p *PebbleStore) Put(key, value []byte) error {
	return p.db.Set(key, value, pebble.Sync)
}

func (p *PebbleStore) Delete(key []byte) error {
	return p.db.Delete(key, pebble.Sync)
}

func (p *PebbleStore) Has(key []byte) (bool, error) {
	_, closer, err := p.db.Get(key)
	if err == pebble.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	closer.Close()
	return true, nil
}

func (p *PebbleStore) Close() error { return p.db.Close() }

func (p *PebbleStore) NewBatch() Batch { return &pebbleBatch{db: p.db, batch: p.db.NewBatch()} }

func (p *PebbleStore) NewIterator(prefix, start []byte) Iterator {
	lower := prefix
	upper := upperBound(prefix)
	if start != nil && bytesCompare(start, lower) > 0 {
		lower = start
	}
	it, err := p.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return &sliceIterator{pos: -1}
	}
	return &pebbleIterator{it: it, started: false}
}

// upperBound returns the smallest key greater than every key with the
// given prefix, by incrementing the last non-0xff byte. A nil prefix has
// no upper bound.
func upperBound(prefix []byte) []byte {
	if len(prefix) == 0 {
		return nil
	}
	out := append([]byte(nil), prefix...)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] < 0xff {
			out[i]++
			return out[:i+1]
		}
	}
	return nil
}

func bytesCompare(a, b []byte) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

type pebbleBatch struct {
	db    *pebble.DB
	batch *pebble.Batch
}

func (b *pebbleBatch) Put(key, value []byte) { _ = b.batch.Set(key, value, nil) }
func (b *pebbleBatch) Delete(key []byte)     { _ = b.batch.Delete(key, nil) }
func (b *pebbleBatch) Write() error          { return b.batch.Commit(pebble.Sync) }
func (b *pebbleBatch) Reset()                { b.batch.Reset() }
func (b *pebbleBatch) Len() int              { return int(b.batch.Count()) }

type pebbleIterator struct {
	it      *pebble.Iterator
	started bool
}

func (it *pebbleIterator) Next() bool {
	if !it.started {
		it.started = true
		return it.it.First()
	}
	return it.it.Next()
}

func (it *pebbleIterator) Key() []byte {
	cp := make([]byte, len(it.it.Key()))
	copy(cp, it.it.Key())
	return cp
}

func (it *pebbleIterator) Value() []byte {
	val := it.it.Value()
	cp := make([]byte, len(val))
	copy(cp, val)
	return cp
}

func (it *pebbleIterator) Release() { _ = it.it.Close() }
