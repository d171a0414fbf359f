package store

import (
	"sync"

	"github.com/dgraph-io/badger"
	"github.com/mosaicnetworks/consilium/cell"
)

// rootKey is the single key the root anchor is stored under, kept apart
// from the `h:`-prefixed cell keyspace.
var rootKey = []byte("root")

const cellKeyPrefix = "h:"

func cellKey(h cell.Hash) []byte {
	return append([]byte(cellKeyPrefix), h.Bytes()...)
}

// BadgerStore is a durable Store backed by dgraph-io/badger, following
// the NewBadgerStore/getEventFromDB shape of hashgraph.BadgerStore: an
// in-memory cache in front of an on-disk LSM-tree KV store, adapted from
// event-keyed to content-hash-keyed.
type BadgerStore struct {
	mu    sync.RWMutex
	cache map[cell.Hash][]byte
	db    *badger.DB
}

// NewBadgerStore opens (creating if absent) a badger database at path.
func NewBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	opts.SyncWrites = false
	db, err := badger.Open(opts)
	if err != nil {
		return nil, cell.Internalf("open badger store at %s: %v", path, err)
	}
	return &BadgerStore{cache: make(map[cell.Hash][]byte), db: db}, nil
}

func (s *BadgerStore) Put(c cell.Cell, _ Mode) (cell.Hash, error) {
	enc := cell.Encode(c)
	h := cell.HashOf(enc)
	s.mu.Lock()
	s.cache[h] = enc
	s.mu.Unlock()
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(cellKey(h), enc)
	})
	if err != nil {
		return cell.Hash{}, cell.Internalf("badger put %s: %v", h, err)
	}
	return h, nil
}

func (s *BadgerStore) Get(h cell.Hash) (cell.Cell, bool, error) {
	s.mu.RLock()
	enc, ok := s.cache[h]
	s.mu.RUnlock()
	if !ok {
		var err error
		enc, ok, err = s.getFromDB(cellKey(h))
		if err != nil {
			return nil, false, err
		}
		if !ok {
			return nil, false, nil
		}
		s.mu.Lock()
		s.cache[h] = enc
		s.mu.Unlock()
	}
	c, err := cell.Decode(enc)
	if err != nil {
		return nil, false, err
	}
	return c, true, nil
}

func (s *BadgerStore) getFromDB(key []byte) ([]byte, bool, error) {
	var val []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			val = append([]byte{}, v...)
			return nil
		})
	})
	if err != nil {
		return nil, false, cell.Internalf("badger get: %v", err)
	}
	return val, val != nil, nil
}

func (s *BadgerStore) SetRoot(h cell.Hash) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(rootKey, h.Bytes())
	})
	if err != nil {
		return cell.Internalf("badger set root: %v", err)
	}
	return nil
}

func (s *BadgerStore) GetRoot() (cell.Hash, bool, error) {
	b, ok, err := s.getFromDB(rootKey)
	if err != nil || !ok {
		return cell.Hash{}, false, err
	}
	h, err := cell.HashFromBytes(b)
	if err != nil {
		return cell.Hash{}, false, err
	}
	return h, true, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
