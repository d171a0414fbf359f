package store

import (
	"github.com/mosaicnetworks/consilium/cell"
	"github.com/syndtr/goleveldb/leveldb"
)

// LevelStore is a second durable Store backend, on top of
// syndtr/goleveldb rather than badger, proving Store is genuinely
// pluggable. Grounded on the chain-database wrapper pattern in
// Artfain-triad-networks/core/storage.go: a thin layer converting
// domain keys/values to and from leveldb's flat byte keyspace.
type LevelStore struct {
	db *leveldb.DB
}

// NewLevelStore opens (creating if absent) a leveldb database at path.
func NewLevelStore(path string) (*LevelStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, cell.Internalf("open leveldb store at %s: %v", path, err)
	}
	return &LevelStore{db: db}, nil
}

func (s *LevelStore) Put(c cell.Cell, _ Mode) (cell.Hash, error) {
	enc := cell.Encode(c)
	h := cell.HashOf(enc)
	if err := s.db.Put(cellKey(h), enc, nil); err != nil {
		return cell.Hash{}, cell.Internalf("leveldb put %s: %v", h, err)
	}
	return h, nil
}

func (s *LevelStore) Get(h cell.Hash) (cell.Cell, bool, error) {
	enc, err := s.db.Get(cellKey(h), nil)
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, cell.Internalf("leveldb get %s: %v", h, err)
	}
	c, err := cell.Decode(enc)
	if err != nil {
		return nil, false, err
	}
	return c, true, nil
}

func (s *LevelStore) SetRoot(h cell.Hash) error {
	if err := s.db.Put(rootKey, h.Bytes(), nil); err != nil {
		return cell.Internalf("leveldb set root: %v", err)
	}
	return nil
}

func (s *LevelStore) GetRoot() (cell.Hash, bool, error) {
	b, err := s.db.Get(rootKey, nil)
	if err == leveldb.ErrNotFound {
		return cell.Hash{}, false, nil
	}
	if err != nil {
		return cell.Hash{}, false, err
	}
	h, err := cell.HashFromBytes(b)
	if err != nil {
		return cell.Hash{}, false, err
	}
	return h, true, nil
}

func (s *LevelStore) Close() error {
	return s.db.Close()
}
