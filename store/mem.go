package store

import (
	"sync"

	"github.com/mosaicnetworks/consilium/cell"
)

// MemStore is a process-local Store backed by a map, used by tests and by
// consilium-peer's "mem" store option. Grounded on hashgraph.InmemStore's cache shape,
// minus the cache-eviction policy since MemStore never spills to disk.
type MemStore struct {
	mu   sync.RWMutex
	data map[cell.Hash][]byte
	root cell.Hash
	have bool
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{data: make(map[cell.Hash][]byte)}
}

func (s *MemStore) Put(c cell.Cell, _ Mode) (cell.Hash, error) {
	enc := cell.Encode(c)
	h := cell.HashOf(enc)
	s.mu.Lock()
	s.data[h] = enc
	s.mu.Unlock()
	return h, nil
}

func (s *MemStore) Get(h cell.Hash) (cell.Cell, bool, error) {
	s.mu.RLock()
	enc, ok := s.data[h]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	c, err := cell.Decode(enc)
	if err != nil {
		return nil, false, err
	}
	return c, true, nil
}

func (s *MemStore) SetRoot(h cell.Hash) error {
	s.mu.Lock()
	s.root = h
	s.have = true
	s.mu.Unlock()
	return nil
}

func (s *MemStore) GetRoot() (cell.Hash, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.root, s.have, nil
}

func (s *MemStore) Close() error { return nil }
