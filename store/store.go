// Package store implements the content-addressed repository that backs
// every cell a peer holds. A Store is a flat hash-to-encoding map with
// one root anchor for restart, mirroring the shape of
// hashgraph.Store/InmemStore/BadgerStore in the teacher repo but keyed
// by content hash instead of by event index.
package store

import "github.com/mosaicnetworks/consilium/cell"

// Mode controls how deeply Put persists a cell's reachable graph.
type Mode int

const (
	// Shallow persists only the cell's own encoding; children already
	// believed present (RefStoredShallow/RefResolved-from-store) are left
	// untouched. Used for values rebuilt from already-durable pieces.
	Shallow Mode = iota
	// Deep recursively persists every non-embedded child not already
	// present, the mode used when a newly constructed value (e.g. a
	// proposed Order) must be made fully durable before being announced.
	Deep
)

// Store is a content-addressed repository: Put makes a cell retrievable
// by its hash, Get retrieves by hash, and the root anchor records which
// hash to resume from after a restart.
type Store interface {
	// Put persists c under its own hash, per mode, and returns that hash.
	Put(c cell.Cell, mode Mode) (cell.Hash, error)
	// Get retrieves the cell last stored under h, if any.
	Get(h cell.Hash) (cell.Cell, bool, error)
	// SetRoot records h as the value to resume from after a restart.
	SetRoot(h cell.Hash) error
	// GetRoot returns the last recorded root hash, if any was set.
	GetRoot() (cell.Hash, bool, error)
	// Close releases any resources (file handles, connections) held by
	// the store.
	Close() error
}

// Lookup adapts Store to cell.Resolver, the interface cell.Ref.Value uses
// to force resolution without cell importing store.
type Lookup struct {
	S Store
}

func (l Lookup) Lookup(h cell.Hash) (cell.Cell, bool) {
	c, ok, err := l.S.Get(h)
	if err != nil || !ok {
		return nil, false
	}
	return c, true
}

// Put recursively persists c and, in Deep mode, every non-embedded child
// not already present in s, using res to resolve children whose value is
// not already loaded in memory.
func Put(s Store, c cell.Cell, res cell.Resolver, m Mode) (cell.Hash, error) {
	h, err := s.Put(c, m)
	if err != nil {
		return cell.Hash{}, err
	}
	if m != Deep {
		return h, nil
	}
	for _, child := range c.Children() {
		if child.Embedded() {
			continue
		}
		if _, ok, err := s.Get(child.Hash()); err == nil && ok {
			continue
		}
		cv, err := child.Value(res)
		if err != nil {
			return cell.Hash{}, err
		}
		if _, err := Put(s, cv, res, Deep); err != nil {
			return cell.Hash{}, err
		}
	}
	return h, nil
}
