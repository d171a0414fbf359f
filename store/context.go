package store

import "github.com/mosaicnetworks/consilium/cell"

// Context is the explicit "current store" handle every operation that
// needs to resolve or persist cells is passed, replacing the Java
// original's thread-local Stores.current() (convex.core.store.Stores):
// a goroutine-based server cannot rely on thread identity to pick the
// right store, so the store is threaded through call signatures instead.
type Context struct {
	store Store
}

// NewContext wraps s as a cell.Resolver and persistence target.
func NewContext(s Store) *Context {
	return &Context{store: s}
}

// Lookup implements cell.Resolver.
func (c *Context) Lookup(h cell.Hash) (cell.Cell, bool) {
	v, ok, err := c.store.Get(h)
	if err != nil || !ok {
		return nil, false
	}
	return v, true
}

// Store returns the underlying Store.
func (c *Context) Store() Store { return c.store }

// Persist stores v (and, in Deep mode, its unresolved-in-store children)
// and returns its hash.
func (c *Context) Persist(v cell.Cell, mode Mode) (cell.Hash, error) {
	return Put(c.store, v, c, mode)
}

// Resolve forces full resolution of a ref through this context's store.
func (c *Context) Resolve(r *cell.Ref) (cell.Cell, error) {
	return r.Value(c)
}
