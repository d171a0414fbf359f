/*
Copyright 2017 Mosaic Networks Ltd

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package server

import (
	"sync"

	"github.com/mosaicnetworks/consilium/cell"
)

// BoundedMap is a hash-keyed map bounded to a fixed capacity, evicting
// the oldest entry (by insertion order) once full. Generalizes
// common.RollingIndexMap's bounded-ring-buffer idea from per-participant
// indices to the flat hash-keyed maps spec.md section 4.5/4.6 needs for
// partialMessages (bounded wait for missing data) and interests (culled
// after a horizon) without letting either grow unbounded.
type BoundedMap struct {
	mu       sync.Mutex
	capacity int
	order    []cell.Hash
	data     map[cell.Hash]interface{}
}

// NewBoundedMap returns an empty map holding at most capacity entries.
func NewBoundedMap(capacity int) *BoundedMap {
	return &BoundedMap{
		capacity: capacity,
		data:     make(map[cell.Hash]interface{}),
	}
}

// Set records value under key, evicting the oldest entry if the map is
// already at capacity and key is new. Re-setting an existing key does
// not change its eviction order.
func (b *BoundedMap) Set(key cell.Hash, value interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.data[key]; exists {
		b.data[key] = value
		return
	}
	if len(b.order) >= b.capacity && b.capacity > 0 {
		oldest := b.order[0]
		b.order = b.order[1:]
		delete(b.data, oldest)
	}
	b.order = append(b.order, key)
	b.data[key] = value
}

// Get returns the value stored under key, if present.
func (b *BoundedMap) Get(key cell.Hash) (interface{}, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.data[key]
	return v, ok
}

// Delete removes key, returning its value if it was present.
func (b *BoundedMap) Delete(key cell.Hash) (interface{}, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.data[key]
	if !ok {
		return nil, false
	}
	delete(b.data, key)
	for i, k := range b.order {
		if k == key {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	return v, true
}

// Len returns the number of entries currently held.
func (b *BoundedMap) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// Keys returns a snapshot of every key currently held, oldest first.
func (b *BoundedMap) Keys() []cell.Hash {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]cell.Hash, len(b.order))
	copy(out, b.order)
	return out
}
