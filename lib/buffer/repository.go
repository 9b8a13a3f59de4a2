// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package buffer

import (
	"container/list"

	"github.com/bureau-foundation/tracebuffer/lib/schema/trace"
)

// Entry pairs a storage with its key in a repository snapshot.
type Entry[S any] struct {
	Key     trace.Key
	Storage S
}

// Repository maps trace keys to storages, creating them on first use.
// It keeps storages in access order: Get moves a storage to the
// most-recent end, and All lists least-recent first. Since every store
// goes through Get, this is ascending last-access order, which lets
// age sweeps stop at the first fresh storage.
//
// Repository has no locking. It is owned by one dispatch engine's
// consumer goroutine.
type Repository[S any] struct {
	factory func(trace.Key) S
	entries map[trace.Key]*list.Element
	order   *list.List
}

// NewRepository returns an empty repository that builds storages with
// factory.
func NewRepository[S any](factory func(trace.Key) S) *Repository[S] {
	return &Repository[S]{
		factory: factory,
		entries: make(map[trace.Key]*list.Element),
		order:   list.New(),
	}
}

// Get returns the storage for key, creating and registering it if
// absent, and marks it most recently accessed.
func (r *Repository[S]) Get(key trace.Key) S {
	if element, ok := r.entries[key]; ok {
		r.order.MoveToBack(element)
		return element.Value.(*Entry[S]).Storage
	}
	entry := &Entry[S]{Key: key, Storage: r.factory(key)}
	r.entries[key] = r.order.PushBack(entry)
	return entry.Storage
}

// Find returns the storage for key without creating it or changing
// its position.
func (r *Repository[S]) Find(key trace.Key) (S, bool) {
	element, ok := r.entries[key]
	if !ok {
		var zero S
		return zero, false
	}
	return element.Value.(*Entry[S]).Storage, true
}

// Remove unregisters key and reports whether it was present.
func (r *Repository[S]) Remove(key trace.Key) bool {
	element, ok := r.entries[key]
	if !ok {
		return false
	}
	r.order.Remove(element)
	delete(r.entries, key)
	return true
}

// All returns a snapshot of every storage, least recently accessed
// first. Callers may Remove while iterating the snapshot.
func (r *Repository[S]) All() []Entry[S] {
	snapshot := make([]Entry[S], 0, len(r.entries))
	for element := r.order.Front(); element != nil; element = element.Next() {
		snapshot = append(snapshot, *element.Value.(*Entry[S]))
	}
	return snapshot
}

// Len is the number of registered storages.
func (r *Repository[S]) Len() int { return len(r.entries) }
