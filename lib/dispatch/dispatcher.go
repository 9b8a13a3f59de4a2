// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"log/slog"

	"github.com/bureau-foundation/tracebuffer/lib/buffer"
	"github.com/bureau-foundation/tracebuffer/lib/clock"
	"github.com/bureau-foundation/tracebuffer/lib/schema/trace"
)

// Dispatcher is the Handler for per-trace storages. It resolves each
// message's storage through a repository and releases storages once
// they are empty after completion or close.
type Dispatcher struct {
	repository *buffer.Repository[buffer.Storage]
	clock      clock.Clock
	logger     *slog.Logger
}

// NewDispatcher returns a Handler over repository.
func NewDispatcher(repository *buffer.Repository[buffer.Storage], clk clock.Clock, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Dispatcher{repository: repository, clock: clk, logger: logger}
}

// Repository exposes the underlying repository for inspection.
func (d *Dispatcher) Repository() *buffer.Repository[buffer.Storage] { return d.repository }

func (d *Dispatcher) StoreEvent(event *trace.Event) {
	d.repository.Get(event.Key()).StoreEvent(event)
}

func (d *Dispatcher) StoreTrace(t *trace.Trace) {
	key := t.Key()
	storage := d.repository.Get(key)
	storage.StoreTrace(t)
	d.removeIfEmpty(key, storage)
}

func (d *Dispatcher) Flush(request FlushRequest) {
	if !request.All {
		if storage, ok := d.repository.Find(request.Key); ok {
			storage.Flush()
		}
		return
	}

	entries := d.repository.All()
	switch {
	case request.MaxAge > 0:
		now := d.clock.Now()
		for _, entry := range entries {
			if now.Sub(entry.Storage.LastAccessTime()) <= request.MaxAge {
				break
			}
			entry.Storage.Flush()
		}
	case request.MaxCapacity > 0:
		d.flushOverCapacity(entries, request.MaxCapacity)
	default:
		for _, entry := range entries {
			entry.Storage.Flush()
		}
	}
}

func (d *Dispatcher) Close(request CloseRequest) {
	if !request.All {
		if storage, ok := d.repository.Find(request.Key); ok {
			storage.Flush()
			d.removeIfEmpty(request.Key, storage)
		}
		return
	}

	entries := d.repository.All()
	switch {
	case request.Force:
		for _, entry := range entries {
			entry.Storage.Close()
			d.repository.Remove(entry.Key)
		}
		if len(entries) > 0 {
			d.logger.Debug("force closed storages", "count", len(entries))
		}
	case request.MaxAge > 0:
		now := d.clock.Now()
		closed := 0
		for _, entry := range entries {
			if now.Sub(entry.Storage.LastAccessTime()) <= request.MaxAge {
				break
			}
			entry.Storage.Close()
			d.repository.Remove(entry.Key)
			closed++
		}
		if closed > 0 {
			d.logger.Debug("closed idle storages", "count", closed, "max_age", request.MaxAge)
		}
	case request.MaxCapacity > 0:
		d.flushOverCapacity(entries, request.MaxCapacity)
		for _, entry := range entries {
			d.removeIfEmpty(entry.Key, entry.Storage)
		}
	default:
		for _, entry := range entries {
			entry.Storage.Flush()
			d.removeIfEmpty(entry.Key, entry.Storage)
		}
	}
}

// flushOverCapacity flushes storages oldest first until at most
// capacity events remain buffered.
func (d *Dispatcher) flushOverCapacity(entries []buffer.Entry[buffer.Storage], capacity int) {
	total := 0
	for _, entry := range entries {
		total += entry.Storage.Size()
	}
	for _, entry := range entries {
		if total <= capacity {
			return
		}
		size := entry.Storage.Size()
		entry.Storage.Flush()
		total -= size - entry.Storage.Size()
	}
}

// removeIfEmpty closes and unregisters an empty storage. Closing an
// empty storage emits nothing but runs its close hooks.
func (d *Dispatcher) removeIfEmpty(key trace.Key, storage buffer.Storage) {
	if !storage.IsEmpty() {
		return
	}
	storage.Close()
	d.repository.Remove(key)
}
