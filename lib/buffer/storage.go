// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package buffer

import (
	"time"

	"github.com/bureau-foundation/tracebuffer/lib/schema/trace"
)

// Storage is what a dispatcher operates on for one key. *Buffer,
// *AsyncBuffer and *Trigger implement it.
type Storage interface {
	StoreEvent(event *trace.Event)
	StoreTrace(t *trace.Trace)
	Flush()
	Close()
	IsEmpty() bool
	Size() int
	LastAccessTime() time.Time
}

var (
	_ Storage = (*Buffer)(nil)
	_ Storage = (*AsyncBuffer)(nil)
	_ Storage = (*Trigger)(nil)
)

// Hooks run after the wrapped storage has handled the call. Nil hooks
// are skipped.
type Hooks struct {
	OnStoreEvent func(event *trace.Event)
	OnStoreTrace func(t *trace.Trace)
	OnFlush      func()
	OnClose      func()
}

// Trigger wraps a Storage and runs hooks after each mutating call.
// The pipeline uses it to release a trace's async storage once the
// trace itself has been closed.
type Trigger struct {
	inner Storage
	hooks Hooks
}

// NewTrigger wraps inner with hooks.
func NewTrigger(inner Storage, hooks Hooks) *Trigger {
	return &Trigger{inner: inner, hooks: hooks}
}

// Inner returns the wrapped storage.
func (t *Trigger) Inner() Storage { return t.inner }

func (t *Trigger) StoreEvent(event *trace.Event) {
	t.inner.StoreEvent(event)
	if t.hooks.OnStoreEvent != nil {
		t.hooks.OnStoreEvent(event)
	}
}

func (t *Trigger) StoreTrace(finished *trace.Trace) {
	t.inner.StoreTrace(finished)
	if t.hooks.OnStoreTrace != nil {
		t.hooks.OnStoreTrace(finished)
	}
}

func (t *Trigger) Flush() {
	t.inner.Flush()
	if t.hooks.OnFlush != nil {
		t.hooks.OnFlush()
	}
}

func (t *Trigger) Close() {
	t.inner.Close()
	if t.hooks.OnClose != nil {
		t.hooks.OnClose()
	}
}

func (t *Trigger) IsEmpty() bool             { return t.inner.IsEmpty() }
func (t *Trigger) Size() int                 { return t.inner.Size() }
func (t *Trigger) LastAccessTime() time.Time { return t.inner.LastAccessTime() }
