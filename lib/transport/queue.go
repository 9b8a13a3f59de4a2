// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"fmt"
	"sync"
)

// Queue is a byte-bounded FIFO of encoded frames between Send and the
// stream writer. When a Push would exceed the byte limit the oldest
// frames are dropped until the new one fits: a stalled collector costs
// old data, never memory.
//
// Entries carry a sequence number so that the writer can Pop exactly
// the frame it wrote even if Push evicted it in the meantime.
type Queue struct {
	mu        sync.Mutex
	entries   []queueEntry
	nextSeq   uint64
	totalSize int
	maxSize   int
	dropped   uint64
	notify    chan struct{}
}

type queueEntry struct {
	seq  uint64
	data []byte
}

// NewQueue returns a Queue holding at most maxSize bytes. Panics if
// maxSize is not positive.
func NewQueue(maxSize int) *Queue {
	if maxSize <= 0 {
		panic(fmt.Sprintf("transport: queue maxSize must be positive, got %d", maxSize))
	}
	return &Queue{
		maxSize: maxSize,
		notify:  make(chan struct{}, 1),
	}
}

// Push appends a frame, evicting the oldest frames as needed. Returns
// ErrFrameTooLarge if the frame alone exceeds the queue size.
func (q *Queue) Push(data []byte) error {
	size := len(data)
	if size > q.maxSize {
		return fmt.Errorf("%w: %d bytes exceeds queue size %d", ErrFrameTooLarge, size, q.maxSize)
	}
	if size == 0 {
		return fmt.Errorf("transport: refusing to queue empty frame")
	}

	q.mu.Lock()
	for q.totalSize+size > q.maxSize && len(q.entries) > 0 {
		q.evictHeadLocked()
		q.dropped++
	}
	q.nextSeq++
	q.entries = append(q.entries, queueEntry{seq: q.nextSeq, data: data})
	q.totalSize += size
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// Peek returns the oldest frame and its sequence number, or nil when
// the queue is empty.
func (q *Queue) Peek() (uint64, []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return 0, nil
	}
	return q.entries[0].seq, q.entries[0].data
}

// Pop removes the oldest frame if its sequence number is seq. A frame
// that was already evicted is left alone.
func (q *Queue) Pop(seq uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 || q.entries[0].seq != seq {
		return
	}
	q.evictHeadLocked()
}

func (q *Queue) evictHeadLocked() {
	head := q.entries[0]
	q.entries[0] = queueEntry{}
	q.entries = q.entries[1:]
	q.totalSize -= len(head.data)
}

// Len returns the number of queued frames.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// SizeBytes returns the total size of queued frames.
func (q *Queue) SizeBytes() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.totalSize
}

// Dropped returns how many frames were evicted to make room.
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Notify receives a coalesced signal after each Push.
func (q *Queue) Notify() <-chan struct{} { return q.notify }
