// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/tracebuffer/lib/clock"
	"github.com/bureau-foundation/tracebuffer/lib/schema/trace"
)

// Backoff for reconnecting to the collector. Doubles per consecutive
// failure and resets after a successful write.
const (
	initialBackoff = 1 * time.Second
	maxBackoff     = 30 * time.Second
)

// drainTimeout bounds the final delivery attempt after Run's context
// is cancelled.
const drainTimeout = 5 * time.Second

// StreamOptions configures a StreamSender.
type StreamOptions struct {
	// Network is "unix" or "tcp".
	Network string
	Address string

	Compression CompressionTag
	// QueueBytes bounds the frames waiting to be written.
	QueueBytes int
	// MaxFrameBytes rejects units that encode larger than this.
	MaxFrameBytes int
	DialTimeout   time.Duration

	// Hello is written as the first frame of every connection.
	Hello Hello

	Clock  clock.Clock
	Logger *slog.Logger
}

// StreamStats is a snapshot of sender counters.
type StreamStats struct {
	// Encoded counts units accepted into the queue.
	Encoded uint64
	// Rejected counts units that could not be encoded or were larger
	// than MaxFrameBytes.
	Rejected uint64
	// Evicted counts queued frames dropped to make room.
	Evicted uint64
	// Shipped counts frames written to a connection.
	Shipped uint64
	// Connects counts successful dials.
	Connects uint64
	Queued   int
}

// StreamSender encodes units into frames and writes them to a
// collector over a stream socket. Send never blocks on the network:
// frames wait in a bounded Queue and a single writer goroutine (Run)
// ships them, reconnecting with backoff when the collector goes away.
// Delivery is at most once.
type StreamSender struct {
	options StreamOptions
	queue   *Queue
	hello   []byte

	// conn is owned by the Run goroutine.
	conn net.Conn

	encoded  atomic.Uint64
	rejected atomic.Uint64
	shipped  atomic.Uint64
	connects atomic.Uint64

	rejectLogOnce sync.Once
}

// NewStreamSender validates options and returns a sender. Call Run to
// start delivering.
func NewStreamSender(options StreamOptions) (*StreamSender, error) {
	if options.Network != "unix" && options.Network != "tcp" {
		return nil, fmt.Errorf("transport: network must be unix or tcp, got %q", options.Network)
	}
	if options.Address == "" {
		return nil, errors.New("transport: address is required")
	}
	if options.QueueBytes <= 0 {
		return nil, fmt.Errorf("transport: queue bytes must be positive, got %d", options.QueueBytes)
	}
	if options.MaxFrameBytes <= frameOverhead {
		return nil, fmt.Errorf("transport: max frame bytes must exceed %d, got %d", frameOverhead, options.MaxFrameBytes)
	}
	if options.MaxFrameBytes > options.QueueBytes {
		return nil, fmt.Errorf("transport: max frame bytes %d exceeds queue bytes %d", options.MaxFrameBytes, options.QueueBytes)
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.DiscardHandler)
	}
	if options.DialTimeout <= 0 {
		options.DialTimeout = 5 * time.Second
	}
	hello, err := EncodeHello(options.Hello)
	if err != nil {
		return nil, err
	}
	return &StreamSender{
		options: options,
		queue:   NewQueue(options.QueueBytes),
		hello:   hello,
	}, nil
}

// Send encodes unit and queues it for delivery. Encoding failures are
// logged once and counted; they never reach the caller.
func (s *StreamSender) Send(unit trace.Unit) {
	frame, err := EncodeUnit(unit, s.options.Compression, s.options.MaxFrameBytes)
	if err == nil {
		err = s.queue.Push(frame)
	}
	if err != nil {
		s.rejected.Add(1)
		s.rejectLogOnce.Do(func() {
			s.options.Logger.Warn("unit rejected by stream sender; further rejections are counted, not logged",
				"kind", unit.Kind(),
				"events", unit.EventCount(),
				"error", err,
			)
		})
		return
	}
	s.encoded.Add(1)
}

// Stats returns a snapshot of the sender counters.
func (s *StreamSender) Stats() StreamStats {
	return StreamStats{
		Encoded:  s.encoded.Load(),
		Rejected: s.rejected.Load(),
		Evicted:  s.queue.Dropped(),
		Shipped:  s.shipped.Load(),
		Connects: s.connects.Load(),
		Queued:   s.queue.Len(),
	}
}

// Run writes queued frames until ctx is cancelled, then makes one
// bounded drain pass and closes the connection. Run must be called at
// most once.
func (s *StreamSender) Run(ctx context.Context) {
	logger := s.options.Logger
	backoff := initialBackoff
	defer s.disconnect()

	for {
		select {
		case <-s.queue.Notify():
		case <-ctx.Done():
			s.drain()
			return
		}

		for {
			seq, frame := s.queue.Peek()
			if frame == nil {
				break
			}
			if err := s.write(ctx, frame); err != nil {
				s.disconnect()
				if ctx.Err() != nil {
					s.drain()
					return
				}
				level := slog.LevelWarn
				if isPeerClosed(err) {
					level = slog.LevelInfo
				}
				logger.Log(ctx, level, "collector unavailable, will retry",
					"address", s.options.Address,
					"error", err,
					"backoff", backoff,
					"queued", s.queue.Len(),
				)
				select {
				case <-s.options.Clock.After(backoff):
				case <-ctx.Done():
					s.drain()
					return
				}
				backoff = min(backoff*2, maxBackoff)
				continue
			}
			s.queue.Pop(seq)
			s.shipped.Add(1)
			backoff = initialBackoff
		}
	}
}

// drain makes one best-effort pass over the queue after shutdown.
func (s *StreamSender) drain() {
	if s.queue.Len() == 0 {
		return
	}
	drainContext, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	for {
		seq, frame := s.queue.Peek()
		if frame == nil {
			return
		}
		if err := s.write(drainContext, frame); err != nil {
			s.options.Logger.Warn("drain: collector write failed, abandoning remaining frames",
				"error", err,
				"remaining", s.queue.Len(),
			)
			return
		}
		s.queue.Pop(seq)
		s.shipped.Add(1)
	}
}

// write sends one frame, dialing and writing the hello frame first if
// there is no connection. A cancelled ctx closes the connection, which
// unblocks a write stuck on a stalled collector.
func (s *StreamSender) write(ctx context.Context, frame []byte) error {
	if s.conn == nil {
		if err := s.connect(ctx); err != nil {
			return err
		}
	}
	conn := s.conn
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	if _, err := conn.Write(frame); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}

func (s *StreamSender) connect(ctx context.Context) error {
	dialer := net.Dialer{Timeout: s.options.DialTimeout}
	conn, err := dialer.DialContext(ctx, s.options.Network, s.options.Address)
	if err != nil {
		return fmt.Errorf("dialing collector: %w", err)
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	_, err = conn.Write(s.hello)
	stop()
	if err != nil {
		conn.Close()
		return fmt.Errorf("writing hello: %w", err)
	}
	s.conn = conn
	s.connects.Add(1)
	s.options.Logger.Info("connected to collector",
		"network", s.options.Network,
		"address", s.options.Address,
	)
	return nil
}

func (s *StreamSender) disconnect() {
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}
