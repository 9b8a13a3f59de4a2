// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"

	"github.com/bureau-foundation/tracebuffer/lib/clock"
	"github.com/bureau-foundation/tracebuffer/lib/schema/trace"
)

// asyncEvents is the size of each synthetic async sub-execution.
const asyncEvents = 3

// producer is the part of the pipeline the load driver calls.
type producer interface {
	StoreEvent(event *trace.Event)
	StoreTrace(t *trace.Trace)
}

type loadOptions struct {
	Producers  int
	Traces     int
	Events     int
	AsyncEvery int

	Clock clock.Clock
}

func (o loadOptions) validate() error {
	switch {
	case o.Producers <= 0:
		return fmt.Errorf("--producers must be positive, got %d", o.Producers)
	case o.Traces < 0:
		return fmt.Errorf("--traces must not be negative, got %d", o.Traces)
	case o.Events < 0:
		return fmt.Errorf("--events must not be negative, got %d", o.Events)
	case o.AsyncEvery < 0:
		return fmt.Errorf("--async-every must not be negative, got %d", o.AsyncEvery)
	}
	return nil
}

type loadResult struct {
	// Traces counts stored traces, async sub-executions included.
	Traces uint64
	Events uint64
}

var methods = []string{
	"com.example.CheckoutController.submit",
	"com.example.CartService.load",
	"com.example.InventoryClient.reserve",
	"com.example.PaymentGateway.authorize",
	"com.example.OrderRepository.save",
}

// runLoad runs Producers goroutines, each storing Traces traces of
// Events events, and returns what was stored. Producers stop early
// when ctx is cancelled.
func runLoad(ctx context.Context, sink producer, options loadOptions) loadResult {
	var (
		traces atomic.Uint64
		events atomic.Uint64
		group  sync.WaitGroup
	)
	for worker := range options.Producers {
		group.Add(1)
		go func() {
			defer group.Done()
			random := rand.New(rand.NewPCG(uint64(worker)+1, uint64(options.Clock.Now().UnixNano())))
			for i := range options.Traces {
				if ctx.Err() != nil {
					return
				}
				async := options.AsyncEvery > 0 && (i+1)%options.AsyncEvery == 0
				stored := produceTrace(sink, random, options, async)
				traces.Add(stored.Traces)
				events.Add(stored.Events)
			}
		}()
	}
	group.Wait()
	return loadResult{Traces: traces.Load(), Events: events.Load()}
}

// produceTrace stores one transaction: its events, an optional async
// sub-execution, then the completed trace.
func produceTrace(sink producer, random *rand.Rand, options loadOptions, async bool) loadResult {
	var header trace.Header
	binary.BigEndian.PutUint64(header.TraceID[:8], random.Uint64())
	binary.BigEndian.PutUint64(header.TraceID[8:], random.Uint64())
	binary.BigEndian.PutUint64(header.SpanID[:], random.Uint64())
	header.ServiceType = 1000
	header.RPC = "/checkout"
	header.StartTime = options.Clock.Now().UnixMilli()

	result := loadResult{Traces: 1}
	var offset int64
	for sequence := range options.Events {
		elapsed := int64(random.IntN(20))
		sink.StoreEvent(&trace.Event{
			Header:      header,
			Sequence:    int32(sequence),
			Depth:       int32(1 + sequence%4),
			Method:      methods[random.IntN(len(methods))],
			StartOffset: offset,
			Elapsed:     elapsed,
		})
		offset += elapsed
		result.Events++
	}

	if async {
		subHeader := header
		subHeader.AsyncID = 1
		for sequence := range asyncEvents {
			sink.StoreEvent(&trace.Event{
				Header:   subHeader,
				Sequence: int32(sequence),
				Depth:    1,
				Method:   "com.example.AuditLog.write",
			})
			result.Events++
		}
		sink.StoreTrace(&trace.Trace{Header: subHeader, Elapsed: asyncEvents})
		result.Traces++
	}

	sink.StoreTrace(&trace.Trace{Header: header, Elapsed: offset})
	return result
}
