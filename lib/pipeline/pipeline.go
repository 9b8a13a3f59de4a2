// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bureau-foundation/tracebuffer/lib/buffer"
	"github.com/bureau-foundation/tracebuffer/lib/clock"
	"github.com/bureau-foundation/tracebuffer/lib/config"
	"github.com/bureau-foundation/tracebuffer/lib/dispatch"
	"github.com/bureau-foundation/tracebuffer/lib/flush"
	"github.com/bureau-foundation/tracebuffer/lib/schedule"
	"github.com/bureau-foundation/tracebuffer/lib/schema/trace"
	"github.com/bureau-foundation/tracebuffer/lib/shared"
	"github.com/bureau-foundation/tracebuffer/lib/transport"
)

// Stats is a snapshot of pipeline counters.
type Stats struct {
	Trace dispatch.Stats
	// Async is the shared engine when the shared buffer is enabled,
	// otherwise the async dispatcher's engine.
	Async dispatch.Stats
	// BatchPending is the number of units waiting for the next batch
	// tick. Always zero when the shared buffer is disabled.
	BatchPending int
}

// Pipeline owns the dispatch engines, the scheduler and (with the
// shared buffer enabled) the periodic batcher. Producer methods are
// safe for concurrent use and never block for long.
type Pipeline struct {
	config *config.Config
	clock  clock.Clock
	logger *slog.Logger

	traceEngine *dispatch.Engine
	asyncEngine *dispatch.Engine
	shared      *shared.Buffer
	batcher     *flush.Batcher
	scheduler   *schedule.Scheduler

	mu          sync.Mutex
	started     bool
	stopped     bool
	cancel      context.CancelFunc
	batcherDone chan struct{}
}

// New builds a pipeline from a validated configuration. Units leave
// through sender. Nothing runs until Start.
func New(cfg *config.Config, sender transport.Sender, clk clock.Clock, logger *slog.Logger) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline: invalid configuration: %w", err)
	}
	if sender == nil {
		return nil, errors.New("pipeline: sender is required")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	p := &Pipeline{
		config:    cfg,
		clock:     clk,
		logger:    logger,
		scheduler: schedule.New(clk, logger.With("component", "scheduler")),
	}

	factory := trace.NewChunkFactory(trace.Agent{
		AgentID:                cfg.Agent.AgentID,
		ApplicationName:        cfg.Agent.ApplicationName,
		StartTime:              clk.Now().UnixMilli(),
		ApplicationServiceType: cfg.Agent.ServiceType,
	})
	remote := flush.NewRemote(sender, logger.With("component", "remote"))

	var traceFlusher flush.Flusher = remote
	var asyncHandler dispatch.Handler
	if cfg.Shared.Enabled {
		batcher, err := flush.NewBatcher(flush.BatcherOptions{
			MaxEvents: cfg.BatchMaxEvents(),
			Period:    cfg.Batch.Period.Duration,
			Sender:    sender,
			Clock:     clk,
			Logger:    logger.With("component", "batcher"),
		})
		if err != nil {
			return nil, fmt.Errorf("pipeline: %w", err)
		}
		threshold, err := flush.NewThreshold(cfg.Shared.Capacity, cfg.Shared.ThresholdPercent)
		if err != nil {
			return nil, fmt.Errorf("pipeline: %w", err)
		}
		p.batcher = batcher
		traceFlusher = flush.NewChain(remote).
			Add(flush.AllOf(flush.KindIs(trace.KindTrace, trace.KindPartialChunk), threshold), batcher)

		sharedBuffer, err := shared.New(shared.Options{
			Buffer: buffer.Options{
				MaxEvents: cfg.Buffer.MaxEvents,
				Factory:   factory,
				Flusher:   remote,
				Clock:     clk,
			},
			FlushBatchSize: cfg.Shared.FlushBatchSize,
			Logger:         logger.With("component", "shared"),
		})
		if err != nil {
			return nil, fmt.Errorf("pipeline: %w", err)
		}
		p.shared = sharedBuffer
		asyncHandler = sharedBuffer
	} else {
		asyncFactory, err := buffer.NewAsyncFactory(buffer.Options{
			MaxEvents: cfg.Buffer.MaxEvents,
			Factory:   factory,
			Flusher:   remote,
			Clock:     clk,
		}, cfg.Buffer.AsyncFillRate)
		if err != nil {
			return nil, fmt.Errorf("pipeline: %w", err)
		}
		repository := buffer.NewRepository(func(key trace.Key) buffer.Storage {
			return asyncFactory(key)
		})
		asyncHandler = dispatch.NewDispatcher(repository, clk, logger.With("component", "async"))
	}

	traceFactory, err := buffer.NewFactory(buffer.Options{
		MaxEvents: cfg.Buffer.MaxEvents,
		Factory:   factory,
		Flusher:   traceFlusher,
		Clock:     clk,
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	traceRepository := buffer.NewRepository(func(key trace.Key) buffer.Storage {
		return p.closeTrigger(key, traceFactory(key))
	})

	asyncName := "async"
	if cfg.Shared.Enabled {
		asyncName = "shared"
	}
	p.traceEngine = dispatch.NewEngine(p.engineOptions("trace",
		dispatch.NewDispatcher(traceRepository, clk, logger.With("component", "trace"))))
	p.asyncEngine = dispatch.NewEngine(p.engineOptions(asyncName, asyncHandler))
	return p, nil
}

func (p *Pipeline) engineOptions(name string, handler dispatch.Handler) dispatch.Options {
	return dispatch.Options{
		Name:         name,
		Handler:      handler,
		BatchSize:    p.config.Dispatch.BatchSize,
		Block:        p.config.Dispatch.QueueFull == config.QueueBlock,
		BlockTimeout: p.config.Dispatch.BlockTimeout.Duration,
		StopTimeout:  p.config.Dispatch.StopTimeout.Duration,
		Clock:        p.clock,
		Logger:       p.logger,
	}
}

// closeTrigger releases a trace's async storage once the trace has
// been stored and its buffer is closed. The hooks run on the trace
// engine's consumer goroutine.
func (p *Pipeline) closeTrigger(key trace.Key, storage buffer.Storage) buffer.Storage {
	stored := false
	return buffer.NewTrigger(storage, buffer.Hooks{
		OnStoreTrace: func(*trace.Trace) { stored = true },
		OnClose: func() {
			if stored {
				p.asyncEngine.Close(dispatch.CloseKey(key))
			}
		},
	})
}

// sweep is a periodic job registered with the scheduler.
type sweep struct {
	name  string
	delay time.Duration
	task  func()
}

// Start launches the engines, the batcher and the sweep jobs. Only
// Stop ends them: cancelling ctx does not, since the final flush in
// Stop still routes units through the batcher. Start returns an error
// if the pipeline was already started or stopped.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.stopped {
		return errors.New("pipeline: already started")
	}
	p.started = true

	capacity := p.config.Dispatch.QueueCapacity
	if !p.asyncEngine.Start(capacity) || !p.traceEngine.Start(capacity) {
		return fmt.Errorf("pipeline: dispatch engines failed to start (capacity %d)", capacity)
	}

	ctx, p.cancel = context.WithCancel(context.WithoutCancel(ctx))
	if p.batcher != nil {
		p.batcherDone = make(chan struct{})
		go func() {
			defer close(p.batcherDone)
			p.batcher.Run(ctx)
		}()
	}

	dispatchConfig := p.config.Dispatch
	jobs := []sweep{
		{"flush", dispatchConfig.FlushDelay.Duration, func() {
			p.traceEngine.Flush(dispatch.FlushAll())
			if p.shared == nil {
				p.asyncEngine.Flush(dispatch.FlushAll())
			}
		}},
		{"close-idle", dispatchConfig.CloseDelay.Duration, func() {
			idle := dispatchConfig.IdleTimeout.Duration
			p.traceEngine.Close(dispatch.CloseIdle(idle))
			if p.shared == nil {
				p.asyncEngine.Close(dispatch.CloseIdle(idle))
			}
		}},
	}
	if p.shared != nil {
		sharedConfig := p.config.Shared
		jobs = append(jobs, sweep{"shared", sharedConfig.SweepPeriod.Duration, func() {
			p.asyncEngine.Flush(dispatch.FlushOlderThan(sharedConfig.Expiry.Duration))
			p.asyncEngine.Flush(dispatch.FlushOverCapacity(sharedConfig.Capacity))
		}})
	}
	for _, job := range jobs {
		if err := p.scheduler.Every(job.name, job.delay, job.task); err != nil {
			return fmt.Errorf("pipeline: %w", err)
		}
	}

	p.logger.Info("pipeline started",
		"shared", p.shared != nil,
		"max_events", p.config.Buffer.MaxEvents,
		"queue_capacity", capacity,
	)
	return nil
}

// Stop drains everything the pipeline holds into the sender and shuts
// down. Producer calls after Stop are silently dropped. Stop is
// idempotent and safe to call without Start.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	cancel, batcherDone := p.cancel, p.batcherDone
	p.mu.Unlock()

	p.scheduler.Stop()
	// The trace engine goes first: its final close releases async
	// storage through the async engine, which must still be running.
	p.traceEngine.Stop()
	p.asyncEngine.Stop()
	// The engines are idle now, so the batcher's last tick sees every
	// unit the final flushes handed it.
	if cancel != nil {
		cancel()
	}
	if batcherDone != nil {
		<-batcherDone
	}
	p.logger.Info("pipeline stopped", "stats", p.Stats())
}

// StoreEvent hands one event to the pipeline. Events with a non-zero
// async id go to the async side.
func (p *Pipeline) StoreEvent(event *trace.Event) {
	if event.Header.AsyncID != 0 {
		p.asyncEngine.StoreEvent(event)
		return
	}
	p.traceEngine.StoreEvent(event)
}

// StoreTrace hands a completed trace to the pipeline. Its buffered
// events are attached and it is sent.
func (p *Pipeline) StoreTrace(t *trace.Trace) {
	if t.Header.AsyncID != 0 {
		p.asyncEngine.StoreTrace(t)
		return
	}
	p.traceEngine.StoreTrace(t)
}

// Flush requests that the buffered events of key be sent now, without
// finalizing the trace.
func (p *Pipeline) Flush(key trace.Key) {
	p.traceEngine.Flush(dispatch.FlushKey(key))
	p.asyncEngine.Flush(dispatch.FlushKey(key))
}

// Stats returns a snapshot of the pipeline counters.
func (p *Pipeline) Stats() Stats {
	stats := Stats{
		Trace: p.traceEngine.Stats(),
		Async: p.asyncEngine.Stats(),
	}
	if p.batcher != nil {
		stats.BatchPending = p.batcher.Pending()
	}
	return stats
}
