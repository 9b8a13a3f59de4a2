// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package trace

// ChunkFactory builds wire units stamped with this process's Agent
// identity. It holds no mutable state and is safe to share.
type ChunkFactory struct {
	agent Agent
}

// NewChunkFactory returns a factory that stamps agent on every unit.
func NewChunkFactory(agent Agent) *ChunkFactory {
	return &ChunkFactory{agent: agent}
}

// Agent returns the identity stamped on units.
func (f *ChunkFactory) Agent() Agent { return f.agent }

// PartialChunk wraps a run of events from one trace. The chunk's header
// is taken from the first event. Returns nil for an empty run: callers
// never emit empty chunks.
func (f *ChunkFactory) PartialChunk(events []*Event) *PartialChunk {
	if len(events) == 0 {
		return nil
	}
	return &PartialChunk{
		Agent:  f.agent,
		Header: events[0].Header,
		Events: events,
	}
}

// ChunkList combines event runs from several traces. Empty runs are
// skipped. Returns nil when every run is empty.
func (f *ChunkFactory) ChunkList(runs [][]*Event) *ChunkList {
	var chunks []*PartialChunk
	for _, run := range runs {
		if chunk := f.PartialChunk(run); chunk != nil {
			chunks = append(chunks, chunk)
		}
	}
	if len(chunks) == 0 {
		return nil
	}
	return &ChunkList{Chunks: chunks}
}

// AsyncChunk merges completed async sub-traces under their parent
// header. The async id is cleared on the chunk header since the chunk
// spans several sub-executions.
func (f *ChunkFactory) AsyncChunk(parent Header, traces []*Trace) *AsyncChunk {
	if len(traces) == 0 {
		return nil
	}
	parent.AsyncID = 0
	return &AsyncChunk{
		Agent:  f.agent,
		Header: parent,
		Traces: traces,
	}
}

// Finalize attaches events to t and stamps the agent. This is the only
// mutation a Trace sees after creation.
func (f *ChunkFactory) Finalize(t *Trace, events []*Event) {
	t.Agent = f.agent
	t.Events = events
}
