// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package flush

import (
	"fmt"
	"slices"

	"github.com/bureau-foundation/tracebuffer/lib/schema/trace"
)

// Condition decides whether a unit takes a chain rule's route.
type Condition interface {
	Match(unit trace.Unit) bool
}

// ConditionFunc adapts a function to Condition.
type ConditionFunc func(unit trace.Unit) bool

func (f ConditionFunc) Match(unit trace.Unit) bool { return f(unit) }

// KindIs matches units of the given kinds.
func KindIs(kinds ...trace.Kind) Condition {
	return ConditionFunc(func(unit trace.Unit) bool {
		return slices.Contains(kinds, unit.Kind())
	})
}

// AllOf matches when every condition matches.
func AllOf(conditions ...Condition) Condition {
	return ConditionFunc(func(unit trace.Unit) bool {
		for _, condition := range conditions {
			if !condition.Match(unit) {
				return false
			}
		}
		return true
	})
}

// Threshold matches units of at most Limit events, where Limit is a
// percentage of a capacity. The pipeline uses it to send small units
// through the periodic batcher and large ones straight out.
type Threshold struct {
	limit int
}

// NewThreshold returns a Threshold of clamp(capacity*percent/100, 0,
// capacity). percent must be in (0, 100] and capacity positive.
func NewThreshold(capacity, percent int) (*Threshold, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("flush: threshold capacity must be positive, got %d", capacity)
	}
	if percent <= 0 || percent > 100 {
		return nil, fmt.Errorf("flush: threshold percent must be in (0, 100], got %d", percent)
	}
	limit := capacity * percent / 100
	return &Threshold{limit: max(0, min(limit, capacity))}, nil
}

// Limit is the largest matching event count.
func (t *Threshold) Limit() int { return t.limit }

func (t *Threshold) Match(unit trace.Unit) bool { return unit.EventCount() <= t.limit }

type rule struct {
	condition Condition
	flusher   Flusher
}

// Chain routes each unit to the flusher of the first rule whose
// condition matches, or to the fallback when none does. Rules are
// evaluated in the order they were added. A Chain is built once and
// then only read, so Flush is safe from any goroutine.
type Chain struct {
	rules    []rule
	fallback Flusher
}

// NewChain returns a chain with no rules.
func NewChain(fallback Flusher) *Chain {
	return &Chain{fallback: fallback}
}

// Add appends a rule and returns the chain for chaining.
func (c *Chain) Add(condition Condition, flusher Flusher) *Chain {
	c.rules = append(c.rules, rule{condition: condition, flusher: flusher})
	return c
}

func (c *Chain) Flush(unit trace.Unit) {
	for _, r := range c.rules {
		if r.condition.Match(unit) {
			r.flusher.Flush(unit)
			return
		}
	}
	c.fallback.Flush(unit)
}
