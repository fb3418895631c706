// Package correlator pairs span starts with span ends into completed spans.
package correlator

import (
	"fmt"

	"firestige.xyz/otrace/internal/core"
)

// DefaultMaxDepth bounds the open-span stack of a single thread.
const DefaultMaxDepth = 4096

type openSpan struct {
	labelID uint64
	start   uint64
	extra   []byte
}

// Correlator keeps one stack of open spans per thread. Spans on a thread nest:
// a SpanEnd closes the most recent SpanStart on the same thread.
//
// A Correlator belongs to one session and is not safe for concurrent use.
type Correlator struct {
	stacks   map[uint64][]openSpan
	maxDepth int

	completed uint64
	unmatched uint64
	overflow  uint64
}

// New creates a Correlator. maxDepth <= 0 selects DefaultMaxDepth.
func New(maxDepth int) *Correlator {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Correlator{
		stacks:   make(map[uint64][]openSpan),
		maxDepth: maxDepth,
	}
}

// Start opens a span.
func (c *Correlator) Start(ev core.SpanStart) error {
	return c.push(ev.ThreadID, openSpan{labelID: ev.LabelID, start: ev.Time})
}

// StartWithData opens a span that carries an opaque payload.
// The payload is handed back unchanged on the completed span.
func (c *Correlator) StartWithData(ev core.SpanStartAdditionalData) error {
	return c.push(ev.ThreadID, openSpan{labelID: ev.LabelID, start: ev.Time, extra: ev.ExtraData})
}

func (c *Correlator) push(thread uint64, s openSpan) error {
	stack := c.stacks[thread]
	if len(stack) >= c.maxDepth {
		c.overflow++
		return fmt.Errorf("%w: thread %d has %d open spans", core.ErrSpanDepthExceeded, thread, len(stack))
	}
	c.stacks[thread] = append(stack, s)
	return nil
}

// End closes the innermost open span on the event's thread.
// It returns core.ErrUnmatchedSpanEnd when the thread has no open span; the
// condition is not fatal and the correlator stays usable.
func (c *Correlator) End(ev core.SpanEnd) (core.CompletedSpan, error) {
	stack := c.stacks[ev.ThreadID]
	if len(stack) == 0 {
		c.unmatched++
		return core.CompletedSpan{}, fmt.Errorf("%w: thread %d at %d", core.ErrUnmatchedSpanEnd, ev.ThreadID, ev.Time)
	}
	top := stack[len(stack)-1]
	stack[len(stack)-1] = openSpan{}
	if len(stack) == 1 {
		delete(c.stacks, ev.ThreadID)
	} else {
		c.stacks[ev.ThreadID] = stack[:len(stack)-1]
	}
	c.completed++
	return core.CompletedSpan{
		ThreadID:  ev.ThreadID,
		LabelID:   top.labelID,
		Start:     top.start,
		End:       ev.Time,
		ExtraData: top.extra,
	}, nil
}

// Observe feeds any event to the correlator. ok is true when ev completed a span.
// CountersUpdate and unknown event types pass through untouched.
func (c *Correlator) Observe(ev core.Event) (span core.CompletedSpan, ok bool, err error) {
	switch e := ev.(type) {
	case core.SpanStart:
		return span, false, c.Start(e)
	case core.SpanStartAdditionalData:
		return span, false, c.StartWithData(e)
	case core.SpanEnd:
		span, err = c.End(e)
		return span, err == nil, err
	default:
		return span, false, nil
	}
}

// Open returns the number of spans still open per thread.
func (c *Correlator) Open() map[uint64]int {
	out := make(map[uint64]int, len(c.stacks))
	for thread, stack := range c.stacks {
		out[thread] = len(stack)
	}
	return out
}

// Stats reports correlation counters.
type Stats struct {
	Completed uint64 // Spans closed by a matching end
	Unmatched uint64 // Ends with no open span
	Overflow  uint64 // Starts rejected by the depth limit
	Open      int    // Spans still open across all threads
}

// Stats returns a snapshot of the counters.
func (c *Correlator) Stats() Stats {
	open := 0
	for _, stack := range c.stacks {
		open += len(stack)
	}
	return Stats{
		Completed: c.completed,
		Unmatched: c.unmatched,
		Overflow:  c.overflow,
		Open:      open,
	}
}
