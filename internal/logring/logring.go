// Package logring provides a bounded in-memory store of recent output lines
// for one supervised script, with live fan-out to concurrent subscribers.
package logring

import (
	"sync"
	"sync/atomic"
	"time"
)

// Stream identifies the origin of a captured line.
type Stream string

const (
	Stdout Stream = "stdout"
	Stderr Stream = "stderr"
	// System carries supervisor-generated lines (restart decisions,
	// spawn failures) so failure history is visible next to script output.
	System Stream = "system"
)

// Line is one captured output line. Seq is strictly increasing for the
// lifetime of the owning unit and never reset, so consumers can detect
// loss by observing a discontinuity.
type Line struct {
	Seq    uint64    `json:"seq"`
	Stream Stream    `json:"stream"`
	Time   time.Time `json:"time"`
	Text   string    `json:"text"`
}

// DefaultCapacity bounds a buffer when the caller passes a non-positive
// capacity.
const DefaultCapacity = 1000

// Buffer is a fixed-capacity FIFO of Lines. Append never blocks: a full
// buffer evicts the oldest line. Safe for concurrent use. The buffer lock
// is scoped to this buffer only and is never held across process control
// operations.
type Buffer struct {
	mu      sync.Mutex
	lines   []Line
	start   int
	count   int
	nextSeq uint64
	subs    map[*Subscription]struct{}
	closed  bool
}

func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		lines: make([]Line, capacity),
		subs:  make(map[*Subscription]struct{}),
	}
}

// Append records a line and delivers it to live subscribers. It is a no-op
// after Close.
func (b *Buffer) Append(stream Stream, text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.nextSeq++
	ln := Line{Seq: b.nextSeq, Stream: stream, Time: time.Now(), Text: text}
	if b.count == len(b.lines) {
		// full: overwrite oldest
		b.lines[b.start] = ln
		b.start = (b.start + 1) % len(b.lines)
	} else {
		b.lines[(b.start+b.count)%len(b.lines)] = ln
		b.count++
	}
	for s := range b.subs {
		s.offer(ln)
	}
}

// Snapshot returns the buffered lines oldest-first.
func (b *Buffer) Snapshot() []Line {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked()
}

func (b *Buffer) snapshotLocked() []Line {
	out := make([]Line, b.count)
	for i := 0; i < b.count; i++ {
		out[i] = b.lines[(b.start+i)%len(b.lines)]
	}
	return out
}

// LastSeq returns the sequence number of the most recent line, 0 if none.
func (b *Buffer) LastSeq() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nextSeq
}

// Subscribe atomically snapshots the buffer and attaches a live feed that
// starts strictly after the snapshot's last sequence number. depth bounds
// the per-subscriber channel; when it overflows the oldest queued line is
// dropped, which the consumer observes as a Seq gap.
func (b *Buffer) Subscribe(depth int) ([]Line, *Subscription) {
	if depth <= 0 {
		depth = 64
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	snap := b.snapshotLocked()
	sub := &Subscription{buf: b, ch: make(chan Line, depth)}
	if b.closed {
		close(sub.ch)
		sub.closed = true
		return snap, sub
	}
	b.subs[sub] = struct{}{}
	return snap, sub
}

// Close detaches and closes all subscribers and discards buffered lines.
// Called exactly once, when the owning unit is destroyed.
func (b *Buffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		if !s.closed {
			s.closed = true
			close(s.ch)
		}
	}
	b.subs = nil
	b.lines = nil
	b.start, b.count = 0, 0
}

// Subscription is one consumer's live feed. The channel is closed when the
// subscription or the buffer is closed.
type Subscription struct {
	buf     *Buffer
	ch      chan Line
	dropped atomic.Uint64
	closed  bool // guarded by buf.mu
}

// Lines yields appended lines in order. Slow consumers lose oldest queued
// lines rather than blocking the producer.
func (s *Subscription) Lines() <-chan Line { return s.ch }

// Dropped reports how many lines were discarded because this subscriber
// fell behind.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Close detaches the subscription and closes its channel. Idempotent.
func (s *Subscription) Close() {
	b := s.buf
	b.mu.Lock()
	defer b.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if b.subs != nil {
		delete(b.subs, s)
	}
	close(s.ch)
}

// offer delivers without blocking; caller holds buf.mu so closed cannot
// flip mid-send.
func (s *Subscription) offer(ln Line) {
	if s.closed {
		return
	}
	select {
	case s.ch <- ln:
		return
	default:
	}
	// Channel full: shed the oldest queued line, then retry once. The
	// consumer may race a receive in between; either way exactly one line
	// is lost and the Seq gap records it.
	select {
	case <-s.ch:
		s.dropped.Add(1)
	default:
	}
	select {
	case s.ch <- ln:
	default:
		s.dropped.Add(1)
	}
}
