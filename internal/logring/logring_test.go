package logring

import (
	"fmt"
	"testing"
	"time"
)

func TestAppendAndSnapshotOrder(t *testing.T) {
	b := New(10)
	for i := 0; i < 5; i++ {
		b.Append(Stdout, fmt.Sprintf("line-%d", i))
	}
	snap := b.Snapshot()
	if len(snap) != 5 {
		t.Fatalf("snapshot len = %d, want 5", len(snap))
	}
	for i, ln := range snap {
		if ln.Text != fmt.Sprintf("line-%d", i) {
			t.Errorf("snap[%d].Text = %q", i, ln.Text)
		}
		if ln.Seq != uint64(i+1) {
			t.Errorf("snap[%d].Seq = %d, want %d", i, ln.Seq, i+1)
		}
	}
}

func TestEvictionKeepsNewest(t *testing.T) {
	b := New(3)
	for i := 0; i < 10; i++ {
		b.Append(Stdout, fmt.Sprintf("line-%d", i))
	}
	snap := b.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("snapshot len = %d, want 3", len(snap))
	}
	want := []string{"line-7", "line-8", "line-9"}
	for i, ln := range snap {
		if ln.Text != want[i] {
			t.Errorf("snap[%d].Text = %q, want %q", i, ln.Text, want[i])
		}
	}
	if b.LastSeq() != 10 {
		t.Errorf("LastSeq = %d, want 10", b.LastSeq())
	}
}

func TestSeqStrictlyIncreasing(t *testing.T) {
	b := New(4)
	var prev uint64
	for i := 0; i < 100; i++ {
		b.Append(Stderr, "x")
		snap := b.Snapshot()
		last := snap[len(snap)-1].Seq
		if last <= prev {
			t.Fatalf("seq not strictly increasing: %d after %d", last, prev)
		}
		prev = last
	}
}

func TestSubscribeStartsAfterSnapshot(t *testing.T) {
	b := New(16)
	b.Append(Stdout, "old-1")
	b.Append(Stdout, "old-2")

	snap, sub := b.Subscribe(8)
	defer sub.Close()
	if len(snap) != 2 {
		t.Fatalf("snapshot len = %d, want 2", len(snap))
	}
	lastSnapSeq := snap[len(snap)-1].Seq

	b.Append(Stdout, "new-1")
	b.Append(Stdout, "new-2")

	for i := 0; i < 2; i++ {
		select {
		case ln := <-sub.Lines():
			if ln.Seq <= lastSnapSeq {
				t.Errorf("live line seq %d not after snapshot last %d", ln.Seq, lastSnapSeq)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for live line")
		}
	}
}

func TestNoDuplicateDelivery(t *testing.T) {
	b := New(64)
	snap, sub := b.Subscribe(64)
	defer sub.Close()
	if len(snap) != 0 {
		t.Fatalf("unexpected snapshot: %v", snap)
	}
	for i := 0; i < 20; i++ {
		b.Append(Stdout, fmt.Sprintf("l%d", i))
	}
	seen := make(map[uint64]bool)
	for i := 0; i < 20; i++ {
		select {
		case ln := <-sub.Lines():
			if seen[ln.Seq] {
				t.Fatalf("seq %d delivered twice", ln.Seq)
			}
			seen[ln.Seq] = true
		case <-time.After(time.Second):
			t.Fatalf("timed out after %d lines", i)
		}
	}
}

func TestSlowSubscriberDropsOldest(t *testing.T) {
	b := New(100)
	_, sub := b.Subscribe(4)
	defer sub.Close()
	for i := 0; i < 50; i++ {
		b.Append(Stdout, fmt.Sprintf("l%d", i))
	}
	if sub.Dropped() == 0 {
		t.Error("expected drops for a slow subscriber")
	}
	// Remaining queued lines must still be in order.
	var prev uint64
	for {
		select {
		case ln := <-sub.Lines():
			if ln.Seq <= prev {
				t.Fatalf("out of order: %d after %d", ln.Seq, prev)
			}
			prev = ln.Seq
		default:
			return
		}
	}
}

func TestSlowSubscriberDoesNotBlockOthers(t *testing.T) {
	b := New(100)
	_, slow := b.Subscribe(1)
	defer slow.Close()
	_, fast := b.Subscribe(64)
	defer fast.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 30; i++ {
			b.Append(Stdout, "x")
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Append blocked by a slow subscriber")
	}
	// Fast subscriber should have plenty queued.
	n := 0
	for {
		select {
		case <-fast.Lines():
			n++
		default:
			if n == 0 {
				t.Error("fast subscriber received nothing")
			}
			return
		}
	}
}

func TestSubscriptionCloseIdempotent(t *testing.T) {
	b := New(8)
	_, sub := b.Subscribe(4)
	sub.Close()
	sub.Close() // must not panic
	b.Append(Stdout, "after close")
	if _, ok := <-sub.Lines(); ok {
		t.Error("received line on closed subscription")
	}
}

func TestBufferClose(t *testing.T) {
	b := New(8)
	_, sub := b.Subscribe(4)
	b.Close()
	b.Close() // idempotent
	if _, ok := <-sub.Lines(); ok {
		t.Error("subscription channel not closed with buffer")
	}
	b.Append(Stdout, "ignored")
	if got := b.Snapshot(); len(got) != 0 {
		t.Errorf("append after close stored %d lines", len(got))
	}
	// Subscribing after close yields a closed feed, not a panic.
	_, late := b.Subscribe(4)
	if _, ok := <-late.Lines(); ok {
		t.Error("late subscription received line")
	}
	late.Close()
}
