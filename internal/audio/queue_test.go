package audio

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"
)

func TestQueuePreservesOrder(t *testing.T) {
	q := NewChunkQueue(128, OverflowDrop, 0)
	const total = 100

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < total; i++ {
			if !q.Push(Chunk{Seq: uint64(i)}) {
				t.Errorf("push %d dropped", i)
			}
		}
		q.Close()
	}()

	var next uint64
	for {
		c, err := q.Pop(context.Background())
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("pop: %v", err)
		}
		if c.Seq != next {
			t.Fatalf("expected seq %d, got %d", next, c.Seq)
		}
		next++
	}
	wg.Wait()
	if next != total {
		t.Fatalf("expected %d chunks, got %d", total, next)
	}
}

func TestQueueDropWhenFull(t *testing.T) {
	q := NewChunkQueue(2, OverflowDrop, 0)
	for i := 0; i < 5; i++ {
		q.Push(Chunk{Seq: uint64(i)})
	}
	if q.Enqueued() != 2 || q.Dropped() != 3 {
		t.Fatalf("expected 2 enqueued/3 dropped, got %d/%d", q.Enqueued(), q.Dropped())
	}
	c, _ := q.Pop(context.Background())
	if c.Seq != 0 {
		t.Fatalf("expected oldest chunk kept, got %d", c.Seq)
	}
}

func TestQueueBlockIsBounded(t *testing.T) {
	q := NewChunkQueue(1, OverflowBlock, 20*time.Millisecond)
	q.Push(Chunk{Seq: 0})

	start := time.Now()
	if q.Push(Chunk{Seq: 1}) {
		t.Fatalf("expected push to time out")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("push blocked for %s", elapsed)
	}
	if q.Dropped() != 1 {
		t.Fatalf("expected 1 drop, got %d", q.Dropped())
	}
}

func TestQueueBlockAcceptsWhenConsumerFrees(t *testing.T) {
	q := NewChunkQueue(1, OverflowBlock, time.Second)
	q.Push(Chunk{Seq: 0})

	go func() {
		time.Sleep(10 * time.Millisecond)
		_, _ = q.Pop(context.Background())
	}()
	if !q.Push(Chunk{Seq: 1}) {
		t.Fatalf("expected push to succeed once space freed")
	}
}

func TestQueueCloseDrainsThenEOF(t *testing.T) {
	q := NewChunkQueue(4, OverflowDrop, 0)
	q.Push(Chunk{Seq: 7})
	q.Push(Chunk{Seq: 8})
	q.Close()
	q.Close()

	if q.Push(Chunk{Seq: 9}) {
		t.Fatalf("push after close must be rejected")
	}
	for _, want := range []uint64{7, 8} {
		c, err := q.Pop(context.Background())
		if err != nil || c.Seq != want {
			t.Fatalf("expected seq %d, got %d (%v)", want, c.Seq, err)
		}
	}
	if _, err := q.Pop(context.Background()); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestQueuePopHonorsContext(t *testing.T) {
	q := NewChunkQueue(1, OverflowDrop, 0)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := q.Pop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestParseOverflowPolicy(t *testing.T) {
	if p, err := ParseOverflowPolicy("block"); err != nil || p != OverflowBlock {
		t.Fatalf("unexpected %v %v", p, err)
	}
	if p, err := ParseOverflowPolicy(""); err != nil || p != OverflowDrop {
		t.Fatalf("unexpected %v %v", p, err)
	}
	if _, err := ParseOverflowPolicy("grow"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestFormatBlock(t *testing.T) {
	if DefaultFormat.BlockBytes() != 16000 {
		t.Fatalf("unexpected block bytes %d", DefaultFormat.BlockBytes())
	}
	if DefaultFormat.BlockDuration() != 500*time.Millisecond {
		t.Fatalf("unexpected block duration %s", DefaultFormat.BlockDuration())
	}
}
