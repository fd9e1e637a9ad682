package audio

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// OverflowPolicy decides what Push does when the queue is full.
type OverflowPolicy int

const (
	// OverflowDrop discards the incoming chunk immediately.
	OverflowDrop OverflowPolicy = iota
	// OverflowBlock waits up to the configured timeout for space, then drops.
	OverflowBlock
)

// ParseOverflowPolicy maps the config spelling to a policy.
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch s {
	case "", "drop":
		return OverflowDrop, nil
	case "block":
		return OverflowBlock, nil
	default:
		return OverflowDrop, fmt.Errorf("unknown overflow policy %q", s)
	}
}

func (p OverflowPolicy) String() string {
	if p == OverflowBlock {
		return "block"
	}
	return "drop"
}

// ChunkQueue is a bounded FIFO between the capture goroutine (single
// producer) and the recognition loop (single consumer). After Close the
// consumer still receives every chunk accepted before Close, then io.EOF.
type ChunkQueue struct {
	ch           chan Chunk
	policy       OverflowPolicy
	blockTimeout time.Duration

	mu     sync.RWMutex
	closed bool

	enqueued atomic.Uint64
	dropped  atomic.Uint64
}

func NewChunkQueue(capacity int, policy OverflowPolicy, blockTimeout time.Duration) *ChunkQueue {
	if capacity <= 0 {
		capacity = 1
	}
	return &ChunkQueue{
		ch:           make(chan Chunk, capacity),
		policy:       policy,
		blockTimeout: blockTimeout,
	}
}

// Push enqueues c without blocking past the overflow policy. It returns
// false when the chunk was dropped or the queue is closed.
func (q *ChunkQueue) Push(c Chunk) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return false
	}

	select {
	case q.ch <- c:
		q.enqueued.Add(1)
		return true
	default:
	}

	if q.policy == OverflowBlock && q.blockTimeout > 0 {
		timer := time.NewTimer(q.blockTimeout)
		defer timer.Stop()
		select {
		case q.ch <- c:
			q.enqueued.Add(1)
			return true
		case <-timer.C:
		}
	}

	q.dropped.Add(1)
	return false
}

// Pop blocks until a chunk is available, the queue is closed and drained
// (io.EOF), or ctx is done.
func (q *ChunkQueue) Pop(ctx context.Context) (Chunk, error) {
	select {
	case c, ok := <-q.ch:
		if !ok {
			return Chunk{}, io.EOF
		}
		return c, nil
	case <-ctx.Done():
		return Chunk{}, ctx.Err()
	}
}

// Close stops accepting chunks. It is safe to call more than once.
func (q *ChunkQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}

func (q *ChunkQueue) Len() int         { return len(q.ch) }
func (q *ChunkQueue) Cap() int         { return cap(q.ch) }
func (q *ChunkQueue) Enqueued() uint64 { return q.enqueued.Load() }
func (q *ChunkQueue) Dropped() uint64  { return q.dropped.Load() }
