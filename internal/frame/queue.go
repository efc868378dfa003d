// SPDX-License-Identifier: MIT
package frame

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"karaoke/internal/config"
)

// pollInterval bounds how long Wait sleeps between empty polls. It is well
// under one hardware buffer at common sizes (1024 frames @ 44.1kHz ≈ 23ms).
const pollInterval = 2 * time.Millisecond

// Queue hands frames from the capture callback to the analysis goroutine.
//
// Push, Acquire and Reclaim belong to the producer; Pop, Wait and Release to
// the consumer. Frames evicted by an overrun and frames released by the
// consumer are recycled so the callback does not allocate once warmed up.
type Queue struct {
	frames *ring[Frame]
	free   *ring[Frame] // consumer -> producer recycling

	spare *Frame // producer-owned, last evicted frame

	pushed  atomic.Uint64
	dropped atomic.Uint64
}

// NewQueue creates a queue holding at most capacity frames.
func NewQueue(capacity int) (*Queue, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("%w: frame queue capacity must be at least 1, got %d", config.ErrConfiguration, capacity)
	}
	return &Queue{
		frames: newRing[Frame](capacity),
		// Room for every frame that can be in flight: queued, held by the
		// consumer, and being filled by the producer.
		free: newRing[Frame](capacity + 2),
	}, nil
}

// Push enqueues f without blocking. When the queue is full the oldest frame
// is discarded and Push returns false to signal the overrun.
func (q *Queue) Push(f *Frame) bool {
	q.pushed.Add(1)
	evicted := q.frames.push(f)
	if evicted == nil {
		return true
	}
	q.dropped.Add(1)
	q.spare = evicted
	return false
}

// Acquire returns a frame whose sample buffer holds n samples, recycled when
// possible. Producer only. Allocates only while the pool is warming up or
// when n grows.
func (q *Queue) Acquire(n int) *Frame {
	f := q.spare
	q.spare = nil
	if f == nil {
		f, _ = q.free.pop()
	}
	if f == nil {
		f = &Frame{}
	}
	f.reset(n)
	return f
}

// Pop dequeues the oldest frame without blocking.
func (q *Queue) Pop() (*Frame, bool) {
	return q.frames.pop()
}

// Wait blocks until a frame is available or ctx is done. Consumer only.
func (q *Queue) Wait(ctx context.Context) (*Frame, error) {
	if f, ok := q.frames.pop(); ok {
		return f, nil
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			if f, ok := q.frames.pop(); ok {
				return f, nil
			}
		}
	}
}

// Release returns a processed frame to the producer for reuse. The caller
// must not touch f afterwards. Consumer only.
func (q *Queue) Release(f *Frame) {
	if f == nil {
		return
	}
	// A full free list drops its oldest entry to the garbage collector.
	q.free.push(f)
}

// Len returns the number of queued frames.
func (q *Queue) Len() int { return q.frames.len() }

// Cap returns the queue capacity.
func (q *Queue) Cap() int { return int(q.frames.capacity) }

// Pushed returns the number of Push calls.
func (q *Queue) Pushed() uint64 { return q.pushed.Load() }

// Dropped returns the number of frames discarded by overruns.
func (q *Queue) Dropped() uint64 { return q.dropped.Load() }
