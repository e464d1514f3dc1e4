package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/timmy/enrollflow/internal/logger"
)

const defaultAppendBuffer = 256

// outputAppender mirrors worker lines into the log store off the worker's
// stream. Lines keep their order; when the store falls behind and the buffer
// fills, new lines are dropped rather than stalling the worker.
type outputAppender struct {
	store   *ExecutionLogStore
	logID   uint
	lines   chan string
	dropped atomic.Int64
	wg      sync.WaitGroup

	// an abandoned worker may still emit lines after Close
	mu     sync.RWMutex
	closed bool
}

func newOutputAppender(ctx context.Context, store *ExecutionLogStore, logID uint, buffer int) *outputAppender {
	if buffer <= 0 {
		buffer = defaultAppendBuffer
	}
	a := &outputAppender{
		store: store,
		logID: logID,
		lines: make(chan string, buffer),
	}
	a.wg.Add(1)
	go a.loop(context.WithoutCancel(ctx))
	return a
}

// Push queues line without blocking.
func (a *outputAppender) Push(line string) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}
	select {
	case a.lines <- line:
	default:
		a.dropped.Add(1)
	}
}

// Close flushes queued lines and returns how many were dropped. A non-zero
// count is also recorded in the log as one omission line.
func (a *outputAppender) Close() int64 {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.lines)
	}
	a.mu.Unlock()
	a.wg.Wait()
	return a.dropped.Load()
}

func (a *outputAppender) loop(ctx context.Context) {
	defer a.wg.Done()
	batch := make([]string, 0, 32)
	for line := range a.lines {
		batch = append(batch[:0], line)
		// coalesce whatever else is already queued into one write
	drain:
		for len(batch) < cap(batch) {
			select {
			case next, ok := <-a.lines:
				if !ok {
					break drain
				}
				batch = append(batch, next)
			default:
				break drain
			}
		}
		if err := a.store.AppendLines(ctx, a.logID, batch); err != nil {
			bestEffort(ctx, "append", err)
		}
	}
	if n := a.dropped.Load(); n > 0 {
		bestEffort(ctx, "append", a.store.AppendLines(ctx, a.logID, []string{fmt.Sprintf("[%d worker lines omitted]", n)}))
		logger.With(nil).WithCount(int64(n)).Warn(ctx, "Dropped worker lines from execution log")
	}
}
