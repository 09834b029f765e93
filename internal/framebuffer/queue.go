// Package framebuffer implements the shared image-processing queue that
// MovieInput, MoviePlayer, and MovieOutput all draw color-conversion work
// from, plus the YUV<->RGB bridge itself.
package framebuffer

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
)

// Queue serializes conversion work onto a single worker goroutine. Callers
// submit via Sync, which blocks until the work runs; a call already
// executing on the worker goroutine runs its nested Sync call inline
// instead of deadlocking against itself.
type Queue struct {
	mu         sync.Mutex
	work       chan func()
	closeOnce  sync.Once
	done       chan struct{}
	workerGoID uint64
}

// NewQueue starts the worker goroutine and returns a ready Queue.
func NewQueue() *Queue {
	q := &Queue{
		work: make(chan func()),
		done: make(chan struct{}),
	}
	started := make(chan struct{})
	go q.run(started)
	<-started
	return q
}

func (q *Queue) run(started chan struct{}) {
	q.mu.Lock()
	q.workerGoID = currentGoroutineID()
	q.mu.Unlock()
	close(started)
	for {
		select {
		case fn := <-q.work:
			fn()
		case <-q.done:
			return
		}
	}
}

// Sync runs fn on the queue's worker goroutine and blocks until it
// completes. If the calling goroutine is already the worker goroutine
// (i.e. fn is being scheduled from code that itself runs on the queue), fn
// executes inline.
func (q *Queue) Sync(fn func()) {
	q.mu.Lock()
	onWorker := currentGoroutineID() == q.workerGoID
	q.mu.Unlock()

	if onWorker {
		fn()
		return
	}

	done := make(chan struct{})
	q.work <- func() {
		defer close(done)
		fn()
	}
	<-done
}

// Close stops the worker goroutine. Outstanding Sync calls already queued
// will still run; no new work is accepted afterward.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.done) })
}

// currentGoroutineID parses the running goroutine's id out of its own
// stack trace header ("goroutine 123 [running]:..."). Used only to
// recognize reentrant calls onto the queue's own worker, never for
// scheduling decisions that need to be fast or exact across goroutines.
func currentGoroutineID() uint64 {
	buf := make([]byte, 64)
	n := runtime.Stack(buf, false)
	buf = buf[:n]
	buf = bytes.TrimPrefix(buf, []byte("goroutine "))
	if idx := bytes.IndexByte(buf, ' '); idx >= 0 {
		buf = buf[:idx]
	}
	id, _ := strconv.ParseUint(string(buf), 10, 64)
	return id
}
