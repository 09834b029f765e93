package player

import (
	"context"
	"errors"
	"sync"
	"testing"

	"moviepipeline/internal/domain"
	"moviepipeline/internal/domain/ports"
	"moviepipeline/internal/framebuffer"
)

type fakeTap struct {
	pixelBuffer func() *domain.PixelBuffer
}

func (t *fakeTap) HasNewPixelBuffer(domain.Timestamp) bool { return true }
func (t *fakeTap) CopyPixelBuffer(domain.Timestamp) (*domain.PixelBuffer, error) {
	return t.pixelBuffer(), nil
}

type fakeItem struct {
	status ports.PlaybackItemStatus
	dur    domain.Timestamp
	tap    ports.VideoOutputTap
}

func (i *fakeItem) Status() ports.PlaybackItemStatus  { return i.status }
func (i *fakeItem) Duration() domain.Timestamp        { return i.dur }
func (i *fakeItem) VideoOutput() ports.VideoOutputTap { return i.tap }

type fakeEngine struct {
	mu                sync.Mutex
	items             []ports.PlaybackItem
	current           ports.PlaybackItem
	rate              float64
	status            ports.EngineStatus
	currentTime       domain.Timestamp
	seekCalls         int
	lastSeekTarget    domain.Timestamp
	pendingCompletion func(bool)
	didEnd            func(ports.PlaybackItem)
	stalled           func()
}

func newFakeEngine(item ports.PlaybackItem) *fakeEngine {
	return &fakeEngine{items: []ports.PlaybackItem{item}, current: item, status: ports.EngineStatusReadyToPlay}
}

func (e *fakeEngine) Items() []ports.PlaybackItem { e.mu.Lock(); defer e.mu.Unlock(); return e.items }
func (e *fakeEngine) CurrentItem() ports.PlaybackItem {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}
func (e *fakeEngine) Insert(item ports.PlaybackItem, after ports.PlaybackItem) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.items = append(e.items, item)
	if e.current == nil {
		e.current = item
	}
}
func (e *fakeEngine) Remove(item ports.PlaybackItem) {}
func (e *fakeEngine) RemoveAll()                     {}
func (e *fakeEngine) AdvanceToNext()                 {}
func (e *fakeEngine) ReplaceCurrentItem(item ports.PlaybackItem) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.current = item
}

func (e *fakeEngine) Seek(to, before, after domain.Timestamp, completion func(bool)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seekCalls++
	e.lastSeekTarget = to
	e.pendingCompletion = completion
}

// complete releases a seek previously started via Seek, running its
// completion callback.
func (e *fakeEngine) complete(finished bool) {
	e.mu.Lock()
	cb := e.pendingCompletion
	e.pendingCompletion = nil
	e.mu.Unlock()
	if cb != nil {
		cb(finished)
	}
}

func (e *fakeEngine) SetRate(r float64)        { e.mu.Lock(); e.rate = r; e.mu.Unlock() }
func (e *fakeEngine) Rate() float64            { e.mu.Lock(); defer e.mu.Unlock(); return e.rate }
func (e *fakeEngine) Status() ports.EngineStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}
func (e *fakeEngine) Err() error { return nil }
func (e *fakeEngine) CurrentTime() domain.Timestamp {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentTime
}
func (e *fakeEngine) setCurrentTime(t domain.Timestamp) {
	e.mu.Lock()
	e.currentTime = t
	e.mu.Unlock()
}
func (e *fakeEngine) SetActionAtItemEnd(ports.ActionAtItemEnd) {}
func (e *fakeEngine) OnItemDidPlayToEnd(fn func(ports.PlaybackItem)) {
	e.mu.Lock()
	e.didEnd = fn
	e.mu.Unlock()
}
func (e *fakeEngine) OnStalled(fn func()) { e.mu.Lock(); e.stalled = fn; e.mu.Unlock() }

type fakeRefresh struct{}

func (fakeRefresh) Run(ctx context.Context, tick func()) { <-ctx.Done() }

type recordingSink struct {
	mu    sync.Mutex
	times []float64
}

func (s *recordingSink) NewFramebufferAvailable(fb *domain.Framebuffer, timing domain.TimingStyle) {
	s.mu.Lock()
	s.times = append(s.times, timing.Timestamp.Seconds())
	s.mu.Unlock()
	fb.Unlock()
}

func (s *recordingSink) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.times)
}

func dummyPixelBuffer() *domain.PixelBuffer {
	return &domain.PixelBuffer{
		Width: 2, Height: 2, Format: domain.PixelFormatBGRA,
		Planes:  [][]byte{make([]byte, 2*2*4)},
		Strides: []int{2 * 4},
	}
}

// TestSeekCoalescing: three seeks issued within a tight
// window collapse into at most two underlying engine.Seek calls, and the
// player settles on the final requested target.
func TestSeekCoalescing(t *testing.T) {
	item := &fakeItem{status: ports.PlaybackItemStatusReadyToPlay, tap: &fakeTap{pixelBuffer: dummyPixelBuffer}}
	engine := newFakeEngine(item)
	gen := framebuffer.NewGenerator(domain.NewPool(0))
	defer gen.Close()
	mp := New(engine, gen, fakeRefresh{})

	zero := domain.NewTimestamp(0, 600)
	for _, target := range []float64{1.0, 2.0, 3.0} {
		if err := mp.SeekToTime(domain.NewTimestamp(target, 600), false, zero, zero); err != nil {
			t.Fatalf("SeekToTime(%v): %v", target, err)
		}
	}

	engine.complete(true)
	engine.complete(true)

	engine.mu.Lock()
	calls := engine.seekCalls
	last := engine.lastSeekTarget
	engine.mu.Unlock()

	if calls > 2 {
		t.Fatalf("expected at most 2 engine Seek calls, got %d", calls)
	}
	if got := last.Seconds(); got < 2.999 || got > 3.001 {
		t.Fatalf("expected final seek target 3.0, got %v", got)
	}
	if pending := mp.PendingSeek(); pending != nil {
		t.Fatalf("expected nextSeeking to be nil after settling, got %+v", pending)
	}
}

// TestLoopBoundaryDrop: tapped pixel buffers whose
// display time falls outside the active loop range must not reach
// subscribers.
func TestLoopBoundaryDrop(t *testing.T) {
	item := &fakeItem{status: ports.PlaybackItemStatusReadyToPlay, tap: &fakeTap{pixelBuffer: dummyPixelBuffer}}
	engine := newFakeEngine(item)
	gen := framebuffer.NewGenerator(domain.NewPool(0))
	defer gen.Close()
	mp := New(engine, gen, fakeRefresh{})

	sink := &recordingSink{}
	mp.Graph.AddTarget(sink)

	start := domain.NewTimestamp(1.0, 600)
	end := domain.NewTimestamp(2.0, 600)
	mp.SetLoopEnabled(true, TimeRange{Start: start, End: end})

	for _, sec := range []float64{0.5, 1.5, 2.0, 2.5} {
		engine.setCurrentTime(domain.NewTimestamp(sec, 600))
		mp.onRefreshTick()
	}

	if got := sink.Count(); got != 1 {
		t.Fatalf("expected exactly 1 in-range frame forwarded, got %d (times=%v)", got, sink.times)
	}
}

// TestSeekRejectsInvalidTarget: negative and past-duration targets fail
// with ErrInvalidSeek and never reach the engine.
func TestSeekRejectsInvalidTarget(t *testing.T) {
	item := &fakeItem{
		status: ports.PlaybackItemStatusReadyToPlay,
		dur:    domain.NewTimestamp(10.0, 600),
		tap:    &fakeTap{pixelBuffer: dummyPixelBuffer},
	}
	engine := newFakeEngine(item)
	gen := framebuffer.NewGenerator(domain.NewPool(0))
	defer gen.Close()
	mp := New(engine, gen, fakeRefresh{})

	zero := domain.NewTimestamp(0, 600)
	for _, target := range []float64{-1.0, 11.0} {
		err := mp.SeekToTime(domain.NewTimestamp(target, 600), false, zero, zero)
		if !errors.Is(err, domain.ErrInvalidSeek) {
			t.Fatalf("SeekToTime(%v) = %v, want ErrInvalidSeek", target, err)
		}
	}
	engine.mu.Lock()
	calls := engine.seekCalls
	engine.mu.Unlock()
	if calls != 0 {
		t.Fatalf("engine.Seek called %d times for invalid targets, want 0", calls)
	}
}
