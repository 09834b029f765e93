package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"moviepipeline/internal/domain"
	"moviepipeline/internal/domain/ports"
	"moviepipeline/internal/framebuffer"
	"moviepipeline/internal/output"
)

type countingAdaptor struct {
	pool *domain.PixelBufferPool

	mu       sync.Mutex
	appended []domain.Timestamp
}

func (a *countingAdaptor) Pool() *domain.PixelBufferPool { return a.pool }

func (a *countingAdaptor) Append(pb *domain.PixelBuffer, at domain.Timestamp) error {
	a.mu.Lock()
	a.appended = append(a.appended, at)
	a.mu.Unlock()
	return nil
}

func (a *countingAdaptor) appendedTimes() []domain.Timestamp {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]domain.Timestamp{}, a.appended...)
}

type stubWriter struct {
	adaptor *countingAdaptor
}

func newStubWriter() *stubWriter {
	return &stubWriter{adaptor: &countingAdaptor{pool: domain.NewPixelBufferPool(1, 0)}}
}

func (w *stubWriter) AddInput(settings ports.WriterInputSettings) (ports.PixelBufferAdaptor, error) {
	if settings.Kind == domain.MediaVideo {
		return w.adaptor, nil
	}
	return nil, nil
}

func (w *stubWriter) StartWriting() error                               { return nil }
func (w *stubWriter) StartSession(domain.Timestamp)                     {}
func (w *stubWriter) AppendSample(*domain.SampleBuffer) error           { return nil }
func (w *stubWriter) IsReadyForMoreMediaData(domain.MediaKind) bool     { return true }
func (w *stubWriter) MarkFinished(domain.MediaKind)                     {}
func (w *stubWriter) EndSession(domain.Timestamp)                       {}
func (w *stubWriter) FinishWriting(_ context.Context, done func(error)) { done(nil) }
func (w *stubWriter) CancelWriting()                                    {}
func (w *stubWriter) Status() domain.WriterState                        { return domain.WriterStateWriting }
func (w *stubWriter) Err() error                                        { return nil }
func (w *stubWriter) OnError(func(error))                               {}
func (w *stubWriter) OnReadinessChanged(func())                         {}

func newWritingOutput(t *testing.T, pool *domain.Pool) (*output.MovieOutput, *stubWriter) {
	t.Helper()
	writer := newStubWriter()
	gen := framebuffer.NewGenerator(pool)
	t.Cleanup(gen.Close)
	out := output.New(writer, gen, output.Config{LiveVideo: true})
	if err := out.AttachVideoInput(ports.WriterInputSettings{Kind: domain.MediaVideo, Size: domain.Size{Width: 4, Height: 4}}); err != nil {
		t.Fatalf("AttachVideoInput: %v", err)
	}
	if err := out.StartWriting(); err != nil {
		t.Fatalf("StartWriting: %v", err)
	}
	return out, writer
}

func feed(c *MovieCache, pool *domain.Pool, seconds float64) {
	fb := pool.Get(domain.Size{Width: 4, Height: 4})
	c.NewFramebufferAvailable(fb, domain.VideoFrameTiming(domain.NewTimestamp(seconds, 600)))
}

// TestPreRollBound feeds 4s of frames into a 2s ring and checks the
// oldest-to-newest span never exceeds the window plus one inter-frame
// interval, and that every evicted framebuffer went back to its pool.
func TestPreRollBound(t *testing.T) {
	const fps = 30.0
	c := New()
	if err := c.Start(2.0); err != nil {
		t.Fatalf("Start: %v", err)
	}

	pool := domain.NewPool(0)
	for i := 0; i < 120; i++ {
		feed(c, pool, float64(i)/fps)
		if span := c.Span(); span > 2.0+1.0/fps+1e-6 {
			t.Fatalf("span %v exceeds window after frame %d", span, i)
		}
	}

	held := c.Len()
	idle, total := pool.Stats()
	if total-idle != held {
		t.Fatalf("outstanding framebuffers %d != ring occupancy %d", total-idle, held)
	}
}

// TestDrainPreservesFIFO verifies that StartWriting drains the pre-rolled
// backlog into the attached output oldest-first and balances every
// framebuffer lock.
func TestDrainPreservesFIFO(t *testing.T) {
	c := New()
	if err := c.Start(10.0); err != nil {
		t.Fatalf("Start: %v", err)
	}

	pool := domain.NewPool(0)
	const frames = 20
	for i := 0; i < frames; i++ {
		feed(c, pool, float64(i)/30.0)
	}

	out, writer := newWritingOutput(t, pool)
	if err := c.StartWriting(out); err != nil {
		t.Fatalf("StartWriting: %v", err)
	}
	for {
		_, remaining := c.DrainTick(time.Second)
		if remaining == 0 {
			break
		}
	}

	times := writer.adaptor.appendedTimes()
	if len(times) != frames {
		t.Fatalf("drained %d frames, want %d", len(times), frames)
	}
	for i := 1; i < len(times); i++ {
		if !times[i].After(times[i-1]) {
			t.Fatalf("drain out of order at %d: %v then %v", i, times[i-1], times[i])
		}
	}

	if err := c.StopWriting(); err != nil {
		t.Fatalf("StopWriting: %v", err)
	}
	if got := c.State(); got != domain.CacheStateIdle {
		t.Fatalf("state after StopWriting = %v, want idle", got)
	}
	idle, total := pool.Stats()
	if idle != total {
		t.Fatalf("pool not idle after drain: idle=%d total=%d", idle, total)
	}
}

// TestCountThresholdEviction bounds the ring by item count when the
// optional threshold is configured, regardless of the time window.
func TestCountThresholdEviction(t *testing.T) {
	c := New()
	c.SetMaxBufferedItems(13)
	if err := c.Start(60.0); err != nil {
		t.Fatalf("Start: %v", err)
	}

	pool := domain.NewPool(0)
	for i := 0; i < 40; i++ {
		feed(c, pool, float64(i)/30.0)
		if got := c.Len(); got > 13 {
			t.Fatalf("ring held %d items, want <= 13", got)
		}
	}
	if got := c.Len(); got != 13 {
		t.Fatalf("ring held %d items after feed, want 13", got)
	}
}

// TestInvalidTransitionLeavesStateUntouched attempts illegal edges and
// checks both the error and that the machine did not move.
func TestInvalidTransitionLeavesStateUntouched(t *testing.T) {
	c := New()

	var invalid *domain.ErrInvalidCacheTransition
	if err := c.StartWriting(nil); !errors.As(err, &invalid) {
		t.Fatalf("StartWriting from idle: got %v, want invalid-transition error", err)
	}
	if got := c.State(); got != domain.CacheStateIdle {
		t.Fatalf("state after rejected transition = %v, want idle", got)
	}

	if err := c.StopWriting(); !errors.As(err, &invalid) {
		t.Fatalf("StopWriting from idle: got %v, want invalid-transition error", err)
	}
	if got := c.State(); got != domain.CacheStateIdle {
		t.Fatalf("state after rejected transition = %v, want idle", got)
	}
}

// TestStartWritingRequiresWriter: a nil writer is refused without moving
// the state machine out of caching.
func TestStartWritingRequiresWriter(t *testing.T) {
	c := New()
	if err := c.Start(1.0); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := c.StartWriting(nil); !errors.Is(err, domain.ErrWriterNotAttached) {
		t.Fatalf("StartWriting(nil) = %v, want ErrWriterNotAttached", err)
	}
	if got := c.State(); got != domain.CacheStateCaching {
		t.Fatalf("state after rejected StartWriting = %v, want caching", got)
	}
}

// TestCancelWritingReleasesEverything cancels mid-session and expects the
// ring emptied and every framebuffer returned to the pool.
func TestCancelWritingReleasesEverything(t *testing.T) {
	c := New()
	if err := c.Start(10.0); err != nil {
		t.Fatalf("Start: %v", err)
	}

	pool := domain.NewPool(0)
	for i := 0; i < 10; i++ {
		feed(c, pool, float64(i)/30.0)
	}
	if err := c.CancelWriting(); err != nil {
		t.Fatalf("CancelWriting: %v", err)
	}
	if got := c.Len(); got != 0 {
		t.Fatalf("ring not empty after cancel: %d items", got)
	}
	idle, total := pool.Stats()
	if idle != total {
		t.Fatalf("pool not idle after cancel: idle=%d total=%d", idle, total)
	}
	if got := c.State(); got != domain.CacheStateIdle {
		t.Fatalf("state after cancel = %v, want idle", got)
	}
}
