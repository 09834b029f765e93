package input

import (
	"context"
	"sync"
	"testing"
	"time"

	"moviepipeline/internal/domain"
	"moviepipeline/internal/domain/ports"
	"moviepipeline/internal/framebuffer"
)

// fakeAssetReader serves frameCount synthetic BGRA video frames at 30fps
// and never any audio, modeling a video-only asset.
type fakeAssetReader struct {
	mu         sync.Mutex
	frameCount int
	next       int
	duration   domain.Timestamp
}

func newFakeAssetReader(frameCount int) *fakeAssetReader {
	return &fakeAssetReader{
		frameCount: frameCount,
		duration:   domain.NewTimestamp(float64(frameCount-1)/30.0, 600),
	}
}

func (r *fakeAssetReader) Open(ctx context.Context, asset string) error { return nil }
func (r *fakeAssetReader) AddTrackOutput(ports.TrackOutputSettings) error { return nil }
func (r *fakeAssetReader) SetTimeRange(start, end domain.Timestamp)     {}
func (r *fakeAssetReader) StartReading(ctx context.Context) error       { return nil }

func (r *fakeAssetReader) CopyNextSampleBuffer(kind domain.MediaKind) (*domain.SampleBuffer, error) {
	if kind == domain.MediaAudio {
		return nil, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.next >= r.frameCount {
		return nil, nil
	}
	i := r.next
	r.next++
	pb := &domain.PixelBuffer{
		Width: 2, Height: 2, Format: domain.PixelFormatBGRA,
		Planes:  [][]byte{make([]byte, 2*2*4)},
		Strides: []int{2 * 4},
	}
	return &domain.SampleBuffer{
		Kind:        domain.MediaVideo,
		PixelBuffer: pb,
		PTS:         domain.NewTimestamp(float64(i)/30.0, 600),
	}, nil
}

func (r *fakeAssetReader) CancelReading()                  {}
func (r *fakeAssetReader) Status() ports.AssetReaderStatus  { return ports.AssetReaderStatusReading }
func (r *fakeAssetReader) Err() error                       { return nil }
func (r *fakeAssetReader) Duration() domain.Timestamp       { return r.duration }

// fakeSyncWriter starts not-ready and flips ready after a short delay,
// exercising the synchronized-to-writer back-pressure wait.
type fakeSyncWriter struct {
	mu             sync.Mutex
	ready          bool
	sourceFinished bool
	onChange       func()
}

func (w *fakeSyncWriter) IsReadyForMoreMediaData(domain.MediaKind) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ready
}

func (w *fakeSyncWriter) OnReadinessChanged(fn func()) {
	w.mu.Lock()
	w.onChange = fn
	w.mu.Unlock()
}

func (w *fakeSyncWriter) MarkSourceFinished() {
	w.mu.Lock()
	w.sourceFinished = true
	w.mu.Unlock()
}

func (w *fakeSyncWriter) setReady(ready bool) {
	w.mu.Lock()
	w.ready = ready
	cb := w.onChange
	w.mu.Unlock()
	if cb != nil {
		cb()
	}
}

type countingSink struct {
	mu    sync.Mutex
	count int
}

func (s *countingSink) NewFramebufferAvailable(fb *domain.Framebuffer, _ domain.TimingStyle) {
	s.mu.Lock()
	s.count++
	s.mu.Unlock()
	fb.Unlock()
}

func (s *countingSink) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// TestSynchronizedTranscodeDeliversEveryFrame: a
// MovieInput synchronized to a writer that is initially not-ready must
// block, then deliver exactly frameCount frames once the writer reports
// ready.
func TestSynchronizedTranscodeDeliversEveryFrame(t *testing.T) {
	const frameCount = 300

	reader := newFakeAssetReader(frameCount)
	gen := framebuffer.NewGenerator(domain.NewPool(0))
	defer gen.Close()

	mi := New(reader, gen, ports.NoopThreadScheduler{}, Config{PlayAtActualSpeed: false})
	sink := &countingSink{}
	mi.Graph.AddTarget(sink)

	writer := &fakeSyncWriter{ready: false}
	mi.SetSynchronizedMovieOutput(writer)

	done := make(chan error, 1)
	mi.OnCompletion(func(err error) { done <- err })

	start := time.Now()
	go func() {
		time.Sleep(30 * time.Millisecond)
		writer.setReady(true)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := mi.Start(ctx, domain.Zero(), nil, false); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("completion error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for completion")
	}

	if elapsed := time.Since(start); elapsed < 25*time.Millisecond {
		t.Fatalf("expected the reader to block on writer readiness for at least ~30ms, elapsed %v", elapsed)
	}
	if got := sink.Count(); got != frameCount {
		t.Fatalf("expected %d delivered frames, got %d", frameCount, got)
	}

	writer.mu.Lock()
	finished := writer.sourceFinished
	writer.mu.Unlock()
	if !finished {
		t.Fatal("expected the writer to be told the source finished at EOF")
	}
}
