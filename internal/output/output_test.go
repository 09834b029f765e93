package output_test

import (
	"context"
	"sync"
	"testing"

	"moviepipeline/internal/domain"
	"moviepipeline/internal/domain/ports"
	"moviepipeline/internal/framebuffer"
	"moviepipeline/internal/output"
)

type fakeAdaptor struct {
	pool *domain.PixelBufferPool

	mu       sync.Mutex
	appended []domain.Timestamp
}

func (a *fakeAdaptor) Pool() *domain.PixelBufferPool { return a.pool }

func (a *fakeAdaptor) Append(pb *domain.PixelBuffer, at domain.Timestamp) error {
	a.mu.Lock()
	a.appended = append(a.appended, at)
	a.mu.Unlock()
	return nil
}

func (a *fakeAdaptor) Count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.appended)
}

type fakeWriter struct {
	videoAdaptor *fakeAdaptor

	mu              sync.Mutex
	sessionStarted  *domain.Timestamp
	sessionEnded    *domain.Timestamp
	appendedSamples []*domain.SampleBuffer
	markedFinished  map[domain.MediaKind]bool
	canceled        bool
	errorCB         func(error)
	readinessCB     func()
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{
		videoAdaptor:   &fakeAdaptor{pool: domain.NewPixelBufferPool(1, 0)},
		markedFinished: make(map[domain.MediaKind]bool),
	}
}

func (w *fakeWriter) AddInput(settings ports.WriterInputSettings) (ports.PixelBufferAdaptor, error) {
	if settings.Kind == domain.MediaVideo {
		return w.videoAdaptor, nil
	}
	return nil, nil
}

func (w *fakeWriter) StartWriting() error { return nil }

func (w *fakeWriter) StartSession(at domain.Timestamp) {
	w.mu.Lock()
	w.sessionStarted = &at
	w.mu.Unlock()
}

func (w *fakeWriter) AppendSample(sb *domain.SampleBuffer) error {
	w.mu.Lock()
	w.appendedSamples = append(w.appendedSamples, sb)
	w.mu.Unlock()
	return nil
}

func (w *fakeWriter) IsReadyForMoreMediaData(domain.MediaKind) bool { return true }

func (w *fakeWriter) MarkFinished(kind domain.MediaKind) {
	w.mu.Lock()
	w.markedFinished[kind] = true
	w.mu.Unlock()
}

func (w *fakeWriter) EndSession(at domain.Timestamp) {
	w.mu.Lock()
	w.sessionEnded = &at
	w.mu.Unlock()
}

func (w *fakeWriter) FinishWriting(ctx context.Context, done func(error)) { done(nil) }
func (w *fakeWriter) CancelWriting()                                     { w.mu.Lock(); w.canceled = true; w.mu.Unlock() }
func (w *fakeWriter) Status() domain.WriterState                        { return domain.WriterStateWriting }
func (w *fakeWriter) Err() error                                         { return nil }
func (w *fakeWriter) OnError(fn func(error))                             { w.errorCB = fn }
func (w *fakeWriter) OnReadinessChanged(fn func())                       { w.readinessCB = fn }

func newTestOutput(t *testing.T) (*output.MovieOutput, *fakeWriter, *domain.Pool) {
	t.Helper()
	writer := newFakeWriter()
	fbPool := domain.NewPool(0)
	gen := framebuffer.NewGenerator(fbPool)
	t.Cleanup(gen.Close)

	o := output.New(writer, gen, output.Config{LiveVideo: true})
	if err := o.AttachVideoInput(ports.WriterInputSettings{Kind: domain.MediaVideo, Size: domain.Size{Width: 640, Height: 480}}); err != nil {
		t.Fatalf("AttachVideoInput: %v", err)
	}
	if err := o.StartWriting(); err != nil {
		t.Fatalf("StartWriting: %v", err)
	}
	return o, writer, fbPool
}

func feedFrame(o *output.MovieOutput, pool *domain.Pool, seconds float64) {
	fb := pool.Get(domain.Size{Width: 640, Height: 480})
	ts := domain.NewTimestamp(seconds, 600)
	o.NewFramebufferAvailable(fb, domain.VideoFrameTiming(ts))
}

// TestRecordLiveThenFinish records a short live session and finishes it:
// every frame appended, the recorded duration spans first-to-last frame,
// and the framebuffer pool returns to fully idle.
func TestRecordLiveThenFinish(t *testing.T) {
	o, writer, pool := newTestOutput(t)

	const frames = 90
	for i := 0; i < frames; i++ {
		feedFrame(o, pool, float64(i)/30.0)
	}

	result := o.FinishRecording(context.Background())
	if result.Err != nil {
		t.Fatalf("FinishRecording: %v", result.Err)
	}

	wantDuration := float64(frames-1) / 30.0
	if diff := result.RecordedDuration - wantDuration; diff > 1e-6 || diff < -1e-6 {
		t.Fatalf("recordedDuration = %v, want %v", result.RecordedDuration, wantDuration)
	}
	if got := writer.videoAdaptor.Count(); got != frames {
		t.Fatalf("appended frame count = %d, want %d", got, frames)
	}

	idle, total := pool.Stats()
	if idle != total {
		t.Fatalf("pool not fully idle after finish: idle=%d total=%d", idle, total)
	}
}

// TestContinuousPreRolledRun checks the output side of a pre-rolled
// start: once pre-roll content is handed to MovieOutput as a continuous
// monotonically increasing run, the first and last appended timestamps
// match the fed range exactly and nothing is dropped.
func TestContinuousPreRolledRun(t *testing.T) {
	o, writer, pool := newTestOutput(t)

	const frames = 120
	for i := 0; i < frames; i++ {
		feedFrame(o, pool, float64(i)/30.0)
	}

	result := o.FinishRecording(context.Background())
	if result.Err != nil {
		t.Fatalf("FinishRecording: %v", result.Err)
	}

	appended := writer.videoAdaptor.appended
	if len(appended) != frames {
		t.Fatalf("appended frame count = %d, want %d", len(appended), frames)
	}
	if got := appended[0].Seconds(); got < -1e-6 || got > 1e-6 {
		t.Fatalf("first appended timestamp = %v, want ~0", got)
	}
	want := float64(frames-1) / 30.0
	if got := appended[len(appended)-1].Seconds(); got < want-1e-6 || got > want+1e-6 {
		t.Fatalf("last appended timestamp = %v, want %v", got, want)
	}
}

// TestDuplicateTimestampDropped feeds a duplicate timestamp mid-stream
// and expects it silently dropped with no writer error.
func TestDuplicateTimestampDropped(t *testing.T) {
	o, writer, pool := newTestOutput(t)

	var gotErr error
	o.OnWriterError(func(err error) { gotErr = err })

	for _, sec := range []float64{0, 1.0 / 30.0, 1.0 / 30.0, 2.0 / 30.0} {
		feedFrame(o, pool, sec)
	}

	if got := writer.videoAdaptor.Count(); got != 3 {
		t.Fatalf("appended frame count = %d, want 3", got)
	}
	if gotErr != nil {
		t.Fatalf("expected no writer error, got %v", gotErr)
	}

	_ = o.FinishRecording(context.Background())
}
