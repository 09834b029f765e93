// Package output implements MovieOutput: the encoder sink
// accepting framebuffers from the graph or raw sample buffers on the
// direct-passthrough path, enforcing the writer state machine and the
// monotonic-timestamp / session-anchor invariants.
package output

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"moviepipeline/internal/domain"
	"moviepipeline/internal/domain/ports"
	"moviepipeline/internal/metrics"
)

// Config is MovieOutput's configuration surface.
type Config struct {
	LiveVideo                     bool
	WaitUntilReady                bool
	OptimizeForNetworkUse         bool
	DisablePixelBufferAttachments bool
}

// shouldWaitForEncoding implements the encoder-waiting policy: wait
// whenever not in plain live mode, or whenever waiting was explicitly
// forced.
func (c Config) shouldWaitForEncoding() bool {
	return !c.LiveVideo || c.WaitUntilReady
}

// MovieOutput is the encoder-facing sink: it owns the writer state
// machine, converts framebuffers into the writer's native pixel format,
// and buffers audio until the first video frame anchors the session.
type MovieOutput struct {
	writer    ports.ContainerWriter
	generator ports.FramebufferGenerator
	cfg       Config
	log       *slog.Logger

	videoAdaptor ports.PixelBufferAdaptor

	mu               sync.Mutex
	state            domain.WriterState
	lastVideoPTS     *domain.Timestamp
	lastAudioPTS     *domain.Timestamp
	startFrameTime   domain.Timestamp
	lastAppendedTime domain.Timestamp
	sessionStarted   bool
	videoAnchorKnown bool
	videoFinished    bool
	audioFinished    bool
	attachmentsSet   bool
	audioQueue       []*domain.SampleBuffer

	errorSubs []func(error)
	dropSubs  []func(domain.DropReason)

	stopOnce sync.Once
	stopCh   chan struct{}
}

var (
	_ domain.FramebufferSink   = (*MovieOutput)(nil)
	_ domain.VideoSampleSink   = (*MovieOutput)(nil)
	_ domain.AudioSampleSink   = (*MovieOutput)(nil)
	_ ports.SynchronizedWriter = (*MovieOutput)(nil)
)

// New builds a MovieOutput around writer, converting framebuffers with
// generator per cfg.
func New(writer ports.ContainerWriter, generator ports.FramebufferGenerator, cfg Config) *MovieOutput {
	o := &MovieOutput{
		writer:    writer,
		generator: generator,
		cfg:       cfg,
		log:       slog.Default().With("component", "movieoutput"),
		state:     domain.WriterStateUnknown,
		stopCh:    make(chan struct{}),
	}
	writer.OnError(o.notifyError)
	o.mu.Lock()
	o.setStateLocked(domain.WriterStateIdle)
	o.mu.Unlock()
	return o
}

// setStateLocked records the transition and assigns the new state. Caller
// must hold o.mu and have already validated the edge.
func (o *MovieOutput) setStateLocked(to domain.WriterState) {
	metrics.WriterStateTransitionsTotal.WithLabelValues(o.state.String(), to.String()).Inc()
	o.state = to
}

// AttachVideoInput registers the video track and its pixel-buffer
// adaptor, required before StartWriting.
func (o *MovieOutput) AttachVideoInput(settings ports.WriterInputSettings) error {
	settings.Kind = domain.MediaVideo
	adaptor, err := o.writer.AddInput(settings)
	if err != nil {
		return err
	}
	o.mu.Lock()
	o.videoAdaptor = adaptor
	o.mu.Unlock()
	return nil
}

// AttachAudioInput registers the audio track. Must happen before writing
// begins; afterwards it fails with domain.ErrAudioTrackActivation.
func (o *MovieOutput) AttachAudioInput(settings ports.WriterInputSettings) error {
	o.mu.Lock()
	state := o.state
	o.mu.Unlock()
	if state != domain.WriterStateIdle && state != domain.WriterStateCaching {
		return domain.ErrAudioTrackActivation
	}
	settings.Kind = domain.MediaAudio
	_, err := o.writer.AddInput(settings)
	return err
}

// StartCaching marks the writer as accumulating pre-roll content, the
// optional node MovieCache drives before a real writing session begins.
func (o *MovieOutput) StartCaching() error {
	return o.transition(domain.WriterStateCaching)
}

// StartWriting transitions into the writing state. Requires a pixel-buffer
// pool to be available on the video adaptor (domain.ErrPixelBufferPoolNil
// otherwise) and the underlying writer to accept startWriting.
func (o *MovieOutput) StartWriting() error {
	o.mu.Lock()
	if !domain.CanTransitionWriter(o.state, domain.WriterStateWriting) {
		from := o.state
		o.mu.Unlock()
		return &domain.ErrInvalidWriterTransition{From: from, To: domain.WriterStateWriting}
	}
	adaptor := o.videoAdaptor
	o.mu.Unlock()

	if adaptor == nil || adaptor.Pool() == nil {
		return domain.ErrPixelBufferPoolNil
	}
	if err := o.writer.StartWriting(); err != nil {
		wrapped := fmt.Errorf("%w: %v", domain.ErrStartWritingFailure, err)
		o.notifyError(wrapped)
		return wrapped
	}

	o.mu.Lock()
	o.setStateLocked(domain.WriterStateWriting)
	o.mu.Unlock()
	return nil
}

func (o *MovieOutput) transition(to domain.WriterState) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !domain.CanTransitionWriter(o.state, to) {
		return &domain.ErrInvalidWriterTransition{From: o.state, To: to}
	}
	o.setStateLocked(to)
	return nil
}

func (o *MovieOutput) State() domain.WriterState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// OnWriterError subscribes to writer error changes.
func (o *MovieOutput) OnWriterError(fn func(error)) {
	o.mu.Lock()
	o.errorSubs = append(o.errorSubs, fn)
	o.mu.Unlock()
}

// OnDrop subscribes to recoverable frame-drop events, for metrics.
func (o *MovieOutput) OnDrop(fn func(domain.DropReason)) {
	o.mu.Lock()
	o.dropSubs = append(o.dropSubs, fn)
	o.mu.Unlock()
}

func (o *MovieOutput) notifyError(err error) {
	o.mu.Lock()
	subs := append([]func(error){}, o.errorSubs...)
	o.mu.Unlock()
	for _, fn := range subs {
		fn(err)
	}
}

func (o *MovieOutput) notifyDrop(reason domain.DropReason) {
	o.mu.Lock()
	subs := append([]func(domain.DropReason){}, o.dropSubs...)
	o.mu.Unlock()
	for _, fn := range subs {
		fn(reason)
	}
	metrics.FramesDroppedTotal.WithLabelValues("movieoutput", reason.String()).Inc()
	o.log.Debug("dropped frame", "reason", reason.String())
}

// IsReadyForMoreMediaData satisfies ports.SynchronizedWriter, forwarding
// to the underlying writer.
func (o *MovieOutput) IsReadyForMoreMediaData(kind domain.MediaKind) bool {
	return o.writer.IsReadyForMoreMediaData(kind)
}

// OnReadinessChanged satisfies ports.SynchronizedWriter, forwarding to the
// underlying writer's readiness observer.
func (o *MovieOutput) OnReadinessChanged(fn func()) {
	o.writer.OnReadinessChanged(fn)
}

// MarkSourceFinished satisfies ports.SynchronizedWriter: the upstream
// reader hit end of stream, so readiness waits must stop blocking. The
// flags are read at the next processing turn; callers still finalize via
// FinishRecording.
func (o *MovieOutput) MarkSourceFinished() {
	o.mu.Lock()
	o.videoFinished = true
	o.audioFinished = true
	o.mu.Unlock()
}

// AnchorTime reports the session anchor, the first appended video frame's
// timestamp, or a zero timestamp if no frame was appended yet.
func (o *MovieOutput) AnchorTime() domain.Timestamp {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.startFrameTime
}

// waitForReady polls every 100ms until kind is ready, the session is
// finished, or the output is stopped. Returns false if waiting ended
// without readiness.
func (o *MovieOutput) waitForReady(kind domain.MediaKind) bool {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		if o.writer.IsReadyForMoreMediaData(kind) {
			return true
		}
		o.mu.Lock()
		finished := o.videoFinished && o.audioFinished
		o.mu.Unlock()
		if finished {
			return false
		}
		select {
		case <-ticker.C:
		case <-o.stopCh:
			return false
		}
	}
}

// NewFramebufferAvailable is the framebuffer sink API. fb arrives with
// one lock count owned by the caller; this method always balances it with
// exactly one Unlock.
func (o *MovieOutput) NewFramebufferAvailable(fb *domain.Framebuffer, timing domain.TimingStyle) {
	defer fb.Unlock()

	o.mu.Lock()
	if o.state != domain.WriterStateWriting {
		o.mu.Unlock()
		o.notifyDrop(domain.DropReasonWriterNotWriting)
		return
	}
	ts := timing.Timestamp
	if o.lastVideoPTS != nil {
		switch {
		case ts.Equal(*o.lastVideoPTS):
			o.mu.Unlock()
			o.notifyDrop(domain.DropReasonDuplicateTimestamp)
			return
		case !ts.After(*o.lastVideoPTS):
			o.mu.Unlock()
			o.notifyDrop(domain.DropReasonNonMonotonicTimestamp)
			return
		}
	}
	adaptor := o.videoAdaptor
	o.mu.Unlock()

	if !o.writer.IsReadyForMoreMediaData(domain.MediaVideo) {
		if !o.cfg.shouldWaitForEncoding() {
			o.notifyDrop(domain.DropReasonEncoderNotReady)
			return
		}
		if !o.waitForReady(domain.MediaVideo) {
			o.notifyDrop(domain.DropReasonEncoderNotReady)
			return
		}
	}

	pb, err := o.generator.Invert(fb, domain.PixelFormatBGRA)
	if err != nil {
		o.log.Warn("dropping frame, invert failed", "error", err)
		o.notifyDrop(domain.DropReasonEncoderNotReady)
		return
	}
	o.applyAttachments(pb)

	o.beginSessionIfNeeded(ts)

	if err := adaptor.Append(pb, ts); err != nil {
		o.log.Warn("dropping frame, append failed", "error", err)
		return
	}

	o.mu.Lock()
	o.lastVideoPTS = &ts
	o.lastAppendedTime = ts
	o.mu.Unlock()
}

// ProcessVideoSampleBuffer is the raw sample-buffer sink API.
func (o *MovieOutput) ProcessVideoSampleBuffer(sb *domain.SampleBuffer) {
	defer sb.Invalidate()

	o.mu.Lock()
	if o.state != domain.WriterStateWriting {
		o.mu.Unlock()
		o.notifyDrop(domain.DropReasonWriterNotWriting)
		return
	}
	ts := sb.PTS
	if o.lastVideoPTS != nil && !ts.After(*o.lastVideoPTS) {
		o.mu.Unlock()
		if ts.Equal(*o.lastVideoPTS) {
			o.notifyDrop(domain.DropReasonDuplicateTimestamp)
		} else {
			o.notifyDrop(domain.DropReasonNonMonotonicTimestamp)
		}
		return
	}
	o.mu.Unlock()

	if !o.writer.IsReadyForMoreMediaData(domain.MediaVideo) {
		if !o.cfg.shouldWaitForEncoding() || !o.waitForReady(domain.MediaVideo) {
			o.notifyDrop(domain.DropReasonEncoderNotReady)
			return
		}
	}

	o.beginSessionIfNeeded(ts)

	if err := o.writer.AppendSample(sb); err != nil {
		o.log.Warn("dropping sample, append failed", "error", err)
		return
	}

	o.mu.Lock()
	o.lastVideoPTS = &ts
	o.lastAppendedTime = ts
	o.mu.Unlock()
}

// applyAttachments stamps color metadata on the first pixel buffer of the
// session: ITU-R 709-2 primaries and transfer with an ITU-R 601-4 YCbCr
// matrix, marked should-propagate. Suppressed by
// DisablePixelBufferAttachments, which works around a brightness flicker
// in the first second of output on some devices.
func (o *MovieOutput) applyAttachments(pb *domain.PixelBuffer) {
	if o.cfg.DisablePixelBufferAttachments {
		return
	}
	o.mu.Lock()
	if o.attachmentsSet {
		o.mu.Unlock()
		return
	}
	o.attachmentsSet = true
	o.mu.Unlock()
	pb.Attachments = map[string]string{
		domain.AttachmentColorPrimaries:   "ITU_R_709_2",
		domain.AttachmentYCbCrMatrix:      "ITU_R_601_4",
		domain.AttachmentTransferFunction: "ITU_R_709_2",
		domain.AttachmentPropagation:      "should-propagate",
	}
}

func (o *MovieOutput) beginSessionIfNeeded(firstVideoPTS domain.Timestamp) {
	o.mu.Lock()
	if o.sessionStarted {
		o.mu.Unlock()
		return
	}
	o.sessionStarted = true
	o.videoAnchorKnown = true
	o.startFrameTime = firstVideoPTS
	queued := o.audioQueue
	o.audioQueue = nil
	o.mu.Unlock()

	o.writer.StartSession(firstVideoPTS)
	for _, sb := range queued {
		o.appendAudio(sb, firstVideoPTS)
	}
}

// ProcessAudioSampleBuffer queues audio until the video anchor is known,
// then appends, dropping anything that precedes the anchor so audio
// recorded before the first video frame is edited out.
func (o *MovieOutput) ProcessAudioSampleBuffer(sb *domain.SampleBuffer) {
	o.mu.Lock()
	if o.state != domain.WriterStateWriting {
		o.mu.Unlock()
		o.notifyDrop(domain.DropReasonWriterNotWriting)
		return
	}
	if !o.videoAnchorKnown {
		o.audioQueue = append(o.audioQueue, sb)
		o.mu.Unlock()
		return
	}
	anchor := o.startFrameTime
	o.mu.Unlock()
	o.appendAudio(sb, anchor)
}

func (o *MovieOutput) appendAudio(sb *domain.SampleBuffer, anchor domain.Timestamp) {
	if sb.PTS.Before(anchor) {
		o.notifyDrop(domain.DropReasonAudioBeforeVideoAnchor)
		return
	}
	o.mu.Lock()
	if o.lastAudioPTS != nil && !sb.PTS.After(*o.lastAudioPTS) {
		reason := domain.DropReasonNonMonotonicTimestamp
		if sb.PTS.Equal(*o.lastAudioPTS) {
			reason = domain.DropReasonDuplicateTimestamp
		}
		o.mu.Unlock()
		o.notifyDrop(reason)
		return
	}
	o.mu.Unlock()

	if !o.writer.IsReadyForMoreMediaData(domain.MediaAudio) {
		if !o.cfg.shouldWaitForEncoding() || !o.waitForReady(domain.MediaAudio) {
			o.notifyDrop(domain.DropReasonEncoderNotReady)
			return
		}
	}

	if err := o.writer.AppendSample(sb); err != nil {
		o.log.Warn("dropping audio sample, append failed", "error", err)
		return
	}
	pts := sb.PTS
	o.mu.Lock()
	o.lastAudioPTS = &pts
	o.mu.Unlock()
}

// Result carries FinishRecording's outcome.
type Result struct {
	RecordedDuration float64
	Err              error
}

// FinishRecording marks inputs finished, closes the session, and awaits
// the writer's completion.
func (o *MovieOutput) FinishRecording(ctx context.Context) Result {
	o.stopOnce.Do(func() { close(o.stopCh) })

	o.mu.Lock()
	o.videoFinished = true
	o.audioFinished = true
	sessionStarted := o.sessionStarted
	lastAppended := o.lastAppendedTime
	start := o.startFrameTime
	o.mu.Unlock()

	o.writer.MarkFinished(domain.MediaVideo)
	o.writer.MarkFinished(domain.MediaAudio)

	if sessionStarted {
		o.writer.EndSession(lastAppended)
	}

	done := make(chan error, 1)
	o.writer.FinishWriting(ctx, func(err error) { done <- err })

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}

	if err == nil {
		o.mu.Lock()
		if domain.CanTransitionWriter(o.state, domain.WriterStateFinished) {
			o.setStateLocked(domain.WriterStateFinished)
		}
		o.mu.Unlock()
	}

	duration := 0.0
	if sessionStarted {
		duration = lastAppended.Sub(start)
	}
	return Result{RecordedDuration: duration, Err: err}
}

// CancelRecording aborts the session, discarding any partial output.
func (o *MovieOutput) CancelRecording() {
	o.stopOnce.Do(func() { close(o.stopCh) })

	o.mu.Lock()
	o.videoFinished = true
	o.audioFinished = true
	o.mu.Unlock()

	o.writer.CancelWriting()

	o.mu.Lock()
	if domain.CanTransitionWriter(o.state, domain.WriterStateCanceled) {
		o.setStateLocked(domain.WriterStateCanceled)
	}
	o.mu.Unlock()
}
