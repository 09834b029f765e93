// Package input implements MovieInput: a private reader
// goroutine driving an asset decoder, converting decoded video pixel
// buffers into framebuffers and fanning them out through a graph.Source,
// under exactly one of three pacing disciplines.
package input

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"moviepipeline/internal/domain"
	"moviepipeline/internal/domain/ports"
	"moviepipeline/internal/graph"
	"moviepipeline/internal/metrics"
)

// Config is MovieInput's configuration surface.
type Config struct {
	Live               bool
	WaitUntilReady     bool
	PlayAtActualSpeed  bool
	PlayRate           float64
	MaxFPS             int
	Loop               bool
	UseRealtimeThreads bool
	TranscodingOnly    bool
}

// MovieInput drives one AssetReader on a private goroutine and delivers
// decoded frames downstream under one of three pacing disciplines (live,
// synchronized-to-writer, or unpaced).
type MovieInput struct {
	reader    ports.AssetReader
	generator ports.FramebufferGenerator
	scheduler ports.ThreadScheduler
	cfg       Config
	log       *slog.Logger

	Graph *graph.Source

	mu                sync.Mutex
	cond              *sync.Cond
	readingShouldWait bool
	running           bool
	paused            bool
	currentTime       domain.Timestamp

	audioSink    domain.AudioSampleSink
	videoRawSink domain.VideoSampleSink
	syncWriter   ports.SynchronizedWriter

	onCompletion func(error)
	onProgress   func(fraction float64)

	limiter *rate.Limiter
}

// New builds a MovieInput against reader, converting frames with generator
// and, when cfg.UseRealtimeThreads is set, requesting realtime scheduling
// from scheduler.
func New(reader ports.AssetReader, generator ports.FramebufferGenerator, scheduler ports.ThreadScheduler, cfg Config) *MovieInput {
	if cfg.PlayRate == 0 {
		cfg.PlayRate = 1.0
	}
	m := &MovieInput{
		reader:    reader,
		generator: generator,
		scheduler: scheduler,
		cfg:       cfg,
		log:       slog.Default().With("component", "movieinput"),
		Graph:     &graph.Source{},
	}
	m.cond = sync.NewCond(&m.mu)
	if cfg.MaxFPS > 0 {
		m.limiter = rate.NewLimiter(rate.Limit(cfg.MaxFPS), 1)
	}
	return m
}

func (m *MovieInput) SetAudioEncodingTarget(sink domain.AudioSampleSink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audioSink = sink
}

func (m *MovieInput) SetVideoSampleSink(sink domain.VideoSampleSink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.videoRawSink = sink
}

// SetSynchronizedMovieOutput installs the synchronized-to-writer pacing
// collaborator. Setting a non-nil writer disables wall-clock pacing and
// looping and installs a readiness observer that flips the
// reading-should-wait condition.
func (m *MovieInput) SetSynchronizedMovieOutput(w ports.SynchronizedWriter) {
	m.mu.Lock()
	m.syncWriter = w
	m.mu.Unlock()
	if w != nil {
		w.OnReadinessChanged(m.recomputeWait)
		m.recomputeWait()
	}
}

func (m *MovieInput) recomputeWait() {
	m.mu.Lock()
	w := m.syncWriter
	if w == nil {
		m.mu.Unlock()
		return
	}
	ready := w.IsReadyForMoreMediaData(domain.MediaVideo) || w.IsReadyForMoreMediaData(domain.MediaAudio)
	m.readingShouldWait = !ready
	m.mu.Unlock()
	if ready {
		m.cond.Broadcast()
	}
}

func (m *MovieInput) OnCompletion(fn func(error)) { m.onCompletion = fn }
func (m *MovieInput) OnProgress(fn func(float64)) { m.onProgress = fn }

func (m *MovieInput) CurrentTime() domain.Timestamp {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentTime
}

// synchronized reports whether the synchronized-to-writer pacing mode is
// active: exactly one of {synchronized, live, unpaced} holds at any time.
func (m *MovieInput) synchronized() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.syncWriter != nil
}

// Start begins or resumes the reading loop. Idempotent if already running.
// When isTrimming is true, (atTime, duration) bounds the read to a
// sub-range of the asset; otherwise atTime is a resume point.
func (m *MovieInput) Start(ctx context.Context, atTime domain.Timestamp, duration *domain.Timestamp, isTrimming bool) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = true
	m.currentTime = atTime
	m.mu.Unlock()

	fail := func(err error) error {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
		metrics.InputStateTransitionsTotal.WithLabelValues("start", "error").Inc()
		return fmt.Errorf("%w: %v", domain.ErrCannotCreateAssetReader, err)
	}

	if err := m.reader.Open(ctx, ""); err != nil {
		return fail(err)
	}
	if err := m.reader.AddTrackOutput(ports.TrackOutputSettings{Kind: domain.MediaVideo, Format: domain.PixelFormatBGRA}); err != nil {
		return fail(err)
	}
	m.mu.Lock()
	wantAudio := m.audioSink != nil
	m.mu.Unlock()
	if wantAudio {
		if err := m.reader.AddTrackOutput(ports.TrackOutputSettings{Kind: domain.MediaAudio}); err != nil {
			m.log.Warn("audio track unavailable, continuing video-only", "error", err)
		}
	}
	if isTrimming && duration != nil {
		end := domain.Timestamp{
			Value:     atTime.Value + int64(duration.Seconds()*float64(atTime.Timescale)),
			Timescale: atTime.Timescale,
			Flags:     domain.TimestampValid,
		}
		m.reader.SetTimeRange(atTime, end)
	}
	if err := m.reader.StartReading(ctx); err != nil {
		return fail(err)
	}

	if err := m.scheduler.Configure(m.schedulingHint()); err != nil {
		m.log.Warn("realtime thread policy unavailable, continuing with default scheduling", "error", err)
	}

	metrics.InputStateTransitionsTotal.WithLabelValues("start", "ok").Inc()
	go m.runLoop(ctx, atTime)
	return nil
}

// schedulingHint picks the reader goroutine's scheduling request: a
// realtime time-constraint policy when configured (5ms computation, 5ms
// constraint, non-preemptible), user-initiated for wall-clock playback,
// and default for synchronized encoding.
func (m *MovieInput) schedulingHint() (ports.SchedulingHint, ports.RealtimeConstraint) {
	if m.cfg.UseRealtimeThreads {
		return ports.SchedulingHintRealtime, ports.RealtimeConstraint{
			Period:      0,
			Computation: 0.005,
			Constraint:  0.005,
			Preemptible: false,
		}
	}
	if m.cfg.PlayAtActualSpeed && !m.synchronized() {
		return ports.SchedulingHintUserInitiated, ports.RealtimeConstraint{}
	}
	return ports.SchedulingHintDefault, ports.RealtimeConstraint{}
}

func (m *MovieInput) runLoop(ctx context.Context, start domain.Timestamp) {
	actualStartTime := time.Now()
	actualStartSample := start

	for {
		if ctx.Err() != nil {
			m.finish(ctx.Err())
			return
		}

		if m.synchronized() {
			m.mu.Lock()
			for m.readingShouldWait && !m.paused {
				m.cond.Wait()
			}
			paused := m.paused
			m.mu.Unlock()
			if paused {
				m.mu.Lock()
				for m.paused {
					m.cond.Wait()
				}
				m.mu.Unlock()
			}
		} else {
			m.mu.Lock()
			for m.paused {
				m.cond.Wait()
			}
			m.mu.Unlock()
		}

		videoSB, videoErr := m.reader.CopyNextSampleBuffer(domain.MediaVideo)
		audioSB, audioErr := m.reader.CopyNextSampleBuffer(domain.MediaAudio)

		if videoSB == nil && audioSB == nil {
			if videoErr != nil {
				m.finish(videoErr)
				return
			}
			if audioErr != nil {
				m.finish(audioErr)
				return
			}
			if m.reader.Status() == ports.AssetReaderStatusCanceled {
				m.finish(context.Canceled)
				return
			}
			m.handleEOF()
			if !m.cfg.Loop || m.synchronized() {
				return
			}
			actualStartTime = time.Now()
			actualStartSample = start
			continue
		}

		if m.limiter != nil && m.syncWriter == nil {
			_ = m.limiter.Wait(ctx)
		}

		if m.cfg.PlayAtActualSpeed && !m.synchronized() && videoSB != nil {
			elapsedSample := videoSB.PTS.Sub(actualStartSample) / m.cfg.PlayRate
			target := actualStartTime.Add(time.Duration(elapsedSample * float64(time.Second)))
			delay := time.Until(target)
			if delay < 0 {
				videoSB.Invalidate()
				continue // behind schedule, drop this frame
			}
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				m.finish(ctx.Err())
				return
			}
		}

		if videoSB != nil {
			m.deliverVideo(videoSB)
			m.mu.Lock()
			m.currentTime = videoSB.PTS
			m.mu.Unlock()
		}
		if audioSB != nil {
			m.deliverAudio(audioSB)
		}
		if m.onProgress != nil && m.reader.Duration().IsValid() {
			dur := m.reader.Duration().Seconds()
			if dur > 0 {
				m.onProgress(m.currentTime.Seconds() / dur)
			}
		}
	}
}

func (m *MovieInput) deliverVideo(sb *domain.SampleBuffer) {
	if m.cfg.TranscodingOnly {
		m.mu.Lock()
		sink := m.videoRawSink
		m.mu.Unlock()
		if sink != nil {
			sink.ProcessVideoSampleBuffer(sb)
		}
		return
	}
	fb, err := m.generator.Convert(sb.PixelBuffer, domain.VideoFrameTiming(sb.PTS))
	sb.Invalidate()
	if err != nil {
		m.log.Warn("dropping frame, conversion failed", "error", err)
		return
	}
	m.Graph.Dispatch(fb, domain.VideoFrameTiming(sb.PTS))
}

func (m *MovieInput) deliverAudio(sb *domain.SampleBuffer) {
	m.mu.Lock()
	sink := m.audioSink
	m.mu.Unlock()
	if sink != nil {
		sink.ProcessAudioSampleBuffer(sb)
	}
}

func (m *MovieInput) handleEOF() {
	m.mu.Lock()
	w := m.syncWriter
	m.mu.Unlock()
	if w != nil {
		w.MarkSourceFinished()
	}
	if !m.cfg.Loop || w != nil {
		m.finish(nil)
	}
}

func (m *MovieInput) finish(err error) {
	m.mu.Lock()
	m.running = false
	m.mu.Unlock()
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.InputStateTransitionsTotal.WithLabelValues("finish", outcome).Inc()
	if m.onCompletion != nil {
		m.onCompletion(err)
	}
}

// Pause stops reading and records the current sample time as the next
// resume point.
func (m *MovieInput) Pause() {
	m.mu.Lock()
	m.paused = true
	m.mu.Unlock()
	m.reader.CancelReading()
	metrics.InputStateTransitionsTotal.WithLabelValues("pause", "ok").Inc()
}

// PauseWithoutCancel pauses by flipping the reading-lock flag without
// tearing down the reader goroutine.
func (m *MovieInput) PauseWithoutCancel() {
	m.mu.Lock()
	m.paused = true
	m.mu.Unlock()
}

// Resume signals the condition, waking the reader goroutine.
func (m *MovieInput) Resume() {
	m.mu.Lock()
	m.paused = false
	m.mu.Unlock()
	m.cond.Broadcast()
	metrics.InputStateTransitionsTotal.WithLabelValues("resume", "ok").Inc()
}

// Cancel terminates the reader goroutine. No further callbacks fire except
// completion, delivered with a non-nil error if one was still pending.
func (m *MovieInput) Cancel() {
	m.reader.CancelReading()
	m.mu.Lock()
	m.running = false
	m.paused = false
	m.mu.Unlock()
	m.cond.Broadcast()
	metrics.InputStateTransitionsTotal.WithLabelValues("cancel", "ok").Inc()
}
