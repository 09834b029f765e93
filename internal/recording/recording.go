// Package recording is the stateful orchestrator tying one recording
// session's lifetime together: it owns the current MovieOutput/writer
// pair, swaps MovieCache and MovieOutput in and out of the upstream
// graph.Source's target list, and persists the outcome through
// internal/session. A mutex-guarded manager rather than a one-shot
// usecase struct, because a recording session spans multiple calls
// (start, then a later stop).
package recording

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"moviepipeline/internal/cache"
	"moviepipeline/internal/domain"
	"moviepipeline/internal/domain/ports"
	"moviepipeline/internal/graph"
	"moviepipeline/internal/metrics"
	"moviepipeline/internal/output"
	"moviepipeline/internal/session"
)

// WriterFactory builds a fresh ports.ContainerWriter for one recording
// session, given a filesystem path to mux into.
type WriterFactory func(outputPath string) ports.ContainerWriter

// Config configures every session a Manager starts.
type Config struct {
	CacheDuration         float64 // seconds of pre-roll to keep buffered while idle
	DrainBudget           time.Duration
	VideoSize             domain.Size
	AudioEnabled          bool
	AudioSampleRate       int
	AudioChannels         int
	OutputDir                     string
	LiveVideo                     bool
	WaitUntilReady                bool
	OptimizeForNetworkUse         bool
	DisablePixelBufferAttachments bool
}

// Manager drives MovieCache/MovieOutput through one recording session at
// a time, swapping which of the two receives live framebuffers from
// source.
type Manager struct {
	source    *graph.Source
	cache     *cache.MovieCache
	gen       ports.FramebufferGenerator
	newWriter WriterFactory
	cfg       Config
	sessions  *session.Manager
	log       *slog.Logger

	mu         sync.Mutex
	recording  bool
	id         string
	outputPath string
	startedAt  time.Time
	current    *output.MovieOutput
}

// New builds a Manager and starts the cache in its idle pre-roll state
// (cache.Start) so the ring buffer is already filling by the time the
// first NewRecording call arrives. source is the upstream producer's
// graph (MovieInput.Graph or MoviePlayer.Graph); cache must already be
// registered as source's sole target.
func New(source *graph.Source, c *cache.MovieCache, gen ports.FramebufferGenerator, newWriter WriterFactory, sessions *session.Manager, cfg Config) (*Manager, error) {
	if cfg.DrainBudget <= 0 {
		cfg.DrainBudget = cache.DefaultDrainBudget
	}
	m := &Manager{
		source:    source,
		cache:     c,
		gen:       gen,
		newWriter: newWriter,
		sessions:  sessions,
		cfg:       cfg,
		log:       slog.Default().With("component", "recording"),
	}
	if err := c.Start(cfg.CacheDuration); err != nil {
		return nil, err
	}
	return m, nil
}

var _ interface {
	StartRecording(float64) error
	StopRecording(context.Context) error
	State() domain.WriterState
} = (*Manager)(nil)

// StartRecording begins a new session: builds a fresh writer/MovieOutput
// pair, drains the cache's pre-roll backlog into it, then swaps the
// graph's live target from cache to the new output so in-flight frames
// reach the encoder directly. cacheSeconds, if positive, restarts the
// pre-roll window at a new duration before the next session begins.
func (m *Manager) StartRecording(cacheSeconds float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recording {
		return fmt.Errorf("recording: session already in progress")
	}
	if m.cache.State() != domain.CacheStateCaching {
		return fmt.Errorf("%w: pre-roll cache is %s", domain.ErrCacheNotRunning, m.cache.State())
	}

	id := fmt.Sprintf("rec-%d", time.Now().UnixNano())
	path := fmt.Sprintf("%s/%s.mp4", m.cfg.OutputDir, id)

	writer := m.newWriter(path)
	out := output.New(writer, m.gen, output.Config{
		LiveVideo:                     m.cfg.LiveVideo,
		WaitUntilReady:                m.cfg.WaitUntilReady,
		OptimizeForNetworkUse:         m.cfg.OptimizeForNetworkUse,
		DisablePixelBufferAttachments: m.cfg.DisablePixelBufferAttachments,
	})

	if err := out.AttachVideoInput(ports.WriterInputSettings{Size: m.cfg.VideoSize}); err != nil {
		return fmt.Errorf("recording: attach video input: %w", err)
	}
	if m.cfg.AudioEnabled {
		if err := out.AttachAudioInput(ports.WriterInputSettings{
			SampleRate:   m.cfg.AudioSampleRate,
			ChannelCount: m.cfg.AudioChannels,
		}); err != nil {
			return fmt.Errorf("recording: attach audio input: %w", err)
		}
	}
	if err := out.StartWriting(); err != nil {
		return fmt.Errorf("recording: start writing: %w", err)
	}

	if err := m.cache.StartWriting(out); err != nil {
		out.CancelRecording()
		return fmt.Errorf("recording: start cache drain: %w", err)
	}
	for {
		_, remaining := m.cache.DrainTick(m.cfg.DrainBudget)
		if remaining == 0 {
			break
		}
	}

	m.source.RemoveTarget(m.cache)
	m.source.AddTarget(out)

	m.recording = true
	m.id = id
	m.outputPath = path
	m.startedAt = time.Now()
	m.current = out
	if cacheSeconds > 0 {
		m.cfg.CacheDuration = cacheSeconds
	}
	metrics.RecordingsStartedTotal.Inc()
	m.log.Info("recording started", slog.String("id", id), slog.String("path", path))
	return nil
}

// StopRecording finalizes the current session, restores the cache as the
// live target, and persists the outcome.
func (m *Manager) StopRecording(ctx context.Context) error {
	m.mu.Lock()
	if !m.recording {
		m.mu.Unlock()
		return fmt.Errorf("recording: no session in progress")
	}
	out := m.current
	id := m.id
	path := m.outputPath
	startedAt := m.startedAt
	m.mu.Unlock()

	m.source.RemoveTarget(out)
	m.source.AddTarget(m.cache)

	result := out.FinishRecording(ctx)

	if err := m.cache.StopWriting(); err != nil {
		m.log.Warn("cache stop failed", slog.String("error", err.Error()))
	}
	if err := m.cache.Start(m.cfg.CacheDuration); err != nil {
		m.log.Warn("cache restart failed", slog.String("error", err.Error()))
	}

	m.mu.Lock()
	m.recording = false
	m.current = nil
	m.mu.Unlock()

	metrics.EncodeDuration.Observe(time.Since(startedAt).Seconds())
	if result.Err != nil {
		metrics.RecordingsFailedTotal.Inc()
	}
	if m.sessions != nil {
		m.sessions.RecordFinished(id, path, out.AnchorTime().Seconds(), result.RecordedDuration, out.State(), result.Err)
	}
	return result.Err
}

// State reports the active session's writer state, or WriterStateIdle
// when no session is in progress.
func (m *Manager) State() domain.WriterState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return domain.WriterStateIdle
	}
	return m.current.State()
}
