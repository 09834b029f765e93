// Package player implements MoviePlayer: a wrapper around a
// system playback engine that taps decoded pixel buffers at every display
// refresh, converts them to framebuffers, fans them out, and drives a
// sorted time-observer list.
package player

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"moviepipeline/internal/domain"
	"moviepipeline/internal/domain/ports"
	"moviepipeline/internal/graph"
	"moviepipeline/internal/metrics"
)

// LoopDiscipline selects how MoviePlayer handles reaching the end of its
// active range. LoopDisciplineLooper models a platform looper object this
// module has no collaborator for and is an explicit stub: only seek-on-end
// looping is implemented.
type LoopDiscipline int

const (
	LoopDisciplineSeekOnEnd LoopDiscipline = iota
	LoopDisciplineLooper
)

// TimeRange is an inclusive-start, exclusive-end play range used by both
// the active-range bookkeeping and loop boundaries.
type TimeRange struct {
	Start domain.Timestamp
	End   domain.Timestamp
}

// MoviePlayer wraps a ports.PlaybackEngine, sampling its current item's
// video output on every display refresh and publishing framebuffers
// through Graph.
type MoviePlayer struct {
	engine    ports.PlaybackEngine
	generator ports.FramebufferGenerator
	refresh   ports.DisplayRefreshSource
	log       *slog.Logger

	Graph *graph.Source

	mu             sync.Mutex
	isPlaying      bool
	isProcessing   bool
	cleanedUp      bool
	lastPlayerItem ports.PlaybackItem

	actualStart, actualEnd domain.Timestamp
	loopEnabled            bool
	loopRange              TimeRange
	loopDiscipline         LoopDiscipline
	endObserverFired       bool

	pendingQueue []func()
	justEnded    bool

	nextSeeking  *domain.SeekingInfo
	seekInFlight bool

	observers *domain.ObserverList
}

// New builds a MoviePlayer wrapping engine, converting tapped pixel
// buffers with generator, and polling refresh at vsync once RunDisplayLoop
// is started.
func New(engine ports.PlaybackEngine, generator ports.FramebufferGenerator, refresh ports.DisplayRefreshSource) *MoviePlayer {
	p := &MoviePlayer{
		engine:    engine,
		generator: generator,
		refresh:   refresh,
		log:       slog.Default().With("component", "movieplayer"),
		Graph:     &graph.Source{},
		observers: domain.NewObserverList(),
	}
	engine.OnItemDidPlayToEnd(p.handleDidPlayToEnd)
	return p
}

// RunDisplayLoop blocks, polling the display refresh source, until ctx is
// done. Call Cleanup before letting the owning ctx's cancellation race
// against a concurrent destructor.
func (p *MoviePlayer) RunDisplayLoop(ctx context.Context) {
	p.refresh.Run(ctx, p.onRefreshTick)
}

// --- Item management ---

func (p *MoviePlayer) deferredOrImmediate(fn func()) {
	p.mu.Lock()
	if p.justEnded && len(p.engine.Items()) <= 1 && p.loopDiscipline != LoopDisciplineLooper {
		p.pendingQueue = append(p.pendingQueue, fn)
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	fn()
}

// Insert queues item after after (or at the head when after is nil). If
// the current item just played to end and it was the queue's only item,
// the insert is deferred until the did-play-to-end handler drains it, or
// the engine would strip it from the queue.
func (p *MoviePlayer) Insert(item ports.PlaybackItem, after ports.PlaybackItem) {
	p.deferredOrImmediate(func() { p.engine.Insert(item, after) })
}

// ReplaceCurrentItem swaps the engine's current item for item, honoring
// the pending-insert rule.
func (p *MoviePlayer) ReplaceCurrentItem(item ports.PlaybackItem) {
	p.deferredOrImmediate(func() { p.engine.ReplaceCurrentItem(item) })
}

func (p *MoviePlayer) Remove(item ports.PlaybackItem) { p.engine.Remove(item) }
func (p *MoviePlayer) RemoveAllItems()                { p.engine.RemoveAll() }
func (p *MoviePlayer) AdvanceToNextItem()             { p.engine.AdvanceToNext() }

// ReplayLastItem re-queues the item that most recently played to end.
func (p *MoviePlayer) ReplayLastItem() {
	p.mu.Lock()
	item := p.lastPlayerItem
	p.mu.Unlock()
	if item != nil {
		p.Insert(item, nil)
	}
}

// --- Transport ---

// Start begins a play session over [actualStart, actualEnd), rebuilding
// the active time-observer queue and resetting per-session bookkeeping.
func (p *MoviePlayer) Start(actualStart, actualEnd domain.Timestamp) {
	p.mu.Lock()
	p.actualStart = actualStart
	p.actualEnd = actualEnd
	p.isPlaying = true
	p.endObserverFired = false
	p.observers.RebuildActive(actualStart, actualEnd)
	p.mu.Unlock()
	p.engine.SetRate(1.0)
	metrics.PlayerStateTransitionsTotal.WithLabelValues("start").Inc()
}

func (p *MoviePlayer) Play() {
	p.mu.Lock()
	p.isPlaying = true
	p.mu.Unlock()
	p.engine.SetRate(1.0)
	metrics.PlayerStateTransitionsTotal.WithLabelValues("play").Inc()
}

func (p *MoviePlayer) Pause() {
	p.mu.Lock()
	p.isPlaying = false
	p.mu.Unlock()
	p.engine.SetRate(0)
	metrics.PlayerStateTransitionsTotal.WithLabelValues("pause").Inc()
}

func (p *MoviePlayer) Resume() { p.Play() }

func (p *MoviePlayer) Stop() {
	p.mu.Lock()
	p.isPlaying = false
	p.mu.Unlock()
	p.engine.SetRate(0)
	p.engine.RemoveAll()
	metrics.PlayerStateTransitionsTotal.WithLabelValues("stop").Inc()
}

func (p *MoviePlayer) PlayImmediately(rate float64) {
	p.mu.Lock()
	p.isPlaying = true
	p.mu.Unlock()
	p.engine.SetRate(rate)
}

// SetLoopEnabled toggles seek-on-end looping over rng. Disabling loop
// leaves the current active range untouched.
func (p *MoviePlayer) SetLoopEnabled(enabled bool, rng TimeRange) {
	p.mu.Lock()
	p.loopEnabled = enabled
	p.loopRange = rng
	if enabled {
		p.actualStart, p.actualEnd = rng.Start, rng.End
		p.observers.RebuildActive(rng.Start, rng.End)
	}
	p.mu.Unlock()
}

// SetLoopDiscipline selects the end-of-range behavior. The looper
// discipline needs a platform looper collaborator this module does not
// model, so requesting it is rejected rather than silently ignored.
func (p *MoviePlayer) SetLoopDiscipline(d LoopDiscipline) error {
	if d == LoopDisciplineLooper {
		return domain.ErrLooperUnsupported
	}
	p.mu.Lock()
	p.loopDiscipline = d
	p.mu.Unlock()
	return nil
}

// --- Seeking ---

// SeekToTime records a seek request, serializing it against any seek
// already in flight: at most one seek is outstanding, and a newer request
// supersedes the stored next one. Targets before zero or past the current
// item's known duration are rejected with domain.ErrInvalidSeek.
func (p *MoviePlayer) SeekToTime(t domain.Timestamp, shouldPlayAfterSeeking bool, toleranceBefore, toleranceAfter domain.Timestamp) error {
	if !t.IsValid() || t.Seconds() < 0 {
		return domain.ErrInvalidSeek
	}
	if item := p.engine.CurrentItem(); item != nil {
		if d := item.Duration(); d.IsValid() && t.After(d) {
			return fmt.Errorf("%w: target %s past item duration %s", domain.ErrInvalidSeek, t, d)
		}
	}

	info := domain.SeekingInfo{
		TargetTime:          t,
		ToleranceBefore:     toleranceBefore,
		ToleranceAfter:      toleranceAfter,
		ShouldPlayAfterSeek: shouldPlayAfterSeeking,
	}
	p.mu.Lock()
	p.nextSeeking = &info
	inFlight := p.seekInFlight
	ready := p.engine.Status() == ports.EngineStatusReadyToPlay
	p.mu.Unlock()

	if !inFlight && ready {
		p.issueSeek()
	}
	metrics.PlayerStateTransitionsTotal.WithLabelValues("seek").Inc()
	return nil
}

func (p *MoviePlayer) issueSeek() {
	p.mu.Lock()
	info := p.nextSeeking
	if info == nil {
		p.mu.Unlock()
		return
	}
	p.seekInFlight = true
	p.mu.Unlock()

	p.engine.Seek(info.TargetTime, info.ToleranceBefore, info.ToleranceAfter, func(finished bool) {
		p.mu.Lock()
		completed := *info
		p.seekInFlight = false
		supersede := p.nextSeeking != nil && !p.nextSeeking.Equal(completed)
		if !supersede {
			p.nextSeeking = nil
		}
		p.observers.RebuildActive(p.actualStart, p.actualEnd)
		p.mu.Unlock()

		if supersede {
			p.issueSeek()
			return
		}
		if finished && completed.ShouldPlayAfterSeek {
			p.Resume()
		}
	})
}

// --- Time observers ---

func (p *MoviePlayer) AddTimeObserver(at domain.Timestamp, cb func()) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.observers.Add(at, cb)
}

func (p *MoviePlayer) RemoveTimeObserver(id int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observers.Remove(id)
}

func (p *MoviePlayer) RemoveAllTimeObservers() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observers.RemoveAll()
}

// PendingSeek reports the seek request queued to run next, or nil if none
// is pending. Exposed for status reporting and tests.
func (p *MoviePlayer) PendingSeek() *domain.SeekingInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nextSeeking
}

// Cleanup removes all subscriptions. Must be called before destruction.
func (p *MoviePlayer) Cleanup() {
	p.mu.Lock()
	p.cleanedUp = true
	p.mu.Unlock()
	p.RemoveAllTimeObservers()
}

func (p *MoviePlayer) firePendingObservers(current domain.Timestamp) {
	p.mu.Lock()
	due := p.observers.PopDue(current)
	p.mu.Unlock()
	for _, o := range due {
		o.Callback()
	}
}

// --- Did-play-to-end / recovery ---

func (p *MoviePlayer) handleDidPlayToEnd(item ports.PlaybackItem) {
	p.mu.Lock()
	if p.cleanedUp {
		p.mu.Unlock()
		return
	}
	p.justEnded = true
	p.lastPlayerItem = item
	loop := p.loopEnabled
	playing := p.isPlaying
	p.mu.Unlock()

	if loop && playing {
		p.Start(p.loopRange.Start, p.loopRange.End)
	}

	p.mu.Lock()
	queued := p.pendingQueue
	p.pendingQueue = nil
	p.justEnded = false
	p.mu.Unlock()
	for _, fn := range queued {
		fn()
	}
}

// onRefreshTick runs once per vertical-blank tick: recover an emptied
// queue, check item readiness, tap the video output, convert and fan out
// the frame, then fire due time observers.
func (p *MoviePlayer) onRefreshTick() {
	p.mu.Lock()
	if p.cleanedUp {
		p.mu.Unlock()
		return
	}

	if len(p.engine.Items()) == 0 && p.isPlaying && p.lastPlayerItem != nil {
		p.engine.Insert(p.lastPlayerItem, nil)
	}

	current := p.engine.CurrentItem()
	if current == nil || current.Status() != ports.PlaybackItemStatusReadyToPlay {
		p.mu.Unlock()
		return
	}

	playTime := p.engine.CurrentTime()
	if playTime.Seconds() <= 0 {
		p.mu.Unlock()
		return
	}

	tap := current.VideoOutput()
	if !tap.HasNewPixelBuffer(playTime) {
		p.mu.Unlock()
		p.firePendingObservers(playTime)
		return
	}

	if p.isProcessing {
		p.mu.Unlock()
		return
	}
	p.isProcessing = true
	loopEnabled := p.loopEnabled
	start, end := p.actualStart, p.actualEnd
	discipline := p.loopDiscipline
	endFired := p.endObserverFired
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.isProcessing = false
		p.mu.Unlock()
	}()

	if loopEnabled && (playTime.Before(start) || !playTime.Before(end)) {
		p.firePendingObservers(playTime)
		return
	}

	pb, err := tap.CopyPixelBuffer(playTime)
	if err == nil && pb != nil {
		fb, convErr := p.generator.Convert(pb, domain.VideoFrameTiming(playTime))
		pb.Release()
		if convErr != nil {
			p.log.Warn("dropping tapped frame, conversion failed", "error", convErr)
		} else {
			fb.SetUserInfo("sourceItem", current)
			p.Graph.Dispatch(fb, domain.VideoFrameTiming(playTime))
		}
	}

	p.firePendingObservers(playTime)

	if discipline == LoopDisciplineSeekOnEnd && !endFired && !playTime.Before(end) {
		p.mu.Lock()
		p.endObserverFired = true
		p.mu.Unlock()
		go p.handleDidPlayToEnd(current)
	}
}
