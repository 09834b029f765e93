// Package syntheticplayback is a reference ports.PlaybackEngine and
// ports.DisplayRefreshSource: a single-item queue that advances its
// current time on a wall-clock basis, tapping deterministic synthetic
// pixel buffers, standing in for the platform queue player MoviePlayer
// wraps.
package syntheticplayback

import (
	"context"
	"sync"
	"time"

	"moviepipeline/internal/domain"
	"moviepipeline/internal/domain/ports"
)

// Item is a reference ports.PlaybackItem generating a solid-color frame
// sequence over a fixed duration, the playback-side counterpart of
// syntheticasset.Reader.
type Item struct {
	size     domain.Size
	duration domain.Timestamp
	fps      float64
	pool     *domain.PixelBufferPool

	mu         sync.Mutex
	status     ports.PlaybackItemStatus
	lastFrame  int64
	lastOutput domain.Timestamp
}

var _ ports.PlaybackItem = (*Item)(nil)
var _ ports.VideoOutputTap = (*Item)(nil)

// NewItem builds a ready-to-play synthetic item of the given size, frame
// rate, and duration in seconds.
func NewItem(size domain.Size, fps, durationSeconds float64, pool *domain.PixelBufferPool) *Item {
	if fps <= 0 {
		fps = 30
	}
	return &Item{
		size:      size,
		fps:       fps,
		duration:  domain.NewTimestamp(durationSeconds, int32(fps)),
		pool:      pool,
		status:    ports.PlaybackItemStatusReadyToPlay,
		lastFrame: -1,
	}
}

func (it *Item) Status() ports.PlaybackItemStatus  { return it.status }
func (it *Item) Duration() domain.Timestamp        { return it.duration }
func (it *Item) VideoOutput() ports.VideoOutputTap { return it }

// HasNewPixelBuffer reports whether the frame index at 'at' differs from
// the last one copied.
func (it *Item) HasNewPixelBuffer(at domain.Timestamp) bool {
	it.mu.Lock()
	defer it.mu.Unlock()
	frame := int64(at.Seconds() * it.fps)
	return frame != it.lastFrame
}

// CopyPixelBuffer renders the frame at 'at', a solid color cycling by
// frame index, mirroring syntheticasset.Reader.generateFrame.
func (it *Item) CopyPixelBuffer(at domain.Timestamp) (*domain.PixelBuffer, error) {
	it.mu.Lock()
	frame := int64(at.Seconds() * it.fps)
	it.lastFrame = frame
	it.lastOutput = at
	it.mu.Unlock()

	ctx := context.Background()
	pb, err := it.pool.Get(ctx, it.size.Width, it.size.Height, domain.PixelFormatYUV420P)
	if err != nil {
		return nil, err
	}
	y := byte((frame * 4) % 256)
	for i := range pb.Planes[0] {
		pb.Planes[0][i] = y
	}
	for i := range pb.Planes[1] {
		pb.Planes[1][i] = 128
	}
	for i := range pb.Planes[2] {
		pb.Planes[2][i] = 128
	}
	return pb, nil
}

// Engine is a reference ports.PlaybackEngine holding a FIFO queue of
// Items. Its current time advances on each CurrentTime call by the
// wall-clock interval elapsed since the previous call, scaled by rate,
// the same self-driving shape as a real player sampled from vsync.
type Engine struct {
	mu          sync.Mutex
	items       []ports.PlaybackItem
	rate        float64
	status      ports.EngineStatus
	err         error
	currentTime domain.Timestamp
	lastTick    time.Time
	actionAtEnd ports.ActionAtItemEnd

	didPlayToEnd []func(ports.PlaybackItem)
	stalled      []func()
}

var _ ports.PlaybackEngine = (*Engine)(nil)

// New builds an empty Engine; call Insert to queue playable items.
func New() *Engine {
	return &Engine{status: ports.EngineStatusReadyToPlay}
}

func (e *Engine) Items() []ports.PlaybackItem {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]ports.PlaybackItem{}, e.items...)
}

func (e *Engine) CurrentItem() ports.PlaybackItem {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.items) == 0 {
		return nil
	}
	return e.items[0]
}

func (e *Engine) Insert(item ports.PlaybackItem, after ports.PlaybackItem) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if after == nil {
		e.items = append([]ports.PlaybackItem{item}, e.items...)
		return
	}
	for i, it := range e.items {
		if it == after {
			tail := append([]ports.PlaybackItem{item}, e.items[i+1:]...)
			e.items = append(e.items[:i+1:i+1], tail...)
			return
		}
	}
	e.items = append(e.items, item)
}

func (e *Engine) Remove(item ports.PlaybackItem) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, it := range e.items {
		if it == item {
			e.items = append(e.items[:i], e.items[i+1:]...)
			return
		}
	}
}

func (e *Engine) RemoveAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.items = nil
}

// AdvanceToNext drops the current item and resets currentTime, invoking
// the item-did-play-to-end callback the same way reaching natural end
// does.
func (e *Engine) AdvanceToNext() {
	e.mu.Lock()
	if len(e.items) == 0 {
		e.mu.Unlock()
		return
	}
	finished := e.items[0]
	e.items = e.items[1:]
	e.currentTime = domain.Timestamp{}
	e.lastTick = time.Time{}
	cbs := append([]func(ports.PlaybackItem){}, e.didPlayToEnd...)
	e.mu.Unlock()
	for _, cb := range cbs {
		cb(finished)
	}
}

func (e *Engine) ReplaceCurrentItem(item ports.PlaybackItem) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.items) == 0 {
		e.items = []ports.PlaybackItem{item}
		return
	}
	e.items[0] = item
	e.currentTime = domain.Timestamp{}
	e.lastTick = time.Time{}
}

// Seek jumps currentTime to 'to' immediately; this reference engine has no
// seek latency to model.
func (e *Engine) Seek(to domain.Timestamp, toleranceBefore, toleranceAfter domain.Timestamp, completion func(finished bool)) {
	e.mu.Lock()
	e.currentTime = to
	e.lastTick = time.Time{}
	e.mu.Unlock()
	if completion != nil {
		completion(true)
	}
}

func (e *Engine) SetRate(rate float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rate = rate
	e.lastTick = time.Time{}
}

func (e *Engine) Rate() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rate
}

func (e *Engine) Status() ports.EngineStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// CurrentTime advances and returns the current item's play time. Called
// from MoviePlayer's refresh tick, it computes elapsed wall time since the
// previous call and scales it by rate, so playback speed tracks SetRate
// without a dedicated clock goroutine.
func (e *Engine) CurrentTime() domain.Timestamp {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now()
	if e.lastTick.IsZero() || e.rate == 0 || len(e.items) == 0 {
		e.lastTick = now
		return e.currentTime
	}
	elapsed := now.Sub(e.lastTick).Seconds() * e.rate
	e.lastTick = now
	e.currentTime = domain.NewTimestamp(e.currentTime.Seconds()+elapsed, e.currentTime.Timescale)

	item := e.items[0]
	if e.currentTime.Before(item.Duration()) {
		return e.currentTime
	}

	e.currentTime = item.Duration()
	result := e.currentTime
	e.items = e.items[1:]
	e.lastTick = time.Time{}
	switch e.actionAtEnd {
	case ports.ActionAdvance:
		e.currentTime = domain.Timestamp{}
	case ports.ActionPause:
		e.rate = 0
	}
	cbs := append([]func(ports.PlaybackItem){}, e.didPlayToEnd...)
	e.mu.Unlock()
	for _, cb := range cbs {
		cb(item)
	}
	e.mu.Lock()
	return result
}

func (e *Engine) SetActionAtItemEnd(action ports.ActionAtItemEnd) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.actionAtEnd = action
}

func (e *Engine) OnItemDidPlayToEnd(fn func(ports.PlaybackItem)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.didPlayToEnd = append(e.didPlayToEnd, fn)
}

func (e *Engine) OnStalled(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stalled = append(e.stalled, fn)
}

// DisplayRefresh is a reference ports.DisplayRefreshSource driven by a
// time.Ticker rather than a platform vsync callback.
type DisplayRefresh struct {
	Interval time.Duration
}

var _ ports.DisplayRefreshSource = (*DisplayRefresh)(nil)

// NewDisplayRefresh builds a DisplayRefresh ticking at fps times per
// second.
func NewDisplayRefresh(fps float64) *DisplayRefresh {
	if fps <= 0 {
		fps = 60
	}
	return &DisplayRefresh{Interval: time.Duration(float64(time.Second) / fps)}
}

func (d *DisplayRefresh) Run(ctx context.Context, tick func()) {
	ticker := time.NewTicker(d.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick()
		}
	}
}
