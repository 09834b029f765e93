// Package cache implements MovieCache: a time-bounded
// ring buffer that pre-rolls framebuffers and sample buffers so a later
// "start writing" decision can rewind the recording by cacheBuffersDuration
// seconds.
package cache

import (
	"sync"
	"time"

	"moviepipeline/internal/domain"
	"moviepipeline/internal/metrics"
	"moviepipeline/internal/output"
)

// DefaultDrainBudget is the per-cycle time budget DrainTick respects by
// default, roughly one display frame's worth of work at 40Hz so draining
// a large backlog never starves the display loop.
const DefaultDrainBudget = time.Second / 40

type itemKind int

const (
	itemFramebuffer itemKind = iota
	itemVideoSample
	itemAudioSample
)

type ringItem struct {
	kind      itemKind
	fb        *domain.Framebuffer
	timing    domain.TimingStyle
	sb        *domain.SampleBuffer
	timestamp domain.Timestamp
}

// MovieCache accumulates incoming content while in the caching state and
// drains it into a MovieOutput, in FIFO order, once startWriting attaches
// one.
type MovieCache struct {
	mu       sync.Mutex
	state    domain.CacheState
	duration float64
	maxItems int

	items   []ringItem
	pending []ringItem
	writer  *output.MovieOutput

	dropSubs []func(domain.DropReason)
}

var (
	_ domain.FramebufferSink = (*MovieCache)(nil)
	_ domain.VideoSampleSink = (*MovieCache)(nil)
	_ domain.AudioSampleSink = (*MovieCache)(nil)
)

// New builds an idle MovieCache.
func New() *MovieCache {
	c := &MovieCache{state: domain.CacheStateUnknown}
	c.state = domain.CacheStateIdle
	return c
}

func (c *MovieCache) transitionLocked(to domain.CacheState) error {
	if !domain.CanTransitionCache(c.state, to) {
		return &domain.ErrInvalidCacheTransition{From: c.state, To: to}
	}
	metrics.CacheStateTransitionsTotal.WithLabelValues(c.state.String(), to.String()).Inc()
	c.state = to
	return nil
}

func (c *MovieCache) State() domain.CacheState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SetMaxBufferedItems bounds the ring by item count in addition to the
// time window; 0 (the default) disables the count threshold. Platforms
// whose capture stack recycles a fixed number of camera buffers set this
// just under that limit.
func (c *MovieCache) SetMaxBufferedItems(n int) {
	c.mu.Lock()
	c.maxItems = n
	c.mu.Unlock()
}

// OnDrop subscribes to cache-eviction drop events, for metrics.
func (c *MovieCache) OnDrop(fn func(domain.DropReason)) {
	c.mu.Lock()
	c.dropSubs = append(c.dropSubs, fn)
	c.mu.Unlock()
}

func (c *MovieCache) notifyDrop(reason domain.DropReason) {
	c.mu.Lock()
	subs := append([]func(domain.DropReason){}, c.dropSubs...)
	c.mu.Unlock()
	for _, fn := range subs {
		fn(reason)
	}
	metrics.FramesDroppedTotal.WithLabelValues("moviecache", reason.String()).Inc()
}

// Start transitions idle->caching, beginning pre-roll accumulation over a
// rolling window of the given duration in seconds.
func (c *MovieCache) Start(durationSeconds float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.transitionLocked(domain.CacheStateCaching); err != nil {
		return err
	}
	c.duration = durationSeconds
	return nil
}

// appendLocked enqueues it and evicts from the front until the ring fits
// both the time window and the optional count threshold. Caller holds
// c.mu; returns how many items were evicted so the caller can notify drop
// subscribers outside the lock.
func (c *MovieCache) appendLocked(it ringItem) (evicted int) {
	c.items = append(c.items, it)
	newest := c.items[len(c.items)-1].timestamp
	for len(c.items) > 0 {
		front := c.items[0]
		overCount := c.maxItems > 0 && len(c.items) > c.maxItems
		if newest.Sub(front.timestamp) <= c.duration && !overCount {
			break
		}
		c.items = c.items[1:]
		c.releaseItem(front)
		evicted++
	}
	return evicted
}

func (c *MovieCache) releaseItem(it ringItem) {
	switch it.kind {
	case itemFramebuffer:
		if it.fb != nil {
			it.fb.Unlock()
		}
	default:
		if it.sb != nil {
			it.sb.Invalidate()
		}
	}
}

// NewFramebufferAvailable is the framebuffer sink API: enqueues fb while
// caching, or releases it immediately otherwise. Always balances fb's
// caller-owned lock count with exactly one Unlock, eventually.
func (c *MovieCache) NewFramebufferAvailable(fb *domain.Framebuffer, timing domain.TimingStyle) {
	c.mu.Lock()
	if c.state != domain.CacheStateCaching {
		c.mu.Unlock()
		fb.Unlock()
		return
	}
	evicted := c.appendLocked(ringItem{kind: itemFramebuffer, fb: fb, timing: timing, timestamp: timing.Timestamp})
	c.mu.Unlock()
	for i := 0; i < evicted; i++ {
		c.notifyDrop(domain.DropReasonCacheEvicted)
	}
}

func (c *MovieCache) ProcessVideoSampleBuffer(sb *domain.SampleBuffer) {
	c.mu.Lock()
	if c.state != domain.CacheStateCaching {
		c.mu.Unlock()
		sb.Invalidate()
		return
	}
	evicted := c.appendLocked(ringItem{kind: itemVideoSample, sb: sb, timestamp: sb.PTS})
	c.mu.Unlock()
	for i := 0; i < evicted; i++ {
		c.notifyDrop(domain.DropReasonCacheEvicted)
	}
}

func (c *MovieCache) ProcessAudioSampleBuffer(sb *domain.SampleBuffer) {
	c.mu.Lock()
	if c.state != domain.CacheStateCaching {
		c.mu.Unlock()
		return
	}
	evicted := c.appendLocked(ringItem{kind: itemAudioSample, sb: sb, timestamp: sb.PTS})
	c.mu.Unlock()
	for i := 0; i < evicted; i++ {
		c.notifyDrop(domain.DropReasonCacheEvicted)
	}
}

// Len reports how many items are currently held in the ring, for tests
// asserting the pre-roll bound.
func (c *MovieCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Span reports the oldest-to-newest timestamp span currently held, for
// tests asserting the pre-roll bound.
func (c *MovieCache) Span() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.items) == 0 {
		return 0
	}
	return c.items[len(c.items)-1].timestamp.Sub(c.items[0].timestamp)
}

// StartWriting attaches a ready writer and transitions caching->writing,
// moving the accumulated backlog to the drain queue. Call DrainTick
// repeatedly afterward to flush it.
func (c *MovieCache) StartWriting(writer *output.MovieOutput) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !domain.CanTransitionCache(c.state, domain.CacheStateWriting) {
		return &domain.ErrInvalidCacheTransition{From: c.state, To: domain.CacheStateWriting}
	}
	if writer == nil {
		return domain.ErrWriterNotAttached
	}
	if err := c.transitionLocked(domain.CacheStateWriting); err != nil {
		return err
	}
	c.writer = writer
	c.pending = c.items
	c.items = nil
	return nil
}

// DrainTick flushes queued backlog into the attached writer, in FIFO
// order, stopping once budget elapses or the queue empties. Returns how
// many items were drained and how many remain.
func (c *MovieCache) DrainTick(budget time.Duration) (drained, remaining int) {
	deadline := time.Now().Add(budget)
	for {
		c.mu.Lock()
		if c.state != domain.CacheStateWriting || len(c.pending) == 0 {
			remaining = len(c.pending)
			c.mu.Unlock()
			return drained, remaining
		}
		if time.Now().After(deadline) {
			remaining = len(c.pending)
			c.mu.Unlock()
			return drained, remaining
		}
		next := c.pending[0]
		c.pending = c.pending[1:]
		writer := c.writer
		c.mu.Unlock()

		switch next.kind {
		case itemFramebuffer:
			writer.NewFramebufferAvailable(next.fb, next.timing)
		case itemVideoSample:
			writer.ProcessVideoSampleBuffer(next.sb)
		case itemAudioSample:
			writer.ProcessAudioSampleBuffer(next.sb)
		}
		drained++
	}
}

// StopWriting releases the writer reference and clears remaining state,
// then returns to idle (writing->stopped->idle).
func (c *MovieCache) StopWriting() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.transitionLocked(domain.CacheStateStopped); err != nil {
		return err
	}
	c.writer = nil
	for _, it := range c.pending {
		c.releaseItem(it)
	}
	c.pending = nil
	return c.transitionLocked(domain.CacheStateIdle)
}

// CancelWriting releases the writer reference, discards all cached and
// pending content, and re-enters idle from any state.
func (c *MovieCache) CancelWriting() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, it := range c.items {
		c.releaseItem(it)
	}
	for _, it := range c.pending {
		c.releaseItem(it)
	}
	c.items = nil
	c.pending = nil
	c.writer = nil
	return c.transitionLocked(domain.CacheStateIdle)
}
