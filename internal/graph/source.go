// Package graph is the seam where a real filter DAG would sit. Source is
// the identity pass-through every upstream producer (MovieInput,
// MoviePlayer) feeds into: it fans one framebuffer out to every registered downstream
// target, preserving the frame-ownership lock-count invariant instead of
// doing any real graph processing.
package graph

import (
	"sync"

	"moviepipeline/internal/domain"
)

// Source fans framebuffers out to N registered targets. For a framebuffer
// arriving with lock count 1, Dispatch takes N-1 additional locks before
// handing it to the targets, so that each target owns exactly one lock
// count and is responsible for releasing it via Unlock.
type Source struct {
	mu      sync.Mutex
	targets []domain.FramebufferSink
}

// AddTarget registers a downstream sink. Order of registration determines
// dispatch order but carries no other semantics.
func (s *Source) AddTarget(t domain.FramebufferSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.targets = append(s.targets, t)
}

// RemoveTarget unregisters a previously added sink, if present.
func (s *Source) RemoveTarget(t domain.FramebufferSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.targets {
		if existing == t {
			s.targets = append(s.targets[:i], s.targets[i+1:]...)
			return
		}
	}
}

// RemoveAllTargets drops every registered sink.
func (s *Source) RemoveAllTargets() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.targets = nil
}

// TargetCount reports how many sinks are currently registered, for tests.
func (s *Source) TargetCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.targets)
}

// Dispatch fans fb out to every registered target. fb must arrive with
// exactly one lock count owned by the caller; Dispatch consumes that lock
// count as the first target's share and takes one additional Lock per
// remaining target. With zero targets the caller's lock count is released
// immediately, since nothing downstream will claim it.
func (s *Source) Dispatch(fb *domain.Framebuffer, timing domain.TimingStyle) {
	s.mu.Lock()
	targets := make([]domain.FramebufferSink, len(s.targets))
	copy(targets, s.targets)
	s.mu.Unlock()

	if len(targets) == 0 {
		fb.Unlock()
		return
	}

	for i := 1; i < len(targets); i++ {
		fb.Lock()
	}
	for _, t := range targets {
		t.NewFramebufferAvailable(fb, timing)
	}
}
