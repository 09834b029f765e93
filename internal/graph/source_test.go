package graph

import (
	"testing"

	"moviepipeline/internal/domain"
)

type unlockingSink struct {
	seen int
}

func (s *unlockingSink) NewFramebufferAvailable(fb *domain.Framebuffer, _ domain.TimingStyle) {
	s.seen++
	fb.Unlock()
}

func dispatchOne(t *testing.T, s *Source, pool *domain.Pool) {
	t.Helper()
	fb := pool.Get(domain.Size{Width: 2, Height: 2})
	s.Dispatch(fb, domain.VideoFrameTiming(domain.NewTimestamp(0, 600)))
}

func TestDispatchBalancesLocksAcrossTargets(t *testing.T) {
	pool := domain.NewPool(0)

	for _, targets := range []int{0, 1, 3} {
		s := &Source{}
		sinks := make([]*unlockingSink, targets)
		for i := range sinks {
			sinks[i] = &unlockingSink{}
			s.AddTarget(sinks[i])
		}

		dispatchOne(t, s, pool)

		for i, sink := range sinks {
			if sink.seen != 1 {
				t.Fatalf("targets=%d: sink %d saw %d frames, want 1", targets, i, sink.seen)
			}
		}
		idle, total := pool.Stats()
		if idle != total {
			t.Fatalf("targets=%d: pool not idle after dispatch: idle=%d total=%d", targets, idle, total)
		}
	}
}

func TestRemoveTargetStopsDelivery(t *testing.T) {
	pool := domain.NewPool(0)
	s := &Source{}
	kept := &unlockingSink{}
	removed := &unlockingSink{}
	s.AddTarget(kept)
	s.AddTarget(removed)
	s.RemoveTarget(removed)

	dispatchOne(t, s, pool)

	if removed.seen != 0 {
		t.Fatalf("removed sink still received %d frames", removed.seen)
	}
	if kept.seen != 1 {
		t.Fatalf("kept sink received %d frames, want 1", kept.seen)
	}
}
