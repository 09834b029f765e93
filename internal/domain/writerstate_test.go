package domain

import "testing"

func TestWriterTransitions(t *testing.T) {
	legal := []struct{ from, to WriterState }{
		{WriterStateUnknown, WriterStateIdle},
		{WriterStateIdle, WriterStateCaching},
		{WriterStateIdle, WriterStateWriting},
		{WriterStateCaching, WriterStateWriting},
		{WriterStateWriting, WriterStateFinished},
		{WriterStateWriting, WriterStateCanceled},
	}
	for _, e := range legal {
		if !CanTransitionWriter(e.from, e.to) {
			t.Errorf("%s -> %s should be legal", e.from, e.to)
		}
	}

	illegal := []struct{ from, to WriterState }{
		{WriterStateUnknown, WriterStateWriting},
		{WriterStateFinished, WriterStateWriting},
		{WriterStateCanceled, WriterStateIdle},
		{WriterStateWriting, WriterStateIdle},
		{WriterStateCaching, WriterStateIdle},
	}
	for _, e := range illegal {
		if CanTransitionWriter(e.from, e.to) {
			t.Errorf("%s -> %s should be illegal", e.from, e.to)
		}
	}
}

func TestCacheTransitions(t *testing.T) {
	legal := []struct{ from, to CacheState }{
		{CacheStateUnknown, CacheStateIdle},
		{CacheStateIdle, CacheStateCaching},
		{CacheStateCaching, CacheStateWriting},
		{CacheStateWriting, CacheStateStopped},
		{CacheStateStopped, CacheStateIdle},
		{CacheStateCaching, CacheStateIdle},
		{CacheStateWriting, CacheStateIdle},
	}
	for _, e := range legal {
		if !CanTransitionCache(e.from, e.to) {
			t.Errorf("%s -> %s should be legal", e.from, e.to)
		}
	}

	illegal := []struct{ from, to CacheState }{
		{CacheStateIdle, CacheStateWriting},
		{CacheStateIdle, CacheStateStopped},
		{CacheStateStopped, CacheStateWriting},
		{CacheStateUnknown, CacheStateCaching},
	}
	for _, e := range illegal {
		if CanTransitionCache(e.from, e.to) {
			t.Errorf("%s -> %s should be illegal", e.from, e.to)
		}
	}
}

func TestOrientationRotationNeeded(t *testing.T) {
	tests := []struct {
		from, to Orientation
		want     int
	}{
		{OrientationPortrait, OrientationPortrait, 0},
		{OrientationPortrait, OrientationLandscapeRight, 90},
		{OrientationPortrait, OrientationPortraitUpsideDown, 180},
		{OrientationPortrait, OrientationLandscapeLeft, 270},
		{OrientationLandscapeLeft, OrientationPortrait, 90},
		{OrientationLandscapeRight, OrientationLandscapeLeft, 180},
	}
	for _, tt := range tests {
		if got := tt.from.RotationNeeded(tt.to); got != tt.want {
			t.Errorf("RotationNeeded(%s -> %s) = %d, want %d", tt.from, tt.to, got, tt.want)
		}
	}
}
