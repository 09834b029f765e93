package syntheticplayback

import (
	"testing"
	"time"

	"moviepipeline/internal/domain"
	"moviepipeline/internal/domain/ports"
)

func newTestItem(seconds float64) *Item {
	pool := domain.NewPixelBufferPool(1, 0)
	return NewItem(domain.Size{Width: 4, Height: 4}, 30, seconds, pool)
}

func TestItemTapReportsNewFramesOnce(t *testing.T) {
	item := newTestItem(10)

	at := domain.NewTimestamp(0.5, 600)
	if !item.HasNewPixelBuffer(at) {
		t.Fatal("expected a new pixel buffer before the first copy")
	}
	pb, err := item.CopyPixelBuffer(at)
	if err != nil {
		t.Fatalf("CopyPixelBuffer: %v", err)
	}
	if pb.Width != 4 || pb.Height != 4 || pb.Format != domain.PixelFormatYUV420P {
		t.Fatalf("unexpected buffer shape %dx%d format %v", pb.Width, pb.Height, pb.Format)
	}
	pb.Release()

	// Same display time maps to the same frame index: no new buffer.
	if item.HasNewPixelBuffer(at) {
		t.Fatal("expected no new pixel buffer at an already-copied display time")
	}
	// A display time one frame later does produce a new buffer.
	if !item.HasNewPixelBuffer(domain.NewTimestamp(0.5+1.0/30.0, 600)) {
		t.Fatal("expected a new pixel buffer one frame later")
	}
}

func TestEngineQueueOrder(t *testing.T) {
	e := New()
	first, second, third := newTestItem(1), newTestItem(1), newTestItem(1)

	e.Insert(first, nil)
	e.Insert(second, first)
	e.Insert(third, second)

	items := e.Items()
	if len(items) != 3 {
		t.Fatalf("queue length = %d, want 3", len(items))
	}
	if items[0] != ports.PlaybackItem(first) || items[1] != ports.PlaybackItem(second) || items[2] != ports.PlaybackItem(third) {
		t.Fatal("queue order does not match insertion order")
	}

	e.Remove(second)
	if got := len(e.Items()); got != 2 {
		t.Fatalf("queue length after remove = %d, want 2", got)
	}
	if e.CurrentItem() != ports.PlaybackItem(first) {
		t.Fatal("current item changed by removing a later item")
	}
}

func TestEngineSeekAndRate(t *testing.T) {
	e := New()
	e.Insert(newTestItem(10), nil)

	var completed bool
	e.Seek(domain.NewTimestamp(4.0, 600), domain.Timestamp{}, domain.Timestamp{}, func(finished bool) {
		completed = finished
	})
	if !completed {
		t.Fatal("seek completion did not run")
	}

	// Rate 0: time holds at the seek target.
	if got := e.CurrentTime().Seconds(); got < 3.999 || got > 4.001 {
		t.Fatalf("CurrentTime after seek = %v, want 4.0", got)
	}
	if got := e.CurrentTime().Seconds(); got < 3.999 || got > 4.001 {
		t.Fatalf("CurrentTime drifted at rate 0: %v", got)
	}

	// Rate 1: time advances with the wall clock.
	e.SetRate(1.0)
	e.CurrentTime()
	time.Sleep(30 * time.Millisecond)
	if got := e.CurrentTime().Seconds(); got <= 4.0 {
		t.Fatalf("CurrentTime did not advance at rate 1: %v", got)
	}
}

func TestEngineAdvanceFiresDidPlayToEnd(t *testing.T) {
	e := New()
	item := newTestItem(1)
	e.Insert(item, nil)

	var ended ports.PlaybackItem
	e.OnItemDidPlayToEnd(func(it ports.PlaybackItem) { ended = it })

	e.AdvanceToNext()
	if ended != ports.PlaybackItem(item) {
		t.Fatal("did-play-to-end callback did not fire for the advanced item")
	}
	if got := len(e.Items()); got != 0 {
		t.Fatalf("queue length after advance = %d, want 0", got)
	}
}
