package ports

import "moviepipeline/internal/domain"

// PlaybackItemStatus mirrors a queued item's observable status.
type PlaybackItemStatus int

const (
	PlaybackItemStatusUnknown PlaybackItemStatus = iota
	PlaybackItemStatusReadyToPlay
	PlaybackItemStatusFailed
)

// PlaybackItem is one entry in a PlaybackEngine's queue, exposing a video
// output tap MoviePlayer samples on every display refresh.
type PlaybackItem interface {
	Status() PlaybackItemStatus
	Duration() domain.Timestamp
	VideoOutput() VideoOutputTap
}

// VideoOutputTap is the per-item pixel source MoviePlayer polls at vsync,
// modeling AVPlayerItemVideoOutput's hasNewPixelBuffer/copyPixelBuffer pair.
type VideoOutputTap interface {
	HasNewPixelBuffer(at domain.Timestamp) bool
	CopyPixelBuffer(at domain.Timestamp) (*domain.PixelBuffer, error)
}

// EngineStatus mirrors the playback engine's overall observable status.
type EngineStatus int

const (
	EngineStatusUnknown EngineStatus = iota
	EngineStatusReadyToPlay
	EngineStatusFailed
)

// ActionAtItemEnd controls what a PlaybackEngine does when its current item
// reaches its end time.
type ActionAtItemEnd int

const (
	ActionAdvance ActionAtItemEnd = iota
	ActionPause
	ActionNone
)

// PlaybackEngine is the queue-of-items collaborator MoviePlayer wraps,
// modeling AVQueuePlayer's items/insert/remove/advance/seek/rate
// contract.
type PlaybackEngine interface {
	Items() []PlaybackItem
	CurrentItem() PlaybackItem

	// Insert places item immediately after after, or at the head when after
	// is nil.
	Insert(item PlaybackItem, after PlaybackItem)
	Remove(item PlaybackItem)
	RemoveAll()
	AdvanceToNext()
	ReplaceCurrentItem(item PlaybackItem)

	// Seek requests the engine land within [to-toleranceBefore,
	// to+toleranceAfter] and invokes completion(finished) once settled or
	// superseded.
	Seek(to domain.Timestamp, toleranceBefore, toleranceAfter domain.Timestamp, completion func(finished bool))

	SetRate(rate float64)
	Rate() float64
	Status() EngineStatus
	Err() error

	// CurrentTime reports the current item's media play time, the analogue
	// of AVPlayer.currentTime(); MoviePlayer's refresh tick reads this to
	// decide whether to tap the video output and to drive time observers.
	CurrentTime() domain.Timestamp

	SetActionAtItemEnd(ActionAtItemEnd)

	// OnItemDidPlayToEnd and OnStalled register the engine's two
	// notification-center events as plain callbacks.
	OnItemDidPlayToEnd(func(item PlaybackItem))
	OnStalled(func())
}
