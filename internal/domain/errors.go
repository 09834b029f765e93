package domain

import "errors"

// Sentinel errors surfaced across MovieInput, MoviePlayer, MovieOutput,
// and MovieCache. Components wrap these with fmt.Errorf("...: %w", ...),
// so callers can errors.Is against a stable value while the message still
// carries call-site context.
var (
	// ErrCannotCreateAssetReader is returned when a MovieInput fails to open
	// its backing asset (missing file, unsupported container, decoder
	// rejection).
	ErrCannotCreateAssetReader = errors.New("movieinput: cannot create asset reader")

	// ErrPixelBufferPoolNil is returned by MovieOutput.StartWriting when the
	// video input has no pixel buffer adaptor or the adaptor has no pool.
	ErrPixelBufferPoolNil = errors.New("movieoutput: pixel buffer pool not configured")

	// ErrStartWritingFailure wraps an underlying ContainerWriter.StartWriting
	// error, surfaced through MovieOutput's error-subscription callback as
	// well as the direct return of the call that triggered it.
	ErrStartWritingFailure = errors.New("movieoutput: failed to start writing")

	// ErrAudioTrackActivation is returned when MovieOutput cannot add an
	// audio track to a writer session already past idle.
	ErrAudioTrackActivation = errors.New("movieoutput: cannot activate audio track")

	// ErrLooperUnsupported is returned by LoopDisciplineLooper, an explicit
	// stub; no gapless software looper is implemented.
	ErrLooperUnsupported = errors.New("movieplayer: looper loop discipline not implemented")

	// ErrInvalidSeek is returned when a seek target is invalid, negative, or
	// past the current item's duration. While the item has no valid
	// duration, targets are not checked against it.
	ErrInvalidSeek = errors.New("movieplayer: invalid seek target")

	// ErrWriterNotAttached is returned by MovieCache.StartWriting when it is
	// given a nil MovieOutput.
	ErrWriterNotAttached = errors.New("movieoutput: writer not attached")

	// ErrCacheNotRunning is returned by recording.Manager.StartRecording
	// when the pre-roll cache is not in its caching state.
	ErrCacheNotRunning = errors.New("moviecache: not caching")
)

// DropReason labels why a sample was discarded instead of written, for
// metrics and logging. None of these abort the pipeline; each increments
// a counter and continues.
type DropReason int

const (
	DropReasonNone DropReason = iota
	// DropReasonNonMonotonicTimestamp: sample PTS earlier than the last PTS
	// accepted on that track (an equal PTS is DropReasonDuplicateTimestamp).
	DropReasonNonMonotonicTimestamp
	// DropReasonDuplicateTimestamp: sample PTS exactly equal to the last
	// accepted PTS on that track.
	DropReasonDuplicateTimestamp
	// DropReasonWriterNotWriting: sample arrived while the writer was
	// outside the writing state (e.g. still caching, or already finished).
	DropReasonWriterNotWriting
	// DropReasonAudioBeforeVideoAnchor: audio sample whose PTS precedes the
	// recording's anchor timestamp (the first appended video frame's PTS).
	// Audio that arrives before the anchor is known is queued, not dropped.
	DropReasonAudioBeforeVideoAnchor
	// DropReasonEncoderNotReady: the underlying encoder was not ready to
	// accept more samples and either the output does not wait for it (live
	// video without WaitUntilReady) or the readiness wait ended because the
	// source finished or the output stopped. MovieOutput also reports it when
	// converting a framebuffer to a pixel buffer fails.
	DropReasonEncoderNotReady
	// DropReasonCacheEvicted: a pre-roll sample aged out of the ring buffer
	// before a caching session consumed it.
	DropReasonCacheEvicted
)

func (r DropReason) String() string {
	switch r {
	case DropReasonNonMonotonicTimestamp:
		return "non_monotonic_timestamp"
	case DropReasonDuplicateTimestamp:
		return "duplicate_timestamp"
	case DropReasonWriterNotWriting:
		return "writer_not_writing"
	case DropReasonAudioBeforeVideoAnchor:
		return "audio_before_video_anchor"
	case DropReasonEncoderNotReady:
		return "encoder_not_ready"
	case DropReasonCacheEvicted:
		return "cache_evicted"
	default:
		return "none"
	}
}
