package ports

import (
	"context"

	"moviepipeline/internal/domain"
)

// WriterInputSettings configures one track input on a ContainerWriter.
type WriterInputSettings struct {
	Kind         domain.MediaKind
	Size         domain.Size // video only
	SampleRate   int         // audio only
	ChannelCount int         // audio only
}

// PixelBufferAdaptor is the writer-side pool an append-pixel-buffer call
// draws from; MovieOutput checks it in StartWriting and fails with
// domain.ErrPixelBufferPoolNil if the adaptor or its pool is absent.
type PixelBufferAdaptor interface {
	Pool() *domain.PixelBufferPool
	// Append writes one pixel buffer at the given presentation time into
	// the video input this adaptor is attached to.
	Append(pb *domain.PixelBuffer, at domain.Timestamp) error
}

// ContainerWriter is the sink side of a recording session, modeling
// AVAssetWriter's construct/add-input/start-writing/start-session/
// append/mark-finished/end-session/finish-writing/cancel contract.
type ContainerWriter interface {
	// AddInput registers one track; returns a PixelBufferAdaptor when
	// settings.Kind is domain.MediaVideo, nil otherwise.
	AddInput(settings WriterInputSettings) (PixelBufferAdaptor, error)

	// StartWriting transitions the writer out of idle. Failure surfaces as
	// domain.ErrStartWritingFailure through both the direct return and the
	// caller's error subscription.
	StartWriting() error

	// StartSession marks the anchor timestamp samples are measured against.
	StartSession(at domain.Timestamp)

	// AppendSample writes a raw sample buffer directly (the non-framebuffer
	// sink path).
	AppendSample(sb *domain.SampleBuffer) error

	// IsReadyForMoreMediaData reports whether the given track will accept
	// another append call without blocking; MovieOutput polls this under
	// its encoder-waiting policy.
	IsReadyForMoreMediaData(kind domain.MediaKind) bool

	// MarkFinished closes one track's input.
	MarkFinished(kind domain.MediaKind)

	// EndSession marks the final timestamp of the recording.
	EndSession(at domain.Timestamp)

	// FinishWriting flushes and closes the container, invoking done with
	// the terminal error, if any, once complete.
	FinishWriting(ctx context.Context, done func(error))

	// CancelWriting aborts the session; any partial output is discarded.
	CancelWriting()

	Status() domain.WriterState
	Err() error

	// OnError registers a callback invoked whenever the writer's error
	// property changes.
	OnError(func(error))

	// OnReadinessChanged registers a callback invoked whenever any input's
	// IsReadyForMoreMediaData may have flipped, the observer MovieOutput
	// forwards to a synchronized MovieInput's back-pressure wait.
	OnReadinessChanged(func())
}
