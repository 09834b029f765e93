// Package ports holds the collaborator contracts MovieInput, MoviePlayer,
// MovieOutput, and MovieCache consume: the asset decoder, the container
// writer, the playback engine, the display-refresh source, and the
// realtime-thread scheduler. Each is a small interface so that
// a synthetic/reference adapter and a real adapter can both satisfy it.
package ports

import (
	"context"

	"moviepipeline/internal/domain"
)

// AssetReaderStatus mirrors the decoder's observable status property.
type AssetReaderStatus int

const (
	AssetReaderStatusUnknown AssetReaderStatus = iota
	AssetReaderStatusReading
	AssetReaderStatusCompleted
	AssetReaderStatusFailed
	AssetReaderStatusCanceled
)

// TrackOutputSettings configures one decoded track output on an AssetReader.
type TrackOutputSettings struct {
	Kind   domain.MediaKind
	Format domain.PixelFormat // ignored for audio tracks
}

// AssetReader opens one media asset and serves decoded sample buffers track
// by track, modeling AVAssetReader's add-track-output / startReading /
// copyNextSampleBuffer contract.
type AssetReader interface {
	// Open prepares the reader against the given asset locator (a file path
	// or other scheme understood by the adapter). Returns
	// domain.ErrCannotCreateAssetReader on failure.
	Open(ctx context.Context, asset string) error

	// AddTrackOutput registers a decoded output for the given track kind.
	AddTrackOutput(settings TrackOutputSettings) error

	// SetTimeRange restricts decoding to [start, end).
	SetTimeRange(start, end domain.Timestamp)

	// StartReading begins producing sample buffers; must be called after
	// Open and track output registration.
	StartReading(ctx context.Context) error

	// CopyNextSampleBuffer returns the next decoded sample for the given
	// track kind, or (nil, nil) at end of stream.
	CopyNextSampleBuffer(kind domain.MediaKind) (*domain.SampleBuffer, error)

	// CancelReading aborts an in-progress read.
	CancelReading()

	Status() AssetReaderStatus
	Err() error

	// Duration reports the asset's total duration once known.
	Duration() domain.Timestamp
}
