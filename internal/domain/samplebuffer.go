package domain

// MediaKind tags a sample buffer or track as carrying video or audio
// data; consumers dispatch on it rather than type-asserting opaque
// payloads.
type MediaKind int

const (
	MediaVideo MediaKind = iota
	MediaAudio
)

func (k MediaKind) String() string {
	if k == MediaAudio {
		return "audio"
	}
	return "video"
}

// SampleBuffer is an opaque container carrying either a pixel buffer
// (video) or raw audio samples, plus a presentation timestamp. Ownership:
// callers pass it into the pipeline; the pipeline optionally invalidates
// (releases) the underlying pixel buffer when done, per an invalidate flag
// supplied at the call site rather than stored on the buffer itself.
type SampleBuffer struct {
	Kind        MediaKind
	PixelBuffer *PixelBuffer // set when Kind == MediaVideo
	AudioData   []byte       // set when Kind == MediaAudio
	PTS         Timestamp
}

// Invalidate releases the underlying pixel buffer back to its pool, if any.
// Safe to call on an audio sample buffer (no-op).
func (s *SampleBuffer) Invalidate() {
	if s.PixelBuffer != nil {
		s.PixelBuffer.Release()
	}
}
