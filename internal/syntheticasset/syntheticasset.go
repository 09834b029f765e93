// Package syntheticasset is a reference ports.AssetReader: it generates
// synthetic YUV420P frames (and silent PCM audio) at a configured
// resolution/frame rate/duration instead of decoding a real container file,
// so the pipeline is runnable end-to-end without a platform decoder.
package syntheticasset

import (
	"context"
	"fmt"
	"sync"

	"moviepipeline/internal/domain"
	"moviepipeline/internal/domain/ports"
)

// Config describes the synthetic asset to generate.
type Config struct {
	Size       domain.Size
	FPS        float64
	Duration   float64 // seconds
	SampleRate int     // audio, 0 disables the audio track
	Channels   int
}

// Reader is a reference ports.AssetReader producing a deterministic
// sequence of synthetic frames: a solid color that cycles by frame index,
// useful for exercising the whole pipeline (and its tests) without a real
// decoder.
type Reader struct {
	cfg Config

	mu          sync.Mutex
	status      ports.AssetReaderStatus
	err         error
	videoWanted bool
	audioWanted bool
	rangeStart  domain.Timestamp
	rangeEnd    *domain.Timestamp
	nextFrame   int64
	nextAudio   int64
	pool        *domain.PixelBufferPool
}

var _ ports.AssetReader = (*Reader)(nil)

// New builds a synthetic Reader. pool backs the generated video pixel
// buffers, so tests and callers can observe allocation behavior through the
// same pool abstraction used elsewhere.
func New(cfg Config, pool *domain.PixelBufferPool) *Reader {
	if cfg.FPS <= 0 {
		cfg.FPS = 30
	}
	return &Reader{cfg: cfg, pool: pool, status: ports.AssetReaderStatusUnknown}
}

func (r *Reader) Open(ctx context.Context, asset string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = ports.AssetReaderStatusUnknown
	return nil
}

func (r *Reader) AddTrackOutput(settings ports.TrackOutputSettings) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch settings.Kind {
	case domain.MediaVideo:
		r.videoWanted = true
	case domain.MediaAudio:
		if r.cfg.SampleRate <= 0 {
			return fmt.Errorf("syntheticasset: no audio configured")
		}
		r.audioWanted = true
	}
	return nil
}

func (r *Reader) SetTimeRange(start, end domain.Timestamp) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rangeStart = start
	r.rangeEnd = &end
	r.nextFrame = int64(start.Seconds() * r.cfg.FPS)
}

func (r *Reader) StartReading(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = ports.AssetReaderStatusReading
	return nil
}

func (r *Reader) CopyNextSampleBuffer(kind domain.MediaKind) (*domain.SampleBuffer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status == ports.AssetReaderStatusCanceled {
		return nil, nil
	}

	switch kind {
	case domain.MediaVideo:
		if !r.videoWanted {
			return nil, nil
		}
		ts := domain.NewTimestamp(float64(r.nextFrame)/r.cfg.FPS, int32(r.cfg.FPS))
		if ts.Seconds() >= r.cfg.Duration || (r.rangeEnd != nil && !ts.Before(*r.rangeEnd)) {
			r.status = ports.AssetReaderStatusCompleted
			return nil, nil
		}
		frame := r.nextFrame
		r.nextFrame++
		pb := r.generateFrame(frame)
		return &domain.SampleBuffer{Kind: domain.MediaVideo, PixelBuffer: pb, PTS: ts}, nil
	case domain.MediaAudio:
		if !r.audioWanted {
			return nil, nil
		}
		const samplesPerBuffer = 1024
		ts := domain.NewTimestamp(float64(r.nextAudio*samplesPerBuffer)/float64(r.cfg.SampleRate), int32(r.cfg.SampleRate))
		if ts.Seconds() >= r.cfg.Duration {
			return nil, nil
		}
		r.nextAudio++
		data := make([]byte, samplesPerBuffer*2*r.cfg.Channels) // silence, s16le
		return &domain.SampleBuffer{Kind: domain.MediaAudio, AudioData: data, PTS: ts}, nil
	default:
		return nil, fmt.Errorf("syntheticasset: unknown track kind %v", kind)
	}
}

// generateFrame must be called with r.mu held.
func (r *Reader) generateFrame(frameIndex int64) *domain.PixelBuffer {
	ctx := context.Background()
	pb, err := r.pool.Get(ctx, r.cfg.Size.Width, r.cfg.Size.Height, domain.PixelFormatYUV420P)
	if err != nil {
		// Pool exhaustion under a canceled context only; fall back to an
		// unpooled buffer rather than dropping a generated frame.
		pb = &domain.PixelBuffer{
			Width: r.cfg.Size.Width, Height: r.cfg.Size.Height, Format: domain.PixelFormatYUV420P,
			Planes:  [][]byte{make([]byte, r.cfg.Size.Width*r.cfg.Size.Height), make([]byte, r.cfg.Size.Width*r.cfg.Size.Height/4), make([]byte, r.cfg.Size.Width*r.cfg.Size.Height/4)},
			Strides: []int{r.cfg.Size.Width, r.cfg.Size.Width / 2, r.cfg.Size.Width / 2},
		}
	}
	y := byte((frameIndex * 4) % 256)
	for i := range pb.Planes[0] {
		pb.Planes[0][i] = y
	}
	for i := range pb.Planes[1] {
		pb.Planes[1][i] = 128
	}
	for i := range pb.Planes[2] {
		pb.Planes[2][i] = 128
	}
	return pb
}

func (r *Reader) CancelReading() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = ports.AssetReaderStatusCanceled
}

func (r *Reader) Status() ports.AssetReaderStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *Reader) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *Reader) Duration() domain.Timestamp {
	r.mu.Lock()
	defer r.mu.Unlock()
	return domain.NewTimestamp(r.cfg.Duration, int32(r.cfg.FPS))
}
