// Package ffwriter is a reference ports.ContainerWriter: it pipes raw BGRA
// video frames (and, if an audio track was attached, raw PCM audio) into an
// ffmpeg subprocess over stdin/an extra pipe and lets ffmpeg do the muxing.
// Build args, cmd.Start, capture stderr, cmd.Wait on a goroutine, report
// the outcome.
package ffwriter

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"moviepipeline/internal/domain"
	"moviepipeline/internal/domain/ports"
)

// Config configures one recording session's output container.
type Config struct {
	FFMPEGPath            string
	OutputPath            string
	FPS                   int
	OptimizeForNetworkUse bool
}

// Writer is the reference ContainerWriter: one ffmpeg process per
// recording session, video frames written to its stdin as raw BGRA and
// (when an audio track is attached) audio samples written to an extra pipe
// as raw s16le PCM.
type Writer struct {
	cfg Config
	log *slog.Logger

	mu            sync.Mutex
	state         domain.WriterState
	videoSettings *ports.WriterInputSettings
	audioSettings *ports.WriterInputSettings
	pool          *domain.PixelBufferPool
	cmd           *exec.Cmd
	videoIn       *os.File
	audioIn       *os.File
	videoClosed   bool
	audioClosed   bool
	err           error
	stderr        bytes.Buffer
	waitDone      chan struct{}

	errorSubs     []func(error)
	readinessSubs []func()
}

var _ ports.ContainerWriter = (*Writer)(nil)

// New builds a Writer that will, once StartWriting is called, spawn ffmpeg
// to mux into cfg.OutputPath.
func New(cfg Config) *Writer {
	if cfg.FFMPEGPath == "" {
		cfg.FFMPEGPath = "ffmpeg"
	}
	if cfg.FPS <= 0 {
		cfg.FPS = 30
	}
	return &Writer{
		cfg:   cfg,
		log:   slog.Default().With("component", "ffwriter"),
		state: domain.WriterStateIdle,
	}
}

// AddInput registers a track. Video registration allocates the pixel
// buffer pool the returned adaptor draws from; audio registration just
// records the PCM format ffmpeg's second input will use.
func (w *Writer) AddInput(settings ports.WriterInputSettings) (ports.PixelBufferAdaptor, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch settings.Kind {
	case domain.MediaVideo:
		w.videoSettings = &settings
		w.pool = domain.NewPixelBufferPool(3, 6)
		return &pixelBufferAdaptor{w: w}, nil
	case domain.MediaAudio:
		w.audioSettings = &settings
		return nil, nil
	default:
		return nil, fmt.Errorf("ffwriter: unknown track kind %v", settings.Kind)
	}
}

// pixelBufferAdaptor is the writer-side pool+append surface MovieOutput
// draws from for the framebuffer sink path.
type pixelBufferAdaptor struct {
	w *Writer
}

func (a *pixelBufferAdaptor) Pool() *domain.PixelBufferPool { return a.w.pool }

func (a *pixelBufferAdaptor) Append(pb *domain.PixelBuffer, at domain.Timestamp) error {
	defer pb.Release()
	return a.w.writeVideoFrame(pb.Planes[0])
}

func (w *Writer) writeVideoFrame(frame []byte) error {
	w.mu.Lock()
	f := w.videoIn
	w.mu.Unlock()
	if f == nil {
		return fmt.Errorf("ffwriter: video input not open")
	}
	_, err := f.Write(frame)
	return err
}

// StartWriting spawns the ffmpeg process. Requires a video track to have
// been added first.
func (w *Writer) StartWriting() error {
	w.mu.Lock()
	if w.videoSettings == nil {
		w.mu.Unlock()
		return fmt.Errorf("ffwriter: no video track attached")
	}
	size := w.videoSettings.Size
	args := []string{
		"-f", "rawvideo",
		"-pix_fmt", "bgra",
		"-s", strconv.Itoa(size.Width) + "x" + strconv.Itoa(size.Height),
		"-r", strconv.Itoa(w.cfg.FPS),
		"-i", "pipe:0",
	}
	hasAudio := w.audioSettings != nil
	if hasAudio {
		args = append(args,
			"-f", "s16le",
			"-ar", strconv.Itoa(w.audioSettings.SampleRate),
			"-ac", strconv.Itoa(w.audioSettings.ChannelCount),
			"-i", "pipe:3",
		)
	}
	args = append(args, "-c:v", "libx264", "-pix_fmt", "yuv420p")
	if hasAudio {
		args = append(args, "-c:a", "aac")
	}
	if w.cfg.OptimizeForNetworkUse {
		args = append(args, "-movflags", "+faststart")
	}
	args = append(args, "-y", w.cfg.OutputPath)
	w.mu.Unlock()

	cmd := exec.Command(w.cfg.FFMPEGPath, args...)
	videoPipe, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	var audioRead, audioWrite *os.File
	if hasAudio {
		audioRead, audioWrite, err = os.Pipe()
		if err != nil {
			return err
		}
		cmd.ExtraFiles = []*os.File{audioRead}
	}
	cmd.Stderr = &w.stderr

	w.log.Info("ffmpeg starting", slog.String("output", w.cfg.OutputPath), slog.Any("args", args))
	if err := cmd.Start(); err != nil {
		return err
	}
	if audioRead != nil {
		_ = audioRead.Close() // parent keeps the write end only
	}

	w.mu.Lock()
	w.cmd = cmd
	w.videoIn = videoPipe.(*os.File)
	w.audioIn = audioWrite
	w.state = domain.WriterStateWriting
	w.waitDone = make(chan struct{})
	w.mu.Unlock()

	go w.wait()
	return nil
}

func (w *Writer) wait() {
	err := w.cmd.Wait()
	w.mu.Lock()
	if err != nil {
		stderrMsg := w.stderr.String()
		if stderrMsg != "" {
			err = fmt.Errorf("%w: %s", err, stderrMsg)
		}
		w.err = err
	}
	done := w.waitDone
	w.mu.Unlock()
	close(done)
	if err != nil {
		w.notifyError(err)
	}
	w.notifyReadinessChanged()
}

func (w *Writer) StartSession(at domain.Timestamp) {
	w.log.Info("session started", slog.String("anchor", at.String()))
}

func (w *Writer) EndSession(at domain.Timestamp) {
	w.log.Info("session ended", slog.String("at", at.String()))
}

// AppendSample writes a raw sample buffer directly, used by the
// direct-passthrough path (transcodingOnly) that bypasses framebuffer
// conversion entirely.
func (w *Writer) AppendSample(sb *domain.SampleBuffer) error {
	switch sb.Kind {
	case domain.MediaVideo:
		defer sb.Invalidate()
		if sb.PixelBuffer == nil {
			return fmt.Errorf("ffwriter: video sample missing pixel buffer")
		}
		return w.writeVideoFrame(sb.PixelBuffer.Planes[0])
	case domain.MediaAudio:
		w.mu.Lock()
		f := w.audioIn
		w.mu.Unlock()
		if f == nil {
			return fmt.Errorf("ffwriter: audio input not open")
		}
		_, err := f.Write(sb.AudioData)
		return err
	default:
		return fmt.Errorf("ffwriter: unknown sample kind %v", sb.Kind)
	}
}

// IsReadyForMoreMediaData is always true once writing and not yet finished:
// this reference writer has no bounded internal queue to report back
// pressure from (ffmpeg's stdin pipe applies its own blocking backpressure
// on Write).
func (w *Writer) IsReadyForMoreMediaData(kind domain.MediaKind) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != domain.WriterStateWriting {
		return false
	}
	if kind == domain.MediaAudio {
		return w.audioSettings != nil && !w.audioClosed
	}
	return !w.videoClosed
}

func (w *Writer) MarkFinished(kind domain.MediaKind) {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch kind {
	case domain.MediaVideo:
		if !w.videoClosed && w.videoIn != nil {
			_ = w.videoIn.Close()
			w.videoClosed = true
		}
	case domain.MediaAudio:
		if !w.audioClosed && w.audioIn != nil {
			_ = w.audioIn.Close()
			w.audioClosed = true
		}
	}
}

// FinishWriting ensures both inputs are closed (ffmpeg flushes and exits on
// EOF) and waits for the process to exit.
func (w *Writer) FinishWriting(ctx context.Context, done func(error)) {
	w.MarkFinished(domain.MediaVideo)
	w.MarkFinished(domain.MediaAudio)

	w.mu.Lock()
	waitDone := w.waitDone
	w.mu.Unlock()
	if waitDone == nil {
		done(fmt.Errorf("ffwriter: StartWriting was never called"))
		return
	}

	go func() {
		select {
		case <-waitDone:
		case <-ctx.Done():
			w.CancelWriting()
		}
		w.mu.Lock()
		err := w.err
		state := w.state
		if err == nil && state == domain.WriterStateWriting {
			w.state = domain.WriterStateFinished
		}
		w.mu.Unlock()
		done(err)
	}()
}

// CancelWriting kills the ffmpeg process and discards the partial output
// file.
func (w *Writer) CancelWriting() {
	w.mu.Lock()
	cmd := w.cmd
	path := w.cfg.OutputPath
	w.state = domain.WriterStateCanceled
	w.mu.Unlock()

	w.MarkFinished(domain.MediaVideo)
	w.MarkFinished(domain.MediaAudio)
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	time.AfterFunc(100*time.Millisecond, func() { _ = os.Remove(path) })
}

func (w *Writer) Status() domain.WriterState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Writer) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

func (w *Writer) OnError(fn func(error)) {
	w.mu.Lock()
	w.errorSubs = append(w.errorSubs, fn)
	w.mu.Unlock()
}

func (w *Writer) OnReadinessChanged(fn func()) {
	w.mu.Lock()
	w.readinessSubs = append(w.readinessSubs, fn)
	w.mu.Unlock()
}

func (w *Writer) notifyError(err error) {
	w.mu.Lock()
	subs := append([]func(error){}, w.errorSubs...)
	w.mu.Unlock()
	for _, fn := range subs {
		fn(err)
	}
}

func (w *Writer) notifyReadinessChanged() {
	w.mu.Lock()
	subs := append([]func(){}, w.readinessSubs...)
	w.mu.Unlock()
	for _, fn := range subs {
		fn()
	}
}
