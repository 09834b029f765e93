package domain

// FramebufferSink receives produced framebuffers, one call per frame. The
// sink owns exactly one lock count on fb for the duration of the call and
// must Unlock it when done; it must not retain fb past that point unless
// it takes an additional Lock.
type FramebufferSink interface {
	NewFramebufferAvailable(fb *Framebuffer, timing TimingStyle)
}

// VideoSampleSink receives decoded video sample buffers on the raw
// sample-buffer submission path (as opposed to the framebuffer path).
type VideoSampleSink interface {
	ProcessVideoSampleBuffer(sb *SampleBuffer)
}

// AudioSampleSink receives decoded audio sample buffers.
type AudioSampleSink interface {
	ProcessAudioSampleBuffer(sb *SampleBuffer)
}
