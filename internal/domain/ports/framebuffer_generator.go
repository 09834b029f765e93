package ports

import "moviepipeline/internal/domain"

// FramebufferGenerator is the YUV-to-RGB / RGB-to-pixel-buffer
// collaborator: MovieInput and MoviePlayer depend on its contract to turn
// decoded pixel buffers into lockable Framebuffers and back.
type FramebufferGenerator interface {
	// Convert turns a decoded pixel buffer into a pool-backed framebuffer
	// stamped with the given timing.
	Convert(pb *domain.PixelBuffer, timing domain.TimingStyle) (*domain.Framebuffer, error)

	// Invert turns a framebuffer's RGBA pixels back into a pixel buffer of
	// the requested format, used by MovieOutput's framebuffer sink path
	// when the underlying writer only accepts YUV.
	Invert(fb *domain.Framebuffer, format domain.PixelFormat) (*domain.PixelBuffer, error)
}
