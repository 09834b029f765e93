package framebuffer

import (
	"fmt"

	"moviepipeline/internal/domain"
	"moviepipeline/internal/domain/ports"
)

// Generator is the reference ports.FramebufferGenerator: a BT.601
// YUV420P/NV12 -> BGRA8888 converter and its BGRA8888 -> YUV420P inverse,
// serialized through a Queue so overlapping Convert/Invert calls from
// MovieInput, MoviePlayer, and MovieOutput never race on shared scratch
// state.
type Generator struct {
	pool  *domain.Pool
	queue *Queue
}

// NewGenerator builds a Generator drawing its output framebuffers from
// pool and serializing conversion work on a dedicated Queue.
func NewGenerator(pool *domain.Pool) *Generator {
	return &Generator{pool: pool, queue: NewQueue()}
}

var _ ports.FramebufferGenerator = (*Generator)(nil)

// Close stops the generator's worker goroutine.
func (g *Generator) Close() { g.queue.Close() }

// Convert turns a decoded pixel buffer into a pool-backed BGRA framebuffer.
func (g *Generator) Convert(pb *domain.PixelBuffer, timing domain.TimingStyle) (*domain.Framebuffer, error) {
	var fb *domain.Framebuffer
	var convErr error

	g.queue.Sync(func() {
		size := domain.Size{Width: pb.Width, Height: pb.Height}
		out := g.pool.Get(size)
		out.SetTiming(timing)

		switch pb.Format {
		case domain.PixelFormatBGRA:
			copy(out.Pixels, pb.Planes[0])
		case domain.PixelFormatYUV420P:
			yuv420pToRGBA(pb, out.Pixels)
		case domain.PixelFormatNV12:
			nv12ToRGBA(pb, out.Pixels)
		default:
			convErr = fmt.Errorf("framebuffer: unsupported source format %v", pb.Format)
		}
		fb = out
	})
	if convErr != nil {
		fb.Unlock()
		return nil, convErr
	}
	return fb, nil
}

// Invert turns a framebuffer's RGBA pixels back into a pixel buffer of the
// requested format, used by MovieOutput's framebuffer sink path when the
// underlying writer only accepts YUV.
func (g *Generator) Invert(fb *domain.Framebuffer, format domain.PixelFormat) (*domain.PixelBuffer, error) {
	var pb *domain.PixelBuffer
	var err error

	g.queue.Sync(func() {
		size := fb.Size()
		switch format {
		case domain.PixelFormatBGRA:
			pb = &domain.PixelBuffer{
				Width: size.Width, Height: size.Height, Format: format,
				Planes:  [][]byte{append([]byte(nil), fb.Pixels...)},
				Strides: []int{size.Width * 4},
			}
		case domain.PixelFormatYUV420P:
			pb = rgbaToYUV420P(fb.Pixels, size.Width, size.Height)
		default:
			err = fmt.Errorf("framebuffer: unsupported target format %v", format)
		}
	})
	return pb, err
}

// BT.601 full-range YCbCr -> RGB.
func yuv420pToRGBA(pb *domain.PixelBuffer, dst []byte) {
	w, h := pb.Width, pb.Height
	y, u, v := pb.Planes[0], pb.Planes[1], pb.Planes[2]
	yStride, uStride := pb.Strides[0], pb.Strides[1]

	for row := 0; row < h; row++ {
		for col := 0; col < w; col++ {
			yy := int(y[row*yStride+col])
			cb := int(u[(row/2)*uStride+col/2]) - 128
			cr := int(v[(row/2)*uStride+col/2]) - 128

			r := clampByte(yy + (91881*cr)/65536)
			g := clampByte(yy - (22554*cb+46802*cr)/65536)
			b := clampByte(yy + (116130*cb)/65536)

			off := (row*w + col) * 4
			dst[off+0] = b
			dst[off+1] = g
			dst[off+2] = r
			dst[off+3] = 0xff
		}
	}
}

func nv12ToRGBA(pb *domain.PixelBuffer, dst []byte) {
	w, h := pb.Width, pb.Height
	y, uv := pb.Planes[0], pb.Planes[1]
	yStride, uvStride := pb.Strides[0], pb.Strides[1]

	for row := 0; row < h; row++ {
		for col := 0; col < w; col++ {
			yy := int(y[row*yStride+col])
			uvOff := (row/2)*uvStride + (col/2)*2
			cb := int(uv[uvOff]) - 128
			cr := int(uv[uvOff+1]) - 128

			r := clampByte(yy + (91881*cr)/65536)
			g := clampByte(yy - (22554*cb+46802*cr)/65536)
			b := clampByte(yy + (116130*cb)/65536)

			off := (row*w + col) * 4
			dst[off+0] = b
			dst[off+1] = g
			dst[off+2] = r
			dst[off+3] = 0xff
		}
	}
}

func rgbaToYUV420P(src []byte, w, h int) *domain.PixelBuffer {
	yPlane := make([]byte, w*h)
	uPlane := make([]byte, w*h/4)
	vPlane := make([]byte, w*h/4)

	for row := 0; row < h; row++ {
		for col := 0; col < w; col++ {
			off := (row*w + col) * 4
			b, g, r := int(src[off+0]), int(src[off+1]), int(src[off+2])

			yy := clampByte((19595*r + 38470*g + 7471*b) >> 16)
			yPlane[row*w+col] = yy

			if row%2 == 0 && col%2 == 0 {
				cb := clampByte(((-11059*r-21709*g+32768*b)>>16)+128)
				cr := clampByte(((32768*r-27439*g-5329*b)>>16)+128)
				uPlane[(row/2)*(w/2)+col/2] = cb
				vPlane[(row/2)*(w/2)+col/2] = cr
			}
		}
	}

	return &domain.PixelBuffer{
		Width: w, Height: h, Format: domain.PixelFormatYUV420P,
		Planes:  [][]byte{yPlane, uPlane, vPlane},
		Strides: []int{w, w / 2, w / 2},
	}
}

func clampByte(v int) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}
