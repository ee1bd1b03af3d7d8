// Package renderer is the narrow interface boundary between the compositor
// core and the actual GPU/CPU drawing kernel. The kernel itself (GL/EGL/GBM
// buffer import, shader compositing) is explicitly out of scope for this
// library (§1 Non-goals); this package only defines the seam the output
// scheduler drives (§4.6) and a minimal CPU-compositing fallback so the
// library is runnable without a GPU path wired in (e.g. under the nested
// or X11 backends during development).
//
// Grounded on gio's gpu/backend.Device (read, not copied — that interface
// covers a full draw-call ABI; this one is reduced to exactly the
// view-list-and-frame-time contract output.Renderer needs).
package renderer

import (
	"image"
	"image/color"
	"time"

	"golang.org/x/image/draw"

	"github.com/Cloudef/go-wlc/internal/geom"
	"github.com/Cloudef/go-wlc/internal/registry"
)

// BufferSource resolves a view to the pixel image currently committed on
// its surface, plus the destination rect to composite it into (already
// letterboxed/positioned by the view package).
type BufferSource func(view registry.ID) (img image.Image, dst geom.Rect, ok bool)

// CPU is a software compositor used when no GPU backend is wired in: it
// draws each view's buffer into a framebuffer image via golang.org/x/image/draw,
// implementing the output.Renderer interface's contract directly against
// CPU memory instead of a GPU context.
type CPU struct {
	Source BufferSource

	framebuffers map[registry.ID]*image.RGBA
	onPresent    func(output registry.ID, fb *image.RGBA)
}

// NewCPU constructs a CPU renderer; onPresent is called once per frame with
// the finished framebuffer (the backend's surface wiring uses this to blit
// to screen, e.g. via SDL2 texture update for the X11 backend).
func NewCPU(source BufferSource, onPresent func(registry.ID, *image.RGBA)) *CPU {
	return &CPU{
		Source:       source,
		framebuffers: make(map[registry.ID]*image.RGBA),
		onPresent:    onPresent,
	}
}

func (c *CPU) fbFor(output registry.ID, size geom.Size) *image.RGBA {
	fb, ok := c.framebuffers[output]
	if !ok || fb.Bounds().Dx() != int(size.W) || fb.Bounds().Dy() != int(size.H) {
		fb = image.NewRGBA(image.Rect(0, 0, int(size.W), int(size.H)))
		c.framebuffers[output] = fb
	}
	return fb
}

// RenderFrame implements output.Renderer: draws backgroundVisible ? black :
// nothing, then every view in views bottom-to-top via BufferSource.
func (c *CPU) RenderFrame(out registry.ID, resolution geom.Size, frameTime time.Time, views []registry.ID, backgroundVisible bool) error {
	fb := c.fbFor(out, resolution)
	if backgroundVisible {
		draw.Draw(fb, fb.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)
	}
	if c.Source != nil {
		for _, v := range views {
			img, dst, ok := c.Source(v)
			if !ok || img == nil {
				continue
			}
			r := image.Rect(int(dst.Min.X), int(dst.Min.Y), int(dst.Max.X), int(dst.Max.Y))
			draw.CatmullRom.Scale(fb, r, img, img.Bounds(), draw.Over, nil)
		}
	}
	if c.onPresent != nil {
		c.onPresent(out, fb)
	}
	return nil
}

// Clear fills the output's framebuffer with black (§4.6 sleep path / "else
// a clear").
func (c *CPU) Clear(out registry.ID) {
	fb, ok := c.framebuffers[out]
	if !ok {
		return
	}
	draw.Draw(fb, fb.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)
	if c.onPresent != nil {
		c.onPresent(out, fb)
	}
}

// ReadPixels returns a copy of r within the output's current framebuffer
// (§4.6 step 7 pixels-readback request).
func (c *CPU) ReadPixels(out registry.ID, r geom.Rect) ([]byte, bool) {
	fb, ok := c.framebuffers[out]
	if !ok {
		return nil, false
	}
	bounds := image.Rect(int(r.Min.X), int(r.Min.Y), int(r.Max.X), int(r.Max.Y)).Intersect(fb.Bounds())
	if bounds.Empty() {
		return nil, false
	}
	w, h := bounds.Dx(), bounds.Dy()
	out2 := make([]byte, w*h*4)
	for y := 0; y < h; y++ {
		srcOff := fb.PixOffset(bounds.Min.X, bounds.Min.Y+y)
		copy(out2[y*w*4:(y+1)*w*4], fb.Pix[srcOff:srcOff+w*4])
	}
	return out2, true
}
