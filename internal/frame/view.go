package frame

import (
	"image"

	apperrors "github.com/phaysaal/seenslide-desktop/internal/errors"
)

// View is a read-only window onto frame pixels. Rows are Stride bytes apart;
// each row holds Width*4 meaningful bytes.
type View struct {
	Pix    []byte
	Stride int
	Width  int
	Height int
}

// Crop restricts a frame to region. A nil region borrows the full frame.
// Regions that exceed the frame are rejected rather than clamped.
func Crop(f CaptureFrame, region *Region) (View, error) {
	if err := f.Validate(); err != nil {
		return View{}, err
	}
	if region == nil {
		return f.View(), nil
	}
	if err := region.Validate(); err != nil {
		return View{}, err
	}
	// Validate guarantees non-negative values, so the subtractions cannot wrap.
	if region.W > f.Width-region.X || region.H > f.Height-region.Y {
		return View{}, apperrors.Newf(apperrors.CodeInvalidCropRegion,
			"crop region %s exceeds frame %dx%d", region, f.Width, f.Height).
			WithMetadata("region", region.String()).
			WithMetadata("capture_id", f.CaptureID)
	}

	stride := f.Width * BytesPerPixel
	start := region.Y*stride + region.X*BytesPerPixel
	end := (region.Y+region.H-1)*stride + (region.X+region.W)*BytesPerPixel
	return View{
		Pix:    f.Pix[start:end],
		Stride: stride,
		Width:  region.W,
		Height: region.H,
	}, nil
}

// Empty reports whether the view holds no pixels.
func (v View) Empty() bool { return v.Width == 0 || v.Height == 0 }

// Row returns the pixel bytes of row y.
func (v View) Row(y int) []byte {
	off := y * v.Stride
	return v.Pix[off : off+v.Width*BytesPerPixel]
}

// Contiguous reports whether rows are packed without gaps.
func (v View) Contiguous() bool { return v.Stride == v.Width*BytesPerPixel }

// Bytes returns the pixels as one packed slice. Contiguous views are returned as is.
func (v View) Bytes() []byte {
	if v.Empty() {
		return nil
	}
	if v.Contiguous() {
		return v.Pix[:v.Width*v.Height*BytesPerPixel]
	}
	out := make([]byte, 0, v.Width*v.Height*BytesPerPixel)
	for y := 0; y < v.Height; y++ {
		out = append(out, v.Row(y)...)
	}
	return out
}

// Clone returns a packed copy that does not alias the source frame.
func (v View) Clone() View {
	if v.Empty() {
		return View{}
	}
	pix := make([]byte, 0, v.Width*v.Height*BytesPerPixel)
	for y := 0; y < v.Height; y++ {
		pix = append(pix, v.Row(y)...)
	}
	return View{Pix: pix, Stride: v.Width * BytesPerPixel, Width: v.Width, Height: v.Height}
}

// Image exposes the view as an *image.RGBA sharing the same memory.
func (v View) Image() *image.RGBA {
	return &image.RGBA{
		Pix:    v.Pix,
		Stride: v.Stride,
		Rect:   image.Rect(0, 0, v.Width, v.Height),
	}
}
