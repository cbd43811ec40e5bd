// Package frame holds captured frames and the crop preprocessor applied before hashing.
package frame

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg" // JPEG decoder
	_ "image/png"  // PNG decoder
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/phaysaal/seenslide-desktop/internal/errors"
)

// BytesPerPixel is the size of one RGBA pixel.
const BytesPerPixel = 4

// Region is a crop rectangle in source-image pixel coordinates.
type Region struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

func (r Region) String() string {
	return fmt.Sprintf("%d,%d,%d,%d", r.X, r.Y, r.W, r.H)
}

// Validate checks the rectangle is well formed, independent of any frame.
func (r Region) Validate() error {
	if r.X < 0 || r.Y < 0 || r.W <= 0 || r.H <= 0 {
		return apperrors.Newf(apperrors.CodeInvalidCropRegion, "crop region %s must have non-negative origin and positive size", r).
			WithMetadata("region", r.String())
	}
	return nil
}

// ParseRegion parses "x,y,w,h". An empty string yields nil.
func ParseRegion(s string) (*Region, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return nil, apperrors.Newf(apperrors.CodeInvalidCropRegion, "crop region %q: want x,y,w,h", s)
	}
	var vals [4]int
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, apperrors.Wrapf(err, apperrors.CodeInvalidCropRegion, "crop region %q", s)
		}
		vals[i] = v
	}
	r := &Region{X: vals[0], Y: vals[1], W: vals[2], H: vals[3]}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// CaptureFrame is one raw captured screenshot. Pix holds RGBA bytes, row-major, without padding.
// A frame is owned by the caller for the duration of one evaluation.
type CaptureFrame struct {
	Pix       []byte
	Width     int
	Height    int
	MonitorID int
	CaptureID string
	Timestamp time.Time
	Region    *Region
}

// Validate fails fast on frames whose geometry does not match their bytes.
func (f CaptureFrame) Validate() error {
	if f.Width <= 0 || f.Height <= 0 {
		return apperrors.Newf(apperrors.CodeMalformedFrame, "frame %s has non-positive size %dx%d", f.CaptureID, f.Width, f.Height)
	}
	if want := f.Width * f.Height * BytesPerPixel; len(f.Pix) != want {
		return apperrors.Newf(apperrors.CodeMalformedFrame, "frame %s has %d bytes, want %d for %dx%d RGBA",
			f.CaptureID, len(f.Pix), want, f.Width, f.Height)
	}
	return nil
}

// View returns the whole frame as a view.
func (f CaptureFrame) View() View {
	return View{Pix: f.Pix, Stride: f.Width * BytesPerPixel, Width: f.Width, Height: f.Height}
}

// FromImage converts any image into an RGBA frame. The capture id is a fresh UUID.
func FromImage(img image.Image, monitorID int) CaptureFrame {
	b := img.Bounds()
	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Rect.Min != (image.Point{}) || rgba.Stride != b.Dx()*BytesPerPixel {
		rgba = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	}
	return CaptureFrame{
		Pix:       rgba.Pix,
		Width:     b.Dx(),
		Height:    b.Dy(),
		MonitorID: monitorID,
		CaptureID: uuid.NewString(),
		Timestamp: time.Now(),
	}
}

// Decode decodes PNG or JPEG bytes from a capture provider into a frame.
func Decode(data []byte, monitorID int) (CaptureFrame, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return CaptureFrame{}, apperrors.Wrap(err, apperrors.CodeMalformedFrame, "decode captured image")
	}
	return FromImage(img, monitorID), nil
}
