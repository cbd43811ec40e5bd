package frame

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math"
	"testing"

	apperrors "github.com/phaysaal/seenslide-desktop/internal/errors"
)

// patterned builds a w x h frame where each pixel encodes its coordinates.
func patterned(w, h int) CaptureFrame {
	pix := make([]byte, w*h*BytesPerPixel)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := (y*w + x) * BytesPerPixel
			pix[i] = byte(x)
			pix[i+1] = byte(y)
			pix[i+2] = byte(x + y)
			pix[i+3] = 255
		}
	}
	return CaptureFrame{Pix: pix, Width: w, Height: h, CaptureID: "test"}
}

func TestCropNoRegionBorrows(t *testing.T) {
	f := patterned(8, 6)
	v, err := Crop(f, nil)
	if err != nil {
		t.Fatalf("Crop() error = %v", err)
	}
	if v.Width != 8 || v.Height != 6 {
		t.Errorf("size = %dx%d, want 8x6", v.Width, v.Height)
	}
	if &v.Pix[0] != &f.Pix[0] {
		t.Error("full-frame view should alias the frame pixels")
	}
	if !v.Contiguous() {
		t.Error("full-frame view should be contiguous")
	}
}

func TestCropRegion(t *testing.T) {
	f := patterned(8, 6)
	v, err := Crop(f, &Region{X: 2, Y: 1, W: 3, H: 4})
	if err != nil {
		t.Fatalf("Crop() error = %v", err)
	}
	if v.Width != 3 || v.Height != 4 {
		t.Fatalf("size = %dx%d, want 3x4", v.Width, v.Height)
	}

	for y := 0; y < v.Height; y++ {
		row := v.Row(y)
		if len(row) != 3*BytesPerPixel {
			t.Fatalf("row %d length = %d, want %d", y, len(row), 3*BytesPerPixel)
		}
		for x := 0; x < v.Width; x++ {
			if row[x*4] != byte(x+2) || row[x*4+1] != byte(y+1) {
				t.Errorf("pixel (%d,%d) = (%d,%d), want (%d,%d)", x, y, row[x*4], row[x*4+1], x+2, y+1)
			}
		}
	}

	packed := v.Bytes()
	if len(packed) != 3*4*BytesPerPixel {
		t.Errorf("Bytes() length = %d, want %d", len(packed), 3*4*BytesPerPixel)
	}

	img := v.Image()
	if got := img.RGBAAt(0, 0); got.R != 2 || got.G != 1 {
		t.Errorf("Image().At(0,0) = %v, want R=2 G=1", got)
	}
	if got := img.RGBAAt(2, 3); got.R != 4 || got.G != 4 {
		t.Errorf("Image().At(2,3) = %v, want R=4 G=4", got)
	}
}

func TestCropRegionEdges(t *testing.T) {
	f := patterned(8, 6)

	tests := []struct {
		name    string
		region  Region
		wantErr bool
	}{
		{"exact fit", Region{0, 0, 8, 6}, false},
		{"bottom right corner", Region{7, 5, 1, 1}, false},
		{"too wide", Region{1, 0, 8, 6}, true},
		{"too tall", Region{0, 1, 8, 6}, true},
		{"negative origin", Region{-1, 0, 2, 2}, true},
		{"zero width", Region{0, 0, 0, 2}, true},
		{"origin past right edge", Region{8, 0, 1, 1}, true},
		{"width overflows int", Region{1, 0, math.MaxInt, 1}, true},
		{"height overflows int", Region{0, 1, 1, math.MaxInt}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := tt.region
			_, err := Crop(f, &r)
			if tt.wantErr {
				if !apperrors.IsCode(err, apperrors.CodeInvalidCropRegion) {
					t.Errorf("Crop() error = %v, want %s", err, apperrors.CodeInvalidCropRegion)
				}
				return
			}
			if err != nil {
				t.Errorf("Crop() error = %v, want nil", err)
			}
		})
	}
}

func TestParseRegionHugeWidthRejectedByCrop(t *testing.T) {
	r, err := ParseRegion("1,0,9223372036854775807,1")
	if err != nil {
		t.Fatalf("ParseRegion() error = %v", err)
	}
	if _, err := Crop(patterned(4, 4), r); !apperrors.IsCode(err, apperrors.CodeInvalidCropRegion) {
		t.Errorf("Crop() error = %v, want %s", err, apperrors.CodeInvalidCropRegion)
	}
}

func TestCropMalformedFrame(t *testing.T) {
	f := patterned(4, 4)
	f.Pix = f.Pix[:len(f.Pix)-1]

	_, err := Crop(f, nil)
	if !apperrors.IsCode(err, apperrors.CodeMalformedFrame) {
		t.Errorf("Crop() error = %v, want %s", err, apperrors.CodeMalformedFrame)
	}

	_, err = Crop(CaptureFrame{}, nil)
	if !apperrors.IsCode(err, apperrors.CodeMalformedFrame) {
		t.Errorf("Crop(empty) error = %v, want %s", err, apperrors.CodeMalformedFrame)
	}
}

func TestCloneDoesNotAlias(t *testing.T) {
	f := patterned(6, 6)
	v, _ := Crop(f, &Region{X: 1, Y: 1, W: 2, H: 2})
	c := v.Clone()

	f.Pix[(1*6+1)*4] = 200
	if c.Pix[0] == 200 {
		t.Error("clone should not see later writes to the frame")
	}
	if !c.Contiguous() {
		t.Error("clone should be packed")
	}
}

func TestParseRegion(t *testing.T) {
	r, err := ParseRegion(" 10, 20,300,400 ")
	if err != nil {
		t.Fatalf("ParseRegion() error = %v", err)
	}
	if *r != (Region{10, 20, 300, 400}) {
		t.Errorf("ParseRegion() = %+v", *r)
	}
	if r.String() != "10,20,300,400" {
		t.Errorf("String() = %q", r.String())
	}

	if r, err := ParseRegion(""); r != nil || err != nil {
		t.Errorf("ParseRegion(\"\") = %v, %v, want nil, nil", r, err)
	}
	for _, bad := range []string{"1,2,3", "a,b,c,d", "0,0,0,5"} {
		if _, err := ParseRegion(bad); !apperrors.IsConfig(err) {
			t.Errorf("ParseRegion(%q) error = %v, want config error", bad, err)
		}
	}
}

func TestDecodeAndFromImage(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 5, 3))
	img.Set(4, 2, color.NRGBA{R: 10, G: 20, B: 30, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}

	f, err := Decode(buf.Bytes(), 2)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if f.Width != 5 || f.Height != 3 || f.MonitorID != 2 {
		t.Errorf("frame = %dx%d monitor %d", f.Width, f.Height, f.MonitorID)
	}
	if f.CaptureID == "" || f.Timestamp.IsZero() {
		t.Error("Decode should assign capture id and timestamp")
	}
	if err := f.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
	i := (2*5 + 4) * BytesPerPixel
	if f.Pix[i] != 10 || f.Pix[i+1] != 20 || f.Pix[i+2] != 30 {
		t.Errorf("pixel = %v, want [10 20 30]", f.Pix[i:i+3])
	}

	if _, err := Decode([]byte("not an image"), 0); !apperrors.IsCode(err, apperrors.CodeMalformedFrame) {
		t.Errorf("Decode(garbage) error = %v, want %s", err, apperrors.CodeMalformedFrame)
	}
}
