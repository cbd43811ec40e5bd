package fingerprint

import (
	"github.com/corona10/goimagehash"

	apperrors "github.com/phaysaal/seenslide-desktop/internal/errors"
	"github.com/phaysaal/seenslide-desktop/internal/frame"
)

// Luminance grid sides. The default grid is 8x8 = 64 bits.
const (
	DefaultHashSize = 8
	MaxHashSize     = 64
)

// ValidateHashSize checks that size is at most MaxHashSize and that size*size
// bits pack into whole 64-bit words.
func ValidateHashSize(size int) error {
	if size > MaxHashSize {
		return apperrors.Newf(apperrors.CodeInvalidHashSize, "hash size %d exceeds %d", size, MaxHashSize)
	}
	if size <= 0 || (size*size)%64 != 0 {
		return apperrors.Newf(apperrors.CodeInvalidHashSize,
			"hash size %d: grid of %d bits is not a positive multiple of 64", size, size*size)
	}
	return nil
}

// PerceptualHasher is an average hash: the view is resized bilinearly to an
// NxN grid, converted to luminance, and each cell becomes one bit set when it
// is strictly brighter than the grid mean.
type PerceptualHasher struct {
	size int
}

// NewPerceptual returns a perceptual computer with an NxN grid.
func NewPerceptual(size int) (*PerceptualHasher, error) {
	if err := ValidateHashSize(size); err != nil {
		return nil, err
	}
	return &PerceptualHasher{size: size}, nil
}

// Kind returns KindPerceptual.
func (p *PerceptualHasher) Kind() Kind { return KindPerceptual }

// Size returns the grid side.
func (p *PerceptualHasher) Size() int { return p.size }

// Compute hashes the view in place; the view is wrapped, not copied.
func (p *PerceptualHasher) Compute(v frame.View) (Fingerprint, error) {
	if v.Empty() {
		return Fingerprint{}, apperrors.New(apperrors.CodeMalformedFrame, "cannot hash an empty view")
	}
	h, err := goimagehash.ExtAverageHash(v.Image(), p.size, p.size)
	if err != nil {
		return Fingerprint{}, apperrors.Wrap(err, apperrors.CodeInternal, "perceptual hash")
	}
	words := h.GetHash()
	out := make([]uint64, len(words))
	copy(out, words)
	return Fingerprint{Kind: KindPerceptual, Hash: out, Bits: p.size * p.size}, nil
}
