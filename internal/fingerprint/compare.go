package fingerprint

import (
	"bytes"
	"math/bits"
	"strconv"

	apperrors "github.com/phaysaal/seenslide-desktop/internal/errors"
)

// Outcome is the result of comparing two fingerprints.
// Distance and Bits are only meaningful for perceptual comparisons.
type Outcome struct {
	Score    float64 `json:"score"`
	Match    bool    `json:"match"`
	Distance int     `json:"distance,omitempty"`
	Bits     int     `json:"bits,omitempty"`
}

// Compare scores a against b. Exact fingerprints match only when byte-equal and
// ignore threshold. Perceptual fingerprints score 1 - distance/bits and match
// when the score is at least threshold.
func Compare(a, b Fingerprint, threshold float64) (Outcome, error) {
	if a.Kind != b.Kind || a.Bits != b.Bits {
		return Outcome{}, mismatch(a, b)
	}

	switch a.Kind {
	case KindExact:
		if bytes.Equal(a.Digest, b.Digest) {
			return Outcome{Score: 1, Match: true}, nil
		}
		return Outcome{Score: 0}, nil

	case KindPerceptual:
		if len(a.Hash) != len(b.Hash) || a.Bits <= 0 {
			return Outcome{}, mismatch(a, b)
		}
		d := 0
		for i := range a.Hash {
			d += bits.OnesCount64(a.Hash[i] ^ b.Hash[i])
		}
		score := 1 - float64(d)/float64(a.Bits)
		return Outcome{Score: score, Match: score >= threshold, Distance: d, Bits: a.Bits}, nil
	}
	return Outcome{}, mismatch(a, b)
}

func mismatch(a, b Fingerprint) error {
	return apperrors.Newf(apperrors.CodeKindMismatch, "cannot compare %s/%d with %s/%d",
		a.Kind, a.Bits, b.Kind, b.Bits).
		WithMetadata("left", a.Kind.String()+"/"+strconv.Itoa(a.Bits)).
		WithMetadata("right", b.Kind.String()+"/"+strconv.Itoa(b.Bits))
}
