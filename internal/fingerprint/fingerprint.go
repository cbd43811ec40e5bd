// Package fingerprint computes exact and perceptual fingerprints of frame views
// and compares them.
package fingerprint

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"

	apperrors "github.com/phaysaal/seenslide-desktop/internal/errors"
	"github.com/phaysaal/seenslide-desktop/internal/frame"
)

// Kind names a fingerprint algorithm family.
type Kind uint8

const (
	KindExact Kind = iota + 1
	KindPerceptual
)

func (k Kind) String() string {
	switch k {
	case KindExact:
		return "exact"
	case KindPerceptual:
		return "perceptual"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler. The zero Kind encodes as "".
func (k Kind) MarshalText() ([]byte, error) {
	switch k {
	case 0:
		return []byte{}, nil
	case KindExact, KindPerceptual:
		return []byte(k.String()), nil
	}
	return nil, fmt.Errorf("unknown fingerprint kind %d", k)
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*k = 0
		return nil
	}
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// ParseKind accepts "exact" (alias "hash") and "perceptual".
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "exact", "hash":
		return KindExact, nil
	case "perceptual":
		return KindPerceptual, nil
	}
	return 0, apperrors.Newf(apperrors.CodeInvalidStrategy, "unknown fingerprint kind %q", s)
}

// Fingerprint is a tagged derived value. Exact fingerprints carry Digest,
// perceptual ones carry Hash packed MSB-first into 64-bit words.
type Fingerprint struct {
	Kind   Kind
	Digest []byte
	Hash   []uint64
	Bits   int
}

// IsZero reports whether the fingerprint was never computed.
func (f Fingerprint) IsZero() bool { return f.Kind == 0 }

// Equal reports bit-for-bit equality, kind included.
func (f Fingerprint) Equal(o Fingerprint) bool {
	if f.Kind != o.Kind || f.Bits != o.Bits || len(f.Hash) != len(o.Hash) {
		return false
	}
	for i := range f.Hash {
		if f.Hash[i] != o.Hash[i] {
			return false
		}
	}
	return bytes.Equal(f.Digest, o.Digest)
}

func (f Fingerprint) String() string {
	switch f.Kind {
	case KindExact:
		return hex.EncodeToString(f.Digest)
	case KindPerceptual:
		var sb strings.Builder
		for _, w := range f.Hash {
			fmt.Fprintf(&sb, "%016x", w)
		}
		return sb.String()
	default:
		return ""
	}
}

// Computer derives one kind of fingerprint. Implementations are pure.
type Computer interface {
	Kind() Kind
	Compute(v frame.View) (Fingerprint, error)
}
