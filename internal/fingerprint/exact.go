package fingerprint

import (
	"crypto/md5"
	"crypto/sha256"
	"hash"
	"strings"

	apperrors "github.com/phaysaal/seenslide-desktop/internal/errors"
	"github.com/phaysaal/seenslide-desktop/internal/frame"
)

// Algorithm selects the digest used by the exact computer.
type Algorithm string

const (
	AlgorithmMD5    Algorithm = "md5"
	AlgorithmSHA256 Algorithm = "sha256"
)

// DefaultAlgorithm matches the digest used by recorded sessions.
const DefaultAlgorithm = AlgorithmMD5

// ParseAlgorithm maps a config value onto an Algorithm. Empty selects the default.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch a := Algorithm(strings.ToLower(strings.TrimSpace(s))); a {
	case "":
		return DefaultAlgorithm, nil
	case AlgorithmMD5, AlgorithmSHA256:
		return a, nil
	}
	return "", apperrors.Newf(apperrors.CodeInvalidAlgorithm, "unsupported hash algorithm %q", s).
		WithMetadata("algorithm", s)
}

func (a Algorithm) newHash() (hash.Hash, error) {
	switch a {
	case AlgorithmMD5, "":
		return md5.New(), nil
	case AlgorithmSHA256:
		return sha256.New(), nil
	}
	return nil, apperrors.Newf(apperrors.CodeInvalidAlgorithm, "unsupported hash algorithm %q", string(a))
}

// ExactHasher digests the raw pixel bytes of a view.
type ExactHasher struct {
	alg Algorithm
}

// NewExact returns an exact computer for alg.
func NewExact(alg Algorithm) (*ExactHasher, error) {
	if _, err := alg.newHash(); err != nil {
		return nil, err
	}
	if alg == "" {
		alg = DefaultAlgorithm
	}
	return &ExactHasher{alg: alg}, nil
}

// Kind returns KindExact.
func (e *ExactHasher) Kind() Kind { return KindExact }

// Algorithm returns the digest in use.
func (e *ExactHasher) Algorithm() Algorithm { return e.alg }

// Compute feeds the view row by row into the digest, without copying pixels.
func (e *ExactHasher) Compute(v frame.View) (Fingerprint, error) {
	h, err := e.alg.newHash()
	if err != nil {
		return Fingerprint{}, err
	}
	for y := 0; y < v.Height; y++ {
		h.Write(v.Row(y))
	}
	sum := h.Sum(nil)
	return Fingerprint{Kind: KindExact, Digest: sum, Bits: len(sum) * 8}, nil
}
