// Package dedup decides whether a captured frame is a new slide or a repeat of
// the last accepted one.
package dedup

import (
	"math"
	"strconv"
	"strings"

	apperrors "github.com/phaysaal/seenslide-desktop/internal/errors"
	"github.com/phaysaal/seenslide-desktop/internal/fingerprint"
	"github.com/phaysaal/seenslide-desktop/internal/frame"
)

// Strategy defaults
const (
	DefaultThreshold = 0.95
	DefaultHashSize  = fingerprint.DefaultHashSize

	// MaxHistoryDepth caps the number of older slides searched per frame.
	MaxHistoryDepth = 64
)

// Strategy names
const (
	StrategyExact      = "exact"
	StrategyPerceptual = "perceptual"
	StrategyHybrid     = "hybrid"
	StrategyCustom     = "custom"
)

// Stage is one comparison step. Threshold is ignored by exact stages.
type Stage struct {
	Kind      fingerprint.Kind `json:"kind"`
	Threshold float64          `json:"threshold"`
}

// Config is the per-session strategy. It is fixed for the session's lifetime.
type Config struct {
	Stages        []Stage               `json:"stages"`
	HashSize      int                   `json:"hash_size"`
	HashAlgorithm fingerprint.Algorithm `json:"hash_algorithm"`
	Crop          *frame.Region         `json:"crop,omitempty"`
	// HistoryDepth > 0 also searches that many older accepted slides.
	HistoryDepth int `json:"history_depth"`
}

// ExactConfig matches only byte-identical frames.
func ExactConfig() Config {
	return Config{
		Stages:        []Stage{{Kind: fingerprint.KindExact, Threshold: 1}},
		HashSize:      DefaultHashSize,
		HashAlgorithm: fingerprint.DefaultAlgorithm,
	}
}

// PerceptualConfig matches frames whose average hash scores at least threshold.
func PerceptualConfig(threshold float64) Config {
	return Config{
		Stages:        []Stage{{Kind: fingerprint.KindPerceptual, Threshold: threshold}},
		HashSize:      DefaultHashSize,
		HashAlgorithm: fingerprint.DefaultAlgorithm,
	}
}

// HybridConfig runs the cheap exact stage first and falls back to perceptual.
func HybridConfig(threshold float64) Config {
	return Config{
		Stages: []Stage{
			{Kind: fingerprint.KindExact, Threshold: 1},
			{Kind: fingerprint.KindPerceptual, Threshold: threshold},
		},
		HashSize:      DefaultHashSize,
		HashAlgorithm: fingerprint.DefaultAlgorithm,
	}
}

// ConfigFor builds a preset by name. "hash" is accepted as an alias for "exact".
func ConfigFor(name string, threshold float64) (Config, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case StrategyExact, "hash":
		return ExactConfig(), nil
	case StrategyPerceptual:
		return PerceptualConfig(threshold), nil
	case StrategyHybrid:
		return HybridConfig(threshold), nil
	}
	return Config{}, apperrors.Newf(apperrors.CodeInvalidStrategy, "unknown strategy %q", name).
		WithMetadata("strategy", name)
}

func (c Config) withDefaults() Config {
	if c.HashSize == 0 {
		c.HashSize = DefaultHashSize
	}
	if c.HashAlgorithm == "" {
		c.HashAlgorithm = fingerprint.DefaultAlgorithm
	}
	return c
}

// Validate reports the first configuration error. Zero HashSize and
// HashAlgorithm are treated as defaults.
func (c Config) Validate() error {
	c = c.withDefaults()

	if len(c.Stages) == 0 {
		return apperrors.New(apperrors.CodeEmptyStages, "strategy has no stages")
	}
	for i, s := range c.Stages {
		if s.Kind != fingerprint.KindExact && s.Kind != fingerprint.KindPerceptual {
			return apperrors.Newf(apperrors.CodeInvalidStrategy, "stage %d has unknown kind %d", i, s.Kind).
				WithMetadata("stage", strconv.Itoa(i))
		}
		if math.IsNaN(s.Threshold) || s.Threshold < 0 || s.Threshold > 1 {
			return apperrors.Newf(apperrors.CodeInvalidThreshold, "stage %d threshold %v outside [0,1]", i, s.Threshold).
				WithMetadata("stage", strconv.Itoa(i))
		}
	}
	if err := fingerprint.ValidateHashSize(c.HashSize); err != nil {
		return err
	}
	if _, err := fingerprint.ParseAlgorithm(string(c.HashAlgorithm)); err != nil {
		return err
	}
	if c.Crop != nil {
		if err := c.Crop.Validate(); err != nil {
			return err
		}
	}
	if c.HistoryDepth < 0 || c.HistoryDepth > MaxHistoryDepth {
		return apperrors.Newf(apperrors.CodeConfigInvalid, "history depth %d outside [0,%d]", c.HistoryDepth, MaxHistoryDepth)
	}
	return nil
}

// Kinds returns each configured fingerprint kind once, in stage order.
func (c Config) Kinds() []fingerprint.Kind {
	var kinds []fingerprint.Kind
	seen := make(map[fingerprint.Kind]bool, 2)
	for _, s := range c.Stages {
		if !seen[s.Kind] {
			seen[s.Kind] = true
			kinds = append(kinds, s.Kind)
		}
	}
	return kinds
}

// Name returns the preset name the stages correspond to.
func (c Config) Name() string {
	switch {
	case len(c.Stages) == 1 && c.Stages[0].Kind == fingerprint.KindExact:
		return StrategyExact
	case len(c.Stages) == 1 && c.Stages[0].Kind == fingerprint.KindPerceptual:
		return StrategyPerceptual
	case len(c.Stages) == 2 && c.Stages[0].Kind == fingerprint.KindExact && c.Stages[1].Kind == fingerprint.KindPerceptual:
		return StrategyHybrid
	}
	return StrategyCustom
}
