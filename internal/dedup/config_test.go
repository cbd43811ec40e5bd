package dedup

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/phaysaal/seenslide-desktop/internal/errors"
	"github.com/phaysaal/seenslide-desktop/internal/fingerprint"
	"github.com/phaysaal/seenslide-desktop/internal/frame"
)

func TestConfigFor(t *testing.T) {
	tests := []struct {
		name string
		want string
		kind []fingerprint.Kind
	}{
		{"exact", StrategyExact, []fingerprint.Kind{fingerprint.KindExact}},
		{"hash", StrategyExact, []fingerprint.Kind{fingerprint.KindExact}},
		{"Perceptual", StrategyPerceptual, []fingerprint.Kind{fingerprint.KindPerceptual}},
		{"hybrid", StrategyHybrid, []fingerprint.Kind{fingerprint.KindExact, fingerprint.KindPerceptual}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := ConfigFor(tt.name, 0.9)
			require.NoError(t, err)
			assert.Equal(t, tt.want, cfg.Name())
			assert.Equal(t, tt.kind, cfg.Kinds())
			assert.NoError(t, cfg.Validate())
		})
	}

	_, err := ConfigFor("ssim", 0.9)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeInvalidStrategy))
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		code   apperrors.Code
	}{
		{"no stages", func(c *Config) { c.Stages = nil }, apperrors.CodeEmptyStages},
		{"threshold above one", func(c *Config) { c.Stages[1].Threshold = 1.01 }, apperrors.CodeInvalidThreshold},
		{"negative threshold", func(c *Config) { c.Stages[1].Threshold = -0.1 }, apperrors.CodeInvalidThreshold},
		{"NaN threshold", func(c *Config) { c.Stages[1].Threshold = math.NaN() }, apperrors.CodeInvalidThreshold},
		{"unknown kind", func(c *Config) { c.Stages[0].Kind = 9 }, apperrors.CodeInvalidStrategy},
		{"hash size 4", func(c *Config) { c.HashSize = 4 }, apperrors.CodeInvalidHashSize},
		{"negative hash size", func(c *Config) { c.HashSize = -8 }, apperrors.CodeInvalidHashSize},
		{"unknown algorithm", func(c *Config) { c.HashAlgorithm = "crc32" }, apperrors.CodeInvalidAlgorithm},
		{"degenerate crop", func(c *Config) { c.Crop = &frame.Region{X: 0, Y: 0, W: 0, H: 10} }, apperrors.CodeInvalidCropRegion},
		{"negative history", func(c *Config) { c.HistoryDepth = -1 }, apperrors.CodeConfigInvalid},
		{"history too deep", func(c *Config) { c.HistoryDepth = MaxHistoryDepth + 1 }, apperrors.CodeConfigInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := HybridConfig(DefaultThreshold)
			tt.mutate(&cfg)

			err := cfg.Validate()
			assert.True(t, apperrors.IsCode(err, tt.code), "Validate() = %v, want %s", err, tt.code)
			assert.True(t, apperrors.IsConfig(err))

			_, err = New(cfg)
			assert.Error(t, err)
		})
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{Stages: []Stage{{Kind: fingerprint.KindPerceptual, Threshold: 0}}}
	require.NoError(t, cfg.Validate())

	e, err := New(cfg)
	require.NoError(t, err)
	assert.Equal(t, DefaultHashSize, e.Config().HashSize)
	assert.Equal(t, fingerprint.AlgorithmMD5, e.Config().HashAlgorithm)

	boundary := PerceptualConfig(1)
	assert.NoError(t, boundary.Validate())
}

func TestConfigNameCustom(t *testing.T) {
	cfg := Config{Stages: []Stage{
		{Kind: fingerprint.KindPerceptual, Threshold: 0.9},
		{Kind: fingerprint.KindExact, Threshold: 1},
	}}
	assert.Equal(t, StrategyCustom, cfg.Name())
	assert.Equal(t, []fingerprint.Kind{fingerprint.KindPerceptual, fingerprint.KindExact}, cfg.Kinds())
}
