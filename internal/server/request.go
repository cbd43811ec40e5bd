package server

import (
	stderrors "errors"

	"github.com/go-playground/validator/v10"

	"github.com/phaysaal/seenslide-desktop/internal/config"
	"github.com/phaysaal/seenslide-desktop/internal/dedup"
	apperrors "github.com/phaysaal/seenslide-desktop/internal/errors"
	"github.com/phaysaal/seenslide-desktop/internal/fingerprint"
	"github.com/phaysaal/seenslide-desktop/internal/frame"
)

// StartBody is the POST /api/session/start payload. Omitted fields keep the
// daemon's default strategy. Tolerance (0-100) is an alternative to Threshold.
type StartBody struct {
	SessionID     string   `json:"session_id,omitempty" validate:"omitempty,max=128"`
	Strategy      string   `json:"strategy,omitempty" validate:"omitempty,oneof=exact hash perceptual hybrid"`
	Threshold     *float64 `json:"threshold,omitempty" validate:"omitempty,gte=0,lte=1"`
	Tolerance     *float64 `json:"tolerance,omitempty" validate:"omitempty,gte=0,lte=100"`
	HashSize      *int     `json:"hash_size,omitempty" validate:"omitempty,gt=0,lte=64"`
	HashAlgorithm string   `json:"hash_algorithm,omitempty" validate:"omitempty,oneof=md5 sha256"`
	CropRegion    *string  `json:"crop_region,omitempty"`
	HistoryDepth  *int     `json:"history_depth,omitempty" validate:"omitempty,gte=0,lte=64"`
}

var validate = validator.New()

func (b StartBody) empty() bool {
	return b.Strategy == "" && b.Threshold == nil && b.Tolerance == nil && b.HashSize == nil &&
		b.HashAlgorithm == "" && b.CropRegion == nil && b.HistoryDepth == nil
}

// Build applies the body's overrides to def. It returns nil when nothing is overridden.
func (b StartBody) Build(def dedup.Config) (*dedup.Config, error) {
	if err := validate.Struct(b); err != nil {
		var verrs validator.ValidationErrors
		if stderrors.As(err, &verrs) && len(verrs) > 0 {
			return nil, apperrors.Newf(apperrors.CodeConfigInvalid, "%s: failed %q", verrs[0].Field(), verrs[0].Tag()).
				WithMetadata("field", verrs[0].Field())
		}
		return nil, apperrors.Wrap(err, apperrors.CodeConfigInvalid, "validate start request")
	}
	if b.empty() {
		return nil, nil
	}

	threshold, hasThreshold := thresholdOf(def), false
	if b.Threshold != nil {
		threshold, hasThreshold = *b.Threshold, true
	}
	if b.Tolerance != nil {
		t, err := config.ThresholdFromTolerance(*b.Tolerance)
		if err != nil {
			return nil, err
		}
		threshold, hasThreshold = t, true
	}

	cfg := def
	cfg.Stages = append([]dedup.Stage(nil), def.Stages...)
	if b.Strategy != "" {
		preset, err := dedup.ConfigFor(b.Strategy, threshold)
		if err != nil {
			return nil, err
		}
		cfg.Stages = preset.Stages
	} else if hasThreshold {
		for i := range cfg.Stages {
			if cfg.Stages[i].Kind == fingerprint.KindPerceptual {
				cfg.Stages[i].Threshold = threshold
			}
		}
	}

	if b.HashSize != nil {
		cfg.HashSize = *b.HashSize
	}
	if b.HashAlgorithm != "" {
		cfg.HashAlgorithm = fingerprint.Algorithm(b.HashAlgorithm)
	}
	if b.CropRegion != nil {
		crop, err := frame.ParseRegion(*b.CropRegion)
		if err != nil {
			return nil, err
		}
		cfg.Crop = crop
	}
	if b.HistoryDepth != nil {
		cfg.HistoryDepth = *b.HistoryDepth
	}
	return &cfg, nil
}

// thresholdOf returns the perceptual threshold of cfg, or the package default.
func thresholdOf(cfg dedup.Config) float64 {
	for _, s := range cfg.Stages {
		if s.Kind == fingerprint.KindPerceptual {
			return s.Threshold
		}
	}
	return dedup.DefaultThreshold
}
