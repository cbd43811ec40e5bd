// Package config loads daemon configuration from defaults, an optional config
// file and SEENSLIDE_* environment variables.
package config

import (
	stderrors "errors"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/phaysaal/seenslide-desktop/internal/dedup"
	apperrors "github.com/phaysaal/seenslide-desktop/internal/errors"
	"github.com/phaysaal/seenslide-desktop/internal/fingerprint"
	"github.com/phaysaal/seenslide-desktop/internal/frame"
)

// EnvPrefix is prepended to every environment key, e.g. SEENSLIDE_THRESHOLD.
const EnvPrefix = "SEENSLIDE"

// ConfigFileEnv names a YAML/TOML/JSON file to read before the environment.
const ConfigFileEnv = EnvPrefix + "_CONFIG"

type Config struct {
	// Dedup strategy, fixed per session
	Strategy      string  `mapstructure:"strategy" validate:"oneof=exact hash perceptual hybrid"`
	Threshold     float64 `mapstructure:"threshold" validate:"gte=0,lte=1"`
	HashSize      int     `mapstructure:"hash_size" validate:"gt=0,lte=64"`
	HashAlgorithm string  `mapstructure:"hash_algorithm" validate:"oneof=md5 sha256"`
	CropRegion    string  `mapstructure:"crop_region"`
	HistoryDepth  int     `mapstructure:"history_depth" validate:"gte=0,lte=64"`

	// Capture
	CaptureRate float64 `mapstructure:"capture_rate" validate:"gt=0,lte=30"` // Hz
	MonitorID   int     `mapstructure:"monitor_id" validate:"gte=0"`
	ReplayDir   string  `mapstructure:"replay_dir"`
	AutoStart   bool    `mapstructure:"auto_start"`
	RecentSize  int     `mapstructure:"recent_size" validate:"gt=0,lte=10000"`

	// Diagnostics
	DiagnosticsDir string `mapstructure:"diagnostics_dir"`

	// Surfaces
	HTTPAddr string `mapstructure:"http_addr" validate:"required"`
	GRPCAddr string `mapstructure:"grpc_addr"`

	// Logging
	LogLevel string `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	LogFile  string `mapstructure:"log_file"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("strategy", dedup.StrategyHybrid)
	v.SetDefault("threshold", dedup.DefaultThreshold)
	v.SetDefault("hash_size", dedup.DefaultHashSize)
	v.SetDefault("hash_algorithm", string(fingerprint.DefaultAlgorithm))
	v.SetDefault("crop_region", "")
	v.SetDefault("history_depth", 0)
	v.SetDefault("capture_rate", 1.0)
	v.SetDefault("monitor_id", 1)
	v.SetDefault("replay_dir", "")
	v.SetDefault("auto_start", false)
	v.SetDefault("recent_size", 100)
	v.SetDefault("diagnostics_dir", "")
	v.SetDefault("http_addr", ":8000")
	v.SetDefault("grpc_addr", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", "")
}

// Load reads configuration from defaults, the file named by SEENSLIDE_CONFIG
// (if set) and the environment, in increasing precedence.
func Load() (*Config, error) {
	return LoadFile(os.Getenv(ConfigFileEnv))
}

// LoadFile is Load with an explicit config file. An empty path skips the file.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, apperrors.Wrapf(err, apperrors.CodeConfigInvalid, "read config file %s", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeConfigInvalid, "decode config")
	}
	cfg.Strategy = strings.ToLower(strings.TrimSpace(cfg.Strategy))
	cfg.HashAlgorithm = strings.ToLower(strings.TrimSpace(cfg.HashAlgorithm))
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field ranges and that the dedup strategy can be built.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if stderrors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return apperrors.Newf(apperrors.CodeConfigInvalid, "%s: failed %q (got %v)", fe.Field(), fe.Tag(), fe.Value()).
				WithMetadata("field", fe.Field())
		}
		return apperrors.Wrap(err, apperrors.CodeConfigInvalid, "validate config")
	}
	_, err := c.DedupConfig()
	return err
}

// DedupConfig builds the session strategy described by this configuration.
func (c *Config) DedupConfig() (dedup.Config, error) {
	cfg, err := dedup.ConfigFor(c.Strategy, c.Threshold)
	if err != nil {
		return dedup.Config{}, err
	}
	alg, err := fingerprint.ParseAlgorithm(c.HashAlgorithm)
	if err != nil {
		return dedup.Config{}, err
	}
	crop, err := frame.ParseRegion(c.CropRegion)
	if err != nil {
		return dedup.Config{}, err
	}
	cfg.HashSize = c.HashSize
	cfg.HashAlgorithm = alg
	cfg.Crop = crop
	cfg.HistoryDepth = c.HistoryDepth
	if err := cfg.Validate(); err != nil {
		return dedup.Config{}, err
	}
	return cfg, nil
}

// ThresholdFromTolerance maps a 0-100 tolerance slider onto a match threshold:
// tolerance 5 means frames 95% alike are duplicates.
func ThresholdFromTolerance(tolerance float64) (float64, error) {
	if tolerance < 0 || tolerance > 100 {
		return 0, apperrors.Newf(apperrors.CodeInvalidThreshold, "tolerance %v outside [0,100]", tolerance)
	}
	return (100 - tolerance) / 100, nil
}
