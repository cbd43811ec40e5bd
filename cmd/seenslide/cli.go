package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"

	"github.com/phaysaal/seenslide-desktop/internal/capture"
	"github.com/phaysaal/seenslide-desktop/internal/config"
	"github.com/phaysaal/seenslide-desktop/internal/decision"
	"github.com/phaysaal/seenslide-desktop/internal/dedup"
	"github.com/phaysaal/seenslide-desktop/internal/diagnostics"
	apperrors "github.com/phaysaal/seenslide-desktop/internal/errors"
	"github.com/phaysaal/seenslide-desktop/internal/fingerprint"
	"github.com/phaysaal/seenslide-desktop/internal/frame"
	"github.com/phaysaal/seenslide-desktop/internal/session"
)

var (
	uniqueColor    = color.New(color.FgGreen, color.Bold)
	duplicateColor = color.New(color.FgYellow)
	labelColor     = color.New(color.FgCyan)
)

// newCLIApp creates the CLI application with all commands.
func newCLIApp() *cli.App {
	app := &cli.App{
		Name:    "seenslide",
		Usage:   "Fingerprint screenshots and drop repeated slides",
		Version: Version,
		Commands: []*cli.Command{
			hashCmd(),
			compareCmd(),
			replayCmd(),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// strategyFlags are shared by commands that run the dedup engine.
func strategyFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "strategy", Aliases: []string{"s"}, Value: dedup.StrategyHybrid, Usage: "exact|perceptual|hybrid"},
		&cli.Float64Flag{Name: "threshold", Value: dedup.DefaultThreshold, Usage: "Perceptual match threshold in [0,1]"},
		&cli.Float64Flag{Name: "tolerance", Usage: "Tolerance percentage (0-100); overrides --threshold"},
		&cli.IntFlag{Name: "hash-size", Value: dedup.DefaultHashSize, Usage: "Perceptual hash grid size"},
		&cli.StringFlag{Name: "algorithm", Value: string(fingerprint.DefaultAlgorithm), Usage: "Exact digest: md5|sha256"},
		&cli.StringFlag{Name: "crop", Usage: "Crop region x,y,w,h"},
		&cli.IntFlag{Name: "history-depth", Usage: "Older slides to search besides the last one"},
	}
}

// strategyFromFlags builds and validates the strategy described by the flags.
func strategyFromFlags(c *cli.Context) (dedup.Config, error) {
	threshold := c.Float64("threshold")
	if c.IsSet("tolerance") {
		t, err := config.ThresholdFromTolerance(c.Float64("tolerance"))
		if err != nil {
			return dedup.Config{}, err
		}
		threshold = t
	}
	cfg, err := dedup.ConfigFor(c.String("strategy"), threshold)
	if err != nil {
		return dedup.Config{}, err
	}
	alg, err := fingerprint.ParseAlgorithm(c.String("algorithm"))
	if err != nil {
		return dedup.Config{}, err
	}
	crop, err := frame.ParseRegion(c.String("crop"))
	if err != nil {
		return dedup.Config{}, err
	}
	cfg.HashSize = c.Int("hash-size")
	cfg.HashAlgorithm = alg
	cfg.Crop = crop
	cfg.HistoryDepth = c.Int("history-depth")
	return cfg, cfg.Validate()
}

// hashCmd creates the hash command.
func hashCmd() *cli.Command {
	return &cli.Command{
		Name:      "hash",
		Usage:     "Print exact and perceptual fingerprints of images",
		ArgsUsage: "<image>...",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "hash-size", Value: dedup.DefaultHashSize, Usage: "Perceptual hash grid size"},
			&cli.StringFlag{Name: "algorithm", Value: string(fingerprint.DefaultAlgorithm), Usage: "Exact digest: md5|sha256"},
			&cli.StringFlag{Name: "crop", Usage: "Crop region x,y,w,h"},
			&cli.BoolFlag{Name: "json", Usage: "Emit one JSON object per image"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return outputError(apperrors.New(apperrors.CodeConfigInvalid, "at least one image is required"))
			}
			alg, err := fingerprint.ParseAlgorithm(c.String("algorithm"))
			if err != nil {
				return outputError(err)
			}
			exact, err := fingerprint.NewExact(alg)
			if err != nil {
				return outputError(err)
			}
			perceptual, err := fingerprint.NewPerceptual(c.Int("hash-size"))
			if err != nil {
				return outputError(err)
			}
			crop, err := frame.ParseRegion(c.String("crop"))
			if err != nil {
				return outputError(err)
			}

			w := c.App.Writer
			for _, path := range c.Args().Slice() {
				f, err := loadFrame(path)
				if err != nil {
					return outputError(err)
				}
				view, err := frame.Crop(f, crop)
				if err != nil {
					return outputError(err)
				}
				ex, err := exact.Compute(view)
				if err != nil {
					return outputError(err)
				}
				pe, err := perceptual.Compute(view)
				if err != nil {
					return outputError(err)
				}

				if c.Bool("json") {
					if err := outputJSON(w, map[string]any{
						"file": path, "width": view.Width, "height": view.Height,
						"exact": ex.String(), "perceptual": pe.String(), "bits": pe.Bits,
					}); err != nil {
						return err
					}
					continue
				}
				labelColor.Fprintf(w, "%s", path)
				fmt.Fprintf(w, " %dx%d\n  %s %s\n  perceptual(%d) %s\n", view.Width, view.Height, alg, ex, pe.Bits, pe)
			}
			return nil
		},
	}
}

// compareCmd creates the compare command.
func compareCmd() *cli.Command {
	return &cli.Command{
		Name:      "compare",
		Usage:     "Decide whether <candidate> repeats <reference>",
		ArgsUsage: "<reference> <candidate>",
		Flags:     append(strategyFlags(), &cli.BoolFlag{Name: "json", Usage: "Emit the decision record as JSON"}),
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return outputError(apperrors.New(apperrors.CodeConfigInvalid, "compare needs exactly two images"))
			}
			cfg, err := strategyFromFlags(c)
			if err != nil {
				return outputError(err)
			}
			engine, err := dedup.New(cfg)
			if err != nil {
				return outputError(err)
			}

			st := engine.NewSession("compare")
			ctx := c.Context
			var rec decision.Record
			for _, path := range c.Args().Slice() {
				f, err := loadFrame(path)
				if err != nil {
					return outputError(err)
				}
				if rec, err = engine.Evaluate(ctx, st, f); err != nil {
					return outputError(err)
				}
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, rec)
			}
			printRecord(c.App.Writer, rec, true)
			return nil
		},
	}
}

// replayCmd creates the replay command.
func replayCmd() *cli.Command {
	return &cli.Command{
		Name:      "replay",
		Usage:     "Run a dedup session over a directory of screenshots in name order",
		ArgsUsage: "<dir>",
		Flags: append(strategyFlags(),
			&cli.StringFlag{Name: "diagnostics", Aliases: []string{"d"}, Usage: "Write duplicate artifacts and a decision manifest here"},
			&cli.BoolFlag{Name: "json", Usage: "Emit one JSON decision per line, then the summary"},
			&cli.BoolFlag{Name: "quiet", Aliases: []string{"q"}, Usage: "Only print the summary"},
		),
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return outputError(apperrors.New(apperrors.CodeConfigInvalid, "replay needs a directory"))
			}
			cfg, err := strategyFromFlags(c)
			if err != nil {
				return outputError(err)
			}
			src, err := capture.NewReplay(c.Args().First(), 0)
			if err != nil {
				return outputError(err)
			}
			defer src.Close()

			var opts []dedup.Option
			if dir := c.String("diagnostics"); dir != "" {
				disk, err := diagnostics.NewDiskSink(dir, diagnostics.DefaultDiskOptions())
				if err != nil {
					return outputError(err)
				}
				defer disk.Close()
				opts = append(opts, dedup.WithNotifier(diagnostics.Inline{Sink: disk}))
			}
			engine, err := dedup.New(cfg, opts...)
			if err != nil {
				return outputError(err)
			}

			w := c.App.Writer
			st := engine.NewSession("")
			if err := replay(c.Context, w, engine, st, src, c.Bool("json"), c.Bool("quiet")); err != nil {
				return outputError(err)
			}

			snap := st.Snapshot()
			snap.Strategy = cfg.Name()
			if c.Bool("json") {
				return outputJSON(w, snap)
			}
			labelColor.Fprintf(w, "session %s (%s)\n", snap.SessionID, snap.Strategy)
			fmt.Fprintf(w, "  frames %d  unique %d  duplicate %d  rejection %.1f%%\n",
				snap.Total, snap.UniqueCount, snap.DuplicateCount, snap.RejectionRate*100)
			for _, kind := range slices.Sorted(maps.Keys(snap.StageMatches)) {
				fmt.Fprintf(w, "  %s matches %d\n", kind, snap.StageMatches[kind])
			}
			return nil
		},
	}
}

// replay evaluates every frame of src in order. Malformed frames are reported and skipped.
func replay(ctx context.Context, w io.Writer, engine *dedup.Engine, st *session.State, src capture.Source, asJSON, quiet bool) error {
	for {
		f, err := src.Capture(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		rec, err := engine.Evaluate(ctx, st, f)
		if err != nil {
			if apperrors.IsConfig(err) {
				return err
			}
			fmt.Fprintf(w, "skip %s: %v\n", f.CaptureID, err)
			continue
		}
		switch {
		case asJSON:
			if err := outputJSON(w, rec); err != nil {
				return err
			}
		case !quiet:
			printRecord(w, rec, false)
		}
	}
}

// printRecord writes a one-line verdict, plus per-stage scores when verbose.
func printRecord(w io.Writer, rec decision.Record, verbose bool) {
	if rec.IsUnique() {
		uniqueColor.Fprintf(w, "%-9s", "UNIQUE")
		fmt.Fprintf(w, " %s  slide %d\n", rec.CaptureID, rec.Sequence)
	} else {
		duplicateColor.Fprintf(w, "%-9s", "DUPLICATE")
		fmt.Fprintf(w, " %s  stage %d score %.6f\n", rec.CaptureID, rec.MatchedStage, rec.Score())
	}
	if !verbose {
		return
	}
	for _, sr := range rec.Stages {
		fmt.Fprintf(w, "  stage %d %-10s score %.6f match %-5t ref %d\n",
			sr.Stage, sr.Kind, sr.Outcome.Score, sr.Outcome.Match, sr.Reference)
	}
}

// loadFrame decodes an image file. The capture id is the file name.
func loadFrame(path string) (frame.CaptureFrame, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return frame.CaptureFrame{}, fmt.Errorf("read %s: %w", path, err)
	}
	f, err := frame.Decode(data, 0)
	if err != nil {
		return frame.CaptureFrame{}, err
	}
	f.CaptureID = filepath.Base(path)
	return f, nil
}

// outputJSON writes v as one JSON line.
func outputJSON(w io.Writer, v any) error {
	return json.NewEncoder(w).Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	if appErr, ok := apperrors.As(err); ok {
		return cli.Exit(fmt.Sprintf("[%s] %s", appErr.Code, appErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}
