// Package diagnostics delivers decision records to best-effort sinks: logs,
// on-disk artifacts for rejected frames, and the event bus.
//
// Sink failures never reach the decision path. Dispatcher runs sinks on a
// background goroutine; Inline runs them synchronously and swallows errors.
package diagnostics

import (
	"context"
	"errors"
	"log/slog"

	"github.com/phaysaal/seenslide-desktop/internal/decision"
	"github.com/phaysaal/seenslide-desktop/internal/frame"
	"github.com/phaysaal/seenslide-desktop/internal/trace"
)

// Sink receives decisions. original and cropped are empty for UNIQUE records.
type Sink interface {
	OnDecision(ctx context.Context, rec decision.Record, original, cropped frame.View) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, rec decision.Record, original, cropped frame.View) error

// OnDecision calls f.
func (f SinkFunc) OnDecision(ctx context.Context, rec decision.Record, original, cropped frame.View) error {
	return f(ctx, rec, original, cropped)
}

type multi []Sink

// Multi fans a decision out to every sink and joins their errors.
func Multi(sinks ...Sink) Sink {
	out := make(multi, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (m multi) OnDecision(ctx context.Context, rec decision.Record, original, cropped frame.View) error {
	var errs []error
	for _, s := range m {
		if err := s.OnDecision(ctx, rec, original, cropped); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSink writes one structured log line per decision.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink logs through logger, or the trace-scoped default logger when nil.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// OnDecision logs the verdict, scores, and per-stage timings.
func (l *LogSink) OnDecision(ctx context.Context, rec decision.Record, _, _ frame.View) error {
	log := l.logger
	if log == nil {
		log = trace.Logger(ctx)
	}

	stages := make([]any, 0, len(rec.Stages))
	for _, s := range rec.Stages {
		stages = append(stages, slog.Group(s.Kind.String(),
			"score", s.Outcome.Score,
			"match", s.Outcome.Match,
			"reference", s.Reference,
			"elapsed", s.Elapsed,
		))
	}

	level := slog.LevelDebug
	if rec.Verdict == decision.Unique {
		level = slog.LevelInfo
	}
	log.LogAttrs(ctx, level, "slide decision",
		slog.String("session_id", rec.SessionID),
		slog.String("capture_id", rec.CaptureID),
		slog.String("verdict", rec.Verdict.String()),
		slog.Float64("score", rec.Score()),
		slog.Int("matched_stage", rec.MatchedStage),
		slog.Uint64("sequence", rec.Sequence),
		slog.Duration("elapsed", rec.Elapsed),
		slog.Group("stages", stages...),
	)
	return nil
}

// Publisher is the event bus side of BusSink.
type Publisher interface {
	PublishDecision(ctx context.Context, rec decision.Record) error
}

// BusSink forwards records to the event bus.
type BusSink struct {
	pub Publisher
}

// NewBusSink creates a sink publishing on pub.
func NewBusSink(pub Publisher) *BusSink { return &BusSink{pub: pub} }

// OnDecision publishes rec.
func (b *BusSink) OnDecision(ctx context.Context, rec decision.Record, _, _ frame.View) error {
	return b.pub.PublishDecision(ctx, rec)
}
