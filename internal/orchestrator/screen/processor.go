// Package screen drives the capture loop feeding frames into the dedup engine
package screen

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/phaysaal/seenslide-desktop/internal/capture"
	"github.com/phaysaal/seenslide-desktop/internal/decision"
	apperrors "github.com/phaysaal/seenslide-desktop/internal/errors"
	"github.com/phaysaal/seenslide-desktop/internal/frame"
	"github.com/phaysaal/seenslide-desktop/internal/trace"
)

// Evaluator decides one frame at a time.
type Evaluator interface {
	ProcessFrame(ctx context.Context, f frame.CaptureFrame) (decision.Record, error)
}

// Stats counts loop activity since the processor was created.
type Stats struct {
	Captured       uint64 `json:"captured"`
	CaptureErrors  uint64 `json:"capture_errors"`
	Rejected       uint64 `json:"rejected"`
	FailureStreak  int    `json:"failure_streak"`
	LastCaptureErr string `json:"last_capture_error,omitempty"`
}

// Processor pulls frames from a source at a fixed rate and evaluates them.
type Processor struct {
	source capture.Source
	eval   Evaluator

	mu    sync.RWMutex
	last  *decision.Record
	stats Stats
}

// NewProcessor creates a screen processor.
func NewProcessor(source capture.Source, eval Evaluator) *Processor {
	return &Processor{source: source, eval: eval}
}

// Run starts the capture loop. It returns nil when stopped or when the source
// is exhausted, and the error when a frame fails with a configuration error.
func (p *Processor) Run(ctx context.Context, captureRate float64, stopCh <-chan struct{}) error {
	if captureRate <= 0 {
		captureRate = DefaultCaptureRate
	}
	interval := time.Duration(float64(time.Second) / captureRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log := trace.Logger(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-stopCh:
			return nil
		case <-ticker.C:
			f, err := p.source.Capture(ctx)
			if errors.Is(err, io.EOF) {
				log.Info("capture source exhausted")
				return nil
			}
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				p.captureFailed(ctx, err)
				continue
			}
			if err := p.Step(ctx, f); err != nil {
				return err
			}
		}
	}
}

// Step evaluates a single frame. Malformed frames are logged and skipped;
// configuration errors are returned since every later frame would fail the same way.
func (p *Processor) Step(ctx context.Context, f frame.CaptureFrame) error {
	p.mu.Lock()
	p.stats.Captured++
	p.stats.FailureStreak = 0
	p.mu.Unlock()

	rec, err := p.eval.ProcessFrame(ctx, f)
	if err != nil {
		if apperrors.IsConfig(err) {
			return err
		}
		p.mu.Lock()
		p.stats.Rejected++
		p.mu.Unlock()
		trace.Logger(ctx).Warn("frame rejected", "capture_id", f.CaptureID, "error", err)
		return nil
	}

	p.mu.Lock()
	p.last = &rec
	p.mu.Unlock()
	return nil
}

func (p *Processor) captureFailed(ctx context.Context, err error) {
	p.mu.Lock()
	p.stats.CaptureErrors++
	p.stats.FailureStreak++
	p.stats.LastCaptureErr = err.Error()
	streak := p.stats.FailureStreak
	p.mu.Unlock()

	if streak == 1 || streak%FailureLogEvery == 0 {
		trace.Logger(ctx).Warn("capture failed", "error", err, "streak", streak)
	}
}

// Last returns the most recent decision, if any.
func (p *Processor) Last() (decision.Record, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.last == nil {
		return decision.Record{}, false
	}
	return *p.last, true
}

// Stats returns loop counters.
func (p *Processor) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.stats
}
