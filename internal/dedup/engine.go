package dedup

import (
	"context"
	"strconv"
	"time"

	"github.com/phaysaal/seenslide-desktop/internal/decision"
	apperrors "github.com/phaysaal/seenslide-desktop/internal/errors"
	"github.com/phaysaal/seenslide-desktop/internal/fingerprint"
	"github.com/phaysaal/seenslide-desktop/internal/frame"
	"github.com/phaysaal/seenslide-desktop/internal/session"
	"github.com/phaysaal/seenslide-desktop/internal/trace"
)

// Notifier receives every decision after it is made, together with the full
// frame and the cropped comparison region. Both views are only valid during the call.
type Notifier interface {
	Notify(ctx context.Context, rec decision.Record, original, cropped frame.View)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, rec decision.Record, original, cropped frame.View)

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, rec decision.Record, original, cropped frame.View) {
	f(ctx, rec, original, cropped)
}

// Engine evaluates frames against a session's reference using a fixed strategy.
// It holds no per-session state and may be shared by sessions with the same Config.
type Engine struct {
	cfg       Config
	computers map[fingerprint.Kind]fingerprint.Computer
	notifier  Notifier
	now       func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithComputer replaces the computer for c.Kind().
func WithComputer(c fingerprint.Computer) Option {
	return func(e *Engine) { e.computers[c.Kind()] = c }
}

// WithNotifier sets the decision notifier.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithClock sets the clock used for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New validates cfg and builds an engine.
func New(cfg Config, opts ...Option) (*Engine, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:       cfg,
		computers: make(map[fingerprint.Kind]fingerprint.Computer, 2),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}

	for _, k := range cfg.Kinds() {
		if _, ok := e.computers[k]; ok {
			continue
		}
		c, err := newComputer(k, cfg)
		if err != nil {
			return nil, err
		}
		e.computers[k] = c
	}
	return e, nil
}

func newComputer(k fingerprint.Kind, cfg Config) (fingerprint.Computer, error) {
	if k == fingerprint.KindExact {
		return fingerprint.NewExact(cfg.HashAlgorithm)
	}
	return fingerprint.NewPerceptual(cfg.HashSize)
}

// Config returns the validated strategy.
func (e *Engine) Config() Config { return e.cfg }

// NewSession starts a session sized for this engine's history depth.
func (e *Engine) NewSession(id string) *session.State {
	return session.New(id, e.cfg.HistoryDepth)
}

// Evaluate decides whether f is a new slide for st. The frame's own crop region
// takes precedence over the strategy's. Config and input errors leave st untouched.
func (e *Engine) Evaluate(ctx context.Context, st *session.State, f frame.CaptureFrame) (decision.Record, error) {
	ctx, span := trace.StartSpan(ctx, "dedup.evaluate")
	defer span.End()
	start := time.Now()

	region := e.cfg.Crop
	if f.Region != nil {
		region = f.Region
	}
	view, err := frame.Crop(f, region)
	if err != nil {
		span.Fail(err)
		return decision.Record{}, err
	}

	rec := decision.Record{
		SessionID:    st.ID(),
		CaptureID:    f.CaptureID,
		MonitorID:    f.MonitorID,
		MatchedStage: decision.NoStage,
		CaptureTime:  f.Timestamp,
	}
	memo := make(map[fingerprint.Kind]fingerprint.Fingerprint, len(e.computers))

	err = st.Txn(func(h *session.History) error {
		if !h.HasReference() {
			ref, err := e.reference(view, memo)
			if err != nil {
				return err
			}
			rec.Verdict = decision.Unique
			rec.Sequence = h.Accept(ref)
			h.Record(rec)
			return nil
		}

		matched, err := e.runStages(view, memo, 0, h.Reference, &rec)
		depth := min(h.PastLen(), e.cfg.HistoryDepth)
		for i := 1; err == nil && !matched && i <= depth; i++ {
			past, _ := h.Past(i)
			matched, err = e.runStages(view, memo, i, lookup(past), &rec)
		}
		if err != nil {
			return err
		}

		if matched {
			rec.Verdict = decision.Duplicate
		} else {
			ref, err := e.reference(view, memo)
			if err != nil {
				return err
			}
			rec.Verdict = decision.Unique
			rec.Sequence = h.Accept(ref)
		}
		h.Record(rec)
		return nil
	})
	if err != nil {
		span.Fail(err)
		return decision.Record{}, err
	}

	rec.Timestamp = e.now()
	rec.Elapsed = time.Since(start)

	span.SetAttr("capture_id", rec.CaptureID)
	span.SetAttr("verdict", rec.Verdict.String())
	span.SetAttr("stages", len(rec.Stages))
	span.End()
	trace.Logger(ctx).Debug("frame evaluated", "span", span, "matched_stage", rec.MatchedStage, "sequence", rec.Sequence)

	if e.notifier != nil {
		e.notifier.Notify(ctx, rec, f.View(), view)
	}
	return rec, nil
}

// runStages compares the candidate against one reference, appending a result
// per executed stage and stopping at the first match.
func (e *Engine) runStages(view frame.View, memo map[fingerprint.Kind]fingerprint.Fingerprint, refIndex int,
	ref func(fingerprint.Kind) (fingerprint.Fingerprint, bool), rec *decision.Record) (bool, error) {
	for i, stage := range e.cfg.Stages {
		t0 := time.Now()
		cand, err := e.fingerprint(view, stage.Kind, memo)
		if err != nil {
			return false, err
		}
		against, ok := ref(stage.Kind)
		if !ok {
			return false, apperrors.Newf(apperrors.CodeKindMismatch, "reference has no %s fingerprint", stage.Kind).
				WithMetadata("stage", strconv.Itoa(i))
		}
		out, err := fingerprint.Compare(against, cand, stage.Threshold)
		if err != nil {
			return false, err
		}

		rec.Stages = append(rec.Stages, decision.StageResult{
			Stage:     i,
			Kind:      stage.Kind,
			Outcome:   out,
			Elapsed:   time.Since(t0),
			Reference: refIndex,
		})
		if out.Match {
			rec.MatchedStage = i
			return true, nil
		}
	}
	return false, nil
}

// reference computes every configured kind for a newly accepted frame.
func (e *Engine) reference(view frame.View, memo map[fingerprint.Kind]fingerprint.Fingerprint) (session.Reference, error) {
	ref := make(session.Reference, len(e.computers))
	for _, k := range e.cfg.Kinds() {
		fp, err := e.fingerprint(view, k, memo)
		if err != nil {
			return nil, err
		}
		ref[k] = fp
	}
	return ref, nil
}

func (e *Engine) fingerprint(view frame.View, k fingerprint.Kind, memo map[fingerprint.Kind]fingerprint.Fingerprint) (fingerprint.Fingerprint, error) {
	if fp, ok := memo[k]; ok {
		return fp, nil
	}
	c, ok := e.computers[k]
	if !ok {
		return fingerprint.Fingerprint{}, apperrors.Newf(apperrors.CodeInternal, "no computer for %s", k)
	}
	fp, err := c.Compute(view)
	if err != nil {
		return fingerprint.Fingerprint{}, err
	}
	memo[k] = fp
	return fp, nil
}

func lookup(ref session.Reference) func(fingerprint.Kind) (fingerprint.Fingerprint, bool) {
	return func(k fingerprint.Kind) (fingerprint.Fingerprint, bool) {
		fp, ok := ref[k]
		return fp, ok
	}
}
