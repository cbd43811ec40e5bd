// Package decision defines the verdicts and audit records produced by the dedup engine.
package decision

import (
	"fmt"
	"time"

	"github.com/phaysaal/seenslide-desktop/internal/fingerprint"
)

// Verdict is the outcome of one evaluation.
type Verdict uint8

const (
	Unique Verdict = iota + 1
	Duplicate
)

func (v Verdict) String() string {
	switch v {
	case Unique:
		return "UNIQUE"
	case Duplicate:
		return "DUPLICATE"
	default:
		return "UNKNOWN"
	}
}

// MarshalText implements encoding.TextMarshaler. The zero verdict of a record
// that was never evaluated encodes as "".
func (v Verdict) MarshalText() ([]byte, error) {
	switch v {
	case 0:
		return []byte{}, nil
	case Unique, Duplicate:
		return []byte(v.String()), nil
	}
	return nil, fmt.Errorf("invalid verdict %d", v)
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (v *Verdict) UnmarshalText(b []byte) error {
	switch string(b) {
	case "":
		*v = 0
	case "UNIQUE":
		*v = Unique
	case "DUPLICATE":
		*v = Duplicate
	default:
		return fmt.Errorf("invalid verdict %q", b)
	}
	return nil
}

// NoStage marks a record without a matching stage.
const NoStage = -1

// StageResult is one executed comparison stage.
// Reference is 0 for the current reference and n for the n-th older accepted slide.
type StageResult struct {
	Stage     int                 `json:"stage"`
	Kind      fingerprint.Kind    `json:"kind"`
	Outcome   fingerprint.Outcome `json:"outcome"`
	Elapsed   time.Duration       `json:"elapsed_ns"`
	Reference int                 `json:"reference"`
}

// Record is the audit record of one evaluation. It is never mutated after
// the engine returns it.
type Record struct {
	SessionID    string        `json:"session_id"`
	CaptureID    string        `json:"capture_id"`
	MonitorID    int           `json:"monitor_id"`
	Verdict      Verdict       `json:"verdict"`
	MatchedStage int           `json:"matched_stage"`
	Stages       []StageResult `json:"stages"`
	Sequence     uint64        `json:"sequence,omitempty"`
	Timestamp    time.Time     `json:"timestamp"`
	CaptureTime  time.Time     `json:"capture_time"`
	Elapsed      time.Duration `json:"elapsed_ns"`
}

// Matched returns the stage that produced a DUPLICATE.
func (r Record) Matched() (StageResult, bool) {
	if r.Verdict != Duplicate || r.MatchedStage < 0 {
		return StageResult{}, false
	}
	for i := len(r.Stages) - 1; i >= 0; i-- {
		if r.Stages[i].Stage == r.MatchedStage && r.Stages[i].Outcome.Match {
			return r.Stages[i], true
		}
	}
	return StageResult{}, false
}

// Score is the matching stage's score, or the best score seen for a UNIQUE.
func (r Record) Score() float64 {
	if s, ok := r.Matched(); ok {
		return s.Outcome.Score
	}
	best := 0.0
	for _, s := range r.Stages {
		if s.Outcome.Score > best {
			best = s.Outcome.Score
		}
	}
	return best
}

// IsUnique reports a UNIQUE verdict.
func (r Record) IsUnique() bool { return r.Verdict == Unique }
