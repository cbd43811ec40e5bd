package diagnostics

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/nfnt/resize"
	"github.com/oklog/ulid/v2"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/phaysaal/seenslide-desktop/internal/decision"
	apperrors "github.com/phaysaal/seenslide-desktop/internal/errors"
	"github.com/phaysaal/seenslide-desktop/internal/frame"
	"github.com/phaysaal/seenslide-desktop/internal/resilience"
)

// Artifact file names inside one rejected-frame directory.
const (
	ManifestFile  = "decisions.jsonl"
	OriginalFile  = "original.png"
	CroppedFile   = "cropped.png"
	ThumbnailFile = "thumb.png"
	RecordFile    = "record.json"
)

// DiskOptions tunes DiskSink.
type DiskOptions struct {
	ThumbnailWidth  uint // 0 disables thumbnails
	ManifestMaxSize int  // megabytes before rotation
	ManifestBackups int
	Retry           resilience.Backoff
}

// DefaultDiskOptions returns the settings used by the server.
func DefaultDiskOptions() DiskOptions {
	return DiskOptions{
		ThumbnailWidth:  320,
		ManifestMaxSize: 10,
		ManifestBackups: 5,
		Retry:           resilience.DiskBackoff(),
	}
}

// DiskSink appends every decision to a rotated JSON-lines manifest and, for
// DUPLICATE records, writes the original and cropped frames under
// <dir>/<session>/<ulid>/ for later review.
type DiskSink struct {
	dir      string
	opts     DiskOptions
	manifest *lumberjack.Logger

	mu      sync.Mutex // guards entropy
	entropy *ulid.MonotonicEntropy
}

// NewDiskSink creates dir if needed.
func NewDiskSink(dir string, opts DiskOptions) (*DiskSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apperrors.Wrapf(err, apperrors.CodeSinkFailed, "create diagnostics dir %s", dir)
	}
	return &DiskSink{
		dir:  dir,
		opts: opts,
		manifest: &lumberjack.Logger{
			Filename:   filepath.Join(dir, ManifestFile),
			MaxSize:    opts.ManifestMaxSize,
			MaxBackups: opts.ManifestBackups,
		},
		entropy: ulid.Monotonic(rand.Reader, 0),
	}, nil
}

type manifestEntry struct {
	decision.Record
	Artifacts string `json:"artifacts,omitempty"`
}

// OnDecision writes artifacts for duplicates, then the manifest line for every verdict.
func (d *DiskSink) OnDecision(ctx context.Context, rec decision.Record, original, cropped frame.View) error {
	entry := manifestEntry{Record: rec}

	if rec.Verdict == decision.Duplicate && !original.Empty() {
		dir, err := d.writeArtifacts(ctx, rec, original, cropped)
		if err != nil {
			return err
		}
		entry.Artifacts = dir
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "marshal manifest entry")
	}
	line = append(line, '\n')
	return resilience.Retry(ctx, d.opts.Retry, func() error {
		if _, err := d.manifest.Write(line); err != nil {
			return apperrors.Wrap(err, apperrors.CodeSinkFailed, "append manifest")
		}
		return nil
	})
}

func (d *DiskSink) writeArtifacts(ctx context.Context, rec decision.Record, original, cropped frame.View) (string, error) {
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	dir := filepath.Join(d.dir, safeName(rec.SessionID), d.newID(ts))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", apperrors.Wrapf(err, apperrors.CodeSinkFailed, "create artifact dir %s", dir)
	}

	files := map[string]image.Image{
		OriginalFile: original.Image(),
	}
	if !cropped.Empty() {
		files[CroppedFile] = cropped.Image()
	}
	if d.opts.ThumbnailWidth > 0 {
		src := files[CroppedFile]
		if src == nil {
			src = files[OriginalFile]
		}
		files[ThumbnailFile] = resize.Resize(d.opts.ThumbnailWidth, 0, src, resize.Bilinear)
	}

	for name, img := range files {
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return "", apperrors.Wrapf(err, apperrors.CodeInternal, "encode %s", name)
		}
		if err := d.writeFile(ctx, filepath.Join(dir, name), buf.Bytes()); err != nil {
			return "", err
		}
	}

	meta, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.CodeInternal, "marshal record")
	}
	if err := d.writeFile(ctx, filepath.Join(dir, RecordFile), meta); err != nil {
		return "", err
	}
	return dir, nil
}

func (d *DiskSink) writeFile(ctx context.Context, path string, data []byte) error {
	return resilience.Retry(ctx, d.opts.Retry, func() error {
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return apperrors.Wrapf(err, apperrors.CodeSinkFailed, "write %s", filepath.Base(path))
		}
		return nil
	})
}

// newID returns a time-ordered, lexically sortable directory name.
func (d *DiskSink) newID(ts time.Time) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(ts), d.entropy).String()
}

// Close closes the manifest.
func (d *DiskSink) Close() error {
	return d.manifest.Close()
}

func safeName(s string) string {
	if s == "" {
		return "default"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
}
