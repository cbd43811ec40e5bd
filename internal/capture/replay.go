package capture

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/phaysaal/seenslide-desktop/internal/frame"
)

// Replay feeds image files from a directory in name order, then returns io.EOF.
// The capture id of each frame is its file name.
type Replay struct {
	mu        sync.Mutex
	files     []string
	next      int
	monitorID int
}

var imageExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true}

// NewReplay lists the PNG and JPEG files in dir.
func NewReplay(dir string, monitorID int) (*Replay, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read replay dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	slices.Sort(files)
	return &Replay{files: files, monitorID: monitorID}, nil
}

// NewReplayFiles replays the given files in the order given.
func NewReplayFiles(files []string, monitorID int) *Replay {
	return &Replay{files: slices.Clone(files), monitorID: monitorID}
}

// Len is the number of frames in the replay.
func (r *Replay) Len() int { return len(r.files) }

// Capture decodes the next file.
func (r *Replay) Capture(ctx context.Context) (frame.CaptureFrame, error) {
	if err := ctx.Err(); err != nil {
		return frame.CaptureFrame{}, err
	}
	r.mu.Lock()
	if r.next >= len(r.files) {
		r.mu.Unlock()
		return frame.CaptureFrame{}, io.EOF
	}
	path := r.files[r.next]
	r.next++
	r.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return frame.CaptureFrame{}, fmt.Errorf("read %s: %w", path, err)
	}
	f, err := frame.Decode(data, r.monitorID)
	if err != nil {
		return frame.CaptureFrame{}, err
	}
	f.CaptureID = filepath.Base(path)
	if info, err := os.Stat(path); err == nil {
		f.Timestamp = info.ModTime()
	}
	return f, nil
}

// Close is a no-op.
func (r *Replay) Close() error { return nil }
