// Package capture provides frame sources: the platform screenshot tools and a
// replay source over recorded images.
package capture

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/phaysaal/seenslide-desktop/internal/frame"
)

// ErrUnsupported is returned when the platform has no screenshot backend.
var ErrUnsupported = errors.New("screen capture not supported on this platform")

// Source produces frames for the capture loop.
type Source interface {
	Capture(ctx context.Context) (frame.CaptureFrame, error)
	Close() error
}

// backend implements platform-specific raw capture into PNG bytes.
// PNG keeps pixels lossless so exact fingerprints stay meaningful.
type backend interface {
	captureRaw(ctx context.Context, monitorID int) ([]byte, error)
}

// Screen captures one monitor through the platform backend.
type Screen struct {
	backend
	monitorID int
	tempDir   string
}

func newScreen(newBackend func(tempDir string) backend, monitorID int) *Screen {
	tmpDir, err := os.MkdirTemp("", "seenslide-capture-*")
	if err != nil {
		slog.Error("failed to create temp dir", "error", err)
		tmpDir = os.TempDir()
	}
	return &Screen{backend: newBackend(tmpDir), monitorID: monitorID, tempDir: tmpDir}
}

// Capture takes a screenshot and decodes it into a frame.
func (s *Screen) Capture(ctx context.Context) (frame.CaptureFrame, error) {
	data, err := s.captureRaw(ctx, s.monitorID)
	if err != nil {
		return frame.CaptureFrame{}, err
	}
	return frame.Decode(data, s.monitorID)
}

// Close removes the temp directory.
func (s *Screen) Close() error {
	if s.tempDir != "" && s.tempDir != os.TempDir() {
		return os.RemoveAll(s.tempDir)
	}
	return nil
}

// readAndRemove returns the screenshot bytes and deletes the file.
func readAndRemove(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	_ = os.Remove(path)
	return data, nil
}
