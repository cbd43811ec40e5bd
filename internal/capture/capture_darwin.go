//go:build darwin

package capture

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
)

type darwinBackend struct{ tempDir string }

func (d *darwinBackend) captureRaw(ctx context.Context, monitorID int) ([]byte, error) {
	tmpFile := filepath.Join(d.tempDir, "screenshot.png")
	// -x: no sound, -D: display number (1-based)
	cmd := exec.CommandContext(ctx, "screencapture", "-x", "-t", "png", "-D", strconv.Itoa(monitorID+1), tmpFile)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("screencapture: %w: %s", err, stderr.String())
	}
	return readAndRemove(tmpFile)
}

// New creates a screen source for monitorID (0 is the main display).
func New(monitorID int) (*Screen, error) {
	return newScreen(func(dir string) backend { return &darwinBackend{tempDir: dir} }, monitorID), nil
}
