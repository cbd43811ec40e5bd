//go:build linux

package capture

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
)

type linuxBackend struct {
	tempDir string
	tool    string
}

func (l *linuxBackend) captureRaw(ctx context.Context, _ int) ([]byte, error) {
	tmpFile := filepath.Join(l.tempDir, "screenshot.png")
	var cmd *exec.Cmd
	switch l.tool {
	case "gnome-screenshot":
		cmd = exec.CommandContext(ctx, "gnome-screenshot", "-f", tmpFile)
	default:
		cmd = exec.CommandContext(ctx, "scrot", "-o", tmpFile)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s: %w: %s", l.tool, err, stderr.String())
	}
	return readAndRemove(tmpFile)
}

// New creates a screen source. gnome-screenshot is preferred, scrot is the
// fallback; both capture the whole X screen, so monitorID is only recorded.
func New(monitorID int) (*Screen, error) {
	tool := ""
	for _, candidate := range []string{"gnome-screenshot", "scrot"} {
		if _, err := exec.LookPath(candidate); err == nil {
			tool = candidate
			break
		}
	}
	if tool == "" {
		return nil, fmt.Errorf("%w: install gnome-screenshot or scrot", ErrUnsupported)
	}
	return newScreen(func(dir string) backend { return &linuxBackend{tempDir: dir, tool: tool} }, monitorID), nil
}
