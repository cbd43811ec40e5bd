//go:build !darwin && !linux

package capture

// New reports ErrUnsupported; use Replay on this platform.
func New(int) (*Screen, error) {
	return nil, ErrUnsupported
}
