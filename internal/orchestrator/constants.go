// Package orchestrator runs dedup sessions over a capture source
package orchestrator

// Manager defaults
const (
	// Capture loop frequency in frames per second
	DefaultCaptureRate = 1.0

	// Decisions kept for the status API
	DefaultRecentSize = 100
)
