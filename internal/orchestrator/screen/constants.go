// Package screen drives the capture loop feeding frames into the dedup engine
package screen

// Capture loop constants
const (
	// Default frames per second when the caller passes a non-positive rate
	DefaultCaptureRate = 1.0

	// Log every Nth consecutive capture failure after the first
	FailureLogEvery = 30
)
