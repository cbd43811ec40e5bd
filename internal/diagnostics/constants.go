package diagnostics

import "time"

// Dispatcher defaults
const (
	DefaultQueueSize  = 256
	DefaultBatchSize  = 16
	DefaultFlushDelay = 500 * time.Millisecond
)
