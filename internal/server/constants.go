// Package server exposes session control and the decision stream over HTTP,
// WebSocket and gRPC health
package server

import "time"

// Server configuration constants
const (
	// /api/decisions paging
	DefaultDecisionsLimit = 20
	MaxDecisionsLimit     = 500

	// Per-connection rate limit for inbound websocket messages
	RateLimitMessages = 10
	RateLimitWindow   = time.Second

	// Deadline for a single websocket write
	WriteTimeout = 5 * time.Second

	// Health service name reported over gRPC
	ServiceName = "seenslide.dedup"
)
