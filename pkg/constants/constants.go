// Package constants defines the shared default values and hard limits
// that pkg/pool, pkg/buffer, pkg/properties and pkg/engine are built
// against, so a single number change doesn't need to chase down every
// package that copied it as a literal.
package constants

import "time"

// Connection timeouts and limits
const (
	DefaultIdleTimeout = 90 * time.Second
	DefaultConnTimeout = 10 * time.Second
	DefaultReadTimeout = 30 * time.Second
	CleanupInterval    = 30 * time.Second
)

// HTTP limits
const (
	MaxContentLength = 1024 * 1024 * 1024 * 1024 // 1TB
)

// Buffer limits
const (
	DefaultBodyMemLimit = 4 * 1024 * 1024   // 4MB
	MaxRawBufferSize    = 100 * 1024 * 1024 // 100MB cap for raw buffer
)
