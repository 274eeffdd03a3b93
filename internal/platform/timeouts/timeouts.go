// Package timeouts defines shared timeout constants used across the chat
// process. Centralizing these values keeps the moderation and storage
// latency bounds discoverable and prevents drift between call sites.
package timeouts

import "time"

// Moderation caps a single content-safety classification call. A timeout is
// folded into the error verdict rather than surfaced to the sender.
const Moderation = 10 * time.Second

// Storage caps a single message-store append or history query.
const Storage = 5 * time.Second

// ReadHeader limits how long the HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long the HTTP server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second
