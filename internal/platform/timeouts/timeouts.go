// Package timeouts defines shared timeout constants used across processes.
package timeouts

import "time"

// GRPCDial caps the wait time when dialing a gRPC peer.
const GRPCDial = 2 * time.Second

// StoreOpen caps how long a process waits for its database to accept connections.
const StoreOpen = 10 * time.Second

// CacheDial caps the initial Redis ping when the unread cache is enabled.
const CacheDial = 3 * time.Second

// Shutdown limits how long a server waits for in-flight requests during
// graceful shutdown.
const Shutdown = 5 * time.Second
