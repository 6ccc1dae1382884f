// Package timeouts defines shared timeout constants used across services.
package timeouts

import "time"

// GRPCDial caps the wait time when dialing a gRPC peer.
const GRPCDial = 2 * time.Second

// ReadHeader limits how long an HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long servers wait for in-flight requests and queued
// turn resolutions during graceful shutdown.
const Shutdown = 10 * time.Second

// ResolveTurn caps one background turn resolution, store calls included.
const ResolveTurn = 30 * time.Second

// StoreCall caps a single request-path store round trip.
const StoreCall = 3 * time.Second
