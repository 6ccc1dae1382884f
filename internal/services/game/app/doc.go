// Package server composes the game service into a runnable process.
//
// It opens the configured store, builds the registry, ledger, resolver,
// coordinator and identity issuer, and serves the HTTP API and the gRPC
// health service side by side with the lifecycle sweeper. Shutdown stops the
// listeners gracefully and drains pending turn resolutions.
package server
