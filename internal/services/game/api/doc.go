// Package api contains the game service transports.
//
// HTTP in api/http is the only player-facing surface. It serves the lobby,
// turn submission, results polling and the websocket status feed. The gRPC
// listener carries only the health service.
package api
