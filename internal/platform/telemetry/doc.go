// Package telemetry holds the operational metric instruments of the game
// service.
//
// Instruments are created from an OpenTelemetry meter. Without a configured
// meter provider the global no-op provider is used, so recording is always
// safe. A nil *TurnMetrics records nothing.
package telemetry
