// Package server implements the relay's HTTP and WebSocket gateway.
//
// The implementation is organized into specialized files for configuration,
// logging, clients, routing, and HTTP handlers. Room state lives in the room
// package; this package only validates upgrades, runs the per-connection
// pumps and forwards frames to the coordinator.
package server
