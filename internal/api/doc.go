// Package api implements the HTTP REST API and WebSocket server for the Roku bridge.
//
// This package provides:
//   - REST endpoints for device state, command dispatch and media browsing
//   - An image proxy for browse thumbnails, backed by the image cache
//   - WebSocket hub pushing state changes to connected clients
//   - Prometheus exposition of bridge metrics
//   - Middleware stack (request ID, logging, recovery, metrics, CORS)
//
// # Architecture
//
// The API server sits beside the MQTT bridge and shares its dispatcher:
// commands posted here take the same path as commands arriving on
// graylogic/command/roku/{serial}, and every state the bridge publishes is
// also broadcast to WebSocket clients.
//
// # Graceful Degradation
//
// The server runs without MQTT; health then omits bus connectivity.
package api
