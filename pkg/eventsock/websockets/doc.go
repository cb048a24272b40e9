// Package websockets provides the wire format and telemetry shared by the
// eventsock WebSocket client and server.
//
// Every event travels as a single text frame holding a JSON object with the
// event name under "e" and the payload under "d".
package websockets
