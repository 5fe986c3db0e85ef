// Package push owns the WebSocket push channels.
//
// Each connection moves Connecting -> Open -> Closed. While open it has one
// read pump, which rate limits and dispatches inbound frames, and one write
// pump, which is the only goroutine that writes to the socket. Closing a
// connection, for whatever reason, unbinds it from its session before the
// handle is dropped.
package push
