// Package protocol owns the agent channel wire contract.
//
// Ownership boundary:
// - inbound message decoding (register, ping, telemetry)
// - the closed telemetry category set and its storage policies
// - outbound command and pong envelopes
//
// Messages are JSON objects carried one per WebSocket text frame.
package protocol
