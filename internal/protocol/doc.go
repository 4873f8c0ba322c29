// Package protocol defines the WebSocket text frame protocol: the JSON
// {"type","payload"} envelope for control messages, the stop/end keywords,
// the per-frame acknowledgement, and the outbound JSON notifications.
// Binary frames carry raw audio and need no parsing.
package protocol
