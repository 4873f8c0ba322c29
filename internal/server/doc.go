// Package server exposes the live audio WebSocket endpoint and the HTTP
// monitoring API. Each accepted WebSocket connection is bound to a
// session.Session; its read loop feeds binary frames and text messages to the
// session in arrival order until the session closes.
package server
