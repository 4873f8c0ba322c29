// Package session implements the per-connection state machine of the live
// transcription service.
//
// A Session moves CONNECTING → OPEN → (STREAMING ⇄ OPEN) → FINALIZING → CLOSED.
// Transition is a pure function from (state, event) to (state, effects); the
// Session applies the effects. Finalizing converts the buffered audio,
// transcribes it on the shared engine and writes the transcript artifacts,
// reporting each step to the client.
package session
