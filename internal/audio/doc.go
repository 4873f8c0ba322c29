// Package audio holds the per-session audio accumulator and the WAV helpers
// used to check that transcoded output matches the mono 16 kHz 16-bit profile.
package audio
