// Package vad provides a lightweight energy based voice activity detector.
// The transcription engine uses it to skip inference on waveforms that
// contain no speech at all.
package vad
