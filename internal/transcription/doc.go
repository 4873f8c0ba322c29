// Package transcription turns 16 kHz mono waveforms into timed text.
//
// An Engine wraps one lazily loaded Model and serializes every call to it.
// Models are produced by a Loader for a device / precision Mode; the engine
// tries the configured modes in order and keeps the first that loads.
// Backends are a persistent faster-whisper helper process, a whisper
// compatible HTTP API with retry and exponential backoff, and Google Cloud
// Speech-to-Text v2.
package transcription
