// Package transcript writes transcription results as txt, json, srt and vtt
// artifacts. Artifacts are named after the sanitized session identifier.
package transcript
