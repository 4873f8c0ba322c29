// Package transcode converts buffered session audio into mono 16 kHz 16-bit WAV
// through an external ffmpeg process fed over its standard input.
package transcode
