package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// Canonical waveform profile expected by the transcription engine
const (
	ProfileSampleRate    = 16000
	ProfileChannels      = 1
	ProfileBitsPerSample = 16
)

// ErrProfileMismatch is returned when a waveform is not mono 16 kHz 16-bit PCM
var ErrProfileMismatch = errors.New("waveform does not match mono/16kHz/16-bit profile")

// WAVHeader represents the canonical 44-byte header of a PCM WAV file
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16  // Number of channels
	SampleRate    uint32  // Sample rate
	ByteRate      uint32  // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16  // NumChannels * BitsPerSample / 8
	BitsPerSample uint16  // Bits per sample
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // Number of bytes in the data
}

// WAVInfo holds the format fields of a WAV file
type WAVInfo struct {
	AudioFormat   uint16  `json:"audio_format"`
	SampleRate    uint32  `json:"sample_rate"`
	Channels      uint16  `json:"channels"`
	BitsPerSample uint16  `json:"bits_per_sample"`
	Duration      float64 `json:"duration_seconds"`
	DataSize      uint32  `json:"data_size_bytes"`
	NumSamples    uint32  `json:"num_samples"`
	DataOffset    int64   `json:"-"`
}

// MatchesProfile reports whether the waveform is mono 16 kHz 16-bit PCM
func (w *WAVInfo) MatchesProfile() bool {
	return w.AudioFormat == 1 &&
		w.SampleRate == ProfileSampleRate &&
		w.Channels == ProfileChannels &&
		w.BitsPerSample == ProfileBitsPerSample
}

// EncodeWAV encodes mono PCM-16 samples into WAV format
func EncodeWAV(samples []int16, sampleRate int) ([]byte, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("cannot encode empty audio samples")
	}

	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	numChannels := uint16(1)
	bitsPerSample := uint16(16)
	dataSize := uint32(len(samples) * 2)

	header := WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   numChannels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * uint32(numChannels) * uint32(bitsPerSample) / 8,
		BlockAlign:    numChannels * bitsPerSample / 8,
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, 44+len(samples)*2))
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}
	if err := binary.Write(buf, binary.LittleEndian, samples); err != nil {
		return nil, fmt.Errorf("failed to write audio data: %w", err)
	}

	return buf.Bytes(), nil
}

// ReadWAVInfo walks the RIFF chunks of r and returns the fmt and data fields.
// Unknown chunks (LIST, fact, ...) are skipped, so ffmpeg output is accepted.
func ReadWAVInfo(r io.ReadSeeker) (*WAVInfo, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return nil, fmt.Errorf("WAV data too short: %w", err)
	}
	if string(riff[0:4]) != "RIFF" {
		return nil, fmt.Errorf("invalid WAV file: missing RIFF header")
	}
	if string(riff[8:12]) != "WAVE" {
		return nil, fmt.Errorf("invalid WAV file: missing WAVE format")
	}

	info := &WAVInfo{}
	offset := int64(12)
	haveFmt := false

	for {
		var hdr [8]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			if haveFmt {
				return nil, fmt.Errorf("invalid WAV file: missing data chunk")
			}
			return nil, fmt.Errorf("invalid WAV file: missing fmt chunk")
		}
		id := string(hdr[0:4])
		size := binary.LittleEndian.Uint32(hdr[4:8])
		offset += 8

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, fmt.Errorf("invalid WAV file: fmt chunk too short (%d bytes)", size)
			}
			var f [16]byte
			if _, err := io.ReadFull(r, f[:]); err != nil {
				return nil, fmt.Errorf("failed to read fmt chunk: %w", err)
			}
			info.AudioFormat = binary.LittleEndian.Uint16(f[0:2])
			info.Channels = binary.LittleEndian.Uint16(f[2:4])
			info.SampleRate = binary.LittleEndian.Uint32(f[4:8])
			info.BitsPerSample = binary.LittleEndian.Uint16(f[14:16])
			haveFmt = true
			if err := skip(r, int64(size)-16+int64(size&1)); err != nil {
				return nil, err
			}
		case "data":
			if !haveFmt {
				return nil, fmt.Errorf("invalid WAV file: data chunk before fmt chunk")
			}
			info.DataSize = size
			info.DataOffset = offset
			if info.BitsPerSample >= 8 && info.Channels > 0 {
				frame := uint32(info.BitsPerSample/8) * uint32(info.Channels)
				info.NumSamples = size / frame
			}
			if info.SampleRate > 0 {
				info.Duration = float64(info.NumSamples) / float64(info.SampleRate)
			}
			return info, nil
		default:
			if err := skip(r, int64(size)+int64(size&1)); err != nil {
				return nil, err
			}
		}
		offset += int64(size) + int64(size&1)
	}
}

func skip(r io.Seeker, n int64) error {
	if n <= 0 {
		return nil
	}
	if _, err := r.Seek(n, io.SeekCurrent); err != nil {
		return fmt.Errorf("failed to skip WAV chunk: %w", err)
	}
	return nil
}

// GetWAVInfo extracts metadata from in-memory WAV data
func GetWAVInfo(data []byte) (*WAVInfo, error) {
	return ReadWAVInfo(bytes.NewReader(data))
}

// ReadWAVInfoFile extracts metadata from the WAV file at path
func ReadWAVInfoFile(path string) (*WAVInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return ReadWAVInfo(f)
}

// VerifyProfile returns ErrProfileMismatch unless the file at path is a
// mono 16 kHz 16-bit PCM waveform
func VerifyProfile(path string) (*WAVInfo, error) {
	info, err := ReadWAVInfoFile(path)
	if err != nil {
		return nil, err
	}
	if !info.MatchesProfile() {
		return info, fmt.Errorf("%w: format=%d channels=%d rate=%d bits=%d",
			ErrProfileMismatch, info.AudioFormat, info.Channels, info.SampleRate, info.BitsPerSample)
	}
	return info, nil
}

// ReadSamples decodes the PCM-16 mono samples of the WAV file at path
func ReadSamples(path string) ([]int16, *WAVInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	info, err := ReadWAVInfo(f)
	if err != nil {
		return nil, nil, err
	}
	if info.AudioFormat != 1 || info.BitsPerSample != 16 {
		return nil, info, fmt.Errorf("unsupported audio format: format=%d bits=%d (only 16-bit PCM is supported)",
			info.AudioFormat, info.BitsPerSample)
	}

	size := int64(info.DataSize)
	if st, err := f.Stat(); err == nil && st.Size()-info.DataOffset < size {
		size = st.Size() - info.DataOffset
	}
	if size < 0 {
		size = 0
	}
	// a streamed header can carry a stale data size; trust what is on disk
	raw := make([]byte, size)
	n, err := io.ReadFull(f, raw)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, info, fmt.Errorf("failed to read audio samples: %w", err)
	}

		samples := make([]int16, n/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
	}
	return samples, info, nil
}
