package audio

import (
	"math"
	"sync"
	"time"
)

// Buffer accumulates the raw encoded audio chunks of one live session.
// Chunks are kept in arrival order and are never dropped, reordered or truncated.
type Buffer struct {
	sessionID string

	chunks     [][]byte // Raw chunks in append order
	totalBytes int64    // Sum of len(chunk) over chunks

	lastUpdate time.Time // Last time a chunk was appended

	mu sync.RWMutex
}

// BufferStats represents buffer statistics for monitoring
type BufferStats struct {
	SessionID  string    `json:"session_id"`
	ChunkCount int       `json:"chunk_count"`
	TotalBytes int64     `json:"total_bytes"`
	TotalMB    float64   `json:"total_mb"`
	LastUpdate time.Time `json:"last_update"`
}

// NewBuffer creates an empty audio buffer owned by the given session
func NewBuffer(sessionID string) *Buffer {
	now := time.Now()
	return &Buffer{
		sessionID:  sessionID,
		chunks:     make([][]byte, 0, 64),
		lastUpdate: now,
	}
}

// Append stores a copy of chunk at the end of the buffer.
// The caller may reuse chunk after Append returns.
func (b *Buffer) Append(chunk []byte) {
	stored := make([]byte, len(chunk))
	copy(stored, chunk)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.chunks = append(b.chunks, stored)
	b.totalBytes += int64(len(stored))
	b.lastUpdate = time.Now()
}

// Snapshot returns the chunks accumulated so far, in append order.
// The returned slices must not be modified.
func (b *Buffer) Snapshot() [][]byte {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([][]byte, len(b.chunks))
	copy(out, b.chunks)
	return out
}

// Bytes returns the concatenation of all chunks
func (b *Buffer) Bytes() []byte {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]byte, 0, b.totalBytes)
	for _, c := range b.chunks {
		out = append(out, c...)
	}
	return out
}

// Clear drops all chunks and resets statistics to zero
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.chunks = make([][]byte, 0, 64)
	b.totalBytes = 0
	b.lastUpdate = time.Now()
}

// IsEmpty reports whether the buffer holds no audio bytes
func (b *Buffer) IsEmpty() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.totalBytes == 0
}

// Stats returns current buffer statistics
func (b *Buffer) Stats() BufferStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return BufferStats{
		SessionID:  b.sessionID,
		ChunkCount: len(b.chunks),
		TotalBytes: b.totalBytes,
		TotalMB:    roundTo(float64(b.totalBytes)/(1024*1024), 2),
		LastUpdate: b.lastUpdate,
	}
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
