package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vedant-2701/Meeting-AI-Agent/agent-service/internal/protocol"
	"github.com/vedant-2701/Meeting-AI-Agent/agent-service/internal/transcode"
	"github.com/vedant-2701/Meeting-AI-Agent/agent-service/internal/transcript"
	"github.com/vedant-2701/Meeting-AI-Agent/agent-service/internal/transcription"
)

func patterned(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = seed + byte(i%7)
	}
	return b
}

func TestNewID(t *testing.T) {
	id := NewID(time.Date(2025, 6, 1, 14, 3, 9, 0, time.Local))
	assert.Regexp(t, regexp.MustCompile(`^meeting_20250601_140309_[0-9a-f]{8}$`), id)
	assert.NotEqual(t, id, NewID(time.Date(2025, 6, 1, 14, 3, 9, 0, time.Local)))
}

func TestOpenGreetsAndRegisters(t *testing.T) {
	env := newTestEnv(t)
	conn := &fakeConn{}

	s := env.manager.Open(context.Background(), conn)

	assert.Equal(t, StateOpen, s.State())
	assert.Equal(t, 1, env.manager.Registry().ActiveCount())
	notes := conn.notifications(t)
	require.Len(t, notes, 1)
	assert.Equal(t, "CONNECTED", notes[0]["type"])
	assert.Equal(t, s.ID, notes[0]["session_id"])
}

// three frames then END_STREAM: one conversion with all 600 bytes in order
func TestStreamThenEndStream(t *testing.T) {
	env := newTestEnv(t)
	conn := &fakeConn{}
	ctx := context.Background()
	s := env.manager.Open(ctx, conn)

	frames := [][]byte{patterned(100, 1), patterned(200, 50), patterned(300, 100)}
	for _, f := range frames {
		s.HandleBinary(ctx, f)
	}
	assert.Equal(t, StateStreaming, s.State())

	stats := s.Buffer().Stats()
	assert.Equal(t, 3, stats.ChunkCount)
	assert.Equal(t, int64(600), stats.TotalBytes)

	s.HandleText(ctx, `{"type":"END_STREAM"}`)

	assert.Equal(t, StateClosed, s.State())
	require.Equal(t, 1, env.transcoder.callCount())
	assert.Equal(t, bytes.Join(frames, nil), env.transcoder.inputs[0])

	texts := conn.texts()
	require.GreaterOrEqual(t, len(texts), 4)
	assert.Equal(t, "✓ Received audio data: 100 bytes", texts[1])
	assert.Equal(t, "✓ Received audio data: 200 bytes", texts[2])
	assert.Equal(t, "✓ Received audio data: 300 bytes", texts[3])

	assert.Equal(t, []string{
		"CONNECTED",
		"STREAM_ENDED",
		"AUDIO_SAVED",
		"TRANSCRIPTION_STARTED",
		"TRANSCRIPTION_COMPLETE",
	}, conn.types(t))

	complete := conn.notifications(t)[4]
	assert.Equal(t, "Hello team.", complete["text"])
	assert.Equal(t, "en", complete["language"])
	assert.EqualValues(t, 1, complete["segment_count"])
	files := complete["transcript_files"].(map[string]any)
	assert.Contains(t, files, "txt")
	assert.Contains(t, files, "json")
	assert.Contains(t, complete["transcript_text"], "FULL TRANSCRIPT:")

	got, err := transcript.ReadJSON(files["json"].(string))
	require.NoError(t, err)
	assert.Equal(t, "Hello team.", got.Text)

	assert.Equal(t, 0, env.manager.Registry().ActiveCount())
	assert.True(t, s.Buffer().IsEmpty())
	assert.Equal(t, OutcomeCompleted, s.Info().Outcome)
	select {
	case <-s.Done():
	default:
		t.Fatal("session not marked done")
	}

	assert.Equal(t, []string{s.ID + ":Hello team."}, env.publisher.published)
}

// disconnect without audio: nothing to process, no conversion, no engine
func TestDisconnectWithoutAudio(t *testing.T) {
	env := newTestEnv(t)
	conn := &fakeConn{}
	ctx := context.Background()
	s := env.manager.Open(ctx, conn)

	s.HandleDisconnect(ctx)

	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, 0, env.transcoder.callCount())
	assert.Equal(t, int32(0), env.loads.Load())
	assert.Empty(t, env.model.calls())

	notes := conn.notifications(t)
	require.Len(t, notes, 2)
	assert.Equal(t, "STREAM_ENDED", notes[1]["type"])
	assert.Equal(t, "No audio data received", notes[1]["message"])
	assert.Equal(t, OutcomeNoAudio, s.Info().Outcome)
}

// two sessions finalizing at once never overlap inside the engine
func TestConcurrentFinalizeSerializesEngine(t *testing.T) {
	env := newTestEnv(t)
	env.model.delay = 40 * time.Millisecond
	env.transcoder.delay = 10 * time.Millisecond
	ctx := context.Background()

	sessions := []*Session{
		env.manager.Open(ctx, &fakeConn{}),
		env.manager.Open(ctx, &fakeConn{}),
	}
	for i, s := range sessions {
		s.HandleBinary(ctx, patterned(256, byte(i)))
	}

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			s.HandleDisconnect(ctx)
		}(s)
	}
	wg.Wait()

	calls := env.model.calls()
	require.Len(t, calls, 2)
	first, second := calls[0], calls[1]
	if second.start.Before(first.start) {
		first, second = second, first
	}
	assert.False(t, second.start.Before(first.end), "engine calls overlapped: %v and %v", first, second)

	assert.Equal(t, 2, env.transcoder.callCount())
	assert.Equal(t, int32(1), env.loads.Load())
	for _, s := range sessions {
		assert.Equal(t, StateClosed, s.State())
	}
}

// an unknown message type is reported and leaves the state alone
func TestUnknownMessageType(t *testing.T) {
	env := newTestEnv(t)
	conn := &fakeConn{}
	ctx := context.Background()
	s := env.manager.Open(ctx, conn)

	s.HandleText(ctx, `{"type":"PING"}`)
	assert.Equal(t, StateOpen, s.State())

	s.HandleBinary(ctx, patterned(10, 0))
	s.HandleText(ctx, `{"type":"PING","payload":{}}`)
	assert.Equal(t, StateStreaming, s.State())

	notes := conn.notifications(t)
	require.Len(t, notes, 3)
	assert.Equal(t, "ERROR", notes[1]["type"])
	assert.Equal(t, "Unknown message type: PING", notes[1]["message"])
	assert.Equal(t, "ERROR", notes[2]["type"])
	assert.Equal(t, 0, env.transcoder.callCount())
}

func TestChatMessage(t *testing.T) {
	env := newTestEnv(t)
	conn := &fakeConn{}
	ctx := context.Background()
	s := env.manager.Open(ctx, conn)

	s.HandleText(ctx, `{"type":"USER_CHAT_TEXT","payload":"What are the action items?"}`)

	notes := conn.notifications(t)
	require.Len(t, notes, 2)
	assert.Equal(t, "AGENT_REPLY", notes[1]["type"])
	assert.Equal(t, "Agent received: What are the action items?", notes[1]["payload"])
	assert.Equal(t, StateOpen, s.State())
}

func TestKeywordsAndEcho(t *testing.T) {
	env := newTestEnv(t)
	conn := &fakeConn{}
	ctx := context.Background()
	s := env.manager.Open(ctx, conn)

	s.HandleText(ctx, "hello agent")
	s.HandleText(ctx, "not json {")
	assert.Equal(t, StateOpen, s.State())

	texts := conn.texts()
	require.Len(t, texts, 3)
	assert.Equal(t, "Echo: hello agent", texts[1])
	assert.Equal(t, "Echo: not json {", texts[2])

	s.HandleBinary(ctx, patterned(64, 3))
	s.HandleText(ctx, "  STOP ")

	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, 1, env.transcoder.callCount())
	assert.NotContains(t, conn.types(t), "STREAM_ENDED")
	assert.Contains(t, conn.types(t), "TRANSCRIPTION_COMPLETE")
}

func TestFinalizeRunsOnce(t *testing.T) {
	env := newTestEnv(t)
	conn := &fakeConn{}
	ctx := context.Background()
	s := env.manager.Open(ctx, conn)

	s.HandleBinary(ctx, patterned(32, 0))
	s.HandleText(ctx, "end")
	s.HandleDisconnect(ctx)
	s.HandleDisconnect(ctx)
	s.HandleText(ctx, `{"type":"END_STREAM"}`)

	assert.Equal(t, 1, env.transcoder.callCount())
	assert.Len(t, env.model.calls(), 1)
	assert.Equal(t, StateClosed, s.State())
}

func TestFramesAfterCloseAreIgnored(t *testing.T) {
	env := newTestEnv(t)
	conn := &fakeConn{}
	ctx := context.Background()
	s := env.manager.Open(ctx, conn)
	s.HandleDisconnect(ctx)
	sent := len(conn.texts())

	s.HandleBinary(ctx, patterned(16, 0))
	s.HandleText(ctx, "hello")
	s.HandleText(ctx, `{"type":"USER_CHAT_TEXT","payload":"x"}`)

	assert.Len(t, conn.texts(), sent)
	assert.True(t, s.Buffer().IsEmpty())
}

func TestConversionFailure(t *testing.T) {
	env := newTestEnv(t)
	env.transcoder.err = &transcode.ConversionError{OutputID: "x", ExitCode: 1, Stderr: "Invalid data found when processing input", Err: transcode.ErrConversionFailed}
	conn := &fakeConn{}
	ctx := context.Background()
	s := env.manager.Open(ctx, conn)

	s.HandleBinary(ctx, patterned(128, 0))
	s.HandleDisconnect(ctx)

	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, []string{"CONNECTED", "ERROR"}, conn.types(t))
	msg := conn.notifications(t)[1]["message"].(string)
	assert.Contains(t, msg, "Failed to process audio")
	assert.Contains(t, msg, "Invalid data found")
	assert.Empty(t, env.model.calls())
	assert.Equal(t, OutcomeConversionFailed, s.Info().Outcome)
	assert.Equal(t, 0, env.manager.Registry().ActiveCount())
}

func TestEmptyInputIsNothingToProcess(t *testing.T) {
	env := newTestEnv(t)
	env.transcoder.err = transcode.ErrEmptyInput
	conn := &fakeConn{}
	ctx := context.Background()
	s := env.manager.Open(ctx, conn)

	s.HandleBinary(ctx, []byte{})
	s.HandleDisconnect(ctx)

	assert.Equal(t, []string{"CONNECTED", "STREAM_ENDED"}, conn.types(t))
	assert.Equal(t, OutcomeNoAudio, s.Info().Outcome)
}

func TestTranscriptionFailure(t *testing.T) {
	env := newTestEnv(t)
	env.model.err = errors.New("CUDA out of memory")
	conn := &fakeConn{}
	ctx := context.Background()
	s := env.manager.Open(ctx, conn)

	s.HandleBinary(ctx, patterned(128, 0))
	s.HandleDisconnect(ctx)

	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, []string{"CONNECTED", "AUDIO_SAVED", "TRANSCRIPTION_STARTED", "ERROR"}, conn.types(t))
	assert.Contains(t, conn.notifications(t)[3]["message"], "CUDA out of memory")
	assert.Equal(t, OutcomeTranscriptionFailed, s.Info().Outcome)
	assert.Empty(t, env.publisher.published)
}

type failingWriter struct{}

func (failingWriter) WriteAll(result *transcription.Result, id string, formats []transcript.Format) (map[transcript.Format]string, map[transcript.Format]error) {
	failed := make(map[transcript.Format]error)
	for _, f := range formats {
		failed[f] = fmt.Errorf("disk full")
	}
	return map[transcript.Format]string{}, failed
}

func TestWriteFailure(t *testing.T) {
	env := newTestEnv(t)
	env.manager.pipeline.Writer = failingWriter{}
	conn := &fakeConn{}
	ctx := context.Background()
	s := env.manager.Open(ctx, conn)

	s.HandleBinary(ctx, patterned(128, 0))
	s.HandleDisconnect(ctx)

	types := conn.types(t)
	assert.Equal(t, "ERROR", types[len(types)-1])
	assert.Contains(t, conn.notifications(t)[len(types)-1]["message"], "json: disk full")
	assert.Equal(t, OutcomeWriteFailed, s.Info().Outcome)
}

func TestPartialArtifactsStillComplete(t *testing.T) {
	env := newTestEnv(t)
	env.manager.pipeline.Formats = []transcript.Format{transcript.FormatJSON, "docx"}
	conn := &fakeConn{}
	ctx := context.Background()
	s := env.manager.Open(ctx, conn)

	s.HandleBinary(ctx, patterned(128, 0))
	s.HandleDisconnect(ctx)

	notes := conn.notifications(t)
	complete := notes[len(notes)-1]
	assert.Equal(t, "TRANSCRIPTION_COMPLETE", complete["type"])
	assert.Len(t, complete["transcript_files"], 1)
	assert.Contains(t, complete["failed_formats"], "docx")
	assert.NotContains(t, complete, "transcript_text")
}

type silentEngine struct{}

func (silentEngine) Transcribe(ctx context.Context, wavPath string, opts transcription.Options) (*transcription.Result, error) {
	return &transcription.Result{Segments: []transcription.Segment{}, Duration: 0.1, Skipped: transcription.SkipNoSpeech}, nil
}

func TestCompleteReportsSkippedModel(t *testing.T) {
	env := newTestEnv(t)
	env.manager.pipeline.Engine = silentEngine{}
	conn := &fakeConn{}
	ctx := context.Background()
	s := env.manager.Open(ctx, conn)

	s.HandleBinary(ctx, patterned(128, 0))
	s.HandleDisconnect(ctx)

	notes := conn.notifications(t)
	complete := notes[len(notes)-1]
	assert.Equal(t, "TRANSCRIPTION_COMPLETE", complete["type"])
	assert.Equal(t, "no_speech", complete["skipped"])
	assert.Equal(t, "", complete["text"])
	assert.Empty(t, env.publisher.published)
}

// the client is gone before finalize; the pipeline still runs to the end
func TestFinalizeAfterConnectionLoss(t *testing.T) {
	env := newTestEnv(t)
	conn := &fakeConn{}
	ctx, cancel := context.WithCancel(context.Background())
	s := env.manager.Open(ctx, conn)

	s.HandleBinary(ctx, patterned(128, 0))
	conn.fail = true
	cancel()
	s.HandleDisconnect(ctx)

	assert.Equal(t, StateClosed, s.State())
	assert.Len(t, env.model.calls(), 1)
	assert.Equal(t, OutcomeCompleted, s.Info().Outcome)

	_, err := os.Stat(env.writer.Path(s.ID, transcript.FormatJSON))
	assert.NoError(t, err)
}

func TestRouterLastRegistrationWins(t *testing.T) {
	env := newTestEnv(t)
	conn := &fakeConn{}
	ctx := context.Background()

	router := env.manager.Router()
	router.Register(protocol.TypeUserChatText, func(ctx context.Context, s *Session, payload json.RawMessage) {
		_ = s.Send(protocol.AgentReply("first"))
	})
	router.Register(protocol.TypeUserChatText, func(ctx context.Context, s *Session, payload json.RawMessage) {
		_ = s.Send(protocol.AgentReply("second"))
	})

	s := env.manager.Open(ctx, conn)
	s.HandleText(ctx, `{"type":"USER_CHAT_TEXT","payload":"hi"}`)

	notes := conn.notifications(t)
	require.Len(t, notes, 2)
	assert.Equal(t, "second", notes[1]["payload"])
	assert.Equal(t, []protocol.MessageType{protocol.TypeEndStream, protocol.TypeUserChatText}, router.Types())
}

func TestManagerShutdownFinalizesSessions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	conns := []*fakeConn{{}, {}}
	for _, c := range conns {
		s := env.manager.Open(ctx, c)
		s.HandleBinary(ctx, patterned(64, 0))

		// stands in for the transport read loop noticing the closed socket
		go func(s *Session, c *fakeConn) {
			for {
				c.mu.Lock()
				closed := c.closed
				c.mu.Unlock()
				if closed {
					s.HandleDisconnect(ctx)
					return
				}
				time.Sleep(time.Millisecond)
			}
		}(s, c)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, env.manager.Shutdown(shutdownCtx))

	assert.Equal(t, 0, env.manager.Registry().ActiveCount())
	assert.Len(t, env.model.calls(), 2)
}
