package protocol

import (
	"encoding/json"
	"time"
)

// Notification is an outbound JSON message. Only the fields relevant to the
// notification type are set.
type Notification struct {
	Type      NotificationType `json:"type"`
	Message   string           `json:"message,omitempty"`
	Payload   string           `json:"payload,omitempty"`
	SessionID string           `json:"session_id,omitempty"`
	AudioPath string           `json:"audio_path,omitempty"`

	TranscriptFiles map[string]string `json:"transcript_files,omitempty"`
	TranscriptText  string            `json:"transcript_text,omitempty"`
	FailedFormats   map[string]string `json:"failed_formats,omitempty"`
	Text            *string           `json:"text,omitempty"`
	Language        string            `json:"language,omitempty"`
	Duration        *float64          `json:"duration,omitempty"`
	SegmentCount    *int              `json:"segment_count,omitempty"`
	Skipped         string            `json:"skipped,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// Marshal encodes the notification as a JSON text frame
func (n *Notification) Marshal() ([]byte, error) {
	return json.Marshal(n)
}

func newNotification(t NotificationType, message string) *Notification {
	return &Notification{Type: t, Message: message, Timestamp: time.Now().UTC()}
}

// Connected greets a freshly accepted connection with its session id
func Connected(sessionID string) *Notification {
	n := newNotification(NotifyConnected, "Connected to agent service")
	n.SessionID = sessionID
	return n
}

// AudioSaved reports the waveform written for the session
func AudioSaved(path string) *Notification {
	n := newNotification(NotifyAudioSaved, "Audio saved successfully")
	n.AudioPath = path
	return n
}

// TranscriptionStarted reports that the waveform was handed to the engine
func TranscriptionStarted() *Notification {
	return newNotification(NotifyTranscriptionStarted, "Generating transcript...")
}

// CompleteInfo is the transcript summary sent with TRANSCRIPTION_COMPLETE
type CompleteInfo struct {
	Files         map[string]string
	FailedFormats map[string]string
	Text          string
	TextArtifact  string // contents of the plain text transcript, when written
	Language      string
	Duration      float64
	SegmentCount  int
	Skipped       string // why the model was not run, if it was not
}

// TranscriptionComplete reports the written artifacts and the transcript itself
func TranscriptionComplete(info CompleteInfo) *Notification {
	n := newNotification(NotifyTranscriptionComplete, "Transcript generated successfully")
	n.TranscriptFiles = info.Files
	n.FailedFormats = info.FailedFormats
	n.TranscriptText = info.TextArtifact
	text := info.Text
	n.Text = &text
	n.Language = info.Language
	duration := info.Duration
	n.Duration = &duration
	count := info.SegmentCount
	n.SegmentCount = &count
	if info.Skipped != "" {
		n.Skipped = info.Skipped
		n.Message = "No speech detected, transcript is empty"
	}
	return n
}

// Error reports a failure to the sender
func Error(message string) *Notification {
	return newNotification(NotifyError, message)
}

// StreamEnded acknowledges the end of the stream
func StreamEnded(message string) *Notification {
	return newNotification(NotifyStreamEnded, message)
}

// AgentReply carries the agent's answer to a chat message
func AgentReply(reply string) *Notification {
	n := newNotification(NotifyAgentReply, "")
	n.Payload = reply
	return n
}
