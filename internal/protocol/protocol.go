package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// MessageType names an inbound control message carried in the type field
type MessageType string

// Inbound message types
const (
	TypeUserChatText MessageType = "USER_CHAT_TEXT"
	TypeEndStream    MessageType = "END_STREAM"
)

// NotificationType names an outbound JSON notification
type NotificationType string

// Outbound notification types
const (
	NotifyConnected             NotificationType = "CONNECTED"
	NotifyAudioSaved            NotificationType = "AUDIO_SAVED"
	NotifyTranscriptionStarted  NotificationType = "TRANSCRIPTION_STARTED"
	NotifyTranscriptionComplete NotificationType = "TRANSCRIPTION_COMPLETE"
	NotifyError                 NotificationType = "ERROR"
	NotifyStreamEnded           NotificationType = "STREAM_ENDED"
	NotifyAgentReply            NotificationType = "AGENT_REPLY"
)

// Keywords accepted as plain text frames, compared case-insensitively
const (
	KeywordStop = "stop"
	KeywordEnd  = "end"
)

// Envelope is the JSON form of an inbound control message:
// {"type": <string>, "payload": <any>}
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// TextKind classifies an inbound text frame
type TextKind int

const (
	TextMessage TextKind = iota // JSON envelope for the router
	TextStop                    // stop / end keyword
	TextEcho                    // anything else, echoed back
)

func (k TextKind) String() string {
	switch k {
	case TextMessage:
		return "message"
	case TextStop:
		return "stop"
	case TextEcho:
		return "echo"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// TextFrame is a classified inbound text frame
type TextFrame struct {
	Kind     TextKind
	Envelope *Envelope // set for TextMessage
	Text     string    // original frame text
}

// ParseText classifies a text frame. A JSON object with a non-empty string
// type field is a message; anything that does not decode that way is treated
// as a keyword command.
func ParseText(text string) TextFrame {
	if env, ok := decodeEnvelope(text); ok {
		return TextFrame{Kind: TextMessage, Envelope: env, Text: text}
	}

	switch strings.ToLower(strings.TrimSpace(text)) {
	case KeywordStop, KeywordEnd:
		return TextFrame{Kind: TextStop, Text: text}
	}
	return TextFrame{Kind: TextEcho, Text: text}
}

func decodeEnvelope(text string) (*Envelope, bool) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "{") {
		return nil, false
	}

	var raw struct {
		Type    *string         `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal([]byte(trimmed), &raw); err != nil {
		return nil, false
	}
	if raw.Type == nil || *raw.Type == "" {
		return nil, false
	}
	return &Envelope{Type: MessageType(*raw.Type), Payload: raw.Payload}, true
}

// PayloadText renders a message payload as chat text. Strings are used as is,
// an object's own payload field is unwrapped, and any other value is kept as
// its JSON text.
func PayloadText(payload json.RawMessage) string {
	p := bytes.TrimSpace(payload)
	if len(p) == 0 || bytes.Equal(p, []byte("null")) {
		return ""
	}

	var s string
	if err := json.Unmarshal(p, &s); err == nil {
		return s
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(p, &obj); err == nil {
		if inner, ok := obj["payload"]; ok {
			return PayloadText(inner)
		}
		return ""
	}

	return string(p)
}

// EchoText is the reply to a text frame that is neither JSON nor a keyword
func EchoText(text string) string {
	return "Echo: " + text
}

// AckText acknowledges a binary audio frame of n bytes
func AckText(n int) string {
	return "✓ Received audio data: " + groupThousands(n) + " bytes"
}

func groupThousands(n int) string {
	s := strconv.Itoa(n)
	if n < 0 || len(s) <= 3 {
		return s
	}

	var b strings.Builder
	head := len(s) % 3
	if head > 0 {
		b.WriteString(s[:head])
	}
	for i := head; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}
