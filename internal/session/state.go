package session

import "fmt"

// State is the lifecycle stage of a session
type State int

const (
	StateConnecting State = iota
	StateOpen
	StateStreaming
	StateFinalizing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateStreaming:
		return "STREAMING"
	case StateFinalizing:
		return "FINALIZING"
	case StateClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText lets states appear by name in JSON
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	for c := StateConnecting; c <= StateClosed; c++ {
		if c.String() == string(text) {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("unknown session state %q", text)
}

// Event is something that happened on the connection
type Event int

const (
	EventHandshakeDone Event = iota
	EventBinaryFrame
	EventControlMessage
	EventPlainText
	EventEndOfStream
	EventDisconnect
	EventFinalizeDone
)

func (e Event) String() string {
	switch e {
	case EventHandshakeDone:
		return "handshake_done"
	case EventBinaryFrame:
		return "binary_frame"
	case EventControlMessage:
		return "control_message"
	case EventPlainText:
		return "plain_text"
	case EventEndOfStream:
		return "end_of_stream"
	case EventDisconnect:
		return "disconnect"
	case EventFinalizeDone:
		return "finalize_done"
	default:
		return fmt.Sprintf("Event(%d)", int(e))
	}
}

// Effect is work the session performs after a transition
type Effect int

const (
	EffectAppend     Effect = iota // add the frame to the audio buffer
	EffectAck                      // acknowledge the frame
	EffectDispatch                 // route the control message
	EffectEcho                     // echo plain text back
	EffectFinalize                 // convert, transcribe and write artifacts
	EffectDeregister               // leave the registry
	EffectRelease                  // clear the buffer and mark the session done
)

func (e Effect) String() string {
	switch e {
	case EffectAppend:
		return "append"
	case EffectAck:
		return "ack"
	case EffectDispatch:
		return "dispatch"
	case EffectEcho:
		return "echo"
	case EffectFinalize:
		return "finalize"
	case EffectDeregister:
		return "deregister"
	case EffectRelease:
		return "release"
	default:
		return fmt.Sprintf("Effect(%d)", int(e))
	}
}

// Transition returns the next state and the effects to run for event e in
// state s. Events that do not apply to a state leave it unchanged with no
// effects; CLOSED never changes.
func Transition(s State, e Event) (State, []Effect) {
	switch s {
	case StateConnecting:
		switch e {
		case EventHandshakeDone:
			return StateOpen, nil
		case EventDisconnect:
			return StateFinalizing, []Effect{EffectFinalize}
		}

	case StateOpen, StateStreaming:
		switch e {
		case EventBinaryFrame:
			return StateStreaming, []Effect{EffectAppend, EffectAck}
		case EventControlMessage:
			return s, []Effect{EffectDispatch}
		case EventPlainText:
			return s, []Effect{EffectEcho}
		case EventEndOfStream, EventDisconnect:
			return StateFinalizing, []Effect{EffectFinalize}
		}

	case StateFinalizing:
		if e == EventFinalizeDone {
			return StateClosed, []Effect{EffectDeregister, EffectRelease}
		}
	}

	return s, nil
}

// Active reports whether the session still accepts frames
func (s State) Active() bool {
	return s == StateOpen || s == StateStreaming
}
