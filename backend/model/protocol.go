package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind discriminates protocol envelopes. The set is closed: anything else is
// a protocol error, not a dispatch miss.
type Kind string

const (
	// server -> client
	KindWelcome          Kind = "welcome"
	KindMeetingCreated   Kind = "meeting-created"
	KindParticipantsList Kind = "participants-list"
	KindUserJoined       Kind = "user-joined"
	KindUserLeft         Kind = "user-left"
	KindMessageHistory   Kind = "message-history"
	KindNewMessage       Kind = "new-message"
	KindUserTyping       Kind = "user-typing"
	KindError            Kind = "error"

	// client -> server
	KindCreateMeeting Kind = "create-meeting"
	KindJoinMeeting   Kind = "join-meeting"
	KindSendMessage   Kind = "send-message"
	KindGetMessages   Kind = "get-messages"
	KindTyping        Kind = "typing"

	// client -> server -> client, relayed verbatim with From filled in
	KindOffer        Kind = "offer"
	KindAnswer       Kind = "answer"
	KindICECandidate Kind = "ice-candidate"
)

var (
	ErrUnknownKind    = errors.New("unknown message kind")
	ErrServerOnlyKind = errors.New("kind is not valid from a client")
	ErrMissingField   = errors.New("missing required field")
)

// Envelope is the single wire frame for all protocol messages. Which fields
// are meaningful depends on Kind; Validate enforces the per-kind shape for
// client-originated envelopes. Payload stays opaque to the server.
type Envelope struct {
	Kind         Kind            `json:"kind"`
	RoomID       string          `json:"roomId,omitempty"`
	ConnID       string          `json:"connectionId,omitempty"`
	DisplayName  string          `json:"displayName,omitempty"`
	From         string          `json:"from,omitempty"`
	To           string          `json:"to,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Text         string          `json:"text,omitempty"`
	Participants []Participant   `json:"participants,omitempty"`
	Message      *Message        `json:"message,omitempty"`
	Messages     []Message       `json:"messages,omitempty"`
	Error        string          `json:"error,omitempty"`
}

// Validate checks a client-originated envelope against the catalogue.
func (e *Envelope) Validate() error {
	switch e.Kind {
	case KindCreateMeeting, KindJoinMeeting:
		if e.RoomID == "" {
			return fmt.Errorf("%w: roomId", ErrMissingField)
		}
		if e.DisplayName == "" {
			return fmt.Errorf("%w: displayName", ErrMissingField)
		}
	case KindOffer, KindAnswer, KindICECandidate:
		if e.To == "" {
			return fmt.Errorf("%w: to", ErrMissingField)
		}
		if len(e.Payload) == 0 {
			return fmt.Errorf("%w: payload", ErrMissingField)
		}
	case KindSendMessage:
		if e.RoomID == "" {
			return fmt.Errorf("%w: roomId", ErrMissingField)
		}
		if e.Text == "" {
			return fmt.Errorf("%w: text", ErrMissingField)
		}
	case KindGetMessages, KindTyping:
		if e.RoomID == "" {
			return fmt.Errorf("%w: roomId", ErrMissingField)
		}
	case KindWelcome, KindMeetingCreated, KindParticipantsList,
		KindUserJoined, KindUserLeft, KindMessageHistory,
		KindNewMessage, KindUserTyping, KindError:
		return fmt.Errorf("%w: %s", ErrServerOnlyKind, e.Kind)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, e.Kind)
	}
	return nil
}
