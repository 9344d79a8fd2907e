package model

import "time"

// Room is a named meeting session. It exists from the moment a host creates
// it until its last participant leaves, at which point the registry deletes
// it. Joins never create rooms implicitly.
type Room struct {
	ID           string        `json:"room_id"`
	HostConnID   string        `json:"host_connection_id"`
	Participants []Participant `json:"participants"`
	Messages     []Message     `json:"messages"`
	CreatedAt    time.Time     `json:"created_at"`
}

// Participant is a roster entry. ConnID is assigned by the gateway and unique
// per connection; DisplayName is user-chosen and not unique. Roster order is
// join order.
type Participant struct {
	ConnID      string `json:"connectionId"`
	DisplayName string `json:"displayName"`
}

// Message is a chat entry. IDs are monotonic within a room.
type Message struct {
	ID           int64     `json:"id"`
	Text         string    `json:"text"`
	SenderConnID string    `json:"senderId"`
	SenderName   string    `json:"senderName"`
	Timestamp    time.Time `json:"timestamp"`
}

// Departure is the result of removing a connection from whatever room it was
// in. Remaining holds the roster after removal.
type Departure struct {
	RoomID      string
	Participant Participant
	Remaining   []Participant
	RoomDeleted bool
}

// Wire is the channel pair between a websocket connection and the rest of the
// server. RX carries inbound envelopes, TX outbound ones.
type Wire struct {
	RX chan Envelope
	TX chan Envelope
}

// NewWire returns a wire with a buffered TX side: the gateway queues the
// welcome into it before the sender pump is attached to the socket.
func NewWire() Wire {
	return Wire{
		RX: make(chan Envelope),
		TX: make(chan Envelope, 16),
	}
}
