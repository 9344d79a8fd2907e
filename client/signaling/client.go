package signaling

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/meetspace/meetspace/backend/model"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Client manages the websocket connection to the signaling server. Envelopes
// arrive on Incoming in connection order; sends are fire-and-forget.
type Client struct {
	conn      *websocket.Conn
	serverURL string
	logger    zerolog.Logger
	incoming  chan model.Envelope
	outgoing  chan model.Envelope
	done      chan struct{}

	mx     sync.Mutex
	closed bool
}

func NewClient(serverURL string, logger *zerolog.Logger) *Client {
	return &Client{
		serverURL: serverURL,
		logger:    logger.With().Str("component", "signaling-client").Logger(),
		incoming:  make(chan model.Envelope, 32),
		outgoing:  make(chan model.Envelope, 32),
		done:      make(chan struct{}),
	}
}

// Connect establishes the websocket connection and starts the pumps.
func (c *Client) Connect() error {
	u, err := url.Parse(c.serverURL)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	c.conn = conn
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.readPump()
	go c.writePump()

	return nil
}

func (c *Client) readPump() {
	defer func() {
		c.conn.Close()
		close(c.incoming)
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		var env model.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			c.logger.Debug().Err(err).Msg("read pump stopped")
			return
		}
		// The consumer may be gone with the buffer full; Close must still be
		// able to stop the pump.
		select {
		case c.incoming <- env:
		case <-c.done:
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case env := <-c.outgoing:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(&env); err != nil {
				c.logger.Error().Err(err).Msg("write failed")
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// Send queues an envelope for delivery.
func (c *Client) Send(env model.Envelope) {
	c.outgoing <- env
}

// Incoming returns the channel of server envelopes. It is closed when the
// connection drops.
func (c *Client) Incoming() <-chan model.Envelope {
	return c.incoming
}

// Close shuts the connection down. Safe to call more than once, from any
// goroutine.
func (c *Client) Close() {
	c.mx.Lock()
	defer c.mx.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
}

func (c *Client) CreateMeeting(roomID, displayName string) {
	c.Send(model.Envelope{
		Kind:        model.KindCreateMeeting,
		RoomID:      roomID,
		DisplayName: displayName,
	})
}

func (c *Client) JoinMeeting(roomID, displayName string) {
	c.Send(model.Envelope{
		Kind:        model.KindJoinMeeting,
		RoomID:      roomID,
		DisplayName: displayName,
	})
}

func (c *Client) SendChatMessage(roomID, text string) {
	c.Send(model.Envelope{
		Kind:   model.KindSendMessage,
		RoomID: roomID,
		Text:   text,
	})
}

func (c *Client) RequestHistory(roomID string) {
	c.Send(model.Envelope{
		Kind:   model.KindGetMessages,
		RoomID: roomID,
	})
}

func (c *Client) NotifyTyping(roomID string) {
	c.Send(model.Envelope{
		Kind:   model.KindTyping,
		RoomID: roomID,
	})
}

// SendSignal relays an opaque negotiation payload to a peer by connection id.
func (c *Client) SendSignal(kind model.Kind, to string, payload json.RawMessage) {
	c.Send(model.Envelope{
		Kind:    kind,
		To:      to,
		Payload: payload,
	})
}
