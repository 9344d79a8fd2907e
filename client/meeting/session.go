package meeting

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/meetspace/meetspace/backend/model"
	"github.com/meetspace/meetspace/client/peer"
	"github.com/meetspace/meetspace/client/signaling"
	"github.com/rs/zerolog"
)

var (
	ErrConnectionLost = errors.New("signaling connection lost")
)

// Callbacks surface room events to the embedding application. Nil callbacks
// are skipped. Media rendering is the application's problem.
type Callbacks struct {
	OnParticipantJoined func(connID, displayName string)
	OnParticipantLeft   func(connID, displayName string)
	OnMessage           func(msg model.Message)
	OnHistory           func(msgs []model.Message)
	OnTyping            func(connID, displayName string)
	OnError             func(message string)
}

type Config struct {
	Client      *signaling.Client
	NewConn     peer.Factory
	Logger      *zerolog.Logger
	RoomID      string
	DisplayName string
	Host        bool
	Callbacks   Callbacks
}

// Session binds the signaling client to a peer orchestrator for one meeting.
// It creates or joins the room once the server assigns this connection its
// id, then feeds roster deltas and relayed negotiation payloads into the
// orchestrator for the lifetime of the session.
type Session struct {
	client      *signaling.Client
	newConn     peer.Factory
	logger      zerolog.Logger
	roomID      string
	displayName string
	host        bool
	callbacks   Callbacks

	mx     sync.RWMutex
	selfID string
	orch   *peer.Orchestrator
}

func NewSession(cfg Config) *Session {
	return &Session{
		client:      cfg.Client,
		newConn:     cfg.NewConn,
		logger:      cfg.Logger.With().Str("component", "meeting-session").Logger(),
		roomID:      cfg.RoomID,
		displayName: cfg.DisplayName,
		host:        cfg.Host,
		callbacks:   cfg.Callbacks,
	}
}

// SelfID returns the gateway-assigned connection id, empty until the server's
// welcome arrives.
func (s *Session) SelfID() string {
	s.mx.RLock()
	defer s.mx.RUnlock()
	return s.selfID
}

// PeerState reports the negotiation state toward a remote participant.
func (s *Session) PeerState(remoteID string) peer.LinkState {
	s.mx.RLock()
	defer s.mx.RUnlock()
	if s.orch == nil {
		return peer.LinkClosed
	}
	return s.orch.LinkState(remoteID)
}

// SendChatMessage sends a chat message to the room. Delivery back to this
// session arrives via Callbacks.OnMessage from the authoritative broadcast.
func (s *Session) SendChatMessage(text string) {
	s.client.SendChatMessage(s.roomID, text)
}

func (s *Session) NotifyTyping() {
	s.client.NotifyTyping(s.roomID)
}

// Run consumes server envelopes until the context is canceled or the
// connection drops. All peer links are torn down on the way out.
func (s *Session) Run(ctx context.Context) error {
	defer func() {
		if s.orch != nil {
			s.orch.Close()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case env, ok := <-s.client.Incoming():
			if !ok {
				return ErrConnectionLost
			}
			if err := s.handle(env); err != nil {
				return err
			}
		}
	}
}

func (s *Session) handle(env model.Envelope) error {
	// Roster and negotiation traffic needs the orchestrator, which only exists
	// once the welcome has assigned us a connection id.
	switch env.Kind {
	case model.KindParticipantsList, model.KindUserJoined, model.KindUserLeft,
		model.KindOffer, model.KindAnswer, model.KindICECandidate:
		if s.orch == nil {
			s.logger.Debug().Str("kind", string(env.Kind)).Msg("envelope before welcome dropped")
			return nil
		}
	}

	switch env.Kind {
	case model.KindWelcome:
		return s.welcome(env.ConnID)

	case model.KindMeetingCreated:
		s.logger.Debug().Str("roomID", env.RoomID).Msg("meeting created")
		s.client.RequestHistory(s.roomID)

	case model.KindParticipantsList:
		// Roster snapshot excludes us; negotiate toward everyone we are the
		// initiator for and pull history now that we are in.
		ids := make([]string, 0, len(env.Participants))
		for _, p := range env.Participants {
			ids = append(ids, p.ConnID)
		}
		s.orch.HandleRoster(ids)
		s.client.RequestHistory(s.roomID)

	case model.KindUserJoined:
		s.orch.HandlePeerJoined(env.ConnID)
		if s.callbacks.OnParticipantJoined != nil {
			s.callbacks.OnParticipantJoined(env.ConnID, env.DisplayName)
		}

	case model.KindUserLeft:
		s.orch.HandlePeerLeft(env.ConnID)
		if s.callbacks.OnParticipantLeft != nil {
			s.callbacks.OnParticipantLeft(env.ConnID, env.DisplayName)
		}

	case model.KindOffer:
		var desc peer.Description
		if err := json.Unmarshal(env.Payload, &desc); err != nil {
			s.logger.Error().Err(err).Str("from", env.From).Msg("malformed offer payload")
			return nil
		}
		s.orch.HandleOffer(env.From, desc)

	case model.KindAnswer:
		var desc peer.Description
		if err := json.Unmarshal(env.Payload, &desc); err != nil {
			s.logger.Error().Err(err).Str("from", env.From).Msg("malformed answer payload")
			return nil
		}
		s.orch.HandleAnswer(env.From, desc)

	case model.KindICECandidate:
		var cand peer.Candidate
		if err := json.Unmarshal(env.Payload, &cand); err != nil {
			s.logger.Error().Err(err).Str("from", env.From).Msg("malformed candidate payload")
			return nil
		}
		s.orch.HandleCandidate(env.From, cand)

	case model.KindNewMessage:
		if s.callbacks.OnMessage != nil && env.Message != nil {
			s.callbacks.OnMessage(*env.Message)
		}

	case model.KindMessageHistory:
		if s.callbacks.OnHistory != nil {
			s.callbacks.OnHistory(env.Messages)
		}

	case model.KindUserTyping:
		if s.callbacks.OnTyping != nil {
			s.callbacks.OnTyping(env.ConnID, env.DisplayName)
		}

	case model.KindError:
		s.logger.Warn().Str("error", env.Error).Msg("server error")
		if s.callbacks.OnError != nil {
			s.callbacks.OnError(env.Error)
		}

	default:
		s.logger.Debug().Str("kind", string(env.Kind)).Msg("unhandled envelope")
	}
	return nil
}

func (s *Session) welcome(connID string) error {
	orch, err := peer.NewOrchestrator(peer.Config{
		Logger:   &s.logger,
		SelfID:   connID,
		NewConn:  s.newConn,
		Signaler: s,
	})
	if err != nil {
		return err
	}
	s.mx.Lock()
	s.selfID = connID
	s.orch = orch
	s.mx.Unlock()

	if s.host {
		s.client.CreateMeeting(s.roomID, s.displayName)
	} else {
		s.client.JoinMeeting(s.roomID, s.displayName)
	}
	return nil
}

// SendOffer implements peer.Signaler.
func (s *Session) SendOffer(to string, desc peer.Description) error {
	return s.signal(model.KindOffer, to, desc)
}

// SendAnswer implements peer.Signaler.
func (s *Session) SendAnswer(to string, desc peer.Description) error {
	return s.signal(model.KindAnswer, to, desc)
}

// SendCandidate implements peer.Signaler.
func (s *Session) SendCandidate(to string, cand peer.Candidate) error {
	return s.signal(model.KindICECandidate, to, cand)
}

func (s *Session) signal(kind model.Kind, to string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	s.client.SendSignal(kind, to, b)
	return nil
}
