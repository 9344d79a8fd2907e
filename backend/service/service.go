package service

import (
	"context"
	"errors"

	"github.com/meetspace/meetspace/backend/model"
	"github.com/rs/zerolog"
)

var (
	ErrCreate = errors.New("unable to create meeting")
	ErrJoin   = errors.New("unable to join meeting")
	ErrGet    = errors.New("unable to get meeting")
)

type (
	// RoomStore owns all room, roster and message state. Every mutation is
	// serialized by the store.
	RoomStore interface {
		CreateRoom(roomID, hostConnID, hostName string) (model.Room, error)
		GetRoom(roomID string) (model.Room, error)
		AddParticipant(roomID, connID, name string) ([]model.Participant, error)
		RemoveByConn(connID string) (model.Departure, bool)
		AppendMessage(roomID, senderConnID, text string) (model.Message, []string, error)
		Messages(roomID string) []model.Message
	}

	// Fabric delivers outbound envelopes to live connections.
	Fabric interface {
		Register(connID string, wire model.Wire)
		Unregister(connID string)
		Send(ctx context.Context, connID string, env model.Envelope) bool
		Broadcast(ctx context.Context, env model.Envelope, connIDs []string)
	}

	Service struct {
		store  RoomStore
		fabric Fabric
		logger zerolog.Logger
	}

	Config struct {
		RoomStore RoomStore
		Fabric    Fabric
		Logger    *zerolog.Logger
	}
)

func NewService(cfg Config) *Service {
	return &Service{
		store:  cfg.RoomStore,
		fabric: cfg.Fabric,
		logger: cfg.Logger.With().Str("component", "signaling").Logger(),
	}
}

// Connect registers a new connection and tells it its gateway-assigned id.
// The id is what peers later address offers and answers to.
func (svc *Service) Connect(ctx context.Context, connID string, wire model.Wire) {
	svc.fabric.Register(connID, wire)
	svc.fabric.Send(ctx, connID, model.Envelope{
		Kind:   model.KindWelcome,
		ConnID: connID,
	})
	svc.logger.Debug().
		Str("connID", connID).
		Msg("connection joined signaling")
}

// Disconnect tears down whatever the connection left behind: its fabric entry
// and its roster membership. Remaining room members get a user-left delta.
func (svc *Service) Disconnect(ctx context.Context, connID string) {
	svc.fabric.Unregister(connID)

	dep, found := svc.store.RemoveByConn(connID)
	if !found {
		return
	}
	svc.logger.Debug().
		Str("connID", connID).
		Str("roomID", dep.RoomID).
		Bool("roomDeleted", dep.RoomDeleted).
		Msg("participant left")

	svc.fabric.Broadcast(ctx, model.Envelope{
		Kind:        model.KindUserLeft,
		ConnID:      connID,
		DisplayName: dep.Participant.DisplayName,
	}, connIDs(dep.Remaining))
}

// Dispatch is the single entry point for client envelopes. The message
// catalogue is a closed set; malformed or unknown envelopes earn the sender
// an error event and nothing else happens.
func (svc *Service) Dispatch(ctx context.Context, connID string, env model.Envelope) {
	if err := env.Validate(); err != nil {
		svc.logger.Debug().Err(err).
			Str("connID", connID).
			Str("kind", string(env.Kind)).
			Msg("invalid envelope")
		svc.sendError(ctx, connID, err.Error())
		return
	}

	switch env.Kind {
	case model.KindCreateMeeting:
		svc.createMeeting(ctx, connID, env.RoomID, env.DisplayName)
	case model.KindJoinMeeting:
		svc.joinMeeting(ctx, connID, env.RoomID, env.DisplayName)
	case model.KindOffer, model.KindAnswer, model.KindICECandidate:
		svc.relay(ctx, env.Kind, connID, env.To, env)
	case model.KindSendMessage:
		svc.sendMessage(ctx, connID, env.RoomID, env.Text)
	case model.KindGetMessages:
		svc.getMessages(ctx, connID, env.RoomID)
	case model.KindTyping:
		svc.typing(ctx, connID, env.RoomID)
	}
}

func (svc *Service) createMeeting(ctx context.Context, connID, roomID, name string) {
	room, err := svc.store.CreateRoom(roomID, connID, name)
	if err != nil {
		svc.logger.Debug().Err(errors.Join(ErrCreate, err)).
			Str("connID", connID).
			Str("roomID", roomID).
			Msg("meeting create rejected")
		svc.sendError(ctx, connID, err.Error())
		return
	}
	svc.logger.Debug().
		Str("connID", connID).
		Str("roomID", room.ID).
		Msg("meeting created")
	svc.fabric.Send(ctx, connID, model.Envelope{
		Kind:   model.KindMeetingCreated,
		RoomID: room.ID,
	})
}

func (svc *Service) joinMeeting(ctx context.Context, connID, roomID, name string) {
	others, err := svc.store.AddParticipant(roomID, connID, name)
	if err != nil {
		// Only the requesting connection learns about the failure.
		svc.logger.Debug().Err(errors.Join(ErrJoin, err)).
			Str("connID", connID).
			Str("roomID", roomID).
			Msg("meeting join rejected")
		svc.sendError(ctx, connID, err.Error())
		return
	}
	svc.logger.Debug().
		Str("connID", connID).
		Str("roomID", roomID).
		Int("others", len(others)).
		Msg("participant joined")

	svc.fabric.Send(ctx, connID, model.Envelope{
		Kind:         model.KindParticipantsList,
		RoomID:       roomID,
		Participants: others,
	})
	svc.fabric.Broadcast(ctx, model.Envelope{
		Kind:        model.KindUserJoined,
		ConnID:      connID,
		DisplayName: name,
	}, connIDs(others))
}

// relay forwards a negotiation payload to the target connection. The payload
// is never inspected; an unreachable target is an expected condition and the
// sender is not told.
func (svc *Service) relay(ctx context.Context, kind model.Kind, from, to string, env model.Envelope) {
	sent := svc.fabric.Send(ctx, to, model.Envelope{
		Kind:    kind,
		From:    from,
		Payload: env.Payload,
	})
	if !sent {
		svc.logger.Debug().
			Str("kind", string(kind)).
			Str("from", from).
			Str("to", to).
			Msg("relay target unreachable, dropped")
	}
}

func (svc *Service) sendMessage(ctx context.Context, connID, roomID, text string) {
	msg, members, err := svc.store.AppendMessage(roomID, connID, text)
	if err != nil {
		svc.logger.Debug().Err(err).
			Str("connID", connID).
			Str("roomID", roomID).
			Msg("message to unknown room dropped")
		return
	}
	// The sender is included so its UI renders from the authoritative
	// broadcast instead of a local echo.
	svc.fabric.Broadcast(ctx, model.Envelope{
		Kind:    model.KindNewMessage,
		RoomID:  roomID,
		Message: &msg,
	}, members)
}

func (svc *Service) getMessages(ctx context.Context, connID, roomID string) {
	svc.fabric.Send(ctx, connID, model.Envelope{
		Kind:     model.KindMessageHistory,
		RoomID:   roomID,
		Messages: svc.store.Messages(roomID),
	})
}

func (svc *Service) typing(ctx context.Context, connID, roomID string) {
	room, err := svc.store.GetRoom(roomID)
	if err != nil {
		return
	}
	name := "Unknown"
	others := make([]string, 0, len(room.Participants))
	for _, p := range room.Participants {
		if p.ConnID == connID {
			name = p.DisplayName
			continue
		}
		others = append(others, p.ConnID)
	}
	svc.fabric.Broadcast(ctx, model.Envelope{
		Kind:        model.KindUserTyping,
		RoomID:      roomID,
		ConnID:      connID,
		DisplayName: name,
	}, others)
}

// RoomInfo backs the HTTP lookup API.
func (svc *Service) RoomInfo(roomID string) (model.Room, error) {
	room, err := svc.store.GetRoom(roomID)
	if err != nil {
		return model.Room{}, errors.Join(ErrGet, err)
	}
	return room, nil
}

func (svc *Service) sendError(ctx context.Context, connID, message string) {
	svc.fabric.Send(ctx, connID, model.Envelope{
		Kind:  model.KindError,
		Error: message,
	})
}

func connIDs(participants []model.Participant) []string {
	ids := make([]string, 0, len(participants))
	for _, p := range participants {
		ids = append(ids, p.ConnID)
	}
	return ids
}
