package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/meetspace/meetspace/backend/model"
	store "github.com/meetspace/meetspace/backend/storage/memory"
	"github.com/rs/zerolog"
)

type delivery struct {
	connID string
	env    model.Envelope
}

// fakeFabric records deliveries instead of pushing to wires.
type fakeFabric struct {
	mx   sync.Mutex
	live map[string]bool
	sent []delivery
}

func newFakeFabric() *fakeFabric {
	return &fakeFabric{live: make(map[string]bool)}
}

func (f *fakeFabric) Register(connID string, _ model.Wire) {
	f.mx.Lock()
	defer f.mx.Unlock()
	f.live[connID] = true
}

func (f *fakeFabric) Unregister(connID string) {
	f.mx.Lock()
	defer f.mx.Unlock()
	delete(f.live, connID)
}

func (f *fakeFabric) Send(_ context.Context, connID string, env model.Envelope) bool {
	f.mx.Lock()
	defer f.mx.Unlock()
	if !f.live[connID] {
		return false
	}
	f.sent = append(f.sent, delivery{connID: connID, env: env})
	return true
}

func (f *fakeFabric) Broadcast(_ context.Context, env model.Envelope, connIDs []string) {
	f.mx.Lock()
	defer f.mx.Unlock()
	for _, connID := range connIDs {
		if f.live[connID] {
			f.sent = append(f.sent, delivery{connID: connID, env: env})
		}
	}
}

func (f *fakeFabric) to(connID string) []model.Envelope {
	f.mx.Lock()
	defer f.mx.Unlock()
	var out []model.Envelope
	for _, d := range f.sent {
		if d.connID == connID {
			out = append(out, d.env)
		}
	}
	return out
}

func (f *fakeFabric) lastOfKind(connID string, kind model.Kind) (model.Envelope, bool) {
	for _, env := range f.to(connID) {
		if env.Kind == kind {
			return env, true
		}
	}
	return model.Envelope{}, false
}

func (f *fakeFabric) reset() {
	f.mx.Lock()
	defer f.mx.Unlock()
	f.sent = nil
}

func newTestService() (*Service, *fakeFabric) {
	logger := zerolog.Nop()
	fabric := newFakeFabric()
	svc := NewService(Config{
		RoomStore: store.NewMemStore(),
		Fabric:    fabric,
		Logger:    &logger,
	})
	return svc, fabric
}

func TestMeetingLifecycle(t *testing.T) {
	svc, fabric := newTestService()
	ctx := context.Background()

	svc.Connect(ctx, "conn-a", model.NewWire())
	if env, ok := fabric.lastOfKind("conn-a", model.KindWelcome); !ok || env.ConnID != "conn-a" {
		t.Fatalf("expected welcome with connection id, got %s", spew.Sdump(fabric.to("conn-a")))
	}

	svc.Dispatch(ctx, "conn-a", model.Envelope{
		Kind: model.KindCreateMeeting, RoomID: "r1", DisplayName: "Alice",
	})
	if _, ok := fabric.lastOfKind("conn-a", model.KindMeetingCreated); !ok {
		t.Fatal("expected meeting-created ack")
	}

	room, err := svc.RoomInfo("r1")
	if err != nil {
		t.Fatalf("RoomInfo failed: %v", err)
	}
	if len(room.Participants) != 1 || room.Participants[0].DisplayName != "Alice" {
		t.Fatalf("expected roster [Alice], got %s", spew.Sdump(room.Participants))
	}

	// Bob joins: Alice gets the delta, Bob gets the snapshot excluding himself.
	svc.Connect(ctx, "conn-b", model.NewWire())
	fabric.reset()
	svc.Dispatch(ctx, "conn-b", model.Envelope{
		Kind: model.KindJoinMeeting, RoomID: "r1", DisplayName: "Bob",
	})

	joined, ok := fabric.lastOfKind("conn-a", model.KindUserJoined)
	if !ok || joined.DisplayName != "Bob" || joined.ConnID != "conn-b" {
		t.Errorf("expected user-joined{Bob} for Alice, got %s", spew.Sdump(fabric.to("conn-a")))
	}
	list, ok := fabric.lastOfKind("conn-b", model.KindParticipantsList)
	if !ok || len(list.Participants) != 1 || list.Participants[0].DisplayName != "Alice" {
		t.Errorf("expected participants-list=[Alice] for Bob, got %s", spew.Sdump(fabric.to("conn-b")))
	}

	// Bob leaves: Alice gets user-left, the room survives.
	fabric.reset()
	svc.Disconnect(ctx, "conn-b")
	left, ok := fabric.lastOfKind("conn-a", model.KindUserLeft)
	if !ok || left.DisplayName != "Bob" || left.ConnID != "conn-b" {
		t.Errorf("expected user-left{Bob} for Alice, got %s", spew.Sdump(fabric.to("conn-a")))
	}
	if _, err = svc.RoomInfo("r1"); err != nil {
		t.Errorf("room must survive while Alice remains: %v", err)
	}

	// Alice leaves: the room is gone.
	svc.Disconnect(ctx, "conn-a")
	if _, err = svc.RoomInfo("r1"); err == nil {
		t.Error("expected room to be deleted after the last participant left")
	}
}

func TestJoinNonexistentRoom(t *testing.T) {
	svc, fabric := newTestService()
	ctx := context.Background()

	svc.Connect(ctx, "conn-a", model.NewWire())
	svc.Connect(ctx, "conn-b", model.NewWire())
	fabric.reset()

	svc.Dispatch(ctx, "conn-b", model.Envelope{
		Kind: model.KindJoinMeeting, RoomID: "nope", DisplayName: "Bob",
	})

	if _, ok := fabric.lastOfKind("conn-b", model.KindError); !ok {
		t.Error("expected error event for the requesting connection")
	}
	if got := fabric.to("conn-a"); len(got) != 0 {
		t.Errorf("join failure must not be broadcast, got %s", spew.Sdump(got))
	}
}

func TestChatBroadcastIncludesSender(t *testing.T) {
	svc, fabric := newTestService()
	ctx := context.Background()

	svc.Connect(ctx, "conn-a", model.NewWire())
	svc.Connect(ctx, "conn-b", model.NewWire())
	svc.Dispatch(ctx, "conn-a", model.Envelope{Kind: model.KindCreateMeeting, RoomID: "r1", DisplayName: "Alice"})
	svc.Dispatch(ctx, "conn-b", model.Envelope{Kind: model.KindJoinMeeting, RoomID: "r1", DisplayName: "Bob"})
	fabric.reset()

	svc.Dispatch(ctx, "conn-b", model.Envelope{Kind: model.KindSendMessage, RoomID: "r1", Text: "hi"})

	aMsg, okA := fabric.lastOfKind("conn-a", model.KindNewMessage)
	bMsg, okB := fabric.lastOfKind("conn-b", model.KindNewMessage)
	if !okA || !okB {
		t.Fatalf("expected new-message for both participants, got %s", spew.Sdump(fabric.sent))
	}
	if aMsg.Message == nil || bMsg.Message == nil {
		t.Fatal("expected message records in both envelopes")
	}
	if aMsg.Message.ID != bMsg.Message.ID ||
		aMsg.Message.Text != bMsg.Message.Text ||
		aMsg.Message.SenderName != bMsg.Message.SenderName {
		t.Errorf("broadcast mismatch:\n%s\n%s", spew.Sdump(aMsg.Message), spew.Sdump(bMsg.Message))
	}
	if aMsg.Message.Text != "hi" || aMsg.Message.SenderName != "Bob" {
		t.Errorf("unexpected message record: %s", spew.Sdump(aMsg.Message))
	}

	// History is returned on demand, empty-safe for unknown rooms.
	fabric.reset()
	svc.Dispatch(ctx, "conn-a", model.Envelope{Kind: model.KindGetMessages, RoomID: "r1"})
	hist, ok := fabric.lastOfKind("conn-a", model.KindMessageHistory)
	if !ok || len(hist.Messages) != 1 {
		t.Errorf("expected history of 1 message, got %s", spew.Sdump(hist))
	}

	fabric.reset()
	svc.Dispatch(ctx, "conn-a", model.Envelope{Kind: model.KindGetMessages, RoomID: "unknown"})
	hist, ok = fabric.lastOfKind("conn-a", model.KindMessageHistory)
	if !ok || len(hist.Messages) != 0 {
		t.Errorf("expected empty history for unknown room, got %s", spew.Sdump(hist))
	}
}

func TestRelay(t *testing.T) {
	svc, fabric := newTestService()
	ctx := context.Background()

	svc.Connect(ctx, "conn-a", model.NewWire())
	svc.Connect(ctx, "conn-b", model.NewWire())
	fabric.reset()

	payload := json.RawMessage(`{"type":"offer","sdp":"v=0"}`)
	svc.Dispatch(ctx, "conn-a", model.Envelope{Kind: model.KindOffer, To: "conn-b", Payload: payload})

	offer, ok := fabric.lastOfKind("conn-b", model.KindOffer)
	if !ok {
		t.Fatalf("expected relayed offer, got %s", spew.Sdump(fabric.sent))
	}
	if offer.From != "conn-a" {
		t.Errorf("expected from=conn-a, got %q", offer.From)
	}
	if string(offer.Payload) != string(payload) {
		t.Errorf("payload must be forwarded untouched, got %s", offer.Payload)
	}
	if offer.To != "" {
		t.Errorf("relayed envelope must not carry the to field, got %q", offer.To)
	}
}

func TestRelayToUnknownTargetIsSilent(t *testing.T) {
	svc, fabric := newTestService()
	ctx := context.Background()

	svc.Connect(ctx, "conn-a", model.NewWire())
	fabric.reset()

	svc.Dispatch(ctx, "conn-a", model.Envelope{
		Kind: model.KindOffer, To: "ghost", Payload: json.RawMessage(`{}`),
	})

	if got := fabric.to("conn-a"); len(got) != 0 {
		t.Errorf("sender must not be told about unreachable targets, got %s", spew.Sdump(got))
	}
	if got := fabric.to("ghost"); len(got) != 0 {
		t.Errorf("nothing must be delivered to a dead target, got %s", spew.Sdump(got))
	}
}

func TestTypingExcludesSender(t *testing.T) {
	svc, fabric := newTestService()
	ctx := context.Background()

	svc.Connect(ctx, "conn-a", model.NewWire())
	svc.Connect(ctx, "conn-b", model.NewWire())
	svc.Dispatch(ctx, "conn-a", model.Envelope{Kind: model.KindCreateMeeting, RoomID: "r1", DisplayName: "Alice"})
	svc.Dispatch(ctx, "conn-b", model.Envelope{Kind: model.KindJoinMeeting, RoomID: "r1", DisplayName: "Bob"})
	fabric.reset()

	svc.Dispatch(ctx, "conn-b", model.Envelope{Kind: model.KindTyping, RoomID: "r1"})

	typing, ok := fabric.lastOfKind("conn-a", model.KindUserTyping)
	if !ok || typing.DisplayName != "Bob" || typing.ConnID != "conn-b" {
		t.Errorf("expected user-typing{Bob} for Alice, got %s", spew.Sdump(fabric.to("conn-a")))
	}
	if got := fabric.to("conn-b"); len(got) != 0 {
		t.Errorf("typing must not echo to the sender, got %s", spew.Sdump(got))
	}
}

func TestUnknownKindYieldsError(t *testing.T) {
	svc, fabric := newTestService()
	ctx := context.Background()

	svc.Connect(ctx, "conn-a", model.NewWire())
	fabric.reset()

	svc.Dispatch(ctx, "conn-a", model.Envelope{Kind: "self-destruct"})

	errEnv, ok := fabric.lastOfKind("conn-a", model.KindError)
	if !ok || errEnv.Error == "" {
		t.Errorf("expected error event for unknown kind, got %s", spew.Sdump(fabric.to("conn-a")))
	}
}
