package _switch

import (
	"context"
	"testing"
	"time"

	"github.com/meetspace/meetspace/backend/model"
	"github.com/rs/zerolog"
)

func bufferedWire() model.Wire {
	return model.Wire{
		RX: make(chan model.Envelope, 8),
		TX: make(chan model.Envelope, 8),
	}
}

func TestSendAndUnregister(t *testing.T) {
	logger := zerolog.Nop()
	sw := NewSwitch(&logger)
	ctx := context.Background()

	wire := bufferedWire()
	sw.Register("c1", wire)

	if !sw.Send(ctx, "c1", model.Envelope{Kind: model.KindWelcome, ConnID: "c1"}) {
		t.Fatal("expected send to registered connection to succeed")
	}
	env := <-wire.TX
	if env.Kind != model.KindWelcome || env.ConnID != "c1" {
		t.Errorf("unexpected envelope: %+v", env)
	}

	sw.Unregister("c1")
	if sw.Send(ctx, "c1", model.Envelope{Kind: model.KindError}) {
		t.Error("expected send to unregistered connection to fail")
	}
}

func TestSendBeforeConsumerAttaches(t *testing.T) {
	logger := zerolog.Nop()
	sw := NewSwitch(&logger)

	// The gateway registers the wire and pushes the welcome before the sender
	// pump is running. The push must be queued, not stalled or dropped.
	wire := model.NewWire()
	sw.Register("c1", wire)

	start := time.Now()
	if !sw.Send(context.Background(), "c1", model.Envelope{Kind: model.KindWelcome, ConnID: "c1"}) {
		t.Fatal("expected delivery to queue with no consumer attached yet")
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("send stalled for %s waiting for a consumer", elapsed)
	}

	env := <-wire.TX
	if env.Kind != model.KindWelcome || env.ConnID != "c1" {
		t.Errorf("unexpected envelope: %+v", env)
	}
}

func TestSendToUnknownTarget(t *testing.T) {
	logger := zerolog.Nop()
	sw := NewSwitch(&logger)

	if sw.Send(context.Background(), "ghost", model.Envelope{Kind: model.KindOffer}) {
		t.Error("expected send to unknown target to report not sent")
	}
}

func TestBroadcast(t *testing.T) {
	logger := zerolog.Nop()
	sw := NewSwitch(&logger)
	ctx := context.Background()

	w1, w2 := bufferedWire(), bufferedWire()
	sw.Register("c1", w1)
	sw.Register("c2", w2)

	env := model.Envelope{Kind: model.KindUserJoined, ConnID: "c3", DisplayName: "Carol"}
	sw.Broadcast(ctx, env, []string{"c1", "c2", "ghost"})

	for _, wire := range []model.Wire{w1, w2} {
		got := <-wire.TX
		if got.ConnID != "c3" || got.DisplayName != "Carol" {
			t.Errorf("unexpected broadcast envelope: %+v", got)
		}
	}
	select {
	case extra := <-w1.TX:
		t.Errorf("unexpected extra envelope: %+v", extra)
	default:
	}
}
