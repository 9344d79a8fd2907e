package _switch

import (
	"context"
	"sync"
	"time"

	"github.com/meetspace/meetspace/backend/model"
	"github.com/rs/zerolog"
)

const (
	defaultFwdTimout = time.Second
)

// Switch is the delivery fabric of the connection gateway. It maps live
// connection ids to their wires and pushes outbound envelopes to one
// connection or to a set of them. It knows nothing about rooms; callers
// resolve membership before fanning out.
type Switch struct {
	logger zerolog.Logger
	mx     *sync.RWMutex
	conns  map[string]model.Wire
}

func NewSwitch(logger *zerolog.Logger) *Switch {
	return &Switch{
		logger: logger.With().Str("component", "switch").Logger(),
		mx:     &sync.RWMutex{},
		conns:  make(map[string]model.Wire),
	}
}

func (sw *Switch) Register(connID string, wire model.Wire) {
	sw.mx.Lock()
	sw.conns[connID] = wire
	sw.mx.Unlock()
	sw.logger.Debug().
		Str("connID", connID).
		Msg("connection registered")
}

func (sw *Switch) Unregister(connID string) {
	sw.mx.Lock()
	delete(sw.conns, connID)
	sw.mx.Unlock()
	sw.logger.Debug().
		Str("connID", connID).
		Msg("connection unregistered")
}

// Send delivers the envelope to a single connection. Delivery is best-effort:
// a missing target or a wire that does not drain within the forward timeout
// drops the envelope, and the result only says whether it was handed off.
func (sw *Switch) Send(ctx context.Context, connID string, env model.Envelope) bool {
	sw.mx.RLock()
	wire, ok := sw.conns[connID]
	sw.mx.RUnlock()

	if !ok {
		sw.logger.Debug().
			Str("connID", connID).
			Str("kind", string(env.Kind)).
			Msg("cannot forward, dst not found")
		return false
	}
	sent, _ := sw.push(ctx, env, wire.TX, connID)
	return sent
}

// Broadcast delivers the envelope to every listed connection. Dead entries
// are skipped without affecting the rest.
func (sw *Switch) Broadcast(ctx context.Context, env model.Envelope, connIDs []string) {
	var sent bool
	for _, connID := range connIDs {
		sw.mx.RLock()
		wire, ok := sw.conns[connID]
		sw.mx.RUnlock()
		if !ok {
			continue
		}
		ok, canceled := sw.push(ctx, env, wire.TX, connID)
		if canceled {
			return
		}
		if ok {
			sent = true
		}
	}
	if !sent {
		sw.logger.Debug().
			Str("kind", string(env.Kind)).
			Str("from", env.From).
			Msg("broadcast did not reach anyone")
	}
}

func (sw *Switch) push(ctx context.Context, env model.Envelope, tx chan<- model.Envelope, connID string) (bool, bool) {
	var sent, canceled bool
	tCh := time.NewTimer(defaultFwdTimout)
	select {
	case <-ctx.Done():
		canceled = true
	case <-tCh.C:
		sw.logger.Error().
			Str("connID", connID).
			Str("kind", string(env.Kind)).
			Msg("dead endpoint")
	case tx <- env:
		sent = true
	}
	tCh.Stop()
	return sent, canceled
}
