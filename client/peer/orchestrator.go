package peer

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

var (
	ErrNoSelfID = errors.New("orchestrator needs own connection id")
)

type link struct {
	remoteID      string
	state         LinkState
	conn          Conn
	pending       []Candidate
	remoteDescSet bool
}

// Orchestrator owns this participant's side of every pairwise negotiation in
// the room: one link per remote participant, full mesh. For each pair exactly
// one side initiates, decided by comparing connection ids, so two peers can
// never end up with crossing offers.
type Orchestrator struct {
	logger   zerolog.Logger
	selfID   string
	newConn  Factory
	signaler Signaler

	mx    sync.Mutex
	links map[string]*link
}

type Config struct {
	Logger   *zerolog.Logger
	SelfID   string
	NewConn  Factory
	Signaler Signaler
}

func NewOrchestrator(cfg Config) (*Orchestrator, error) {
	if cfg.SelfID == "" {
		return nil, ErrNoSelfID
	}
	return &Orchestrator{
		logger:   cfg.Logger.With().Str("component", "orchestrator").Logger(),
		selfID:   cfg.SelfID,
		newConn:  cfg.NewConn,
		signaler: cfg.Signaler,
		links:    make(map[string]*link),
	}, nil
}

// initiates reports whether this side offers for the pair. Lexicographically
// smaller connection id initiates; the other side waits for the offer.
func (o *Orchestrator) initiates(remoteID string) bool {
	return o.selfID < remoteID
}

// HandleRoster reacts to the roster snapshot a joiner receives: the joiner
// negotiates toward every existing participant it is the initiator for.
func (o *Orchestrator) HandleRoster(remoteIDs []string) {
	for _, id := range remoteIDs {
		o.HandlePeerJoined(id)
	}
}

// HandlePeerJoined starts negotiation toward a new participant if this side
// is the designated initiator. Otherwise the new participant will offer and
// nothing happens here.
func (o *Orchestrator) HandlePeerJoined(remoteID string) {
	if remoteID == o.selfID || !o.initiates(remoteID) {
		return
	}

	o.mx.Lock()
	defer o.mx.Unlock()

	l, err := o.ensureLink(remoteID)
	if err != nil {
		o.logger.Error().Err(err).Str("remote", remoteID).Msg("failed to create link")
		return
	}
	if l.state != LinkIdle {
		return
	}

	offer, err := l.conn.CreateOffer()
	if err != nil {
		o.logger.Error().Err(err).Str("remote", remoteID).Msg("create offer failed")
		return
	}
	if err = l.conn.SetLocalDescription(offer); err != nil {
		o.logger.Error().Err(err).Str("remote", remoteID).Msg("set local offer failed")
		return
	}
	l.state = LinkHaveLocalOffer

	if err = o.signaler.SendOffer(remoteID, offer); err != nil {
		o.logger.Error().Err(err).Str("remote", remoteID).Msg("send offer failed")
	}
	o.logger.Debug().Str("remote", remoteID).Msg("offer sent")
}

// HandleOffer answers an incoming offer. Offers are accepted on an idle link
// regardless of who was supposed to initiate; an offer in any other state is
// a negotiation conflict and is discarded.
func (o *Orchestrator) HandleOffer(from string, desc Description) {
	o.mx.Lock()
	defer o.mx.Unlock()

	l, err := o.ensureLink(from)
	if err != nil {
		o.logger.Error().Err(err).Str("remote", from).Msg("failed to create link")
		return
	}
	if l.state != LinkIdle {
		o.logger.Debug().
			Str("remote", from).
			Str("state", string(l.state)).
			Msg("offer discarded, link not idle")
		return
	}
	l.state = LinkHaveRemoteOffer

	if err = l.conn.SetRemoteDescription(desc); err != nil {
		o.logger.Error().Err(err).Str("remote", from).Msg("set remote offer failed")
		return
	}
	o.flushCandidates(l)

	answer, err := l.conn.CreateAnswer()
	if err != nil {
		o.logger.Error().Err(err).Str("remote", from).Msg("create answer failed")
		return
	}
	if err = l.conn.SetLocalDescription(answer); err != nil {
		o.logger.Error().Err(err).Str("remote", from).Msg("set local answer failed")
		return
	}
	l.state = LinkStable

	if err = o.signaler.SendAnswer(from, answer); err != nil {
		o.logger.Error().Err(err).Str("remote", from).Msg("send answer failed")
	}
	o.logger.Debug().Str("remote", from).Msg("answer sent")
}

// HandleAnswer applies an answer to a link awaiting one. Answers in any other
// state are stale or duplicate and are discarded rather than applied.
func (o *Orchestrator) HandleAnswer(from string, desc Description) {
	o.mx.Lock()
	defer o.mx.Unlock()

	l, ok := o.links[from]
	if !ok || l.state != LinkHaveLocalOffer {
		o.logger.Debug().Str("remote", from).Msg("answer discarded, not awaiting one")
		return
	}

	if err := l.conn.SetRemoteDescription(desc); err != nil {
		o.logger.Error().Err(err).Str("remote", from).Msg("set remote answer failed")
		return
	}
	o.flushCandidates(l)
	l.state = LinkStable
	o.logger.Debug().Str("remote", from).Msg("link stable")
}

// HandleCandidate feeds a remote candidate to the link. Candidates arriving
// before the remote description are buffered and flushed in arrival order
// once it is applied. A candidate with no link is dropped: creating one here
// would resurrect links for departed peers.
func (o *Orchestrator) HandleCandidate(from string, cand Candidate) {
	o.mx.Lock()
	defer o.mx.Unlock()

	l, ok := o.links[from]
	if !ok {
		o.logger.Debug().Str("remote", from).Msg("candidate dropped, no link")
		return
	}
	if l.state == LinkClosed {
		return
	}
	if !l.remoteDescSet {
		l.pending = append(l.pending, cand)
		return
	}
	if err := l.conn.AddICECandidate(cand); err != nil {
		o.logger.Error().Err(err).Str("remote", from).Msg("add candidate failed")
	}
}

// HandlePeerLeft tears the link down and discards its buffered state.
func (o *Orchestrator) HandlePeerLeft(remoteID string) {
	o.mx.Lock()
	defer o.mx.Unlock()
	o.closeLink(remoteID)
}

// Close tears down every link, e.g. when the participant leaves the room or
// the signaling transport drops.
func (o *Orchestrator) Close() {
	o.mx.Lock()
	defer o.mx.Unlock()
	for id := range o.links {
		o.closeLink(id)
	}
}

// LinkState reports the negotiation state toward a remote participant.
func (o *Orchestrator) LinkState(remoteID string) LinkState {
	o.mx.Lock()
	defer o.mx.Unlock()
	l, ok := o.links[remoteID]
	if !ok {
		return LinkClosed
	}
	return l.state
}

func (o *Orchestrator) ensureLink(remoteID string) (*link, error) {
	if l, ok := o.links[remoteID]; ok {
		return l, nil
	}
	conn, err := o.newConn(remoteID)
	if err != nil {
		return nil, err
	}
	l := &link{
		remoteID: remoteID,
		state:    LinkIdle,
		conn:     conn,
	}
	conn.OnICECandidate(func(cand Candidate) {
		if sErr := o.signaler.SendCandidate(remoteID, cand); sErr != nil {
			o.logger.Error().Err(sErr).Str("remote", remoteID).Msg("send candidate failed")
		}
	})
	o.links[remoteID] = l
	return l, nil
}

func (o *Orchestrator) flushCandidates(l *link) {
	l.remoteDescSet = true
	for _, cand := range l.pending {
		if err := l.conn.AddICECandidate(cand); err != nil {
			o.logger.Error().Err(err).Str("remote", l.remoteID).Msg("flush candidate failed")
		}
	}
	l.pending = nil
}

func (o *Orchestrator) closeLink(remoteID string) {
	l, ok := o.links[remoteID]
	if !ok {
		return
	}
	l.state = LinkClosed
	l.pending = nil
	if err := l.conn.Close(); err != nil {
		o.logger.Error().Err(err).Str("remote", remoteID).Msg("link close failed")
	}
	delete(o.links, remoteID)
	o.logger.Debug().Str("remote", remoteID).Msg("link closed")
}
