package peer

// Description is one half of an offer/answer exchange. The JSON shape matches
// what browsers and pion produce for a session description.
type Description struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// Candidate is a single piece of connectivity information. The JSON shape
// matches RTCIceCandidateInit.
type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// Conn is the peer-connection primitive the orchestrator drives. Codec
// negotiation and NAT traversal are its business, not the orchestrator's.
type Conn interface {
	CreateOffer() (Description, error)
	CreateAnswer() (Description, error)
	SetLocalDescription(Description) error
	SetRemoteDescription(Description) error
	AddICECandidate(Candidate) error
	OnICECandidate(func(Candidate))
	Close() error
}

// Factory creates the transport for one remote participant.
type Factory func(remoteConnID string) (Conn, error)

// Signaler carries negotiation payloads toward a remote participant via the
// relay.
type Signaler interface {
	SendOffer(to string, desc Description) error
	SendAnswer(to string, desc Description) error
	SendCandidate(to string, cand Candidate) error
}

// LinkState tracks where a pairwise negotiation stands.
type LinkState string

const (
	LinkIdle            LinkState = "idle"
	LinkHaveLocalOffer  LinkState = "have-local-offer"
	LinkHaveRemoteOffer LinkState = "have-remote-offer"
	LinkStable          LinkState = "stable"
	LinkClosed          LinkState = "closed"
)
