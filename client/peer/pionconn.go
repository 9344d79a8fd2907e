package peer

import (
	"fmt"

	"github.com/pion/webrtc/v4"
)

// PionConn adapts a pion PeerConnection to the Conn interface the
// orchestrator drives.
type PionConn struct {
	pc *webrtc.PeerConnection
}

// DefaultConfiguration returns a configuration with public STUN servers,
// matching what the web client uses.
func DefaultConfiguration() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{
				"stun:stun.l.google.com:19302",
				"stun:stun1.l.google.com:19302",
			}},
		},
	}
}

func NewPionConn(api *webrtc.API, cfg webrtc.Configuration) (*PionConn, error) {
	if api == nil {
		api = webrtc.NewAPI()
	}
	pc, err := api.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	return &PionConn{pc: pc}, nil
}

// PeerConnection exposes the underlying pion connection for track wiring.
func (p *PionConn) PeerConnection() *webrtc.PeerConnection {
	return p.pc
}

func (p *PionConn) CreateOffer() (Description, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return Description{}, err
	}
	return descriptionFromPion(offer), nil
}

func (p *PionConn) CreateAnswer() (Description, error) {
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return Description{}, err
	}
	return descriptionFromPion(answer), nil
}

func (p *PionConn) SetLocalDescription(desc Description) error {
	sd, err := descriptionToPion(desc)
	if err != nil {
		return err
	}
	return p.pc.SetLocalDescription(sd)
}

func (p *PionConn) SetRemoteDescription(desc Description) error {
	sd, err := descriptionToPion(desc)
	if err != nil {
		return err
	}
	return p.pc.SetRemoteDescription(sd)
}

func (p *PionConn) AddICECandidate(cand Candidate) error {
	return p.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:        cand.Candidate,
		SDPMid:           cand.SDPMid,
		SDPMLineIndex:    cand.SDPMLineIndex,
		UsernameFragment: cand.UsernameFragment,
	})
}

func (p *PionConn) OnICECandidate(f func(Candidate)) {
	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		f(Candidate{
			Candidate:        init.Candidate,
			SDPMid:           init.SDPMid,
			SDPMLineIndex:    init.SDPMLineIndex,
			UsernameFragment: init.UsernameFragment,
		})
	})
}

func (p *PionConn) Close() error {
	return p.pc.Close()
}

func descriptionFromPion(sd webrtc.SessionDescription) Description {
	return Description{
		Type: sd.Type.String(),
		SDP:  sd.SDP,
	}
}

func descriptionToPion(desc Description) (webrtc.SessionDescription, error) {
	var t webrtc.SDPType
	switch desc.Type {
	case "offer":
		t = webrtc.SDPTypeOffer
	case "answer":
		t = webrtc.SDPTypeAnswer
	default:
		return webrtc.SessionDescription{}, fmt.Errorf("unsupported sdp type %q", desc.Type)
	}
	return webrtc.SessionDescription{Type: t, SDP: desc.SDP}, nil
}
