package mesh

import (
	"time"

	"parley/internal/core/domain"

	"github.com/pion/webrtc/v3"
)

// PeerConnection abstracts the RTC connection so the negotiation state
// machine can be driven with fakes. The real implementation wraps pion.
type PeerConnection interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(cand webrtc.ICECandidateInit) error
	AddTrack(track MediaTrack) error
	OnICECandidate(fn func(webrtc.ICECandidateInit))
	OnRemoteTrack(fn func(RemoteTrack))
	Close() error
}

// PeerConnectionFactory creates one connection per peer link.
type PeerConnectionFactory func() (PeerConnection, error)

// RemoteTrack is a media track received from the remote peer.
type RemoteTrack interface {
	ID() string
	Kind() string
}

// PeerLink is the local end of one negotiation toward one remote
// participant. It is owned exclusively by the manager goroutine; no field is
// touched from anywhere else.
type PeerLink struct {
	remote    domain.UserID
	state     domain.LinkState
	pc        PeerConnection
	audioOnly bool // capability advertised by the remote

	// remoteSet flips once SetRemoteDescription succeeds; the RTC stack
	// rejects candidates added before that.
	remoteSet bool

	remoteTracks []RemoteTrack

	// epoch guards the negotiation timer: a timer armed for an earlier
	// incarnation of the link must not fire on a later one.
	epoch int
	timer *time.Timer
}

func (l *PeerLink) State() domain.LinkState {
	return l.state
}

func (l *PeerLink) cancelTimer() {
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
}

// teardown closes the link unconditionally. Safe to call repeatedly.
func (l *PeerLink) teardown(state domain.LinkState) {
	l.cancelTimer()
	if l.state == domain.LinkClosed || l.state == domain.LinkFailed {
		return
	}
	l.state = state
	if l.pc != nil {
		l.pc.Close()
	}
}

// pionConnection adapts *webrtc.PeerConnection to the PeerConnection port.
type pionConnection struct {
	pc *webrtc.PeerConnection
}

// NewPionFactory returns a factory producing real pion connections with the
// given ICE servers.
func NewPionFactory(iceServers []webrtc.ICEServer) PeerConnectionFactory {
	return func() (PeerConnection, error) {
		pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
		if err != nil {
			return nil, err
		}
		return &pionConnection{pc: pc}, nil
	}
}

func (c *pionConnection) CreateOffer() (webrtc.SessionDescription, error) {
	return c.pc.CreateOffer(nil)
}

func (c *pionConnection) CreateAnswer() (webrtc.SessionDescription, error) {
	return c.pc.CreateAnswer(nil)
}

func (c *pionConnection) SetLocalDescription(desc webrtc.SessionDescription) error {
	return c.pc.SetLocalDescription(desc)
}

func (c *pionConnection) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(desc)
}

func (c *pionConnection) AddICECandidate(cand webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(cand)
}

func (c *pionConnection) AddTrack(track MediaTrack) error {
	local, ok := track.(*LocalTrack)
	if !ok {
		return webrtc.ErrUnsupportedCodec
	}
	_, err := c.pc.AddTrack(local.track)
	return err
}

func (c *pionConnection) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return // end of gathering
		}
		fn(cand.ToJSON())
	})
}

func (c *pionConnection) OnRemoteTrack(fn func(RemoteTrack)) {
	c.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		fn(&pionRemoteTrack{track: track})
	})
}

func (c *pionConnection) Close() error {
	return c.pc.Close()
}

// LocalTrack wraps a pion local track as a MediaTrack.
type LocalTrack struct {
	track webrtc.TrackLocal
	stop  func()
}

func NewLocalTrack(track webrtc.TrackLocal, stop func()) *LocalTrack {
	return &LocalTrack{track: track, stop: stop}
}

func (t *LocalTrack) Kind() string {
	return t.track.Kind().String()
}

func (t *LocalTrack) Stop() {
	if t.stop != nil {
		t.stop()
	}
}

type pionRemoteTrack struct {
	track *webrtc.TrackRemote
}

func (t *pionRemoteTrack) ID() string {
	return t.track.ID()
}

func (t *pionRemoteTrack) Kind() string {
	return t.track.Kind().String()
}
