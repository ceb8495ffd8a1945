// Package mesh is the client-side mesh-connection manager: one negotiation
// state machine per remote participant, driven by discrete events on a
// single goroutine, building a full-mesh call topology for one room.
package mesh

import (
	"errors"
	"sync"
	"time"

	"parley/internal/core/domain"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// Signaler sends negotiation messages toward one remote participant through
// the signaling relay.
type Signaler interface {
	SendOffer(to domain.UserID, sdp webrtc.SessionDescription) error
	SendAnswer(to domain.UserID, sdp webrtc.SessionDescription) error
	SendCandidate(to domain.UserID, cand webrtc.ICECandidateInit) error
}

// LinkUpdate reports a peer link transition to the embedding application.
type LinkUpdate struct {
	Peer      domain.UserID
	State     domain.LinkState
	AudioOnly bool
	Track     RemoteTrack // set when a remote track arrived
	Err       error
}

// Config carries the manager tunables.
type Config struct {
	Self               domain.UserID
	Room               domain.RoomID
	NegotiationTimeout time.Duration
	CandidateBuffer    int // per-peer cap for candidates racing ahead of the offer
	UpdateBuffer       int
}

func (c *Config) applyDefaults() {
	if c.NegotiationTimeout <= 0 {
		c.NegotiationTimeout = 30 * time.Second
	}
	if c.CandidateBuffer <= 0 {
		c.CandidateBuffer = 32
	}
	if c.UpdateBuffer <= 0 {
		c.UpdateBuffer = 64
	}
}

var (
	ErrAlreadyStarted = errors.New("mesh manager already started")
	ErrManagerClosed  = errors.New("mesh manager closed")
)

type eventKind int

const (
	evPeerJoined eventKind = iota
	evPeerLeft
	evOffer
	evAnswer
	evCandidate
	evLocalCandidate
	evRemoteTrack
	evTimeout
)

type meshEvent struct {
	kind      eventKind
	peer      domain.UserID
	audioOnly bool
	sdp       webrtc.SessionDescription
	cand      webrtc.ICECandidateInit
	track     RemoteTrack
	epoch     int
}

// Manager owns every PeerLink for one room's call. All link state is
// confined to the run goroutine; public methods only post events.
type Manager struct {
	cfg      Config
	signaler Signaler
	newConn  PeerConnectionFactory
	media    MediaSource
	logger   *zap.SugaredLogger

	events  chan meshEvent
	updates chan LinkUpdate
	done    chan struct{}

	// owned by the run goroutine
	links      map[domain.UserID]*PeerLink
	pendingICE map[domain.UserID][]webrtc.ICECandidateInit
	tracks     []MediaTrack

	mu      sync.Mutex
	started bool
	closed  bool
	mode    Mode
}

func NewManager(cfg Config, signaler Signaler, factory PeerConnectionFactory, media MediaSource, logger *zap.SugaredLogger) *Manager {
	cfg.applyDefaults()
	return &Manager{
		cfg:        cfg,
		signaler:   signaler,
		newConn:    factory,
		media:      media,
		logger:     logger,
		events:     make(chan meshEvent, 128),
		updates:    make(chan LinkUpdate, cfg.UpdateBuffer),
		done:       make(chan struct{}),
		links:      make(map[domain.UserID]*PeerLink),
		pendingICE: make(map[domain.UserID][]webrtc.ICECandidateInit),
		mode:       ModeUnavailable,
	}
}

// Start acquires local media and launches the event loop. Camera failure
// with a working microphone degrades to ModeAudioOnly; both failing leaves
// the session unavailable and Start may be called again to retry the whole
// acquisition sequence. Close is terminal: a closed manager cannot restart.
func (m *Manager) Start() (Mode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ModeUnavailable, ErrManagerClosed
	}
	if m.started {
		return m.mode, ErrAlreadyStarted
	}

	tracks, mode, err := acquireWithFallback(m.media)
	if err != nil {
		m.mode = ModeUnavailable
		return ModeUnavailable, err
	}

	m.tracks = tracks
	m.mode = mode
	m.started = true
	go m.run()

	m.logger.Infow("mesh manager started",
		"room", m.cfg.Room, "self", m.cfg.Self, "mode", mode.String())
	return mode, nil
}

// AudioOnly reports whether the local session degraded to audio. The value
// belongs in the join-call payload so remote UIs render a placeholder
// instead of binding a video element.
func (m *Manager) AudioOnly() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode == ModeAudioOnly
}

// Updates delivers link transitions. Slow consumers lose intermediate
// updates rather than blocking negotiation. The channel is closed once
// Close completes, so consumers may range over it.
func (m *Manager) Updates() <-chan LinkUpdate {
	return m.updates
}

// PeerJoined handles a "peer available" notification for a remote identity.
func (m *Manager) PeerJoined(peer domain.UserID, audioOnly bool) {
	m.post(meshEvent{kind: evPeerJoined, peer: peer, audioOnly: audioOnly})
}

// PeerLeft tears down the link toward the identity. Idempotent.
func (m *Manager) PeerLeft(peer domain.UserID) {
	m.post(meshEvent{kind: evPeerLeft, peer: peer})
}

// HandleOffer processes a remote offer addressed to us. Offers addressed to
// another identity must be discarded by the caller before this point.
func (m *Manager) HandleOffer(from domain.UserID, sdp webrtc.SessionDescription) {
	m.post(meshEvent{kind: evOffer, peer: from, sdp: sdp})
}

func (m *Manager) HandleAnswer(from domain.UserID, sdp webrtc.SessionDescription) {
	m.post(meshEvent{kind: evAnswer, peer: from, sdp: sdp})
}

// HandleCandidate appends a remote ICE candidate. Candidates may race ahead
// of the offer in transit; they are buffered until the link exists.
func (m *Manager) HandleCandidate(from domain.UserID, cand webrtc.ICECandidateInit) {
	m.post(meshEvent{kind: evCandidate, peer: from, cand: cand})
}

// Close tears down every link and stops the loop.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed || !m.started {
		m.closed = true
		m.mu.Unlock()
		return
	}
	m.started = false
	m.closed = true
	m.mu.Unlock()
	close(m.done)
}

func (m *Manager) post(evt meshEvent) {
	select {
	case m.events <- evt:
	case <-m.done:
	}
}

func (m *Manager) run() {
	defer m.shutdown()

	for {
		select {
		case evt := <-m.events:
			m.dispatch(evt)
		case <-m.done:
			return
		}
	}
}

func (m *Manager) dispatch(evt meshEvent) {
	switch evt.kind {
	case evPeerJoined:
		m.handlePeerJoined(evt.peer, evt.audioOnly)
	case evPeerLeft:
		m.handlePeerLeft(evt.peer)
	case evOffer:
		m.handleOffer(evt.peer, evt.sdp)
	case evAnswer:
		m.handleAnswer(evt.peer, evt.sdp)
	case evCandidate:
		m.handleCandidate(evt.peer, evt.cand)
	case evLocalCandidate:
		if err := m.signaler.SendCandidate(evt.peer, evt.cand); err != nil {
			m.logger.Warnw("failed to send candidate", "peer", evt.peer, "error", err)
		}
	case evRemoteTrack:
		m.handleRemoteTrack(evt.peer, evt.track)
	case evTimeout:
		m.handleTimeout(evt.peer, evt.epoch)
	}
}

// handlePeerJoined is the caller side of the new-joiner-is-callee
// convention: the existing participant offers toward the newcomer.
func (m *Manager) handlePeerJoined(peer domain.UserID, audioOnly bool) {
	if _, exists := m.links[peer]; exists {
		return
	}

	link, err := m.createLink(peer)
	if err != nil {
		m.emit(LinkUpdate{Peer: peer, State: domain.LinkFailed, Err: err})
		return
	}
	link.audioOnly = audioOnly

	offer, err := link.pc.CreateOffer()
	if err != nil {
		m.failLink(link, err)
		return
	}
	if err := link.pc.SetLocalDescription(offer); err != nil {
		m.failLink(link, err)
		return
	}

	link.state = domain.LinkOffering
	m.armTimeout(link)
	if err := m.signaler.SendOffer(peer, offer); err != nil {
		m.failLink(link, err)
		return
	}
	m.emit(LinkUpdate{Peer: peer, State: link.state, AudioOnly: link.audioOnly})
}

// handleOffer is the callee side: a not-yet-linked identity offered to us.
func (m *Manager) handleOffer(from domain.UserID, sdp webrtc.SessionDescription) {
	if link, exists := m.links[from]; exists {
		// Both sides offering at once cannot happen under the
		// new-joiner-is-callee convention; drop rather than renegotiate.
		m.logger.Warnw("offer for existing link dropped",
			"peer", from, "state", link.state.String())
		return
	}

	link, err := m.createLink(from)
	if err != nil {
		m.emit(LinkUpdate{Peer: from, State: domain.LinkFailed, Err: err})
		return
	}

	link.state = domain.LinkAnswering
	m.armTimeout(link)

	if err := link.pc.SetRemoteDescription(sdp); err != nil {
		m.failLink(link, err)
		return
	}
	link.remoteSet = true
	m.flushCandidates(link)

	answer, err := link.pc.CreateAnswer()
	if err != nil {
		m.failLink(link, err)
		return
	}
	if err := link.pc.SetLocalDescription(answer); err != nil {
		m.failLink(link, err)
		return
	}

	link.state = domain.LinkConnected
	link.cancelTimer()
	if err := m.signaler.SendAnswer(from, answer); err != nil {
		m.failLink(link, err)
		return
	}
	m.emit(LinkUpdate{Peer: from, State: link.state, AudioOnly: link.audioOnly})
}

func (m *Manager) handleAnswer(from domain.UserID, sdp webrtc.SessionDescription) {
	link, exists := m.links[from]
	if !exists || link.state != domain.LinkOffering {
		// Stale or misrouted answer; expected under churn, not an error.
		return
	}

	if err := link.pc.SetRemoteDescription(sdp); err != nil {
		m.failLink(link, err)
		return
	}
	link.remoteSet = true

	link.state = domain.LinkConnected
	link.cancelTimer()
	m.flushCandidates(link)
	m.emit(LinkUpdate{Peer: from, State: link.state, AudioOnly: link.audioOnly})
}

func (m *Manager) handleCandidate(from domain.UserID, cand webrtc.ICECandidateInit) {
	link, exists := m.links[from]
	if !exists || !link.remoteSet {
		// Candidates can outrun the offer, and on the offering side the
		// answer; keep a bounded buffer until the remote description is
		// set and let overflow fall on the floor.
		buf := m.pendingICE[from]
		if len(buf) >= m.cfg.CandidateBuffer {
			return
		}
		m.pendingICE[from] = append(buf, cand)
		return
	}

	if err := link.pc.AddICECandidate(cand); err != nil {
		m.logger.Debugw("candidate rejected", "peer", from, "error", err)
	}
}

func (m *Manager) handleRemoteTrack(peer domain.UserID, track RemoteTrack) {
	link, exists := m.links[peer]
	if !exists {
		return
	}
	link.remoteTracks = append(link.remoteTracks, track)
	m.emit(LinkUpdate{Peer: peer, State: link.state, AudioOnly: link.audioOnly, Track: track})
}

func (m *Manager) handlePeerLeft(peer domain.UserID) {
	link, exists := m.links[peer]
	if !exists {
		return
	}
	link.teardown(domain.LinkClosed)
	delete(m.links, peer)
	delete(m.pendingICE, peer)
	m.emit(LinkUpdate{Peer: peer, State: domain.LinkClosed})
}

func (m *Manager) handleTimeout(peer domain.UserID, epoch int) {
	link, exists := m.links[peer]
	if !exists || link.epoch != epoch {
		return
	}
	if link.state != domain.LinkOffering && link.state != domain.LinkAnswering {
		return
	}
	m.failLink(link, errors.New("negotiation timed out"))
}

func (m *Manager) createLink(peer domain.UserID) (*PeerLink, error) {
	pc, err := m.newConn()
	if err != nil {
		return nil, err
	}

	link := &PeerLink{remote: peer, state: domain.LinkNew, pc: pc}
	m.links[peer] = link

	for _, track := range m.tracks {
		if err := pc.AddTrack(track); err != nil {
			delete(m.links, peer)
			pc.Close()
			return nil, err
		}
	}

	pc.OnICECandidate(func(cand webrtc.ICECandidateInit) {
		m.post(meshEvent{kind: evLocalCandidate, peer: peer, cand: cand})
	})
	pc.OnRemoteTrack(func(track RemoteTrack) {
		m.post(meshEvent{kind: evRemoteTrack, peer: peer, track: track})
	})

	return link, nil
}

func (m *Manager) flushCandidates(link *PeerLink) {
	buf := m.pendingICE[link.remote]
	if len(buf) == 0 {
		return
	}
	delete(m.pendingICE, link.remote)
	for _, cand := range buf {
		if err := link.pc.AddICECandidate(cand); err != nil {
			m.logger.Debugw("buffered candidate rejected", "peer", link.remote, "error", err)
		}
	}
}

func (m *Manager) armTimeout(link *PeerLink) {
	link.cancelTimer()
	link.epoch++
	epoch := link.epoch
	peer := link.remote
	link.timer = time.AfterFunc(m.cfg.NegotiationTimeout, func() {
		m.post(meshEvent{kind: evTimeout, peer: peer, epoch: epoch})
	})
}

func (m *Manager) failLink(link *PeerLink, err error) {
	m.logger.Warnw("peer link failed", "peer", link.remote, "error", err)
	link.teardown(domain.LinkFailed)
	delete(m.links, link.remote)
	delete(m.pendingICE, link.remote)
	m.emit(LinkUpdate{Peer: link.remote, State: domain.LinkFailed, Err: err})
}

func (m *Manager) emit(update LinkUpdate) {
	select {
	case m.updates <- update:
	default:
	}
}

func (m *Manager) shutdown() {
	for peer, link := range m.links {
		link.teardown(domain.LinkClosed)
		delete(m.links, peer)
	}
	for _, track := range m.tracks {
		track.Stop()
	}
	m.tracks = nil
	close(m.updates)
}
