// Command client is a headless relay client: it logs in, joins a room and
// its call channel, and drives a full-mesh connection manager against the
// other participants. Media is synthetic, which makes the client usable as a
// load probe and an end-to-end check of the signaling path.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"parley/internal/core/domain"
	"parley/internal/mesh"
	"parley/pkg/config"
	"parley/pkg/logger"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

func main() {
	var (
		configPath = flag.String("config", "configs/config.yaml", "path to config file")
		server     = flag.String("server", "http://localhost:8080", "relay base URL")
		username   = flag.String("username", "", "identity to connect as")
		room       = flag.String("room", "general", "room to join")
		audioOnly  = flag.Bool("audio-only", false, "advertise no camera")
		logLevel   = flag.String("log-level", "info", "zap log level")
	)
	flag.Parse()

	log := logger.New(*logLevel)
	defer log.Sync()
	slog := log.Sugar()

	if *username == "" {
		slog.Fatal("username is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Fatalw("failed to load config", "error", err)
	}

	token, err := login(*server, *username)
	if err != nil {
		slog.Fatalw("login failed", "error", err)
	}

	conn, err := dial(*server, cfg.Signal.Path, token)
	if err != nil {
		slog.Fatalw("websocket dial failed", "error", err)
	}

	c := &client{
		conn:   conn,
		self:   domain.UserID(*username),
		room:   domain.RoomID(*room),
		logger: slog,
	}

	factory := mesh.NewPionFactory(iceServers(cfg))
	manager := mesh.NewManager(mesh.Config{
		Self:               c.self,
		Room:               c.room,
		NegotiationTimeout: cfg.WebRTC.NegotiationTimeout.Std(),
	}, c, factory, syntheticSource(*audioOnly), slog)
	c.manager = manager

	mode, err := manager.Start()
	if err != nil {
		slog.Fatalw("media acquisition failed", "error", err)
	}
	slog.Infow("local media ready", "mode", mode)

	if err := c.handshake(); err != nil {
		slog.Fatalw("handshake failed", "error", err)
	}

	go c.watchLinks()
	go c.readLoop()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")
	c.send(domain.Event{Type: domain.EventLeaveCall, RoomID: c.room})
	manager.Close()
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	conn.Close()
}

// login trades a username for the bearer token the realtime endpoint requires.
func login(server, username string) (string, error) {
	body, _ := json.Marshal(map[string]string{"username": username})
	resp, err := http.Post(server+"/api/login", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("login rejected with status %d", resp.StatusCode)
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.Token, nil
}

// iceServers maps the configured servers onto pion's type, defaulting to a
// public STUN server when the config lists none.
func iceServers(cfg *config.Config) []webrtc.ICEServer {
	if len(cfg.WebRTC.ICEServers) == 0 {
		return []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
	}
	servers := make([]webrtc.ICEServer, 0, len(cfg.WebRTC.ICEServers))
	for _, s := range cfg.WebRTC.ICEServers {
		server := webrtc.ICEServer{URLs: s.URLs, Username: s.Username}
		if s.Credential != "" {
			server.Credential = s.Credential
		}
		servers = append(servers, server)
	}
	return servers
}

func dial(server, path, token string) (*websocket.Conn, error) {
	wsURL := strings.Replace(server, "http", "ws", 1) + path + "?token=" + url.QueryEscape(token)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	return conn, err
}

// client owns the websocket and bridges wire events into the mesh manager.
// Writes are serialized; gorilla connections allow one concurrent writer.
type client struct {
	conn    *websocket.Conn
	self    domain.UserID
	room    domain.RoomID
	manager *mesh.Manager
	logger  *zap.SugaredLogger

	writeMu sync.Mutex
}

func (c *client) send(evt domain.Event) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(evt)
}

// handshake identifies, joins the room, then joins its call channel. The
// relay processes a connection's events in order, so no acknowledgement is
// awaited between steps.
func (c *client) handshake() error {
	steps := []domain.Event{
		{Type: domain.EventIdentify, Payload: map[string]string{"identity": string(c.self)}},
		{Type: domain.EventJoinRoom, RoomID: c.room},
		{Type: domain.EventJoinCall, RoomID: c.room,
			Payload: map[string]bool{"audio_only": c.manager.AudioOnly()}},
	}
	for _, evt := range steps {
		if err := c.send(evt); err != nil {
			return err
		}
	}
	return nil
}

// Signaler implementation: negotiation messages ride the same websocket,
// addressed per participant.

func (c *client) SendOffer(to domain.UserID, sdp webrtc.SessionDescription) error {
	return c.send(domain.Event{Type: domain.EventOffer, RoomID: c.room, To: to, Payload: sdp})
}

func (c *client) SendAnswer(to domain.UserID, sdp webrtc.SessionDescription) error {
	return c.send(domain.Event{Type: domain.EventAnswer, RoomID: c.room, To: to, Payload: sdp})
}

func (c *client) SendCandidate(to domain.UserID, cand webrtc.ICECandidateInit) error {
	return c.send(domain.Event{Type: domain.EventICECandidate, RoomID: c.room, To: to, Payload: cand})
}

func (c *client) readLoop() {
	for {
		var evt struct {
			Type    string          `json:"type"`
			RoomID  domain.RoomID   `json:"room_id"`
			From    domain.UserID   `json:"from"`
			Payload json.RawMessage `json:"payload"`
		}
		if err := c.conn.ReadJSON(&evt); err != nil {
			c.logger.Infow("connection closed", "error", err)
			return
		}

		switch evt.Type {
		case domain.EventUserJoinedCall:
			var p domain.CallParticipant
			if json.Unmarshal(evt.Payload, &p) == nil && p.Identity != c.self {
				c.manager.PeerJoined(p.Identity, p.AudioOnly)
			}
		case domain.EventUserLeftCall:
			var p domain.CallParticipant
			if json.Unmarshal(evt.Payload, &p) == nil {
				c.manager.PeerLeft(p.Identity)
			}
		case domain.EventOffer:
			var sdp webrtc.SessionDescription
			if json.Unmarshal(evt.Payload, &sdp) == nil {
				c.manager.HandleOffer(evt.From, sdp)
			}
		case domain.EventAnswer:
			var sdp webrtc.SessionDescription
			if json.Unmarshal(evt.Payload, &sdp) == nil {
				c.manager.HandleAnswer(evt.From, sdp)
			}
		case domain.EventICECandidate:
			var cand webrtc.ICECandidateInit
			if json.Unmarshal(evt.Payload, &cand) == nil {
				c.manager.HandleCandidate(evt.From, cand)
			}
		case domain.EventNewMessage:
			c.logger.Infow("message received", "room", evt.RoomID)
		case domain.EventError:
			c.logger.Warnw("relay error", "payload", string(evt.Payload))
		default:
			c.logger.Debugw("event ignored", "type", evt.Type)
		}
	}
}

func (c *client) watchLinks() {
	for update := range c.manager.Updates() {
		switch {
		case update.Err != nil:
			c.logger.Warnw("peer link update", "peer", update.Peer,
				"state", update.State, "error", update.Err)
		case update.Track != nil:
			c.logger.Infow("remote track", "peer", update.Peer,
				"kind", update.Track.Kind(), "id", update.Track.ID())
		default:
			c.logger.Infow("peer link update", "peer", update.Peer,
				"state", update.State, "audio_only", update.AudioOnly)
		}
	}
}

// syntheticSource produces silent static-sample tracks. They carry no
// frames but negotiate real codecs, so ICE and SDP behave as with live
// capture. With audioOnly the camera callback is absent and acquisition
// degrades the same way a missing device would.
func syntheticSource(audioOnly bool) mesh.MediaSource {
	src := &mesh.FuncSource{
		Microphone: func() (mesh.MediaTrack, error) {
			track, err := webrtc.NewTrackLocalStaticSample(
				webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "parley-client")
			if err != nil {
				return nil, err
			}
			return mesh.NewLocalTrack(track, nil), nil
		},
	}
	if !audioOnly {
		src.Camera = func() (mesh.MediaTrack, error) {
			track, err := webrtc.NewTrackLocalStaticSample(
				webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "parley-client")
			if err != nil {
				return nil, err
			}
			return mesh.NewLocalTrack(track, nil), nil
		}
	}
	return src
}
