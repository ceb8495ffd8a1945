package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"parley/internal/core/domain"
	"parley/internal/core/ports"
	"parley/internal/registry"
	"parley/pkg/utils"
	"parley/pkg/validation"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Should be configured properly for production
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Metrics is the slice of the monitoring collector the transport needs.
type Metrics interface {
	RecordConnectionOpened()
	RecordConnectionClosed()
	RecordIdentified()
	RecordSignalRelayed(eventType string)
}

type nopMetrics struct{}

func (nopMetrics) RecordConnectionOpened()    {}
func (nopMetrics) RecordConnectionClosed()    {}
func (nopMetrics) RecordIdentified()          {}
func (nopMetrics) RecordSignalRelayed(string) {}

// NopMetrics is used when monitoring is disabled.
func NopMetrics() Metrics { return nopMetrics{} }

// Options carries the transport tunables from config.
type Options struct {
	PingInterval   time.Duration
	PongTimeout    time.Duration
	WriteTimeout   time.Duration
	SendQueueSize  int
	MaxMessageSize int64

	RateLimitEnabled  bool
	MessagesPerSecond float64
	Burst             int
}

func DefaultOptions() Options {
	return Options{
		PingInterval:   30 * time.Second,
		PongTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
		SendQueueSize:  64,
		MaxMessageSize: 64 * 1024,
	}
}

// Server terminates websocket connections and dispatches the realtime
// channel events onto the relay services.
type Server struct {
	hub      *Hub
	registry *registry.Registry
	presence ports.PresenceService
	messages ports.MessageService
	calls    ports.CallService
	auth     ports.Authenticator

	opts    Options
	metrics Metrics
	logger  *zap.SugaredLogger
}

func NewServer(
	hub *Hub,
	reg *registry.Registry,
	presence ports.PresenceService,
	messages ports.MessageService,
	calls ports.CallService,
	auth ports.Authenticator,
	opts Options,
	metrics Metrics,
	logger *zap.SugaredLogger,
) *Server {
	if metrics == nil {
		metrics = NopMetrics()
	}
	return &Server{
		hub:      hub,
		registry: reg,
		presence: presence,
		messages: messages,
		calls:    calls,
		auth:     auth,
		opts:     opts,
		metrics:  metrics,
		logger:   logger,
	}
}

// inboundEvent mirrors domain.Event with the payload left raw for
// per-type decoding.
type inboundEvent struct {
	Type    string          `json:"type"`
	RoomID  domain.RoomID   `json:"room_id,omitempty"`
	From    domain.UserID   `json:"from,omitempty"`
	To      domain.UserID   `json:"to,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type identifyPayload struct {
	Identity domain.UserID `json:"identity"`
}

type sendMessagePayload struct {
	Content  string             `json:"content"`
	Kind     domain.MessageKind `json:"kind"`
	ImageURL string             `json:"image_url,omitempty"`
}

type mutateMessagePayload struct {
	MessageID domain.MessageID `json:"message_id"`
	Content   string           `json:"content,omitempty"`
}

type joinCallPayload struct {
	AudioOnly bool `json:"audio_only"`
}

func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	// The authentication collaborator gates the upgrade: no verified
	// identity, no connection.
	tokenUser, err := s.auth.Verify(r.URL.Query().Get("token"))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}

	conn := &connection{
		id:   domain.ConnID(utils.NewConnID()),
		ws:   ws,
		send: make(chan domain.Event, s.opts.SendQueueSize),
		done: make(chan struct{}),
	}
	s.hub.register(conn)
	s.metrics.RecordConnectionOpened()
	s.logger.Infow("connection opened", "conn_id", conn.id, "identity", tokenUser)

	go s.writePump(conn)
	s.readLoop(conn, tokenUser)
	s.teardown(conn)
}

// writePump is the single writer for one connection; it serializes queued
// events and keepalive pings onto the socket.
func (s *Server) writePump(c *connection) {
	pingTicker := time.NewTicker(s.opts.PingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case evt := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			if err := c.ws.WriteJSON(evt); err != nil {
				s.logger.Debugw("write failed", "conn_id", c.id, "error", err)
				c.close()
				return
			}

		case <-pingTicker.C:
			c.ws.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}

		case <-c.done:
			return
		}
	}
}

func (s *Server) readLoop(c *connection, tokenUser domain.UserID) {
	c.ws.SetReadLimit(s.opts.MaxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))
		return nil
	})

	var limiter *rate.Limiter
	if s.opts.RateLimitEnabled {
		limiter = rate.NewLimiter(rate.Limit(s.opts.MessagesPerSecond), s.opts.Burst)
	}

	for {
		var msg inboundEvent
		if err := c.ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Infow("read failed", "conn_id", c.id, "error", err)
			}
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))

		if limiter != nil && !limiter.Allow() {
			s.sendError(c.id, "rate limit exceeded")
			continue
		}

		if err := s.handleEvent(context.Background(), c, tokenUser, msg); err != nil {
			s.logger.Infow("event handling failed",
				"conn_id", c.id, "event", msg.Type, "error", err)
			s.sendError(c.id, err.Error())
		}
	}
}

func (s *Server) handleEvent(ctx context.Context, c *connection, tokenUser domain.UserID, msg inboundEvent) error {
	if msg.Type == "" {
		return fmt.Errorf("event type is required")
	}

	if msg.Type == domain.EventIdentify {
		return s.handleIdentify(c, tokenUser, msg)
	}

	// Every other operation requires an identified connection. Unidentified
	// operations are rejected, not silently ignored.
	user, ok := s.registry.Resolve(c.id)
	if !ok {
		return domain.ErrNotIdentified
	}

	switch msg.Type {
	case domain.EventJoinRoom:
		if err := validation.ValidateRoomID(string(msg.RoomID)); err != nil {
			return err
		}
		return s.presence.Join(ctx, msg.RoomID, user)

	case domain.EventLeaveRoom:
		s.presence.Leave(ctx, msg.RoomID, user)
		return nil

	case domain.EventSendMessage:
		var payload sendMessagePayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return fmt.Errorf("invalid send-message payload: %w", err)
		}
		_, err := s.messages.Submit(ctx, msg.RoomID, user, payload.Content, payload.Kind, payload.ImageURL)
		return err

	case domain.EventMessageUpdated:
		var payload mutateMessagePayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return fmt.Errorf("invalid message_updated payload: %w", err)
		}
		_, err := s.messages.Edit(ctx, msg.RoomID, payload.MessageID, user, payload.Content)
		return err

	case domain.EventMessageDeleted:
		var payload mutateMessagePayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return fmt.Errorf("invalid message_deleted payload: %w", err)
		}
		_, err := s.messages.Delete(ctx, msg.RoomID, payload.MessageID, user)
		return err

	case domain.EventJoinCall:
		var payload joinCallPayload
		if len(msg.Payload) > 0 {
			if err := json.Unmarshal(msg.Payload, &payload); err != nil {
				return fmt.Errorf("invalid join-video-chat payload: %w", err)
			}
		}
		s.calls.JoinCall(msg.RoomID, user, payload.AudioOnly)
		return nil

	case domain.EventLeaveCall:
		s.calls.LeaveCall(msg.RoomID, user)
		return nil

	case domain.EventOffer, domain.EventAnswer, domain.EventICECandidate:
		if msg.To == "" {
			return fmt.Errorf("%s requires a target identity", msg.Type)
		}
		if err := s.calls.Relay(msg.RoomID, msg.Type, user, msg.To, msg.Payload); err != nil {
			return err
		}
		s.metrics.RecordSignalRelayed(msg.Type)
		return nil

	default:
		return fmt.Errorf("unknown event type: %s", msg.Type)
	}
}

func (s *Server) handleIdentify(c *connection, tokenUser domain.UserID, msg inboundEvent) error {
	var payload identifyPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("invalid identify payload: %w", err)
	}
	if payload.Identity == "" {
		payload.Identity = tokenUser
	}
	if payload.Identity != tokenUser {
		return fmt.Errorf("identity does not match authenticated token")
	}

	if err := s.registry.Bind(c.id, payload.Identity); err != nil {
		return err
	}
	s.hub.bindUser(c.id, payload.Identity)
	s.metrics.RecordIdentified()

	s.hub.Broadcast(domain.Event{
		Type:    domain.EventUserOnline,
		Payload: map[string]interface{}{"identity": payload.Identity},
	})
	s.logger.Infow("connection identified", "conn_id", c.id, "identity", payload.Identity)
	return nil
}

// teardown cascades all connection state synchronously: registry binding,
// room presence and call participation. Disconnection is the only
// cancellation signal; nothing is deferred.
func (s *Server) teardown(c *connection) {
	s.hub.unregister(c.id)
	s.metrics.RecordConnectionClosed()

	user, ok := s.registry.Release(c.id)
	if !ok {
		s.logger.Infow("connection closed before identify", "conn_id", c.id)
		return
	}

	// Another live connection of the same identity (second tab) keeps its
	// presence alive; cascade only when the last one goes.
	if len(s.registry.Connections(user)) > 0 {
		s.logger.Infow("connection closed, identity still online elsewhere",
			"conn_id", c.id, "identity", user)
		return
	}

	s.presence.DisconnectAll(context.Background(), user)
	s.calls.LeaveAll(user)
	s.hub.Broadcast(domain.Event{
		Type:    domain.EventUserOffline,
		Payload: map[string]interface{}{"identity": user},
	})
	s.logger.Infow("connection closed", "conn_id", c.id, "identity", user)
}

func (s *Server) sendError(id domain.ConnID, message string) {
	s.hub.SendToConn(id, domain.Event{
		Type:    domain.EventError,
		Payload: map[string]interface{}{"message": message},
	})
}

func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":      "healthy",
		"timestamp":   time.Now().Unix(),
		"connections": s.hub.ConnectionCount(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}
