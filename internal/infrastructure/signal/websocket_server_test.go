package signal

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"parley/internal/core/domain"
	"parley/internal/core/services"
	"parley/internal/infrastructure/repositories/memory"
	"parley/internal/registry"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type wireEvent struct {
	Type    string          `json:"type"`
	RoomID  string          `json:"room_id,omitempty"`
	From    string          `json:"from,omitempty"`
	To      string          `json:"to,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func newTestRelay(t *testing.T) (*httptest.Server, func(user string) *testClient) {
	t.Helper()

	logger := zaptest.NewLogger(t).Sugar()
	hub := NewHub(logger)
	reg := registry.New()
	auth := services.NewAuthService("test-secret", time.Hour)
	presence := services.NewPresenceService(memory.NewMemoryRosterRepository(), hub, logger)
	messages := services.NewMessageService(memory.NewMemoryMessageRepository(), presence, hub, services.NopMessageMetrics{}, logger)
	calls := services.NewCallService(hub, logger)

	srv := NewServer(hub, reg, presence, messages, calls, auth, DefaultOptions(), NopMetrics(), logger)
	ts := httptest.NewServer(http.HandlerFunc(srv.HandleWebSocket))
	t.Cleanup(ts.Close)

	dial := func(user string) *testClient {
		t.Helper()
		token, err := auth.IssueToken(domain.UserID(user), user)
		require.NoError(t, err)

		url := "ws" + strings.TrimPrefix(ts.URL, "http") + "?token=" + token
		ws, _, err := websocket.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		c := &testClient{t: t, ws: ws, user: user}
		t.Cleanup(c.close)
		return c
	}
	return ts, dial
}

type testClient struct {
	t    *testing.T
	ws   *websocket.Conn
	user string
}

func (c *testClient) close() {
	c.ws.Close()
}

func (c *testClient) send(evt interface{}) {
	c.t.Helper()
	require.NoError(c.t, c.ws.WriteJSON(evt))
}

// waitFor reads until an event of the wanted type arrives, skipping others.
func (c *testClient) waitFor(eventType string) wireEvent {
	c.t.Helper()
	c.ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var evt wireEvent
		if err := c.ws.ReadJSON(&evt); err != nil {
			c.t.Fatalf("client %s: waiting for %s: %v", c.user, eventType, err)
		}
		if evt.Type == eventType {
			return evt
		}
	}
}

// expectSilence asserts no event of the given type arrives within the window.
func (c *testClient) expectSilence(eventType string, window time.Duration) {
	c.t.Helper()
	c.ws.SetReadDeadline(time.Now().Add(window))
	for {
		var evt wireEvent
		if err := c.ws.ReadJSON(&evt); err != nil {
			return // timeout is the expected outcome
		}
		if evt.Type == eventType {
			c.t.Fatalf("client %s: unexpected %s event: %s", c.user, eventType, string(evt.Payload))
		}
	}
}

func (c *testClient) identify() {
	c.t.Helper()
	c.send(map[string]interface{}{
		"type":    domain.EventIdentify,
		"payload": map[string]string{"identity": c.user},
	})
	c.waitFor(domain.EventUserOnline)
}

func (c *testClient) joinRoom(roomID string) {
	c.t.Helper()
	c.send(map[string]interface{}{"type": domain.EventJoinRoom, "room_id": roomID})
	c.waitFor(domain.EventMembersUpdate)
}

func TestServer_RejectsMissingToken(t *testing.T) {
	ts, _ := newTestRelay(t)

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServer_IdentifyBroadcastsUserOnline(t *testing.T) {
	_, dial := newTestRelay(t)

	alice := dial("alice")
	bob := dial("bob")

	alice.identify()

	evt := bob.waitFor(domain.EventUserOnline)
	var payload map[string]string
	require.NoError(t, json.Unmarshal(evt.Payload, &payload))
	assert.Equal(t, "alice", payload["identity"])
}

func TestServer_OperationsBeforeIdentifyRejected(t *testing.T) {
	_, dial := newTestRelay(t)

	alice := dial("alice")
	alice.send(map[string]interface{}{"type": domain.EventJoinRoom, "room_id": "general"})

	evt := alice.waitFor(domain.EventError)
	var payload map[string]string
	require.NoError(t, json.Unmarshal(evt.Payload, &payload))
	assert.Contains(t, payload["message"], "not identified")
}

func TestServer_IdentityMismatchRejected(t *testing.T) {
	_, dial := newTestRelay(t)

	alice := dial("alice")
	alice.send(map[string]interface{}{
		"type":    domain.EventIdentify,
		"payload": map[string]string{"identity": "mallory"},
	})

	evt := alice.waitFor(domain.EventError)
	var payload map[string]string
	require.NoError(t, json.Unmarshal(evt.Payload, &payload))
	assert.Contains(t, payload["message"], "does not match")
}

func TestServer_MessageRoundTrip(t *testing.T) {
	_, dial := newTestRelay(t)

	alice := dial("alice")
	bob := dial("bob")
	carol := dial("carol")
	alice.identify()
	bob.identify()
	carol.identify()

	alice.joinRoom("general")
	bob.joinRoom("general")
	carol.joinRoom("lounge")

	alice.send(map[string]interface{}{
		"type":    domain.EventSendMessage,
		"room_id": "general",
		"payload": map[string]string{"content": "hello room", "kind": "text"},
	})

	for _, c := range []*testClient{alice, bob} {
		evt := c.waitFor(domain.EventNewMessage)
		assert.Equal(t, "general", evt.RoomID)
		assert.Equal(t, "alice", evt.From)

		var msg domain.ChatMessage
		require.NoError(t, json.Unmarshal(evt.Payload, &msg))
		assert.NotEmpty(t, msg.ID, "relay must carry the stored record")
		assert.Equal(t, "hello room", msg.Content)
		assert.Equal(t, domain.UserID("alice"), msg.Author)
		assert.False(t, msg.CreatedAt.IsZero())
	}

	carol.expectSilence(domain.EventNewMessage, 200*time.Millisecond)
}

func TestServer_ErrorsGoToSenderOnly(t *testing.T) {
	_, dial := newTestRelay(t)

	alice := dial("alice")
	bob := dial("bob")
	alice.identify()
	bob.identify()
	alice.joinRoom("general")
	bob.joinRoom("general")

	// Empty content fails validation before anything is persisted.
	alice.send(map[string]interface{}{
		"type":    domain.EventSendMessage,
		"room_id": "general",
		"payload": map[string]string{"content": "   "},
	})

	alice.waitFor(domain.EventError)
	bob.expectSilence(domain.EventError, 200*time.Millisecond)
	bob.expectSilence(domain.EventNewMessage, 100*time.Millisecond)
}

func TestServer_SignalingRequiresTargetInCall(t *testing.T) {
	_, dial := newTestRelay(t)

	alice := dial("alice")
	bob := dial("bob")
	alice.identify()
	bob.identify()

	alice.send(map[string]interface{}{"type": domain.EventJoinCall, "room_id": "general"})
	bob.send(map[string]interface{}{"type": domain.EventJoinCall, "room_id": "general"})
	alice.waitFor(domain.EventUserJoinedCall)

	// Missing target.
	alice.send(map[string]interface{}{
		"type":    domain.EventOffer,
		"room_id": "general",
		"payload": map[string]string{"sdp": "v=0"},
	})
	alice.waitFor(domain.EventError)

	// Target not in the call.
	alice.send(map[string]interface{}{
		"type":    domain.EventOffer,
		"room_id": "general",
		"to":      "carol",
		"payload": map[string]string{"sdp": "v=0"},
	})
	evt := alice.waitFor(domain.EventError)
	var payload map[string]string
	require.NoError(t, json.Unmarshal(evt.Payload, &payload))
	assert.Contains(t, payload["message"], "not in call")
}

func TestServer_SignalingRoutesToAddresseeOnly(t *testing.T) {
	_, dial := newTestRelay(t)

	alice := dial("alice")
	bob := dial("bob")
	carol := dial("carol")
	alice.identify()
	bob.identify()
	carol.identify()

	for _, c := range []*testClient{alice, bob, carol} {
		c.send(map[string]interface{}{"type": domain.EventJoinCall, "room_id": "general"})
	}
	// Existing participants learn about each newcomer.
	alice.waitFor(domain.EventUserJoinedCall)
	alice.waitFor(domain.EventUserJoinedCall)

	alice.send(map[string]interface{}{
		"type":    domain.EventOffer,
		"room_id": "general",
		"to":      "bob",
		"payload": map[string]string{"sdp": "v=0 offer"},
	})

	evt := bob.waitFor(domain.EventOffer)
	assert.Equal(t, "alice", evt.From)
	assert.Equal(t, "bob", evt.To)

	carol.expectSilence(domain.EventOffer, 200*time.Millisecond)
}

func TestServer_DisconnectCascadesPresenceAndCall(t *testing.T) {
	_, dial := newTestRelay(t)

	alice := dial("alice")
	bob := dial("bob")
	alice.identify()
	bob.identify()
	alice.joinRoom("general")
	bob.joinRoom("general")

	alice.send(map[string]interface{}{"type": domain.EventJoinCall, "room_id": "general"})
	// A join-call elicits no reply to the joiner, so round-trip on alice's
	// connection to guarantee her join-call is processed before bob's goes
	// out: events on one connection are handled in order, but not across
	// connections. An unknown event type draws an error reply that cannot
	// already be sitting in her receive buffer.
	alice.send(map[string]interface{}{"type": "sync-barrier"})
	alice.waitFor(domain.EventError)
	bob.send(map[string]interface{}{"type": domain.EventJoinCall, "room_id": "general"})
	alice.waitFor(domain.EventUserJoinedCall)

	alice.close()

	// Bob sees the call teardown and the offline notice.
	bob.waitFor(domain.EventUserLeftCall)
	evt := bob.waitFor(domain.EventUserOffline)
	var payload map[string]string
	require.NoError(t, json.Unmarshal(evt.Payload, &payload))
	assert.Equal(t, "alice", payload["identity"])
}

func TestServer_SecondTabKeepsIdentityOnline(t *testing.T) {
	_, dial := newTestRelay(t)

	tab1 := dial("alice")
	tab2 := dial("alice")
	bob := dial("bob")
	tab1.identify()
	tab2.identify()
	bob.identify()

	tab1.joinRoom("general")
	bob.joinRoom("general")

	tab1.close()

	// The identity is still connected through the second tab, so no
	// offline cascade fires.
	bob.expectSilence(domain.EventUserOffline, 300*time.Millisecond)
}

func TestServer_UnknownEventType(t *testing.T) {
	_, dial := newTestRelay(t)

	alice := dial("alice")
	alice.identify()

	alice.send(map[string]interface{}{"type": "warp-drive"})

	evt := alice.waitFor(domain.EventError)
	var payload map[string]string
	require.NoError(t, json.Unmarshal(evt.Payload, &payload))
	assert.Contains(t, payload["message"], "unknown event type")
}

func TestHealthCheck(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	hub := NewHub(logger)
	srv := NewServer(hub, registry.New(), nil, nil, nil, nil, DefaultOptions(), NopMetrics(), logger)

	rec := httptest.NewRecorder()
	srv.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, float64(0), body["connections"])
}
