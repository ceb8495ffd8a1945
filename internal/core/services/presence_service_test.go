package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"parley/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// recordingSender collects every delivery so tests can assert on exact
// fan-out targets and ordering.
type recordingSender struct {
	mu   sync.Mutex
	sent []delivery
}

type delivery struct {
	to  domain.UserID
	evt domain.Event
}

func (s *recordingSender) SendToUser(user domain.UserID, evt domain.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, delivery{to: user, evt: evt})
}

func (s *recordingSender) SendToUsers(users []domain.UserID, evt domain.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, user := range users {
		s.sent = append(s.sent, delivery{to: user, evt: evt})
	}
}

func (s *recordingSender) deliveries() []delivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]delivery, len(s.sent))
	copy(out, s.sent)
	return out
}

func (s *recordingSender) byType(eventType string) []delivery {
	var out []delivery
	for _, d := range s.deliveries() {
		if d.evt.Type == eventType {
			out = append(out, d)
		}
	}
	return out
}

func (s *recordingSender) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = nil
}

// fakeRoster is an in-memory roster with an optional injected failure.
type fakeRoster struct {
	mu      sync.Mutex
	members map[domain.RoomID]map[domain.UserID]struct{}
	addErr  error
	listErr error
}

func newFakeRoster() *fakeRoster {
	return &fakeRoster{members: make(map[domain.RoomID]map[domain.UserID]struct{})}
}

func (r *fakeRoster) Add(ctx context.Context, roomID domain.RoomID, user domain.UserID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.addErr != nil {
		return r.addErr
	}
	set, ok := r.members[roomID]
	if !ok {
		set = make(map[domain.UserID]struct{})
		r.members[roomID] = set
	}
	set[user] = struct{}{}
	return nil
}

func (r *fakeRoster) Remove(ctx context.Context, roomID domain.RoomID, user domain.UserID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.members[roomID], user)
	return nil
}

func (r *fakeRoster) Members(ctx context.Context, roomID domain.RoomID) ([]domain.UserID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	out := make([]domain.UserID, 0, len(r.members[roomID]))
	for user := range r.members[roomID] {
		out = append(out, user)
	}
	return out, nil
}

func TestPresenceService_JoinBroadcastsSnapshotToRoom(t *testing.T) {
	sender := &recordingSender{}
	svc := NewPresenceService(newFakeRoster(), sender, zaptest.NewLogger(t).Sugar())
	ctx := context.Background()

	require.NoError(t, svc.Join(ctx, "general", "alice"))
	require.NoError(t, svc.Join(ctx, "general", "bob"))

	updates := sender.byType(domain.EventMembersUpdate)
	require.NotEmpty(t, updates)

	// The second join's snapshot goes to both and carries both online.
	last := updates[len(updates)-1]
	snapshot, ok := last.evt.Payload.([]domain.MemberStatus)
	require.True(t, ok)
	require.Len(t, snapshot, 2)
	assert.Equal(t, domain.UserID("alice"), snapshot[0].Identity)
	assert.True(t, snapshot[0].Online)
	assert.Equal(t, domain.UserID("bob"), snapshot[1].Identity)
	assert.True(t, snapshot[1].Online)

	targets := make(map[domain.UserID]bool)
	for _, d := range updates[len(updates)-2:] {
		targets[d.to] = true
	}
	assert.True(t, targets["alice"])
	assert.True(t, targets["bob"])
}

func TestPresenceService_DoubleJoinIsIdempotent(t *testing.T) {
	sender := &recordingSender{}
	svc := NewPresenceService(newFakeRoster(), sender, zaptest.NewLogger(t).Sugar())
	ctx := context.Background()

	require.NoError(t, svc.Join(ctx, "general", "alice"))
	require.NoError(t, svc.Join(ctx, "general", "alice"))

	assert.Equal(t, []domain.UserID{"alice"}, svc.Present("general"))

	// The repeated join re-broadcasts an identical snapshot.
	updates := sender.byType(domain.EventMembersUpdate)
	require.Len(t, updates, 2)
	assert.Equal(t, updates[0].evt.Payload, updates[1].evt.Payload)
}

func TestPresenceService_PresenceStaysSubsetOfRoster(t *testing.T) {
	roster := newFakeRoster()
	sender := &recordingSender{}
	svc := NewPresenceService(roster, sender, zaptest.NewLogger(t).Sugar())
	ctx := context.Background()

	require.NoError(t, svc.Join(ctx, "general", "alice"))
	require.NoError(t, svc.Join(ctx, "general", "bob"))
	svc.Leave(ctx, "general", "bob")

	members, err := roster.Members(ctx, "general")
	require.NoError(t, err)
	memberSet := make(map[domain.UserID]struct{}, len(members))
	for _, m := range members {
		memberSet[m] = struct{}{}
	}
	for _, user := range svc.Present("general") {
		_, ok := memberSet[user]
		assert.True(t, ok, "present user %s missing from roster", user)
	}

	// Leaving presence does not remove durable membership.
	assert.Contains(t, members, domain.UserID("bob"))
}

func TestPresenceService_SnapshotMarksOfflineRosterMembers(t *testing.T) {
	roster := newFakeRoster()
	sender := &recordingSender{}
	svc := NewPresenceService(roster, sender, zaptest.NewLogger(t).Sugar())
	ctx := context.Background()

	require.NoError(t, roster.Add(ctx, "general", "carol"))
	require.NoError(t, svc.Join(ctx, "general", "alice"))

	snapshot, err := svc.Snapshot(ctx, "general")
	require.NoError(t, err)
	require.Len(t, snapshot, 2)
	assert.Equal(t, domain.MemberStatus{Identity: "alice", Online: true}, snapshot[0])
	assert.Equal(t, domain.MemberStatus{Identity: "carol", Online: false}, snapshot[1])
}

func TestPresenceService_SnapshotDegradesWhenRosterFails(t *testing.T) {
	roster := newFakeRoster()
	sender := &recordingSender{}
	svc := NewPresenceService(roster, sender, zaptest.NewLogger(t).Sugar())
	ctx := context.Background()

	require.NoError(t, svc.Join(ctx, "general", "alice"))
	roster.listErr = errors.New("roster unavailable")

	snapshot, err := svc.Snapshot(ctx, "general")
	require.NoError(t, err)
	require.Len(t, snapshot, 1)
	assert.Equal(t, domain.MemberStatus{Identity: "alice", Online: true}, snapshot[0])
}

func TestPresenceService_LeaveNotifiesRemainingOnly(t *testing.T) {
	sender := &recordingSender{}
	svc := NewPresenceService(newFakeRoster(), sender, zaptest.NewLogger(t).Sugar())
	ctx := context.Background()

	require.NoError(t, svc.Join(ctx, "general", "alice"))
	require.NoError(t, svc.Join(ctx, "general", "bob"))
	sender.reset()

	svc.Leave(ctx, "general", "bob")

	offline := sender.byType(domain.EventUserOffline)
	require.Len(t, offline, 1)
	assert.Equal(t, domain.UserID("alice"), offline[0].to)
	payload, ok := offline[0].evt.Payload.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, domain.UserID("bob"), payload["identity"])

	assert.Equal(t, []domain.UserID{"alice"}, svc.Present("general"))
}

func TestPresenceService_LeaveUnknownUserIsNoop(t *testing.T) {
	sender := &recordingSender{}
	svc := NewPresenceService(newFakeRoster(), sender, zaptest.NewLogger(t).Sugar())
	ctx := context.Background()

	require.NoError(t, svc.Join(ctx, "general", "alice"))
	sender.reset()

	svc.Leave(ctx, "general", "mallory")
	svc.Leave(ctx, "nowhere", "alice")

	assert.Empty(t, sender.deliveries())
}

func TestPresenceService_EmptiedRoomIsDiscarded(t *testing.T) {
	sender := &recordingSender{}
	svc := NewPresenceService(newFakeRoster(), sender, zaptest.NewLogger(t).Sugar()).(*presenceService)
	ctx := context.Background()

	require.NoError(t, svc.Join(ctx, "general", "alice"))
	svc.Leave(ctx, "general", "alice")

	svc.mu.Lock()
	_, exists := svc.rooms["general"]
	svc.mu.Unlock()
	assert.False(t, exists)
}

func TestPresenceService_DisconnectAllEmitsOneOfflinePerRoom(t *testing.T) {
	sender := &recordingSender{}
	svc := NewPresenceService(newFakeRoster(), sender, zaptest.NewLogger(t).Sugar())
	ctx := context.Background()

	require.NoError(t, svc.Join(ctx, "room-a", "alice"))
	require.NoError(t, svc.Join(ctx, "room-a", "bob"))
	require.NoError(t, svc.Join(ctx, "room-b", "alice"))
	require.NoError(t, svc.Join(ctx, "room-b", "carol"))
	sender.reset()

	svc.DisconnectAll(ctx, "alice")

	offline := sender.byType(domain.EventUserOffline)
	require.Len(t, offline, 2)
	rooms := map[domain.RoomID]int{}
	for _, d := range offline {
		rooms[d.evt.RoomID]++
		payload := d.evt.Payload.(map[string]interface{})
		assert.Equal(t, domain.UserID("alice"), payload["identity"])
	}
	assert.Equal(t, 1, rooms["room-a"])
	assert.Equal(t, 1, rooms["room-b"])

	assert.Equal(t, []domain.UserID{"bob"}, svc.Present("room-a"))
	assert.Equal(t, []domain.UserID{"carol"}, svc.Present("room-b"))
}

func TestPresenceService_DisconnectAllForUnknownUserIsNoop(t *testing.T) {
	sender := &recordingSender{}
	svc := NewPresenceService(newFakeRoster(), sender, zaptest.NewLogger(t).Sugar())

	svc.DisconnectAll(context.Background(), "ghost")

	assert.Empty(t, sender.deliveries())
}
