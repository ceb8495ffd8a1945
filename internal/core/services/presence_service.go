package services

import (
	"context"
	"sort"
	"sync"

	"parley/internal/core/domain"
	"parley/internal/core/ports"

	"go.uber.org/zap"
)

// presenceService owns the per-room presence sets. All mutation and the
// matching broadcast enqueue happen under one lock, so broadcasts to a single
// room are emitted in mutation order.
type presenceService struct {
	mu    sync.Mutex
	rooms map[domain.RoomID]map[domain.UserID]struct{}

	roster ports.RosterRepository
	sender ports.Sender
	logger *zap.SugaredLogger
}

func NewPresenceService(roster ports.RosterRepository, sender ports.Sender, logger *zap.SugaredLogger) ports.PresenceService {
	return &presenceService{
		rooms:  make(map[domain.RoomID]map[domain.UserID]struct{}),
		roster: roster,
		sender: sender,
		logger: logger,
	}
}

// Join adds the identity to the room's presence set and broadcasts a full
// membership snapshot to everyone present. A repeated join is a no-op apart
// from the snapshot it re-broadcasts carrying identical state.
func (s *presenceService) Join(ctx context.Context, roomID domain.RoomID, user domain.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.rooms[roomID]
	if !ok {
		set = make(map[domain.UserID]struct{})
		s.rooms[roomID] = set
	}
	set[user] = struct{}{}

	// Presence must stay a subset of the durable roster: joining a room makes
	// the identity a durable member if it was not one already.
	if err := s.roster.Add(ctx, roomID, user); err != nil {
		s.logger.Warnw("roster add failed, snapshot will carry presence only",
			"room_id", roomID, "identity", user, "error", err)
	}

	snapshot, err := s.snapshotLocked(ctx, roomID)
	if err != nil {
		return err
	}

	s.sender.SendToUsers(s.presentLocked(roomID), domain.Event{
		Type:    domain.EventMembersUpdate,
		RoomID:  roomID,
		Payload: snapshot,
	})
	return nil
}

// Leave removes the identity from the presence set. An emptied room's record
// is discarded entirely; remaining members get an offline event.
func (s *presenceService) Leave(ctx context.Context, roomID domain.RoomID, user domain.UserID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leaveLocked(roomID, user)
}

func (s *presenceService) leaveLocked(roomID domain.RoomID, user domain.UserID) {
	set, ok := s.rooms[roomID]
	if !ok {
		return
	}
	if _, present := set[user]; !present {
		return
	}

	delete(set, user)
	if len(set) == 0 {
		delete(s.rooms, roomID)
	}

	s.sender.SendToUsers(s.presentLocked(roomID), domain.Event{
		Type:    domain.EventUserOffline,
		RoomID:  roomID,
		Payload: map[string]interface{}{"identity": user},
	})
}

// DisconnectAll removes the identity from every room whose presence set holds
// it, emitting one offline event per affected room. Safe to call for an
// identity that never joined anything.
func (s *presenceService) DisconnectAll(ctx context.Context, user domain.UserID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var affected []domain.RoomID
	for roomID, set := range s.rooms {
		if _, present := set[user]; present {
			affected = append(affected, roomID)
		}
	}
	for _, roomID := range affected {
		s.leaveLocked(roomID, user)
	}
}

// Present returns the identities currently online in a room.
func (s *presenceService) Present(roomID domain.RoomID) []domain.UserID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.presentLocked(roomID)
}

func (s *presenceService) presentLocked(roomID domain.RoomID) []domain.UserID {
	set := s.rooms[roomID]
	users := make([]domain.UserID, 0, len(set))
	for user := range set {
		users = append(users, user)
	}
	return users
}

// Snapshot merges the durable roster with live presence at the moment of the
// call. A durable member who is offline appears with Online=false.
func (s *presenceService) Snapshot(ctx context.Context, roomID domain.RoomID) ([]domain.MemberStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(ctx, roomID)
}

func (s *presenceService) snapshotLocked(ctx context.Context, roomID domain.RoomID) ([]domain.MemberStatus, error) {
	members, err := s.roster.Members(ctx, roomID)
	if err != nil {
		// Degrade to presence-only rather than failing the join.
		members = nil
	}

	seen := make(map[domain.UserID]struct{}, len(members))
	set := s.rooms[roomID]

	snapshot := make([]domain.MemberStatus, 0, len(members))
	for _, member := range members {
		seen[member] = struct{}{}
		_, online := set[member]
		snapshot = append(snapshot, domain.MemberStatus{Identity: member, Online: online})
	}

	// Presence entries missing from the roster (roster fetch failed or lagged)
	// still appear in the snapshot as online.
	for user := range set {
		if _, ok := seen[user]; !ok {
			snapshot = append(snapshot, domain.MemberStatus{Identity: user, Online: true})
		}
	}

	sort.Slice(snapshot, func(i, j int) bool {
		return snapshot[i].Identity < snapshot[j].Identity
	})
	return snapshot, nil
}
