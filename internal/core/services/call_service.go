package services

import (
	"sync"

	"parley/internal/core/domain"
	"parley/internal/core/ports"

	"go.uber.org/zap"
)

// callService owns the per-room call participant sets, a channel distinct
// from chat presence. Signaling messages are routed point-to-point to the
// addressed participant, never broadcast to the whole call.
type callService struct {
	mu    sync.Mutex
	calls map[domain.RoomID]map[domain.UserID]domain.CallParticipant

	sender ports.Sender
	logger *zap.SugaredLogger
}

func NewCallService(sender ports.Sender, logger *zap.SugaredLogger) ports.CallService {
	return &callService{
		calls:  make(map[domain.RoomID]map[domain.UserID]domain.CallParticipant),
		sender: sender,
		logger: logger,
	}
}

// JoinCall adds the identity to the room's call and notifies every other
// current participant. Existing participants initiate offers toward the
// newcomer; the new joiner is always the callee, so no two peers ever offer
// to each other simultaneously.
func (s *callService) JoinCall(roomID domain.RoomID, user domain.UserID, audioOnly bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.calls[roomID]
	if !ok {
		set = make(map[domain.UserID]domain.CallParticipant)
		s.calls[roomID] = set
	}
	set[user] = domain.CallParticipant{Identity: user, AudioOnly: audioOnly}

	for other := range set {
		if other == user {
			continue
		}
		s.sender.SendToUser(other, domain.Event{
			Type:   domain.EventUserJoinedCall,
			RoomID: roomID,
			Payload: domain.CallParticipant{
				Identity:  user,
				AudioOnly: audioOnly,
			},
		})
	}
}

// LeaveCall removes the identity and notifies the remaining participants so
// they tear down their corresponding peer link. The set is destroyed when the
// last participant leaves.
func (s *callService) LeaveCall(roomID domain.RoomID, user domain.UserID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leaveLocked(roomID, user)
}

func (s *callService) leaveLocked(roomID domain.RoomID, user domain.UserID) {
	set, ok := s.calls[roomID]
	if !ok {
		return
	}
	if _, in := set[user]; !in {
		return
	}

	delete(set, user)
	if len(set) == 0 {
		delete(s.calls, roomID)
		return
	}

	for other := range set {
		s.sender.SendToUser(other, domain.Event{
			Type:    domain.EventUserLeftCall,
			RoomID:  roomID,
			Payload: map[string]interface{}{"identity": user},
		})
	}
}

// LeaveAll removes the identity from every call it participates in and
// returns the affected rooms. Called on transport teardown.
func (s *callService) LeaveAll(user domain.UserID) []domain.RoomID {
	s.mu.Lock()
	defer s.mu.Unlock()

	var affected []domain.RoomID
	for roomID, set := range s.calls {
		if _, in := set[user]; in {
			affected = append(affected, roomID)
		}
	}
	for _, roomID := range affected {
		s.leaveLocked(roomID, user)
	}
	return affected
}

// Participants returns the current call participants of a room.
func (s *callService) Participants(roomID domain.RoomID) []domain.CallParticipant {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.calls[roomID]
	participants := make([]domain.CallParticipant, 0, len(set))
	for _, p := range set {
		participants = append(participants, p)
	}
	return participants
}

// Relay forwards one signaling message to the addressed participant only.
// Both endpoints must be current participants of the room's call; anything
// else is an error reported to the sender, never to the room.
func (s *callService) Relay(roomID domain.RoomID, eventType string, from, to domain.UserID, payload interface{}) error {
	s.mu.Lock()
	set := s.calls[roomID]
	_, fromIn := set[from]
	_, toIn := set[to]
	s.mu.Unlock()

	if !fromIn {
		return domain.ErrNotInCall
	}
	if !toIn {
		return domain.ErrTargetNotInCall
	}

	s.sender.SendToUser(to, domain.Event{
		Type:    eventType,
		RoomID:  roomID,
		From:    from,
		To:      to,
		Payload: payload,
	})
	return nil
}
