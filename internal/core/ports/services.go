package ports

import (
	"context"

	"parley/internal/core/domain"
)

// Sender delivers events to every live connection bound to an identity. The
// transport layer implements it; services stay transport-agnostic.
type Sender interface {
	SendToUser(user domain.UserID, evt domain.Event)
	SendToUsers(users []domain.UserID, evt domain.Event)
}

// PresenceService tracks which identities are online per room and broadcasts
// membership snapshots. Broadcasts to one room preserve mutation order.
type PresenceService interface {
	Join(ctx context.Context, roomID domain.RoomID, user domain.UserID) error
	Leave(ctx context.Context, roomID domain.RoomID, user domain.UserID)
	DisconnectAll(ctx context.Context, user domain.UserID)
	Present(roomID domain.RoomID) []domain.UserID
	Snapshot(ctx context.Context, roomID domain.RoomID) ([]domain.MemberStatus, error)
}

// MessageService is the persist-then-broadcast relay. On persistence failure
// nothing is broadcast and the error surfaces to the caller only.
type MessageService interface {
	Submit(ctx context.Context, roomID domain.RoomID, author domain.UserID, content string, kind domain.MessageKind, imageURL string) (*domain.ChatMessage, error)
	Edit(ctx context.Context, roomID domain.RoomID, id domain.MessageID, author domain.UserID, content string) (*domain.ChatMessage, error)
	Delete(ctx context.Context, roomID domain.RoomID, id domain.MessageID, author domain.UserID) (*domain.ChatMessage, error)
}

// CallService scopes signaling to a per-room call channel, a participant set
// distinct from chat presence.
type CallService interface {
	JoinCall(roomID domain.RoomID, user domain.UserID, audioOnly bool)
	LeaveCall(roomID domain.RoomID, user domain.UserID)
	LeaveAll(user domain.UserID) []domain.RoomID
	Participants(roomID domain.RoomID) []domain.CallParticipant
	Relay(roomID domain.RoomID, eventType string, from, to domain.UserID, payload interface{}) error
}

// Authenticator is the authentication collaborator: it turns an opaque token
// into a verified identity, or reports unauthenticated.
type Authenticator interface {
	IssueToken(user domain.UserID, username string) (string, error)
	Verify(token string) (domain.UserID, error)
}
