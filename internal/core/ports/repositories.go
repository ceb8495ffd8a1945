package ports

import (
	"context"

	"parley/internal/core/domain"
)

// RoomRepository is the room CRUD face of the storage collaborator.
type RoomRepository interface {
	Create(ctx context.Context, room *domain.Room) error
	GetByID(ctx context.Context, id domain.RoomID) (*domain.Room, error)
	List(ctx context.Context) ([]*domain.Room, error)
}

// MessageRepository owns the durable message records. Create assigns the ID
// and timestamps and returns the stored record; Edit and SoftDelete are
// author-checked and return the post-mutation record.
type MessageRepository interface {
	Create(ctx context.Context, msg *domain.ChatMessage) (*domain.ChatMessage, error)
	GetByID(ctx context.Context, id domain.MessageID) (*domain.ChatMessage, error)
	ListByRoom(ctx context.Context, roomID domain.RoomID, limit int) ([]*domain.ChatMessage, error)
	Edit(ctx context.Context, id domain.MessageID, author domain.UserID, content string) (*domain.ChatMessage, error)
	SoftDelete(ctx context.Context, id domain.MessageID, author domain.UserID) (*domain.ChatMessage, error)
}

// RosterRepository owns the durable room membership relation, independent of
// who is currently online.
type RosterRepository interface {
	Add(ctx context.Context, roomID domain.RoomID, user domain.UserID) error
	Remove(ctx context.Context, roomID domain.RoomID, user domain.UserID) error
	Members(ctx context.Context, roomID domain.RoomID) ([]domain.UserID, error)
}
