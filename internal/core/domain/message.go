package domain

import "time"

type MessageKind string

const (
	KindText  MessageKind = "text"
	KindImage MessageKind = "image"
)

// ChatMessage is the durable record owned by the message store. The relay
// never mutates one directly; it persists through the store and fans out the
// record the store returns.
type ChatMessage struct {
	ID        MessageID   `json:"id"`
	RoomID    RoomID      `json:"room_id"`
	Author    UserID      `json:"author"`
	Content   string      `json:"content"`
	Kind      MessageKind `json:"kind"`
	ImageURL  string      `json:"image_url,omitempty"`
	IsEdited  bool        `json:"is_edited"`
	IsDeleted bool        `json:"is_deleted"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// EditRecord is one entry of a message's edit history, appended by the store
// on every successful edit.
type EditRecord struct {
	MessageID MessageID `json:"message_id"`
	Content   string    `json:"content"`
	EditedAt  time.Time `json:"edited_at"`
}
