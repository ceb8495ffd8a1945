package domain

import "time"

type (
	ConnID    string
	UserID    string
	RoomID    string
	MessageID string
)

type Room struct {
	ID        RoomID    `json:"id"`
	Name      string    `json:"name"`
	Owner     UserID    `json:"owner"`
	CreatedAt time.Time `json:"created_at"`
}

// MemberStatus is one entry of a room membership snapshot: a durable roster
// member plus whether it is currently online in that room.
type MemberStatus struct {
	Identity UserID `json:"identity"`
	Online   bool   `json:"online"`
}
