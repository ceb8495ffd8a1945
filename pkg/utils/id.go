package utils

import (
	"github.com/google/uuid"
)

// NewMessageID generates a unique message ID
func NewMessageID() string {
	return uuid.New().String()
}

// NewRoomID generates a unique room ID
func NewRoomID() string {
	return uuid.New().String()
}

// NewConnID generates a unique connection ID
func NewConnID() string {
	return "conn_" + uuid.New().String()
}
