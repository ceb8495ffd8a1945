package domain

import "errors"

var (
	ErrRoomNotFound      = errors.New("room not found")
	ErrMessageNotFound   = errors.New("message not found")
	ErrNotAuthor         = errors.New("not the message author")
	ErrNotIdentified     = errors.New("connection not identified")
	ErrAlreadyIdentified = errors.New("connection already identified")
	ErrNotInCall         = errors.New("identity not in call")
	ErrTargetNotInCall   = errors.New("target identity not in call")
	ErrMessageDeleted    = errors.New("message deleted")
)
