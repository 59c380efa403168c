package domain

import "errors"

var (
	ErrRoomNotFound       = errors.New("room not found")
	ErrRoomExists         = errors.New("room already exists")
	ErrEmptyRoomID        = errors.New("empty room id")
	ErrInvalidRole        = errors.New("invalid message role")
	ErrEmptyMessageID     = errors.New("empty message id")
	ErrDuplicateMessageID = errors.New("duplicate message id")
	ErrMalformedSnapshot  = errors.New("malformed room snapshot")
)
