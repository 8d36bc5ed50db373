package service

import "errors"

var (
	ErrInvalidMembership = errors.New("invalid membership")
	ErrChannelNotFound   = errors.New("channel not found")
	ErrMessageNotFound   = errors.New("message not found")
	ErrUserNotFound      = errors.New("user not found")
	ErrUnauthenticated   = errors.New("unauthenticated caller")
	ErrInvalidPayload    = errors.New("invalid payload")
	ErrInvalidReaction   = errors.New("invalid reaction")
	ErrInvalidCursor     = errors.New("invalid cursor")
	ErrNotMember         = errors.New("not a channel member")
	ErrNotAdmin          = errors.New("channel admin required")
)
