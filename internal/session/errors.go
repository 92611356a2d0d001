package session

import "errors"

var (
	ErrUnknownProvider = errors.New("unknown provider")
	ErrNoCredential    = errors.New("provider has no credential")
	ErrBadOrder        = errors.New("order is not a permutation of active chats")
	ErrMessageIndex    = errors.New("message index out of range")
	ErrStreamInFlight  = errors.New("chat already has an active stream")
	ErrChatArchived    = errors.New("chat is archived")
)
