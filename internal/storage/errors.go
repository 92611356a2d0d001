package storage

import "errors"

var (
	ErrChatNotFound    = errors.New("chat not found")
	ErrSettingNotFound = errors.New("setting not found")
	ErrInvalidData     = errors.New("invalid data")
	ErrStorageInit     = errors.New("storage initialization failed")
	ErrFileOperation   = errors.New("file operation failed")
)
