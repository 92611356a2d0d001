package storage

import (
	"talka-backend/internal/model"
)

// Store 键值持久化契约，三个集合：chats、archivedChats、settings。
// Put 为按主键幂等覆盖写，所有操作可能失败并必须向上传播。
type Store interface {
	// chats 集合
	ListChats() ([]*model.Chat, error)
	PutChat(chat *model.Chat) error
	DeleteChat(id string) error

	// archivedChats 集合
	ListArchivedChats() ([]*model.Chat, error)
	PutArchivedChat(chat *model.Chat) error
	DeleteArchivedChat(id string) error

	// settings 集合
	ListSettings() ([]*model.Setting, error)
	PutSetting(setting *model.Setting) error
	DeleteSetting(key string) error

	// 存储管理
	Init() error
	Close() error
}
